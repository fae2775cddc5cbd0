package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aspyhq/aspy-backend/internal/billing"
	pkgerrors "github.com/aspyhq/aspy-backend/pkg/errors"
	"github.com/aspyhq/aspy-backend/pkg/gateway"
)

type HistoryEntry struct {
	ID        uuid.UUID
	Amount    decimal.Decimal
	Currency  string
	Status    string
	Provider  string
	PlanName  *string
	Method    string
	CreatedAt time.Time
}

// MethodOption describes what a provider accepts at checkout.
type MethodOption struct {
	Provider       string   `json:"provider"`
	Currencies     []string `json:"currencies"`
	SupportedCards []string `json:"supported_cards"`
	Netbanking     bool     `json:"netbanking"`
	UPI            bool     `json:"upi"`
	Wallet         bool     `json:"wallet"`
}

type HistoryService struct {
	repo   billing.Repository
	native string
}

func NewHistoryService(repo billing.Repository, nativeCurrency string) (*HistoryService, error) {
	if repo == nil {
		return nil, errors.New("billing repo required")
	}
	return &HistoryService{repo: repo, native: gateway.NormalizeCurrency(nativeCurrency)}, nil
}

// List returns the user's payments, newest first.
func (s *HistoryService) List(ctx context.Context, userID uuid.UUID) ([]HistoryEntry, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	rows, err := s.repo.ListPaymentHistory(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, HistoryEntry{
			ID:        row.ID,
			Amount:    row.Amount,
			Currency:  row.Currency,
			Status:    string(row.Status),
			Provider:  row.Provider,
			PlanName:  row.PlanName,
			Method:    row.MethodDetails.Method(),
			CreatedAt: row.CreatedAt,
		})
	}
	return entries, nil
}

// Methods lists the checkout options offered by the configured provider.
func (s *HistoryService) Methods() []MethodOption {
	currency := s.native
	if currency == "" {
		currency = "INR"
	}
	return []MethodOption{{
		Provider:       gateway.ProviderName,
		Currencies:     []string{currency},
		SupportedCards: []string{"visa", "mastercard", "rupay", "amex"},
		Netbanking:     true,
		UPI:            true,
		Wallet:         true,
	}}
}
