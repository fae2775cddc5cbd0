package enums

import (
	"fmt"
	"strings"
)

// PlanType identifies the catalog tier a plan belongs to.
type PlanType string

const (
	PlanTypeStarter    PlanType = "STARTER"
	PlanTypePro        PlanType = "PRO"
	PlanTypeEnterprise PlanType = "ENTERPRISE"
)

var validPlanTypes = []PlanType{
	PlanTypeStarter,
	PlanTypePro,
	PlanTypeEnterprise,
}

// String implements fmt.Stringer.
func (p PlanType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PlanType) IsValid() bool {
	for _, candidate := range validPlanTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanType converts raw input into a PlanType. Matching is case-insensitive.
func ParsePlanType(value string) (PlanType, error) {
	normalized := PlanType(strings.ToUpper(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}
