package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aspyhq/aspy-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, name, want string
	}{
		{"aspy-prod", "billing", "projects/aspy-prod/topics/billing"},
		{"aspy-prod", " billing ", "projects/aspy-prod/topics/billing"},
		{"aspy-prod", "projects/other/topics/billing", "projects/other/topics/billing"},
		{"", "billing", ""},
		{"aspy-prod", "", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, TopicResourceName(tc.project, tc.name), "project=%q name=%q", tc.project, tc.name)
	}
}

func TestNewClientRequiresProjectAndTopic(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{BillingTopic: "billing"}, nil)
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "aspy"}, config.PubSubConfig{}, nil)
	require.ErrorIs(t, err, errNoTopic)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	require.Nil(t, c.Publisher("billing"))
	require.Error(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())
}
