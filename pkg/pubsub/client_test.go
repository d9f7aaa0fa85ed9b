package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/gcpauth"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		project, topic, want string
	}{
		{"gridpay-prod", "gridpay-ledger-events", "projects/gridpay-prod/topics/gridpay-ledger-events"},
		{"gridpay-prod", " projects/other/topics/ledger ", "projects/other/topics/ledger"},
		{"", "gridpay-ledger-events", ""},
		{"gridpay-prod", "  ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, topicResourceName(tc.project, tc.topic), "%s/%s", tc.project, tc.topic)
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	assert.Empty(t, topicNames(config.PubSubConfig{LedgerTopic: " "}))
	assert.Equal(t, []string{"ledger"}, topicNames(config.PubSubConfig{LedgerTopic: "ledger"}))
}

func TestNewClientValidatesConfigBeforeDialing(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{LedgerTopic: "ledger"}, nil)
	assert.ErrorIs(t, err, gcpauth.ErrProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, nil)
	assert.Error(t, err)
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("ledger"))
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}
