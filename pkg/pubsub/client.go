// Package pubsub publishes ledger events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/gcpauth"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

var errNotInitialized = errors.New("pubsub client not initialized")

// Client hands out one long-lived publisher per topic. Publishers batch in
// the background, so they are cached and flushed on Close.
type Client struct {
	client  *pubsub.Client
	project string
	topics  []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and checks that every configured topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project, opts, err := gcpauth.Resolve(gcp)
	if err != nil {
		return nil, err
	}
	topics := topicNames(cfg)
	if len(topics) == 0 {
		return nil, errors.New("pubsub ledger topic is required")
	}

	ps, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c := &Client{
		client:     ps,
		project:    project,
		topics:     topics,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", topics), "pubsub connected")
	}
	return c, nil
}

func topicNames(cfg config.PubSubConfig) []string {
	var names []string
	if t := strings.TrimSpace(cfg.LedgerTopic); t != "" {
		names = append(names, t)
	}
	return names
}

// Ping confirms the configured topics are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, topic := range c.topics {
		name := topicResourceName(c.project, topic)
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		switch {
		case status.Code(err) == codes.NotFound:
			return fmt.Errorf("topic %s does not exist", name)
		case err != nil:
			return fmt.Errorf("get topic %s: %w", name, err)
		}
	}
	return nil
}

// Publisher returns the cached publisher for topic, creating it with message
// ordering enabled. It returns nil for a nil client or a blank topic.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := topicResourceName(c.project, topic)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[name]; ok {
		return p
	}
	p := c.client.Publisher(name)
	p.EnableMessageOrdering = true
	c.publishers[name] = p
	return p
}

// Close flushes pending messages and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// topicResourceName expands a short topic id to projects/<p>/topics/<id>.
// Full resource names pass through.
func topicResourceName(project, topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case strings.TrimSpace(project) == "":
		return ""
	}
	return "projects/" + strings.TrimSpace(project) + "/topics/" + topic
}
