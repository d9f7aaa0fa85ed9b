package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/registry"
)

// topicSource hands out publishers per topic. pkg/pubsub.Client satisfies it
// through pubsubTopics.
type topicSource interface {
	Ping(ctx context.Context) error
	Publisher(topic string) publisher
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.topics.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, ledgerMessage(event, resolved))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for %s returned no result", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// ledgerMessage carries the stored envelope verbatim. Attributes let
// subscribers filter without decoding the body; ordering is per payment.
func ledgerMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: string(event.AggregateType) + ":" + event.AggregateID,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

type pubsubClient interface {
	Ping(ctx context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// pubsubTopics adapts the GCP client to topicSource.
type pubsubTopics struct {
	client pubsubClient
}

func (t pubsubTopics) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

func (t pubsubTopics) Publisher(topic string) publisher {
	p := t.client.Publisher(topic)
	if p == nil {
		return nil
	}
	return gcpPublisher{p}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	res := g.p.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return gcpResult{res}
}

type gcpResult struct {
	r *gcppubsub.PublishResult
}

func (g gcpResult) Get(ctx context.Context) (string, error) {
	if g.r == nil {
		return "", errors.New("publish result is nil")
	}
	return g.r.Get(ctx)
}
