// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

// Package ingest bridges the inbound event feed into the detection manager.
// Producers (a security-signal source, a log shipper, a scheduled poll)
// publish observed events onto an in-process Watermill topic; the consumer
// decodes each message into a detection context and hands it to
// Manager.Process.
package ingest

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/praetor-io/praetor/internal/detection"
	"github.com/praetor-io/praetor/internal/logging"
)

// NewPubSub creates the in-process pub/sub both producers and the consumer
// attach to.
func NewPubSub(bufferSize int) *gochannel.GoChannel {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(bufferSize)},
		watermill.NopLogger{},
	)
}

// Publish encodes a detection context onto the topic.
func Publish(publisher message.Publisher, topic string, dc *detection.Context) error {
	payload, err := json.Marshal(dc)
	if err != nil {
		return err
	}
	return publisher.Publish(topic, message.NewMessage(watermill.NewUUID(), payload))
}

// Consumer subscribes to the observed-events topic and feeds the manager.
type Consumer struct {
	subscriber message.Subscriber
	manager    *detection.Manager
	topic      string
}

// NewConsumer creates a consumer over the given subscriber.
func NewConsumer(subscriber message.Subscriber, manager *detection.Manager, topic string) *Consumer {
	return &Consumer{
		subscriber: subscriber,
		manager:    manager,
		topic:      topic,
	}
}

// Serve consumes events until the context is canceled. The method signature
// matches suture v4's Service interface so the consumer can run supervised.
//
// Malformed messages are acked and dropped after logging; a poison message
// must not wedge the feed. Processing failures are already isolated inside
// the manager, so every message is acked exactly once.
func (c *Consumer) Serve(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return err
	}

	logging.Info().Str("topic", c.topic).Msg("ingest consumer started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Str("topic", c.topic).Msg("ingest consumer stopping")
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var dc detection.Context
	if err := json.Unmarshal(msg.Payload, &dc); err != nil {
		logging.Warn().Err(err).Str("message", msg.UUID).Msg("dropping malformed event")
		return
	}

	if _, err := c.manager.Process(ctx, &dc); err != nil {
		logging.Error().Err(err).Str("subject", dc.SubjectID).Msg("event processing failed")
	}
}
