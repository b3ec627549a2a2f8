// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type kafkaConfig struct {
	brokers           []string
	partitions        int32
	replicationFactor int16
	attempts          uint
	kafkaOptions      []kgo.Opt
	logger            logr.Logger
}

// KafkaOpt configures a KafkaPublisher.
type KafkaOpt func(*kafkaConfig)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) KafkaOpt {
	return func(c *kafkaConfig) { c.brokers = brokers }
}

// WithTopicLayout sets the partition count and replication factor used when
// the topic has to be created. A replication factor of -1 uses the broker
// default.
func WithTopicLayout(partitions int32, replicationFactor int16) KafkaOpt {
	return func(c *kafkaConfig) {
		c.partitions = partitions
		c.replicationFactor = replicationFactor
	}
}

// WithAttempts sets how often a record is produced before giving up.
//
// Default: 3
func WithAttempts(n uint) KafkaOpt {
	return func(c *kafkaConfig) { c.attempts = n }
}

// WithKafkaOptions passes additional options to the franz-go client.
func WithKafkaOptions(opts ...kgo.Opt) KafkaOpt {
	return func(c *kafkaConfig) { c.kafkaOptions = append(c.kafkaOptions, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) KafkaOpt {
	return func(c *kafkaConfig) { c.logger = l }
}

// KafkaPublisher produces JSON records keyed by user id.
type KafkaPublisher struct {
	topic    string
	attempts uint
	logger   logr.Logger
	client   *kgo.Client
	produce  func(ctx context.Context, rec *kgo.Record) error
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher connects to the brokers and creates topic if it does
// not exist yet.
func NewKafkaPublisher(ctx context.Context, topic string, opts ...KafkaOpt) (*KafkaPublisher, error) {
	cfg := &kafkaConfig{partitions: 1, replicationFactor: -1, attempts: 3, logger: logr.Discard()}
	for _, opt := range opts {
		opt(cfg)
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if len(cfg.brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	kafkaOpts := []kgo.Opt{
		kgo.SeedBrokers(cfg.brokers...),
		kgo.ClientID("wasm-functions"),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(5 * time.Millisecond),
	}
	kafkaOpts = append(kafkaOpts, cfg.kafkaOptions...)

	client, err := kgo.NewClient(kafkaOpts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := ensureTopicExists(ctx, client, topic, cfg.partitions, cfg.replicationFactor); err != nil {
		client.Close()
		return nil, err
	}

	p := newPublisher(topic, cfg, func(ctx context.Context, rec *kgo.Record) error {
		return client.ProduceSync(ctx, rec).FirstErr()
	})
	p.client = client
	return p, nil
}

func newPublisher(topic string, cfg *kafkaConfig, produce func(context.Context, *kgo.Record) error) *KafkaPublisher {
	return &KafkaPublisher{
		topic:    topic,
		attempts: max(cfg.attempts, 1),
		logger:   cfg.logger.WithName("usage"),
		produce:  produce,
	}
}

// Publish produces r, retrying with backoff.
func (p *KafkaPublisher) Publish(ctx context.Context, r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("serialize usage record: %w", err)
	}
	rec := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(strconv.FormatInt(r.UserID, 10)),
		Value:     value,
		Timestamp: r.Timestamp,
	}
	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(100*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			p.logger.V(1).Info("usage record produce failed, retrying",
				"topic", p.topic,
				"user_id", r.UserID,
				"attempt", n+1,
				"error", err.Error(),
			)
		}),
	).Do(func() error {
		return p.produce(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("produce usage record: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() {
	if p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Error(err, "failed to flush usage records")
	}
	p.client.Close()
}

func ensureTopicExists(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	admin := kadm.NewClient(client)

	resp, err := admin.CreateTopics(ctx, partitions, replicationFactor, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, topicResp := range resp {
		if topicResp.Err != nil && !errors.Is(topicResp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topicResp.Topic, topicResp.Err)
		}
	}
	client.ForceMetadataRefresh()
	return nil
}
