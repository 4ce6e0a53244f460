// Copyright 2020 The Moov Authors
// Use of this source code is governed by an Apache License
// license that can be found in the LICENSE file.

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moov-io/moneymovement/pkg/config"

	"github.com/Shopify/sarama"
	"github.com/go-kit/kit/log"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/kafkapubsub"
	_ "gocloud.dev/pubsub/mempubsub"
)

const fundsTransferred = "FundsTransferred"

// OpenTopic returns the pubsub.Topic described by cfg. In-memory topics are opened
// by URL (mem://...) while Kafka topics use a sarama.SyncProducer.
func OpenTopic(ctx context.Context, cfg *config.Stream) (*pubsub.Topic, error) {
	if cfg == nil {
		return nil, errors.New("notify: nil stream config")
	}
	if cfg.Kafka != nil {
		return KafkaTopic(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	if cfg.InMem != nil {
		return pubsub.OpenTopic(ctx, cfg.InMem.URL)
	}
	return nil, errors.New("notify: missing inmem or kafka stream")
}

// KafkaTopic creates a pubsub.Topic that sends to a Kafka topic. Message metadata is
// sent as Kafka headers which requires brokers on 0.11 or later.
func KafkaTopic(brokers []string, topicName string) (*pubsub.Topic, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V0_11_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	return kafkapubsub.OpenTopic(brokers, cfg, topicName, nil)
}

// Stream publishes each Summary as a JSON message onto a pubsub.Topic.
type Stream struct {
	logger log.Logger
	topic  *pubsub.Topic
}

func NewStream(logger log.Logger, topic *pubsub.Topic) *Stream {
	return &Stream{logger: logger, topic: topic}
}

func (s *Stream) FundsTransferred(ctx context.Context, summary Summary) error {
	msg, err := buildMessage(summary)
	if err != nil {
		return err
	}
	if err := s.topic.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: sending %s: %v", summary.TransactionID, err)
	}
	s.logger.Log("notify", "published FundsTransferred", "transactionID", summary.TransactionID)
	return nil
}

func (s *Stream) Shutdown(ctx context.Context) error {
	if s == nil || s.topic == nil {
		return nil
	}
	return s.topic.Shutdown(ctx)
}

func buildMessage(summary Summary) (*pubsub.Message, error) {
	bs, err := json.Marshal(summary)
	if err != nil {
		return nil, err
	}
	return &pubsub.Message{
		Body: bs,
		Metadata: map[string]string{
			"eventID":   summary.TransactionID.String(),
			"eventType": fundsTransferred,
		},
	}, nil
}
