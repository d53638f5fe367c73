package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/events"
)

// KafkaSource consumes envelopes from one topic within a consumer
// group. Partition order is what the broker delivers; per-account
// ordering is expected to come from account-keyed messages.
type KafkaSource struct {
	reader *kafka.Reader
	bus    *events.Bus
	logger *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewKafkaSource builds a reader for the given brokers, topic and
// consumer group.
func NewKafkaSource(brokers []string, topic, groupID string, bus *events.Bus, logger *zap.Logger) *KafkaSource {
	log := logger.With(zap.String("component", "ingest-kafka"), zap.String("topic", topic))
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 1 << 20,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error(fmt.Sprintf(msg, args...))
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaSource{
		reader: reader,
		bus:    bus,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
}

// Start launches the consume loop.
func (s *KafkaSource) Start() {
	go s.run()
}

// Stop cancels the consume loop, closes the reader and waits.
func (s *KafkaSource) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if err := s.reader.Close(); err != nil {
			s.logger.Warn("Kafka reader close failed", zap.Error(err))
		}
	})
	<-s.doneCh
}

func (s *KafkaSource) run() {
	defer close(s.doneCh)
	for {
		msg, err := s.reader.ReadMessage(s.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			s.logger.Error("Kafka read failed", zap.Error(err))
			continue
		}
		publish(s.bus, s.logger, "kafka", msg.Value)
	}
}
