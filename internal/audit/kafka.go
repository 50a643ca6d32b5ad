package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes notifications as JSON records keyed by origin key,
// so all events for one origin land on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier creates a notifier writing to topic on the comma-separated
// broker list.
func NewKafkaNotifier(brokers, topic string) (*KafkaNotifier, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("kafka audit topic is empty")
	}
	var brokerList []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokerList = append(brokerList, b)
		}
	}
	if len(brokerList) == 0 {
		return nil, fmt.Errorf("kafka audit brokers are empty")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaNotifier{writer: w, topic: topic}, nil
}

func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.OriginKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "side", Value: []byte(n.Side)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka audit %s: %w", k.topic, err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error { return k.writer.Close() }
