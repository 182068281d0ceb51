package log

import (
	"context"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaAppenderOpt configures a log sink that ships lines to a Kafka topic,
// used by deployments that centralize daemon logs in a Kafka broker.
type KafkaAppenderOpt struct {
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	Partition int      `mapstructure:"partition"`
}

type kafkaWriter struct {
	w *kafka.Writer
}

func (k *kafkaWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	err := k.w.WriteMessages(context.Background(), kafka.Message{Value: line})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// AddKafkaAppender adds a Kafka-backed log sink to the writer set.
func (m *MultiWriter) AddKafkaAppender(options KafkaAppenderOpt) *MultiWriter {
	w := &kafka.Writer{
		Addr:     kafka.TCP(options.Brokers...),
		Topic:    options.Topic,
		Balancer: &kafka.LeastBytes{},
		Async:    true,
	}
	m.writers = append(m.writers, &kafkaWriter{w: w})
	return m
}
