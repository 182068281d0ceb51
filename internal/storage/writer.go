package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/metrics"
)

// StorageWriter is the reliable arm's drain target: whatever format the
// active session is configured to persist to. Shutdown must be
// idempotent since both graceful shutdown and an error path may call it.
type StorageWriter interface {
	Init(settings map[string]any) error
	SetMetadata(meta map[string]any) error
	Write(m *measurement.Measurement) error
	Shutdown(ctx context.Context) error
}

// ConsoleWriter writes a one-line human-readable summary per measurement;
// used for debugging and for instruments with no configured storage.
type ConsoleWriter struct {
	name string
	mu   sync.Mutex
}

func NewConsoleWriter(name string) *ConsoleWriter { return &ConsoleWriter{name: name} }

func (w *ConsoleWriter) Init(settings map[string]any) error { return nil }

func (w *ConsoleWriter) SetMetadata(meta map[string]any) error {
	log.GetLogger().WithField("writer", w.name).Infof("session metadata: %v", meta)
	return nil
}

func (w *ConsoleWriter) Write(m *measurement.Measurement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Printf("[%s] %s %s=%v %s\n", m.Timestamp.Format(time.RFC3339Nano), w.name, m.Channel, m.Value, m.Unit)
	return nil
}

func (w *ConsoleWriter) Shutdown(ctx context.Context) error { return nil }

// CSVWriter appends scalar measurements as rows to a CSV file.
// Vector, image and spectrum measurements are skipped (recorded as a warning)
// since they don't fit a flat row shape; a dedicated binary format is out
// of scope here and better served by a database-backed writer later.
type CSVWriter struct {
	name string
	path string

	mu  sync.Mutex
	f   *os.File
	w   *csv.Writer
	one sync.Once
}

func NewCSVWriter(name, path string) *CSVWriter { return &CSVWriter{name: name, path: path} }

func (w *CSVWriter) Init(settings map[string]any) error {
	if p, ok := settings["path"].(string); ok && p != "" {
		w.path = p
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.w = csv.NewWriter(f)
	return w.w.Write([]string{"timestamp", "channel", "kind", "value", "unit"})
}

func (w *CSVWriter) SetMetadata(meta map[string]any) error { return nil }

func (w *CSVWriter) Write(m *measurement.Measurement) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return fmt.Errorf("storage: csv writer %q not initialized", w.name)
	}
	switch m.Kind {
	case measurement.KindScalar:
		row := []string{m.Timestamp.Format(time.RFC3339Nano), m.Channel, m.Kind.String(), strconv.FormatFloat(m.Value, 'g', -1, 64), m.Unit}
		if err := w.w.Write(row); err != nil {
			metrics.StorageWriteErrorsTotal.WithLabelValues(w.name).Inc()
			return err
		}
	default:
		log.GetLogger().WithField("writer", w.name).Warnf("csv writer skipping non-scalar measurement kind %s", m.Kind)
		return nil
	}
	w.w.Flush()
	return w.w.Error()
}

func (w *CSVWriter) Shutdown(ctx context.Context) error {
	var err error
	w.one.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.w != nil {
			w.w.Flush()
		}
		if w.f != nil {
			err = w.f.Close()
		}
	})
	return err
}

// KafkaWriter publishes each measurement as a gob-encoded message to a
// topic, for downstream consumers outside this process.
type KafkaWriter struct {
	name   string
	writer *kafka.Writer
	one    sync.Once
}

func NewKafkaWriter(name string, brokers []string, topic string) *KafkaWriter {
	return &KafkaWriter{
		name: name,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (w *KafkaWriter) Init(settings map[string]any) error { return nil }

func (w *KafkaWriter) SetMetadata(meta map[string]any) error { return nil }

func (w *KafkaWriter) Write(m *measurement.Measurement) error {
	payload, err := measurement.Encode(m)
	if err != nil {
		return err
	}
	start := time.Now()
	err = w.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(m.Channel),
		Value: payload,
		Time:  m.Timestamp,
	})
	metrics.StorageWriteLatencySeconds.WithLabelValues(w.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageWriteErrorsTotal.WithLabelValues(w.name).Inc()
	}
	return err
}

func (w *KafkaWriter) Shutdown(ctx context.Context) error {
	var err error
	w.one.Do(func() { err = w.writer.Close() })
	return err
}
