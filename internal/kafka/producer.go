package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types carried in the value envelope.
const (
	TypeCustomerScored  = "customer.scored"
	TypeImportCompleted = "import.completed"
)

// ScoreEvent is published whenever a customer is created or re-scored.
type ScoreEvent struct {
	Type              string    `json:"type"`
	TenantID          string    `json:"tenant_id"`
	CustomerID        string    `json:"customer_id"`
	Name              string    `json:"name"`
	ChurnScore        float64   `json:"churn_score"`
	RiskLevel         string    `json:"risk_level"`
	RiskFactors       []string  `json:"risk_factors"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	Source            string    `json:"source"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// ImportEvent is published once per processed upload.
type ImportEvent struct {
	Type       string    `json:"type"`
	TenantID   string    `json:"tenant_id"`
	UploadID   string    `json:"upload_id"`
	FileName   string    `json:"file_name"`
	Total      int       `json:"total"`
	Imported   int       `json:"imported"`
	Failed     int       `json:"failed"`
	OccurredAt time.Time `json:"occurred_at"`
}

// BatchTimeout bounds how long a synchronous write waits for its batch to
// fill. Events are written one at a time from the import path.
const BatchTimeout = 10 * time.Millisecond

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer sends score and import events to Kafka
type Producer struct {
	scoresWriter  messageWriter
	importsWriter messageWriter
	logger        *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, scoresTopic, importsTopic string, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		scoresWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        scoresTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: BatchTimeout,
		},
		importsWriter: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        importsTopic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: BatchTimeout,
		},
		logger: logger,
	}
}

// PublishScore sends a score event keyed by customer id.
func (p *Producer) PublishScore(ctx context.Context, event ScoreEvent) error {
	event.Type = TypeCustomerScored
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := send(ctx, p.scoresWriter, event.CustomerID, event); err != nil {
		return fmt.Errorf("publish score for %s: %w", event.CustomerID, err)
	}
	p.logger.Debug("sent score event", zap.String("customer", event.CustomerID))
	return nil
}

// PublishImport sends an import summary keyed by upload id.
func (p *Producer) PublishImport(ctx context.Context, event ImportEvent) error {
	event.Type = TypeImportCompleted
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := send(ctx, p.importsWriter, event.UploadID, event); err != nil {
		return fmt.Errorf("publish import %s: %w", event.UploadID, err)
	}
	p.logger.Debug("sent import event", zap.String("upload", event.UploadID))
	return nil
}

func send(ctx context.Context, w messageWriter, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}
	return w.WriteMessages(ctx, msg)
}

// Close closes the Kafka writers
func (p *Producer) Close() error {
	return errors.Join(p.scoresWriter.Close(), p.importsWriter.Close())
}
