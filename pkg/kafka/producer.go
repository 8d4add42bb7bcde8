package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	appctx "github.com/Ramsey-B/vine/pkg/context"
	"github.com/Ramsey-B/vine/pkg/metrics"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, topic string) Config {
	var brokerList []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokerList = append(brokerList, broker)
		}
	}

	return Config{
		Brokers: brokerList,
		Topic:   topic,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes finished executions to a Kafka topic
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		// Lets a first publish succeed in dev before the topic exists
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

func (p *Producer) GetName() string {
	return "kafka"
}

func (p *Producer) DependsOn() []string {
	return []string{"tracing"}
}

// Start is a no-op. The writer dials brokers lazily on first publish.
func (p *Producer) Start(_ context.Context) error {
	return nil
}

func (p *Producer) Stop(_ context.Context) error {
	return p.Close()
}

// Close flushes pending messages and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// ExecutionEventMessage is the event published when a top-level execution finishes
type ExecutionEventMessage struct {
	Type        string                  `json:"type"`
	ExecutionID string                  `json:"execution_id"`
	ChainID     string                  `json:"chain_id"`
	UserID      string                  `json:"user_id,omitempty"`
	Status      models.ExecutionStatus  `json:"status"`
	Success     bool                    `json:"success"`
	ErrorCode   models.ErrorCode        `json:"error_code,omitempty"`
	StepCount   int                     `json:"step_count"`
	DurationMs  int64                   `json:"duration_ms"`
	Timestamp   time.Time               `json:"timestamp"`
	TraceID     string                  `json:"trace_id,omitempty"`
	Result      *models.ExecutionResult `json:"result"`
}

const (
	EventExecutionCompleted = "execution.completed"
	EventExecutionFailed    = "execution.failed"
)

// NewExecutionEvent builds the event for a finished execution
func NewExecutionEvent(ctx context.Context, result *models.ExecutionResult) *ExecutionEventMessage {
	evt := &ExecutionEventMessage{
		Type:        EventExecutionCompleted,
		ExecutionID: result.ExecutionID,
		ChainID:     result.ChainID,
		UserID:      appctx.GetUserID(ctx),
		Status:      result.Status,
		Success:     result.Success,
		StepCount:   result.StepCount(),
		DurationMs:  result.DurationMs,
		Timestamp:   result.CompletedAt,
		TraceID:     tracing.TraceID(ctx),
		Result:      result,
	}
	if result.Error != nil {
		evt.Type = EventExecutionFailed
		evt.ErrorCode = result.Error.Code
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return evt
}

// buildMessage keys the message by execution ID and carries W3C trace context in its headers
func buildMessage(ctx context.Context, evt *ExecutionEventMessage) (kafka.Message, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal execution event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "chain_id", Value: []byte(evt.ChainID)},
		{Key: "execution_id", Value: []byte(evt.ExecutionID)},
		{Key: "type", Value: []byte(evt.Type)},
	}
	if evt.UserID != "" {
		headers = append(headers, kafka.Header{Key: "user_id", Value: []byte(evt.UserID)})
	}
	if traceparent := tracing.TraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	return kafka.Message{
		Key:     []byte(evt.ExecutionID),
		Value:   data,
		Headers: headers,
	}, nil
}

// Emit publishes the execution result. It satisfies the engine's log sink.
func (p *Producer) Emit(ctx context.Context, result *models.ExecutionResult) error {
	if result == nil {
		return fmt.Errorf("execution result is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.Emit",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("execution_id", result.ExecutionID),
		attribute.String("chain_id", result.ChainID),
	)
	defer span.End()

	evt := NewExecutionEvent(ctx, result)
	msg, err := buildMessage(ctx, evt)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	metrics.RecordKafkaPublish(time.Since(start).Seconds())
	if err != nil {
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish execution event to Kafka topic %s", p.topic)
		return err
	}

	p.logger.WithContext(ctx).Debugf("Published execution event to Kafka: execution=%s chain=%s status=%s",
		evt.ExecutionID, evt.ChainID, evt.Status)
	return nil
}
