package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

type sqsSender interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSConfig holds SQS configuration.
type SQSConfig struct {
	Region     string
	QueueURL   string
	BufferSize int
	MaxRetries int
}

// SQSTracker exports events to an SQS queue from a background loop. Track
// only enqueues; when the buffer is full the event is dropped.
type SQSTracker struct {
	client     sqsSender
	queueURL   string
	events     chan Event
	maxRetries int
	logger     *zap.Logger
}

// NewSQSTracker creates a tracker for cfg.QueueURL. Call Run to start exporting.
func NewSQSTracker(ctx context.Context, cfg SQSConfig, logger *zap.Logger) (*SQSTracker, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("sqs analytics export initialized",
		zap.String("queue_url", cfg.QueueURL),
	)
	return newSQSTracker(sqs.NewFromConfig(awsCfg), cfg, logger), nil
}

func newSQSTracker(client sqsSender, cfg SQSConfig, logger *zap.Logger) *SQSTracker {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &SQSTracker{
		client:     client,
		queueURL:   cfg.QueueURL,
		events:     make(chan Event, cfg.BufferSize),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

func (t *SQSTracker) Track(_ context.Context, e Event) {
	select {
	case t.events <- e:
	default:
		t.logger.Warn("analytics buffer full, dropping event", zap.String("event", e.Name))
	}
}

// Run exports buffered events until ctx is done.
func (t *SQSTracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-t.events:
			if err := t.send(ctx, e); err != nil {
				t.logger.Warn("failed to export analytics event",
					zap.String("event", e.Name),
					zap.Error(err),
				)
			}
		}
	}
}

func (t *SQSTracker) send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	b := retry.NewExponential(100 * time.Millisecond)
	b = retry.WithMaxRetries(uint64(t.maxRetries), b)
	b = retry.WithCappedDuration(2*time.Second, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		_, err := t.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(t.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			return retry.RetryableError(fmt.Errorf("sqs send failed: %w", err))
		}
		return nil
	})
}
