package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/lalithlochan/nudge/internal/platform"
)

type snsPublisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender pushes deliveries to the device's SNS platform endpoint.
type SNSSender struct {
	client    snsPublisher
	targetARN string
	logger    *zap.Logger
}

type SNSConfig struct {
	Region    string
	TargetARN string // platform application endpoint of the device
}

// NewSNSSender creates a new SNS sender for mobile push
func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	if cfg.TargetARN == "" {
		return nil, errors.New("sns target endpoint arn is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client:    sns.NewFromConfig(awsCfg),
		targetARN: cfg.TargetARN,
		logger:    logger,
	}, nil
}

// pushMessage builds the per-platform JSON envelope SNS expects when
// MessageStructure is "json".
func pushMessage(d *platform.Delivery) (string, error) {
	apns, err := json.Marshal(map[string]any{
		"aps":  map[string]any{"alert": map[string]string{"title": d.Content.Title, "body": d.Content.Body}},
		"data": d.Content.Data,
	})
	if err != nil {
		return "", err
	}
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{"title": d.Content.Title, "body": d.Content.Body},
		"data":         d.Content.Data,
	})
	if err != nil {
		return "", err
	}
	envelope, err := json.Marshal(map[string]string{
		"default": d.Content.Body,
		"APNS":    string(apns),
		"GCM":     string(gcm),
	})
	if err != nil {
		return "", err
	}
	return string(envelope), nil
}

// Send publishes the delivery as a mobile push.
func (s *SNSSender) Send(ctx context.Context, d *platform.Delivery) error {
	msg, err := pushMessage(d)
	if err != nil {
		return fmt.Errorf("invalid push payload: %w", err)
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(s.targetARN),
		Message:          aws.String(msg),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("push sent via SNS",
		zap.String("id", d.Identifier),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

func (s *SNSSender) Name() string { return "sns" }
