// Package sqsstream implements the event stream on SQS FIFO queues.
// Each consumer group owns one queue; Publish fans out to every group
// queue. MessageGroupId carries the aggregate key so SQS preserves
// per-aggregate order, and the content-based deduplication id absorbs the
// duplicate sends a partially-failed fan-out produces on relay retry.
package sqsstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/pkg/types"
)

const (
	receiveWaitSeconds = 10
	receiveBatchSize   = 10
)

// Client is the subset of the SQS API the stream uses.
type Client interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Stream is an SQS FIFO backed event stream.
type Stream struct {
	client     Client
	queues     map[string]string // group name -> queue URL
	visibility time.Duration
	logger     *slog.Logger
}

// New creates an SQS stream backend using the default AWS config chain.
func New(ctx context.Context, cfg *types.SQSStreamConfig, visibility time.Duration, logger *slog.Logger) (*Stream, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewFromClient(sqs.NewFromConfig(awsCfg), cfg.GroupQueues, visibility, logger), nil
}

// NewFromClient creates a backend from an existing client (useful for testing).
func NewFromClient(client Client, queues map[string]string, visibility time.Duration, logger *slog.Logger) *Stream {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		client:     client,
		queues:     queues,
		visibility: visibility,
		logger:     logger,
	}
}

// Publish sends the envelope to every group queue. Any queue failure
// fails the publish so the relay retries the whole fan-out; FIFO
// deduplication makes the retry safe for queues that already got it.
func (s *Stream) Publish(ctx context.Context, env types.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	sum := sha256.Sum256(body)
	dedupID := hex.EncodeToString(sum[:])

	for group, url := range s.queues {
		_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:               aws.String(url),
			MessageBody:            aws.String(string(body)),
			MessageGroupId:         aws.String(env.AggregateKey),
			MessageDeduplicationId: aws.String(dedupID),
		})
		if err != nil {
			return fmt.Errorf("sending to group %s: %w", group, err)
		}
	}
	return nil
}

// Consume long-polls the group's queue until ctx is cancelled. Handler
// success deletes the message; failure leaves it invisible until the
// visibility timeout expires, after which SQS redelivers it.
func (s *Stream) Consume(ctx context.Context, group, _ string, h stream.Handler) error {
	url, ok := s.queues[group]
	if !ok {
		return fmt.Errorf("no queue configured for group %s", group)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(url),
			MaxNumberOfMessages: receiveBatchSize,
			WaitTimeSeconds:     receiveWaitSeconds,
			VisibilityTimeout:   int32(s.visibility / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("receive failed", "group", group, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range out.Messages {
			var env types.Envelope
			if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &env); err != nil {
				s.logger.Error("dropping malformed message", "group", group, "error", err)
				s.delete(ctx, url, msg.ReceiptHandle)
				continue
			}

			entry := stream.Entry{ID: aws.ToString(msg.MessageId), Envelope: env}
			if err := h(ctx, entry); err != nil {
				s.logger.Warn("handler failed, message will redeliver",
					"group", group, "id", entry.ID, "event", string(env.EventType), "error", err)
				continue
			}

			s.delete(ctx, url, msg.ReceiptHandle)
		}
	}
}

func (s *Stream) delete(ctx context.Context, url string, receipt *string) {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: receipt,
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("delete failed", "error", err)
	}
}

// Close is a no-op; the SQS client has no connection to release.
func (s *Stream) Close() error { return nil }
