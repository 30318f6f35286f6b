package livesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"marinaops/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSReceiver abstracts the receive and delete operations used by SQSFeed.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

const sqsMaxMessages = 10

// SQSFeed long-polls a queue and hands out messages one at a time in the
// order SQS returned them. A message is deleted only once acked.
type SQSFeed struct {
	client   SQSReceiver
	queueURL string
	waitTime time.Duration
	pending  []sqsTypes.Message
	logger   *slog.Logger
}

// NewSQSFeed creates a feed on queueURL. waitTime is the long-poll duration,
// capped at 20s by SQS.
func NewSQSFeed(client SQSReceiver, queueURL string, waitTime time.Duration, logger *slog.Logger) *SQSFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSFeed{
		client:   client,
		queueURL: queueURL,
		waitTime: min(waitTime, 20*time.Second),
		logger:   logger,
	}
}

func (f *SQSFeed) Next(ctx context.Context) (Delivery, error) {
	for len(f.pending) == 0 {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		out, err := f.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(f.queueURL),
			MaxNumberOfMessages: sqsMaxMessages,
			WaitTimeSeconds:     int32(f.waitTime / time.Second),
		})
		if err != nil {
			return Delivery{}, fmt.Errorf("livesync: sqs receive from %s: %w", f.queueURL, err)
		}
		f.pending = out.Messages
	}

	msg := f.pending[0]
	f.pending = f.pending[1:]

	ev, malformed := decodeEvent([]byte(aws.ToString(msg.Body)))
	if malformed {
		f.logger.WarnContext(ctx, "malformed change event", "message_id", aws.ToString(msg.MessageId))
	}
	handle := msg.ReceiptHandle
	return Delivery{
		Event:     ev,
		Malformed: malformed,
		Ack: func(ctx context.Context) error {
			_, err := f.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(f.queueURL),
				ReceiptHandle: handle,
			})
			if err != nil {
				return fmt.Errorf("livesync: sqs delete: %w", err)
			}
			return nil
		},
	}, nil
}

// Close is a no-op; the SQS client holds no connection of its own.
func (f *SQSFeed) Close() error { return nil }

// SQSPublisher sends change events to a queue. On a FIFO queue events are
// grouped by task id and deduplicated by event id.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewSQSPublisher creates a publisher on queueURL.
func NewSQSPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
	}
}

func (p *SQSPublisher) Publish(ctx context.Context, ev types.ChangeEvent) error {
	body, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			attrKind: {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Kind)),
			},
			attrOccurredAt: {
				DataType:    aws.String("String"),
				StringValue: aws.String(occurredAt(ev)),
			},
		},
	}
	if ev.SiteID != "" {
		input.MessageAttributes[attrSiteID] = sqsTypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(ev.SiteID),
		}
	}
	if p.fifo {
		input.MessageGroupId = aws.String(ev.TaskID)
		input.MessageDeduplicationId = aws.String(ev.ID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("livesync: failed to send change event to %s: %w", p.queueURL, err)
	}

	p.logger.DebugContext(ctx, "change event sent",
		"queue_url", p.queueURL,
		"event_id", ev.ID,
		"task_id", ev.TaskID,
		"kind", string(ev.Kind),
	)
	return nil
}
