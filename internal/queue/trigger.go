// Package queue publishes ledger change notifications to SQS for downstream
// consumers (receipt mailers, analytics).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"sapar/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// LedgerNotifier publishes LedgerEventMessages after a ledger mutation
// commits. Publication is fire and forget; callers log and move on when it
// fails. A circuit breaker around SendMessage keeps a degraded SQS endpoint
// from stalling request handlers on every mutation.
type LedgerNotifier struct {
	client   SQSSender
	queueURL string
	breaker  *gobreaker.CircuitBreaker[*sqs.SendMessageOutput]
	logger   *slog.Logger
}

// NewLedgerNotifier creates a LedgerNotifier sending to the given queue URL.
func NewLedgerNotifier(client SQSSender, queueURL string, logger *slog.Logger) *LedgerNotifier {
	breaker := gobreaker.NewCircuitBreaker[*sqs.SendMessageOutput](gobreaker.Settings{
		Name:    "sqs-ledger-events",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &LedgerNotifier{
		client:   client,
		queueURL: queueURL,
		breaker:  breaker,
		logger:   logger,
	}
}

// Notify publishes the message. The event ID and timestamp are stamped here
// if the caller left them empty.
func (n *LedgerNotifier) Notify(ctx context.Context, msg types.LedgerEventMessage) error {
	if msg.EventID == "" {
		msg.EventID = "evt_" + uuid.New().String()
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal ledger event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.Kind)),
			},
		},
	}

	_, err = n.breaker.Execute(func() (*sqs.SendMessageOutput, error) {
		return n.client.SendMessage(ctx, input)
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send ledger event to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "ledger event published",
		"queue_url", n.queueURL,
		"event_id", msg.EventID,
		"kind", string(msg.Kind),
		"transaction_id", msg.TransactionID,
	)
	return nil
}

// NotifyAsync publishes in the background so the HTTP response never waits on
// SQS. Errors are logged only.
func (n *LedgerNotifier) NotifyAsync(msg types.LedgerEventMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Notify(ctx, msg); err != nil {
			n.logger.Error("failed to publish ledger event",
				"kind", string(msg.Kind), "transaction_id", msg.TransactionID, "error", err)
		}
	}()
}
