package sqsstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/introspect-labs/introspect/internal/stream"
	"github.com/introspect-labs/introspect/pkg/types"
)

type queuedMessage struct {
	body    string
	groupID string
	dedupID string
}

// fakeSQS implements the Client subset in memory, with FIFO content
// deduplication per queue.
type fakeSQS struct {
	mu       sync.Mutex
	queues   map[string][]queuedMessage
	dedup    map[string]map[string]bool
	sendErrs int
	nextID   int
}

func newFakeSQS(urls ...string) *fakeSQS {
	f := &fakeSQS{
		queues: make(map[string][]queuedMessage),
		dedup:  make(map[string]map[string]bool),
	}
	for _, u := range urls {
		f.queues[u] = nil
		f.dedup[u] = make(map[string]bool)
	}
	return f
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErrs > 0 {
		f.sendErrs--
		return nil, errors.New("sqs unavailable")
	}

	url := aws.ToString(params.QueueUrl)
	dedupID := aws.ToString(params.MessageDeduplicationId)
	if f.dedup[url][dedupID] {
		// Content-based dedup: accepted but not enqueued again.
		return &sqs.SendMessageOutput{}, nil
	}
	f.dedup[url][dedupID] = true
	f.queues[url] = append(f.queues[url], queuedMessage{
		body:    aws.ToString(params.MessageBody),
		groupID: aws.ToString(params.MessageGroupId),
		dedupID: dedupID,
	})
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	url := aws.ToString(params.QueueUrl)
	out := &sqs.ReceiveMessageOutput{}
	for i, msg := range f.queues[url] {
		if i >= int(params.MaxNumberOfMessages) {
			break
		}
		f.nextID++
		out.Messages = append(out.Messages, sqstypes.Message{
			MessageId:     aws.String(fmt.Sprintf("msg-%d", f.nextID)),
			Body:          aws.String(msg.body),
			ReceiptHandle: aws.String(fmt.Sprintf("%s|%s", url, msg.dedupID)),
		})
	}
	return out, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	receipt := aws.ToString(params.ReceiptHandle)
	for url, msgs := range f.queues {
		for i, msg := range msgs {
			if fmt.Sprintf("%s|%s", url, msg.dedupID) == receipt {
				f.queues[url] = append(msgs[:i:i], msgs[i+1:]...)
				return &sqs.DeleteMessageOutput{}, nil
			}
		}
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) queueLen(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[url])
}

const (
	analysisQueue = "https://sqs.test/analysis.fifo"
	profileQueue  = "https://sqs.test/profile.fifo"
)

func fifoStream(f *fakeSQS) *Stream {
	return NewFromClient(f, map[string]string{
		"analysis-worker": analysisQueue,
		"profile-storage": profileQueue,
	}, time.Second, nil)
}

func testEnvelope(t *testing.T, answerID string) types.Envelope {
	t.Helper()
	payload, err := json.Marshal(types.AnswerSubmitted{AnswerID: answerID, SessionID: "sess-1"})
	require.NoError(t, err)
	return types.Envelope{
		EventType:    types.EventAnswerSubmitted,
		AggregateKey: "sess-1",
		TraceID:      "trace-" + answerID,
		Payload:      payload,
		PublishedAt:  time.Now(),
	}
}

func TestPublish_FansOutToAllGroupQueues(t *testing.T) {
	f := newFakeSQS(analysisQueue, profileQueue)
	s := fifoStream(f)

	require.NoError(t, s.Publish(context.Background(), testEnvelope(t, "ans-1")))

	assert.Equal(t, 1, f.queueLen(analysisQueue))
	assert.Equal(t, 1, f.queueLen(profileQueue))
}

func TestPublish_PartialFailureIsSafeToRetry(t *testing.T) {
	f := newFakeSQS(analysisQueue, profileQueue)
	s := fifoStream(f)

	// One queue accepts, the other fails; the relay retries the whole
	// fan-out and dedup absorbs the duplicate send.
	f.sendErrs = 1
	require.Error(t, s.Publish(context.Background(), testEnvelope(t, "ans-1")))

	require.NoError(t, s.Publish(context.Background(), testEnvelope(t, "ans-1")))
	assert.Equal(t, 1, f.queueLen(analysisQueue))
	assert.Equal(t, 1, f.queueLen(profileQueue))
}

func TestConsume_DeletesOnSuccess(t *testing.T) {
	f := newFakeSQS(analysisQueue, profileQueue)
	s := fifoStream(f)
	require.NoError(t, s.Publish(context.Background(), testEnvelope(t, "ans-1")))

	ctx, cancel := context.WithCancel(context.Background())
	var got stream.Entry
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Consume(ctx, "analysis-worker", "c-1", func(ctx context.Context, e stream.Entry) error {
			got = e
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not deliver")
	}

	assert.Equal(t, types.EventAnswerSubmitted, got.Envelope.EventType)
	assert.Equal(t, "sess-1", got.Envelope.AggregateKey)
	assert.Zero(t, f.queueLen(analysisQueue))
	// The other group's copy is untouched.
	assert.Equal(t, 1, f.queueLen(profileQueue))
}

func TestConsume_HandlerFailureKeepsMessage(t *testing.T) {
	f := newFakeSQS(analysisQueue, profileQueue)
	s := fifoStream(f)
	require.NoError(t, s.Publish(context.Background(), testEnvelope(t, "ans-1")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Consume(ctx, "analysis-worker", "c-1", func(ctx context.Context, e stream.Entry) error {
			cancel()
			return errors.New("handler failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not deliver")
	}

	assert.Equal(t, 1, f.queueLen(analysisQueue))
}

func TestConsume_UnknownGroupFails(t *testing.T) {
	s := fifoStream(newFakeSQS(analysisQueue, profileQueue))
	err := s.Consume(context.Background(), "nope", "c-1", nil)
	assert.Error(t, err)
}
