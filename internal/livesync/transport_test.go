package livesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marinaops/internal/config"
	"marinaops/internal/types"
)

func sampleEvent() types.ChangeEvent {
	return types.ChangeEvent{
		ID:           "evt-1",
		TaskID:       "t1",
		Kind:         types.ChangeUpdate,
		SiteID:       "port-nord",
		PreviousDate: dptr("2024-06-10"),
		NewDate:      dptr("2024-06-12"),
		OccurredAt:   time.Date(2024, 6, 9, 8, 30, 0, 0, time.UTC),
		Source:       "rescheduler",
	}
}

// --- Kafka ---

func TestConsumerGroup_PerInstance(t *testing.T) {
	cfg := config.SyncConfig{KafkaGroupID: "marinaops-api"}

	a := ConsumerGroup(cfg, "api-7d9f-abc")
	b := ConsumerGroup(cfg, "api-7d9f-xyz")
	assert.Equal(t, "marinaops-api-api-7d9f-abc", a)
	assert.NotEqual(t, a, b, "each instance reads every event")
	assert.Equal(t, "marinaops-api", ConsumerGroup(cfg, ""))
}

type fakeKafkaReader struct {
	msgs      []kafkago.Message
	err       error
	committed []kafkago.Message
}

func (r *fakeKafkaReader) FetchMessage(context.Context) (kafkago.Message, error) {
	if r.err != nil {
		return kafkago.Message{}, r.err
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeKafkaReader) Close() error { return nil }

type fakeKafkaWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaPublisher_RoundTripsThroughFeed(t *testing.T) {
	writer := &fakeKafkaWriter{}
	require.NoError(t, NewKafkaPublisher(writer).Publish(context.Background(), sampleEvent()))
	require.Len(t, writer.msgs, 1)

	msg := writer.msgs[0]
	assert.Equal(t, []byte("t1"), msg.Key)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, attrKind, msg.Headers[0].Key)
	assert.Equal(t, []byte("update"), msg.Headers[0].Value)
	assert.Equal(t, []byte("2024-06-09T08:30:00Z"), msg.Headers[2].Value)

	msg.Offset = 42
	reader := &fakeKafkaReader{msgs: []kafkago.Message{msg}}
	d, err := NewKafkaFeed(reader, nil).Next(context.Background())
	require.NoError(t, err)
	assert.False(t, d.Malformed)
	assert.Equal(t, sampleEvent(), d.Event)

	assert.Empty(t, reader.committed, "nothing committed before ack")
	require.NoError(t, d.Ack(context.Background()))
	require.Len(t, reader.committed, 1)
	assert.Equal(t, int64(42), reader.committed[0].Offset)
}

func TestKafkaFeed_Malformed(t *testing.T) {
	reader := &fakeKafkaReader{msgs: []kafkago.Message{{Value: []byte("{not json")}}}
	d, err := NewKafkaFeed(reader, nil).Next(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Malformed)

	reader = &fakeKafkaReader{msgs: []kafkago.Message{{Value: []byte(`{"task_id":"t1","kind":"rename"}`)}}}
	d, err = NewKafkaFeed(reader, nil).Next(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Malformed)
	assert.Equal(t, "t1", d.Event.TaskID)
}

func TestKafka_Errors(t *testing.T) {
	_, err := NewKafkaFeed(&fakeKafkaReader{err: errors.New("eof")}, nil).Next(context.Background())
	assert.ErrorContains(t, err, "kafka fetch")

	err = NewKafkaPublisher(&fakeKafkaWriter{err: errors.New("leader not available")}).Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "evt-1")
}

// --- SQS ---

type mockSQS struct {
	sent     []*sqs.SendMessageInput
	batches  [][]sqsTypes.Message
	received int
	deleted  []string
	err      error
}

func (m *mockSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) ReceiveMessage(_ context.Context, params *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.received++
	if len(m.batches) == 0 {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return &sqs.ReceiveMessageOutput{Messages: b}, nil
}

func (m *mockSQS) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

const testQueueURL = "https://sqs.eu-west-3.amazonaws.com/123456789/marinaops-changes"

func TestSQSPublisher_Send(t *testing.T) {
	mock := &mockSQS{}
	require.NoError(t, NewSQSPublisher(mock, testQueueURL, nil).Publish(context.Background(), sampleEvent()))
	require.Len(t, mock.sent, 1)

	in := mock.sent[0]
	assert.Equal(t, testQueueURL, aws.ToString(in.QueueUrl))
	assert.Equal(t, "update", aws.ToString(in.MessageAttributes[attrKind].StringValue))
	assert.Equal(t, "port-nord", aws.ToString(in.MessageAttributes[attrSiteID].StringValue))
	assert.Nil(t, in.MessageGroupId)

	ev, malformed := decodeEvent([]byte(aws.ToString(in.MessageBody)))
	assert.False(t, malformed)
	assert.Equal(t, sampleEvent(), ev)
}

func TestSQSPublisher_FIFO(t *testing.T) {
	mock := &mockSQS{}
	require.NoError(t, NewSQSPublisher(mock, testQueueURL+".fifo", nil).Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "t1", aws.ToString(mock.sent[0].MessageGroupId))
	assert.Equal(t, "evt-1", aws.ToString(mock.sent[0].MessageDeduplicationId))
}

func TestSQSPublisher_Error(t *testing.T) {
	mock := &mockSQS{err: errors.New("throttled")}
	err := NewSQSPublisher(mock, testQueueURL, nil).Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, testQueueURL)
}

func TestSQSFeed_DrainsBatchInOrder(t *testing.T) {
	body, err := encodeEvent(sampleEvent())
	require.NoError(t, err)
	mock := &mockSQS{batches: [][]sqsTypes.Message{
		{},
		{
			{Body: aws.String(string(body)), ReceiptHandle: aws.String("rh-1"), MessageId: aws.String("m1")},
			{Body: aws.String("garbage"), ReceiptHandle: aws.String("rh-2"), MessageId: aws.String("m2")},
		},
	}}
	feed := NewSQSFeed(mock, testQueueURL, time.Minute, nil)
	assert.Equal(t, 20*time.Second, feed.waitTime)

	d1, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "t1", d1.Event.TaskID)
	assert.Equal(t, 2, mock.received, "empty poll is retried")

	d2, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, d2.Malformed)
	assert.Equal(t, 2, mock.received)

	require.NoError(t, d2.Ack(context.Background()))
	require.NoError(t, d1.Ack(context.Background()))
	assert.Equal(t, []string{"rh-2", "rh-1"}, mock.deleted)
}

func TestSQSFeed_Errors(t *testing.T) {
	_, err := NewSQSFeed(&mockSQS{err: errors.New("denied")}, testQueueURL, time.Second, nil).Next(context.Background())
	assert.ErrorContains(t, err, "sqs receive")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSQSFeed(&mockSQS{}, testQueueURL, time.Second, nil).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
