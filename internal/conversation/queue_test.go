package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/sophie-assistant/pkg/logging"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	deleted  []string
	received []types.Message
	sendErr  error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.received}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueFIFOGroupsBySender(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "https://sqs.eu-west-3.amazonaws.com/123456789012/inbound.fifo")

	err := q.Send(context.Background(), outgoingMessage{Body: "{}", GroupID: "clinic-1:+33612345678", DedupID: "job-1-0", Delay: time.Minute})
	require.NoError(t, err)

	require.Len(t, api.sent, 1)
	in := api.sent[0]
	assert.Equal(t, "clinic-1:+33612345678", aws.ToString(in.MessageGroupId))
	assert.Equal(t, "job-1-0", aws.ToString(in.MessageDeduplicationId))
	assert.Zero(t, in.DelaySeconds)
}

func TestSQSQueueStandardDelaysRetries(t *testing.T) {
	api := &fakeSQS{}
	q := newSQSQueue(api, "http://localhost:4566/000000000000/inbound")

	require.NoError(t, q.Send(context.Background(), outgoingMessage{Body: "{}", GroupID: "g", Delay: 4 * time.Second}))
	require.NoError(t, q.Send(context.Background(), outgoingMessage{Body: "{}", Delay: time.Hour}))

	require.Len(t, api.sent, 2)
	assert.Nil(t, api.sent[0].MessageGroupId)
	assert.Equal(t, int32(4), api.sent[0].DelaySeconds)
	assert.Equal(t, int32(900), api.sent[1].DelaySeconds)
}

func TestSQSQueueReceiveAndDelete(t *testing.T) {
	api := &fakeSQS{received: []types.Message{
		{MessageId: aws.String("m-1"), Body: aws.String("a"), ReceiptHandle: aws.String("r-1")},
		{MessageId: aws.String("m-2"), Body: aws.String("b"), ReceiptHandle: aws.String("r-2")},
	}}
	q := newSQSQueue(api, "http://localhost:4566/000000000000/inbound")

	msgs, err := q.Receive(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, queueMessage{ID: "m-2", Body: "b", ReceiptHandle: "r-2"}, msgs[1])

	require.NoError(t, q.Delete(context.Background(), ""))
	require.NoError(t, q.Delete(context.Background(), "r-1"))
	assert.Equal(t, []string{"r-1"}, api.deleted)
}

func TestSQSQueueSendError(t *testing.T) {
	api := &fakeSQS{sendErr: errors.New("throttled")}
	q := newSQSQueue(api, "http://localhost:4566/000000000000/inbound")

	err := q.Send(context.Background(), outgoingMessage{Body: "{}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Panics(t, func() { newSQSQueue(api, "") })
}

func TestEncodeDecodeJob(t *testing.T) {
	msg := InboundMessage{ClinicID: "clinic-1", ChannelID: "+33612345678", Text: "Bonjour"}
	job, out, err := encodeJob(inboundJob{Message: msg, Attempt: 2})
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())
	assert.Equal(t, "clinic-1:+33612345678", out.GroupID)
	assert.Equal(t, job.ID+"-2", out.DedupID)

	decoded, err := decodeJob(out.Body)
	require.NoError(t, err)
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, msg, decoded.Message)
	assert.Equal(t, 2, decoded.Attempt)

	_, err = decodeJob("{")
	assert.Error(t, err)
	_, err = decodeJob(`{"message":{"clinic_id":"clinic-1"}}`)
	assert.Error(t, err)
}

func TestPublisherRetryBumpsAttempt(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()
	p := NewPublisher(queue, logging.Discard())
	ctx := context.Background()

	id, err := p.Enqueue(ctx, InboundMessage{ClinicID: "clinic-1", ChannelID: "+33612345678", Text: "oui"})
	require.NoError(t, err)
	first, err := queue.Receive(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	job, err := decodeJob(first[0].Body)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Zero(t, job.Attempt)

	require.NoError(t, p.retry(ctx, job, 0))
	second, err := queue.Receive(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	retried, err := decodeJob(second[0].Body)
	require.NoError(t, err)
	assert.Equal(t, id, retried.ID)
	assert.Equal(t, 1, retried.Attempt)
}

func TestMemoryQueueDelayedDelivery(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()
	ctx := context.Background()

	require.NoError(t, queue.Send(ctx, outgoingMessage{Body: "later", Delay: 20 * time.Millisecond}))
	msgs, err := queue.Receive(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "later", msgs[0].Body)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = queue.Receive(cancelled, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueReplyMessenger(t *testing.T) {
	queue := NewMemoryQueue(1)
	defer queue.Close()
	m := NewQueueReplyMessenger(queue)

	reply := OutboundReply{JobID: "job-1", ConversationID: "conv-1", ClinicID: "clinic-1", ChannelID: "+33612345678", Body: "Bonjour", State: StateIdle}
	require.NoError(t, m.SendReply(context.Background(), reply))

	msgs, err := queue.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	var got OutboundReply
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Body), &got))
	assert.Equal(t, reply, got)
}
