package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/services"
)

type fakePersister struct {
	mu    sync.Mutex
	got   []services.ChatIngest
	fails int // 前 fails 次调用失败，-1 表示一直失败
}

func (f *fakePersister) Persist(_ context.Context, in services.ChatIngest) (*events.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, in)
	if f.fails < 0 || len(f.got) <= f.fails {
		return nil, errors.New("db down")
	}
	return &events.ChatMessage{Message: in.Content}, nil
}

type fakeDLQ struct {
	topics []string
	values []string
}

func (d *fakeDLQ) SendRaw(topic string, _, value []byte) error {
	d.topics = append(d.topics, topic)
	d.values = append(d.values, string(value))
	return nil
}

func newTestConsumer(p Persister, dlq *fakeDLQ) *MessageConsumer {
	return NewMessageConsumer(p, Options{
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		DLQTopic:     "cinematch.chat.dlq",
		DeadLetter:   dlq,
	}, zap.NewNop())
}

// 只实现 ConsumeClaim 用到的方法
type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func ingest(t *testing.T, offset int64, content string) *sarama.ConsumerMessage {
	t.Helper()
	value, err := json.Marshal(services.ChatIngest{
		MessageID: 1000 + offset,
		GroupID:   "g-1",
		GroupCode: "ABC123",
		UserID:    1,
		Username:  "alice",
		Content:   content,
		SentAt:    time.Now(),
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: "cinematch.chat", Offset: offset, Value: value}
}

func TestConsumeClaim(t *testing.T) {
	p := &fakePersister{}
	dlq := &fakeDLQ{}
	c := newTestConsumer(p, dlq)
	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}

	claim.messages <- ingest(t, 0, "hello")
	claim.messages <- &sarama.ConsumerMessage{Offset: 1, Value: []byte("{not json")}
	claim.messages <- ingest(t, 2, "world")
	close(claim.messages)

	require.NoError(t, c.ConsumeClaim(session, claim))

	require.Len(t, p.got, 2)
	assert.Equal(t, "hello", p.got[0].Content)
	assert.Equal(t, int64(1002), p.got[1].MessageID)
	// 坏消息转入死信后也要提交位点
	assert.Equal(t, []int64{0, 1, 2}, session.marked)
	assert.Equal(t, []string{"{not json"}, dlq.values)
}

func TestConsumeClaim_RetryThenSucceed(t *testing.T) {
	p := &fakePersister{fails: 2}
	dlq := &fakeDLQ{}
	c := newTestConsumer(p, dlq)
	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}

	claim.messages <- ingest(t, 5, "eventually")
	close(claim.messages)

	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Len(t, p.got, 3)
	assert.Empty(t, dlq.values)
	assert.Equal(t, []int64{5}, session.marked)
}

func TestConsumeClaim_RetriesExhausted(t *testing.T) {
	p := &fakePersister{fails: -1}
	dlq := &fakeDLQ{}
	c := newTestConsumer(p, dlq)
	session := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}

	claim.messages <- ingest(t, 7, "lost")
	close(claim.messages)

	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Len(t, p.got, 3, "first attempt plus two retries")
	assert.Equal(t, []string{"cinematch.chat.dlq"}, dlq.topics)
	assert.Equal(t, []int64{7}, session.marked)
}

func TestConsumeClaim_StopsOnCancel(t *testing.T) {
	c := newTestConsumer(&fakePersister{}, &fakeDLQ{})
	ctx, cancel := context.WithCancel(context.Background())
	session := &fakeSession{ctx: ctx}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error, 1)
	go func() { done <- c.ConsumeClaim(session, claim) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after cancel")
	}
}
