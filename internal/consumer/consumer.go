package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/services"
)

// Persister 保存并广播一条聊天消息
type Persister interface {
	Persist(ctx context.Context, in services.ChatIngest) (*events.ChatMessage, error)
}

// DeadLetter 接收处理失败的原始消息
type DeadLetter interface {
	SendRaw(topic string, key, value []byte) error
}

type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	DLQTopic     string
	DeadLetter   DeadLetter // nil 时失败消息只记日志
}

// MessageConsumer 消费聊天主题，落库后广播到群聊房间
type MessageConsumer struct {
	chat   Persister
	opts   Options
	logger *zap.Logger
}

func NewMessageConsumer(chat Persister, opts Options, logger *zap.Logger) *MessageConsumer {
	return &MessageConsumer{
		chat:   chat,
		opts:   opts,
		logger: logger,
	}
}

func (consumer *MessageConsumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (consumer *MessageConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 逐条处理分区内的消息。
// 失败的消息转入死信主题后同样标记为已消费，避免阻塞整个分区
func (consumer *MessageConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := consumer.handle(ctx, message); err != nil {
				if ctx.Err() != nil {
					// 未提交位点，重平衡后重新投递
					return nil
				}
				consumer.deadLetter(message, err)
			}
			session.MarkMessage(message, "")
		}
	}
}

func (consumer *MessageConsumer) handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	var in services.ChatIngest
	if err := json.Unmarshal(message.Value, &in); err != nil {
		return fmt.Errorf("decode chat message: %w", err)
	}
	return consumer.persistWithRetry(ctx, in)
}

// persistWithRetry 指数退避重试
func (consumer *MessageConsumer) persistWithRetry(ctx context.Context, in services.ChatIngest) error {
	backoff := consumer.opts.RetryBackoff

	var lastErr error
	for attempt := 0; attempt <= consumer.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		_, err := consumer.chat.Persist(ctx, in)
		if err == nil {
			return nil
		}
		lastErr = err
		consumer.logger.Warn("persist chat message failed",
			zap.Int64("message_id", in.MessageID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("failed after %d retries: %w", consumer.opts.MaxRetries, lastErr)
}

func (consumer *MessageConsumer) deadLetter(message *sarama.ConsumerMessage, cause error) {
	fields := []zap.Field{
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
		zap.NamedError("cause", cause),
	}
	if consumer.opts.DeadLetter == nil {
		consumer.logger.Error("chat message dropped", fields...)
		return
	}
	if err := consumer.opts.DeadLetter.SendRaw(consumer.opts.DLQTopic, message.Key, message.Value); err != nil {
		consumer.logger.Error("send to dead letter queue failed", append(fields, zap.Error(err))...)
		return
	}
	consumer.logger.Warn("chat message sent to dead letter queue", fields...)
}

// StartConsumer 在后台消费 topic，ctx 取消后退出并关闭消费者组
func StartConsumer(ctx context.Context, brokers []string, groupID string, topic string, consumer *MessageConsumer) error {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	client, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return fmt.Errorf("创建消费者组客户端失败: %w", err)
	}

	go func() {
		defer client.Close()
		for {
			if err := client.Consume(ctx, []string{topic}, consumer); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				consumer.logger.Warn("consumer error", zap.Error(err))
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}
