package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/metrics"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/repositories"
	"github.com/Gopher0727/CineMatch/utils/snowflake"
)

var ErrEmptyMessage = errors.New("message content cannot be empty")

// ChatProducer 把聊天消息写入消息队列，key 为群组码以保证群内有序
type ChatProducer interface {
	SendMessage(key string, message any) error
}

// ChatIngest 队列中的一条待持久化聊天消息
type ChatIngest struct {
	MessageID int64     `json:"message_id,string"`
	GroupID   string    `json:"group_id"`
	GroupCode string    `json:"group_code"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

type ChatService struct {
	store        *repositories.Store
	publisher    events.Publisher
	producer     ChatProducer
	ids          *snowflake.Node
	historyLimit int
	maxLength    int
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewChatService(store *repositories.Store, publisher events.Publisher, ids *snowflake.Node, historyLimit, maxLength int, m *metrics.Metrics, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:        store,
		publisher:    publisher,
		ids:          ids,
		historyLimit: historyLimit,
		maxLength:    maxLength,
		metrics:      m,
		logger:       logger,
	}
}

// UseProducer 启用消息队列。未启用时消息直接落库并广播
func (s *ChatService) UseProducer(p ChatProducer) {
	s.producer = p
}

// SendMessage 校验内容后投递。内容原样保存，只去掉首尾空白
func (s *ChatService) SendMessage(ctx context.Context, group *models.GroupSession, userID uint, username, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return newValidationError("message", fmt.Sprintf("message exceeds %d characters", s.maxLength))
	}
	// 连接期间可能已经退出群组
	ok, err := s.store.Groups.IsActiveMember(ctx, group.ID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}

	id, err := s.ids.NextID()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	in := ChatIngest{
		MessageID: id,
		GroupID:   group.ID,
		GroupCode: group.Code,
		UserID:    userID,
		Username:  username,
		Content:   content,
		SentAt:    time.Now(),
	}

	if s.producer != nil {
		err := s.producer.SendMessage(group.Code, in)
		if err == nil {
			return nil
		}
		s.logger.Warn("enqueue chat message failed, persisting directly", zap.String("group_code", group.Code), zap.Error(err))
	}
	_, err = s.Persist(ctx, in)
	return err
}

// Persist 保存并广播一条用户消息；消息队列消费者与直连路径共用
func (s *ChatService) Persist(ctx context.Context, in ChatIngest) (*events.ChatMessage, error) {
	userID := in.UserID
	msg := &models.GroupChatMessage{
		ID:        in.MessageID,
		GroupID:   in.GroupID,
		UserID:    &userID,
		Content:   in.Content,
		CreatedAt: in.SentAt,
	}
	if err := s.store.Messages.Create(ctx, msg); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 队列重复投递，第一次已经广播过
			s.logger.Debug("duplicate chat message ignored", zap.Int64("message_id", in.MessageID))
			return nil, nil
		}
		return nil, fmt.Errorf("save chat message: %w", err)
	}
	s.metrics.ChatMessages.Inc()

	evt := chatEvent(msg, in.Username)
	s.publisher.Publish(events.ChatRoom(in.GroupCode), evt)
	return &evt, nil
}

// PostSystemMessage 以系统身份发送消息 (成员加入、匹配成功等)
func (s *ChatService) PostSystemMessage(ctx context.Context, group *models.GroupSession, text string) error {
	id, err := s.ids.NextID()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	msg := &models.GroupChatMessage{
		ID:              id,
		GroupID:         group.ID,
		Content:         text,
		IsSystemMessage: true,
		CreatedAt:       time.Now(),
	}
	if err := s.store.Messages.Create(ctx, msg); err != nil {
		return fmt.Errorf("save system message: %w", err)
	}
	s.publisher.Publish(events.ChatRoom(group.Code), chatEvent(msg, "System"))
	return nil
}

// History 最近的消息，按时间正序
func (s *ChatService) History(ctx context.Context, groupID string, limit int) ([]events.ChatMessage, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}
	msgs, err := s.store.Messages.Recent(ctx, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	out := make([]events.ChatMessage, 0, len(msgs))
	for i := range msgs {
		username := "System"
		if msgs[i].User != nil {
			username = msgs[i].User.Username
		}
		out = append(out, chatEvent(&msgs[i], username))
	}
	return out, nil
}

// GroupHistory 成员查看群聊历史
func (s *ChatService) GroupHistory(ctx context.Context, code string, userID uint, limit int) ([]events.ChatMessage, error) {
	group, err := memberGroup(ctx, s.store, code, userID)
	if err != nil {
		return nil, err
	}
	return s.History(ctx, group.ID, limit)
}

func chatEvent(msg *models.GroupChatMessage, username string) events.ChatMessage {
	return events.ChatMessage{
		Type:            events.TypeChatMessage,
		MessageID:       msg.ID,
		Message:         msg.Content,
		UserID:          msg.UserID,
		Username:        username,
		Timestamp:       msg.CreatedAt,
		IsSystemMessage: msg.IsSystemMessage,
	}
}
