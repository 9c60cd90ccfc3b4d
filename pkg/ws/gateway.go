package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Gopher0727/CineMatch/config"
	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/models"
	"github.com/Gopher0727/CineMatch/internal/services"
	"github.com/Gopher0727/CineMatch/middleware/jwt"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// frame 客户端上行帧，不同 type 使用不同字段
type frame struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	IsTyping bool   `json:"is_typing"`
	MovieID  int64  `json:"movie_id"`
	Action   string `json:"action"`
}

type swipeFrame struct {
	MovieID int64  `validate:"required,gt=0"`
	Action  string `validate:"required,oneof=LIKE DISLIKE SUPER_LIKE"`
}

// SwipeResultFrame 滑动结果，只发给发送者
type SwipeResultFrame struct {
	Type string `json:"type"`
	*services.SwipeResult
}

// Gateway 接入 WebSocket：鉴权、校验成员身份、订阅房间、分发上行帧
type Gateway struct {
	hub      *Hub
	tokens   *jwt.TokenManager
	groups   *services.GroupService
	chat     *services.ChatService
	swipes   *services.SwipeService
	validate *validator.Validate

	cfg          config.WSConfig
	historyLimit int
	logger       *zap.Logger
}

func NewGateway(hub *Hub, tokens *jwt.TokenManager, groups *services.GroupService, chat *services.ChatService, swipes *services.SwipeService, cfg config.WSConfig, historyLimit int, logger *zap.Logger) *Gateway {
	return &Gateway{
		hub:          hub,
		tokens:       tokens,
		groups:       groups,
		chat:         chat,
		swipes:       swipes,
		validate:     validator.New(),
		cfg:          cfg,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// ServeChat /ws/chat/:code
func (g *Gateway) ServeChat(c *gin.Context) {
	g.serve(c, events.RoomChat)
}

// ServeMatch /ws/match/:code
func (g *Gateway) ServeMatch(c *gin.Context) {
	g.serve(c, events.RoomMatch)
}

// serve 先完成升级，鉴权与成员校验失败时才能以自定义关闭码关闭
func (g *Gateway) serve(c *gin.Context, kind events.RoomKind) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("upgrade websocket failed", zap.Error(err))
		return
	}

	claims, err := g.tokens.Authenticate(c.Request)
	if err != nil {
		closeHandshake(ws, CloseUnauthenticated, "authentication required")
		return
	}

	code := c.Param("code")
	ctx := c.Request.Context()
	group, err := g.groups.Authorize(ctx, code, claims.UserID)
	switch {
	case errors.Is(err, services.ErrNotMember), errors.Is(err, services.ErrGroupNotFound):
		closeHandshake(ws, CloseNotMember, "not a member of this group")
		return
	case err != nil:
		g.logger.Error("authorize websocket failed", zap.String("group_code", code), zap.Error(err))
		closeHandshake(ws, websocket.CloseInternalServerErr, "internal error")
		return
	}

	room := events.Room{Kind: kind, Code: group.Code}
	conn := newConn(g.hub, ws, room, claims.UserID, claims.Username, g.cfg.SendBuffer,
		rate.NewLimiter(rate.Limit(g.cfg.FrameRate), g.cfg.FrameBurst),
		g.logger.With(zap.String("room", room.String()), zap.Uint("user_id", claims.UserID)))

	// 先订阅再同步写出欢迎帧与历史消息，写协程启动前到达的实时消息在队列中排在它们之后
	g.hub.Subscribe(conn, room)
	if err := g.greet(ctx, ws, group, claims, kind); err != nil {
		g.logger.Debug("greet failed", zap.Error(err))
		conn.Close()
		return
	}
	g.logger.Info("websocket subscribed", zap.String("room", room.String()), zap.Uint("user_id", claims.UserID))

	go conn.writePump()
	go conn.readPump(g.cfg.ReadLimit, func(conn *Conn, data []byte) {
		g.dispatch(group, conn, data)
	})
}

func (g *Gateway) greet(ctx context.Context, ws *websocket.Conn, group *models.GroupSession, claims *jwt.Claims, kind events.RoomKind) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))

	if kind == events.RoomMatch {
		return ws.WriteJSON(events.MatchConnected{
			Type:      events.TypeConnectionEstablished,
			GroupCode: group.Code,
			UserID:    claims.UserID,
			Username:  claims.Username,
		})
	}

	if err := ws.WriteJSON(events.ChatConnected{
		Type:     events.TypeConnectionEstablished,
		Message:  "Connected to group " + group.Code,
		UserID:   claims.UserID,
		Username: claims.Username,
	}); err != nil {
		return err
	}

	history, err := g.chat.History(ctx, group.ID, g.historyLimit)
	if err != nil {
		g.logger.Warn("load chat history failed", zap.String("group_code", group.Code), zap.Error(err))
		return nil
	}
	for _, msg := range history {
		if err := ws.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

func closeHandshake(ws *websocket.Conn, code int, text string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	_ = ws.Close()
}

// dispatch 按 type 路由上行帧。错误只回给发送者，连接保持打开
func (g *Gateway) dispatch(group *models.GroupSession, c *Conn, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.sendEvent(events.NewError("Invalid JSON format"))
		return
	}

	if c.room.Kind == events.RoomChat {
		g.dispatchChat(group, c, &f)
	} else {
		g.dispatchMatch(c, &f)
	}
}

func (g *Gateway) dispatchChat(group *models.GroupSession, c *Conn, f *frame) {
	if f.Type == "" {
		f.Type = events.TypeChatMessage
	}

	switch f.Type {
	case events.TypeChatMessage:
		err := g.chat.SendMessage(context.Background(), group, c.userID, c.username, f.Message)
		var verr *services.ValidationError
		switch {
		case err == nil:
		case errors.Is(err, services.ErrEmptyMessage):
			c.sendEvent(events.NewError("Message content cannot be empty"))
		case errors.As(err, &verr):
			c.sendEvent(events.NewError(verr.Error()))
		case errors.Is(err, services.ErrNotMember):
			c.CloseWith(CloseNotMember, "not a member of this group")
		default:
			c.logger.Error("send chat message failed", zap.Error(err))
			c.sendEvent(events.NewError("Failed to send message"))
		}

	case events.TypeTyping:
		g.hub.PublishExcept(c.room, events.TypingIndicator{
			Type:     events.TypeTypingIndicator,
			UserID:   c.userID,
			Username: c.username,
			IsTyping: f.IsTyping,
		}, c.userID)

	default:
		c.sendEvent(events.NewError("Unknown message type: " + f.Type))
	}
}

func (g *Gateway) dispatchMatch(c *Conn, f *frame) {
	if f.Type == "" {
		f.Type = events.TypePing
	}

	switch f.Type {
	case events.TypePing:
		c.sendEvent(events.Pong{Type: events.TypePong, Timestamp: time.Now().UTC()})

	case events.TypeSwipe:
		sf := swipeFrame{MovieID: f.MovieID, Action: f.Action}
		if err := g.validate.Struct(sf); err != nil {
			c.sendEvent(events.NewError(fmt.Sprintf("Invalid swipe: %s", validationText(err))))
			return
		}
		res, err := g.swipes.RecordSwipe(context.Background(), c.room.Code, c.userID, &services.SwipeRequest{
			MovieID: sf.MovieID,
			Action:  models.SwipeAction(sf.Action),
		})
		switch {
		case err == nil:
			c.sendEvent(SwipeResultFrame{Type: events.TypeSwipeResult, SwipeResult: res})
		case errors.Is(err, services.ErrNotMember), errors.Is(err, services.ErrGroupNotFound):
			// 连接期间被移出群组
			c.CloseWith(CloseNotMember, "not a member of this group")
		default:
			c.logger.Error("record swipe failed", zap.Error(err))
			c.sendEvent(events.NewError("Failed to record swipe"))
		}

	default:
		c.sendEvent(events.NewError("Unknown message type: " + f.Type))
	}
}

func validationText(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("%s failed %s", verrs[0].Field(), verrs[0].Tag())
	}
	return err.Error()
}
