package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Gopher0727/CineMatch/internal/events"
)

const (
	writeWait  = 10 * time.Second    // 允许写入消息到对端的最大时间
	pongWait   = 60 * time.Second    // 允许读取下一个 pong 消息的最大时间
	pingPeriod = (pongWait * 9) / 10 // 发送 ping 到对端的周期。必须小于 pongWait
)

// 自定义关闭码
const (
	CloseUnauthenticated = 4001
	CloseNotMember       = 4003
)

// Conn 一个已订阅房间的 WebSocket 连接。
// 状态：Connecting -> Authenticated -> Subscribed -> Closed，前两个阶段在 Gateway 中完成
type Conn struct {
	hub  *Hub
	ws   *websocket.Conn
	room events.Room

	userID   uint
	username string

	// send 从不关闭，关闭信号走 done，避免广播时向已关闭的 channel 写入
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *rate.Limiter
	logger  *zap.Logger
}

func newConn(hub *Hub, ws *websocket.Conn, room events.Room, userID uint, username string, buffer int, limiter *rate.Limiter, logger *zap.Logger) *Conn {
	return &Conn{
		hub:      hub,
		ws:       ws,
		room:     room,
		userID:   userID,
		username: username,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		limiter:  limiter,
		logger:   logger,
	}
}

// enqueue 非阻塞入队。队列已满返回 false；已关闭的连接直接丢弃
func (c *Conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendEvent 只发给当前连接
func (c *Conn) sendEvent(event any) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("marshal event failed", zap.Error(err))
		return
	}
	if !c.enqueue(data) {
		c.hub.metrics.DroppedConns.Inc()
		c.Close()
	}
}

// Close 正常关闭，可重复调用
func (c *Conn) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith 以指定关闭码关闭连接并退出房间，只有第一次调用生效
func (c *Conn) CloseWith(code int, text string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.Unsubscribe(c, c.room)
		if c.ws != nil {
			// WriteControl 可以与写协程并发调用
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
			_ = c.ws.Close()
		}
	})
}

// Done 连接关闭后可读
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// readPump 读取客户端帧并交给 handle，读出错时关闭连接
func (c *Conn) readPump(readLimit int64, handle func(c *Conn, data []byte)) {
	defer c.Close()

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("read failed", zap.Uint("user_id", c.userID), zap.Error(err))
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendEvent(events.NewError("Rate limit exceeded"))
			continue
		}
		handle(c, data)
	}
}

// writePump 把队列中的消息逐帧写出，并定期发送 ping
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
