package ws

import (
	"encoding/json"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/internal/events"
	"github.com/Gopher0727/CineMatch/internal/metrics"
)

// Hub 进程内的房间广播中心。
// 注册表锁只保护 rooms，持有时从不获取房间锁；每个房间有自己的读写锁，不同房间互不阻塞
type Hub struct {
	mu    sync.Mutex
	rooms map[events.Room]*room

	metrics *metrics.Metrics
	logger  *zap.Logger
}

type room struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
	// closed 房间已为空并即将从注册表删除，订阅者需要重新查找
	closed bool
}

func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		rooms:   make(map[events.Room]*room),
		metrics: m,
		logger:  logger,
	}
}

// lookup 只在注册表锁内查找或创建房间，不触碰房间锁
func (h *Hub) lookup(r events.Room, create bool) *room {
	h.mu.Lock()
	defer h.mu.Unlock()

	rm, ok := h.rooms[r]
	if !ok && create {
		rm = &room{conns: make(map[*Conn]struct{})}
		h.rooms[r] = rm
	}
	return rm
}

// Subscribe 把连接加入房间
func (h *Hub) Subscribe(c *Conn, r events.Room) {
	for {
		rm := h.lookup(r, true)

		rm.mu.Lock()
		if rm.closed {
			// 与删除空房间竞争，等注册表更新后重试
			rm.mu.Unlock()
			runtime.Gosched()
			continue
		}
		if _, exists := rm.conns[c]; !exists {
			rm.conns[c] = struct{}{}
			h.metrics.Subscribers.WithLabelValues(string(r.Kind)).Inc()
		}
		rm.mu.Unlock()
		return
	}
}

// Unsubscribe 把连接移出房间，房间为空时删除
func (h *Hub) Unsubscribe(c *Conn, r events.Room) {
	rm := h.lookup(r, false)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	if _, exists := rm.conns[c]; exists {
		delete(rm.conns, c)
		h.metrics.Subscribers.WithLabelValues(string(r.Kind)).Dec()
	}
	remove := len(rm.conns) == 0 && !rm.closed
	if remove {
		rm.closed = true
	}
	rm.mu.Unlock()

	if remove {
		h.mu.Lock()
		if h.rooms[r] == rm {
			delete(h.rooms, r)
		}
		h.mu.Unlock()
	}
}

// Kick 断开某个用户在房间内的全部连接，返回断开的数量
func (h *Hub) Kick(r events.Room, userID uint) int {
	rm := h.lookup(r, false)
	if rm == nil {
		return 0
	}

	var targets []*Conn
	rm.mu.RLock()
	for c := range rm.conns {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	rm.mu.RUnlock()

	// CloseWith 会回调 Unsubscribe，必须在房间锁外执行
	for _, c := range targets {
		c.CloseWith(CloseNotMember, "no longer a member of this group")
	}
	return len(targets)
}

// Publish 发送给房间内所有连接
func (h *Hub) Publish(r events.Room, event any) {
	h.publish(r, event, 0)
}

// PublishExcept 发送给房间内除 userID 以外的连接 (输入状态不回显给自己)
func (h *Hub) PublishExcept(r events.Room, event any, userID uint) {
	h.publish(r, event, userID)
}

// publish 只序列化一次。入队不阻塞，队列已满的连接被关闭，客户端需要重连
func (h *Hub) publish(r events.Room, event any, except uint) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal event failed", zap.String("room", r.String()), zap.Error(err))
		return
	}

	rm := h.lookup(r, false)
	if rm == nil {
		return
	}

	var overflow []*Conn
	rm.mu.RLock()
	for c := range rm.conns {
		if except != 0 && c.userID == except {
			continue
		}
		if !c.enqueue(data) {
			overflow = append(overflow, c)
		}
	}
	rm.mu.RUnlock()

	// Close 会回调 Unsubscribe，必须在房间锁外执行
	for _, c := range overflow {
		h.metrics.DroppedConns.Inc()
		h.logger.Warn("send queue full, dropping connection",
			zap.String("room", r.String()),
			zap.Uint("user_id", c.userID),
		)
		c.Close()
	}
}

// Stats 每个房间当前的连接数
func (h *Hub) Stats() map[string]int {
	h.mu.Lock()
	rooms := make(map[events.Room]*room, len(h.rooms))
	for r, rm := range h.rooms {
		rooms[r] = rm
	}
	h.mu.Unlock()

	stats := make(map[string]int, len(rooms))
	for r, rm := range rooms {
		rm.mu.RLock()
		n := len(rm.conns)
		rm.mu.RUnlock()
		if n > 0 {
			stats[r.String()] = n
		}
	}
	return stats
}
