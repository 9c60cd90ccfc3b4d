// Package snowflake 生成按时间递增的 64 位 ID，用于匹配记录和聊天消息
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch 2025-01-01 00:00:00 UTC，毫秒
	Epoch int64 = 1735689600000

	nodeBits     uint8 = 10
	sequenceBits uint8 = 12

	maxNodeID    int64 = -1 ^ (-1 << nodeBits)
	sequenceMask int64 = -1 ^ (-1 << sequenceBits)

	nodeShift = sequenceBits
	timeShift = sequenceBits + nodeBits
)

var (
	ErrInvalidNodeID       = errors.New("snowflake: node id out of range")
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
)

// Node 单个进程内的 ID 生成器，并发安全
type Node struct {
	mu       sync.Mutex
	nodeID   int64
	lastMs   int64
	sequence int64
	now      func() int64
}

// NewNode nodeID 取值 [0, 1023]
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Node{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// NextID 返回下一个 ID。同一毫秒内序号用尽时等待下一毫秒
func (n *Node) NextID() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.now()
	if ms < n.lastMs {
		return 0, ErrClockMovedBackwards
	}

	if ms == n.lastMs {
		n.sequence = (n.sequence + 1) & sequenceMask
		if n.sequence == 0 {
			for ms <= n.lastMs {
				ms = n.now()
			}
		}
	} else {
		n.sequence = 0
	}
	n.lastMs = ms

	return (ms-Epoch)<<timeShift | n.nodeID<<nodeShift | n.sequence, nil
}

// Time 从 ID 中还原生成时间
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch)
}

// NodeID 从 ID 中取出节点号
func NodeID(id int64) int64 {
	return (id >> nodeShift) & maxNodeID
}
