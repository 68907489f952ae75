package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	// 起始时间戳 2025-01-01 00:00:00 UTC
	epoch int64 = 1735689600000

	nodeBits     = 10
	sequenceBits = 12

	maxNodeID   = -1 ^ (-1 << nodeBits)
	maxSequence = -1 ^ (-1 << sequenceBits)

	nodeShift      = sequenceBits
	timestampShift = nodeBits + sequenceBits
)

// ID 雪花ID，按生成时间单调递增
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

func (id ID) Int64() int64 {
	return int64(id)
}

// Time 生成该 ID 的毫秒时间
func (id ID) Time() time.Time {
	return time.UnixMilli((int64(id) >> timestampShift) + epoch)
}

// Node 节点ID
func (id ID) Node() int64 {
	return (int64(id) >> nodeShift) & maxNodeID
}

// Parse 解析十进制字符串
func Parse(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snowflake: parse %q: %w", s, err)
	}
	return ID(n), nil
}

// Node 雪花ID生成器
type Node struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
	now      func() int64
}

// NewNode 创建生成器，nodeID 取值 0-1023
func NewNode(nodeID int64) (*Node, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, fmt.Errorf("snowflake: node id %d out of range [0, %d]", nodeID, maxNodeID)
	}
	return &Node{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate 生成ID，同一毫秒内序号用尽时等待下一毫秒；时钟回拨时沿用上次时间
func (n *Node) Generate() ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now < n.lastTime {
		now = n.lastTime
	}

	if now == n.lastTime {
		n.sequence = (n.sequence + 1) & maxSequence
		if n.sequence == 0 {
			for now <= n.lastTime {
				now = n.now()
			}
		}
	} else {
		n.sequence = 0
	}
	n.lastTime = now

	return ID(((now - epoch) << timestampShift) | (n.nodeID << nodeShift) | n.sequence)
}
