package chainrpc

import (
	"sync"
	"time"

	"github.com/rampline/settlement/pkg/common/logger"
)

const nodeRecoveryWindow = 30 * time.Second

// NodePool rotates over a network's RPC nodes, skipping recently failed
// ones until their recovery window passes.
type NodePool struct {
	nodes       []string
	currentIdx  int
	failedNodes map[string]time.Time
	mutex       sync.RWMutex
}

func NewNodePool(nodes []string) *NodePool {
	return &NodePool{
		nodes:       nodes,
		failedNodes: make(map[string]time.Time),
	}
}

func (p *NodePool) GetNext() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.nodes) == 0 {
		return ""
	}

	for i := 0; i < len(p.nodes); i++ {
		node := p.nodes[p.currentIdx]
		p.currentIdx = (p.currentIdx + 1) % len(p.nodes)

		if failTime, exists := p.failedNodes[node]; !exists || time.Since(failTime) > nodeRecoveryWindow {
			return node
		}
	}

	// all nodes failed recently; reset failures and hand out the first one
	p.failedNodes = make(map[string]time.Time)
	return p.nodes[0]
}

func (p *NodePool) MarkFailed(node string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.failedNodes[node] = time.Now()
	logger.Debug("Node marked as failed", "node", node)
}
