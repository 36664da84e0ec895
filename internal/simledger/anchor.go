package simledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Anchor is the anchor contract on one chain: the checkpoints of the other
// chain it trusts.
type Anchor struct {
	mu          sync.RWMutex
	checkpoints map[uint64]common.Hash
	latest      protocol.AnchorCheckpoint
}

func NewAnchor() *Anchor {
	return &Anchor{checkpoints: make(map[uint64]common.Hash)}
}

// Record anchors cp. Heights must strictly increase; re-recording the latest
// checkpoint is a no-op.
func (a *Anchor) Record(cp protocol.AnchorCheckpoint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cp == a.latest {
		return nil
	}
	if len(a.checkpoints) > 0 && cp.BlockHeight <= a.latest.BlockHeight {
		return fmt.Errorf("anchor height %d not above %d", cp.BlockHeight, a.latest.BlockHeight)
	}
	a.checkpoints[cp.BlockHeight] = cp.StateRoot
	a.latest = cp
	return nil
}

// StateRoot returns the anchored root at height.
func (a *Anchor) StateRoot(height uint64) (common.Hash, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	root, ok := a.checkpoints[height]
	return root, ok
}

// GetLatestAnchorCheckpoint returns the zero checkpoint until something is
// anchored.
func (a *Anchor) GetLatestAnchorCheckpoint(ctx context.Context) (protocol.AnchorCheckpoint, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest, nil
}

// Follow anchors the latest state of source.
func (a *Anchor) Follow(source *Chain) (protocol.AnchorCheckpoint, error) {
	cp := source.Latest()
	return cp, a.Record(cp)
}
