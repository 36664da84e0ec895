// Package anchor reads the checkpoints one ledger has committed to trusting
// from the other.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// ErrNoCheckpoint is returned while nothing has been anchored yet.
var ErrNoCheckpoint = errors.New("no checkpoint anchored")

// Reader returns the latest (height, state root) anchored on a ledger.
type Reader interface {
	GetLatestAnchorCheckpoint(ctx context.Context) (protocol.AnchorCheckpoint, error)
}

// Monotonic guards a Reader against regressions, e.g. a load-balanced
// endpoint answering from a lagging node. It remembers the highest checkpoint
// handed out and refuses anything older.
type Monotonic struct {
	reader Reader
	name   string

	mu      sync.Mutex
	highest protocol.AnchorCheckpoint
	seen    bool

	logger log.Logger
}

// NewMonotonic wraps reader; name labels log lines (usually the ledger side).
func NewMonotonic(name string, reader Reader) *Monotonic {
	return &Monotonic{
		reader: reader,
		name:   name,
		logger: log.New("component", "anchor", "side", name),
	}
}

// GetLatestAnchorCheckpoint returns a checkpoint no older than any previously
// returned one. A lower height yields ProofError{ProofCheckpointStale}.
func (m *Monotonic) GetLatestAnchorCheckpoint(ctx context.Context) (protocol.AnchorCheckpoint, error) {
	cp, err := m.reader.GetLatestAnchorCheckpoint(ctx)
	if err != nil {
		return protocol.AnchorCheckpoint{}, &protocol.ProofError{Kind: protocol.ProofCheckpointUnavailable, Err: err}
	}
	if cp.StateRoot == (common.Hash{}) {
		return protocol.AnchorCheckpoint{}, &protocol.ProofError{Kind: protocol.ProofCheckpointUnavailable, Err: ErrNoCheckpoint}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen {
		switch {
		case cp.BlockHeight < m.highest.BlockHeight:
			m.logger.Warn("Anchor regressed", "got", cp.BlockHeight, "highest", m.highest.BlockHeight)
			return protocol.AnchorCheckpoint{}, &protocol.ProofError{
				Kind: protocol.ProofCheckpointStale,
				Err:  fmt.Errorf("%s anchor at %d, already used %d", m.name, cp.BlockHeight, m.highest.BlockHeight),
			}
		case cp.BlockHeight == m.highest.BlockHeight && cp.StateRoot != m.highest.StateRoot:
			return protocol.AnchorCheckpoint{}, &protocol.ProofError{
				Kind: protocol.ProofMalformed,
				Err:  fmt.Errorf("%s anchor root changed at height %d: %s != %s", m.name, cp.BlockHeight, cp.StateRoot.Hex(), m.highest.StateRoot.Hex()),
			}
		}
	}
	if !m.seen || cp.BlockHeight > m.highest.BlockHeight {
		m.logger.Debug("Anchor advanced", "checkpoint", cp)
	}
	m.highest = cp
	m.seen = true
	return cp, nil
}

// Highest returns the newest checkpoint handed out so far.
func (m *Monotonic) Highest() (protocol.AnchorCheckpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highest, m.seen
}
