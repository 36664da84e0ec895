// Package coordinator drives stake and redeem messages between the origin
// and auxiliary ledgers: declare, confirm with an anchored proof, progress
// with the unlock secret. Every step reads ledger status first and skips work
// the ledger already recorded, so any call may be repeated.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/sharding-experiment/facilitator/internal/anchor"
	"github.com/sharding-experiment/facilitator/internal/journal"
	"github.com/sharding-experiment/facilitator/internal/ledger"
	"github.com/sharding-experiment/facilitator/internal/metrics"
	"github.com/sharding-experiment/facilitator/internal/proof"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Operation names, as used in metrics labels and logs.
const (
	OpStake                   = "stake"
	OpConfirmStakeIntent      = "confirmStakeIntent"
	OpProgressStake           = "progressStake"
	OpProgressMint            = "progressMint"
	OpProgressStakeComposite  = "progressStakeComposite"
	OpRedeem                  = "redeem"
	OpConfirmRedeemIntent     = "confirmRedeemIntent"
	OpProgressRedeem          = "progressRedeem"
	OpProgressUnstake         = "progressUnstake"
	OpProgressRedeemComposite = "progressRedeemComposite"
	OpStatus                  = "status"
)

// Ledger wires one side.
type Ledger struct {
	Gateway ledger.Gateway
	// Anchor reads the checkpoints of the other ledger anchored on this one.
	Anchor anchor.Reader
	// Proofs serves inclusion proofs of this ledger's state.
	Proofs proof.Provider
}

// Recorder receives every mined step. *journal.Journal implements it.
type Recorder interface {
	Append(e journal.Entry) error
}

// Config holds the collaborators of a Coordinator.
type Config struct {
	Origin    Ledger
	Auxiliary Ledger

	// Storage slot indices of the message mappings; zero uses the defaults.
	OutboxSlot uint64
	InboxSlot  uint64

	Metrics *metrics.Metrics
	Journal Recorder
}

type side struct {
	side      protocol.Side
	gw        ledger.Gateway
	anchor    *anchor.Monotonic
	assembler *proof.Assembler
}

// Coordinator holds no mutable state of its own. Concurrent calls for the
// same message are safe because the ledgers enforce at-most-once transitions.
type Coordinator struct {
	origin    *side
	auxiliary *side
	metrics   *metrics.Metrics
	journal   Recorder
	logger    log.Logger
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.OutboxSlot == 0 && cfg.InboxSlot == 0 {
		cfg.OutboxSlot, cfg.InboxSlot = proof.DefaultOutboxSlot, proof.DefaultInboxSlot
	}
	if cfg.OutboxSlot == cfg.InboxSlot {
		return nil, fmt.Errorf("outbox and inbox slot indices must differ, both are %d", cfg.OutboxSlot)
	}
	logger := log.New("component", "coordinator")
	build := func(s protocol.Side, l Ledger) (*side, error) {
		if l.Gateway == nil || l.Anchor == nil || l.Proofs == nil {
			return nil, fmt.Errorf("%s ledger: gateway, anchor and proof provider are required", s)
		}
		if l.Gateway.Side() != s {
			return nil, fmt.Errorf("%s ledger: gateway reports side %s", s, l.Gateway.Side())
		}
		return &side{
			side:   s,
			gw:     l.Gateway,
			anchor: anchor.NewMonotonic(s.String(), l.Anchor),
			assembler: proof.NewAssembler(l.Proofs,
				proof.WithSlotIndices(cfg.OutboxSlot, cfg.InboxSlot),
				proof.WithLogger(logger.New("side", s))),
		}, nil
	}
	origin, err := build(protocol.Origin, cfg.Origin)
	if err != nil {
		return nil, err
	}
	aux, err := build(protocol.Auxiliary, cfg.Auxiliary)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		origin:    origin,
		auxiliary: aux,
		metrics:   cfg.Metrics,
		journal:   cfg.Journal,
		logger:    logger,
	}, nil
}

func (c *Coordinator) ledger(s protocol.Side) *side {
	if s == protocol.Auxiliary {
		return c.auxiliary
	}
	return c.origin
}

// observe records an operation outcome; call as defer c.observe(op, time.Now(), &err).
func (c *Coordinator) observe(op string, start time.Time, errp *error) {
	err := *errp
	c.metrics.ObserveOperation(op, start, err)
	if err != nil {
		c.logger.Debug("Operation failed", "op", op, "kind", protocol.ErrorKind(err), "err", err)
	}
}

// submit sends one transaction and normalizes failures to SubmissionError.
func (c *Coordinator) submit(s *side, op string, send func() (*protocol.Receipt, error)) (*protocol.Receipt, error) {
	c.metrics.CountSubmission(s.side, op)
	receipt, err := send()
	if err == nil && receipt != nil && !receipt.Succeeded() {
		err = protocol.ErrReverted
	}
	if err != nil {
		return receipt, &protocol.SubmissionError{Op: op, Side: s.side, Err: err}
	}
	if receipt == nil {
		return nil, &protocol.SubmissionError{Op: op, Side: s.side, Err: errors.New("no receipt")}
	}
	c.logger.Info("Step mined", "op", op, "side", s.side, "tx", receipt.TxHash, "block", receipt.Block())
	return receipt, nil
}

// record journals a mined step. Journal failures are logged, never returned.
func (c *Coordinator) record(hash common.Hash, s *side, op string, receipt *protocol.Receipt) {
	if c.journal == nil || receipt == nil {
		return
	}
	err := c.journal.Append(journal.Entry{
		MessageHash: hash,
		Op:          op,
		Side:        s.side.String(),
		TxHash:      receipt.TxHash,
		BlockNumber: receipt.Block(),
	})
	if err != nil {
		c.logger.Warn("Failed to journal step", "op", op, "hash", hash, "err", err)
	}
}

func status(ctx context.Context, s *side, box protocol.Box, hash common.Hash) (protocol.MessageStatus, error) {
	st, err := ledger.MessageStatus(ctx, s.gw, box, hash)
	if err != nil {
		return 0, fmt.Errorf("read %s %s status: %w", s.side, box, err)
	}
	return st, nil
}
