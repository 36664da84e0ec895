package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Status reads the four message slots of both ledgers concurrently.
func (c *Coordinator) Status(ctx context.Context, hash common.Hash) (res *StatusResult, err error) {
	defer c.observe(OpStatus, time.Now(), &err)

	res = &StatusResult{MessageHash: hash}
	g, gctx := errgroup.WithContext(ctx)
	read := func(s *side, box protocol.Box, into *protocol.MessageStatus) {
		g.Go(func() error {
			st, err := status(gctx, s, box, hash)
			if err != nil {
				return err
			}
			*into = st
			return nil
		})
	}
	read(c.origin, protocol.Outbox, &res.Origin.Outbox)
	read(c.origin, protocol.Inbox, &res.Origin.Inbox)
	read(c.auxiliary, protocol.Outbox, &res.Auxiliary.Outbox)
	read(c.auxiliary, protocol.Inbox, &res.Auxiliary.Inbox)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// LedgerHealth describes one side as seen by the coordinator.
type LedgerHealth struct {
	Gateway    common.Address             `json:"gateway"`
	Bounty     *big.Int                   `json:"bounty"`
	Checkpoint *protocol.AnchorCheckpoint `json:"checkpoint,omitempty"`
	// CheckpointError is set while no usable checkpoint is anchored; the
	// ledger itself may still be healthy.
	CheckpointError string `json:"checkpoint_error,omitempty"`
}

// Health queries both ledgers concurrently. It fails when a gateway cannot
// be read.
func (c *Coordinator) Health(ctx context.Context) (map[string]*LedgerHealth, error) {
	out := map[string]*LedgerHealth{
		protocol.Origin.String():    {Gateway: c.origin.gw.Address()},
		protocol.Auxiliary.String(): {Gateway: c.auxiliary.gw.Address()},
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range []*side{c.origin, c.auxiliary} {
		h := out[s.side.String()]
		g.Go(func() error {
			bounty, err := s.gw.Bounty(gctx)
			if err != nil {
				return fmt.Errorf("%s gateway: %w", s.side, err)
			}
			h.Bounty = bounty
			cp, err := s.anchor.GetLatestAnchorCheckpoint(gctx)
			if err != nil {
				h.CheckpointError = err.Error()
				return nil
			}
			h.Checkpoint = &cp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
