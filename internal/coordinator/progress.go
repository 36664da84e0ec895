package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/ledger"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// ProgressStake reveals the secret on the origin outbox, releasing the
// bounty. The auxiliary inbox must already hold the intent.
func (c *Coordinator) ProgressStake(ctx context.Context, req *protocol.ProgressRequest) (res *ProgressResult, err error) {
	defer c.observe(OpProgressStake, time.Now(), &err)
	return c.progressRequest(ctx, req, c.origin, protocol.Outbox)
}

// ProgressMint reveals the secret on the auxiliary inbox, minting utility
// tokens for the beneficiary.
func (c *Coordinator) ProgressMint(ctx context.Context, req *protocol.ProgressRequest) (res *ProgressResult, err error) {
	defer c.observe(OpProgressMint, time.Now(), &err)
	return c.progressRequest(ctx, req, c.auxiliary, protocol.Inbox)
}

// ProgressRedeem reveals the secret on the auxiliary outbox. The origin inbox
// must already hold the intent.
func (c *Coordinator) ProgressRedeem(ctx context.Context, req *protocol.ProgressRequest) (res *ProgressResult, err error) {
	defer c.observe(OpProgressRedeem, time.Now(), &err)
	return c.progressRequest(ctx, req, c.auxiliary, protocol.Outbox)
}

// ProgressUnstake reveals the secret on the origin inbox, releasing value
// tokens to the beneficiary.
func (c *Coordinator) ProgressUnstake(ctx context.Context, req *protocol.ProgressRequest) (res *ProgressResult, err error) {
	defer c.observe(OpProgressUnstake, time.Now(), &err)
	return c.progressRequest(ctx, req, c.origin, protocol.Inbox)
}

// ProgressStakeComposite confirms the stake and then progresses both ledgers
// concurrently. On failure the result still carries the branch that
// succeeded.
func (c *Coordinator) ProgressStakeComposite(ctx context.Context, req *protocol.CompleteRequest) (res *CompositeResult, err error) {
	defer c.observe(OpProgressStakeComposite, time.Now(), &err)

	msg, secret, opts, err := req.Validate(protocol.StakeIntent)
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, msg, secret, opts)
}

// ProgressRedeemComposite is the redeem counterpart of
// ProgressStakeComposite.
func (c *Coordinator) ProgressRedeemComposite(ctx context.Context, req *protocol.CompleteRequest) (res *CompositeResult, err error) {
	defer c.observe(OpProgressRedeemComposite, time.Now(), &err)

	msg, secret, opts, err := req.Validate(protocol.RedeemIntent)
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, msg, secret, opts)
}

func (c *Coordinator) progressRequest(ctx context.Context, req *protocol.ProgressRequest, s *side, box protocol.Box) (*ProgressResult, error) {
	p, err := req.Validate()
	if err != nil {
		return nil, err
	}
	return c.progress(ctx, s, box, p.MessageHash, p.UnlockSecret, p.TxOptions)
}

// progress finalizes one box. Progressed resolves without a transaction;
// every other status except Declared is a sequencing error.
func (c *Coordinator) progress(ctx context.Context, s *side, box protocol.Box, hash, secret common.Hash, opts protocol.TxOptions) (*ProgressResult, error) {
	op := ledger.ProgressOp(s.side, box)
	res := &ProgressResult{MessageHash: hash, Side: s.side.String(), Box: box.String()}

	st, err := status(ctx, s, box, hash)
	if err != nil {
		return nil, err
	}
	switch st {
	case protocol.Progressed:
		res.AlreadyProgressed = true
		return res, nil
	case protocol.Declared:
	default:
		return nil, &protocol.SequencingError{Op: op, Side: s.side, Box: box, Status: st}
	}

	// A source outbox is progressed only once the target inbox holds the
	// intent.
	if box == protocol.Outbox {
		target := c.ledger(s.side.Other())
		inbox, err := status(ctx, target, protocol.Inbox, hash)
		if err != nil {
			return nil, err
		}
		if inbox != protocol.Declared && inbox != protocol.Progressed {
			return nil, &protocol.SequencingError{Op: op, Side: target.side, Box: protocol.Inbox, Status: inbox}
		}
	}

	receipt, err := c.submit(s, op, func() (*protocol.Receipt, error) {
		return s.gw.SubmitProgress(ctx, box, hash, secret, opts.WithValue(nil))
	})
	if err != nil {
		return nil, err
	}
	c.record(hash, s, op, receipt)
	res.Receipt = receipt
	return res, nil
}

// complete runs confirm, then both progress steps. The branches target
// independent ledgers: neither cancels the other and both errors are kept.
func (c *Coordinator) complete(ctx context.Context, msg *protocol.Message, secret common.Hash, opts protocol.TxOptions) (*CompositeResult, error) {
	conf, err := c.confirm(ctx, msg, opts)
	if err != nil {
		return nil, err
	}
	res := &CompositeResult{MessageHash: conf.MessageHash, Confirm: conf}

	src := c.ledger(msg.Intent.SourceSide())
	dst := c.ledger(src.side.Other())
	branches := []struct {
		s   *side
		box protocol.Box
		res *ProgressResult
		err error
	}{
		{s: src, box: protocol.Outbox},
		{s: dst, box: protocol.Inbox},
	}

	var wg sync.WaitGroup
	for i := range branches {
		b := &branches[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.res, b.err = c.progress(ctx, b.s, b.box, conf.MessageHash, secret, opts)
		}()
	}
	wg.Wait()

	var errs []error
	for _, b := range branches {
		if b.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.s.side, b.err))
			continue
		}
		if b.s.side == protocol.Origin {
			res.Origin = b.res
		} else {
			res.Auxiliary = b.res
		}
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("Composite progress incomplete", "hash", conf.MessageHash, "origin", res.Origin != nil, "auxiliary", res.Auxiliary != nil)
		return res, err
	}
	return res, nil
}
