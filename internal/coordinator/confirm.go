package coordinator

import (
	"context"
	"time"

	"github.com/sharding-experiment/facilitator/internal/ledger"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// ConfirmStakeIntent proves on the auxiliary ledger that the stake was
// declared on origin.
func (c *Coordinator) ConfirmStakeIntent(ctx context.Context, req *protocol.ConfirmRequest) (res *ConfirmResult, err error) {
	defer c.observe(OpConfirmStakeIntent, time.Now(), &err)

	msg, opts, err := req.Validate(protocol.StakeIntent)
	if err != nil {
		return nil, err
	}
	return c.confirm(ctx, msg, opts)
}

// ConfirmRedeemIntent proves on origin that the redeem was declared on the
// auxiliary ledger.
func (c *Coordinator) ConfirmRedeemIntent(ctx context.Context, req *protocol.ConfirmRequest) (res *ConfirmResult, err error) {
	defer c.observe(OpConfirmRedeemIntent, time.Now(), &err)

	msg, opts, err := req.Validate(protocol.RedeemIntent)
	if err != nil {
		return nil, err
	}
	return c.confirm(ctx, msg, opts)
}

// confirm submits the account proof and then the intent confirmation on the
// target ledger, both at the latest checkpoint of the source anchored there.
func (c *Coordinator) confirm(ctx context.Context, msg *protocol.Message, opts protocol.TxOptions) (*ConfirmResult, error) {
	src := c.ledger(msg.Intent.SourceSide())
	dst := c.ledger(src.side.Other())
	op := ledger.ConfirmOp(dst.side)

	msg.Gateway = src.gw.Address()
	hash := msg.Hash()
	res := &ConfirmResult{MessageHash: hash}

	outbox, err := status(ctx, src, protocol.Outbox, hash)
	if err != nil {
		return nil, err
	}
	if outbox == protocol.Undeclared {
		return nil, &protocol.SequencingError{Op: op, Side: src.side, Box: protocol.Outbox, Status: outbox}
	}
	inbox, err := status(ctx, dst, protocol.Inbox, hash)
	if err != nil {
		return nil, err
	}
	if inbox != protocol.Undeclared {
		res.AlreadyConfirmed = true
		c.logger.Debug("Intent already confirmed", "op", op, "hash", hash, "inbox", inbox)
		return res, nil
	}
	// Only a Declared outbox slot proves the intent.
	if outbox != protocol.Declared {
		return nil, &protocol.SequencingError{Op: op, Side: src.side, Box: protocol.Outbox, Status: outbox}
	}

	cp, err := dst.anchor.GetLatestAnchorCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	bundle, err := src.assembler.Assemble(ctx, src.gw.Address(), hash, protocol.Outbox, cp)
	if err != nil {
		return nil, err
	}
	res.Checkpoint = &cp

	opts = opts.WithValue(nil)
	prove, err := c.submit(dst, ledger.OpProveGateway, func() (*protocol.Receipt, error) {
		return dst.gw.SubmitProveAccount(ctx, bundle, opts)
	})
	if err != nil {
		return nil, err
	}
	c.record(hash, dst, ledger.OpProveGateway, prove)
	res.ProveReceipt = prove

	confirmed, err := c.submit(dst, op, func() (*protocol.Receipt, error) {
		return dst.gw.SubmitConfirmIntent(ctx, msg, cp.BlockHeight, bundle, opts)
	})
	if err != nil {
		return nil, err
	}
	c.record(hash, dst, op, confirmed)
	res.ConfirmReceipt = confirmed

	c.logger.Info("Intent confirmed", "op", op, "hash", hash, "checkpoint", cp)
	return res, nil
}
