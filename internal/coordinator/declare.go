package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/ledger"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Stake declares a stake intent on the origin gateway. When the request has
// no hash lock a fresh one is generated and its secret returned.
func (c *Coordinator) Stake(ctx context.Context, req *protocol.StakeRequest) (res *DeclareResult, err error) {
	defer c.observe(OpStake, time.Now(), &err)

	params, err := req.Validate()
	if err != nil {
		return nil, err
	}
	return c.declare(ctx, protocol.StakeIntent, params)
}

// Redeem declares a redeem intent on the auxiliary co-gateway. The
// transaction value must equal the co-gateway bounty.
func (c *Coordinator) Redeem(ctx context.Context, req *protocol.RedeemRequest) (res *DeclareResult, err error) {
	defer c.observe(OpRedeem, time.Now(), &err)

	params, err := req.Validate()
	if err != nil {
		return nil, err
	}
	return c.declare(ctx, protocol.RedeemIntent, params)
}

// allowance is a token approval the declaration will spend.
type allowance struct {
	token  protocol.Token
	owner  common.Address
	amount *big.Int
}

func (c *Coordinator) declare(ctx context.Context, intent protocol.IntentKind, p *protocol.TransferParams) (*DeclareResult, error) {
	src := c.ledger(intent.SourceSide())
	op := ledger.DeclareOp(intent)
	opts := p.TxOptions
	facilitator := opts.From

	res := &DeclareResult{}
	if p.HashLock != nil {
		res.HashLock = *p.HashLock
	} else {
		hl, err := protocol.NewHashLock()
		if err != nil {
			return nil, err
		}
		res.HashLock = hl.Lock
		res.UnlockSecret = &hl.Secret
	}

	bounty, err := src.gw.Bounty(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s bounty: %w", src.side, err)
	}
	needs, err := c.allowances(ctx, src, intent, p, bounty)
	if err != nil {
		return nil, err
	}
	if intent == protocol.RedeemIntent {
		if opts.Value == nil || opts.Value.Cmp(bounty) != 0 {
			return nil, &protocol.ValidationError{Field: "txOptions.value", Reason: fmt.Sprintf("must equal the bounty %s", bounty)}
		}
	} else {
		opts = opts.WithValue(nil)
	}

	// Every read happens before the first submission.
	var missing []allowance
	for _, n := range needs {
		ok, err := src.gw.IsAllowanceSufficient(ctx, n.token, n.owner, n.amount)
		if err != nil {
			return nil, fmt.Errorf("read %s allowance: %w", n.token, err)
		}
		if ok {
			continue
		}
		if n.owner != facilitator {
			return nil, &protocol.PreconditionError{
				Reason: fmt.Sprintf("%s allowance of %s for the %s gateway is below %s", n.token, n.owner.Hex(), src.side, n.amount),
			}
		}
		missing = append(missing, n)
	}
	nonce, err := src.gw.GetNonce(ctx, p.Sender)
	if err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	for _, n := range missing {
		receipt, err := c.submit(src, ledger.OpApprove, func() (*protocol.Receipt, error) {
			return src.gw.ApproveAllowance(ctx, n.token, n.amount, opts.WithValue(nil))
		})
		if err != nil {
			return nil, err
		}
		res.Approvals = append(res.Approvals, receipt)
	}

	msg := &protocol.Message{
		Intent:      intent,
		Sender:      p.Sender,
		Nonce:       nonce,
		Amount:      p.Amount,
		Beneficiary: p.Beneficiary,
		Gateway:     src.gw.Address(),
		GasPrice:    p.GasPrice,
		GasLimit:    p.GasLimit,
		HashLock:    res.HashLock,
	}
	hash := msg.Hash()
	receipt, err := c.submit(src, op, func() (*protocol.Receipt, error) {
		if intent == protocol.RedeemIntent {
			return src.gw.SubmitRedeem(ctx, msg, opts)
		}
		return src.gw.SubmitStake(ctx, msg, opts)
	})
	if err != nil {
		return nil, err
	}
	for _, a := range res.Approvals {
		c.record(hash, src, ledger.OpApprove, a)
	}
	c.record(hash, src, op, receipt)

	res.Message = msg
	res.MessageHash = hash
	res.Receipt = receipt

	// The declaration is mined either way; the result carries the secret and
	// receipts even when the ledger disagrees about the hash.
	declared, ok := ledger.DeclaredMessageHash(receipt, src.gw.Address(), intent)
	if !ok {
		return res, fmt.Errorf("%s: %w: no declaration event in %s", op, protocol.ErrMessageHashMismatch, receipt.TxHash.Hex())
	}
	if declared != hash {
		c.logger.Error("Ledger declared a different message hash", "op", op, "declared", declared, "computed", hash, "tx", receipt.TxHash)
		return res, fmt.Errorf("%s: %w: ledger declared %s, computed %s", op, protocol.ErrMessageHashMismatch, declared.Hex(), hash.Hex())
	}
	c.logger.Info("Intent declared", "op", op, "hash", hash, "sender", p.Sender, "nonce", nonce, "amount", p.Amount)
	return res, nil
}

// allowances lists what the declaration spends. A stake spends the staker's
// value tokens and the facilitator's base-token bounty; when both are the same
// token and the same owner the approval must cover their sum. A redeem spends
// the redeemer's utility tokens and pays the bounty as value.
func (c *Coordinator) allowances(ctx context.Context, src *side, intent protocol.IntentKind, p *protocol.TransferParams, bounty *big.Int) ([]allowance, error) {
	if intent == protocol.RedeemIntent {
		return []allowance{{protocol.UtilityToken, p.Sender, p.Amount}}, nil
	}
	valueToken, err := src.gw.TokenAddress(ctx, protocol.ValueToken)
	if err != nil {
		return nil, fmt.Errorf("read value token: %w", err)
	}
	baseToken, err := src.gw.TokenAddress(ctx, protocol.BaseToken)
	if err != nil {
		return nil, fmt.Errorf("read base token: %w", err)
	}
	facilitator := p.TxOptions.From
	if valueToken == baseToken && p.Sender == facilitator {
		return []allowance{{protocol.ValueToken, p.Sender, new(big.Int).Add(p.Amount, bounty)}}, nil
	}
	needs := []allowance{{protocol.ValueToken, p.Sender, p.Amount}}
	if bounty.Sign() > 0 {
		needs = append(needs, allowance{protocol.BaseToken, facilitator, bounty})
	}
	return needs, nil
}
