package simledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharding-experiment/facilitator/internal/ledger"
	"github.com/sharding-experiment/facilitator/internal/proof"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

var (
	staker      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	beneficiary = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newPair(t *testing.T, cfg PairConfig) *Pair {
	t.Helper()
	p, err := NewPair(cfg)
	require.NoError(t, err)
	p.FundStaker(staker, big.NewInt(1_000_000))
	require.NoError(t, p.FundFacilitator(staker, big.NewInt(1_000_000)))
	return p
}

func stakeMessage(nonce int64, lock common.Hash) *protocol.Message {
	return &protocol.Message{
		Intent:      protocol.StakeIntent,
		Sender:      staker,
		Nonce:       big.NewInt(nonce),
		Amount:      big.NewInt(1000),
		Beneficiary: beneficiary,
		Gateway:     GatewayAddress,
		GasPrice:    big.NewInt(1),
		GasLimit:    big.NewInt(10),
		HashLock:    lock,
	}
}

func TestChainCommitAndRetention(t *testing.T) {
	c, err := NewChain(protocol.Origin, WithRetention(2))
	require.NoError(t, err)
	ctx := context.Background()

	var seen []protocol.AnchorCheckpoint
	c.OnCommit(func(cp protocol.AnchorCheckpoint) { seen = append(seen, cp) })

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Fund(staker, big.NewInt(1)))
	}
	require.Equal(t, uint64(3), c.Height())
	require.Len(t, seen, 3)
	require.Equal(t, seen[2], c.Latest())
	require.Equal(t, int64(3), c.Balance(staker).Int64())

	_, ok := c.StateRoot(1)
	require.False(t, ok, "height 1 is outside the retention window")
	_, err = c.GetInclusionProof(ctx, staker, nil, 1)
	require.ErrorIs(t, err, protocol.ErrBlockUnavailable)

	res, err := c.GetInclusionProof(ctx, staker, nil, 3)
	require.NoError(t, err)
	acc, err := proof.VerifyAccount(seen[2].StateRoot, staker, res.AccountProof)
	require.NoError(t, err)
	require.Equal(t, uint64(3), acc.Balance.Uint64())
}

// TestStakeConfirmProgress drives the contracts by hand with real proofs.
func TestStakeConfirmProgress(t *testing.T) {
	p := newPair(t, PairConfig{Bounty: big.NewInt(50)})
	ctx := context.Background()
	opts := protocol.TxOptions{From: staker}
	hl, err := protocol.NewHashLock()
	require.NoError(t, err)
	msg := stakeMessage(0, hl.Lock)

	_, err = p.Gateway.ApproveAllowance(ctx, protocol.ValueToken, msg.Amount, opts)
	require.NoError(t, err)
	_, err = p.Gateway.ApproveAllowance(ctx, protocol.BaseToken, big.NewInt(50), opts)
	require.NoError(t, err)

	receipt, err := p.Gateway.SubmitStake(ctx, msg, opts)
	require.NoError(t, err)
	declared, ok := ledger.DeclaredMessageHash(receipt, GatewayAddress, protocol.StakeIntent)
	require.True(t, ok)
	require.Equal(t, msg.Hash(), declared)
	require.Equal(t, int64(1000), p.ValueToken.BalanceOf(GatewayAddress).Int64())

	status, err := p.Gateway.GetOutboxMessageStatus(ctx, declared)
	require.NoError(t, err)
	require.Equal(t, protocol.Declared, status)
	nonce, _ := p.Gateway.GetNonce(ctx, staker)
	require.Equal(t, int64(1), nonce.Int64())

	// replaying the nonce reverts
	_, err = p.Gateway.SubmitStake(ctx, msg, opts)
	require.ErrorIs(t, err, protocol.ErrReverted)

	cp, err := p.AnchorOrigin()
	require.NoError(t, err)
	bundle, err := proof.NewAssembler(p.Origin).Assemble(ctx, GatewayAddress, declared, protocol.Outbox, cp)
	require.NoError(t, err)

	// confirming before proving the account reverts
	_, err = p.CoGateway.SubmitConfirmIntent(ctx, msg, cp.BlockHeight, bundle, opts)
	require.ErrorIs(t, err, protocol.ErrReverted)

	_, err = p.CoGateway.SubmitProveAccount(ctx, bundle, opts)
	require.NoError(t, err)
	_, err = p.CoGateway.SubmitConfirmIntent(ctx, msg, cp.BlockHeight, bundle, opts)
	require.NoError(t, err)
	status, _ = p.CoGateway.GetInboxMessageStatus(ctx, declared)
	require.Equal(t, protocol.Declared, status)

	// wrong secret is rejected by the contract
	_, err = p.CoGateway.SubmitProgress(ctx, protocol.Inbox, declared, common.HexToHash("0x01"), opts)
	require.ErrorIs(t, err, protocol.ErrReverted)

	_, err = p.CoGateway.SubmitProgress(ctx, protocol.Inbox, declared, hl.Secret, opts)
	require.NoError(t, err)
	_, err = p.Gateway.SubmitProgress(ctx, protocol.Outbox, declared, hl.Secret, opts)
	require.NoError(t, err)

	// reward = 1*10 to the caller, the rest to the beneficiary
	assert.Equal(t, int64(990), p.UtilityToken.BalanceOf(beneficiary).Int64())
	assert.Equal(t, int64(10), p.UtilityToken.BalanceOf(staker).Int64())
	assert.Zero(t, p.BaseToken.BalanceOf(GatewayAddress).Sign(), "bounty returned")

	// progressing twice is rejected at the contract
	_, err = p.Gateway.SubmitProgress(ctx, protocol.Outbox, declared, hl.Secret, opts)
	require.ErrorIs(t, err, protocol.ErrReverted)
	assert.Equal(t, 2, p.Gateway.Submissions("progressStake"))
}

func TestProveAccountRejectsUnanchoredHeight(t *testing.T) {
	p := newPair(t, PairConfig{})
	ctx := context.Background()
	bundle, err := proof.NewAssembler(p.Origin).Assemble(ctx, GatewayAddress, common.HexToHash("0x01"), protocol.Outbox, p.Origin.Latest())
	var perr *protocol.ProofError
	require.ErrorAs(t, err, &perr, "nothing declared yet")
	require.Nil(t, bundle)

	_, err = p.CoGateway.SubmitProveAccount(ctx, &protocol.ProofBundle{BlockHeight: 99, Account: GatewayAddress}, protocol.TxOptions{From: staker})
	require.ErrorIs(t, err, protocol.ErrReverted)
}

func TestStakeRequiresAllowances(t *testing.T) {
	p := newPair(t, PairConfig{Bounty: big.NewInt(50)})
	ctx := context.Background()
	opts := protocol.TxOptions{From: staker}
	msg := stakeMessage(0, common.HexToHash("0x01"))

	_, err := p.Gateway.SubmitStake(ctx, msg, opts)
	require.ErrorIs(t, err, protocol.ErrReverted)

	_, err = p.Gateway.ApproveAllowance(ctx, protocol.ValueToken, msg.Amount, opts)
	require.NoError(t, err)
	_, err = p.Gateway.SubmitStake(ctx, msg, opts)
	require.ErrorIs(t, err, protocol.ErrReverted, "bounty allowance still missing")

	ok, err := p.Gateway.IsAllowanceSufficient(ctx, protocol.ValueToken, staker, msg.Amount)
	require.NoError(t, err)
	require.True(t, ok)
}

// TestSharedBaseTokenNeedsCombinedAllowance covers a value token that also
// pays the bounty.
func TestSharedBaseTokenNeedsCombinedAllowance(t *testing.T) {
	p := newPair(t, PairConfig{Bounty: big.NewInt(50), SharedBaseToken: true})
	ctx := context.Background()
	opts := protocol.TxOptions{From: staker}
	msg := stakeMessage(0, common.HexToHash("0x01"))

	_, err := p.Gateway.ApproveAllowance(ctx, protocol.ValueToken, msg.Amount, opts)
	require.NoError(t, err)
	_, err = p.Gateway.SubmitStake(ctx, msg, opts)
	require.ErrorIs(t, err, protocol.ErrReverted)

	_, err = p.Gateway.ApproveAllowance(ctx, protocol.ValueToken, big.NewInt(1050), opts)
	require.NoError(t, err)
	_, err = p.Gateway.SubmitStake(ctx, msg, opts)
	require.NoError(t, err)
}

func TestRedeemBounty(t *testing.T) {
	p := newPair(t, PairConfig{Bounty: big.NewInt(50)})
	ctx := context.Background()
	p.UtilityToken.Mint(staker, big.NewInt(1000))
	msg := stakeMessage(0, common.HexToHash("0x01"))
	msg.Intent = protocol.RedeemIntent

	_, err := p.CoGateway.ApproveAllowance(ctx, protocol.UtilityToken, msg.Amount, protocol.TxOptions{From: staker})
	require.NoError(t, err)

	_, err = p.CoGateway.SubmitRedeem(ctx, msg, protocol.TxOptions{From: staker, Value: big.NewInt(49)})
	require.ErrorIs(t, err, protocol.ErrReverted)

	before := p.Auxiliary.Balance(staker)
	r, err := p.CoGateway.SubmitRedeem(ctx, msg, protocol.TxOptions{From: staker, Value: big.NewInt(50)})
	require.NoError(t, err)
	_, ok := ledger.DeclaredMessageHash(r, CoGatewayAddress, protocol.RedeemIntent)
	require.True(t, ok)
	require.Equal(t, new(big.Int).Sub(before, big.NewInt(50)), p.Auxiliary.Balance(staker))
	require.Equal(t, int64(50), p.Auxiliary.Balance(CoGatewayAddress).Int64())

	_, err = p.Gateway.SubmitRedeem(ctx, msg, protocol.TxOptions{From: staker})
	require.ErrorIs(t, err, protocol.ErrUnsupportedOnSide)
}

func TestFailNextAndCorruptHash(t *testing.T) {
	p := newPair(t, PairConfig{})
	ctx := context.Background()
	boom := errors.New("connection reset")

	p.Gateway.FailNext(ledger.OpApprove, boom)
	_, err := p.Gateway.ApproveAllowance(ctx, protocol.ValueToken, big.NewInt(1), protocol.TxOptions{From: staker})
	require.ErrorIs(t, err, boom)
	_, err = p.Gateway.ApproveAllowance(ctx, protocol.ValueToken, big.NewInt(1000), protocol.TxOptions{From: staker})
	require.NoError(t, err)

	p.Gateway.CorruptDeclaredHash(true)
	msg := stakeMessage(0, common.HexToHash("0x01"))
	r, err := p.Gateway.SubmitStake(ctx, msg, protocol.TxOptions{From: staker})
	require.NoError(t, err)
	declared, ok := ledger.DeclaredMessageHash(r, GatewayAddress, protocol.StakeIntent)
	require.True(t, ok)
	require.NotEqual(t, msg.Hash(), declared)
}

func TestAutoAnchor(t *testing.T) {
	p := newPair(t, PairConfig{AutoAnchor: true})
	require.NoError(t, p.Origin.Fund(staker, big.NewInt(1)))

	cp, err := p.AuxiliaryAnchor.GetLatestAnchorCheckpoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, p.Origin.Latest(), cp)

	root, ok := p.AuxiliaryAnchor.StateRoot(cp.BlockHeight)
	require.True(t, ok)
	require.Equal(t, cp.StateRoot, root)
	require.Error(t, p.AuxiliaryAnchor.Record(protocol.AnchorCheckpoint{BlockHeight: 1, StateRoot: common.HexToHash("0x01")}))
}
