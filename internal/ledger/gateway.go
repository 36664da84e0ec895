// Package ledger is the facilitator's view of one ledger's gateway contract.
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Gateway is the query and command surface of one side's gateway contract
// (the gateway on origin, the co-gateway on auxiliary). Submit methods return
// the mined receipt; a reverted transaction is reported as an error wrapping
// protocol.ErrReverted, possibly together with its receipt.
type Gateway interface {
	Side() protocol.Side
	Address() common.Address

	GetOutboxMessageStatus(ctx context.Context, messageHash common.Hash) (protocol.MessageStatus, error)
	GetInboxMessageStatus(ctx context.Context, messageHash common.Hash) (protocol.MessageStatus, error)
	GetNonce(ctx context.Context, account common.Address) (*big.Int, error)
	Bounty(ctx context.Context) (*big.Int, error)
	TokenAddress(ctx context.Context, token protocol.Token) (common.Address, error)
	IsAllowanceSufficient(ctx context.Context, token protocol.Token, owner common.Address, amount *big.Int) (bool, error)

	ApproveAllowance(ctx context.Context, token protocol.Token, amount *big.Int, opts protocol.TxOptions) (*protocol.Receipt, error)
	SubmitStake(ctx context.Context, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error)
	SubmitRedeem(ctx context.Context, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error)
	SubmitProveAccount(ctx context.Context, bundle *protocol.ProofBundle, opts protocol.TxOptions) (*protocol.Receipt, error)
	SubmitConfirmIntent(ctx context.Context, msg *protocol.Message, height uint64, bundle *protocol.ProofBundle, opts protocol.TxOptions) (*protocol.Receipt, error)
	SubmitProgress(ctx context.Context, box protocol.Box, messageHash, unlockSecret common.Hash, opts protocol.TxOptions) (*protocol.Receipt, error)
}

// MessageStatus reads box of gateway.
func MessageStatus(ctx context.Context, gw Gateway, box protocol.Box, messageHash common.Hash) (protocol.MessageStatus, error) {
	if box == protocol.Inbox {
		return gw.GetInboxMessageStatus(ctx, messageHash)
	}
	return gw.GetOutboxMessageStatus(ctx, messageHash)
}

// Submitter signs and sends transactions and waits for them to be mined.
type Submitter interface {
	From() common.Address
	Submit(ctx context.Context, to common.Address, data []byte, opts protocol.TxOptions) (*protocol.Receipt, error)
}
