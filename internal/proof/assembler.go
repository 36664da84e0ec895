package proof

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Default storage indices of the message mappings in the gateway contracts.
const (
	DefaultOutboxSlot uint64 = 7
	DefaultInboxSlot  uint64 = 8
)

// Provider is the source-ledger node that walks tries for us.
type Provider interface {
	GetInclusionProof(ctx context.Context, account common.Address, slots []common.Hash, height uint64) (*protocol.AccountProof, error)
}

// Assembler turns a message hash and an anchored checkpoint into a proof
// bundle the target ledger can verify against its known root.
type Assembler struct {
	provider   Provider
	outboxSlot uint64
	inboxSlot  uint64
	logger     log.Logger
}

type Option func(*Assembler)

// WithSlotIndices overrides the mapping slot indices.
func WithSlotIndices(outbox, inbox uint64) Option {
	return func(a *Assembler) {
		a.outboxSlot = outbox
		a.inboxSlot = inbox
	}
}

func WithLogger(l log.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

func NewAssembler(provider Provider, opts ...Option) *Assembler {
	a := &Assembler{
		provider:   provider,
		outboxSlot: DefaultOutboxSlot,
		inboxSlot:  DefaultInboxSlot,
		logger:     log.New("component", "proof"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Slot returns the storage slot holding the status of messageHash in box.
func (a *Assembler) Slot(messageHash common.Hash, box protocol.Box) common.Hash {
	idx := a.outboxSlot
	if box == protocol.Inbox {
		idx = a.inboxSlot
	}
	return protocol.MessageSlot(messageHash, idx)
}

// Assemble proves the message slot of account at the checkpoint height. It
// never asks for "latest": the target ledger only knows the anchored root.
func (a *Assembler) Assemble(ctx context.Context, account common.Address, messageHash common.Hash, box protocol.Box, checkpoint protocol.AnchorCheckpoint) (*protocol.ProofBundle, error) {
	slot := a.Slot(messageHash, box)
	res, err := a.provider.GetInclusionProof(ctx, account, []common.Hash{slot}, checkpoint.BlockHeight)
	if err != nil {
		var perr *protocol.ProofError
		switch {
		case errors.As(err, &perr):
			return nil, err
		case errors.Is(err, protocol.ErrBlockUnavailable):
			return nil, &protocol.ProofError{Kind: protocol.ProofCheckpointUnavailable, Err: err}
		default:
			return nil, fmt.Errorf("inclusion proof for %s at %d: %w", account.Hex(), checkpoint.BlockHeight, err)
		}
	}
	if res == nil {
		return nil, malformed("empty response")
	}
	if res.Address != account {
		return nil, malformed("proof for %s, requested %s", res.Address.Hex(), account.Hex())
	}
	if len(res.StorageProof) != 1 || res.StorageProof[0].Key != slot {
		return nil, malformed("storage proof does not cover slot %s", slot.Hex())
	}
	if len(res.AccountProof) == 0 {
		return nil, malformed("account proof is empty")
	}
	storage := res.StorageProof[0]
	if storage.Value == nil || storage.Value.Sign() == 0 {
		return nil, &protocol.ProofError{
			Kind: protocol.ProofKeyAbsent,
			Err:  fmt.Errorf("message %s not set in %s at height %d", messageHash.Hex(), box, checkpoint.BlockHeight),
		}
	}

	encoded, err := EncodeAccount(res.Nonce, res.Balance, res.StorageHash, res.CodeHash)
	if err != nil {
		return nil, &protocol.ProofError{Kind: protocol.ProofMalformed, Err: err}
	}

	bundle := &protocol.ProofBundle{
		BlockHeight:    checkpoint.BlockHeight,
		StateRoot:      checkpoint.StateRoot,
		Account:        account,
		EncodedAccount: encoded,
		AccountProof:   toHexBytes(res.AccountProof),
		StorageRoot:    res.StorageHash,
		StorageSlot:    slot,
		StorageValue:   new(big.Int).Set(storage.Value),
		StorageProof:   toHexBytes(storage.Proof),
	}
	a.logger.Debug("Assembled proof", "account", account, "message", messageHash, "box", box,
		"height", checkpoint.BlockHeight, "accountNodes", len(bundle.AccountProof), "storageNodes", len(bundle.StorageProof))
	return bundle, nil
}

func malformed(format string, args ...interface{}) error {
	return &protocol.ProofError{Kind: protocol.ProofMalformed, Err: fmt.Errorf(format, args...)}
}

func toHexBytes(nodes [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(nodes))
	for i, n := range nodes {
		out[i] = common.CopyBytes(n)
	}
	return out
}

func stateAccount(nonce uint64, balance *big.Int, storageRoot, codeHash common.Hash) (*types.StateAccount, error) {
	if balance == nil {
		balance = new(big.Int)
	}
	bal, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, errors.New("account balance exceeds 256 bits")
	}
	return &types.StateAccount{
		Nonce:    nonce,
		Balance:  bal,
		Root:     storageRoot,
		CodeHash: codeHash.Bytes(),
	}, nil
}
