// Package simledger is an in-memory ledger pair for tests and the simulated
// dev mode. State lives in a go-ethereum StateDB committed once per
// transaction, so inclusion proofs are real Merkle-Patricia proofs.
package simledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"

	"github.com/sharding-experiment/facilitator/internal/proof"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Chain is one simulated ledger. Every successful transaction is its own
// block.
type Chain struct {
	side protocol.Side

	mu       sync.Mutex
	db       state.Database
	stateDB  *state.StateDB
	height   uint64
	roots    map[uint64]common.Hash
	retain   uint64
	receipts *protocol.ReceiptStore
	watchers []func(protocol.AnchorCheckpoint)

	logger log.Logger
}

type ChainOption func(*Chain)

// WithRetention keeps only the last n state roots provable; older heights
// behave like pruned state. Zero keeps everything.
func WithRetention(n uint64) ChainOption {
	return func(c *Chain) { c.retain = n }
}

func NewChain(side protocol.Side, opts ...ChainOption) (*Chain, error) {
	memDB := rawdb.NewMemoryDatabase()
	db := state.NewDatabase(triedb.NewDatabase(memDB, nil), nil)
	stateDB, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		side:     side,
		db:       db,
		stateDB:  stateDB,
		roots:    map[uint64]common.Hash{0: types.EmptyRootHash},
		receipts: protocol.NewReceiptStore(),
		logger:   log.New("component", "simledger", "side", side),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Chain) Side() protocol.Side { return c.side }

// Height returns the latest block height.
func (c *Chain) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Latest returns the newest (height, root) pair.
func (c *Chain) Latest() protocol.AnchorCheckpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.AnchorCheckpoint{BlockHeight: c.height, StateRoot: c.roots[c.height]}
}

// StateRoot returns the root at height if it is still retained.
func (c *Chain) StateRoot(height uint64) (common.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	root, ok := c.roots[height]
	return root, ok
}

// OnCommit registers fn to run after every block, under the chain lock. fn
// must not call back into this chain.
func (c *Chain) OnCommit(fn func(protocol.AnchorCheckpoint)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// Receipt returns a mined receipt by transaction hash.
func (c *Chain) Receipt(hash common.Hash) *protocol.Receipt {
	return c.receipts.Get(hash)
}

// Fund credits native balance, e.g. to pay redeem bounties.
func (c *Chain) Fund(addr common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateDB.AddBalance(addr, uint256.MustFromBig(amount), tracing.BalanceChangeUnspecified)
	_, err := c.commitLocked("fund", common.Address{}, addr, nil)
	return err
}

// Balance returns the native balance at the latest block.
func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateDB.GetBalance(addr).ToBig()
}

// GetInclusionProof serves eth_getProof shaped proofs at retained heights.
func (c *Chain) GetInclusionProof(ctx context.Context, account common.Address, slots []common.Hash, height uint64) (*protocol.AccountProof, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	root, ok := c.roots[height]
	if !ok {
		return nil, fmt.Errorf("%w: %s height %d (latest %d)", protocol.ErrBlockUnavailable, c.side, height, c.height)
	}
	res, err := proof.ProveState(c.db.TrieDB(), root, account, slots)
	if err != nil {
		return nil, err
	}
	res.BlockHeight = height
	return res, nil
}

// commitLocked seals the pending state into a new block and records a
// receipt for it.
func (c *Chain) commitLocked(op string, from, to common.Address, logs []*types.Log) (*protocol.Receipt, error) {
	next := c.height + 1
	root, err := c.stateDB.Commit(next, false, false)
	if err != nil {
		return nil, fmt.Errorf("commit block %d: %w", next, err)
	}

	// Recreate StateDB at the new root so cached tries aren't reused after commit
	stateDB, err := state.New(root, c.db)
	if err != nil {
		return nil, fmt.Errorf("reload state at %s: %w", root.Hex(), err)
	}
	c.stateDB = stateDB
	c.height = next
	c.roots[next] = root
	if c.retain > 0 && next > c.retain {
		delete(c.roots, next-c.retain)
	}

	var num [8]byte
	binary.BigEndian.PutUint64(num[:], next)
	txHash := crypto.Keccak256Hash([]byte(c.side.String()), num[:], []byte(op))
	for i, l := range logs {
		l.TxHash = txHash
		l.BlockNumber = next
		l.Index = uint(i)
	}
	receipt := &protocol.Receipt{
		TxHash:      txHash,
		BlockHash:   crypto.Keccak256Hash(root.Bytes(), num[:]),
		BlockNumber: (*hexutil.Big)(new(big.Int).SetUint64(next)),
		From:        from,
		To:          &to,
		GasUsed:     21000,
		Logs:        logs,
		Status:      hexutil.Uint64(types.ReceiptStatusSuccessful),
	}
	c.receipts.Add(receipt)

	cp := protocol.AnchorCheckpoint{BlockHeight: next, StateRoot: root}
	for _, fn := range c.watchers {
		fn(cp)
	}
	c.logger.Debug("Block committed", "op", op, "height", next, "root", root)
	return receipt.DeepCopy(), nil
}
