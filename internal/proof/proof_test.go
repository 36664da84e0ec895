package proof

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/stretchr/testify/require"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

var gateway = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

// committedState writes slots into gateway storage and commits at height 1.
type committedState struct {
	db   state.Database
	root common.Hash
}

func newCommittedState(t *testing.T, slots map[common.Hash]common.Hash) *committedState {
	t.Helper()
	db := state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil)
	sdb, err := state.New(types.EmptyRootHash, db)
	require.NoError(t, err)
	sdb.SetNonce(gateway, 1, tracing.NonceChangeUnspecified)
	for k, v := range slots {
		sdb.SetState(gateway, k, v)
	}
	root, err := sdb.Commit(1, false, false)
	require.NoError(t, err)
	return &committedState{db: db, root: root}
}

// GetInclusionProof serves height 1 only.
func (s *committedState) GetInclusionProof(ctx context.Context, account common.Address, slots []common.Hash, height uint64) (*protocol.AccountProof, error) {
	if height != 1 {
		return nil, fmt.Errorf("%w: height %d", protocol.ErrBlockUnavailable, height)
	}
	res, err := ProveState(s.db.TrieDB(), s.root, account, slots)
	if err != nil {
		return nil, err
	}
	res.BlockHeight = height
	return res, nil
}

type providerFunc func(ctx context.Context, account common.Address, slots []common.Hash, height uint64) (*protocol.AccountProof, error)

func (f providerFunc) GetInclusionProof(ctx context.Context, account common.Address, slots []common.Hash, height uint64) (*protocol.AccountProof, error) {
	return f(ctx, account, slots, height)
}

// TestProveStateVerifies checks generated proofs against the committed root.
func TestProveStateVerifies(t *testing.T) {
	slot := common.HexToHash("0x01")
	st := newCommittedState(t, map[common.Hash]common.Hash{slot: common.HexToHash("0x42")})

	res, err := ProveState(st.db.TrieDB(), st.root, gateway, []common.Hash{slot, common.HexToHash("0x02")})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccountProof)
	require.Equal(t, uint64(1), res.Nonce)

	acc, err := VerifyAccount(st.root, gateway, res.AccountProof)
	require.NoError(t, err)
	require.Equal(t, res.StorageHash, acc.Root)

	val, err := VerifyStorage(acc.Root, slot, res.StorageProof[0].Proof)
	require.NoError(t, err)
	require.Equal(t, int64(0x42), val.Int64())
	require.Equal(t, int64(0x42), res.StorageProof[0].Value.Int64())

	// absent slot proves zero
	val, err = VerifyStorage(acc.Root, common.HexToHash("0x02"), res.StorageProof[1].Proof)
	require.NoError(t, err)
	require.Zero(t, val.Sign())
}

func TestVerifyAccountAbsent(t *testing.T) {
	st := newCommittedState(t, map[common.Hash]common.Hash{common.HexToHash("0x01"): common.HexToHash("0x01")})
	other := common.HexToAddress("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")

	res, err := ProveState(st.db.TrieDB(), st.root, other, nil)
	require.NoError(t, err)
	_, err = VerifyAccount(st.root, other, res.AccountProof)
	require.ErrorIs(t, err, ErrAccountAbsent)
}

func TestVerifyAccountWrongRoot(t *testing.T) {
	st := newCommittedState(t, map[common.Hash]common.Hash{common.HexToHash("0x01"): common.HexToHash("0x01")})
	res, err := ProveState(st.db.TrieDB(), st.root, gateway, nil)
	require.NoError(t, err)

	_, err = VerifyAccount(common.HexToHash("0xbad"), gateway, res.AccountProof)
	require.Error(t, err)
}

// TestVerifyStorage_EmptyRoot verifies the empty trie proves zero without nodes
func TestVerifyStorage_EmptyRoot(t *testing.T) {
	val, err := VerifyStorage(types.EmptyRootHash, common.HexToHash("0x01"), nil)
	require.NoError(t, err)
	require.Zero(t, val.Sign())
}

// TestAssemble covers the success path and the bundle encoding.
func TestAssemble(t *testing.T) {
	messageHash := common.HexToHash("0xfeed")
	slot := protocol.MessageSlot(messageHash, DefaultOutboxSlot)
	st := newCommittedState(t, map[common.Hash]common.Hash{slot: common.BigToHash(big.NewInt(int64(protocol.Declared)))})

	a := NewAssembler(st)
	cp := protocol.AnchorCheckpoint{BlockHeight: 1, StateRoot: st.root}
	bundle, err := a.Assemble(context.Background(), gateway, messageHash, protocol.Outbox, cp)
	require.NoError(t, err)
	require.Equal(t, slot, bundle.StorageSlot)
	require.Equal(t, st.root, bundle.StateRoot)
	require.Equal(t, int64(protocol.Declared), bundle.StorageValue.Int64())

	// the RLP account matches the proven trie leaf
	acc, err := VerifyAccount(bundle.StateRoot, gateway, toBytes(bundle.AccountProof))
	require.NoError(t, err)
	enc, err := EncodeAccount(acc.Nonce, acc.Balance.ToBig(), acc.Root, common.BytesToHash(acc.CodeHash))
	require.NoError(t, err)
	require.Equal(t, enc, []byte(bundle.EncodedAccount))

	encoded, err := bundle.EncodedStorageProof()
	require.NoError(t, err)
	nodes, err := protocol.DecodeNodes(encoded)
	require.NoError(t, err)
	val, err := VerifyStorage(bundle.StorageRoot, slot, nodes)
	require.NoError(t, err)
	require.Equal(t, int64(protocol.Declared), val.Int64())
}

// TestAssembleErrorKinds separates pruned checkpoints from absent keys.
func TestAssembleErrorKinds(t *testing.T) {
	messageHash := common.HexToHash("0xfeed")
	st := newCommittedState(t, map[common.Hash]common.Hash{common.HexToHash("0x01"): common.HexToHash("0x01")})
	a := NewAssembler(st)

	tests := []struct {
		name   string
		height uint64
		box    protocol.Box
		want   protocol.ProofErrorKind
	}{
		{"pruned height", 9, protocol.Outbox, protocol.ProofCheckpointUnavailable},
		{"undeclared outbox", 1, protocol.Outbox, protocol.ProofKeyAbsent},
		{"undeclared inbox", 1, protocol.Inbox, protocol.ProofKeyAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Assemble(context.Background(), gateway, messageHash, tt.box, protocol.AnchorCheckpoint{BlockHeight: tt.height, StateRoot: st.root})
			var perr *protocol.ProofError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, tt.want, perr.Kind)
			require.True(t, protocol.IsRetryable(err))
		})
	}
}

// TestAssembleRejectsForeignAnswer guards against a provider answering for
// another account or slot.
func TestAssembleRejectsForeignAnswer(t *testing.T) {
	messageHash := common.HexToHash("0xfeed")
	tests := []struct {
		name string
		res  *protocol.AccountProof
	}{
		{"other account", &protocol.AccountProof{Address: common.HexToAddress("0x01")}},
		{"other slot", &protocol.AccountProof{
			Address:      gateway,
			AccountProof: [][]byte{{0x01}},
			StorageProof: []protocol.StorageResult{{Key: common.HexToHash("0x02"), Value: big.NewInt(1)}},
		}},
		{"no account nodes", &protocol.AccountProof{
			Address:      gateway,
			StorageProof: []protocol.StorageResult{{Key: protocol.MessageSlot(messageHash, 3), Value: big.NewInt(1)}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(providerFunc(func(context.Context, common.Address, []common.Hash, uint64) (*protocol.AccountProof, error) {
				return tt.res, nil
			}), WithSlotIndices(3, 4))
			_, err := a.Assemble(context.Background(), gateway, messageHash, protocol.Outbox, protocol.AnchorCheckpoint{BlockHeight: 1})
			var perr *protocol.ProofError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, protocol.ProofMalformed, perr.Kind)
			require.False(t, protocol.IsRetryable(err))
		})
	}
}

// TestAssembleProviderFailures keeps transport failures apart from pruned
// checkpoints.
func TestAssembleProviderFailures(t *testing.T) {
	refused := errors.New("dial tcp 127.0.0.1:8545: connection refused")
	badNode := &protocol.ProofError{Kind: protocol.ProofMalformed, Err: errors.New("node 0: invalid byte")}

	tests := []struct {
		name      string
		err       error
		wantKind  string
		retryable bool
	}{
		{"connection refused", refused, "internal", false},
		{"cancelled", context.Canceled, "internal", false},
		{"pruned", fmt.Errorf("%w: height 1", protocol.ErrBlockUnavailable), "proof", true},
		{"malformed node", badNode, "proof", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAssembler(providerFunc(func(context.Context, common.Address, []common.Hash, uint64) (*protocol.AccountProof, error) {
				return nil, tt.err
			}))
			_, err := a.Assemble(context.Background(), gateway, common.HexToHash("0xfeed"), protocol.Outbox, protocol.AnchorCheckpoint{BlockHeight: 1})
			require.ErrorIs(t, err, tt.err)
			require.Equal(t, tt.wantKind, protocol.ErrorKind(err))
			require.Equal(t, tt.retryable, protocol.IsRetryable(err))

			var perr *protocol.ProofError
			if errors.As(err, &perr) && errors.Is(err, protocol.ErrBlockUnavailable) {
				require.Equal(t, protocol.ProofCheckpointUnavailable, perr.Kind)
			}
		})
	}
}

// TestParseProof tests the parseProof helper function
func TestParseProof(t *testing.T) {
	tests := []struct {
		name      string
		hexProof  []string
		wantLen   int
		wantError bool
	}{
		{name: "empty proof", hexProof: []string{}, wantLen: 0},
		{name: "valid hex with 0x prefix", hexProof: []string{"0x0102030405", "0xaabbccdd"}, wantLen: 2},
		{name: "valid hex without 0x prefix", hexProof: []string{"0102030405", "aabbccdd"}, wantLen: 2},
		{name: "invalid hex", hexProof: []string{"0xZZZZ"}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proof, err := parseProof(tt.hexProof)
			if tt.wantError {
				if err == nil {
					t.Errorf("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if len(proof) != tt.wantLen {
				t.Errorf("proof length = %d, want %d", len(proof), tt.wantLen)
			}
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	require.True(t, isUnavailable(fmt.Errorf("missing trie node 1234 (path ab)")))
	require.True(t, isUnavailable(fmt.Errorf("header not found")))
	require.False(t, isUnavailable(fmt.Errorf("connection refused")))
}

func toBytes(nodes []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}
