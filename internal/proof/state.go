package proof

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// ProveState builds an eth_getProof shaped result from committed local state.
// stateRoot must have been committed into tdb.
func ProveState(tdb *triedb.Database, stateRoot common.Hash, addr common.Address, slots []common.Hash) (*protocol.AccountProof, error) {
	tr, err := trie.New(trie.StateTrieID(stateRoot), tdb)
	if err != nil {
		return nil, fmt.Errorf("failed to open state trie: %w", err)
	}
	accountKey := crypto.Keccak256(addr.Bytes())
	var accountProof NodeList
	if err := tr.Prove(accountKey, &accountProof); err != nil {
		return nil, fmt.Errorf("failed to prove account: %w", err)
	}

	res := &protocol.AccountProof{
		Address:      addr,
		Balance:      new(big.Int),
		CodeHash:     types.EmptyCodeHash,
		StorageHash:  types.EmptyRootHash,
		AccountProof: accountProof,
		StorageProof: make([]protocol.StorageResult, len(slots)),
	}
	enc, err := tr.Get(accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	if len(enc) > 0 {
		var acc types.StateAccount
		if err := rlp.DecodeBytes(enc, &acc); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		res.Balance = acc.Balance.ToBig()
		res.Nonce = acc.Nonce
		res.CodeHash = common.BytesToHash(acc.CodeHash)
		res.StorageHash = acc.Root
	}

	// If storage root is empty, every slot is zero with an empty proof.
	if res.StorageHash == types.EmptyRootHash {
		for i, slot := range slots {
			res.StorageProof[i] = protocol.StorageResult{Key: slot, Value: new(big.Int), Proof: [][]byte{}}
		}
		return res, nil
	}
	st, err := trie.New(trie.StorageTrieID(stateRoot, crypto.Keccak256Hash(addr.Bytes()), res.StorageHash), tdb)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage trie: %w", err)
	}
	for i, slot := range slots {
		slotKey := crypto.Keccak256(slot.Bytes())
		var nodes NodeList
		if err := st.Prove(slotKey, &nodes); err != nil {
			return nil, fmt.Errorf("failed to prove storage slot: %w", err)
		}
		value := new(big.Int)
		raw, err := st.Get(slotKey)
		if err != nil {
			return nil, fmt.Errorf("failed to read storage slot: %w", err)
		}
		if len(raw) > 0 {
			var content []byte
			if err := rlp.DecodeBytes(raw, &content); err != nil {
				return nil, fmt.Errorf("failed to decode storage slot: %w", err)
			}
			value.SetBytes(content)
		}
		res.StorageProof[i] = protocol.StorageResult{Key: slot, Value: value, Proof: nodes}
	}
	return res, nil
}
