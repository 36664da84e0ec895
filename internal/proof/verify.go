package proof

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// ErrAccountAbsent is returned when a valid proof shows the account is not in
// the state trie.
var ErrAccountAbsent = errors.New("account not present in state trie")

// NodeList collects trie nodes in the order trie.Prove emits them, root
// first. It satisfies ethdb.KeyValueWriter.
type NodeList [][]byte

func (n *NodeList) Put(key []byte, value []byte) error {
	*n = append(*n, common.CopyBytes(value))
	return nil
}

func (n *NodeList) Delete(key []byte) error {
	panic("not supported")
}

// nodeSet indexes proof nodes by hash for trie.VerifyProof.
func nodeSet(nodes [][]byte) *memorydb.Database {
	db := memorydb.New()
	for _, node := range nodes {
		db.Put(crypto.Keccak256(node), node)
	}
	return db
}

// VerifyAccount checks an account proof against stateRoot and decodes the
// proven account.
func VerifyAccount(stateRoot common.Hash, addr common.Address, nodes [][]byte) (*types.StateAccount, error) {
	val, err := trie.VerifyProof(stateRoot, crypto.Keccak256(addr.Bytes()), nodeSet(nodes))
	if err != nil {
		return nil, fmt.Errorf("account proof for %s: %w", addr.Hex(), err)
	}
	if len(val) == 0 {
		return nil, ErrAccountAbsent
	}
	account := new(types.StateAccount)
	if err := rlp.DecodeBytes(val, account); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr.Hex(), err)
	}
	return account, nil
}

// VerifyStorage checks a storage proof against storageRoot and returns the
// proven value. An absent slot proves zero.
func VerifyStorage(storageRoot common.Hash, slot common.Hash, nodes [][]byte) (*big.Int, error) {
	if storageRoot == types.EmptyRootHash || storageRoot == (common.Hash{}) {
		return new(big.Int), nil
	}
	val, err := trie.VerifyProof(storageRoot, crypto.Keccak256(slot.Bytes()), nodeSet(nodes))
	if err != nil {
		return nil, fmt.Errorf("storage proof for slot %s: %w", slot.Hex(), err)
	}
	if len(val) == 0 {
		return new(big.Int), nil
	}
	var content []byte
	if err := rlp.DecodeBytes(val, &content); err != nil {
		return nil, fmt.Errorf("decode storage value: %w", err)
	}
	return new(big.Int).SetBytes(content), nil
}

// EncodeAccount returns the state-trie leaf encoding of an account.
func EncodeAccount(nonce uint64, balance *big.Int, storageRoot, codeHash common.Hash) ([]byte, error) {
	acc, err := stateAccount(nonce, balance, storageRoot, codeHash)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(acc)
}
