package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
)

// AnchorCheckpoint is a (height, state root) pair one ledger has committed
// to trusting from the other.
type AnchorCheckpoint struct {
	BlockHeight uint64      `json:"block_height"`
	StateRoot   common.Hash `json:"state_root"`
}

func (c AnchorCheckpoint) String() string {
	return fmt.Sprintf("%d/%s", c.BlockHeight, c.StateRoot.TerminalString())
}

// StorageResult is one proven storage slot, eth_getProof shaped.
type StorageResult struct {
	Key   common.Hash `json:"key"`
	Value *big.Int    `json:"value"`
	Proof [][]byte    `json:"proof"`
}

// AccountProof is what a ProofProvider returns for an account at a height.
type AccountProof struct {
	Address      common.Address  `json:"address"`
	BlockHeight  uint64          `json:"block_height"`
	Balance      *big.Int        `json:"balance"`
	Nonce        uint64          `json:"nonce"`
	CodeHash     common.Hash     `json:"code_hash"`
	StorageHash  common.Hash     `json:"storage_hash"`
	AccountProof [][]byte        `json:"account_proof"`
	StorageProof []StorageResult `json:"storage_proof"`
}

// ProofBundle binds one message slot of a source-ledger contract to an
// anchored state root. It lives for a single confirmation call.
type ProofBundle struct {
	BlockHeight    uint64          `json:"block_height"`
	StateRoot      common.Hash     `json:"state_root"`
	Account        common.Address  `json:"account"`
	EncodedAccount hexutil.Bytes   `json:"encoded_account"`
	AccountProof   []hexutil.Bytes `json:"account_proof"`
	StorageRoot    common.Hash     `json:"storage_root"`
	StorageSlot    common.Hash     `json:"storage_slot"`
	StorageValue   *big.Int        `json:"storage_value"`
	StorageProof   []hexutil.Bytes `json:"storage_proof"`
}

// EncodedAccountProof is the RLP list of account trie nodes, the form the
// gateway contracts' prove methods take.
func (b *ProofBundle) EncodedAccountProof() ([]byte, error) {
	return encodeNodes(b.AccountProof)
}

// EncodedStorageProof is the RLP list of storage trie nodes.
func (b *ProofBundle) EncodedStorageProof() ([]byte, error) {
	return encodeNodes(b.StorageProof)
}

func encodeNodes(nodes []hexutil.Bytes) ([]byte, error) {
	raw := make([]rlp.RawValue, len(nodes))
	for i, n := range nodes {
		raw[i] = rlp.RawValue(n)
	}
	return rlp.EncodeToBytes(raw)
}

// DecodeNodes reverses EncodedAccountProof / EncodedStorageProof.
func DecodeNodes(encoded []byte) ([][]byte, error) {
	var raw []rlp.RawValue
	if err := rlp.DecodeBytes(encoded, &raw); err != nil {
		return nil, fmt.Errorf("decode proof nodes: %w", err)
	}
	nodes := make([][]byte, len(raw))
	for i, r := range raw {
		nodes[i] = []byte(r)
	}
	return nodes, nil
}
