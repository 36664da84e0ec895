package proof

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// unavailableMarkers are fragments node implementations use when a block or
// its state is unknown or pruned.
var unavailableMarkers = []string{
	"missing trie node",
	"header not found",
	"historical state",
	"unknown block",
	"not available",
	"pruned",
}

// RPCProvider serves inclusion proofs through eth_getProof.
type RPCProvider struct {
	client *gethclient.Client
}

func NewRPCProvider(client *gethclient.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

// GetInclusionProof fetches the account and slot proofs at height.
func (p *RPCProvider) GetInclusionProof(ctx context.Context, account common.Address, slots []common.Hash, height uint64) (*protocol.AccountProof, error) {
	keys := make([]string, len(slots))
	for i, slot := range slots {
		keys[i] = slot.Hex()
	}
	res, err := p.client.GetProof(ctx, account, keys, new(big.Int).SetUint64(height))
	if err != nil {
		if isUnavailable(err) {
			return nil, fmt.Errorf("%w: height %d: %v", protocol.ErrBlockUnavailable, height, err)
		}
		return nil, fmt.Errorf("eth_getProof %s at %d: %w", account.Hex(), height, err)
	}

	accountProof, err := parseProof(res.AccountProof)
	if err != nil {
		return nil, &protocol.ProofError{Kind: protocol.ProofMalformed, Err: fmt.Errorf("account proof: %w", err)}
	}
	out := &protocol.AccountProof{
		Address:      res.Address,
		BlockHeight:  height,
		Balance:      res.Balance,
		Nonce:        res.Nonce,
		CodeHash:     res.CodeHash,
		StorageHash:  res.StorageHash,
		AccountProof: accountProof,
		StorageProof: make([]protocol.StorageResult, len(res.StorageProof)),
	}
	for i, sr := range res.StorageProof {
		nodes, err := parseProof(sr.Proof)
		if err != nil {
			return nil, &protocol.ProofError{Kind: protocol.ProofMalformed, Err: fmt.Errorf("storage proof %s: %w", sr.Key, err)}
		}
		out.StorageProof[i] = protocol.StorageResult{
			Key:   common.HexToHash(sr.Key),
			Value: sr.Value,
			Proof: nodes,
		}
	}
	return out, nil
}

func isUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range unavailableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// parseProof converts hex-encoded proof nodes to bytes
func parseProof(hexProof []string) ([][]byte, error) {
	proof := make([][]byte, len(hexProof))
	for i, h := range hexProof {
		h = strings.TrimPrefix(strings.TrimPrefix(h, "0x"), "0X")
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		proof[i] = b
	}
	return proof, nil
}
