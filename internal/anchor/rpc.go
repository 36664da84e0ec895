package anchor

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// ABIJSON is the read surface of the anchor contract.
const ABIJSON = `[
{"type":"function","name":"getLatestStateRootBlockHeight","stateMutability":"view","inputs":[],"outputs":[{"name":"height_","type":"uint256"}]},
{"type":"function","name":"getStateRoot","stateMutability":"view","inputs":[{"name":"_blockHeight","type":"uint256"}],"outputs":[{"name":"stateRoot_","type":"bytes32"}]}
]`

var anchorABI = mustParse(ABIJSON)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("anchor abi: %v", err))
	}
	return parsed
}

// RPCReader calls the anchor contract through any go-ethereum ContractCaller.
type RPCReader struct {
	caller  ethereum.ContractCaller
	address common.Address
}

func NewRPCReader(caller ethereum.ContractCaller, address common.Address) *RPCReader {
	return &RPCReader{caller: caller, address: address}
}

func (r *RPCReader) GetLatestAnchorCheckpoint(ctx context.Context) (protocol.AnchorCheckpoint, error) {
	out, err := r.call(ctx, "getLatestStateRootBlockHeight")
	if err != nil {
		return protocol.AnchorCheckpoint{}, err
	}
	height := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !height.IsUint64() {
		return protocol.AnchorCheckpoint{}, fmt.Errorf("anchor height %s out of range", height)
	}

	out, err = r.call(ctx, "getStateRoot", height)
	if err != nil {
		return protocol.AnchorCheckpoint{}, err
	}
	root := abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return protocol.AnchorCheckpoint{BlockHeight: height.Uint64(), StateRoot: common.Hash(*root)}, nil
}

func (r *RPCReader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := anchorABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := r.address
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call anchor %s: %w", method, err)
	}
	out, err := anchorABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: %d outputs", method, len(out))
	}
	return out, nil
}
