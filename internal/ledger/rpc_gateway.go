package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// RPCGateway talks to a deployed gateway or co-gateway over JSON-RPC.
type RPCGateway struct {
	side      protocol.Side
	address   common.Address
	abi       abi.ABI
	caller    ethereum.ContractCaller
	submitter Submitter
	logger    log.Logger
}

var _ Gateway = (*RPCGateway)(nil)

func NewRPCGateway(side protocol.Side, address common.Address, caller ethereum.ContractCaller, submitter Submitter) *RPCGateway {
	return &RPCGateway{
		side:      side,
		address:   address,
		abi:       ContractABI(side),
		caller:    caller,
		submitter: submitter,
		logger:    log.New("component", "gateway", "side", side),
	}
}

func (g *RPCGateway) Side() protocol.Side     { return g.side }
func (g *RPCGateway) Address() common.Address { return g.address }

func (g *RPCGateway) GetOutboxMessageStatus(ctx context.Context, messageHash common.Hash) (protocol.MessageStatus, error) {
	return g.status(ctx, "getOutboxMessageStatus", messageHash)
}

func (g *RPCGateway) GetInboxMessageStatus(ctx context.Context, messageHash common.Hash) (protocol.MessageStatus, error) {
	return g.status(ctx, "getInboxMessageStatus", messageHash)
}

func (g *RPCGateway) status(ctx context.Context, method string, messageHash common.Hash) (protocol.MessageStatus, error) {
	out, err := call(ctx, g.caller, g.abi, g.address, method, [32]byte(messageHash))
	if err != nil {
		return 0, err
	}
	raw, ok := out.(uint8)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected output %T", method, out)
	}
	status := protocol.MessageStatus(raw)
	if !status.Valid() {
		return 0, fmt.Errorf("%s: unknown status %d", method, raw)
	}
	return status, nil
}

func (g *RPCGateway) GetNonce(ctx context.Context, account common.Address) (*big.Int, error) {
	return callBig(ctx, g.caller, g.abi, g.address, "getNonce", account)
}

func (g *RPCGateway) Bounty(ctx context.Context) (*big.Int, error) {
	return callBig(ctx, g.caller, g.abi, g.address, "bounty")
}

func (g *RPCGateway) TokenAddress(ctx context.Context, token protocol.Token) (common.Address, error) {
	var method string
	switch {
	case g.side == protocol.Origin && token == protocol.ValueToken:
		method = "token"
	case g.side == protocol.Origin && token == protocol.BaseToken:
		method = "baseToken"
	case g.side == protocol.Auxiliary && token == protocol.UtilityToken:
		method = "utilityToken"
	default:
		return common.Address{}, fmt.Errorf("%s token on %s: %w", token, g.side, protocol.ErrUnsupportedOnSide)
	}
	out, err := call(ctx, g.caller, g.abi, g.address, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected output %T", method, out)
	}
	return addr, nil
}

// IsAllowanceSufficient checks what owner has approved to this gateway.
func (g *RPCGateway) IsAllowanceSufficient(ctx context.Context, token protocol.Token, owner common.Address, amount *big.Int) (bool, error) {
	tokenAddr, err := g.TokenAddress(ctx, token)
	if err != nil {
		return false, err
	}
	allowance, err := callBig(ctx, g.caller, EIP20ABI, tokenAddr, "allowance", owner, g.address)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(amount) >= 0, nil
}

func (g *RPCGateway) ApproveAllowance(ctx context.Context, token protocol.Token, amount *big.Int, opts protocol.TxOptions) (*protocol.Receipt, error) {
	tokenAddr, err := g.TokenAddress(ctx, token)
	if err != nil {
		return nil, err
	}
	data, err := EIP20ABI.Pack("approve", g.address, amount)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return g.send(ctx, OpApprove, tokenAddr, data, opts.WithValue(nil))
}

func (g *RPCGateway) SubmitStake(ctx context.Context, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error) {
	if g.side != protocol.Origin {
		return nil, fmt.Errorf("stake: %w", protocol.ErrUnsupportedOnSide)
	}
	return g.declare(ctx, "stake", msg, opts.WithValue(nil))
}

// SubmitRedeem sends the payable redeem; opts.Value carries the bounty.
func (g *RPCGateway) SubmitRedeem(ctx context.Context, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error) {
	if g.side != protocol.Auxiliary {
		return nil, fmt.Errorf("redeem: %w", protocol.ErrUnsupportedOnSide)
	}
	return g.declare(ctx, "redeem", msg, opts)
}

func (g *RPCGateway) declare(ctx context.Context, method string, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error) {
	data, err := g.abi.Pack(method, msg.Amount, msg.Beneficiary, msg.GasPrice, msg.GasLimit, msg.Nonce, [32]byte(msg.HashLock))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return g.send(ctx, method, g.address, data, opts)
}

func (g *RPCGateway) SubmitProveAccount(ctx context.Context, bundle *protocol.ProofBundle, opts protocol.TxOptions) (*protocol.Receipt, error) {
	nodes, err := bundle.EncodedAccountProof()
	if err != nil {
		return nil, err
	}
	data, err := g.abi.Pack(OpProveGateway, new(big.Int).SetUint64(bundle.BlockHeight), []byte(bundle.EncodedAccount), nodes)
	if err != nil {
		return nil, fmt.Errorf("pack proveGateway: %w", err)
	}
	return g.send(ctx, OpProveGateway, g.address, data, opts.WithValue(nil))
}

// SubmitConfirmIntent confirms a stake on auxiliary or a redeem on origin.
func (g *RPCGateway) SubmitConfirmIntent(ctx context.Context, msg *protocol.Message, height uint64, bundle *protocol.ProofBundle, opts protocol.TxOptions) (*protocol.Receipt, error) {
	storageProof, err := bundle.EncodedStorageProof()
	if err != nil {
		return nil, err
	}
	op := ConfirmOp(g.side)
	blockHeight := new(big.Int).SetUint64(height)

	var data []byte
	if g.side == protocol.Auxiliary {
		data, err = g.abi.Pack(op, msg.Sender, msg.Nonce, msg.Beneficiary, msg.Amount, msg.GasPrice, msg.GasLimit,
			[32]byte(msg.HashLock), blockHeight, storageProof)
	} else {
		data, err = g.abi.Pack(op, msg.Sender, msg.Nonce, msg.Beneficiary, msg.Amount, msg.GasPrice, msg.GasLimit,
			blockHeight, [32]byte(msg.HashLock), storageProof)
	}
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", op, err)
	}
	return g.send(ctx, op, g.address, data, opts.WithValue(nil))
}

func (g *RPCGateway) SubmitProgress(ctx context.Context, box protocol.Box, messageHash, unlockSecret common.Hash, opts protocol.TxOptions) (*protocol.Receipt, error) {
	op := ProgressOp(g.side, box)
	data, err := g.abi.Pack(op, [32]byte(messageHash), [32]byte(unlockSecret))
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", op, err)
	}
	return g.send(ctx, op, g.address, data, opts.WithValue(nil))
}

func (g *RPCGateway) send(ctx context.Context, op string, to common.Address, data []byte, opts protocol.TxOptions) (*protocol.Receipt, error) {
	receipt, err := g.submitter.Submit(ctx, to, data, opts)
	if err != nil {
		return receipt, err
	}
	g.logger.Info("Transaction mined", "op", op, "tx", receipt.TxHash, "block", receipt.Block(), "gasUsed", uint64(receipt.GasUsed))
	return receipt, nil
}

func call(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, method string, args ...interface{}) (interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack %s: no output", method)
	}
	return out[0], nil
}

func callBig(ctx context.Context, caller ethereum.ContractCaller, contract abi.ABI, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	out, err := call(ctx, caller, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected output %T", method, out)
	}
	return v, nil
}
