package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	stakeIntentTypeHash  = crypto.Keccak256Hash([]byte("StakeIntent(uint256 amount,address beneficiary,address gateway)"))
	redeemIntentTypeHash = crypto.Keccak256Hash([]byte("RedeemIntent(uint256 amount,address beneficiary,address gateway)"))
	messageTypeHash      = crypto.Keccak256Hash([]byte("Message(bytes32 intentHash,uint256 nonce,uint256 gasPrice,uint256 gasLimit,address sender,bytes32 hashLock)"))

	intentArgs  = arguments("bytes32", "uint256", "address", "address")
	messageArgs = arguments("bytes32", "bytes32", "uint256", "uint256", "uint256", "address", "bytes32")
)

func arguments(kinds ...string) abi.Arguments {
	args := make(abi.Arguments, len(kinds))
	for i, kind := range kinds {
		typ, err := abi.NewType(kind, "", nil)
		if err != nil {
			panic(fmt.Sprintf("abi type %s: %v", kind, err))
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

// packHash is keccak256(abi.encode(values...)). The argument lists are
// static so a pack failure is a programming error.
func packHash(args abi.Arguments, values ...interface{}) common.Hash {
	enc, err := args.Pack(values...)
	if err != nil {
		panic(fmt.Sprintf("abi encode: %v", err))
	}
	return crypto.Keccak256Hash(enc)
}

// Message is the unit of cross-ledger intent. Gateway is the contract that
// declares the message (gateway for stakes, co-gateway for redeems).
type Message struct {
	Intent      IntentKind     `json:"intent"`
	Sender      common.Address `json:"sender"`
	Nonce       *big.Int       `json:"nonce"`
	Amount      *big.Int       `json:"amount"`
	Beneficiary common.Address `json:"beneficiary"`
	Gateway     common.Address `json:"gateway"`
	GasPrice    *big.Int       `json:"gas_price"`
	GasLimit    *big.Int       `json:"gas_limit"`
	HashLock    common.Hash    `json:"hash_lock"`
}

// IntentHash commits to what moves and where.
func (m *Message) IntentHash() common.Hash {
	typeHash := stakeIntentTypeHash
	if m.Intent == RedeemIntent {
		typeHash = redeemIntentTypeHash
	}
	return packHash(intentArgs, [32]byte(typeHash), word(m.Amount), m.Beneficiary, m.Gateway)
}

// Hash returns the canonical message hash. Both ledgers derive it from the
// same abi.encode layout: 32-byte words in fixed field order.
func (m *Message) Hash() common.Hash {
	return packHash(messageArgs,
		[32]byte(messageTypeHash),
		[32]byte(m.IntentHash()),
		word(m.Nonce),
		word(m.GasPrice),
		word(m.GasLimit),
		m.Sender,
		[32]byte(m.HashLock),
	)
}

// Reward is the facilitation reward paid out of the amount on progress.
func (m *Message) Reward() *big.Int {
	reward := new(big.Int).Mul(bigOrZero(m.GasPrice), bigOrZero(m.GasLimit))
	if amount := bigOrZero(m.Amount); reward.Cmp(amount) > 0 {
		return new(big.Int).Set(amount)
	}
	return reward
}

// Copy returns a deep copy.
func (m *Message) Copy() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Nonce = copyBig(m.Nonce)
	cp.Amount = copyBig(m.Amount)
	cp.GasPrice = copyBig(m.GasPrice)
	cp.GasLimit = copyBig(m.GasLimit)
	return &cp
}

// MessageSlot is the storage slot of messageHash in a mapping declared at
// slot index: keccak256(abi.encode(messageHash, index)).
func MessageSlot(messageHash common.Hash, index uint64) common.Hash {
	idx := uint256.NewInt(index).Bytes32()
	return crypto.Keccak256Hash(messageHash.Bytes(), idx[:])
}

// word clamps x to a uint256. Values are range checked during request
// validation; out-of-range values truncate here.
func word(x *big.Int) *big.Int {
	v, _ := uint256.FromBig(bigOrZero(x))
	return v.ToBig()
}

func bigOrZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

func copyBig(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}
