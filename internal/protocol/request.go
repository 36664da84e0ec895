package protocol

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// TxOptionsRequest carries transaction options as received from a caller.
type TxOptionsRequest struct {
	From     string `json:"from"`
	GasPrice string `json:"gas_price,omitempty"`
	Gas      string `json:"gas,omitempty"`
	Value    string `json:"value,omitempty"`
}

// TxOptions are validated transaction options handed to a gateway.
// Zero GasPrice or Gas lets the submitter choose.
type TxOptions struct {
	From     common.Address
	GasPrice *big.Int
	Gas      uint64
	Value    *big.Int
}

// WithValue returns a copy carrying value.
func (o TxOptions) WithValue(value *big.Int) TxOptions {
	o.Value = copyBig(value)
	return o
}

func (r TxOptionsRequest) validate() (TxOptions, error) {
	var opts TxOptions
	var err error
	if opts.From, err = parseAddress("txOptions.from", r.From, false); err != nil {
		return opts, err
	}
	if r.GasPrice != "" {
		if opts.GasPrice, err = parseUint("txOptions.gasPrice", r.GasPrice, false); err != nil {
			return opts, err
		}
	}
	if r.Gas != "" {
		gas, err := parseUint("txOptions.gas", r.Gas, false)
		if err != nil {
			return opts, err
		}
		if !gas.IsUint64() {
			return opts, invalid("txOptions.gas", "exceeds 64 bits")
		}
		opts.Gas = gas.Uint64()
	}
	if r.Value != "" {
		if opts.Value, err = parseUint("txOptions.value", r.Value, false); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// StakeRequest starts a stake on the origin ledger. HashLock is optional; a
// fresh pair is generated when it is empty.
type StakeRequest struct {
	Staker      string           `json:"staker"`
	Amount      string           `json:"amount"`
	Beneficiary string           `json:"beneficiary"`
	GasPrice    string           `json:"gas_price"`
	GasLimit    string           `json:"gas_limit"`
	HashLock    string           `json:"hash_lock,omitempty"`
	TxOptions   TxOptionsRequest `json:"tx_options"`
}

// RedeemRequest starts a redeem on the auxiliary ledger. TxOptions.Value must
// carry the co-gateway bounty.
type RedeemRequest struct {
	Redeemer    string           `json:"redeemer"`
	Amount      string           `json:"amount"`
	Beneficiary string           `json:"beneficiary"`
	GasPrice    string           `json:"gas_price"`
	GasLimit    string           `json:"gas_limit"`
	HashLock    string           `json:"hash_lock,omitempty"`
	TxOptions   TxOptionsRequest `json:"tx_options"`
}

// TransferParams is the validated form of a stake or redeem request.
type TransferParams struct {
	Sender      common.Address
	Amount      *big.Int
	Beneficiary common.Address
	GasPrice    *big.Int
	GasLimit    *big.Int
	HashLock    *common.Hash
	TxOptions   TxOptions
}

// Validate checks every field and returns the first violation.
func (r *StakeRequest) Validate() (*TransferParams, error) {
	return validateTransfer("staker", r.Staker, r.Amount, r.Beneficiary, r.GasPrice, r.GasLimit, r.HashLock, r.TxOptions)
}

// Validate checks every field and returns the first violation. The bounty
// value is checked against the ledger by the coordinator.
func (r *RedeemRequest) Validate() (*TransferParams, error) {
	return validateTransfer("redeemer", r.Redeemer, r.Amount, r.Beneficiary, r.GasPrice, r.GasLimit, r.HashLock, r.TxOptions)
}

func validateTransfer(senderField, sender, amount, beneficiary, gasPrice, gasLimit, hashLock string, txOpts TxOptionsRequest) (*TransferParams, error) {
	p := &TransferParams{}
	var err error
	if p.Sender, err = parseAddress(senderField, sender, false); err != nil {
		return nil, err
	}
	if p.Amount, err = parseUint("amount", amount, true); err != nil {
		return nil, err
	}
	if p.Beneficiary, err = parseAddress("beneficiary", beneficiary, false); err != nil {
		return nil, err
	}
	if p.GasPrice, err = parseUint("gasPrice", gasPrice, false); err != nil {
		return nil, err
	}
	if p.GasLimit, err = parseUint("gasLimit", gasLimit, false); err != nil {
		return nil, err
	}
	if hashLock != "" {
		lock, err := parseHash("hashLock", hashLock)
		if err != nil {
			return nil, err
		}
		p.HashLock = &lock
	}
	if p.TxOptions, err = txOpts.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ConfirmRequest identifies a declared message by its canonical parameters.
type ConfirmRequest struct {
	Sender      string           `json:"sender"`
	Nonce       string           `json:"nonce"`
	Amount      string           `json:"amount"`
	Beneficiary string           `json:"beneficiary"`
	GasPrice    string           `json:"gas_price"`
	GasLimit    string           `json:"gas_limit"`
	HashLock    string           `json:"hash_lock"`
	TxOptions   TxOptionsRequest `json:"tx_options"`
}

// Validate builds the message for intent. The declaring gateway address is
// left empty for the coordinator to fill in.
func (r *ConfirmRequest) Validate(intent IntentKind) (*Message, TxOptions, error) {
	msg := &Message{Intent: intent}
	var err error
	if msg.Sender, err = parseAddress("sender", r.Sender, false); err != nil {
		return nil, TxOptions{}, err
	}
	if msg.Nonce, err = parseUint("nonce", r.Nonce, false); err != nil {
		return nil, TxOptions{}, err
	}
	if msg.Amount, err = parseUint("amount", r.Amount, true); err != nil {
		return nil, TxOptions{}, err
	}
	if msg.Beneficiary, err = parseAddress("beneficiary", r.Beneficiary, false); err != nil {
		return nil, TxOptions{}, err
	}
	if msg.GasPrice, err = parseUint("gasPrice", r.GasPrice, false); err != nil {
		return nil, TxOptions{}, err
	}
	if msg.GasLimit, err = parseUint("gasLimit", r.GasLimit, false); err != nil {
		return nil, TxOptions{}, err
	}
	if msg.HashLock, err = parseHash("hashLock", r.HashLock); err != nil {
		return nil, TxOptions{}, err
	}
	opts, err := r.TxOptions.validate()
	if err != nil {
		return nil, TxOptions{}, err
	}
	return msg, opts, nil
}

// ProgressRequest finalizes a message on one ledger.
type ProgressRequest struct {
	MessageHash  string           `json:"message_hash"`
	UnlockSecret string           `json:"unlock_secret"`
	TxOptions    TxOptionsRequest `json:"tx_options"`
}

// ProgressParams is the validated form of ProgressRequest.
type ProgressParams struct {
	MessageHash  common.Hash
	UnlockSecret common.Hash
	TxOptions    TxOptions
}

func (r *ProgressRequest) Validate() (*ProgressParams, error) {
	p := &ProgressParams{}
	var err error
	if p.MessageHash, err = parseHash("messageHash", r.MessageHash); err != nil {
		return nil, err
	}
	if p.UnlockSecret, err = parseHash("unlockSecret", r.UnlockSecret); err != nil {
		return nil, err
	}
	if p.TxOptions, err = r.TxOptions.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// CompleteRequest drives confirmation and both progress steps of a message.
type CompleteRequest struct {
	ConfirmRequest
	UnlockSecret string `json:"unlock_secret"`
}

// Validate returns the message, its secret and transaction options.
func (r *CompleteRequest) Validate(intent IntentKind) (*Message, common.Hash, TxOptions, error) {
	msg, opts, err := r.ConfirmRequest.Validate(intent)
	if err != nil {
		return nil, common.Hash{}, TxOptions{}, err
	}
	secret, err := parseHash("unlockSecret", r.UnlockSecret)
	if err != nil {
		return nil, common.Hash{}, TxOptions{}, err
	}
	return msg, secret, opts, nil
}

func parseAddress(field, s string, allowZero bool) (common.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Address{}, invalid(field, "missing")
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, invalid(field, "%q is not a hex address", s)
	}
	addr := common.HexToAddress(s)
	if !allowZero && addr == (common.Address{}) {
		return common.Address{}, invalid(field, "zero address")
	}
	return addr, nil
}

// parseUint accepts decimal or 0x-prefixed hex and enforces the uint256 range.
func parseUint(field, s string, positive bool) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, invalid(field, "missing")
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, invalid(field, "%q is not an integer", s)
	}
	if v.Sign() < 0 {
		return nil, invalid(field, "negative")
	}
	if positive && v.Sign() == 0 {
		return nil, invalid(field, "must be positive")
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return nil, invalid(field, "exceeds 256 bits")
	}
	return v, nil
}

func parseHash(field, s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Hash{}, invalid(field, "missing")
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, invalid(field, "%v", err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, invalid(field, "want %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// ParseMessageHash parses a 0x-prefixed 32-byte message hash.
func ParseMessageHash(s string) (common.Hash, error) {
	return parseHash("messageHash", s)
}
