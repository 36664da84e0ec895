package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Backend is the node surface KeySubmitter needs; *ethclient.Client fits.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// ErrWrongSigner is returned when TxOptions.From names an account the
// submitter holds no key for.
var ErrWrongSigner = errors.New("no key for requested sender")

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultSubmitRate   = 5 // tx per second
)

// KeySubmitter signs legacy transactions with one key. Submissions are
// serialized so each nonce is mined before the next is taken.
type KeySubmitter struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer

	limiter      *rate.Limiter
	pollInterval time.Duration

	mu     sync.Mutex
	logger log.Logger
}

var _ Submitter = (*KeySubmitter)(nil)

type SubmitterOption func(*KeySubmitter)

// WithRate caps submissions per second; zero or less disables the cap.
func WithRate(perSecond float64) SubmitterOption {
	return func(s *KeySubmitter) {
		if perSecond <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithPollInterval(d time.Duration) SubmitterOption {
	return func(s *KeySubmitter) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func NewKeySubmitter(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, opts ...SubmitterOption) *KeySubmitter {
	from := crypto.PubkeyToAddress(key.PublicKey)
	s := &KeySubmitter{
		backend:      backend,
		key:          key,
		from:         from,
		signer:       types.LatestSignerForChainID(chainID),
		limiter:      rate.NewLimiter(rate.Limit(defaultSubmitRate), 1),
		pollInterval: defaultPollInterval,
		logger:       log.New("component", "submitter", "from", from),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *KeySubmitter) From() common.Address { return s.from }

// Submit signs, sends and waits for the receipt. A mined but reverted
// transaction returns its receipt together with protocol.ErrReverted.
func (s *KeySubmitter) Submit(ctx context.Context, to common.Address, data []byte, opts protocol.TxOptions) (*protocol.Receipt, error) {
	if opts.From != (common.Address{}) && opts.From != s.from {
		return nil, fmt.Errorf("%w: %s", ErrWrongSigner, opts.From.Hex())
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice := opts.GasPrice
	if gasPrice == nil || gasPrice.Sign() == 0 {
		if gasPrice, err = s.backend.SuggestGasPrice(ctx); err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
	}
	value := opts.Value
	if value == nil {
		value = new(big.Int)
	}
	gas := opts.Gas
	if gas == 0 {
		gas, err = s.backend.EstimateGas(ctx, ethereum.CallMsg{From: s.from, To: &to, GasPrice: gasPrice, Value: value, Data: data})
		if err != nil {
			if isRevert(err) {
				return nil, fmt.Errorf("%w: %v", protocol.ErrReverted, err)
			}
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	}), s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send %s: %w", tx.Hash().Hex(), err)
	}
	s.logger.Debug("Transaction sent", "tx", tx.Hash(), "to", to, "nonce", nonce, "gas", gas)

	r, err := s.waitMined(ctx, tx.Hash())
	if err != nil {
		return nil, err
	}
	receipt := protocol.ReceiptFromTypes(r, s.from, &to)
	if !receipt.Succeeded() {
		return receipt, fmt.Errorf("%w: tx %s", protocol.ErrReverted, tx.Hash().Hex())
	}
	return receipt, nil
}

func (s *KeySubmitter) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		r, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "revert")
}
