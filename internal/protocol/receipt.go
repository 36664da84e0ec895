package protocol

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipt is the outcome of one submitted ledger transaction.
type Receipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	BlockHash   common.Hash     `json:"blockHash"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	Logs        []*types.Log    `json:"logs"`
	Status      hexutil.Uint64  `json:"status"`
}

// Succeeded reports whether the ledger executed the transaction.
func (r *Receipt) Succeeded() bool {
	return r != nil && uint64(r.Status) == types.ReceiptStatusSuccessful
}

// Block returns the block number or zero when unknown.
func (r *Receipt) Block() uint64 {
	if r == nil || r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.ToInt().Uint64()
}

// ReceiptFromTypes converts a node receipt; from is the sender we signed with.
func ReceiptFromTypes(r *types.Receipt, from common.Address, to *common.Address) *Receipt {
	if r == nil {
		return nil
	}
	out := &Receipt{
		TxHash:    r.TxHash,
		BlockHash: r.BlockHash,
		From:      from,
		GasUsed:   hexutil.Uint64(r.GasUsed),
		Logs:      r.Logs,
		Status:    hexutil.Uint64(r.Status),
	}
	if r.BlockNumber != nil {
		out.BlockNumber = (*hexutil.Big)(new(big.Int).Set(r.BlockNumber))
	}
	if to != nil {
		addr := *to
		out.To = &addr
	}
	return out.DeepCopy()
}

// DeepCopy creates a deep copy of the Receipt
func (r *Receipt) DeepCopy() *Receipt {
	if r == nil {
		return nil
	}

	result := &Receipt{
		TxHash:    r.TxHash,
		BlockHash: r.BlockHash,
		From:      r.From,
		GasUsed:   r.GasUsed,
		Status:    r.Status,
	}
	if r.BlockNumber != nil {
		bn := hexutil.Big(*new(big.Int).Set(r.BlockNumber.ToInt()))
		result.BlockNumber = &bn
	}
	if r.To != nil {
		to := *r.To
		result.To = &to
	}
	if r.Logs != nil {
		result.Logs = make([]*types.Log, len(r.Logs))
		for i, l := range r.Logs {
			if l == nil {
				continue
			}
			logCopy := *l
			if l.Topics != nil {
				logCopy.Topics = make([]common.Hash, len(l.Topics))
				copy(logCopy.Topics, l.Topics)
			}
			if l.Data != nil {
				logCopy.Data = make([]byte, len(l.Data))
				copy(logCopy.Data, l.Data)
			}
			result.Logs[i] = &logCopy
		}
	}
	return result
}

// ReceiptStore keeps receipts by transaction hash.
type ReceiptStore struct {
	receipts map[common.Hash]*Receipt
	mu       sync.RWMutex
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{
		receipts: make(map[common.Hash]*Receipt),
	}
}

func (s *ReceiptStore) Add(r *Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[r.TxHash] = r.DeepCopy()
}

func (s *ReceiptStore) Get(hash common.Hash) *Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.receipts[hash].DeepCopy()
}

func (s *ReceiptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}
