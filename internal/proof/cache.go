package proof

import (
	"context"
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// DefaultCacheBytes sizes the proof cache of live ledgers.
const DefaultCacheBytes = 32 << 20

// CachedProvider memoizes proofs by (account, slots, height). A proof at a
// fixed height never changes, so entries are only evicted for space. Encoded
// proofs of 64KB or more are not kept.
type CachedProvider struct {
	provider Provider
	cache    *fastcache.Cache
	logger   log.Logger
}

var _ Provider = (*CachedProvider)(nil)

func NewCachedProvider(provider Provider, maxBytes int) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    fastcache.New(maxBytes),
		logger:   log.New("component", "proofcache"),
	}
}

func (p *CachedProvider) GetInclusionProof(ctx context.Context, account common.Address, slots []common.Hash, height uint64) (*protocol.AccountProof, error) {
	key := cacheKey(account, slots, height)
	if enc, ok := p.cache.HasGet(nil, key); ok {
		var cached protocol.AccountProof
		err := rlp.DecodeBytes(enc, &cached)
		if err == nil {
			return &cached, nil
		}
		p.logger.Warn("Dropping undecodable proof", "account", account, "height", height, "err", err)
	}
	res, err := p.provider.GetInclusionProof(ctx, account, slots, height)
	if err != nil {
		return nil, err
	}
	enc, err := rlp.EncodeToBytes(res)
	if err != nil {
		p.logger.Warn("Proof not cacheable", "account", account, "height", height, "err", err)
		return res, nil
	}
	p.cache.Set(key, enc)
	return res, nil
}

// Len reports the number of cached proofs.
func (p *CachedProvider) Len() uint64 {
	var s fastcache.Stats
	p.cache.UpdateStats(&s)
	return s.EntriesCount
}

func cacheKey(account common.Address, slots []common.Hash, height uint64) []byte {
	buf := make([]byte, 0, common.AddressLength+8+len(slots)*common.HashLength)
	buf = append(buf, account.Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, height)
	for _, s := range slots {
		buf = append(buf, s.Bytes()...)
	}
	return crypto.Keccak256(buf)
}
