package simledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// Well-known contract addresses of a simulated pair.
var (
	GatewayAddress      = common.HexToAddress("0x000000000000000000000000000000000000a001")
	CoGatewayAddress    = common.HexToAddress("0x000000000000000000000000000000000000b001")
	ValueTokenAddress   = common.HexToAddress("0x000000000000000000000000000000000000a010")
	BaseTokenAddress    = common.HexToAddress("0x000000000000000000000000000000000000a011")
	UtilityTokenAddress = common.HexToAddress("0x000000000000000000000000000000000000b010")
)

// PairConfig describes an origin/auxiliary pair.
type PairConfig struct {
	Bounty     *big.Int
	OutboxSlot uint64
	InboxSlot  uint64
	// Retain limits how many recent origin and auxiliary roots stay provable.
	Retain uint64
	// AutoAnchor anchors every block of each chain on the other one.
	AutoAnchor bool
	// SharedBaseToken makes the value token pay bounties as well.
	SharedBaseToken bool
}

// Pair is a connected origin and auxiliary chain.
type Pair struct {
	Origin    *Chain
	Auxiliary *Chain

	Gateway   *Gateway
	CoGateway *Gateway

	// OriginAnchor lives on origin and tracks auxiliary roots;
	// AuxiliaryAnchor lives on auxiliary and tracks origin roots.
	OriginAnchor    *Anchor
	AuxiliaryAnchor *Anchor

	ValueToken   *Token
	BaseToken    *Token
	UtilityToken *Token
}

func NewPair(cfg PairConfig) (*Pair, error) {
	if cfg.Bounty == nil {
		cfg.Bounty = new(big.Int)
	}
	var opts []ChainOption
	if cfg.Retain > 0 {
		opts = append(opts, WithRetention(cfg.Retain))
	}
	origin, err := NewChain(protocol.Origin, opts...)
	if err != nil {
		return nil, err
	}
	aux, err := NewChain(protocol.Auxiliary, opts...)
	if err != nil {
		return nil, err
	}

	p := &Pair{
		Origin:          origin,
		Auxiliary:       aux,
		OriginAnchor:    NewAnchor(),
		AuxiliaryAnchor: NewAnchor(),
		ValueToken:      NewToken("VT", ValueTokenAddress),
		UtilityToken:    NewToken("UT", UtilityTokenAddress),
	}
	p.BaseToken = NewToken("BT", BaseTokenAddress)
	if cfg.SharedBaseToken {
		p.BaseToken = p.ValueToken
	}

	p.Gateway, err = NewGateway(origin, GatewayConfig{
		Address:    GatewayAddress,
		Remote:     CoGatewayAddress,
		Bounty:     cfg.Bounty,
		OutboxSlot: cfg.OutboxSlot,
		InboxSlot:  cfg.InboxSlot,
		Tokens:     map[protocol.Token]*Token{protocol.ValueToken: p.ValueToken, protocol.BaseToken: p.BaseToken},
		Anchor:     p.OriginAnchor,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy gateway: %w", err)
	}
	p.CoGateway, err = NewGateway(aux, GatewayConfig{
		Address:    CoGatewayAddress,
		Remote:     GatewayAddress,
		Bounty:     cfg.Bounty,
		OutboxSlot: cfg.OutboxSlot,
		InboxSlot:  cfg.InboxSlot,
		Tokens:     map[protocol.Token]*Token{protocol.UtilityToken: p.UtilityToken},
		Anchor:     p.AuxiliaryAnchor,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy co-gateway: %w", err)
	}

	if cfg.AutoAnchor {
		origin.OnCommit(func(cp protocol.AnchorCheckpoint) { p.AuxiliaryAnchor.Record(cp) })
		aux.OnCommit(func(cp protocol.AnchorCheckpoint) { p.OriginAnchor.Record(cp) })
		if _, err := p.AnchorOrigin(); err != nil {
			return nil, err
		}
		if _, err := p.AnchorAuxiliary(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AnchorOrigin anchors the latest origin root on auxiliary.
func (p *Pair) AnchorOrigin() (protocol.AnchorCheckpoint, error) {
	return p.AuxiliaryAnchor.Follow(p.Origin)
}

// AnchorAuxiliary anchors the latest auxiliary root on origin.
func (p *Pair) AnchorAuxiliary() (protocol.AnchorCheckpoint, error) {
	return p.OriginAnchor.Follow(p.Auxiliary)
}

// FundStaker gives account value tokens on origin.
func (p *Pair) FundStaker(account common.Address, amount *big.Int) {
	p.ValueToken.Mint(account, amount)
}

// FundFacilitator gives account base tokens on origin and native balance on
// auxiliary for bounties.
func (p *Pair) FundFacilitator(account common.Address, amount *big.Int) error {
	p.BaseToken.Mint(account, amount)
	return p.Auxiliary.Fund(account, amount)
}
