package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/sharding-experiment/facilitator/config"
	"github.com/sharding-experiment/facilitator/internal/anchor"
	"github.com/sharding-experiment/facilitator/internal/coordinator"
	"github.com/sharding-experiment/facilitator/internal/journal"
	"github.com/sharding-experiment/facilitator/internal/ledger"
	"github.com/sharding-experiment/facilitator/internal/metrics"
	"github.com/sharding-experiment/facilitator/internal/network"
	"github.com/sharding-experiment/facilitator/internal/proof"
	"github.com/sharding-experiment/facilitator/internal/protocol"
	"github.com/sharding-experiment/facilitator/internal/simledger"
)

// stack is everything a command needs to run coordinator operations.
type stack struct {
	cfg     *config.Config
	coord   *coordinator.Coordinator
	journal *journal.Journal
	metrics *metrics.Metrics
	closers []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func build(c *cobra.Command) (*stack, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	simulated, err := c.Flags().GetBool(simulatedKey)
	if err != nil {
		return nil, err
	}

	s := &stack{cfg: cfg, metrics: metrics.New()}
	s.journal, err = journal.Open(cfg.JournalDir)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { s.journal.Close() })

	var origin, aux coordinator.Ledger
	if simulated {
		origin, aux, err = simulatedLedgers(cfg)
	} else {
		origin, aux, err = s.liveLedgers(c.Context(), cfg)
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	s.coord, err = coordinator.New(coordinator.Config{
		Origin:     origin,
		Auxiliary:  aux,
		OutboxSlot: cfg.Origin.OutboxSlot,
		InboxSlot:  cfg.Origin.InboxSlot,
		Metrics:    s.metrics,
		Journal:    s.journal,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func simulatedLedgers(cfg *config.Config) (coordinator.Ledger, coordinator.Ledger, error) {
	bounty, ok := new(big.Int).SetString(cfg.Simulation.Bounty, 10)
	if !ok || bounty.Sign() < 0 {
		return coordinator.Ledger{}, coordinator.Ledger{}, fmt.Errorf("simulation.bounty %q is not a non-negative integer", cfg.Simulation.Bounty)
	}
	funds, ok := new(big.Int).SetString(cfg.Simulation.Funds, 10)
	if !ok || funds.Sign() < 0 {
		return coordinator.Ledger{}, coordinator.Ledger{}, fmt.Errorf("simulation.funds %q is not a non-negative integer", cfg.Simulation.Funds)
	}
	p, err := simledger.NewPair(simledger.PairConfig{
		Bounty:     bounty,
		OutboxSlot: cfg.Origin.OutboxSlot,
		InboxSlot:  cfg.Origin.InboxSlot,
		Retain:     cfg.Simulation.Retain,
		AutoAnchor: true,
	})
	if err != nil {
		return coordinator.Ledger{}, coordinator.Ledger{}, err
	}
	for _, a := range cfg.Simulation.Accounts {
		addr := common.HexToAddress(a)
		p.FundStaker(addr, funds)
		if err := p.FundFacilitator(addr, funds); err != nil {
			return coordinator.Ledger{}, coordinator.Ledger{}, fmt.Errorf("fund %s: %w", addr, err)
		}
	}
	log.Info("Simulated ledgers ready", "gateway", p.Gateway.Address(), "cogateway", p.CoGateway.Address(),
		"bounty", bounty, "accounts", len(cfg.Simulation.Accounts))
	return coordinator.Ledger{Gateway: p.Gateway, Anchor: p.OriginAnchor, Proofs: p.Origin},
		coordinator.Ledger{Gateway: p.CoGateway, Anchor: p.AuxiliaryAnchor, Proofs: p.Auxiliary},
		nil
}

func (s *stack) liveLedgers(ctx context.Context, cfg *config.Config) (coordinator.Ledger, coordinator.Ledger, error) {
	if err := cfg.ValidateLive(); err != nil {
		return coordinator.Ledger{}, coordinator.Ledger{}, err
	}
	if cfg.Network.DelayEnabled {
		log.Info("Network delay simulation enabled", "min", cfg.Network.MinDelayMs, "max", cfg.Network.MaxDelayMs)
	}
	origin, err := s.dialLedger(ctx, protocol.Origin, cfg.Origin, cfg.Network)
	if err != nil {
		return coordinator.Ledger{}, coordinator.Ledger{}, err
	}
	aux, err := s.dialLedger(ctx, protocol.Auxiliary, cfg.Auxiliary, cfg.Network)
	if err != nil {
		return coordinator.Ledger{}, coordinator.Ledger{}, err
	}
	return origin, aux, nil
}

func (s *stack) dialLedger(ctx context.Context, side protocol.Side, lc config.LedgerConfig, nc config.NetworkConfig) (coordinator.Ledger, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(lc.PrivateKey, "0x"))
	if err != nil {
		return coordinator.Ledger{}, fmt.Errorf("%s private_key: %w", side, err)
	}
	ep, err := ledger.Dial(ctx, lc.RPCURL, network.NewHTTPClient(nc, 0))
	if err != nil {
		return coordinator.Ledger{}, fmt.Errorf("%s: %w", side, err)
	}
	s.closers = append(s.closers, ep.Close)

	chainID, err := ep.Eth.ChainID(ctx)
	if err != nil {
		return coordinator.Ledger{}, fmt.Errorf("%s chain id: %w", side, err)
	}
	if chainID.Uint64() != lc.ChainID {
		return coordinator.Ledger{}, fmt.Errorf("%s: node reports chain id %s, configured %d", side, chainID, lc.ChainID)
	}

	submitter := ledger.NewKeySubmitter(ep.Eth, key, chainID,
		ledger.WithRate(lc.SubmitRate),
		ledger.WithPollInterval(lc.ReceiptPollInterval()))
	log.Info("Ledger connected", "side", side, "url", lc.RPCURL, "chain", chainID, "facilitator", submitter.From())

	return coordinator.Ledger{
		Gateway: ledger.NewRPCGateway(side, common.HexToAddress(lc.Gateway), ep.Eth, submitter),
		Anchor:  anchor.NewRPCReader(ep.Eth, common.HexToAddress(lc.Anchor)),
		Proofs:  proof.NewCachedProvider(proof.NewRPCProvider(ep.Geth), proof.DefaultCacheBytes),
	}, nil
}
