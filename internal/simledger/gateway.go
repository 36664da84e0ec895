package simledger

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/sharding-experiment/facilitator/internal/ledger"
	"github.com/sharding-experiment/facilitator/internal/proof"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

// GatewayConfig deploys a gateway (origin) or co-gateway (auxiliary).
type GatewayConfig struct {
	Address common.Address
	// Remote is the counterpart contract whose storage is proven here.
	Remote     common.Address
	Bounty     *big.Int
	OutboxSlot uint64
	InboxSlot  uint64
	Tokens     map[protocol.Token]*Token
	// Anchor holds the checkpoints of the remote chain.
	Anchor *Anchor
}

type message struct {
	msg         *protocol.Message
	facilitator common.Address
	bounty      *big.Int
}

// Gateway simulates the gateway contract of one chain. Message statuses are
// kept in contract storage so they are provable from the state root.
type Gateway struct {
	chain *Chain
	cfg   GatewayConfig

	nonces      map[common.Address]uint64
	outbox      map[common.Hash]*message
	inbox       map[common.Hash]*message
	provenRoots map[uint64]common.Hash

	submissions     map[string]int
	failNext        map[string]error
	corruptDeclared bool
}

var _ ledger.Gateway = (*Gateway)(nil)

// NewGateway deploys the contract, which takes one block.
func NewGateway(chain *Chain, cfg GatewayConfig) (*Gateway, error) {
	if cfg.Bounty == nil {
		cfg.Bounty = new(big.Int)
	}
	if cfg.OutboxSlot == 0 && cfg.InboxSlot == 0 {
		cfg.OutboxSlot, cfg.InboxSlot = proof.DefaultOutboxSlot, proof.DefaultInboxSlot
	}
	if cfg.Anchor == nil {
		cfg.Anchor = NewAnchor()
	}
	g := &Gateway{
		chain:       chain,
		cfg:         cfg,
		nonces:      make(map[common.Address]uint64),
		outbox:      make(map[common.Hash]*message),
		inbox:       make(map[common.Hash]*message),
		provenRoots: make(map[uint64]common.Hash),
		submissions: make(map[string]int),
		failNext:    make(map[string]error),
	}

	chain.mu.Lock()
	defer chain.mu.Unlock()
	chain.stateDB.SetNonce(cfg.Address, 1, tracing.NonceChangeUnspecified)
	if _, err := chain.commitLocked("deploy", common.Address{}, cfg.Address, nil); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) Side() protocol.Side     { return g.chain.side }
func (g *Gateway) Address() common.Address { return g.cfg.Address }
func (g *Gateway) Chain() *Chain           { return g.chain }
func (g *Gateway) Anchor() *Anchor         { return g.cfg.Anchor }

// Submissions counts transactions sent to op, reverted ones included.
func (g *Gateway) Submissions(op string) int {
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	return g.submissions[op]
}

// FailNext makes the next op submission fail with err before it executes.
func (g *Gateway) FailNext(op string, err error) {
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	g.failNext[op] = err
}

// CorruptDeclaredHash makes declare events report a hash that differs from
// the canonical one, as a contract with a divergent encoding would.
func (g *Gateway) CorruptDeclaredHash(on bool) {
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	g.corruptDeclared = on
}

// SetStatus overwrites a message status, standing in for revocation flows the
// facilitator does not drive.
func (g *Gateway) SetStatus(box protocol.Box, messageHash common.Hash, status protocol.MessageStatus) error {
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	g.setStatusLocked(box, messageHash, status)
	_, err := g.chain.commitLocked("setStatus", common.Address{}, g.cfg.Address, nil)
	return err
}

func (g *Gateway) slot(box protocol.Box, messageHash common.Hash) common.Hash {
	if box == protocol.Inbox {
		return protocol.MessageSlot(messageHash, g.cfg.InboxSlot)
	}
	return protocol.MessageSlot(messageHash, g.cfg.OutboxSlot)
}

func (g *Gateway) statusLocked(box protocol.Box, messageHash common.Hash) protocol.MessageStatus {
	v := g.chain.stateDB.GetState(g.cfg.Address, g.slot(box, messageHash))
	return protocol.MessageStatus(v.Big().Uint64())
}

func (g *Gateway) setStatusLocked(box protocol.Box, messageHash common.Hash, status protocol.MessageStatus) {
	g.chain.stateDB.SetState(g.cfg.Address, g.slot(box, messageHash), common.BigToHash(big.NewInt(int64(status))))
}

func (g *Gateway) GetOutboxMessageStatus(ctx context.Context, messageHash common.Hash) (protocol.MessageStatus, error) {
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	return g.statusLocked(protocol.Outbox, messageHash), nil
}

func (g *Gateway) GetInboxMessageStatus(ctx context.Context, messageHash common.Hash) (protocol.MessageStatus, error) {
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	return g.statusLocked(protocol.Inbox, messageHash), nil
}

func (g *Gateway) GetNonce(ctx context.Context, account common.Address) (*big.Int, error) {
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	return new(big.Int).SetUint64(g.nonces[account]), nil
}

func (g *Gateway) Bounty(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(g.cfg.Bounty), nil
}

func (g *Gateway) token(t protocol.Token) (*Token, error) {
	tok, ok := g.cfg.Tokens[t]
	if !ok {
		return nil, fmt.Errorf("%s token on %s: %w", t, g.chain.side, protocol.ErrUnsupportedOnSide)
	}
	return tok, nil
}

func (g *Gateway) TokenAddress(ctx context.Context, t protocol.Token) (common.Address, error) {
	tok, err := g.token(t)
	if err != nil {
		return common.Address{}, err
	}
	return tok.Address, nil
}

func (g *Gateway) IsAllowanceSufficient(ctx context.Context, t protocol.Token, owner common.Address, amount *big.Int) (bool, error) {
	tok, err := g.token(t)
	if err != nil {
		return false, err
	}
	return tok.Allowance(owner, g.cfg.Address).Cmp(amount) >= 0, nil
}

func revert(op, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", protocol.ErrReverted, op, fmt.Sprintf(format, args...))
}

// begin counts the submission and applies injected failures.
func (g *Gateway) begin(op string, opts protocol.TxOptions) error {
	g.submissions[op]++
	if err, ok := g.failNext[op]; ok {
		delete(g.failNext, op)
		return err
	}
	if opts.From == (common.Address{}) {
		return revert(op, "missing sender")
	}
	return nil
}

func (g *Gateway) ApproveAllowance(ctx context.Context, t protocol.Token, amount *big.Int, opts protocol.TxOptions) (*protocol.Receipt, error) {
	tok, err := g.token(t)
	if err != nil {
		return nil, err
	}
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	if err := g.begin(ledger.OpApprove, opts); err != nil {
		return nil, err
	}
	tok.Approve(opts.From, g.cfg.Address, amount)
	return g.chain.commitLocked(ledger.OpApprove, opts.From, tok.Address, nil)
}

func (g *Gateway) SubmitStake(ctx context.Context, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error) {
	if g.chain.side != protocol.Origin {
		return nil, fmt.Errorf("stake: %w", protocol.ErrUnsupportedOnSide)
	}
	return g.declare(protocol.StakeIntent, msg, opts)
}

func (g *Gateway) SubmitRedeem(ctx context.Context, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error) {
	if g.chain.side != protocol.Auxiliary {
		return nil, fmt.Errorf("redeem: %w", protocol.ErrUnsupportedOnSide)
	}
	return g.declare(protocol.RedeemIntent, msg, opts)
}

// declare escrows the amount and bounty and marks the outbox Declared.
func (g *Gateway) declare(intent protocol.IntentKind, msg *protocol.Message, opts protocol.TxOptions) (*protocol.Receipt, error) {
	op := ledger.DeclareOp(intent)
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	if err := g.begin(op, opts); err != nil {
		return nil, err
	}

	declared := msg.Copy()
	declared.Intent = intent
	declared.Gateway = g.cfg.Address
	if declared.Amount == nil || declared.Amount.Sign() <= 0 {
		return nil, revert(op, "amount must be positive")
	}
	if declared.Nonce == nil || !declared.Nonce.IsUint64() || declared.Nonce.Uint64() != g.nonces[declared.Sender] {
		return nil, revert(op, "invalid nonce %v, expected %d", declared.Nonce, g.nonces[declared.Sender])
	}
	hash := declared.Hash()
	if g.statusLocked(protocol.Outbox, hash) != protocol.Undeclared {
		return nil, revert(op, "message %s exists", hash.Hex())
	}

	var bountyIn *uint256.Int
	var debits []debit
	if intent == protocol.StakeIntent {
		value, err := g.token(protocol.ValueToken)
		if err != nil {
			return nil, err
		}
		base, err := g.token(protocol.BaseToken)
		if err != nil {
			return nil, err
		}
		debits = []debit{
			{token: value, owner: declared.Sender, amount: declared.Amount},
			{token: base, owner: opts.From, amount: g.cfg.Bounty},
		}
	} else {
		utility, err := g.token(protocol.UtilityToken)
		if err != nil {
			return nil, err
		}
		paid := opts.Value
		if paid == nil {
			paid = new(big.Int)
		}
		if paid.Cmp(g.cfg.Bounty) != 0 {
			return nil, revert(op, "value %s does not match bounty %s", paid, g.cfg.Bounty)
		}
		bountyIn = uint256.MustFromBig(paid)
		if g.chain.stateDB.GetBalance(opts.From).Cmp(bountyIn) < 0 {
			return nil, revert(op, "insufficient funds for bounty")
		}
		debits = []debit{{token: utility, owner: declared.Sender, amount: declared.Amount}}
	}
	if err := checkDebits(g.cfg.Address, debits...); err != nil {
		return nil, revert(op, "%v", err)
	}

	applyDebits(g.cfg.Address, g.cfg.Address, debits...)
	if bountyIn != nil {
		g.chain.stateDB.SubBalance(opts.From, bountyIn, tracing.BalanceChangeTransfer)
		g.chain.stateDB.AddBalance(g.cfg.Address, bountyIn, tracing.BalanceChangeTransfer)
	}
	g.nonces[declared.Sender]++
	g.setStatusLocked(protocol.Outbox, hash, protocol.Declared)
	g.outbox[hash] = &message{msg: declared, facilitator: opts.From, bounty: new(big.Int).Set(g.cfg.Bounty)}

	emitted := hash
	if g.corruptDeclared {
		emitted = crypto.Keccak256Hash(hash.Bytes())
	}
	event := ledger.ContractABI(g.chain.side).Events[declaredEventName(intent)]
	data, err := event.Inputs.NonIndexed().Pack(declared.Sender, declared.Nonce, declared.Beneficiary, declared.Amount)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", event.Name, err)
	}
	logs := []*types.Log{{
		Address: g.cfg.Address,
		Topics:  []common.Hash{event.ID, emitted},
		Data:    data,
	}}
	return g.chain.commitLocked(op, opts.From, g.cfg.Address, logs)
}

func declaredEventName(intent protocol.IntentKind) string {
	if intent == protocol.RedeemIntent {
		return "RedeemIntentDeclared"
	}
	return "StakeIntentDeclared"
}

// SubmitProveAccount verifies the remote gateway account against an anchored
// root and remembers its storage root for that height.
func (g *Gateway) SubmitProveAccount(ctx context.Context, bundle *protocol.ProofBundle, opts protocol.TxOptions) (*protocol.Receipt, error) {
	op := ledger.OpProveGateway
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	if err := g.begin(op, opts); err != nil {
		return nil, err
	}

	root, ok := g.cfg.Anchor.StateRoot(bundle.BlockHeight)
	if !ok {
		return nil, revert(op, "height %d not anchored", bundle.BlockHeight)
	}
	if bundle.Account != g.cfg.Remote {
		return nil, revert(op, "account %s is not the remote gateway", bundle.Account.Hex())
	}
	encoded, err := bundle.EncodedAccountProof()
	if err != nil {
		return nil, revert(op, "%v", err)
	}
	nodes, err := protocol.DecodeNodes(encoded)
	if err != nil {
		return nil, revert(op, "%v", err)
	}
	account, err := proof.VerifyAccount(root, g.cfg.Remote, nodes)
	if err != nil {
		return nil, revert(op, "invalid account proof: %v", err)
	}
	leaf, err := rlp.EncodeToBytes(account)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(leaf, bundle.EncodedAccount) {
		return nil, revert(op, "account encoding mismatch")
	}
	g.provenRoots[bundle.BlockHeight] = account.Root
	return g.chain.commitLocked(op, opts.From, g.cfg.Address, nil)
}

// SubmitConfirmIntent checks the storage proof of the remote outbox slot and
// marks the inbox Declared.
func (g *Gateway) SubmitConfirmIntent(ctx context.Context, msg *protocol.Message, height uint64, bundle *protocol.ProofBundle, opts protocol.TxOptions) (*protocol.Receipt, error) {
	op := ledger.ConfirmOp(g.chain.side)
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	if err := g.begin(op, opts); err != nil {
		return nil, err
	}

	storageRoot, ok := g.provenRoots[height]
	if !ok {
		return nil, revert(op, "remote gateway not proven at height %d", height)
	}
	confirmed := msg.Copy()
	confirmed.Intent = protocol.StakeIntent
	if g.chain.side == protocol.Origin {
		confirmed.Intent = protocol.RedeemIntent
	}
	confirmed.Gateway = g.cfg.Remote
	hash := confirmed.Hash()
	if status := g.statusLocked(protocol.Inbox, hash); status != protocol.Undeclared {
		return nil, revert(op, "inbox status is %s", status)
	}

	encoded, err := bundle.EncodedStorageProof()
	if err != nil {
		return nil, revert(op, "%v", err)
	}
	nodes, err := protocol.DecodeNodes(encoded)
	if err != nil {
		return nil, revert(op, "%v", err)
	}
	value, err := proof.VerifyStorage(storageRoot, protocol.MessageSlot(hash, g.cfg.OutboxSlot), nodes)
	if err != nil {
		return nil, revert(op, "invalid storage proof: %v", err)
	}
	if value.Cmp(big.NewInt(int64(protocol.Declared))) != 0 {
		return nil, revert(op, "message not declared on remote outbox")
	}

	g.setStatusLocked(protocol.Inbox, hash, protocol.Declared)
	g.inbox[hash] = &message{msg: confirmed, facilitator: opts.From}
	return g.chain.commitLocked(op, opts.From, g.cfg.Address, nil)
}

// SubmitProgress reveals the secret and settles the box.
func (g *Gateway) SubmitProgress(ctx context.Context, box protocol.Box, messageHash, unlockSecret common.Hash, opts protocol.TxOptions) (*protocol.Receipt, error) {
	op := ledger.ProgressOp(g.chain.side, box)
	g.chain.mu.Lock()
	defer g.chain.mu.Unlock()
	if err := g.begin(op, opts); err != nil {
		return nil, err
	}

	if status := g.statusLocked(box, messageHash); status != protocol.Declared {
		return nil, revert(op, "%s status is %s", box, status)
	}
	records := g.outbox
	if box == protocol.Inbox {
		records = g.inbox
	}
	rec, ok := records[messageHash]
	if !ok {
		return nil, revert(op, "unknown message %s", messageHash.Hex())
	}
	if !protocol.VerifyHashLock(unlockSecret, rec.msg.HashLock) {
		return nil, revert(op, "invalid unlock secret")
	}
	if err := g.settleLocked(op, rec, opts.From); err != nil {
		return nil, revert(op, "%v", err)
	}
	g.setStatusLocked(box, messageHash, protocol.Progressed)
	return g.chain.commitLocked(op, opts.From, g.cfg.Address, nil)
}

// settleLocked moves value for a progressed message. The caller earns the
// reward; the beneficiary receives the rest.
func (g *Gateway) settleLocked(op string, rec *message, caller common.Address) error {
	msg := rec.msg
	reward := msg.Reward()
	rest := new(big.Int).Sub(msg.Amount, reward)

	switch op {
	case "progressStake":
		base, err := g.token(protocol.BaseToken)
		if err != nil {
			return err
		}
		return base.transfer(g.cfg.Address, rec.facilitator, rec.bounty)
	case "progressMint":
		utility, err := g.token(protocol.UtilityToken)
		if err != nil {
			return err
		}
		utility.Mint(msg.Beneficiary, rest)
		utility.Mint(caller, reward)
	case "progressRedeem":
		utility, err := g.token(protocol.UtilityToken)
		if err != nil {
			return err
		}
		if err := utility.burn(g.cfg.Address, msg.Amount); err != nil {
			return err
		}
		bounty := uint256.MustFromBig(rec.bounty)
		g.chain.stateDB.SubBalance(g.cfg.Address, bounty, tracing.BalanceChangeTransfer)
		g.chain.stateDB.AddBalance(rec.facilitator, bounty, tracing.BalanceChangeTransfer)
	case "progressUnstake":
		value, err := g.token(protocol.ValueToken)
		if err != nil {
			return err
		}
		if value.BalanceOf(g.cfg.Address).Cmp(msg.Amount) < 0 {
			return fmt.Errorf("escrow below %s", msg.Amount)
		}
		if err := value.transfer(g.cfg.Address, msg.Beneficiary, rest); err != nil {
			return err
		}
		return value.transfer(g.cfg.Address, caller, reward)
	}
	return nil
}
