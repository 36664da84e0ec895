package simledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Token is a minimal EIP20 ledger. Its gateway-driven mutations happen under
// the owning chain's lock; the token lock only keeps direct reads safe.
type Token struct {
	Address common.Address
	Symbol  string

	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewToken(symbol string, address common.Address) *Token {
	return &Token{
		Address:    address,
		Symbol:     symbol,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.balanceLocked(owner))
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowanceLocked(owner, spender))
}

// Mint creates amount for to.
func (t *Token) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balanceLocked(to).Add(t.balanceLocked(to), amount)
}

// Approve sets the allowance of spender over owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

func (t *Token) transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s: insufficient balance of %s", t.Symbol, from.Hex())
	}
	bal.Sub(bal, amount)
	t.balanceLocked(to).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *Token) burn(from common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	bal := t.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s: burn exceeds balance of %s", t.Symbol, from.Hex())
	}
	bal.Sub(bal, amount)
	return nil
}

func (t *Token) spendAllowance(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.allowanceLocked(owner, spender)
	a.Sub(a, amount)
}

func (t *Token) balanceLocked(owner common.Address) *big.Int {
	bal, ok := t.balances[owner]
	if !ok {
		bal = new(big.Int)
		t.balances[owner] = bal
	}
	return bal
}

func (t *Token) allowanceLocked(owner, spender common.Address) *big.Int {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	a, ok := t.allowances[owner][spender]
	if !ok {
		a = new(big.Int)
		t.allowances[owner][spender] = a
	}
	return a
}

// debit is one transferFrom a gateway performs on a caller's behalf.
type debit struct {
	token  *Token
	owner  common.Address
	amount *big.Int
}

// checkDebits verifies all debits can be applied together. Debits against
// the same token and owner add up.
func checkDebits(spender common.Address, debits ...debit) error {
	type key struct {
		token *Token
		owner common.Address
	}
	need := make(map[key]*big.Int)
	for _, d := range debits {
		k := key{d.token, d.owner}
		if need[k] == nil {
			need[k] = new(big.Int)
		}
		need[k].Add(need[k], d.amount)
	}
	for k, amount := range need {
		if k.token.Allowance(k.owner, spender).Cmp(amount) < 0 {
			return fmt.Errorf("%s allowance of %s below %s", k.token.Symbol, k.owner.Hex(), amount)
		}
		if k.token.BalanceOf(k.owner).Cmp(amount) < 0 {
			return fmt.Errorf("%s balance of %s below %s", k.token.Symbol, k.owner.Hex(), amount)
		}
	}
	return nil
}

// applyDebits moves checked debits to recipient.
func applyDebits(spender, recipient common.Address, debits ...debit) {
	for _, d := range debits {
		d.token.spendAllowance(d.owner, spender, d.amount)
		if err := d.token.transfer(d.owner, recipient, d.amount); err != nil {
			panic(fmt.Sprintf("unchecked debit: %v", err))
		}
	}
}
