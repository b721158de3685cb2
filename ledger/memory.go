package ledger

import (
	"sync"
)

// memLedger keeps all balances in memory. It is used in tests and in the
// simulations, where persistence across restarts does not matter.
type memLedger struct {
	sync.Mutex
	accounts map[AccountID]uint64
	frozen   map[AccountID]bool
}

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() Ledger {
	return &memLedger{
		accounts: make(map[AccountID]uint64),
		frozen:   make(map[AccountID]bool),
	}
}

func (l *memLedger) Balance(acct AccountID) (uint64, error) {
	l.Lock()
	defer l.Unlock()
	return l.accounts[acct], nil
}

func (l *memLedger) Deposit(acct AccountID, amount uint64) error {
	l.Lock()
	defer l.Unlock()
	l.accounts[acct] += amount
	return nil
}

func (l *memLedger) Transfer(from, to AccountID, amount uint64) error {
	l.Lock()
	defer l.Unlock()
	if l.accounts[from] < amount {
		return ErrInsufficientFunds
	}
	if l.frozen[to] {
		return ErrRefused
	}
	l.accounts[from] -= amount
	l.accounts[to] += amount
	return nil
}

func (l *memLedger) Freeze(acct AccountID, frozen bool) error {
	l.Lock()
	defer l.Unlock()
	if frozen {
		l.frozen[acct] = true
	} else {
		delete(l.frozen, acct)
	}
	return nil
}

func (l *memLedger) Close() error {
	return nil
}
