package raffle

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/ledger"
)

// Payout moves the pot to the winner's ledger account.
type Payout struct {
	Ledger ledger.Ledger
	Pot    ledger.AccountID
}

// Balance returns the current pot balance.
func (p *Payout) Balance() (uint64, error) {
	return p.Ledger.Balance(p.Pot)
}

// Pay transfers the given amount from the pot to the winner. A failed
// transfer leaves both balances untouched.
func (p *Payout) Pay(winner kyber.Point, amount uint64) error {
	acct, err := ledger.Account(winner)
	if err != nil {
		return err
	}
	err = p.Ledger.Transfer(p.Pot, acct, amount)
	if err != nil {
		log.Errorf("Payout transfer failed: %v", err)
		return xerrors.Errorf("paying out the pot: %w", err)
	}
	return nil
}
