package ledger

import (
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/utils"
)

// AccountID identifies a balance in the ledger. Participant accounts are
// derived from their public keys, see Account.
type AccountID string

var (
	// ErrInsufficientFunds is returned when the source account cannot
	// cover a transfer.
	ErrInsufficientFunds = xerrors.New("insufficient funds")
	// ErrRefused is returned when the destination account is frozen and
	// refuses incoming transfers.
	ErrRefused = xerrors.New("account refuses incoming transfers")
)

// Ledger moves amounts of the single native currency between accounts.
// Accounts exist implicitly with a zero balance. A transfer either happens
// completely or not at all.
type Ledger interface {
	Balance(acct AccountID) (uint64, error)
	Deposit(acct AccountID, amount uint64) error
	Transfer(from, to AccountID, amount uint64) error
	// Freeze marks an account as refusing incoming transfers. Transfers
	// into a frozen account fail with ErrRefused; outgoing transfers are
	// not affected.
	Freeze(acct AccountID, frozen bool) error
	Close() error
}

// Account derives the ledger account of a public key.
func Account(p kyber.Point) (AccountID, error) {
	hex, err := utils.PointHex(p)
	if err != nil {
		return "", xerrors.Errorf("cannot derive account: %v", err)
	}
	return AccountID(hex), nil
}
