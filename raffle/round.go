package raffle

import (
	"fmt"
	"time"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/utils"
)

// State of a round.
type State uint32

const (
	// Open accepts entries.
	Open State = iota
	// Calculating has a draw pending and rejects entries.
	Calculating
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Calculating:
		return "calculating"
	}
	return "unknown"
}

var (
	// ErrInsufficientPayment is returned when the payment does not cover
	// the entrance fee.
	ErrInsufficientPayment = xerrors.New("payment below the entrance fee")
	// ErrRaffleClosed is returned when an entry arrives while a draw is
	// pending.
	ErrRaffleClosed = xerrors.New("raffle is not open")
)

// UpkeepNotNeededError reports why a draw trigger was refused.
type UpkeepNotNeededError struct {
	Balance    uint64
	NumPlayers int
	State      State
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: balance=%d players=%d state=%s",
		e.Balance, e.NumPlayers, e.State)
}

// Round is the state of one raffle round: the fee and interval policy, the
// player registry, the draw state and the outstanding randomness request.
// The zero value is not usable, use NewRound.
type Round struct {
	State       State
	EntranceFee uint64
	Interval    time.Duration
	// LastDraw is the unix time of the last completed draw, or of the
	// round creation before the first one.
	LastDraw int64
	Registry Registry
	// PendingRequest is the id of the outstanding randomness request, nil
	// if there is none. It stays set when a draw could not be resolved.
	PendingRequest []byte
	// LastWinner is the marshaled key of the most recent winner, nil until
	// the first draw resolves.
	LastWinner []byte
}

// NewRound creates an open round with the given policy.
func NewRound(fee uint64, interval time.Duration, now int64) (*Round, error) {
	if fee == 0 {
		return nil, xerrors.New("entrance fee must be positive")
	}
	if interval <= 0 {
		return nil, xerrors.New("interval must be positive")
	}
	return &Round{
		State:       Open,
		EntranceFee: fee,
		Interval:    interval,
		LastDraw:    now,
	}, nil
}

// admit checks the entry guards without mutating the round. The fee is
// checked before the state.
func (r *Round) admit(paid uint64) error {
	if paid < r.EntranceFee {
		return ErrInsufficientPayment
	}
	if r.State != Open {
		return ErrRaffleClosed
	}
	return nil
}

// Enter appends the player if the raffle is open and the payment covers the
// fee. It returns the index assigned to the player.
func (r *Round) Enter(p Player, paid uint64) (int, error) {
	if err := r.admit(paid); err != nil {
		return 0, err
	}
	r.Registry.Append(p)
	return r.Registry.Count() - 1, nil
}

// UpkeepNeeded is the draw predicate: the raffle is open, the interval has
// passed since the last draw, there is at least one player and the pot holds
// funds. It never mutates the round.
func (r *Round) UpkeepNeeded(now int64, balance uint64) bool {
	elapsed := time.Duration(now-r.LastDraw) * time.Second
	return r.State == Open &&
		elapsed >= r.Interval &&
		r.Registry.Count() > 0 &&
		balance > 0
}

// BeginDraw re-validates the upkeep predicate and flips the round into
// Calculating. When the predicate fails the round is left untouched and the
// diagnostics are returned.
func (r *Round) BeginDraw(now int64, balance uint64) error {
	if !r.UpkeepNeeded(now, balance) {
		return &UpkeepNotNeededError{
			Balance:    balance,
			NumPlayers: r.Registry.Count(),
			State:      r.State,
		}
	}
	r.State = Calculating
	return nil
}

// AttachRequest records the randomness request issued for this draw.
func (r *Round) AttachRequest(id []byte) {
	r.PendingRequest = id
}

// Winner picks the winning player for a random word. The index is the word
// modulo the number of players, which leaves a small bias towards low
// indices when the word range does not divide evenly.
func (r *Round) Winner(word uint64) (int, Player, error) {
	n := r.Registry.Count()
	if n == 0 {
		return 0, Player{}, xerrors.New("no players to pick from")
	}
	winnerIdx := word % uint64(n)
	p, err := r.Registry.Get(int(winnerIdx))
	if err != nil {
		return 0, Player{}, err
	}
	return int(winnerIdx), p, nil
}

// Complete finishes a resolved draw: the winner is recorded, the players are
// cleared, the clock restarts and the round reopens. It must only be called
// after the payout went through.
func (r *Round) Complete(winner kyber.Point, now int64) error {
	buf, err := winner.MarshalBinary()
	if err != nil {
		return xerrors.Errorf("couldn't marshal winner: %v", err)
	}
	r.LastWinner = buf
	r.Registry.Clear()
	r.LastDraw = now
	r.PendingRequest = nil
	r.State = Open
	return nil
}

// WinnerPoint returns the most recent winner, nil if there is none yet.
func (r *Round) WinnerPoint() (kyber.Point, error) {
	if r.LastWinner == nil {
		return nil, nil
	}
	return utils.PointFromBytes(r.LastWinner)
}
