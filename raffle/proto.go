package raffle

import (
	"time"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"

	"github.com/dedis/tombola/easyvrf"
)

func init() {
	network.RegisterMessages(&SetupRequest{}, &SetupReply{},
		&FundRequest{}, &FundReply{},
		&BalanceRequest{}, &BalanceReply{},
		&EnterRequest{}, &EnterReply{},
		&CheckUpkeepRequest{}, &CheckUpkeepReply{},
		&PerformUpkeepRequest{}, &PerformUpkeepReply{},
		&FulfillRequest{}, &FulfillReply{},
		&GetStateRequest{}, &GetStateReply{},
		&GetPlayerRequest{}, &GetPlayerReply{})
}

// SetupRequest configures the raffle. Fee and interval are immutable
// afterwards. Beacon is the key that fulfillment signatures must verify
// against. An empty LedgerPath keeps the balances in memory.
type SetupRequest struct {
	Roster      *onet.Roster
	EntranceFee uint64
	Interval    time.Duration
	Beacon      kyber.Point
	VRF         easyvrf.RequestConfig
	LedgerPath  string
}

type SetupReply struct {
	Pot string
}

// FundRequest deposits the amount on the account of the given key.
type FundRequest struct {
	Key    kyber.Point
	Amount uint64
}

type FundReply struct {
	Balance uint64
}

// BalanceRequest queries the account balance of a key.
type BalanceRequest struct {
	Key kyber.Point
}

type BalanceReply struct {
	Balance uint64
}

// EnterRequest is an entry attempt. Amount is the payment attached to it.
type EnterRequest struct {
	Player Player
	Amount uint64
}

type EnterReply struct {
	Index      uint64
	NumPlayers uint64
}

// CheckUpkeepRequest asks whether a draw is due. Data is echoed back.
type CheckUpkeepRequest struct {
	Data []byte
}

type CheckUpkeepReply struct {
	Needed     bool
	Balance    uint64
	NumPlayers uint64
	State      State
	LastDraw   int64
	Data       []byte
}

// PerformUpkeepRequest triggers the draw after re-validating the predicate.
type PerformUpkeepRequest struct {
	Data []byte
}

type PerformUpkeepReply struct {
	RequestID []byte
}

// FulfillRequest delivers the random words of a request together with the
// beacon signature over them.
type FulfillRequest struct {
	RequestID []byte
	Words     []uint64
	Sig       []byte
}

type FulfillReply struct {
	WinnerIndex uint64
	Winner      kyber.Point
	Payout      uint64
}

type GetStateRequest struct{}

type GetStateReply struct {
	State          State
	EntranceFee    uint64
	Interval       time.Duration
	NumPlayers     uint64
	Balance        uint64
	LastDraw       int64
	LastWinner     []byte
	PendingRequest []byte
}

type GetPlayerRequest struct {
	Index uint64
}

type GetPlayerReply struct {
	Key kyber.Point
}
