package easyvrf

import (
	"time"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

func init() {
	network.RegisterMessages(&InitUnitRequest{}, &InitUnitReply{},
		&RandomnessRequest{}, &RandomnessReply{},
		&GetFulfillmentRequest{}, &GetFulfillmentReply{},
		&GetRoundRequest{}, &GetRoundReply{})
}

type InitUnitRequest struct {
	Roster   *onet.Roster
	Interval time.Duration
}

// InitUnitReply returns the key that fulfillment signatures and chain blocks
// verify against.
type InitUnitReply struct {
	Public  kyber.Point
	Genesis []byte
}

// RandomnessRequest registers a request for random words. The words become
// available once the confirmation depth has passed.
type RandomnessRequest struct {
	Config RequestConfig
}

type RandomnessReply struct {
	RequestID []byte
	Round     uint64
}

type GetFulfillmentRequest struct {
	RequestID []byte
}

// GetFulfillmentReply carries the signed random words of a request. Ready is
// false while the target round is not due yet.
type GetFulfillmentReply struct {
	Ready bool
	Round uint64
	Words []uint64
	Sig   []byte
}

type GetRoundRequest struct {
	Round uint64
}

// GetRoundReply is the chain readout for one round.
type GetRoundReply struct {
	Round uint64
	Prev  []byte
	Sig   []byte
}
