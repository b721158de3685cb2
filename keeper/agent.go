package keeper

import (
	"time"

	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/easyvrf"
	"github.com/dedis/tombola/raffle"
)

// Agent wires a raffle to its beacon. It implements Upkeep against the
// raffle service and, once a draw is requested, waits for the beacon to sign
// the words and relays the fulfillment back to the raffle.
type Agent struct {
	Raffle *raffle.Client
	Beacon *easyvrf.Client
	// Poll is how often the beacon is asked for a pending fulfillment,
	// default one second.
	Poll time.Duration
	// Wait bounds the wait for one fulfillment, default one minute.
	Wait time.Duration
}

// CheckUpkeep asks the raffle whether a draw is due.
func (a *Agent) CheckUpkeep(data []byte) (bool, []byte, error) {
	reply, err := a.Raffle.CheckUpkeep(data)
	if err != nil {
		return false, nil, err
	}
	return reply.Needed, reply.Data, nil
}

// PerformUpkeep triggers the draw and resolves it end to end.
func (a *Agent) PerformUpkeep(data []byte) error {
	perform, err := a.Raffle.PerformUpkeep(data)
	if err != nil {
		return xerrors.Errorf("triggering draw: %v", err)
	}
	log.Lvlf2("Draw requested with id %x", perform.RequestID)
	fulfillment, err := a.await(perform.RequestID)
	if err != nil {
		return err
	}
	reply, err := a.Raffle.FulfillRandomWords(perform.RequestID,
		fulfillment.Words, fulfillment.Sig)
	if err != nil {
		return xerrors.Errorf("relaying fulfillment: %v", err)
	}
	log.Lvl2("Winner index", reply.WinnerIndex, "paid", reply.Payout)
	return nil
}

func (a *Agent) await(id []byte) (*easyvrf.GetFulfillmentReply, error) {
	poll := a.Poll
	if poll <= 0 {
		poll = time.Second
	}
	wait := a.Wait
	if wait <= 0 {
		wait = time.Minute
	}
	deadline := time.Now().Add(wait)
	for {
		reply, err := a.Beacon.GetFulfillment(id)
		if err != nil {
			return nil, xerrors.Errorf("reading fulfillment: %v", err)
		}
		if reply.Ready {
			return reply, nil
		}
		if time.Now().After(deadline) {
			return nil, xerrors.Errorf("no fulfillment for %x", id)
		}
		time.Sleep(poll)
	}
}
