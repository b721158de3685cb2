package libtest

import (
	"time"

	"go.dedis.ch/cothority/v3/darc"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/easyvrf"
	"github.com/dedis/tombola/raffle"
	"github.com/dedis/tombola/utils"
)

// InitRaffle brings up the randomness beacon and the raffle on the roster
// and returns a client for each. The raffle is bound to the beacon's public
// key so that only its fulfillments can resolve a draw.
func InitRaffle(roster *onet.Roster, fee uint64, interval time.Duration,
	beaconInterval time.Duration, vrf easyvrf.RequestConfig) (*raffle.Client, *easyvrf.Client, error) {
	beaconCl := easyvrf.NewClient(roster)
	initReply, err := beaconCl.InitUnit(beaconInterval)
	if err != nil {
		return nil, nil, xerrors.Errorf("initializing the beacon: %v", err)
	}
	raffleCl := raffle.NewClient(roster)
	_, err = raffleCl.Setup(fee, interval, initReply.Public, vrf, "")
	if err != nil {
		return nil, nil, xerrors.Errorf("setting up the raffle: %v", err)
	}
	return raffleCl, beaconCl, nil
}

func GenerateEntrants(count int) []darc.Signer {
	entrants := make([]darc.Signer, count)
	for i := 0; i < count; i++ {
		entrants[i] = darc.NewSignerEd25519(nil, nil)
	}
	return entrants
}

// MakePlayer signs the entrant's public key so the raffle accepts the entry.
func MakePlayer(entrant darc.Signer) (raffle.Player, error) {
	pkHash, err := utils.HashPoint(entrant.Ed25519.Point)
	if err != nil {
		return raffle.Player{}, xerrors.Errorf("couldn't calculate the hash of pk: %v", err)
	}
	sig, err := entrant.Ed25519.Sign(pkHash)
	if err != nil {
		return raffle.Player{}, xerrors.Errorf("couldn't sign pk: %v", err)
	}
	return raffle.Player{Key: entrant.Ed25519.Point, Sig: sig}, nil
}

// FundAndEnter credits every entrant with balance tokens and enters them
// into the raffle paying the given amount each.
func FundAndEnter(cl *raffle.Client, entrants []darc.Signer, balance uint64,
	amount uint64) ([]raffle.Player, error) {
	players := make([]raffle.Player, len(entrants))
	for i, e := range entrants {
		p, err := MakePlayer(e)
		if err != nil {
			return nil, err
		}
		_, err = cl.Fund(p.Key, balance)
		if err != nil {
			return nil, xerrors.Errorf("funding entrant %d: %v", i, err)
		}
		_, err = cl.Enter(p, amount)
		if err != nil {
			return nil, xerrors.Errorf("entering entrant %d: %v", i, err)
		}
		players[i] = p
	}
	return players, nil
}
