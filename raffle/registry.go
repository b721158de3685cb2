package raffle

import (
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/utils"
)

// ErrIndexOutOfRange is returned when a player index does not exist.
var ErrIndexOutOfRange = xerrors.New("player index out of range")

// Player is one raffle entry: a public key and the schnorr signature over
// its hash, proving ownership of the key.
type Player struct {
	Key kyber.Point
	Sig []byte
}

// NewPlayer creates the entry credential for a key pair.
func NewPlayer(kp *key.Pair) (Player, error) {
	pkHash, err := utils.HashPoint(kp.Public)
	if err != nil {
		return Player{}, xerrors.Errorf("couldn't calculate the hash of pk: %v", err)
	}
	sig, err := schnorr.Sign(cothority.Suite, kp.Private, pkHash)
	if err != nil {
		return Player{}, xerrors.Errorf("couldn't sign pk hash: %v", err)
	}
	return Player{Key: kp.Public, Sig: sig}, nil
}

// Verify checks the entry signature of the player.
func (p Player) Verify() error {
	pkHash, err := utils.HashPoint(p.Key)
	if err != nil {
		return xerrors.Errorf("couldn't calculate the hash of pk: %v", err)
	}
	err = schnorr.Verify(cothority.Suite, p.Key, pkHash, p.Sig)
	if err != nil {
		return xerrors.Errorf("couldn't verify signature: %v", err)
	}
	return nil
}

// Registry is the ordered list of players of the current round. Insertion
// order defines the selection indexing. It only grows until the round resets
// it.
type Registry struct {
	Players []Player
}

func (r *Registry) Append(p Player) {
	r.Players = append(r.Players, p)
}

func (r *Registry) Clear() {
	r.Players = nil
}

func (r *Registry) Count() int {
	return len(r.Players)
}

// Get returns the player at the given index.
func (r *Registry) Get(i int) (Player, error) {
	if i < 0 || i >= len(r.Players) {
		return Player{}, ErrIndexOutOfRange
	}
	return r.Players[i], nil
}
