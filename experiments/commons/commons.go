package commons

import (
	"math/rand"

	"go.dedis.ch/cothority/v3/darc"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/raffle"
	"github.com/dedis/tombola/utils"
)

func GenerateEntrants(count int) []darc.Signer {
	entrants := make([]darc.Signer, count)
	for i := 0; i < count; i++ {
		entrants[i] = darc.NewSignerEd25519(nil, nil)
	}
	return entrants
}

// MakePlayer signs the entrant's public key with its own private key, which
// is what the raffle checks on entry.
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

// GenerateSchedule spreads count participants over numSlots ticks so that
// entries arrive in bursts instead of all at once. The same seed yields the
// same schedule across runs.
func GenerateSchedule(seed int, count int, numSlots int) []int {
	slots := make([]int, numSlots)
	rng := rand.New(rand.NewSource(int64(seed)))
	for i := 0; i < count; i++ {
		slots[rng.Intn(numSlots)]++
	}
	return slots
}
