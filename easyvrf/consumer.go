package easyvrf

import (
	"bytes"
	"time"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/utils"
)

const (
	// DefaultConfirmations is the number of beacon rounds that have to pass
	// before a request becomes eligible for fulfillment.
	DefaultConfirmations = 3
	// DefaultNumWords is the number of random words delivered per request.
	DefaultNumWords = 1
)

// ErrUnknownRequest is returned when a fulfillment does not match the
// outstanding request id, whether stale, replayed or forged.
var ErrUnknownRequest = xerrors.New("unknown randomness request")

// RequestConfig parametrizes a randomness request.
type RequestConfig struct {
	KeyHash       []byte
	Subscription  uint64
	Confirmations uint64
	CallbackGas   uint64
	NumWords      uint64
	NativePayment bool
}

func (cfg RequestConfig) withDefaults() RequestConfig {
	if cfg.Confirmations == 0 {
		cfg.Confirmations = DefaultConfirmations
	}
	if cfg.NumWords == 0 {
		cfg.NumWords = DefaultNumWords
	}
	return cfg
}

// Coordinator issues randomness requests and returns their opaque ids. It is
// implemented by Client, tests provide their own.
type Coordinator interface {
	RequestRandomWords(cfg RequestConfig) ([]byte, error)
}

// Consumer tracks the single outstanding randomness request of a unit. Fields
// are exported so a consumer can be persisted inside a service storage.
// Keeping at most one request outstanding is the caller's responsibility.
type Consumer struct {
	Pending  []byte
	IssuedAt int64
}

// Request issues a randomness request through the coordinator and records the
// returned id as the outstanding request.
func (c *Consumer) Request(coord Coordinator, cfg RequestConfig) ([]byte, error) {
	id, err := coord.RequestRandomWords(cfg.withDefaults())
	if err != nil {
		log.Errorf("Randomness request failed: %v", err)
		return nil, xerrors.Errorf("requesting random words: %v", err)
	}
	c.Pending = id
	c.IssuedAt = time.Now().Unix()
	return id, nil
}

// Outstanding returns the pending request id, or nil if there is none.
func (c *Consumer) Outstanding() []byte {
	return c.Pending
}

// Fulfill matches a delivered fulfillment against the outstanding request.
// A mismatch is rejected with ErrUnknownRequest and leaves the slot intact.
// On a match the slot is consumed and the first word is returned, so a
// replayed fulfillment for the same id is rejected as unknown.
func (c *Consumer) Fulfill(id []byte, words []uint64) (uint64, error) {
	if len(words) == 0 {
		log.Errorf("Fulfillment carries no random words")
		return 0, xerrors.New("fulfillment carries no random words")
	}
	if c.Pending == nil || !bytes.Equal(id, c.Pending) {
		log.Errorf("Fulfillment for unknown request: %x", id)
		return 0, ErrUnknownRequest
	}
	c.Pending = nil
	c.IssuedAt = 0
	return words[0], nil
}

// VerifyFulfillment checks that the beacon signed the delivered words for the
// given request id.
func VerifyFulfillment(public kyber.Point, id []byte, words []uint64, sig []byte) error {
	return schnorr.Verify(cothority.Suite, public, utils.FulfillDigest(id, words), sig)
}
