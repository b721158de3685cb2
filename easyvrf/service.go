package easyvrf

/*
The easyvrf service is a randomness beacon built on a schnorr signature
chain. Every interval one more round becomes due; the chain is extended
lazily when a round is read, so the service keeps no background goroutine.
Consumers register a request, wait out the confirmation depth and read the
signed random words, which they can relay to any unit that knows the beacon
public key.
*/

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/utils"
)

var easyvrfID onet.ServiceID

// ServiceName is the name of the beacon service.
var ServiceName = "EasyVRF"

var storageKey = []byte("storage")

const genesisMsg = "easyvrf_genesis"

func init() {
	var err error
	easyvrfID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
	network.RegisterMessages(&storage{}, &PendingRandomness{})
}

// PendingRandomness is a registered request waiting for its target round.
type PendingRandomness struct {
	ID     []byte
	Round  uint64
	Config RequestConfig
	Issued int64
}

type storage struct {
	Interval   time.Duration
	ChainStart int64
	Nonce      uint64
	Blocks     [][]byte
	Pending    map[string]*PendingRandomness
	sync.Mutex
}

// EasyVRF holds the internal state of the beacon.
type EasyVRF struct {
	*onet.ServiceProcessor
	storage *storage
}

// InitUnit signs the genesis block and starts the round clock. Calling it on
// an already running beacon leaves the chain untouched.
func (s *EasyVRF) InitUnit(req *InitUnitRequest) (*InitUnitReply, error) {
	if req.Interval <= 0 {
		log.Errorf("Invalid beacon interval: %v", req.Interval)
		return nil, xerrors.New("interval must be positive")
	}
	s.storage.Lock()
	if len(s.storage.Blocks) == 0 {
		sig, err := s.sign(createNextMsg(nil))
		if err != nil {
			s.storage.Unlock()
			log.Errorf("Signing genesis block failed: %v", err)
			return nil, err
		}
		s.storage.Interval = req.Interval
		s.storage.ChainStart = time.Now().UnixNano()
		s.storage.Blocks = [][]byte{sig}
	}
	genesis := s.storage.Blocks[0]
	s.storage.Unlock()
	err := s.save()
	if err != nil {
		return nil, err
	}
	return &InitUnitReply{Public: s.getKeyPair().Public, Genesis: genesis}, nil
}

// RequestRandomness registers a request. The target round is the currently
// due round plus the confirmation depth from the request config.
func (s *EasyVRF) RequestRandomness(req *RandomnessRequest) (*RandomnessReply, error) {
	cfg := req.Config.withDefaults()
	s.storage.Lock()
	if s.storage.ChainStart == 0 {
		s.storage.Unlock()
		log.Errorf("Beacon is not initialized")
		return nil, xerrors.New("beacon is not initialized")
	}
	target := s.dueRound(time.Now().UnixNano()) + cfg.Confirmations
	nonce := s.storage.Nonce
	s.storage.Nonce++
	id := requestID(nonce, target, cfg)
	s.storage.Pending[hex.EncodeToString(id)] = &PendingRandomness{
		ID:     id,
		Round:  target,
		Config: cfg,
		Issued: time.Now().Unix(),
	}
	s.storage.Unlock()
	err := s.save()
	if err != nil {
		return nil, err
	}
	log.Lvl2("Registered randomness request", hex.EncodeToString(id), "for round", target)
	return &RandomnessReply{RequestID: id, Round: target}, nil
}

// GetFulfillment reads the signed random words of a request. While the target
// round is not due yet it replies with Ready set to false. The readout is
// idempotent, the words of a round never change.
func (s *EasyVRF) GetFulfillment(req *GetFulfillmentRequest) (*GetFulfillmentReply, error) {
	s.storage.Lock()
	p, ok := s.storage.Pending[hex.EncodeToString(req.RequestID)]
	if !ok {
		s.storage.Unlock()
		log.Errorf("No pending request with id %x", req.RequestID)
		return nil, ErrUnknownRequest
	}
	if s.dueRound(time.Now().UnixNano()) < p.Round {
		reply := &GetFulfillmentReply{Ready: false, Round: p.Round}
		s.storage.Unlock()
		return reply, nil
	}
	if err := s.extendChain(p.Round); err != nil {
		s.storage.Unlock()
		return nil, err
	}
	words := randomWords(s.storage.Blocks[p.Round], p.ID, p.Config.NumWords)
	round := p.Round
	s.storage.Unlock()
	err := s.save()
	if err != nil {
		return nil, err
	}
	sig, err := s.sign(utils.FulfillDigest(req.RequestID, words))
	if err != nil {
		log.Errorf("Signing fulfillment failed: %v", err)
		return nil, err
	}
	return &GetFulfillmentReply{Ready: true, Round: round, Words: words, Sig: sig}, nil
}

// GetRound reads one block of the chain.
func (s *EasyVRF) GetRound(req *GetRoundRequest) (*GetRoundReply, error) {
	s.storage.Lock()
	if s.storage.ChainStart == 0 {
		s.storage.Unlock()
		log.Errorf("Beacon is not initialized")
		return nil, xerrors.New("beacon is not initialized")
	}
	if s.dueRound(time.Now().UnixNano()) < req.Round {
		s.storage.Unlock()
		log.Errorf("Round %d is not due yet", req.Round)
		return nil, xerrors.New("round is not due yet")
	}
	if err := s.extendChain(req.Round); err != nil {
		s.storage.Unlock()
		return nil, err
	}
	reply := &GetRoundReply{Round: req.Round, Sig: s.storage.Blocks[req.Round]}
	if req.Round > 0 {
		reply.Prev = s.storage.Blocks[req.Round-1]
	}
	s.storage.Unlock()
	err := s.save()
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// dueRound returns the latest round the clock allows. Callers must hold the
// storage lock.
func (s *EasyVRF) dueRound(now int64) uint64 {
	elapsed := now - s.storage.ChainStart
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / int64(s.storage.Interval))
}

// extendChain signs all missing blocks up to the given round. Callers must
// hold the storage lock.
func (s *EasyVRF) extendChain(round uint64) error {
	for uint64(len(s.storage.Blocks)) <= round {
		sig, err := s.sign(createNextMsg(s.storage.Blocks))
		if err != nil {
			log.Errorf("Extending chain failed: %v", err)
			return err
		}
		s.storage.Blocks = append(s.storage.Blocks, sig)
	}
	return nil
}

func (s *EasyVRF) sign(msg []byte) ([]byte, error) {
	sig, err := schnorr.Sign(cothority.Suite, s.getKeyPair().Private, msg)
	if err != nil {
		return nil, xerrors.Errorf("schnorr signature failed: %v", err)
	}
	return sig, nil
}

func (s *EasyVRF) getKeyPair() *key.Pair {
	return &key.Pair{
		Public:  s.ServerIdentity().ServicePublic(ServiceName),
		Private: s.ServerIdentity().ServicePrivate(ServiceName),
	}
}

func (s *EasyVRF) save() error {
	s.storage.Lock()
	defer s.storage.Unlock()
	err := s.Save(storageKey, s.storage)
	if err != nil {
		log.Errorf("Could not save data: %v", err)
		return err
	}
	return nil
}

func (s *EasyVRF) tryLoad() error {
	s.storage = &storage{}
	defer func() {
		if s.storage.Pending == nil {
			s.storage.Pending = make(map[string]*PendingRandomness)
		}
	}()
	msg, err := s.Load(storageKey)
	if err != nil {
		log.Errorf("Load storage failed: %v", err)
		return err
	}
	if msg == nil {
		return nil
	}
	var ok bool
	s.storage, ok = msg.(*storage)
	if !ok {
		return fmt.Errorf("Store of wrong type")
	}
	return nil
}

func createNextMsg(blocks [][]byte) []byte {
	round := len(blocks)
	if round == 0 {
		return []byte(genesisMsg)
	}
	rBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(rBuf, uint64(round))
	buf := append(rBuf, blocks[len(blocks)-1]...)
	return buf
}

// VerifyChain checks every block signature against the beacon public key.
func VerifyChain(public kyber.Point, blocks [][]byte) error {
	for i := range blocks {
		msg := createNextMsg(blocks[:i])
		if err := schnorr.Verify(cothority.Suite, public, msg, blocks[i]); err != nil {
			return xerrors.Errorf("block %d does not verify: %v", i, err)
		}
	}
	return nil
}

func requestID(nonce uint64, round uint64, cfg RequestConfig) []byte {
	h := sha256.New()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, nonce)
	h.Write(buf)
	binary.LittleEndian.PutUint64(buf, round)
	h.Write(buf)
	binary.LittleEndian.PutUint64(buf, cfg.Subscription)
	h.Write(buf)
	h.Write(cfg.KeyHash)
	return h.Sum(nil)
}

func randomWords(block []byte, id []byte, numWords uint64) []uint64 {
	words := make([]uint64, numWords)
	buf := make([]byte, 8)
	for i := uint64(0); i < numWords; i++ {
		h := sha256.New()
		h.Write(block)
		h.Write(id)
		binary.LittleEndian.PutUint64(buf, i)
		h.Write(buf)
		words[i] = binary.LittleEndian.Uint64(h.Sum(nil)[:8])
	}
	return words
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &EasyVRF{
		ServiceProcessor: onet.NewServiceProcessor(c),
	}
	err := s.RegisterHandlers(s.InitUnit, s.RequestRandomness, s.GetFulfillment,
		s.GetRound)
	if err != nil {
		log.Errorf("couldn't register handlers: %v", err)
		return nil, err
	}
	err = s.tryLoad()
	if err != nil {
		return nil, err
	}
	return s, nil
}
