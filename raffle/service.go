package raffle

/*
The raffle service owns the round state machine. Entries pay the fee into
the pot, the upkeep handlers drive the OPEN to CALCULATING transition and
the fulfillment handler resolves the draw: it verifies the beacon signature,
picks the winner, pays out the pot and reopens the round. All state lives in
one storage aggregate guarded by its mutex, so every handler runs its
read-check-mutate sequence atomically.
*/

import (
	"fmt"
	"sync"
	"time"

	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/easyvrf"
	"github.com/dedis/tombola/ledger"
	"github.com/dedis/tombola/utils"
)

var raffleID onet.ServiceID

// ServiceName is the name of the raffle service.
var ServiceName = "Tombola"

var storageKey = []byte("storage")

// potAccount holds the collected entrance fees until the payout.
var potAccount = ledger.AccountID("raffle_pot")

// ErrUnauthorized is returned when a fulfillment is not signed by the
// configured beacon.
var ErrUnauthorized = xerrors.New("fulfillment not signed by the raffle oracle")

func init() {
	var err error
	raffleID, err = onet.RegisterNewService(ServiceName, newService)
	if err != nil {
		panic(err)
	}
	network.RegisterMessages(&storage{})
}

type storage struct {
	Roster     *onet.Roster
	Round      *Round
	Consumer   *easyvrf.Consumer
	BeaconKey  []byte
	VRF        easyvrf.RequestConfig
	LedgerPath string
	sync.Mutex
}

// Service holds the raffle state of this conode.
type Service struct {
	*onet.ServiceProcessor
	storage     *storage
	ledger      ledger.Ledger
	payout      *Payout
	coordinator easyvrf.Coordinator
	events      *broadcaster
}

// Setup creates the round. Calling it twice is refused, the fee and interval
// policy is immutable once set.
func (s *Service) Setup(req *SetupRequest) (*SetupReply, error) {
	if req.Beacon == nil {
		log.Errorf("Setup without a beacon key")
		return nil, xerrors.New("beacon key is required")
	}
	round, err := NewRound(req.EntranceFee, req.Interval, time.Now().Unix())
	if err != nil {
		log.Errorf("Invalid raffle policy: %v", err)
		return nil, err
	}
	beaconBuf, err := req.Beacon.MarshalBinary()
	if err != nil {
		log.Errorf("Couldn't marshal beacon key: %v", err)
		return nil, xerrors.Errorf("marshaling beacon key: %v", err)
	}
	s.storage.Lock()
	if s.storage.Round != nil {
		s.storage.Unlock()
		log.Errorf("Raffle is already set up")
		return nil, xerrors.New("raffle is already set up")
	}
	if req.LedgerPath != "" {
		l, err := ledger.NewBoltLedger(req.LedgerPath)
		if err != nil {
			s.storage.Unlock()
			return nil, err
		}
		s.setLedger(l)
	}
	s.storage.Roster = req.Roster
	s.storage.Round = round
	s.storage.Consumer = &easyvrf.Consumer{}
	s.storage.BeaconKey = beaconBuf
	s.storage.VRF = req.VRF
	s.storage.LedgerPath = req.LedgerPath
	if req.Roster != nil {
		s.coordinator = easyvrf.NewClient(req.Roster)
	}
	s.storage.Unlock()
	err = s.save()
	if err != nil {
		return nil, err
	}
	log.Lvl2("Raffle set up with fee", req.EntranceFee, "and interval", req.Interval)
	return &SetupReply{Pot: string(potAccount)}, nil
}

// Fund deposits the amount on the ledger account of the given key and
// returns the new balance.
func (s *Service) Fund(req *FundRequest) (*FundReply, error) {
	if req.Key == nil {
		log.Errorf("Fund without a key")
		return nil, xerrors.New("missing key")
	}
	acct, err := ledger.Account(req.Key)
	if err != nil {
		return nil, err
	}
	s.storage.Lock()
	defer s.storage.Unlock()
	err = s.ledger.Deposit(acct, req.Amount)
	if err != nil {
		log.Errorf("Deposit failed: %v", err)
		return nil, err
	}
	balance, err := s.ledger.Balance(acct)
	if err != nil {
		return nil, err
	}
	return &FundReply{Balance: balance}, nil
}

// Balance returns the ledger balance of the given key.
func (s *Service) Balance(req *BalanceRequest) (*BalanceReply, error) {
	if req.Key == nil {
		log.Errorf("Balance without a key")
		return nil, xerrors.New("missing key")
	}
	acct, err := ledger.Account(req.Key)
	if err != nil {
		return nil, err
	}
	s.storage.Lock()
	defer s.storage.Unlock()
	balance, err := s.ledger.Balance(acct)
	if err != nil {
		return nil, err
	}
	return &BalanceReply{Balance: balance}, nil
}

// Enter adds a player to the round. The fee is checked before the state, the
// payment moves into the pot before the player is recorded.
func (s *Service) Enter(req *EnterRequest) (*EnterReply, error) {
	if req.Player.Key == nil {
		log.Errorf("Entry without a key")
		return nil, xerrors.New("missing player key")
	}
	err := req.Player.Verify()
	if err != nil {
		log.Errorf("Entry signature invalid: %v", err)
		return nil, err
	}
	acct, err := ledger.Account(req.Player.Key)
	if err != nil {
		return nil, err
	}
	s.storage.Lock()
	round := s.storage.Round
	if round == nil {
		s.storage.Unlock()
		log.Errorf("Raffle is not set up")
		return nil, xerrors.New("raffle is not set up")
	}
	err = round.admit(req.Amount)
	if err != nil {
		s.storage.Unlock()
		log.Errorf("Entry refused: %v", err)
		return nil, err
	}
	err = s.ledger.Transfer(acct, potAccount, req.Amount)
	if err != nil {
		s.storage.Unlock()
		log.Errorf("Entry payment failed: %v", err)
		return nil, xerrors.Errorf("entry payment: %w", err)
	}
	round.Registry.Append(req.Player)
	idx := round.Registry.Count() - 1
	numPlayers := round.Registry.Count()
	s.storage.Unlock()
	err = s.save()
	if err != nil {
		return nil, err
	}
	s.events.broadcast(Event{Kind: EventEntered, Player: req.Player.Key})
	log.Lvl2("Player", idx, "entered the raffle")
	return &EnterReply{Index: uint64(idx), NumPlayers: uint64(numPlayers)}, nil
}

// CheckUpkeep answers the draw predicate without mutating anything.
func (s *Service) CheckUpkeep(req *CheckUpkeepRequest) (*CheckUpkeepReply, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	round := s.storage.Round
	if round == nil {
		log.Errorf("Raffle is not set up")
		return nil, xerrors.New("raffle is not set up")
	}
	balance, err := s.payout.Balance()
	if err != nil {
		return nil, err
	}
	return &CheckUpkeepReply{
		Needed:     round.UpkeepNeeded(time.Now().Unix(), balance),
		Balance:    balance,
		NumPlayers: uint64(round.Registry.Count()),
		State:      round.State,
		LastDraw:   round.LastDraw,
		Data:       req.Data,
	}, nil
}

// PerformUpkeep re-validates the predicate, closes the round and issues the
// randomness request. When the request cannot be issued the round reopens.
func (s *Service) PerformUpkeep(req *PerformUpkeepRequest) (*PerformUpkeepReply, error) {
	s.storage.Lock()
	round := s.storage.Round
	if round == nil {
		s.storage.Unlock()
		log.Errorf("Raffle is not set up")
		return nil, xerrors.New("raffle is not set up")
	}
	if s.coordinator == nil {
		s.storage.Unlock()
		log.Errorf("No randomness coordinator configured")
		return nil, xerrors.New("no randomness coordinator configured")
	}
	balance, err := s.payout.Balance()
	if err != nil {
		s.storage.Unlock()
		return nil, err
	}
	err = round.BeginDraw(time.Now().Unix(), balance)
	if err != nil {
		s.storage.Unlock()
		log.Errorf("Draw trigger refused: %v", err)
		return nil, err
	}
	id, err := s.storage.Consumer.Request(s.coordinator, s.storage.VRF)
	if err != nil {
		round.State = Open
		s.storage.Unlock()
		return nil, err
	}
	round.AttachRequest(id)
	s.storage.Unlock()
	err = s.save()
	if err != nil {
		return nil, err
	}
	s.events.broadcast(Event{Kind: EventDrawRequested, RequestID: id})
	log.Lvlf2("Draw requested with id %x", id)
	return &PerformUpkeepReply{RequestID: id}, nil
}

// FulfillRandomWords resolves the pending draw with the delivered words. The
// beacon signature is verified before anything else, a mismatching request
// id is rejected without touching the round. The payout and the reset happen
// together: if the transfer fails the round stays in Calculating with its
// players intact.
func (s *Service) FulfillRandomWords(req *FulfillRequest) (*FulfillReply, error) {
	s.storage.Lock()
	round := s.storage.Round
	if round == nil {
		s.storage.Unlock()
		log.Errorf("Raffle is not set up")
		return nil, xerrors.New("raffle is not set up")
	}
	beacon, err := utils.PointFromBytes(s.storage.BeaconKey)
	if err != nil {
		s.storage.Unlock()
		return nil, err
	}
	err = easyvrf.VerifyFulfillment(beacon, req.RequestID, req.Words, req.Sig)
	if err != nil {
		s.storage.Unlock()
		log.Errorf("Unauthorized fulfillment: %v", err)
		return nil, ErrUnauthorized
	}
	word, err := s.storage.Consumer.Fulfill(req.RequestID, req.Words)
	if err != nil {
		s.storage.Unlock()
		return nil, err
	}
	winnerIdx, winner, err := round.Winner(word)
	if err != nil {
		s.storage.Unlock()
		if err2 := s.save(); err2 != nil {
			log.Errorf("Saving the consumed request failed: %v", err2)
		}
		return nil, err
	}
	pot, err := s.payout.Balance()
	if err != nil {
		s.storage.Unlock()
		if err2 := s.save(); err2 != nil {
			log.Errorf("Saving the consumed request failed: %v", err2)
		}
		return nil, err
	}
	err = s.payout.Pay(winner.Key, pot)
	if err != nil {
		// The draw stays unresolved: players and the pending id are kept
		// as diagnostics, remediation is an operator concern.
		s.storage.Unlock()
		if err2 := s.save(); err2 != nil {
			log.Errorf("Saving the stuck round failed: %v", err2)
		}
		return nil, err
	}
	err = round.Complete(winner.Key, time.Now().Unix())
	if err != nil {
		s.storage.Unlock()
		return nil, err
	}
	s.storage.Unlock()
	err = s.save()
	if err != nil {
		return nil, err
	}
	s.events.broadcast(Event{Kind: EventWinnerPicked, Winner: winner.Key, Payout: pot})
	log.Info("Winner index:", winnerIdx, winner.Key.String())
	return &FulfillReply{
		WinnerIndex: uint64(winnerIdx),
		Winner:      winner.Key,
		Payout:      pot,
	}, nil
}

// GetState returns a snapshot of the round.
func (s *Service) GetState(req *GetStateRequest) (*GetStateReply, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	round := s.storage.Round
	if round == nil {
		log.Errorf("Raffle is not set up")
		return nil, xerrors.New("raffle is not set up")
	}
	balance, err := s.payout.Balance()
	if err != nil {
		return nil, err
	}
	return &GetStateReply{
		State:          round.State,
		EntranceFee:    round.EntranceFee,
		Interval:       round.Interval,
		NumPlayers:     uint64(round.Registry.Count()),
		Balance:        balance,
		LastDraw:       round.LastDraw,
		LastWinner:     round.LastWinner,
		PendingRequest: round.PendingRequest,
	}, nil
}

// GetPlayer returns the key of the player at the given index.
func (s *Service) GetPlayer(req *GetPlayerRequest) (*GetPlayerReply, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	round := s.storage.Round
	if round == nil {
		log.Errorf("Raffle is not set up")
		return nil, xerrors.New("raffle is not set up")
	}
	p, err := round.Registry.Get(int(req.Index))
	if err != nil {
		log.Errorf("No player at index %d", req.Index)
		return nil, err
	}
	return &GetPlayerReply{Key: p.Key}, nil
}

// Observe registers an in-process observer for raffle events.
func (s *Service) Observe() *Observer {
	return s.events.register()
}

// Unobserve removes the observer and closes its channel.
func (s *Service) Unobserve(o *Observer) {
	s.events.unregister(o)
}

func (s *Service) setLedger(l ledger.Ledger) {
	if s.ledger != nil {
		s.ledger.Close()
	}
	s.ledger = l
	s.payout = &Payout{Ledger: l, Pot: potAccount}
}

func (s *Service) save() error {
	s.storage.Lock()
	defer s.storage.Unlock()
	err := s.Save(storageKey, s.storage)
	if err != nil {
		log.Errorf("Could not save data: %v", err)
		return err
	}
	return nil
}

func (s *Service) tryLoad() error {
	s.storage = &storage{}
	msg, err := s.Load(storageKey)
	if err != nil {
		log.Errorf("Load storage failed: %v", err)
		return err
	}
	if msg != nil {
		var ok bool
		s.storage, ok = msg.(*storage)
		if !ok {
			return fmt.Errorf("Store of wrong type")
		}
	}
	if s.storage.Consumer == nil {
		s.storage.Consumer = &easyvrf.Consumer{}
	}
	if s.storage.Roster != nil {
		s.coordinator = easyvrf.NewClient(s.storage.Roster)
	}
	if s.storage.LedgerPath != "" {
		l, err := ledger.NewBoltLedger(s.storage.LedgerPath)
		if err != nil {
			return err
		}
		s.setLedger(l)
	}
	return nil
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
		events:           newBroadcaster(),
	}
	s.setLedger(ledger.NewMemLedger())
	err := s.RegisterHandlers(s.Setup, s.Fund, s.Balance, s.Enter,
		s.CheckUpkeep, s.PerformUpkeep, s.FulfillRandomWords, s.GetState,
		s.GetPlayer)
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
