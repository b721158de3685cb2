package raffle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/easyvrf"
	"github.com/dedis/tombola/ledger"
	"github.com/dedis/tombola/utils"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type fakeCoordinator struct {
	id  []byte
	err error
}

func (f *fakeCoordinator) RequestRandomWords(cfg easyvrf.RequestConfig) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.id, nil
}

func newTestService(t *testing.T) (*onet.LocalTest, *Service, *key.Pair) {
	local := onet.NewTCPTest(cothority.Suite)
	hosts, roster, _ := local.GenTree(3, true)
	s := local.GetServices(hosts, raffleID)[0].(*Service)

	beacon := key.NewKeyPair(cothority.Suite)
	_, err := s.Setup(&SetupRequest{
		Roster:      roster,
		EntranceFee: 10,
		Interval:    time.Second,
		Beacon:      beacon.Public,
		VRF:         easyvrf.RequestConfig{Subscription: 1},
	})
	require.NoError(t, err)
	s.coordinator = &fakeCoordinator{id: []byte("req-1")}
	return local, s, beacon
}

func enterPlayers(t *testing.T, s *Service, n int) []Player {
	players := make([]Player, n)
	for i := range players {
		p := newTestPlayer(t)
		_, err := s.Fund(&FundRequest{Key: p.Key, Amount: 100})
		require.NoError(t, err)
		reply, err := s.Enter(&EnterRequest{Player: p, Amount: 10})
		require.NoError(t, err)
		require.Equal(t, uint64(i), reply.Index)
		players[i] = p
	}
	return players
}

func rewindClock(s *Service) {
	s.storage.Lock()
	s.storage.Round.LastDraw -= 120
	s.storage.Unlock()
}

func signFulfillment(t *testing.T, kp *key.Pair, id []byte, words []uint64) []byte {
	sig, err := schnorr.Sign(cothority.Suite, kp.Private, utils.FulfillDigest(id, words))
	require.NoError(t, err)
	return sig
}

func TestService_Setup(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	defer local.CloseAll()
	hosts, roster, _ := local.GenTree(1, true)
	s := local.GetServices(hosts, raffleID)[0].(*Service)

	beacon := key.NewKeyPair(cothority.Suite)

	// handlers refuse to run before setup
	_, err := s.GetState(&GetStateRequest{})
	require.Error(t, err)
	_, err = s.CheckUpkeep(&CheckUpkeepRequest{})
	require.Error(t, err)

	// invalid policies and a missing beacon key are refused
	_, err = s.Setup(&SetupRequest{Roster: roster, EntranceFee: 0,
		Interval: time.Second, Beacon: beacon.Public})
	require.Error(t, err)
	_, err = s.Setup(&SetupRequest{Roster: roster, EntranceFee: 5,
		Interval: time.Second})
	require.Error(t, err)

	reply, err := s.Setup(&SetupRequest{Roster: roster, EntranceFee: 5,
		Interval: time.Second, Beacon: beacon.Public})
	require.NoError(t, err)
	require.NotEmpty(t, reply.Pot)

	// the policy is immutable once set
	_, err = s.Setup(&SetupRequest{Roster: roster, EntranceFee: 7,
		Interval: time.Second, Beacon: beacon.Public})
	require.Error(t, err)
}

func TestService_EnterGuards(t *testing.T) {
	local, s, _ := newTestService(t)
	defer local.CloseAll()

	p := newTestPlayer(t)

	// a request without a player key is refused
	_, err := s.Enter(&EnterRequest{Amount: 10})
	require.Error(t, err)

	// entry without funds is refused by the ledger
	_, err = s.Enter(&EnterRequest{Player: p, Amount: 10})
	require.True(t, xerrors.Is(err, ledger.ErrInsufficientFunds))

	_, err = s.Fund(&FundRequest{Key: p.Key, Amount: 100})
	require.NoError(t, err)

	// payment below the fee
	_, err = s.Enter(&EnterRequest{Player: p, Amount: 9})
	require.True(t, xerrors.Is(err, ErrInsufficientPayment))

	// forged entry signature
	forged := Player{Key: p.Key, Sig: []byte("bad")}
	_, err = s.Enter(&EnterRequest{Player: forged, Amount: 10})
	require.Error(t, err)

	// overpaying is allowed and the full amount moves into the pot
	reply, err := s.Enter(&EnterRequest{Player: p, Amount: 15})
	require.NoError(t, err)
	require.Equal(t, uint64(0), reply.Index)
	state, err := s.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(15), state.Balance)
}

func TestService_Draw(t *testing.T) {
	local, s, beacon := newTestService(t)
	defer local.CloseAll()

	players := enterPlayers(t, s, 3)

	state, err := s.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, uint64(30), state.Balance)
	require.Equal(t, uint64(3), state.NumPlayers)

	// the interval has not elapsed yet
	check, err := s.CheckUpkeep(&CheckUpkeepRequest{})
	require.NoError(t, err)
	require.False(t, check.Needed)
	_, err = s.PerformUpkeep(&PerformUpkeepRequest{})
	var notNeeded *UpkeepNotNeededError
	require.True(t, xerrors.As(err, &notNeeded))

	rewindClock(s)

	check, err = s.CheckUpkeep(&CheckUpkeepRequest{Data: []byte("ping")})
	require.NoError(t, err)
	require.True(t, check.Needed)
	require.Equal(t, []byte("ping"), check.Data)

	perform, err := s.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)
	require.Equal(t, []byte("req-1"), perform.RequestID)

	state, err = s.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, Calculating, state.State)
	require.Equal(t, perform.RequestID, state.PendingRequest)

	// entries are rejected while the draw is pending
	locked := newTestPlayer(t)
	_, err = s.Fund(&FundRequest{Key: locked.Key, Amount: 100})
	require.NoError(t, err)
	_, err = s.Enter(&EnterRequest{Player: locked, Amount: 10})
	require.True(t, xerrors.Is(err, ErrRaffleClosed))

	// a second trigger fails through the Open-only guard
	_, err = s.PerformUpkeep(&PerformUpkeepRequest{})
	require.True(t, xerrors.As(err, &notNeeded))

	// word 3 wraps to the first player
	words := []uint64{3}
	sig := signFulfillment(t, beacon, perform.RequestID, words)
	fulfill, err := s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: words, Sig: sig})
	require.NoError(t, err)
	require.Equal(t, uint64(0), fulfill.WinnerIndex)
	require.True(t, fulfill.Winner.Equal(players[0].Key))
	require.Equal(t, uint64(30), fulfill.Payout)

	// the winner received the pot: 100 funded - 10 fee + 30 pot
	acct, err := ledger.Account(players[0].Key)
	require.NoError(t, err)
	balance, err := s.ledger.Balance(acct)
	require.NoError(t, err)
	require.Equal(t, uint64(120), balance)

	state, err = s.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, Open, state.State)
	require.Equal(t, uint64(0), state.NumPlayers)
	require.Equal(t, uint64(0), state.Balance)
	require.Nil(t, state.PendingRequest)
	winner, err := utils.PointFromBytes(state.LastWinner)
	require.NoError(t, err)
	require.True(t, winner.Equal(players[0].Key))

	// the request id is consumed, a replay is unknown
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: words, Sig: sig})
	require.True(t, xerrors.Is(err, easyvrf.ErrUnknownRequest))
}

func TestService_FulfillRejections(t *testing.T) {
	local, s, beacon := newTestService(t)
	defer local.CloseAll()

	enterPlayers(t, s, 2)
	rewindClock(s)
	perform, err := s.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)

	words := []uint64{7}

	// not signed by the beacon key
	intruder := key.NewKeyPair(cothority.Suite)
	badSig := signFulfillment(t, intruder, perform.RequestID, words)
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: words, Sig: badSig})
	require.True(t, xerrors.Is(err, ErrUnauthorized))

	// tampered words break the signature
	sig := signFulfillment(t, beacon, perform.RequestID, words)
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: []uint64{8}, Sig: sig})
	require.True(t, xerrors.Is(err, ErrUnauthorized))

	// a stale id is rejected without touching the round
	stale := []byte("stale-req")
	staleSig := signFulfillment(t, beacon, stale, words)
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: stale, Words: words, Sig: staleSig})
	require.True(t, xerrors.Is(err, easyvrf.ErrUnknownRequest))

	state, err := s.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, Calculating, state.State)
	require.Equal(t, uint64(2), state.NumPlayers)

	// the correct fulfillment still resolves the round
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: words, Sig: sig})
	require.NoError(t, err)
}

func TestService_RequestFailure(t *testing.T) {
	local, s, _ := newTestService(t)
	defer local.CloseAll()

	enterPlayers(t, s, 2)
	rewindClock(s)
	s.coordinator = &fakeCoordinator{err: xerrors.New("beacon unreachable")}

	_, err := s.PerformUpkeep(&PerformUpkeepRequest{})
	require.Error(t, err)

	// the round reopened, no request is pending and entries still work
	state, err := s.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, Open, state.State)
	require.Nil(t, state.PendingRequest)
	require.Equal(t, uint64(2), state.NumPlayers)

	p := newTestPlayer(t)
	_, err = s.Fund(&FundRequest{Key: p.Key, Amount: 100})
	require.NoError(t, err)
	_, err = s.Enter(&EnterRequest{Player: p, Amount: 10})
	require.NoError(t, err)

	// a working coordinator picks the draw back up
	s.coordinator = &fakeCoordinator{id: []byte("req-2")}
	perform, err := s.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)
	require.Equal(t, []byte("req-2"), perform.RequestID)
}

func TestService_PayoutFailure(t *testing.T) {
	local, s, beacon := newTestService(t)
	defer local.CloseAll()

	players := enterPlayers(t, s, 3)

	// the winner's account refuses incoming transfers
	acct, err := ledger.Account(players[0].Key)
	require.NoError(t, err)
	require.NoError(t, s.ledger.Freeze(acct, true))

	rewindClock(s)
	perform, err := s.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)

	words := []uint64{0}
	sig := signFulfillment(t, beacon, perform.RequestID, words)
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: words, Sig: sig})
	require.Error(t, err)
	require.True(t, xerrors.Is(err, ledger.ErrRefused))

	// the round is stuck in Calculating with players and pot intact
	state, err := s.GetState(&GetStateRequest{})
	require.NoError(t, err)
	require.Equal(t, Calculating, state.State)
	require.Equal(t, uint64(3), state.NumPlayers)
	require.Equal(t, uint64(30), state.Balance)
	require.Equal(t, perform.RequestID, state.PendingRequest)

	// the consumed request cannot be replayed
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: words, Sig: sig})
	require.True(t, xerrors.Is(err, easyvrf.ErrUnknownRequest))
}

func TestService_Events(t *testing.T) {
	local, s, beacon := newTestService(t)
	defer local.CloseAll()

	obs := s.Observe()
	defer s.Unobserve(obs)

	players := enterPlayers(t, s, 1)
	evt := <-obs.Chan()
	require.Equal(t, EventEntered, evt.Kind)
	require.True(t, evt.Player.Equal(players[0].Key))

	rewindClock(s)
	perform, err := s.PerformUpkeep(&PerformUpkeepRequest{})
	require.NoError(t, err)
	evt = <-obs.Chan()
	require.Equal(t, EventDrawRequested, evt.Kind)
	require.Equal(t, perform.RequestID, evt.RequestID)

	words := []uint64{4}
	sig := signFulfillment(t, beacon, perform.RequestID, words)
	_, err = s.FulfillRandomWords(&FulfillRequest{
		RequestID: perform.RequestID, Words: words, Sig: sig})
	require.NoError(t, err)
	evt = <-obs.Chan()
	require.Equal(t, EventWinnerPicked, evt.Kind)
	require.True(t, evt.Winner.Equal(players[0].Key))
	require.Equal(t, uint64(10), evt.Payout)
}

func TestClient_Basic(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	defer local.CloseAll()
	_, roster, _ := local.GenTree(3, true)

	beacon := key.NewKeyPair(cothority.Suite)
	cl := NewClient(roster)
	_, err := cl.Setup(10, time.Second, beacon.Public, easyvrf.RequestConfig{}, "")
	require.NoError(t, err)

	p := newTestPlayer(t)
	fund, err := cl.Fund(p.Key, 50)
	require.NoError(t, err)
	require.Equal(t, uint64(50), fund.Balance)

	enter, err := cl.Enter(p, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(0), enter.Index)
	require.Equal(t, uint64(1), enter.NumPlayers)

	balance, err := cl.Balance(p.Key)
	require.NoError(t, err)
	require.Equal(t, uint64(40), balance.Balance)

	state, err := cl.GetState()
	require.NoError(t, err)
	require.Equal(t, Open, state.State)
	require.Equal(t, uint64(10), state.EntranceFee)
	require.Equal(t, time.Second, state.Interval)
	require.Equal(t, uint64(1), state.NumPlayers)
	require.Equal(t, uint64(10), state.Balance)

	player, err := cl.GetPlayer(0)
	require.NoError(t, err)
	require.True(t, player.Key.Equal(p.Key))

	_, err = cl.GetPlayer(5)
	require.Error(t, err)

	check, err := cl.CheckUpkeep(nil)
	require.NoError(t, err)
	require.False(t, check.Needed)
}
