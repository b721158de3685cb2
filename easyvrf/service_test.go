package easyvrf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestService_Fulfillment(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	defer local.CloseAll()
	_, roster, _ := local.GenTree(3, true)

	cl := NewClient(roster)
	initReply, err := cl.InitUnit(100 * time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, initReply.Public)
	require.NotEmpty(t, initReply.Genesis)

	id, err := cl.RequestRandomWords(RequestConfig{Subscription: 1})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// the confirmation depth has not passed yet
	f, err := cl.GetFulfillment(id)
	require.NoError(t, err)
	require.False(t, f.Ready)

	var full *GetFulfillmentReply
	for i := 0; i < 100; i++ {
		time.Sleep(50 * time.Millisecond)
		f, err = cl.GetFulfillment(id)
		require.NoError(t, err)
		if f.Ready {
			full = f
			break
		}
	}
	require.NotNil(t, full)
	require.Len(t, full.Words, DefaultNumWords)
	require.NoError(t, VerifyFulfillment(initReply.Public, id, full.Words, full.Sig))

	// the readout is idempotent
	again, err := cl.GetFulfillment(id)
	require.NoError(t, err)
	require.True(t, again.Ready)
	require.Equal(t, full.Words, again.Words)
}

func TestService_Chain(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	defer local.CloseAll()
	hosts, roster, _ := local.GenTree(3, true)

	services := local.GetServices(hosts, easyvrfID)
	root := services[0].(*EasyVRF)
	initReply, err := root.InitUnit(&InitUnitRequest{Roster: roster, Interval: 30 * time.Millisecond})
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	r, err := root.GetRound(&GetRoundRequest{Round: 3})
	require.NoError(t, err)
	require.Equal(t, uint64(3), r.Round)
	require.NotEmpty(t, r.Prev)

	root.storage.Lock()
	blocks := make([][]byte, len(root.storage.Blocks))
	copy(blocks, root.storage.Blocks)
	root.storage.Unlock()
	require.True(t, len(blocks) >= 4)
	require.NoError(t, VerifyChain(initReply.Public, blocks))

	// rounds in the future are refused
	_, err = root.GetRound(&GetRoundRequest{Round: 1000000})
	require.Error(t, err)
}

func TestService_Errors(t *testing.T) {
	local := onet.NewTCPTest(cothority.Suite)
	defer local.CloseAll()
	hosts, roster, _ := local.GenTree(1, true)

	services := local.GetServices(hosts, easyvrfID)
	root := services[0].(*EasyVRF)

	_, err := root.RequestRandomness(&RandomnessRequest{})
	require.Error(t, err)

	_, err = root.InitUnit(&InitUnitRequest{Roster: roster, Interval: -1})
	require.Error(t, err)

	_, err = root.InitUnit(&InitUnitRequest{Roster: roster, Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	_, err = root.GetFulfillment(&GetFulfillmentRequest{RequestID: []byte("nope")})
	require.True(t, xerrors.Is(err, ErrUnknownRequest))
}
