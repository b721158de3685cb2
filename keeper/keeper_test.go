package keeper

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type scriptedUpkeep struct {
	sync.Mutex
	needed   bool
	checkErr error
	performs int
	data     []byte
}

func (u *scriptedUpkeep) CheckUpkeep(data []byte) (bool, []byte, error) {
	u.Lock()
	defer u.Unlock()
	if u.checkErr != nil {
		return false, nil, u.checkErr
	}
	return u.needed, append([]byte("perform:"), data...), nil
}

func (u *scriptedUpkeep) PerformUpkeep(data []byte) error {
	u.Lock()
	defer u.Unlock()
	u.performs++
	u.needed = false
	u.data = data
	return nil
}

func (u *scriptedUpkeep) performed() int {
	u.Lock()
	defer u.Unlock()
	return u.performs
}

func TestKeeper_Poll(t *testing.T) {
	u := &scriptedUpkeep{}
	k := New(u, time.Hour, []byte("x"))

	// the predicate does not hold, nothing to perform
	k.Poll()
	require.Equal(t, 0, u.performed())

	u.Lock()
	u.needed = true
	u.Unlock()
	k.Poll()
	require.Equal(t, 1, u.performed())
	require.Equal(t, []byte("perform:x"), u.data)

	// the perform reset the predicate
	k.Poll()
	require.Equal(t, 1, u.performed())

	// check errors are logged and polling continues
	u.Lock()
	u.checkErr = xerrors.New("offline")
	u.Unlock()
	k.Poll()
	require.Equal(t, 1, u.performed())
}

func TestKeeper_Loop(t *testing.T) {
	u := &scriptedUpkeep{needed: true}
	k := New(u, 20*time.Millisecond, nil)
	k.Start()

	var performs int
	for i := 0; i < 100; i++ {
		time.Sleep(20 * time.Millisecond)
		performs = u.performed()
		if performs > 0 {
			break
		}
	}
	k.Stop()
	require.True(t, performs >= 1)

	// no more polling after Stop
	u.Lock()
	u.needed = true
	u.Unlock()
	after := u.performed()
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, after, u.performed())
}
