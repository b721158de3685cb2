package keeper

/*
The keeper drives an upkeep the way an automation network drives a
contract: it polls the check predicate on a fixed period and calls perform
when it holds. The poller is generic over the Upkeep interface so tests can
drive it with fakes.
*/

import (
	"time"

	"go.dedis.ch/onet/v3/log"
)

// Upkeep is the check/perform protocol the keeper drives. CheckUpkeep must
// be free of side effects, PerformUpkeep re-validates before acting.
type Upkeep interface {
	CheckUpkeep(data []byte) (bool, []byte, error)
	PerformUpkeep(data []byte) error
}

// Keeper polls an upkeep on a fixed period.
type Keeper struct {
	upkeep Upkeep
	period time.Duration
	data   []byte
	stop   chan struct{}
	done   chan struct{}
}

// New creates a keeper polling the upkeep with the given period. Data is
// passed to every check, the check result is passed on to perform.
func New(u Upkeep, period time.Duration, data []byte) *Keeper {
	return &Keeper{
		upkeep: u,
		period: period,
		data:   data,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the poll loop in the background until Stop is called.
func (k *Keeper) Start() {
	go k.run()
}

func (k *Keeper) run() {
	defer close(k.done)
	ticker := time.NewTicker(k.period)
	defer ticker.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			k.Poll()
		}
	}
}

// Poll runs one check/perform cycle. Errors are logged, the keeper keeps
// polling.
func (k *Keeper) Poll() {
	needed, performData, err := k.upkeep.CheckUpkeep(k.data)
	if err != nil {
		log.Errorf("Upkeep check failed: %v", err)
		return
	}
	if !needed {
		return
	}
	err = k.upkeep.PerformUpkeep(performData)
	if err != nil {
		log.Errorf("Upkeep perform failed: %v", err)
	}
}

// Stop ends the poll loop and waits for it to exit. It must be called
// exactly once.
func (k *Keeper) Stop() {
	close(k.stop)
	<-k.done
}
