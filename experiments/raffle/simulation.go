package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/simul/monitor"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/easyvrf"
	"github.com/dedis/tombola/experiments/commons"
	"github.com/dedis/tombola/keeper"
	"github.com/dedis/tombola/raffle"
	"github.com/dedis/tombola/utils"
)

type SimulationService struct {
	onet.SimulationBFTree
	NumPlayers     int
	EntranceFee    int
	FundAmount     int
	IntervalSec    int
	BeaconPeriodMS int
	Confirmations  int
	NumSlots       int
	SlotMS         int
	Seed           int

	// internal structs
	raffleCl *raffle.Client
	beaconCl *easyvrf.Client
}

func init() {
	onet.SimulationRegister("TombolaRaffle", NewRaffleSimulation)
}

func NewRaffleSimulation(config string) (onet.Simulation, error) {
	ss := &SimulationService{}
	_, err := toml.Decode(config, ss)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

func (s *SimulationService) Setup(dir string,
	hosts []string) (*onet.SimulationConfig, error) {
	sc := &onet.SimulationConfig{}
	s.CreateRoster(sc, hosts, 2000)
	err := s.CreateTree(sc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *SimulationService) Node(config *onet.SimulationConfig) error {
	index, _ := config.Roster.Search(config.Server.ServerIdentity.ID)
	if index < 0 {
		log.Fatal("Didn't find this node in roster")
	}
	log.Lvl3("Initializing node-index", index)
	return s.SimulationBFTree.Node(config)
}

func (s *SimulationService) initUnits(roster *onet.Roster) error {
	setupMonitor := monitor.NewTimeMeasure("setup")
	s.beaconCl = easyvrf.NewClient(roster)
	initReply, err := s.beaconCl.InitUnit(
		time.Duration(s.BeaconPeriodMS) * time.Millisecond)
	if err != nil {
		log.Errorf("initializing the beacon: %v", err)
		return err
	}
	vrf := easyvrf.RequestConfig{
		Subscription:  1,
		Confirmations: uint64(s.Confirmations),
	}
	s.raffleCl = raffle.NewClient(roster)
	_, err = s.raffleCl.Setup(uint64(s.EntranceFee),
		time.Duration(s.IntervalSec)*time.Second, initReply.Public, vrf, "")
	if err != nil {
		log.Errorf("setting up the raffle: %v", err)
		return err
	}
	setupMonitor.Record()
	return nil
}

func (s *SimulationService) executeEnter(roster *onet.Roster,
	entrant *raffle.Player, idx int) error {
	cl := raffle.NewClient(roster)
	defer cl.Close()

	label := fmt.Sprintf("p%d_enter", idx)
	enterMonitor := monitor.NewTimeMeasure(label)
	_, err := cl.Fund(entrant.Key, uint64(s.FundAmount))
	if err != nil {
		log.Errorf("funding entrant %d: %v", idx, err)
		return err
	}
	_, err = cl.Enter(*entrant, uint64(s.EntranceFee))
	if err != nil {
		log.Errorf("entering entrant %d: %v", idx, err)
		return err
	}
	enterMonitor.Record()
	return nil
}

func (s *SimulationService) executeDraw(round int) error {
	agent := &keeper.Agent{
		Raffle: s.raffleCl,
		Beacon: s.beaconCl,
		Poll:   100 * time.Millisecond,
		Wait:   time.Minute,
	}
	drawMonitor := monitor.NewTimeMeasure("draw")
	performed := false
	for i := 0; i < 600; i++ {
		needed, data, err := agent.CheckUpkeep(nil)
		if err != nil {
			log.Errorf("checking upkeep: %v", err)
			return err
		}
		if needed {
			err = agent.PerformUpkeep(data)
			if err != nil {
				log.Errorf("performing upkeep: %v", err)
				return err
			}
			performed = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !performed {
		return xerrors.New("the draw never became due")
	}
	drawMonitor.Record()

	state, err := s.raffleCl.GetState()
	if err != nil {
		return err
	}
	winner, err := utils.PointFromBytes(state.LastWinner)
	if err != nil {
		return err
	}
	log.Lvl1("Round", round, "winner:", winner.String())
	return nil
}

func (s *SimulationService) runRaffle(roster *onet.Roster) error {
	entrants := commons.GenerateEntrants(s.NumPlayers)
	players := make([]raffle.Player, len(entrants))
	for i, e := range entrants {
		p, err := commons.MakePlayer(e)
		if err != nil {
			return err
		}
		players[i] = p
	}
	numSlots := s.NumSlots
	if numSlots == 0 {
		numSlots = s.NumPlayers
	}
	for round := 0; round < s.Rounds; round++ {
		schedule := commons.GenerateSchedule(s.Seed+round, s.NumPlayers, numSlots)
		var wg sync.WaitGroup
		ctr := 0
		for _, pCount := range schedule {
			wg.Add(pCount)
			for j := 0; j < pCount; j++ {
				go func(idx int) {
					defer wg.Done()
					err := s.executeEnter(roster, &players[idx], idx)
					if err != nil {
						log.Error(err)
					}
				}(ctr)
				ctr++
			}
			time.Sleep(time.Duration(s.SlotMS) * time.Millisecond)
		}
		wg.Wait()
		time.Sleep(time.Duration(s.IntervalSec) * time.Second)
		err := s.executeDraw(round)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SimulationService) Run(config *onet.SimulationConfig) error {
	err := s.initUnits(config.Roster)
	if err != nil {
		return err
	}
	return s.runRaffle(config.Roster)
}
