package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/dedis/tombola/easyvrf"
	"github.com/dedis/tombola/keeper"
	"github.com/dedis/tombola/raffle"
	"github.com/dedis/tombola/sys"
	"github.com/dedis/tombola/utils"
)

func main() {
	app := cli.NewApp()
	app.Name = "tombola"
	app.Usage = "administer a raffle running on a set of conodes"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug level from 0 to 5",
		},
	}
	app.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:   "key",
			Usage:  "generate a player key pair",
			Action: cmdKey,
		},
		{
			Name:  "setup",
			Usage: "initialize the beacon and the raffle",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Usage: "raffle configuration file",
				},
				cli.StringFlag{
					Name:  "roster, r",
					Usage: "group toml, overrides the one in the config",
				},
			},
			Action: cmdSetup,
		},
		{
			Name:   "status",
			Usage:  "show the current round",
			Flags:  []cli.Flag{rosterFlag()},
			Action: cmdStatus,
		},
		{
			Name:  "fund",
			Usage: "deposit tokens on a player account",
			Flags: []cli.Flag{
				rosterFlag(),
				cli.StringFlag{
					Name:  "key, k",
					Usage: "public key of the account in hex",
				},
				cli.Uint64Flag{
					Name:  "amount, a",
					Usage: "amount to deposit",
				},
			},
			Action: cmdFund,
		},
		{
			Name:  "balance",
			Usage: "show the balance of a player account",
			Flags: []cli.Flag{
				rosterFlag(),
				cli.StringFlag{
					Name:  "key, k",
					Usage: "public key of the account in hex",
				},
			},
			Action: cmdBalance,
		},
		{
			Name:  "enter",
			Usage: "enter the raffle paying the entrance fee",
			Flags: []cli.Flag{
				rosterFlag(),
				cli.StringFlag{
					Name:  "priv, p",
					Usage: "private key of the player in hex",
				},
				cli.Uint64Flag{
					Name:  "amount, a",
					Usage: "payment, defaults to the entrance fee",
				},
			},
			Action: cmdEnter,
		},
		{
			Name:   "check",
			Usage:  "check whether a draw is due",
			Flags:  []cli.Flag{rosterFlag()},
			Action: cmdCheck,
		},
		{
			Name:   "draw",
			Usage:  "trigger the draw and wait for the winner",
			Flags:  []cli.Flag{rosterFlag()},
			Action: cmdDraw,
		},
		{
			Name:  "run",
			Usage: "run a keeper that draws whenever the raffle is due",
			Flags: []cli.Flag{
				rosterFlag(),
				cli.StringFlag{
					Name:  "config, c",
					Usage: "raffle configuration file",
				},
				cli.DurationFlag{
					Name:  "period, p",
					Usage: "poll period of the keeper, overrides the config",
				},
			},
			Action: cmdRun,
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func rosterFlag() cli.Flag {
	return cli.StringFlag{
		Name:  "roster, r",
		Usage: "group toml with the conodes",
	}
}

func raffleClient(c *cli.Context) (*raffle.Client, error) {
	path := c.String("roster")
	if path == "" {
		return nil, xerrors.New("please give a roster with --roster")
	}
	roster, err := utils.ReadRoster(path)
	if err != nil {
		return nil, err
	}
	return raffle.NewClient(roster), nil
}

func cmdKey(c *cli.Context) error {
	kp := key.NewKeyPair(cothority.Suite)
	privHex, err := utils.ScalarHex(kp.Private)
	if err != nil {
		return err
	}
	pubHex, err := utils.PointHex(kp.Public)
	if err != nil {
		return err
	}
	fmt.Println("Private:", privHex)
	fmt.Println("Public:", pubHex)
	return nil
}

func cmdSetup(c *cli.Context) error {
	cfgPath := c.String("config")
	if cfgPath == "" {
		return xerrors.New("please give a configuration with --config")
	}
	cfg, err := sys.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	rosterPath := c.String("roster")
	if rosterPath == "" {
		rosterPath = cfg.RosterFile
	}
	roster, err := utils.ReadRoster(rosterPath)
	if err != nil {
		return err
	}
	vrf, err := cfg.RequestConfig()
	if err != nil {
		return err
	}

	beaconCl := easyvrf.NewClient(roster)
	initReply, err := beaconCl.InitUnit(cfg.BeaconInterval())
	if err != nil {
		return xerrors.Errorf("initializing the beacon: %v", err)
	}
	beaconHex, err := utils.PointHex(initReply.Public)
	if err != nil {
		return err
	}

	raffleCl := raffle.NewClient(roster)
	reply, err := raffleCl.Setup(cfg.EntranceFee, cfg.Interval(),
		initReply.Public, vrf, cfg.LedgerPath)
	if err != nil {
		return xerrors.Errorf("setting up the raffle: %v", err)
	}
	fmt.Println("Beacon public key:", beaconHex)
	fmt.Println("Pot account:", reply.Pot)
	return nil
}

func cmdStatus(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	state, err := cl.GetState()
	if err != nil {
		return err
	}
	fmt.Println("State:", state.State)
	fmt.Println("Entrance fee:", state.EntranceFee)
	fmt.Println("Interval:", state.Interval)
	fmt.Println("Players:", state.NumPlayers)
	fmt.Println("Pot:", state.Balance)
	fmt.Println("Last draw:", time.Unix(state.LastDraw, 0))
	if state.LastWinner != nil {
		winner, err := utils.PointFromBytes(state.LastWinner)
		if err != nil {
			return err
		}
		fmt.Println("Last winner:", winner.String())
	}
	if state.PendingRequest != nil {
		fmt.Printf("Pending request: %x\n", state.PendingRequest)
	}
	return nil
}

func cmdFund(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	pub, err := utils.PointFromHex(c.String("key"))
	if err != nil {
		return xerrors.Errorf("reading the public key: %v", err)
	}
	reply, err := cl.Fund(pub, c.Uint64("amount"))
	if err != nil {
		return err
	}
	fmt.Println("Balance:", reply.Balance)
	return nil
}

func cmdBalance(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	pub, err := utils.PointFromHex(c.String("key"))
	if err != nil {
		return xerrors.Errorf("reading the public key: %v", err)
	}
	reply, err := cl.Balance(pub)
	if err != nil {
		return err
	}
	fmt.Println("Balance:", reply.Balance)
	return nil
}

func cmdEnter(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	secret, err := utils.ScalarFromHex(c.String("priv"))
	if err != nil {
		return xerrors.Errorf("reading the private key: %v", err)
	}
	pub := cothority.Suite.Point().Mul(secret, nil)
	pkHash, err := utils.HashPoint(pub)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(cothority.Suite, secret, pkHash)
	if err != nil {
		return err
	}
	amount := c.Uint64("amount")
	if amount == 0 {
		state, err := cl.GetState()
		if err != nil {
			return err
		}
		amount = state.EntranceFee
	}
	reply, err := cl.Enter(raffle.Player{Key: pub, Sig: sig}, amount)
	if err != nil {
		return err
	}
	fmt.Println("Entered at index:", reply.Index)
	fmt.Println("Players:", reply.NumPlayers)
	return nil
}

func cmdCheck(c *cli.Context) error {
	cl, err := raffleClient(c)
	if err != nil {
		return err
	}
	reply, err := cl.CheckUpkeep(nil)
	if err != nil {
		return err
	}
	fmt.Println("Needed:", reply.Needed)
	fmt.Println("State:", reply.State)
	fmt.Println("Players:", reply.NumPlayers)
	fmt.Println("Pot:", reply.Balance)
	return nil
}

func agentFromRoster(c *cli.Context) (*keeper.Agent, error) {
	path := c.String("roster")
	if path == "" {
		return nil, xerrors.New("please give a roster with --roster")
	}
	roster, err := utils.ReadRoster(path)
	if err != nil {
		return nil, err
	}
	return &keeper.Agent{
		Raffle: raffle.NewClient(roster),
		Beacon: easyvrf.NewClient(roster),
	}, nil
}

func cmdDraw(c *cli.Context) error {
	agent, err := agentFromRoster(c)
	if err != nil {
		return err
	}
	err = agent.PerformUpkeep(nil)
	if err != nil {
		return err
	}
	state, err := agent.Raffle.GetState()
	if err != nil {
		return err
	}
	if state.LastWinner == nil {
		return xerrors.New("the draw did not resolve")
	}
	winner, err := utils.PointFromBytes(state.LastWinner)
	if err != nil {
		return err
	}
	fmt.Println("Winner:", winner.String())
	return nil
}

func cmdRun(c *cli.Context) error {
	period := c.Duration("period")
	rosterPath := c.String("roster")
	if cfgPath := c.String("config"); cfgPath != "" {
		cfg, err := sys.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		if rosterPath == "" {
			rosterPath = cfg.RosterFile
		}
		if period == 0 {
			period = cfg.KeeperPeriod()
		}
	}
	if rosterPath == "" {
		return xerrors.New("please give a roster with --roster")
	}
	if period == 0 {
		period = time.Second
	}
	roster, err := utils.ReadRoster(rosterPath)
	if err != nil {
		return err
	}
	agent := &keeper.Agent{
		Raffle: raffle.NewClient(roster),
		Beacon: easyvrf.NewClient(roster),
	}
	k := keeper.New(agent, period, nil)
	k.Start()
	log.Lvl1("Keeper running, stop with ctrl-c")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done
	k.Stop()
	return nil
}
