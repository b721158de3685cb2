package sys

import (
	"encoding/hex"
	"time"

	"github.com/BurntSushi/toml"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"github.com/dedis/tombola/easyvrf"
)

// RaffleConfig is the TOML configuration of a raffle deployment.
type RaffleConfig struct {
	// RosterFile is the group toml with the conodes running the units.
	RosterFile string
	// EntranceFee is the fee in ledger units.
	EntranceFee uint64
	// IntervalSec is the draw window in seconds.
	IntervalSec uint64
	// BeaconIntervalSec is the beacon round time in seconds.
	BeaconIntervalSec uint64
	// LedgerPath is the bbolt file of the ledger, empty keeps the
	// balances in memory.
	LedgerPath string
	// KeeperPeriodSec is the poll period of the keeper, default one
	// second.
	KeeperPeriodSec uint64
	VRF             VRFConfig
}

// VRFConfig is the randomness request policy in a TOML-friendly shape.
type VRFConfig struct {
	KeyHash       string
	Subscription  uint64
	Confirmations uint64
	CallbackGas   uint64
	NumWords      uint64
	NativePayment bool
}

// LoadConfig reads and validates a raffle configuration file.
func LoadConfig(path string) (*RaffleConfig, error) {
	cfg := &RaffleConfig{}
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		log.Errorf("Cannot decode config %s: %v", path, err)
		return nil, xerrors.Errorf("decoding config: %v", err)
	}
	err = cfg.Validate()
	if err != nil {
		log.Errorf("Invalid config %s: %v", path, err)
		return nil, err
	}
	return cfg, nil
}

func (c *RaffleConfig) Validate() error {
	if c.EntranceFee == 0 {
		return xerrors.New("entrance fee must be positive")
	}
	if c.IntervalSec == 0 {
		return xerrors.New("interval must be positive")
	}
	if c.BeaconIntervalSec == 0 {
		return xerrors.New("beacon interval must be positive")
	}
	if c.VRF.KeyHash != "" {
		if _, err := hex.DecodeString(c.VRF.KeyHash); err != nil {
			return xerrors.Errorf("key hash is not valid hex: %v", err)
		}
	}
	return nil
}

// Interval returns the draw window as a duration.
func (c *RaffleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// BeaconInterval returns the beacon round time as a duration.
func (c *RaffleConfig) BeaconInterval() time.Duration {
	return time.Duration(c.BeaconIntervalSec) * time.Second
}

// KeeperPeriod returns the keeper poll period as a duration.
func (c *RaffleConfig) KeeperPeriod() time.Duration {
	if c.KeeperPeriodSec == 0 {
		return time.Second
	}
	return time.Duration(c.KeeperPeriodSec) * time.Second
}

// RequestConfig converts the VRF section into the request config sent to the
// beacon.
func (c *RaffleConfig) RequestConfig() (easyvrf.RequestConfig, error) {
	var keyHash []byte
	if c.VRF.KeyHash != "" {
		var err error
		keyHash, err = hex.DecodeString(c.VRF.KeyHash)
		if err != nil {
			return easyvrf.RequestConfig{}, xerrors.Errorf("decoding key hash: %v", err)
		}
	}
	return easyvrf.RequestConfig{
		KeyHash:       keyHash,
		Subscription:  c.VRF.Subscription,
		Confirmations: c.VRF.Confirmations,
		CallbackGas:   c.VRF.CallbackGas,
		NumWords:      c.VRF.NumWords,
		NativePayment: c.VRF.NativePayment,
	}, nil
}
