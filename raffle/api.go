package raffle

import (
	"time"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3"

	"github.com/dedis/tombola/easyvrf"
)

// Client is a client for the raffle service. All calls go to the first
// conode of the roster, which owns the reference ledger.
type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

func (c *Client) Setup(fee uint64, interval time.Duration, beacon kyber.Point,
	vrf easyvrf.RequestConfig, ledgerPath string) (*SetupReply, error) {
	req := &SetupRequest{
		Roster:      c.roster,
		EntranceFee: fee,
		Interval:    interval,
		Beacon:      beacon,
		VRF:         vrf,
		LedgerPath:  ledgerPath,
	}
	reply := &SetupReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) Fund(key kyber.Point, amount uint64) (*FundReply, error) {
	reply := &FundReply{}
	err := c.SendProtobuf(c.roster.List[0], &FundRequest{Key: key, Amount: amount}, reply)
	return reply, err
}

func (c *Client) Balance(key kyber.Point) (*BalanceReply, error) {
	reply := &BalanceReply{}
	err := c.SendProtobuf(c.roster.List[0], &BalanceRequest{Key: key}, reply)
	return reply, err
}

// Enter submits an entry paying the given amount.
func (c *Client) Enter(p Player, amount uint64) (*EnterReply, error) {
	reply := &EnterReply{}
	err := c.SendProtobuf(c.roster.List[0], &EnterRequest{Player: p, Amount: amount}, reply)
	return reply, err
}

func (c *Client) CheckUpkeep(data []byte) (*CheckUpkeepReply, error) {
	reply := &CheckUpkeepReply{}
	err := c.SendProtobuf(c.roster.List[0], &CheckUpkeepRequest{Data: data}, reply)
	return reply, err
}

func (c *Client) PerformUpkeep(data []byte) (*PerformUpkeepReply, error) {
	reply := &PerformUpkeepReply{}
	err := c.SendProtobuf(c.roster.List[0], &PerformUpkeepRequest{Data: data}, reply)
	return reply, err
}

// FulfillRandomWords relays a beacon fulfillment to the raffle.
func (c *Client) FulfillRandomWords(id []byte, words []uint64, sig []byte) (*FulfillReply, error) {
	req := &FulfillRequest{
		RequestID: id,
		Words:     words,
		Sig:       sig,
	}
	reply := &FulfillReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

func (c *Client) GetState() (*GetStateReply, error) {
	reply := &GetStateReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetStateRequest{}, reply)
	return reply, err
}

func (c *Client) GetPlayer(index uint64) (*GetPlayerReply, error) {
	reply := &GetPlayerReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetPlayerRequest{Index: index}, reply)
	return reply, err
}
