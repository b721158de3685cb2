package easyvrf

import (
	"time"

	"go.dedis.ch/cothority/v3"
	"go.dedis.ch/onet/v3"
)

// Client is a client for the beacon service. It implements Coordinator.
type Client struct {
	*onet.Client
	roster *onet.Roster
}

func NewClient(r *onet.Roster) *Client {
	return &Client{Client: onet.NewClient(cothority.Suite, ServiceName), roster: r}
}

func (c *Client) InitUnit(interval time.Duration) (*InitUnitReply, error) {
	req := &InitUnitRequest{
		Roster:   c.roster,
		Interval: interval,
	}
	reply := &InitUnitReply{}
	err := c.SendProtobuf(c.roster.List[0], req, reply)
	return reply, err
}

// RequestRandomWords registers a randomness request and returns its id.
func (c *Client) RequestRandomWords(cfg RequestConfig) ([]byte, error) {
	reply := &RandomnessReply{}
	err := c.SendProtobuf(c.roster.List[0], &RandomnessRequest{Config: cfg}, reply)
	if err != nil {
		return nil, err
	}
	return reply.RequestID, nil
}

func (c *Client) GetFulfillment(id []byte) (*GetFulfillmentReply, error) {
	reply := &GetFulfillmentReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetFulfillmentRequest{RequestID: id}, reply)
	return reply, err
}

func (c *Client) GetRound(round uint64) (*GetRoundReply, error) {
	reply := &GetRoundReply{}
	err := c.SendProtobuf(c.roster.List[0], &GetRoundRequest{Round: round}, reply)
	return reply, err
}
