// Package client talks to auctiond over its one-request-per-connection JSON
// protocol.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/openbidding/auctionapi"
	"github.com/cloudx-io/openbidding/core"
	"github.com/cloudx-io/openbidding/internal/transport"
)

const DefaultTimeout = 30 * time.Second

type Client struct {
	addr    string
	timeout time.Duration
}

// New returns a client for the daemon at addr ("tcp://host:port" or
// "vsock://cid:port"). A zero timeout uses DefaultTimeout.
func New(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

// Do sends req and returns the daemon's response as is. Execute requests
// without a request id get a fresh one. A response reporting failure is not
// an error here; see Response.Err.
func (c *Client) Do(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	if auctionapi.IsExecute(req.Type) && req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := transport.Dial(ctx, c.addr, c.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send %s request: %w", req.Type, err)
	}
	var resp auctionapi.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Type, err)
	}
	return &resp, nil
}

// call sends req and turns a failure response into an error. The response is
// returned either way when one was received.
func (c *Client) call(ctx context.Context, req *auctionapi.Request) (*auctionapi.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err()
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, &auctionapi.Request{Type: auctionapi.TypePing})
	return err
}

func (c *Client) Instantiate(ctx context.Context, sender, owner, commodity string, funds []core.Coin) (*auctionapi.Response, error) {
	return c.call(ctx, &auctionapi.Request{
		Type:      auctionapi.TypeInstantiate,
		Sender:    sender,
		Owner:     owner,
		Commodity: commodity,
		Funds:     funds,
	})
}

func (c *Client) PlaceBid(ctx context.Context, sender string, funds []core.Coin) (*auctionapi.Response, error) {
	return c.call(ctx, &auctionapi.Request{Type: auctionapi.TypePlaceBid, Sender: sender, Funds: funds})
}

func (c *Client) Close(ctx context.Context, sender string) (*auctionapi.Response, error) {
	return c.call(ctx, &auctionapi.Request{Type: auctionapi.TypeClose, Sender: sender})
}

// Retract returns sender's deposit to receiver, or to sender when receiver
// is empty.
func (c *Client) Retract(ctx context.Context, sender, receiver string) (*auctionapi.Response, error) {
	return c.call(ctx, &auctionapi.Request{Type: auctionapi.TypeRetract, Sender: sender, Receiver: receiver})
}

func (c *Client) Config(ctx context.Context) (core.Config, error) {
	resp, err := c.call(ctx, &auctionapi.Request{Type: auctionapi.TypeGetConfig})
	if err != nil {
		return core.Config{}, err
	}
	if resp.Config == nil {
		return core.Config{}, fmt.Errorf("get_config response has no config")
	}
	return *resp.Config, nil
}

func (c *Client) Bids(ctx context.Context) ([]core.Bid, error) {
	resp, err := c.call(ctx, &auctionapi.Request{Type: auctionapi.TypeGetBids})
	if err != nil {
		return nil, err
	}
	return resp.Bids, nil
}

func (c *Client) Status(ctx context.Context) (core.Status, error) {
	resp, err := c.call(ctx, &auctionapi.Request{Type: auctionapi.TypeGetStatus})
	if err != nil {
		return core.Status{}, err
	}
	if resp.Status == nil {
		return core.Status{}, fmt.Errorf("get_status response has no status")
	}
	return *resp.Status, nil
}

// Coins is a helper for the usual single-coin funds list.
func Coins(amount core.Amount) []core.Coin {
	if amount == 0 {
		return nil
	}
	return []core.Coin{{Denom: core.Denom, Amount: amount}}
}
