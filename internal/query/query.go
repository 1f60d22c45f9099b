package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Tnze/go-mc/bot"
	"github.com/cenkalti/backoff/v4"
)

const defaultPort = "25565"

// ErrUnavailable reports that the server could not be queried. Callers treat
// it as "unknown", never as an empty server.
var ErrUnavailable = errors.New("live query unavailable")

// Timeouts bounds a query. Socket limits one ping round trip; Attempt limits
// the whole query, including retries.
type Timeouts struct {
	Socket  time.Duration
	Attempt time.Duration
}

// Result is the decoded server list response.
type Result struct {
	Online   int
	Max      int
	Sample   []string
	Version  string
	Protocol int
	Latency  time.Duration
}

// PingFunc performs one server list ping and returns the raw status JSON.
type PingFunc func(ctx context.Context, addr string) ([]byte, time.Duration, error)

// Client queries a Minecraft server for its player count.
type Client struct {
	addr     string
	timeouts Timeouts
	ping     PingFunc
}

// Option customizes Client behavior.
type Option func(*Client)

// WithPingFunc overrides the network ping, primarily for tests.
func WithPingFunc(ping PingFunc) Option {
	return func(c *Client) {
		c.ping = ping
	}
}

// New returns a Client for host, which may omit the port.
func New(host string, timeouts Timeouts, opts ...Option) *Client {
	c := &Client{
		addr:     normalizeAddr(host),
		timeouts: timeouts,
		ping:     bot.PingAndListContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the host:port being queried.
func (c *Client) Addr() string {
	return c.addr
}

// Query pings the server until it answers or the attempt timeout elapses.
// A response that cannot be decoded is not retried.
func (c *Client) Query(ctx context.Context) (Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeouts.Attempt)
	defer cancel()

	var result Result
	operation := func() error {
		pingCtx, cancelPing := context.WithTimeout(attemptCtx, c.timeouts.Socket)
		defer cancelPing()

		raw, latency, err := c.ping(pingCtx, c.addr)
		if err != nil {
			return err
		}
		decoded, err := decodeStatus(raw)
		if err != nil {
			return backoff.Permanent(err)
		}
		decoded.Latency = latency
		result = decoded
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), attemptCtx)); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.addr, err)
	}
	return result, nil
}

// Players returns the number of players currently online.
func (c *Client) Players(ctx context.Context) (int, error) {
	result, err := c.Query(ctx)
	if err != nil {
		return 0, err
	}
	return result.Online, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.timeouts.Socket / 2
	b.MaxInterval = c.timeouts.Attempt / 4
	b.MaxElapsedTime = c.timeouts.Attempt
	b.Reset()
	return b
}

type statusResponse struct {
	Version struct {
		Name     string `json:"name"`
		Protocol int    `json:"protocol"`
	} `json:"version"`
	Players *struct {
		Max    int `json:"max"`
		Online int `json:"online"`
		Sample []struct {
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"sample"`
	} `json:"players"`
}

func decodeStatus(raw []byte) (Result, error) {
	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("decode status: %w", err)
	}
	if resp.Players == nil {
		return Result{}, errors.New("decode status: missing players")
	}
	if resp.Players.Online < 0 {
		return Result{}, fmt.Errorf("decode status: negative player count %d", resp.Players.Online)
	}

	result := Result{
		Online:   resp.Players.Online,
		Max:      resp.Players.Max,
		Version:  resp.Version.Name,
		Protocol: resp.Version.Protocol,
	}
	for _, p := range resp.Players.Sample {
		result.Sample = append(result.Sample, p.Name)
	}
	return result, nil
}

func normalizeAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}
