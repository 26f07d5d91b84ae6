package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/laulauland/ragrep/internal/search"
)

// Client connects to the daemon for search operations.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Search sends one search request over a fresh connection and returns
// the matching response.
func (c *Client) Search(ctx context.Context, req search.SearchRequest) (*search.SearchResponse, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	conn, err := c.Connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := c.setDeadline(ctx, conn); err != nil {
		return nil, err
	}

	id := c.nextID()
	if err := c.send(conn, NewRequest(id, req)); err != nil {
		return nil, err
	}

	env, err := c.receive(conn)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case MessageTypeError:
		return nil, fmt.Errorf("search failed: %s", env.Message)
	case MessageTypeResponse:
		if env.Response == nil {
			return nil, fmt.Errorf("daemon returned an empty response")
		}
		return env.Response, nil
	default:
		return nil, fmt.Errorf("unexpected message type %q", env.Type)
	}
}

// setDeadline bounds the connection by ctx's deadline or the client's
// configured timeout, whichever is sooner.
func (c *Client) setDeadline(ctx context.Context, conn net.Conn) error {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}
	return nil
}

// send encodes and writes one envelope to the connection.
func (c *Client) send(conn net.Conn, env Envelope) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(env); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes one envelope line from the connection.
func (c *Client) receive(conn net.Conn) (*Envelope, error) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to receive response: %w", err)
		}
		return nil, fmt.Errorf("daemon closed connection without a response")
	}

	var env Envelope
	if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &env, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
