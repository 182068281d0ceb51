package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client is a minimal request/response client over the same UDS
// protocol the CLI uses to reach a running daemon.
type Client struct {
	conn   net.Conn
	reader *bufio.Scanner
	nextID atomic.Int64
}

// Dial connects to socketPath with the given timeout.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("command: dial %s: %w", socketPath, err)
	}
	return &Client{conn: conn, reader: bufio.NewScanner(conn)}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Call sends method with params and decodes the result into out (pass
// nil to discard it). Returns the server's error message, if any.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = encoded
	}
	id := c.nextID.Add(1)
	req := Request{JSONRPC: "2.0", Method: method, Params: raw, ID: id}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}

	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return err
	}

	if !c.reader.Scan() {
		if err := c.reader.Err(); err != nil {
			return err
		}
		return fmt.Errorf("command: connection closed before response")
	}
	var resp Response
	if err := json.Unmarshal(c.reader.Bytes(), &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("command: %s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	if out == nil || resp.Result == nil {
		return nil
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
