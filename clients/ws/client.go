// Package ws is the terminal-side client for the gateway's progress
// mirror. `garde watch` rides on it.
package ws

import (
	"context"
	"fmt"

	"github.com/coder/websocket"

	wsprotocol "github.com/gardehq/garde/internal/gateway/ws"
)

// Client consumes progress frames from the gateway's /ws mirror.
type Client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Dial connects to the mirror endpoint. The url carries auth and the
// initial session filter as query parameters (?token=...&session_id=...).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(ctx)
	return &Client{conn: conn, ctx: clientCtx, cancel: cancel}, nil
}

// Subscribe retargets the mirror to one session and waits for the ack.
// An empty session id widens the mirror back to every session. Progress
// frames arriving before the ack belong to the old filter and are dropped.
func (c *Client) Subscribe(sessionID string) error {
	data, err := wsprotocol.MarshalFrame(wsprotocol.Frame{
		Type:      wsprotocol.FrameTypeSubscribe,
		SessionID: sessionID,
	})
	if err != nil {
		return err
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("ws subscribe: %w", err)
	}

	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return fmt.Errorf("ws subscribe ack: %w", err)
		}
		if frame.Type == wsprotocol.FrameTypeAck {
			return nil
		}
	}
}

// ReadFrame blocks for the next mirror frame.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
