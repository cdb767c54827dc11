// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"nhooyr.io/websocket"
)

// APIVersion is the gateway protocol version requested on connect.
const APIVersion = 10

// DefaultReadLimit bounds one decoded gateway message. GUILD_CREATE for
// large guilds runs to several megabytes.
const DefaultReadLimit = 16 << 20

// Conn is one gateway connection. Read returns complete, decompressed
// JSON documents. When the server closes the connection Read returns a
// *CloseError. Read is called from a single goroutine; Write and Close
// may be called concurrently with it.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens gateway connections.
type Dialer interface {
	Dial(ctx context.Context, gatewayURL string) (Conn, error)
}

// ConnectURL adds the version, encoding, and compression query
// parameters to a gateway or resume URL.
func ConnectURL(base string, compression Compression) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("gateway: parsing URL %q: %w", base, err)
	}
	if parsed.Scheme != "wss" && parsed.Scheme != "ws" {
		return "", fmt.Errorf("gateway: URL %q is not a websocket URL", base)
	}
	query := parsed.Query()
	query.Set("v", strconv.Itoa(APIVersion))
	query.Set("encoding", "json")
	if compression != CompressionNone {
		query.Set("compress", string(compression))
	} else {
		query.Del("compress")
	}
	parsed.RawQuery = query.Encode()
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}

// WebSocketDialer dials the gateway over a real websocket.
type WebSocketDialer struct {
	// Compression selects transport compression.
	Compression Compression

	// HTTPClient is used for the upgrade request. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client

	// ReadLimit bounds one message. Zero uses DefaultReadLimit.
	ReadLimit int64

	// UserAgent is sent on the upgrade request when set.
	UserAgent string
}

// Dial connects to gatewayURL after adding the query parameters.
func (dialer *WebSocketDialer) Dial(ctx context.Context, gatewayURL string) (Conn, error) {
	target, err := ConnectURL(gatewayURL, dialer.Compression)
	if err != nil {
		return nil, err
	}
	options := &websocket.DialOptions{
		HTTPClient:      dialer.HTTPClient,
		CompressionMode: websocket.CompressionDisabled,
	}
	if dialer.UserAgent != "" {
		options.HTTPHeader = http.Header{"User-Agent": []string{dialer.UserAgent}}
	}
	conn, response, err := websocket.Dial(ctx, target, options)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("gateway: dialing %s: HTTP %d: %w", gatewayURL, response.StatusCode, err)
		}
		return nil, fmt.Errorf("gateway: dialing %s: %w", gatewayURL, err)
	}

	limit := dialer.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)

	wrapped := &wsConn{conn: conn}
	if dialer.Compression != CompressionNone {
		wrapped.inflater = newInflater(dialer.Compression)
	}
	return wrapped, nil
}

type wsConn struct {
	conn     *websocket.Conn
	inflater *inflater

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		messageType, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, translateReadError(err)
		}
		if messageType == websocket.MessageText || c.inflater == nil {
			return data, nil
		}
		document, err := c.inflater.feed(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("gateway: inflating %s message: %w", c.inflater.kind, err)
		}
		if document != nil {
			return document, nil
		}
	}
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return translateReadError(err)
	}
	return nil
}

func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		if c.inflater != nil {
			c.inflater.close()
		}
		c.closeErr = c.conn.Close(websocket.StatusCode(code), reason)
	})
	return c.closeErr
}

// translateReadError surfaces a server close frame as *CloseError.
// Anything else (network failure, our own cancellation) passes through.
func translateReadError(err error) error {
	var closed websocket.CloseError
	if errors.As(err, &closed) {
		return &CloseError{Code: int(closed.Code), Reason: closed.Reason}
	}
	return err
}
