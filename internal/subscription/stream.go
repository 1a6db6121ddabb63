package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// Upstream frame types.
const (
	EventCommit = "commit"
	EventHandle = "handle"
	EventInfo   = "info"
)

// ErrMalformedFrame marks a frame that could not be decoded. The stream
// remains usable.
var ErrMalformedFrame = errors.New("malformed frame")

// Maximum frame size accepted from upstream.
const maxFrameSize = 1 << 20

// Event is one upstream frame. Record contents are not carried; the indexer
// fetches repository state itself.
type Event struct {
	Seq     int64     `json:"seq"`
	Type    string    `json:"type"`
	Repo    string    `json:"repo,omitempty"`
	Commit  string    `json:"commit,omitempty"`
	Rev     string    `json:"rev,omitempty"`
	Rebase  bool      `json:"rebase,omitempty"`
	TooBig  bool      `json:"tooBig,omitempty"`
	Handle  string    `json:"handle,omitempty"`
	Name    string    `json:"name,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Dialer opens an upstream stream positioned after cursor. A zero cursor
// starts at the live tail.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, cursor int64) (Stream, error)
}

// Stream yields upstream events. It is closed when the context passed to
// Dial is done.
type Stream interface {
	Next() (*Event, error)
	Close() error
}

// WebsocketDialer connects to com.atproto.sync.subscribeRepos over
// websocket with JSON frames.
type WebsocketDialer struct {
	dialer *websocket.Dialer
}

func NewWebsocketDialer(handshakeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{dialer: &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}}
}

func subscribeURL(endpoint string, cursor int64) string {
	u := endpoint + "/xrpc/com.atproto.sync.subscribeRepos"
	if cursor > 0 {
		u += "?" + url.Values{"cursor": {strconv.FormatInt(cursor, 10)}}.Encode()
	}
	return u
}

func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string, cursor int64) (Stream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, subscribeURL(endpoint, cursor), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %s: %w", endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxFrameSize)

	s := &wsStream{conn: conn}
	s.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return s, nil
}

type wsStream struct {
	conn *websocket.Conn
	stop func() bool
}

func (s *wsStream) Next() (*Event, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &ev, nil
}

func (s *wsStream) Close() error {
	s.stop()
	return s.conn.Close()
}
