// Package realtime subscribes to the document database's websocket
// change feed, so an open page can pick up progress written from another
// device without polling.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cdcmanual/progresskit/pkg/docstore"
)

// MessageTypeEvent marks a change notification; other message types
// (connected, pong) carry no document payload.
const MessageTypeEvent = "event"

// DocumentsChannel names the change feed channel for a collection.
func DocumentsChannel(databaseID, collectionID string) string {
	return "databases." + databaseID + ".collections." + collectionID + ".documents"
}

// Message is one frame from the change feed.
type Message struct {
	Type string `json:"type"`
	Data struct {
		Channels []string        `json:"channels"`
		Events   []string        `json:"events"`
		Payload  json.RawMessage `json:"payload"`
	} `json:"data"`
}

// Subscriber maintains one websocket connection to the change feed and
// decodes event payloads into documents.
type Subscriber struct {
	endpoint string
	project  string
	log      zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	docs      chan docstore.Document
	closeOnce sync.Once
}

// NewSubscriber creates a subscriber for the realtime endpoint, e.g.
// "wss://cloud.example.org/v1".
func NewSubscriber(endpoint, project string, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		endpoint: strings.TrimRight(endpoint, "/"),
		project:  project,
		log:      log,
		docs:     make(chan docstore.Document, 16),
	}
}

// Subscribe dials the feed for the given channels and starts the read
// loop. The documents channel closes when the connection drops.
func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}

	values := url.Values{}
	values.Set("project", s.project)
	for _, ch := range channels {
		values.Add("channels[]", ch)
	}
	target := s.endpoint + "/realtime?" + values.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial realtime feed: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

func (s *Subscriber) readLoop(conn *websocket.Conn) {
	defer s.closeDocs()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn().Err(err).Msg("realtime feed closed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Warn().Err(err).Msg("unable to decode realtime frame")
			continue
		}
		if msg.Type != MessageTypeEvent || len(msg.Data.Payload) == 0 {
			continue
		}
		var doc docstore.Document
		if err := json.Unmarshal(msg.Data.Payload, &doc); err != nil {
			s.log.Warn().Err(err).Msg("unable to decode realtime document")
			continue
		}
		select {
		case s.docs <- doc:
		default:
			// A stalled consumer drops updates rather than blocking the
			// read loop; the next full hydrate reconciles.
			s.log.Warn().Str("document", doc.ID).Msg("realtime consumer is behind, dropping update")
		}
	}
}

// Documents streams decoded change-feed documents. The channel closes
// when the connection ends.
func (s *Subscriber) Documents() <-chan docstore.Document {
	return s.docs
}

func (s *Subscriber) closeDocs() {
	s.closeOnce.Do(func() { close(s.docs) })
}

// Close shuts the connection down.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.closeDocs()
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}
