package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/synoptic-visualizer/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// WebSocket message types for the live feed protocol
const (
	// Client -> Server messages
	MsgTypeUpdate = "update"
	MsgTypePing   = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeMutations = "mutations"
	MsgTypeResync    = "resync"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// WSMessage is the JSON envelope for feed messages.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// feedClient is one connected viewer. Outbound frames go through a buffered
// channel and a writer goroutine so broadcasts never block the engine.
type feedClient struct {
	conn   *websocket.Conn
	send   chan []byte
	binary bool // msgpack frames requested via ?format=msgpack

	// frames discarded because the outbound buffer was full; atomic because
	// broadcasts may run concurrently
	dropped atomic.Int64
}

// FeedHub fans engine mutation batches out to connected viewers and accepts
// pushed updates from feed publishers.
type FeedHub struct {
	mu      sync.RWMutex
	clients map[*feedClient]struct{}

	upgrader websocket.Upgrader

	// onUpdate receives pushed (source, topic, payload) tuples.
	onUpdate func(sourceID, topicID, payload string)
}

// NewFeedHub creates the hub. onUpdate is invoked for every update message a
// client pushes.
func NewFeedHub(onUpdate func(sourceID, topicID, payload string)) *FeedHub {
	return &FeedHub{
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		onUpdate: onUpdate,
	}
}

// HandleFeed upgrades the connection and runs the message loop.
func (hub *FeedHub) HandleFeed(c echo.Context) error {
	ws, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &feedClient{
		conn:   ws,
		send:   make(chan []byte, 256),
		binary: c.QueryParam("format") == "msgpack",
	}

	hub.mu.Lock()
	hub.clients[client] = struct{}{}
	count := len(hub.clients)
	hub.mu.Unlock()

	fmt.Printf("[Feed] client connected (%d total)\n", count)

	go client.writeLoop()
	client.enqueue(mustEnvelope(WSMessage{Type: MsgTypeConnected, Timestamp: time.Now().UnixMilli()}))

	hub.readLoop(client)

	hub.mu.Lock()
	delete(hub.clients, client)
	count = len(hub.clients)
	hub.mu.Unlock()
	close(client.send)

	if n := client.dropped.Load(); n > 0 {
		fmt.Printf("[Feed] client disconnected (%d total, %d frames dropped)\n", count, n)
	} else {
		fmt.Printf("[Feed] client disconnected (%d total)\n", count)
	}
	return nil
}

func (hub *FeedHub) readLoop(client *feedClient) {
	for {
		var msg WSMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				fmt.Printf("[Feed] connection error: %v\n", err)
			}
			return
		}

		switch msg.Type {
		case MsgTypePing:
			client.enqueue(mustEnvelope(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}))
		case MsgTypeUpdate:
			var rec models.UpdateRecord
			if err := json.Unmarshal(msg.Payload, &rec); err != nil || rec.SourceID == "" || rec.TopicID == "" {
				client.enqueue(mustEnvelope(WSMessage{Type: MsgTypeError, Timestamp: time.Now().UnixMilli()}))
				continue
			}
			if hub.onUpdate != nil {
				hub.onUpdate(rec.SourceID, rec.TopicID, rec.RawPayload)
			}
		default:
			client.enqueue(mustEnvelope(WSMessage{Type: MsgTypeError, Timestamp: time.Now().UnixMilli()}))
		}
	}
}

// BroadcastMutations sends a flushed mutation batch to every viewer.
// Non-blocking: a viewer with a full outbound buffer drops the frame and
// resyncs from the state endpoint later.
func (hub *FeedHub) BroadcastMutations(batch []models.Mutation) {
	type mutationsPayload struct {
		Mutations []models.Mutation `json:"mutations" msgpack:"mutations"`
	}
	payload := mutationsPayload{Mutations: batch}

	jsonFrame := mustEnvelope(WSMessage{
		Type:      MsgTypeMutations,
		Payload:   mustJSON(payload),
		Timestamp: time.Now().UnixMilli(),
	})
	var binFrame []byte

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for client := range hub.clients {
		if client.binary {
			if binFrame == nil {
				if data, err := msgpack.Marshal(payload); err == nil {
					binFrame = data
				}
			}
			client.enqueueBinary(binFrame)
			continue
		}
		client.enqueue(jsonFrame)
	}
}

// BroadcastResync tells viewers to refetch full diagram state, sent after a
// snapshot replay or diagram switch.
func (hub *FeedHub) BroadcastResync() {
	frame := mustEnvelope(WSMessage{Type: MsgTypeResync, Timestamp: time.Now().UnixMilli()})
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for client := range hub.clients {
		client.enqueue(frame)
	}
}

// ClientCount returns the number of connected viewers.
func (hub *FeedHub) ClientCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

type outboundFrame struct {
	binary bool
	data   []byte
}

func (c *feedClient) enqueue(data []byte) {
	c.send2(outboundFrame{data: data})
}

func (c *feedClient) enqueueBinary(data []byte) {
	if data == nil {
		return
	}
	c.send2(outboundFrame{binary: true, data: data})
}

func (c *feedClient) send2(frame outboundFrame) {
	encoded := frame.data
	if frame.binary {
		// Prefix-free: binary frames use the msgpack payload directly and
		// the websocket message type distinguishes them.
		select {
		case c.send <- append([]byte{1}, encoded...):
		default:
			c.dropped.Add(1)
		}
		return
	}
	select {
	case c.send <- append([]byte{0}, encoded...):
	default:
		c.dropped.Add(1)
	}
}

func (c *feedClient) writeLoop() {
	for frame := range c.send {
		msgType := websocket.TextMessage
		if len(frame) > 0 && frame[0] == 1 {
			msgType = websocket.BinaryMessage
		}
		if err := c.conn.WriteMessage(msgType, frame[1:]); err != nil {
			break
		}
	}
	c.conn.Close()
}

func mustEnvelope(msg WSMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		return []byte(`{"type":"error"}`)
	}
	return data
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
