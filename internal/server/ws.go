package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"veilchat/internal/crypto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 64
)

// wsFrame is the wire format for both directions: an event name and a
// positional argument list. Once the channel is secured, each argument is
// individually sealed and carried as a hex string.
type wsFrame struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args"`
}

// wsClient is one live websocket connection. It implements presence.Sender;
// the directory fans events into send, the writePump drains it.
type wsClient struct {
	id     uuid.UUID
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	// mu guards the securing state and the channel lifecycle. Arguments
	// are sealed at enqueue time so the secure_res carrying the server
	// key always leaves in plaintext, and enqueue checks closed under the
	// same lock so the directory can never write a torn-down connection.
	mu      sync.Mutex
	keyPair *crypto.KeyPair
	peerKey [crypto.KeyBytes]byte
	secured bool
	closed  bool

	registered bool
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{
		id:     uuid.New(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, sendBufferSize),
	}
	go client.writePump()
	client.readPump()
}

// Send queues an event for delivery. Delivery is best-effort: a client
// that cannot drain its buffer loses the event rather than stalling the
// sender.
func (c *wsClient) Send(event string, args ...any) {
	frame := wsFrame{Event: event, Args: make([]json.RawMessage, 0, len(args))}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	for _, arg := range args {
		encoded, err := json.Marshal(arg)
		if err != nil {
			c.server.log.Error("failed to encode event argument", "event", event, "err", err)
			return
		}
		if c.secured {
			sealed, err := crypto.Seal(encoded, c.peerKey)
			if err != nil {
				c.server.log.Error("failed to seal event argument", "event", event, "err", err)
				return
			}
			encoded, _ = json.Marshal(hex.EncodeToString(sealed))
		}
		frame.Args = append(frame.Args, encoded)
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		c.server.log.Error("failed to encode event frame", "event", event, "err", err)
		return
	}

	select {
	case c.send <- payload:
	default:
		c.server.log.Warn("dropping event for slow connection", "conn", c.id, "event", event)
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.directory.Unregister(c.id)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket read error", "conn", c.id, "err", err)
			}
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.server.log.Debug("discarding malformed frame", "conn", c.id, "err", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(frame wsFrame) {
	args, err := c.openArgs(frame.Args)
	if err != nil {
		c.server.log.Debug("discarding undecryptable frame", "conn", c.id, "event", frame.Event, "err", err)
		return
	}

	switch frame.Event {
	case "secure_req":
		c.handleSecureReq(args)
	case "auth_res":
		c.handleAuthRes(args)
	default:
		c.server.log.Debug("unknown event", "conn", c.id, "event", frame.Event)
	}
}

// openArgs unseals each argument when the channel is secured. A single
// argument that fails to open drops the entire frame.
func (c *wsClient) openArgs(raw []json.RawMessage) ([]json.RawMessage, error) {
	c.mu.Lock()
	secured := c.secured
	keyPair := c.keyPair
	c.mu.Unlock()

	if !secured {
		return raw, nil
	}

	args := make([]json.RawMessage, 0, len(raw))
	for _, encoded := range raw {
		var sealedHex string
		if err := json.Unmarshal(encoded, &sealedHex); err != nil {
			return nil, err
		}
		sealed, err := hex.DecodeString(sealedHex)
		if err != nil {
			return nil, err
		}
		plaintext, err := crypto.Open(sealed, keyPair)
		if err != nil {
			return nil, err
		}
		args = append(args, json.RawMessage(plaintext))
	}
	return args, nil
}

// handleSecureReq answers a client key with a fresh per-connection server
// key. The secure_res itself is queued before the secured flag flips, so
// it is the last plaintext frame on the connection.
func (c *wsClient) handleSecureReq(args []json.RawMessage) {
	if len(args) != 1 {
		c.server.log.Debug("secure_req with wrong arity", "conn", c.id)
		return
	}
	var clientKeyHex string
	if err := json.Unmarshal(args[0], &clientKeyHex); err != nil {
		c.server.log.Debug("secure_req with malformed key", "conn", c.id, "err", err)
		return
	}
	peerKey, err := crypto.DecodeKey(clientKeyHex)
	if err != nil {
		c.server.log.Debug("secure_req with malformed key", "conn", c.id, "err", err)
		return
	}
	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		c.server.log.Error("connection key generation failed", "conn", c.id, "err", err)
		return
	}

	c.mu.Lock()
	c.keyPair = keyPair
	c.peerKey = peerKey
	c.mu.Unlock()

	c.Send("secure_res", crypto.EncodeKey(keyPair.Public))

	c.mu.Lock()
	c.secured = true
	c.mu.Unlock()
}

// handleAuthRes verifies the presented token and registers the connection
// for fan-out, bound to a device identity when one is claimed.
func (c *wsClient) handleAuthRes(args []json.RawMessage) {
	if len(args) < 1 || len(args) > 2 {
		c.server.log.Debug("auth_res with wrong arity", "conn", c.id)
		return
	}
	var token string
	if err := json.Unmarshal(args[0], &token); err != nil {
		c.server.log.Debug("auth_res with malformed token", "conn", c.id, "err", err)
		c.Send("auth_status", "rejected")
		return
	}

	var deviceID *int64
	if len(args) == 2 {
		var id int64
		if err := json.Unmarshal(args[1], &id); err != nil {
			c.server.log.Debug("auth_res with malformed device id", "conn", c.id, "err", err)
			c.Send("auth_status", "rejected")
			return
		}
		deviceID = &id
	}

	userID, err := c.server.sessions.Verify(context.Background(), token)
	if err != nil {
		c.server.log.Info("connection auth rejected", "conn", c.id)
		c.Send("auth_status", "rejected")
		return
	}

	c.mu.Lock()
	alreadyRegistered := c.registered
	c.registered = true
	c.mu.Unlock()
	if alreadyRegistered {
		c.server.directory.Unregister(c.id)
	}
	c.server.directory.Register(userID, c.id, c, deviceID)
}
