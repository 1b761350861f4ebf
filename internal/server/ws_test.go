package server

import (
	"encoding/hex"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/crypto"
	"veilchat/internal/models"
)

func dialConnection(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func sendClientFrame(t *testing.T, conn *websocket.Conn, event string, args ...any) {
	t.Helper()
	frame := wsFrame{Event: event, Args: make([]json.RawMessage, 0, len(args))}
	for _, arg := range args {
		encoded, err := json.Marshal(arg)
		require.NoError(t, err)
		frame.Args = append(frame.Args, encoded)
	}
	require.NoError(t, conn.WriteJSON(frame))
}

func readServerFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// openSealedArg decodes one sealed argument: a JSON hex string carrying a
// sealed box addressed to the client's key.
func openSealedArg(t *testing.T, raw json.RawMessage, kp *crypto.KeyPair) []byte {
	t.Helper()
	var sealedHex string
	require.NoError(t, json.Unmarshal(raw, &sealedHex))
	sealed, err := hex.DecodeString(sealedHex)
	require.NoError(t, err)
	plaintext, err := crypto.Open(sealed, kp)
	require.NoError(t, err)
	return plaintext
}

func seedAuthToken(t *testing.T, fx *serverFixture, userID int64) string {
	t.Helper()
	token, err := crypto.RandomToken()
	require.NoError(t, err)
	fx.tokens.tokens[token] = &models.AuthToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	return token
}

// repeatSend fans the same event out until stopped. Registration happens
// on the server's read loop, so the first sends may land before the
// connection is indexed; later ones are delivered once it is.
func repeatSend(fx *serverFixture, userID int64, event string, args ...any) chan<- struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fx.directory.SendToUser(userID, event, args...)
			}
		}
	}()
	return stop
}

func TestConnectionSecureHandshakeAndSealedFanout(t *testing.T) {
	fx := newServerFixture(t)
	token := seedAuthToken(t, fx, 7)
	srv := httptest.NewServer(fx.server.Routes())
	defer srv.Close()

	conn := dialConnection(t, srv)
	defer conn.Close()

	clientKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sendClientFrame(t, conn, "secure_req", crypto.EncodeKey(clientKP.Public))

	// secure_res is the last plaintext frame: its argument must be the raw
	// server key, not a sealed blob.
	frame := readServerFrame(t, conn)
	require.Equal(t, "secure_res", frame.Event)
	require.Len(t, frame.Args, 1)
	var serverKeyHex string
	require.NoError(t, json.Unmarshal(frame.Args[0], &serverKeyHex))
	serverKey, err := crypto.DecodeKey(serverKeyHex)
	require.NoError(t, err)

	// The channel is now secured, so the token travels sealed.
	tokenJSON, err := json.Marshal(token)
	require.NoError(t, err)
	sealedToken, err := crypto.Seal(tokenJSON, serverKey)
	require.NoError(t, err)
	sendClientFrame(t, conn, "auth_res", hex.EncodeToString(sealedToken))

	event := map[string]any{"conversationId": 1, "name": "room1"}
	stop := repeatSend(fx, 7, "new_conversation", event)
	frame = readServerFrame(t, conn)
	close(stop)

	require.Equal(t, "new_conversation", frame.Event)
	require.Len(t, frame.Args, 1)
	var received map[string]any
	require.NoError(t, json.Unmarshal(openSealedArg(t, frame.Args[0], clientKP), &received))
	assert.Equal(t, float64(1), received["conversationId"])
	assert.Equal(t, "room1", received["name"])
}

func TestConnectionMalformedSecureReqStaysPlaintext(t *testing.T) {
	fx := newServerFixture(t)
	token := seedAuthToken(t, fx, 9)
	srv := httptest.NewServer(fx.server.Routes())
	defer srv.Close()

	conn := dialConnection(t, srv)
	defer conn.Close()

	// A key that is not valid hex is logged and ignored; the connection
	// must stay in plaintext mode.
	sendClientFrame(t, conn, "secure_req", "definitely-not-a-key")

	// A plaintext auth_res only works if the channel was never secured.
	sendClientFrame(t, conn, "auth_res", token)

	stop := repeatSend(fx, 9, "new_message", 3, map[string]any{"sender": "ada", "digest": "ab12", "time": 1})
	frame := readServerFrame(t, conn)
	close(stop)

	require.Equal(t, "new_message", frame.Event)
	require.Len(t, frame.Args, 2)
	var conversationID float64
	require.NoError(t, json.Unmarshal(frame.Args[0], &conversationID),
		"fan-out argument should be readable without any key")
	assert.Equal(t, float64(3), conversationID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(frame.Args[1], &payload))
	assert.Equal(t, "ab12", payload["digest"])
}

func TestConnectionAuthRejected(t *testing.T) {
	fx := newServerFixture(t)
	srv := httptest.NewServer(fx.server.Routes())
	defer srv.Close()

	conn := dialConnection(t, srv)
	defer conn.Close()

	sendClientFrame(t, conn, "auth_res", "no-such-token")

	frame := readServerFrame(t, conn)
	require.Equal(t, "auth_status", frame.Event)
	require.Len(t, frame.Args, 1)
	var status string
	require.NoError(t, json.Unmarshal(frame.Args[0], &status))
	assert.Equal(t, "rejected", status)
}
