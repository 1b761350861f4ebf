package server

import (
	"encoding/json"
	"net/http"

	"veilchat/internal/schema"
	"veilchat/internal/services"
)

var (
	handshakeShape = schema.Shape{
		Required: map[string]schema.Field{
			"publicKey": schema.Scalar(schema.Key),
		},
	}

	saltsShape = schema.Shape{
		Required: map[string]schema.Field{
			"action": schema.Scalar(schema.String),
		},
		Optional: map[string]schema.Field{
			"username": schema.Scalar(schema.String),
		},
	}

	accountShape = schema.Shape{
		Required: map[string]schema.Field{
			"email":      schema.Scalar(schema.String),
			"username":   schema.Scalar(schema.String),
			"hash":       schema.Scalar(schema.Hash),
			"clientSalt": schema.Scalar(schema.String),
			"keygenSalt": schema.Scalar(schema.String),
			"publicKey":  schema.Scalar(schema.Key),
		},
		Optional: map[string]schema.Field{
			"deviceName":      schema.Scalar(schema.String),
			"devicePublicKey": schema.Scalar(schema.Key),
		},
	}

	loginShape = schema.Shape{
		Required: map[string]schema.Field{
			"username":  schema.Scalar(schema.String),
			"hash":      schema.Scalar(schema.Hash),
			"publicKey": schema.Scalar(schema.Key),
		},
	}

	userShape = schema.Shape{
		Required: map[string]schema.Field{
			"authToken": schema.Scalar(schema.Key),
		},
	}

	conversationsShape = schema.Shape{
		Required: map[string]schema.Field{
			"authToken": schema.Scalar(schema.Key),
		},
		Optional: map[string]schema.Field{
			"deviceId": schema.Scalar(schema.Number),
		},
	}

	createConversationShape = schema.Shape{
		Required: map[string]schema.Field{
			"authToken":    schema.Scalar(schema.Key),
			"participants": schema.ArrayOf(schema.Scalar(schema.String)),
		},
		Optional: map[string]schema.Field{
			"name": schema.Scalar(schema.String),
		},
	}

	conversationScopedShape = schema.Shape{
		Required: map[string]schema.Field{
			"authToken":      schema.Scalar(schema.Key),
			"conversationId": schema.Scalar(schema.Number),
		},
		Optional: map[string]schema.Field{
			"deviceId": schema.Scalar(schema.Number),
		},
	}

	digestShape = schema.Shape{
		Required: map[string]schema.Field{
			"id":     schema.Scalar(schema.Number),
			"digest": schema.Scalar(schema.Hex),
		},
	}

	sendMessageShape = schema.Shape{
		Required: map[string]schema.Field{
			"authToken":      schema.Scalar(schema.Key),
			"conversationId": schema.Scalar(schema.Number),
			"digests": schema.Nested(schema.Shape{
				Required: map[string]schema.Field{
					"userDigests":   schema.ArrayOf(schema.Nested(digestShape)),
					"deviceDigests": schema.ArrayOf(schema.Nested(digestShape)),
				},
			}),
		},
	}

	keysShape = schema.Shape{
		Required: map[string]schema.Field{
			"authToken":      schema.Scalar(schema.Key),
			"conversationId": schema.Scalar(schema.Number),
		},
	}
)

// decodeValidated reads the request body and rejects anything outside the
// declared shape before any handler logic runs.
func (s *Server) decodeValidated(w http.ResponseWriter, r *http.Request, shape schema.Shape) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	if err := shape.Validate(body); err != nil {
		s.log.Debug("request rejected by schema", "path", r.URL.Path, "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, body map[string]any) (int64, bool) {
	userID, err := s.sessions.Verify(r.Context(), body["authToken"].(string))
	if err != nil {
		s.writeError(w, err)
		return 0, false
	}
	return userID, true
}

func optionalDeviceID(body map[string]any) *int64 {
	v, ok := body["deviceId"]
	if !ok {
		return nil
	}
	id := int64(v.(float64))
	return &id
}

func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, handshakeShape)
	if !ok {
		return
	}
	record, err := s.keyExchange.Negotiate(r.Context(), body["publicKey"].(string))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"idToken":   record.IDToken,
		"publicKey": record.PublicKey,
	})
}

func (s *Server) handleSalts(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, saltsShape)
	if !ok {
		return
	}
	var salts *services.Salts
	var err error
	switch body["action"] {
	case "new":
		salts, err = s.accounts.NewSalts()
	case "get":
		username, present := body["username"].(string)
		if !present {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		salts, err = s.accounts.SaltsFor(r.Context(), username)
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, salts)
}

func (s *Server) setIdentityCookies(w http.ResponseWriter, token, publicKey string) {
	http.SetCookie(w, &http.Cookie{Name: cookieAuthToken, Value: token, Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: cookiePublicKey, Value: publicKey, Path: "/"})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, accountShape)
	if !ok {
		return
	}
	cmd := services.RegisterCommand{
		Email:      body["email"].(string),
		Username:   body["username"].(string),
		Hash:       body["hash"].(string),
		ClientSalt: body["clientSalt"].(string),
		KeygenSalt: body["keygenSalt"].(string),
		PublicKey:  body["publicKey"].(string),
	}
	if v, present := body["deviceName"].(string); present {
		cmd.DeviceName = v
	}
	if v, present := body["devicePublicKey"].(string); present {
		cmd.DevicePublicKey = v
	}

	token, err := s.accounts.Register(r.Context(), cmd)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setIdentityCookies(w, token, cmd.PublicKey)
	s.writeJSON(w, http.StatusOK, map[string]any{"authToken": token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, loginShape)
	if !ok {
		return
	}
	publicKey := body["publicKey"].(string)
	token, err := s.accounts.Login(r.Context(), body["username"].(string), body["hash"].(string), publicKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.setIdentityCookies(w, token, publicKey)
	s.writeJSON(w, http.StatusOK, map[string]any{"authToken": token})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, userShape)
	if !ok {
		return
	}
	userID, ok := s.authenticate(w, r, body)
	if !ok {
		return
	}
	username, err := s.accounts.UsernameOf(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"username": username})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, conversationsShape)
	if !ok {
		return
	}
	userID, ok := s.authenticate(w, r, body)
	if !ok {
		return
	}
	summaries, err := s.messaging.ListConversations(r.Context(), userID, optionalDeviceID(body))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, createConversationShape)
	if !ok {
		return
	}
	userID, ok := s.authenticate(w, r, body)
	if !ok {
		return
	}
	raw := body["participants"].([]any)
	participants := make([]string, 0, len(raw))
	for _, p := range raw {
		participants = append(participants, p.(string))
	}
	customName, _ := body["name"].(string)

	conversation, err := s.messaging.CreateConversation(r.Context(), userID, participants, customName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversation.ID,
		"name":           conversation.DefaultName,
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, conversationScopedShape)
	if !ok {
		return
	}
	userID, ok := s.authenticate(w, r, body)
	if !ok {
		return
	}
	conversationID := int64(body["conversationId"].(float64))
	messages, err := s.messaging.ListMessages(r.Context(), userID, conversationID, optionalDeviceID(body))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, sendMessageShape)
	if !ok {
		return
	}
	userID, ok := s.authenticate(w, r, body)
	if !ok {
		return
	}
	conversationID := int64(body["conversationId"].(float64))
	digests := body["digests"].(map[string]any)

	err := s.messaging.SendMessage(r.Context(), userID, conversationID,
		digestInputs(digests["userDigests"]),
		digestInputs(digests["deviceDigests"]))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "success"})
}

func digestInputs(v any) []services.DigestInput {
	raw := v.([]any)
	inputs := make([]services.DigestInput, 0, len(raw))
	for _, entry := range raw {
		obj := entry.(map[string]any)
		inputs = append(inputs, services.DigestInput{
			ID:     int64(obj["id"].(float64)),
			Digest: obj["digest"].(string),
		})
	}
	return inputs
}

func (s *Server) handleKeys(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, keysShape)
	if !ok {
		return
	}
	userID, ok := s.authenticate(w, r, body)
	if !ok {
		return
	}
	conversationID := int64(body["conversationId"].(float64))
	userKeys, deviceKeys, err := s.messaging.ConversationKeys(r.Context(), userID, conversationID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"userKeys":   userKeys,
		"deviceKeys": deviceKeys,
	})
}

func (s *Server) handleLastMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeValidated(w, r, conversationScopedShape)
	if !ok {
		return
	}
	userID, ok := s.authenticate(w, r, body)
	if !ok {
		return
	}
	conversationID := int64(body["conversationId"].(float64))
	digest, err := s.messaging.LastDigest(r.Context(), userID, conversationID, optionalDeviceID(body))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"digest": digest})
}
