package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"veilchat/internal/presence"
	"veilchat/internal/services"
	"veilchat/pkg/apperrors"
	"veilchat/pkg/logger"
)

// Cookie names for the same-origin page-load identity check. API
// authorization always uses the token in the payload, never these.
const (
	cookieAuthToken = "veilchat-authToken"
	cookiePublicKey = "veilchat-publicKey"
)

type Server struct {
	log         *logger.Logger
	accounts    *services.AccountService
	sessions    *services.SessionService
	keyExchange *services.KeyExchangeService
	messaging   *services.MessageService
	directory   *presence.Directory
	upgrader    websocket.Upgrader
}

func New(
	log *logger.Logger,
	accounts *services.AccountService,
	sessions *services.SessionService,
	keyExchange *services.KeyExchangeService,
	messaging *services.MessageService,
	directory *presence.Directory,
) *Server {
	return &Server{
		log:         log,
		accounts:    accounts,
		sessions:    sessions,
		keyExchange: keyExchange,
		messaging:   messaging,
		directory:   directory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.sealedEnvelope)
		r.Post("/handshake", s.handleHandshake)
		r.Post("/salts", s.handleSalts)
		r.Post("/account", s.handleCreateAccount)
		r.Post("/login", s.handleLogin)
		r.Post("/user", s.handleUser)
		r.Post("/conversations", s.handleListConversations)
		r.Post("/conversations/create", s.handleCreateConversation)
		r.Post("/messages", s.handleListMessages)
		r.Post("/messages/send", s.handleSendMessage)
		r.Post("/keys", s.handleKeys)
		r.Post("/lastmessage", s.handleLastMessage)
	})

	r.Get("/ws", s.handleConnection)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", "err", err)
	}
}

// writeError maps the error taxonomy onto the wire. Validation and
// permission failures are deliberately payload-free; authentication and
// recoverable-conflict failures carry structured payloads a client can
// act on; everything else is an opaque 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr := &apperrors.AppError{}
	msg := "internal error"
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}

	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidArgument:
		w.WriteHeader(http.StatusBadRequest)
	case apperrors.CodeUnauthenticated:
		s.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "error": msg})
	case apperrors.CodePermissionDenied:
		w.WriteHeader(http.StatusForbidden)
	case apperrors.CodeNotFound, apperrors.CodeAlreadyExists:
		s.writeJSON(w, http.StatusOK, map[string]any{"error": msg})
	case apperrors.CodeFailedPrecondition:
		s.writeJSON(w, http.StatusOK, map[string]any{"error": msg, "retry": true})
	default:
		s.log.Error("internal error", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}
