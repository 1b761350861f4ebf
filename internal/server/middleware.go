package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"veilchat/internal/schema"
	"veilchat/internal/services"
)

var envelopeShape = schema.Shape{
	Required: map[string]schema.Field{
		"idToken": schema.Scalar(schema.Key),
		"digest":  schema.Scalar(schema.Hex),
	},
}

// bufferingWriter captures a handler's response so the middleware can
// seal it after the handler returns.
type bufferingWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferingWriter() *bufferingWriter {
	return &bufferingWriter{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferingWriter) Header() http.Header { return b.header }

func (b *bufferingWriter) WriteHeader(status int) { b.status = status }

func (b *bufferingWriter) Write(p []byte) (int, error) { return b.body.Write(p) }

// sealedEnvelope transparently decrypts requests carried inside a
// sealed envelope and seals the corresponding responses. Requests whose
// body is not an envelope pass through untouched, so the handshake and
// plaintext clients share the same routes.
func (s *Server) sealedEnvelope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var probe map[string]any
		if json.Unmarshal(raw, &probe) != nil || envelopeShape.Validate(probe) != nil {
			r.Body = io.NopCloser(bytes.NewReader(raw))
			next.ServeHTTP(w, r)
			return
		}

		idToken := probe["idToken"].(string)
		digest := probe["digest"].(string)

		plaintext, record, err := s.keyExchange.Unseal(r.Context(), idToken, digest)
		if err != nil {
			if errors.Is(err, services.ErrKeyPairExpired) {
				s.writeJSON(w, http.StatusOK, map[string]any{"error": "keypair expired"})
				return
			}
			s.log.Warn("failed to open sealed request", "err", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(plaintext))
		r.ContentLength = int64(len(plaintext))
		r.Header.Set("Content-Length", strconv.Itoa(len(plaintext)))

		buf := newBufferingWriter()
		next.ServeHTTP(buf, r)

		if buf.status == http.StatusOK && buf.body.Len() > 0 {
			sealed, err := s.keyExchange.SealResponse(record, buf.body.Bytes())
			if err != nil {
				s.log.Error("failed to seal response", "err", err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			s.writeJSON(w, http.StatusOK, map[string]any{
				"idToken":         idToken,
				"encryptedObject": sealed,
			})
			return
		}

		for k, vs := range buf.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(buf.status)
		w.Write(buf.body.Bytes())
	})
}
