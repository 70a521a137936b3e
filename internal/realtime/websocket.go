package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/hackgods/medibook/internal/auth"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(raw string) (uuid.UUID, error)
}

// Handler upgrades authenticated requests to a websocket that streams the
// caller's own topic. Clients only ever receive events about themselves.
type Handler struct {
	broker   Broker
	verifier TokenVerifier
	logger   *slog.Logger
}

func NewHandler(broker Broker, verifier TokenVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{broker: broker, verifier: verifier, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.verifier.Verify(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	srv := websocket.Server{
		// browsers send their page origin; tokens already authenticate the caller
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			h.stream(r.Context(), conn, userID)
		},
	}
	srv.ServeHTTP(w, r)
}

func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, userID uuid.UUID) {
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := h.broker.Subscribe(ctx, UserTopic(userID))
	if err != nil {
		h.logger.Error("realtime subscribe failed", "user_id", userID, "error", err)
		return
	}
	defer sub.Close()

	h.logger.Debug("realtime client connected", "user_id", userID)

	// the read side only detects disconnects; clients have nothing to say
	go func() {
		defer cancel()
		var discard string
		for {
			if err := websocket.Message.Receive(conn, &discard); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("realtime client disconnected", "user_id", userID)
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := websocket.Message.Send(conn, string(msg)); err != nil {
				h.logger.Debug("realtime send failed", "user_id", userID, "error", err)
				return
			}
		}
	}
}

func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return auth.BearerToken(r.Header.Get("Authorization"))
}
