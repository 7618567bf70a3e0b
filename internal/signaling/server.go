package signaling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/1ureka/webudp/internal/engine"
	"github.com/1ureka/webudp/internal/util"
)

// MaxOfferSize bounds the accepted offer body.
const MaxOfferSize = 64 << 10

// WSPath is where the WebSocket endpoint is mounted.
const WSPath = "/ws"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Exchanger answers SDP offers. *host.Host implements it.
type Exchanger interface {
	ExchangeSDP(offer []byte) engine.SDPResult
}

// Server is the HTTP/WebSocket signaling endpoint.
type Server struct {
	ex     Exchanger
	path   string
	router *mux.Router
}

// NewServer creates a server that POSTs offers at path and upgrades at /ws.
func NewServer(ex Exchanger, path string) *Server {
	if path == "" {
		path = "/webrtc"
	}
	s := &Server{ex: ex, path: path, router: mux.NewRouter()}
	s.router.HandleFunc(path, s.handleOffer).Methods(http.MethodPost)
	s.router.HandleFunc(WSPath, s.handleWS).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve listens on listen until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listen string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to start signaling server: %w", err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener until ctx is cancelled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("signaling server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	offer, err := io.ReadAll(io.LimitReader(r.Body, MaxOfferSize+1))
	if err != nil {
		http.Error(w, "failed to read offer", http.StatusBadRequest)
		return
	}
	if len(offer) > MaxOfferSize {
		http.Error(w, "offer too large", http.StatusRequestEntityTooLarge)
		return
	}

	res := s.ex.ExchangeSDP(offer)
	if res.Status != engine.SDPSuccess {
		util.LogWarning("rejected offer from %s: %s: %v", r.RemoteAddr, res.Status, res.Err)
		http.Error(w, res.Status.String(), statusCode(res.Status))
		return
	}

	util.LogDebug("answered offer from %s", r.RemoteAddr)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(res.Answer)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxOfferSize)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != MsgTypeOffer {
			reply := Message{Type: MsgTypeError, Error: fmt.Sprintf("unexpected message type %q", msg.Type), Code: http.StatusBadRequest}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
			continue
		}

		res := s.ex.ExchangeSDP([]byte(msg.SDP))
		reply := Message{Type: MsgTypeAnswer, Answer: res.Answer}
		if res.Status != engine.SDPSuccess {
			util.LogWarning("rejected offer from %s: %s: %v", r.RemoteAddr, res.Status, res.Err)
			reply = Message{Type: MsgTypeError, Error: res.Status.String(), Code: statusCode(res.Status)}
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}

func statusCode(s engine.SDPStatus) int {
	switch s {
	case engine.SDPSuccess:
		return http.StatusOK
	case engine.SDPMaxClients:
		return http.StatusServiceUnavailable
	case engine.SDPInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
