// Package server exposes the orchestrator over WebSocket plus plain
// HTTP health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/twomile/harmonics/orchestrator"
	"github.com/twomile/harmonics/stream"
)

// clientCommand is one inbound WebSocket message. Unknown types are
// ignored rather than terminating the connection.
type clientCommand struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt,omitempty"`
}

const (
	cmdStart      = "start"
	cmdGetStats   = "get_stats"
	cmdToggleDemo = "toggle_demo"
	cmdPing       = "ping"
)

// Server serves the WebSocket event stream and the HTTP side endpoints.
type Server struct {
	manager     *orchestrator.Manager
	broadcaster *stream.Broadcaster
	logger      *zap.Logger
	registry    *prometheus.Registry
	httpSrv     *http.Server
}

// New wires the server. registry may be nil to disable /metrics.
func New(addr string, manager *orchestrator.Manager, broadcaster *stream.Broadcaster, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager:     manager,
		broadcaster: broadcaster,
		logger:      logger.With(zap.String("component", "server")),
		registry:    registry,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	if registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Serve listens on the configured address and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
	}
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"observers": s.broadcaster.Observers(),
		"demo_mode": s.manager.DemoMode(),
	})
}

// handleWS upgrades the connection, attaches the client as an observer
// and pumps events out while reading commands in. Each connection gets
// its own writer goroutine so a stalled read never blocks event
// delivery.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-host dashboards connect cross-origin
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.broadcaster.Attach()
	defer s.broadcaster.Detach(sub.ID)

	log := s.logger.With(zap.String("observer", sub.ID))
	log.Info("observer connected", zap.String("remote", r.RemoteAddr))

	// Greeting goes directly to this connection, not through the
	// broadcaster: only the new observer should see it.
	greeting := stream.NewConnected(
		s.manager.AvailableBackends(),
		s.manager.DemoMode(),
		s.manager.CacheEnabled(),
	)
	if err := writeJSON(ctx, conn, greeting); err != nil {
		log.Warn("greeting failed", zap.Error(err))
		return
	}

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeJSON(ctx, conn, ev); err != nil {
					log.Debug("event write failed", zap.Error(err))
					cancel()
					return
				}
			}
		}
	}()

	s.readLoop(ctx, conn, log)
	cancel()
	<-writeDone

	log.Info("observer disconnected")
	conn.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Debug("malformed command", zap.Error(err))
			continue
		}

		switch cmd.Type {
		case cmdStart:
			prompt := cmd.Prompt
			if prompt == "" {
				prompt = "Hello"
			}
			// The run outlives this connection on purpose: detaching an
			// observer must not cancel an in-flight conversation.
			go func() {
				if _, err := s.manager.Start(context.Background(), prompt); err != nil {
					log.Warn("conversation failed", zap.Error(err))
				}
			}()

		case cmdGetStats:
			cacheStats, sessionStats := s.manager.Stats()
			if err := writeJSON(ctx, conn, stream.NewStats(cacheStats, sessionStats)); err != nil {
				return
			}

		case cmdToggleDemo:
			s.manager.ToggleDemo()

		case cmdPing:
			if err := writeJSON(ctx, conn, map[string]string{"type": "pong"}); err != nil {
				return
			}

		default:
			log.Debug("unknown command", zap.String("type", cmd.Type))
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
