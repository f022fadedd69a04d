// Package wt serves the signaling protocol over WebTransport. A client opens
// one bidirectional stream and exchanges newline-delimited JSON envelopes on it.
package wt

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"go.uber.org/zap"

	"bken/signaling/internal/hub"
	"bken/signaling/internal/protocol"
	"bken/signaling/internal/router"
)

const acceptTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	Addr            string
	TLSConfig       *tls.Config
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	// AllowedOrigin restricts browser origins; "" or "*" allows any.
	AllowedOrigin string
}

// Server holds the WebTransport listener.
type Server struct {
	router *router.Router
	hub    *hub.Hub
	opts   Options
	log    *zap.Logger

	wt *webtransport.Server
}

// NewServer returns a server that feeds r and drains queues from h.
func NewServer(r *router.Router, h *hub.Hub, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{router: r, hub: h, opts: opts, log: logger}
}

// checkOrigin applies the same origin rule as the websocket transport.
// Requests without an Origin header come from non-browser clients.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.opts.AllowedOrigin == "" || s.opts.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.opts.AllowedOrigin
}

// Run starts the WebTransport server and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	s.wt = &webtransport.Server{
		H3: &http3.Server{
			Addr:      s.opts.Addr,
			TLSConfig: s.opts.TLSConfig,
			Handler:   mux,
		},
		CheckOrigin: s.checkOrigin,
	}
	webtransport.ConfigureHTTP3Server(s.wt.H3)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		sess, err := s.wt.Upgrade(w, r)
		if err != nil {
			s.log.Warn("webtransport upgrade failed", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.handleSession(ctx, sess, token)
	})

	s.log.Info("webtransport listening", zap.String("addr", s.opts.Addr))

	go func() {
		<-ctx.Done()
		_ = s.wt.Close()
	}()

	err := s.wt.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handleSession(ctx context.Context, sess *webtransport.Session, token string) {
	clientID := uuid.NewString()
	log := s.log.With(zap.String("client_id", clientID), zap.String("transport", "webtransport"))
	defer sess.CloseWithError(0, "bye")

	acceptCtx, cancel := context.WithTimeout(ctx, acceptTimeout)
	stream, err := sess.AcceptStream(acceptCtx)
	cancel()
	if err != nil {
		log.Debug("accept stream failed", zap.Error(err))
		return
	}

	queue := s.hub.Register(clientID)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(stream, queue, log)
	}()

	log.Info("webtransport connected", zap.String("remote", sess.RemoteAddr().String()))
	s.router.Connect(clientID, token)

	s.readLoop(stream, clientID, log)

	s.router.Disconnect(clientID)
	s.hub.Unregister(queue)
	<-writerDone
	log.Info("webtransport disconnected")
}

func (s *Server) readLoop(stream io.Reader, clientID string, log *zap.Logger) {
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 4096), int(s.opts.MaxMessageBytes))
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var in protocol.Message
		if err := json.Unmarshal(line, &in); err != nil {
			s.router.Reject(clientID, err)
			continue
		}
		s.router.Dispatch(clientID, in)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("webtransport read failed", zap.Error(err))
	}
}

type deadlineWriter interface {
	io.Writer
	SetWriteDeadline(time.Time) error
}

// writeLoop is the only writer on the stream.
func (s *Server) writeLoop(stream deadlineWriter, queue *hub.Conn, log *zap.Logger) {
	failed := false
	for out := range queue.Send {
		if failed {
			continue
		}
		data, err := json.Marshal(out)
		if err != nil {
			log.Error("encode outbound message", zap.String("event", out.Event), zap.Error(err))
			continue
		}
		data = append(data, '\n')
		_ = stream.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		if _, err := stream.Write(data); err != nil {
			log.Debug("webtransport write failed", zap.String("event", out.Event), zap.Error(err))
			failed = true
		}
	}
}
