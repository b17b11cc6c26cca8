// Package web serves the operator console: health probes, the Prometheus
// scrape endpoint, and a WebSocket that streams pipeline events and accepts
// operator commands.
//
// The [Server] doubles as the pipeline's two operator-facing boundaries. It
// implements [calibrate.Selector] by broadcasting discovered speakers and
// waiting for a client to answer with a select command, and it implements
// [pipeline.Sink] by fanning emitted events out to every connected socket.
// Slow or stalled clients have events dropped rather than stalling the
// pipeline.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot-audio/earshot/internal/calibrate"
	"github.com/earshot-audio/earshot/internal/health"
	"github.com/earshot-audio/earshot/internal/pipeline"
)

// clientBuffer is the per-client outbound event budget. Events beyond it are
// dropped for that client only.
const clientBuffer = 64

// Recalibrator triggers a new calibration pass against live audio.
type Recalibrator interface {
	Recalibrate(ctx context.Context) error
}

// Server is the operator console endpoint.
type Server struct {
	log    *slog.Logger
	health *health.Handler

	mu       sync.Mutex
	clients  map[*client]struct{}
	recal    Recalibrator
	selectCh chan string // non-nil while a calibration awaits selection
	awaiting []byte      // calibration event replayed to late joiners
}

var (
	_ calibrate.Selector = (*Server)(nil)
	_ pipeline.Sink      = (*Server)(nil)
)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates a console server whose /healthz and /readyz routes are backed
// by h.
func New(h *health.Handler, opts ...Option) *Server {
	s := &Server{
		log:     slog.Default(),
		health:  h,
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "web")
	return s
}

// SetRecalibrator installs the target for recalibrate commands. The server
// is constructed before the pipeline, so this is wired afterwards.
func (s *Server) SetRecalibrator(r Recalibrator) {
	s.mu.Lock()
	s.recal = r
	s.mu.Unlock()
}

// Handler returns the console's route set:
//
//	GET /healthz   — liveness
//	GET /readyz    — readiness (calibration done, pipeline not degraded)
//	GET /metrics   — Prometheus scrape endpoint
//	GET /ws        — operator event stream + commands
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// ─── calibrate.Selector ──────────────────────────────────────────────────────

// Select broadcasts the discovered speakers and blocks until a connected
// operator answers with a select command or ctx expires. Clients that
// connect mid-calibration receive the pending event on join.
func (s *Server) Select(ctx context.Context, speakers []calibrate.SpeakerSummary) (string, error) {
	ev := calibrationEvent{Type: eventCalibration, Speakers: make([]speakerOption, len(speakers))}
	for i, sp := range speakers {
		ev.Speakers[i] = speakerOption{
			SpeakerID: sp.SpeakerID,
			SpeechS:   sp.TotalSpeech.Seconds(),
			Segments:  sp.Segments,
		}
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}

	ch := make(chan string, 1)
	s.mu.Lock()
	s.selectCh = ch
	s.awaiting = data
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.selectCh = nil
		s.awaiting = nil
		s.mu.Unlock()
	}()

	s.log.Info("awaiting speaker selection", "speakers", len(speakers))
	s.broadcast(data)

	select {
	case id := <-ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ─── pipeline.Sink ───────────────────────────────────────────────────────────

func (s *Server) EmitTranscription(t pipeline.Transcription) {
	s.send(transcriptionEvent{
		Type:        eventTranscription,
		Participant: t.Participant,
		Text:        t.Text,
		Confidence:  t.Confidence,
		Utterance:   t.Utterance,
		At:          t.At,
	})
}

func (s *Server) EmitReply(r pipeline.Reply) {
	s.send(responseEvent{
		Type:        eventResponse,
		Participant: r.Participant,
		Transcript:  r.Transcript,
		Reply:       r.Reply,
		Utterance:   r.Utterance,
		At:          r.At,
	})
}

func (s *Server) EmitStatus(st pipeline.Status) {
	s.send(statusEvent{
		Type:        eventStatus,
		State:       st.State.String(),
		Degraded:    st.Degraded,
		SpeakerID:   st.Binding.SpeakerID,
		Participant: st.Binding.DisplayName,
		At:          st.At,
	})
}

// send marshals v and fans it out to every connected client.
func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("marshal event", "error", err)
		return
	}
	s.broadcast(data)
}

// broadcast queues data on every client. A client whose buffer is full has
// this event dropped.
func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- data:
		default:
			s.log.Warn("client event buffer full, dropping event")
		}
	}
}

// ─── socket handling ─────────────────────────────────────────────────────────

// client is one connected operator socket.
type client struct {
	conn *websocket.Conn
	out  chan []byte
}

// handleWS upgrades the connection and runs the read and write loops until
// either side closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The console binds to the operator's own machine; cross-origin
		// browser pages are not a concern worth locking out the file://
		// console page for.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{conn: conn, out: make(chan []byte, clientBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	pending := s.awaiting
	s.mu.Unlock()
	if pending != nil {
		c.out <- pending
	}
	s.log.Info("operator connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "bye")
	s.log.Info("operator disconnected", "remote", r.RemoteAddr)
}

// writeLoop drains the client's outbound buffer onto the socket.
func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// readLoop parses operator commands until the connection drops.
func (s *Server) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Warn("malformed command", "error", err)
			continue
		}
		s.dispatch(ctx, cmd)
	}
}

// dispatch routes one operator command.
func (s *Server) dispatch(ctx context.Context, cmd command) {
	switch cmd.Type {
	case cmdSelect:
		s.mu.Lock()
		ch := s.selectCh
		s.selectCh = nil
		s.mu.Unlock()
		if ch == nil {
			s.log.Warn("select command outside calibration", "speaker_id", cmd.SpeakerID)
			return
		}
		ch <- cmd.SpeakerID
		s.log.Info("speaker selected", "speaker_id", cmd.SpeakerID)

	case cmdRecalibrate:
		s.mu.Lock()
		r := s.recal
		s.mu.Unlock()
		if r == nil {
			s.log.Warn("recalibrate command before pipeline start")
			return
		}
		// Recalibrate blocks for a full calibration window; do not hold up
		// the read loop, the selection answer arrives on it.
		go func() {
			if err := r.Recalibrate(ctx); err != nil {
				s.log.Error("re-calibration failed", "error", err)
			}
		}()

	default:
		s.log.Warn("unknown command", "type", cmd.Type)
	}
}
