package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/internal/frame"
	"github.com/saker-ai/presence-engine/internal/mood"
	"github.com/saker-ai/presence-engine/internal/protocol"
	"github.com/saker-ai/presence-engine/internal/session/fsm"
	"github.com/saker-ai/presence-engine/internal/turn"
	"github.com/saker-ai/presence-engine/pkg/audio"
)

const (
	sendBuffer   = 256
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxReadBytes = 1 << 20
)

// Conversation is the turn surface driven by clients. *turn.Controller
// implements it.
type Conversation interface {
	Submit(text string) (string, bool)
	Interrupt()
	StartListening(ctx context.Context) error
	StopListening()
	Status() string
}

// CaptureRelay receives capture results from clients. *capture.Relay
// implements it.
type CaptureRelay interface {
	Mode() string
	Partial(text string)
	Final(text string)
	Fail(reason string)
	AppendAudio(samples []int16, format audio.Format)
	EndAudio(ctx context.Context)
}

// Hub serves renderer and capture clients over websocket.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	conv     Conversation
	relay    CaptureRelay
	mood     mood.ID
}

// NewHub creates a hub with no sessions.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		mood:     mood.Neutral,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Bind attaches the conversation and capture relay that client commands
// are dispatched to.
func (h *Hub) Bind(conv Conversation, relay CaptureRelay) {
	h.mu.Lock()
	h.conv = conv
	h.relay = relay
	h.mu.Unlock()
}

// Handle upgrades the request and serves the session until it disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		hub:    h,
		logger: h.logger,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
	h.register(sess)
	sess.logger.Info("ws session opened",
		zap.String("session_id", sess.id),
		zap.String("remote", r.RemoteAddr),
	)

	go sess.writePump()
	sess.sendJSON(h.hello(sess.id))
	sess.readLoop(h.ctx)

	h.unregister(sess.id)
	sess.close()
	sess.logger.Info("ws session closed", zap.String("session_id", sess.id))
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// Sessions counts connected clients.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Publish implements frame.Sink. Frames are dropped for clients that fall
// behind.
func (h *Hub) Publish(p frame.Params) {
	data, err := json.Marshal(protocol.FramePayload{
		Type:       protocol.TypeFrame,
		Time:       p.Time,
		Distortion: p.Distortion,
		Speed:      p.Speed,
		Glow:       p.Glow,
		Color1:     p.Color1,
		Color2:     p.Color2,
		Level:      p.Level,
		Mood:       string(p.Mood),
	})
	if err != nil {
		return
	}
	for _, s := range h.snapshot() {
		s.trySend(data)
	}
}

// CaptureClients implements capture.Commander.
func (h *Hub) CaptureClients(mode string) int {
	n := 0
	for _, s := range h.snapshot() {
		if s.canCapture(mode) {
			n++
		}
	}
	return n
}

// SendCapture implements capture.Commander.
func (h *Hub) SendCapture(start bool, mode string) {
	action := protocol.ControlRelease
	if start {
		action = protocol.ControlCapture
	}
	payload := map[string]any{"type": protocol.TypeControl, "text": action, "mode": mode}
	for _, s := range h.snapshot() {
		if s.canCapture(mode) {
			s.sendJSON(payload)
		}
	}
}

// Callbacks returns controller callbacks that broadcast events to clients.
func (h *Hub) Callbacks() turn.Callbacks {
	return turn.Callbacks{
		OnStatus: func(status string) {
			h.Broadcast(map[string]any{"type": protocol.TypeStatus, "text": status})
		},
		OnState: func(state fsm.State) {
			h.Broadcast(map[string]any{"type": protocol.TypeState, "state": state})
		},
		OnMood: func(id mood.ID) {
			h.mu.Lock()
			h.mood = id
			h.mu.Unlock()
			h.Broadcast(map[string]any{"type": protocol.TypeMood, "mood": id})
		},
		OnReply: func(r turn.Reply) {
			h.Broadcast(map[string]any{"type": protocol.TypeFullText, "text": r.Text, "mood": r.Mood, "turn_id": r.TurnID})
		},
		OnTranscript: func(text string, final bool) {
			h.Broadcast(map[string]any{"type": protocol.TypeUserText, "text": text, "final": final})
		},
	}
}

// Broadcast sends payload to every session.
func (h *Hub) Broadcast(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("ws marshal failed", zap.Error(err))
		return
	}
	for _, s := range h.snapshot() {
		s.enqueue(data)
	}
}

func (h *Hub) hello(id string) map[string]any {
	h.mu.Lock()
	conv, relay, current := h.conv, h.relay, h.mood
	h.mu.Unlock()
	msg := map[string]any{
		"type":       protocol.TypeHello,
		"session_id": id,
		"mood":       current,
		"moods":      mood.Names(),
	}
	if conv != nil {
		msg["status"] = conv.Status()
	}
	if relay != nil {
		msg["capture_mode"] = relay.Mode()
	}
	return msg
}

func (h *Hub) bound() (Conversation, CaptureRelay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conv, h.relay
}

func (h *Hub) snapshot() []*session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) register(sess *session) {
	h.mu.Lock()
	h.sessions[sess.id] = sess
	h.mu.Unlock()
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

type session struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	logger *zap.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	modes []string
	audio audio.Format
}

func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxReadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("ws connection closed", zap.Error(err))
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg protocol.ClientCommand
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendJSON(map[string]any{"type": protocol.TypeError, "message": "invalid json"})
			continue
		}
		if msg.Type != protocol.TypeHeartbeat && msg.Type != protocol.TypeMicAudioData {
			s.logger.Debug("ws incoming message",
				zap.String("session_id", s.id),
				zap.String("type", msg.Type),
			)
		}
		s.dispatchIncoming(ctx, msg)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("ws send failed", zap.Error(err))
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

func (s *session) sendJSON(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("ws marshal failed", zap.Error(err))
		return
	}
	s.enqueue(data)
}

// enqueue queues data, disconnecting a client whose buffer is full.
func (s *session) enqueue(data []byte) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn("ws client too slow; disconnecting", zap.String("session_id", s.id))
		s.close()
	}
}

// trySend queues data unless the buffer is more than half full.
func (s *session) trySend(data []byte) {
	if len(s.send) > cap(s.send)/2 {
		return
	}
	select {
	case <-s.closed:
	case s.send <- data:
	default:
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

func (s *session) canCapture(mode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.modes, mode)
}
