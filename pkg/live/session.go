// Package live implements the client side of a bidirectional real-time
// voice session against a Gemini-style BidiGenerateContent endpoint.
//
// A [Session] owns one persistent WebSocket connection. Outbound audio is
// submitted frame-by-frame through the non-blocking [Session.TrySend] gate;
// inbound server messages are decoded by the receive loop and surfaced as
// tagged [Event] values on [Session.Events]. The session's lifecycle is an
// explicit [State] machine — see the State documentation for the allowed
// transitions.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/hexaphone/lectern/pkg/audio/pcm"
)

const (
	// DefaultModel is the real-time model used when Config.Model is empty.
	DefaultModel = "gemini-2.0-flash-live-001"

	// DefaultBaseURL is the production BidiGenerateContent endpoint.
	DefaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// DefaultVoice is the prebuilt voice used when Config.Voice is empty.
	DefaultVoice = "Aoede"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	// eventBuffer sizes the Events channel. The consumer (the session
	// controller) dispatches events without blocking, so a modest buffer
	// absorbs bursts of short audio chunks.
	eventBuffer = 64
)

var (
	// ErrConnection reports that the transport failed to open or dropped
	// unexpectedly. The session is in StateError and must be closed.
	ErrConnection = errors.New("live: connection failed")

	// ErrNotConnected reports a TrySend outside StateConnected. The frame
	// was dropped, not queued; callers treat this as a transient condition
	// and retry with the next frame.
	ErrNotConnected = errors.New("live: session not connected")
)

// Config carries everything needed to open a session.
type Config struct {
	// APIKey authenticates against the remote service. Required.
	APIKey string

	// Model overrides DefaultModel.
	Model string

	// BaseURL overrides DefaultBaseURL. Primarily used in tests to point at
	// a local mock server.
	BaseURL string

	// Voice selects the prebuilt synthetic voice for spoken responses.
	Voice string

	// Instructions is the system-level behavioral prompt for the session.
	Instructions string
}

// Session is one live bidirectional audio session. Create it with [Dial];
// release it with [Session.Close]. All methods are safe for concurrent use.
type Session struct {
	conn   *websocket.Conn
	events chan Event

	state atomic.Int32

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Dial opens a websocket to the BidiGenerateContent endpoint, sends the
// setup message (audio response modality, selected voice, system
// instruction), and returns without waiting for the service to acknowledge:
// the session is in [StateConnecting] until the setupComplete message
// arrives, at which point it transitions to [StateConnected] and emits
// [EventOpened].
//
// The caller owns the returned Session and must call Close.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		cfg.BaseURL, cfg.APIKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrConnection, err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
		done:   make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	if err := s.sendSetup(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("%w: setup: %v", ErrConnection, err)
	}

	go s.receiveLoop()
	go s.keepaliveLoop()

	return s, nil
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *Session) sendSetup(cfg Config) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", cfg.Model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
					},
				},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Events returns the channel on which inbound events arrive. The channel is
// closed when the receive loop exits — after [Session.Close], a server-side
// close, or a connection error.
func (s *Session) Events() <-chan Event {
	return s.events
}

// TrySend delivers one outbound audio chunk if and only if the session is
// in [StateConnected]; in every other state the chunk is dropped and
// [ErrNotConnected] is returned. TrySend never blocks waiting for the
// connection to establish — real-time capture prefers recency over
// completeness, so frames produced while connecting are lost by design.
func (s *Session) TrySend(chunk pcm.WireChunk) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: chunk.MIMEType, Data: chunk.Data},
			},
		},
	}
	return s.writeJSON(msg)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns the events channel: it closes it when it exits.
func (s *Session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Local Close cancelled the session context: exit cleanly.
			// Close already drove the state to StateClosed.
			if s.ctx.Err() != nil {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				s.state.Store(int32(StateClosed))
				s.emit(Event{Type: EventClosed})
			default:
				s.state.Store(int32(StateError))
				s.emit(Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrConnection, err)})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if s.handleServerMessage(&msg) {
			return
		}
	}
}

// handleServerMessage maps one decoded server message to its event and
// state transition. It reports whether the receive loop should stop.
func (s *Session) handleServerMessage(msg *serverMessage) (stop bool) {
	if msg.SetupComplete != nil && s.State() == StateConnecting {
		s.state.Store(int32(StateConnected))
		s.emit(Event{Type: EventOpened})
	}

	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown error"
		}
		s.state.Store(int32(StateError))
		s.emit(Event{Type: EventError, Err: fmt.Errorf("%w: %s", ErrConnection, text)})
		return true
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			s.emit(Event{Type: EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil {
					continue
				}
				raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil || len(raw) == 0 {
					continue // malformed chunk: discard, session continues
				}
				s.emit(Event{Type: EventAudio, Audio: raw, MIMEType: p.InlineData.MIMEType})
			}
		}
	}

	return false
}

// emit delivers ev to the events channel unless the session is shutting down.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// keepaliveLoop sends WebSocket pings to keep the connection alive across
// quiet stretches of the conversation.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// Close terminates the session and releases the network resource. It is
// callable from any state, never returns an error on repeated calls, and
// always leaves the session in [StateClosed].
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state.Store(int32(StateClosing))
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	s.state.Store(int32(StateClosed))
	return nil
}
