package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/adwski/quiz-session/model"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketMaxMessageSize     = 65536

	defaultReconnectBaseDelay   = time.Second
	defaultMaxReconnectAttempts = 5
)

var (
	ErrConnect      = errors.New("unable to connect")
	ErrNotConnected = errors.New("websocket is not connected")
	ErrSend         = errors.New("unable to send event")
)

type (
	// Handler receives every inbound transport envelope. Handlers
	// must not block, they run sequentially on the read loop.
	Handler func(model.Message)

	// OpenHandler fires after every successful socket open,
	// including automatic reconnects.
	OpenHandler func()

	Config struct {
		Logger *zerolog.Logger
		URL    string

		// Zero values fall back to the defaults above.
		ReconnectBaseDelay   time.Duration
		MaxReconnectAttempts int
		HandshakeTimeout     time.Duration
	}

	// Transport owns exactly one websocket connection to the room
	// server and fans inbound frames out to registered handlers.
	Transport struct {
		logger zerolog.Logger
		url    string
		dialer *websocket.Dialer

		baseDelay   time.Duration
		maxAttempts int

		// connectMx serializes whole check-dial-install sequences so
		// racing Connect calls cannot each construct a socket.
		connectMx sync.Mutex

		mx         sync.Mutex
		wmx        sync.Mutex
		conn       *websocket.Conn
		connected  bool
		cleanClose bool
		attempts   int
		retryTimer *time.Timer

		nextID       int
		msgHandlers  []handlerEntry[Handler]
		openHandlers []handlerEntry[OpenHandler]
	}

	handlerEntry[T any] struct {
		id int
		fn T
	}
)

func New(cfg Config) *Transport {
	baseDelay := cfg.ReconnectBaseDelay
	if baseDelay == 0 {
		baseDelay = defaultReconnectBaseDelay
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxReconnectAttempts
	}
	handshakeTimeout := cfg.HandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = defaultWebSocketHandshakeTimeout
	}
	return &Transport{
		logger: cfg.Logger.With().Str("component", "transport").Logger(),
		url:    cfg.URL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
	}
}

// Connect opens the socket. Calling it while connected is a no-op; a
// stale handle left over from a failed session is torn down first.
// Concurrent calls (a retry timer firing while a caller retries
// manually) are serialized, at most one socket is ever constructed.
func (t *Transport) Connect(ctx context.Context) error {
	t.connectMx.Lock()
	defer t.connectMx.Unlock()

	t.mx.Lock()
	if t.conn != nil && t.connected {
		t.mx.Unlock()
		t.logger.Debug().Msg("already connected")
		return nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.cleanClose = false
	t.mx.Unlock()

	return t.dial(ctx)
}

func (t *Transport) dial(ctx context.Context) error {
	conn, resp, err := t.dialer.DialContext(ctx, t.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.Join(ErrConnect, err)
	}

	t.mx.Lock()
	t.conn = conn
	t.connected = true
	t.attempts = 0
	open := make([]handlerEntry[OpenHandler], len(t.openHandlers))
	copy(open, t.openHandlers)
	t.mx.Unlock()

	t.logger.Info().Str("url", t.url).Msg("connected")

	for _, h := range open {
		h.fn()
	}
	go t.readLoop(conn)
	return nil
}

// Send serializes the event and writes it if the socket is open.
func (t *Transport) Send(ev *model.Event) error {
	t.mx.Lock()
	conn, connected := t.conn, t.connected
	t.mx.Unlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Join(ErrSend, err)
	}

	t.wmx.Lock()
	defer t.wmx.Unlock()
	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return errors.Join(ErrSend, err)
	}
	if err = conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return errors.Join(ErrSend, err)
	}
	t.logger.Debug().Str("type", string(ev.Type)).Msg("event sent")
	return nil
}

// OnMessage registers a handler for inbound envelopes. Handlers fire
// in registration order. The returned unsubscribe is idempotent.
func (t *Transport) OnMessage(h Handler) func() {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.nextID++
	id := t.nextID
	t.msgHandlers = append(t.msgHandlers, handlerEntry[Handler]{id: id, fn: h})
	return func() {
		t.mx.Lock()
		defer t.mx.Unlock()
		for i, e := range t.msgHandlers {
			if e.id == id {
				t.msgHandlers = append(t.msgHandlers[:i], t.msgHandlers[i+1:]...)
				return
			}
		}
	}
}

// OnOpen registers a handler fired after every successful open.
func (t *Transport) OnOpen(h OpenHandler) func() {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.nextID++
	id := t.nextID
	t.openHandlers = append(t.openHandlers, handlerEntry[OpenHandler]{id: id, fn: h})
	return func() {
		t.mx.Lock()
		defer t.mx.Unlock()
		for i, e := range t.openHandlers {
			if e.id == id {
				t.openHandlers = append(t.openHandlers[:i], t.openHandlers[i+1:]...)
				return
			}
		}
	}
}

// Connected reports whether the socket is currently open.
func (t *Transport) Connected() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.conn != nil && t.connected
}

// Disconnect performs a clean close. Clean closes are exempt from
// reconnection.
func (t *Transport) Disconnect() {
	t.mx.Lock()
	t.cleanClose = true
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	conn := t.conn
	t.mx.Unlock()

	if conn == nil {
		t.logger.Debug().Msg("already disconnected")
		return
	}
	t.wmx.Lock()
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline)); err == nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}
	t.wmx.Unlock()
	_ = conn.Close()
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(defaultWebSocketMaxMessageSize)

	var cleanErr bool
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				cleanErr = true
				t.logger.Debug().Err(err).Msg("connection closed")
			} else {
				t.logger.Warn().Err(err).Msg("connection lost")
			}
			break
		}

		var ev model.Event
		if jErr := json.Unmarshal(data, &ev); jErr != nil {
			t.logger.Error().Err(jErr).Msg("failed to unmarshall incoming event")
			t.fanOut(model.Message{Type: model.MessageError, Error: "invalid message format"})
			continue
		}
		t.fanOut(model.Message{Type: model.MessageEvent, Data: &ev})
	}

	t.mx.Lock()
	if t.conn != conn {
		// this loop's handle was already replaced
		t.mx.Unlock()
		return
	}
	t.conn = nil
	t.connected = false
	clean := t.cleanClose || cleanErr
	t.mx.Unlock()

	t.fanOut(model.Message{Type: model.MessageClose})

	if clean {
		t.logger.Debug().Msg("clean close, not reconnecting")
		return
	}
	t.scheduleReconnect()
}

func (t *Transport) scheduleReconnect() {
	t.mx.Lock()
	if t.cleanClose {
		t.mx.Unlock()
		return
	}
	if t.attempts >= t.maxAttempts {
		t.mx.Unlock()
		t.logger.Warn().Int("attempts", t.maxAttempts).Msg("max reconnection attempts reached")
		return
	}
	delay := retryDelay(t.baseDelay, t.attempts)
	t.attempts++
	attempt := t.attempts
	t.retryTimer = time.AfterFunc(delay, func() {
		if err := t.Connect(context.Background()); err != nil {
			t.logger.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			t.scheduleReconnect()
		}
	})
	t.mx.Unlock()

	t.logger.Info().
		Int("attempt", attempt).
		Int("max", t.maxAttempts).
		Dur("delay", delay).
		Msg("reconnect scheduled")
}

// retryDelay is the backoff before retry number attempts+1.
func retryDelay(base time.Duration, attempts int) time.Duration {
	return base * time.Duration(attempts+1)
}

func (t *Transport) fanOut(msg model.Message) {
	t.mx.Lock()
	handlers := make([]handlerEntry[Handler], len(t.msgHandlers))
	copy(handlers, t.msgHandlers)
	t.mx.Unlock()

	for _, h := range handlers {
		h.fn(msg)
	}
}
