package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	sendBufferSize    = 256
	controlBufferSize = 2 * sendBufferSize
	frameBufferSize   = 16
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// controlTypes are never dropped: they go on their own queue, written ahead
// of audio, and a full control queue closes the connection.
var controlTypes = map[MessageType]bool{
	MessageTypeSessionReady:      true,
	MessageTypeStatus:            true,
	MessageTypeError:             true,
	MessageTypeAudioStop:         true,
	MessageTypeTranscriptEntry:   true,
	MessageTypeTranscriptCleared: true,
}

type outbound struct {
	data     []byte
	sourceID uint64
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Conn is one browser WebSocket. It carries captured audio in, playback
// commands and display updates out, and reports the browser's audio clock.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	send    chan outbound
	control chan outbound
	frames  chan []float32
	done   chan struct{}
	once   sync.Once

	onControl func(*Message)

	mu          sync.Mutex
	micAllowed  bool
	clientRate  int
	targetRate  int
	capture     *captureStream
	output      *playbackOutput
	nextSource  uint64
	clockTime   float64
	clockAt     time.Time
	droppedSend int
}

func NewConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		ws:     ws,
		logger: logger,
		send:    make(chan outbound, sendBufferSize),
		control: make(chan outbound, controlBufferSize),
		frames:  make(chan []float32, frameBufferSize),
		done:    make(chan struct{}),
	}
}

// OnControl registers the handler for session control messages. It must be
// set before ReadPump starts.
func (c *Conn) OnControl(fn func(*Message)) {
	c.onControl = fn
}

func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Send queues a message for the write pump. Audio and transcript deltas
// are dropped with ErrSendBufferFull when the client falls behind.
func (c *Conn) Send(t MessageType, payload any) error {
	return c.enqueue(t, payload, 0)
}

func (c *Conn) enqueue(t MessageType, payload any, sourceID uint64) error {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	out := outbound{data: data, sourceID: sourceID}
	if controlTypes[t] {
		select {
		case c.control <- out:
			return nil
		case <-c.done:
			return ErrConnClosed
		default:
			c.logger.Error("control queue full, closing connection", "type", t)
			_ = c.Close()
			return ErrSendBufferFull
		}
	}

	select {
	case c.send <- out:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.mu.Lock()
		c.droppedSend++
		c.mu.Unlock()
		c.logger.Warn("send buffer full, dropping message", "type", t)
		return ErrSendBufferFull
	}
}

func (c *Conn) SendError(code, message string) {
	_ = c.Send(MessageTypeError, ErrorPayload{Code: code, Message: message})
}

// ReadPump blocks until the socket fails or the context ends, then closes
// the connection.
func (c *Conn) ReadPump(ctx context.Context) {
	defer func() {
		_ = c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			c.handleAudio(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// WritePump writes queued messages until the connection closes. Control
// messages go first; an audio.play whose source was stopped while queued
// is skipped.
func (c *Conn) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case out := <-c.control:
			if err := c.write(out); err != nil {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case out := <-c.control:
			if err := c.write(out); err != nil {
				return
			}
		case out := <-c.send:
			if err := c.write(out); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) write(out outbound) error {
	if out.sourceID != 0 && !c.sourceQueued(out.sourceID) {
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, out.data); err != nil {
		c.logger.Error("websocket write error", "error", err)
		return err
	}
	return nil
}

func (c *Conn) handleText(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("failed to unmarshal message", "error", err)
		c.SendError("invalid_message", "message is not valid JSON")
		return
	}

	switch msg.Type {
	case MessageTypePlaybackClock:
		var p PlaybackClockPayload
		if err := msg.Decode(&p); err != nil {
			c.SendError("invalid_payload", err.Error())
			return
		}
		c.setClock(p.CurrentTime)
	case MessageTypePlaybackEnded:
		var p PlaybackEndedPayload
		if err := msg.Decode(&p); err != nil {
			c.SendError("invalid_payload", err.Error())
			return
		}
		c.sourceEnded(p.SourceID)
	default:
		if c.onControl != nil {
			c.onControl(&msg)
		}
	}
}

// Grant records what the browser announced in session.start: whether the
// microphone is available, its capture rate and its current audio clock.
func (c *Conn) Grant(p SessionStartPayload) {
	c.mu.Lock()
	c.micAllowed = p.Microphone
	c.clientRate = p.SampleRate
	c.mu.Unlock()

	if p.CurrentTime != nil {
		c.setClock(*p.CurrentTime)
	}
}

func (c *Conn) setClock(t float64) {
	c.mu.Lock()
	c.clockTime = t
	c.clockAt = time.Now()
	c.mu.Unlock()
}

// clock extrapolates the browser's audio clock from its last report.
func (c *Conn) clock() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clockAt.IsZero() {
		return 0
	}
	return c.clockTime + time.Since(c.clockAt).Seconds()
}

func (c *Conn) droppedMessages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedSend
}
