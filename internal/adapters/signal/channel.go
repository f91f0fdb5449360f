// Package signal implements the signaling channel boundary over a websocket
// connection to the call server.
package signal

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dncdante911/worldmates-calls/internal/core"
)

const writeWait = 5 * time.Second

// Options tune one channel instance.
type Options struct {
	URL        string
	ReadLimit  int64
	PingPeriod time.Duration
	// OfferLimit caps inbound offers per peer within OfferWindow.
	OfferLimit  int
	OfferWindow time.Duration
}

// Channel is one live signaling connection. Reconnect policy lives with the
// process owner: a Channel handles exactly one connection and is done when
// Run returns.
type Channel struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool

	opts    Options
	limiter *offerLimiter
}

// Dial connects to the signaling server.
func Dial(ctx context.Context, opts Options) (*Channel, error) {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.OfferLimit <= 0 {
		opts.OfferLimit = 5
	}
	if opts.OfferWindow <= 0 {
		opts.OfferWindow = time.Minute
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &Channel{
		conn:    conn,
		send:    make(chan []byte, 32),
		opts:    opts,
		limiter: newOfferLimiter(opts.OfferLimit, opts.OfferWindow),
	}, nil
}

// Emit encodes and queues one outbound event. Fire-and-forget: a full send
// buffer drops the frame with ErrBackpressure, delivery is never confirmed.
// Safe to call concurrently with Close; emissions after Close fail with
// ErrDisconnected instead of hitting the closed send channel.
func (c *Channel) Emit(ev core.Event) error {
	data, err := core.Encode(ev)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrDisconnected
	}
	select {
	case c.send <- data:
		return nil
	default:
		log.Warn().Str("module", "adapters.signal").Str("event", ev.Name()).Msg("send buffer full, frame dropped")
		return core.ErrBackpressure
	}
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// Run pumps the connection until it drops or ctx is done. The dispatcher is
// the single sink for every inbound call event.
func (c *Channel) Run(ctx context.Context, d core.Dispatcher) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx, d)
}

func (c *Channel) writePump(ctx context.Context) {
	ping := time.NewTicker(c.opts.PingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Str("module", "adapters.signal").Err(err).Msg("ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "adapters.signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Warn().Str("module", "adapters.signal").Err(err).Msg("set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Str("module", "adapters.signal").Err(err).Msg("write failed")
				return
			}
		}
	}
}

func (c *Channel) readPump(ctx context.Context, d core.Dispatcher) {
	defer func() {
		log.Info().Str("module", "adapters.signal").Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Warn().Str("module", "adapters.signal").Err(err).Msg("read failed")
				return
			}
			c.handleFrame(d, data)
		}
	}
}

// handleFrame parses one inbound frame. Anything outside the closed event set
// is dropped here; only well-formed events reach the dispatcher.
func (c *Channel) handleFrame(d core.Dispatcher, data []byte) {
	ev, err := core.ParseEvent(data)
	if err != nil {
		log.Warn().Str("module", "adapters.signal").Err(err).Msg("bad signal frame dropped")
		return
	}
	if in, ok := ev.(core.IncomingEvent); ok && !c.limiter.Allow(in.FromID) {
		log.Warn().Str("module", "adapters.signal").Int64("from", int64(in.FromID)).Msg("offer rate limit, dropped")
		return
	}
	d.Dispatch(ev)
}
