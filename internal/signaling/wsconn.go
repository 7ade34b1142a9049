package signaling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nekolive/signaling-relay/internal/metrics"
	"github.com/nekolive/signaling-relay/internal/relay"
)

const wsControlWait = 1 * time.Second

// wsConn adapts a gorilla connection to relay.Sender. Send only enqueues; a
// dedicated writer goroutine drains the queue with a write deadline per frame
// so one slow peer cannot stall a broadcast.
type wsConn struct {
	ws           *websocket.Conn
	queue        *sendQueue
	writeTimeout time.Duration
	metrics      *metrics.Metrics

	// relay is set once Manager.Connect succeeds.
	relay *relay.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	// alive is cleared on each heartbeat tick and set again by a pong.
	alive atomic.Bool
}

func newWSConn(ws *websocket.Conn, queueBytes int64, writeTimeout time.Duration, m *metrics.Metrics) *wsConn {
	c := &wsConn{
		ws:           ws,
		queue:        newSendQueue(queueBytes),
		writeTimeout: writeTimeout,
		metrics:      m,
		done:         make(chan struct{}),
	}
	c.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	return c
}

var _ relay.Sender = (*wsConn)(nil)

func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return errTransportDone
	default:
	}
	if !c.queue.Enqueue(payload) {
		c.metrics.Inc(metrics.SendQueueDrops)
		return ErrSendQueueFull
	}
	return nil
}

// Close tears down the socket without a close handshake. Safe to call more
// than once and from any goroutine.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.queue.Close()
		err = c.ws.Close()
	})
	return err
}

// closeWith sends a close frame before tearing down the socket.
func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsControlWait))
	c.writeMu.Unlock()
	_ = c.Close()
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsControlWait))
}

func (c *wsConn) writeLoop() {
	for {
		frame, ok := c.queue.Dequeue()
		if !ok {
			return
		}

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		err := c.ws.WriteMessage(websocket.TextMessage, frame)
		c.writeMu.Unlock()

		if err != nil {
			_ = c.Close()
			return
		}
	}
}
