package stomp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	// ErrRejected is returned by Dial when the broker answers the CONNECT
	// frame with an ERROR frame, i.e. the credential was refused.
	ErrRejected = errors.New("stomp: connect rejected by broker")
	// ErrClosed is returned by operations on a client whose connection is
	// gone.
	ErrClosed = errors.New("stomp: connection closed")
)

type Options struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/ws-chat.
	URL string
	// Token is presented as a bearer credential in the CONNECT frame.
	Token string
	// Host is the value of the CONNECT host header. Defaults to "/".
	Host string
	Logger *slog.Logger
}

// Subscription is a live broker-side subscription. Handlers run on the
// client's read goroutine, so deliveries for one destination never overlap.
type Subscription struct {
	id          string
	destination string
	client      *Client
}

func (s *Subscription) Destination() string { return s.destination }

func (s *Subscription) Unsubscribe() error {
	s.client.mu.Lock()
	if _, ok := s.client.subs[s.id]; !ok {
		s.client.mu.Unlock()
		return nil
	}
	delete(s.client.subs, s.id)
	delete(s.client.handlers, s.id)
	s.client.mu.Unlock()
	f := NewFrame(CmdUnsubscribe, nil).Set(HdrID, s.id)
	return s.client.send(f)
}

// Client is a minimal STOMP 1.2 client over a single websocket connection.
// One Client multiplexes any number of destination subscriptions.
type Client struct {
	conn        *websocket.Conn
	writeStream chan []byte
	done        chan struct{}
	logger      *slog.Logger

	mu      sync.RWMutex
	subs    map[string]*Subscription
	handlers map[string]func(body []byte)
	closed  bool
	onClose func(error)
}

// Dial opens the websocket, performs the CONNECT handshake, and starts the
// read and write loops. A broker ERROR frame during the handshake yields
// ErrRejected; dial and handshake I/O failures are returned as-is.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	host := opts.Host
	if host == "" {
		host = "/"
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("stomp: dial %s: %w", opts.URL, err)
	}

	connect := NewFrame(CmdConnect, nil).
		Set(HdrAcceptVersion, "1.2").
		Set(HdrHost, host).
		Set(HdrHeartBeat, "10000,10000")
	if opts.Token != "" {
		connect.Set(HdrAuthorization, "Bearer "+opts.Token)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, connect.Marshal()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stomp: send connect: %w", err)
	}

	reply, err := readFrame(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stomp: handshake: %w", err)
	}
	switch reply.Command {
	case CmdConnected:
	case CmdError:
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrRejected, reply.Get(HdrMessage))
	default:
		conn.Close()
		return nil, fmt.Errorf("stomp: unexpected handshake frame %s", reply.Command)
	}

	c := &Client{
		conn:        conn,
		writeStream: make(chan []byte, 16),
		done:        make(chan struct{}),
		logger:      logger,
		subs:        make(map[string]*Subscription),
		handlers:    make(map[string]func(body []byte)),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// readFrame reads websocket messages until a full STOMP frame arrives,
// skipping heart-beats. Honors the context deadline if one is set.
func readFrame(ctx context.Context, conn *websocket.Conn) (*Frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if IsHeartBeat(raw) {
			continue
		}
		return Parse(raw)
	}
}

// OnClose registers f to run exactly once when the connection is torn down,
// with the error that caused it (nil on a clean Disconnect).
func (c *Client) OnClose(f func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = f
}

// Subscribe registers handler for messages published to destination. The id
// header is a fresh uuid so subscriptions are distinguishable broker-side.
func (c *Client) Subscribe(destination string, handler func(body []byte)) (*Subscription, error) {
	sub := &Subscription{
		id:          uuid.NewString(),
		destination: destination,
		client:      c,
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[sub.id] = sub
	c.handlers[sub.id] = handler
	c.mu.Unlock()

	f := NewFrame(CmdSubscribe, nil).
		Set(HdrID, sub.id).
		Set(HdrDestination, destination)
	if err := c.send(f); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		delete(c.handlers, sub.id)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Publish sends body to destination as a SEND frame.
func (c *Client) Publish(destination string, body []byte) error {
	f := NewFrame(CmdSend, body).
		Set(HdrDestination, destination).
		Set(HdrContentType, "application/json")
	return c.send(f)
}

func (c *Client) send(f *Frame) error {
	select {
	case c.writeStream <- f.Marshal():
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Disconnect sends a DISCONNECT frame and closes the socket. Safe to call
// more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	f := NewFrame(CmdDisconnect, nil).Set(HdrReceipt, uuid.NewString())
	// best effort; the socket close below is what matters
	c.send(f)
	c.teardown(nil)
	return nil
}

// teardown closes the connection once and notifies the close callback.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.onClose
	c.subs = make(map[string]*Subscription)
	c.handlers = make(map[string]func(body []byte))
	c.mu.Unlock()

	close(c.done)
	c.conn.Close()
	if onClose != nil {
		onClose(cause)
	}
}

func (c *Client) readLoop() {
	defer c.logger.Debug("stomp read loop stopped")

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.teardown(nil)
				return
			}
			select {
			case <-c.done:
				// local close already in progress
			default:
				c.logger.Error(fmt.Sprintf("stomp read: %v", err))
			}
			c.teardown(err)
			return
		}
		if IsHeartBeat(raw) {
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}
		frame, err := Parse(raw)
		if err != nil {
			c.logger.Error(err.Error())
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(f *Frame) {
	switch f.Command {
	case CmdMessage:
		c.mu.RLock()
		handler := c.handlers[f.Get(HdrSubscription)]
		c.mu.RUnlock()
		if handler == nil {
			c.logger.Debug("message for unknown subscription", slog.String("destination", f.Get(HdrDestination)))
			return
		}
		handler(f.Body)
	case CmdReceipt:
		c.logger.Debug("receipt", slog.String("id", f.Get(HdrReceiptID)))
	case CmdError:
		c.logger.Error(fmt.Sprintf("stomp broker error: %s", f.Get(HdrMessage)))
		c.teardown(fmt.Errorf("stomp: broker error: %s", f.Get(HdrMessage)))
	default:
		c.logger.Debug("unhandled frame", slog.String("command", f.Command))
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.logger.Debug("stomp write loop stopped")
	}()

	for {
		select {
		case raw := <-c.writeStream:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Error(fmt.Sprintf("stomp write: %v", err))
				c.teardown(err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.teardown(err)
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
