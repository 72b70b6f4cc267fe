package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hvdkamer/relaydesk/internal/logger"
	"github.com/hvdkamer/relaydesk/internal/wire"
)

const (
	// Time allowed to push one frame to the relay.
	writeWait = 10 * time.Second

	// Handshake budget for a single dial attempt.
	dialTimeout = 10 * time.Second

	// Largest frame the relay is allowed to send us.
	maxFrameBytes = 1 << 20

	// Reconnect attempts after a lost link before giving up for good.
	// The counter resets whenever a dial succeeds.
	maxRetries = 5

	backoffBase = time.Second
	backoffCeil = 15 * time.Second
)

// ErrLinkClosed is returned by Send when no link is open. Frames are
// dropped, never queued for a future connection.
var ErrLinkClosed = errors.New("relay link is not open")

type StatusKind int

const (
	StatusConnecting StatusKind = iota
	StatusOpen
	StatusClosed
	StatusDisconnected
)

func (k StatusKind) String() string {
	switch k {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	case StatusDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Status is one link state change. Err carries the cause for closed and
// disconnected. Attempt is the reconnect attempt about to be made.
type Status struct {
	Kind    StatusKind
	Attempt int
	Err     error
}

// Options configures a relay session.
type Options struct {
	// WebSocket endpoint, ws:// or wss://.
	URL string

	// Access token, appended as the token query parameter on dial.
	Token string

	// JSON-level keepalive interval. Zero means 25 seconds. The read
	// deadline is three times this value, refreshed on every inbound
	// frame.
	PingInterval time.Duration
}

// Session owns one logical connection to the relay and keeps it alive:
// it dials, pumps frames both ways, pings, and redials with exponential
// backoff when the link drops. Consumers read raw inbound frames from
// Frames and link state changes from Status.
type Session struct {
	opts Options

	frames chan []byte
	status chan Status
	done   chan struct{}

	// wait is the backoff schedule, replaceable in tests.
	wait func(retry int) time.Duration

	mu      sync.Mutex
	outbox  chan []byte
	stopped bool
}

func New(opts Options) *Session {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 25 * time.Second
	}
	return &Session{
		opts:   opts,
		frames: make(chan []byte, 64),
		status: make(chan Status, 8),
		done:   make(chan struct{}),
		wait:   backoff,
	}
}

// Start launches the supervisor goroutine. Call once.
func (s *Session) Start() {
	go s.run()
}

// Frames delivers raw inbound frames in arrival order.
func (s *Session) Frames() <-chan []byte { return s.frames }

// Status delivers link state changes.
func (s *Session) Status() <-chan Status { return s.status }

// Send encodes v and hands it to the link writer. When no link is open
// the frame is dropped and ErrLinkClosed comes back; callers decide how
// loudly to complain.
func (s *Session) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.mu.Lock()
	ob := s.outbox
	s.mu.Unlock()
	if ob == nil {
		return ErrLinkClosed
	}

	select {
	case ob <- b:
		return nil
	default:
		return fmt.Errorf("outbox full, frame dropped")
	}
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.done)
}

func backoff(retry int) time.Duration {
	d := backoffBase << uint(retry)
	if d <= 0 || d > backoffCeil {
		d = backoffCeil
	}
	return d
}

func (s *Session) run() {
	retries := 0
	first := true
	for {
		if !first {
			if retries >= maxRetries {
				logger.Errorf("relay unreachable after %d attempts, giving up", maxRetries)
				s.emit(Status{Kind: StatusDisconnected, Err: fmt.Errorf("retry limit reached")})
				return
			}
			wait := s.wait(retries)
			retries++
			logger.Infof("reconnecting to relay in %s (attempt %d/%d)", wait, retries, maxRetries)
			select {
			case <-s.done:
				return
			case <-time.After(wait):
			}
		}
		first = false

		s.emit(Status{Kind: StatusConnecting, Attempt: retries})
		conn, err := s.dial()
		if err != nil {
			logger.Warnf("relay dial failed: %v", err)
			continue
		}

		retries = 0
		s.emit(Status{Kind: StatusOpen})
		cause := s.serve(conn)

		select {
		case <-s.done:
			return
		default:
		}
		logger.Warnf("relay link lost: %v", cause)
		s.emit(Status{Kind: StatusClosed, Err: cause})
	}
}

func (s *Session) dial() (*websocket.Conn, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.opts.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		// Never echo the URL here, it carries the token.
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (http %d)", u.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	logger.Infof("relay link open to %s", u.Host)
	return conn, nil
}

// serve pumps one connection until it fails or the session closes.
func (s *Session) serve(conn *websocket.Conn) error {
	stop := make(chan struct{})
	errc := make(chan error, 2)
	outbox := make(chan []byte, 64)

	s.mu.Lock()
	s.outbox = outbox
	s.mu.Unlock()

	go s.readLoop(conn, stop, errc)
	go s.writeLoop(conn, outbox, stop, errc)

	var cause error
	select {
	case cause = <-errc:
	case <-s.done:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}

	// Anything still queued belongs to the dead link and is dropped.
	s.mu.Lock()
	s.outbox = nil
	s.mu.Unlock()

	close(stop)
	conn.Close()
	return cause
}

func (s *Session) readLoop(conn *websocket.Conn, stop <-chan struct{}, errc chan<- error) {
	conn.SetReadLimit(maxFrameBytes)
	deadline := 3 * s.opts.PingInterval
	for {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case errc <- fmt.Errorf("read: %w", err):
			case <-stop:
			}
			return
		}
		select {
		case s.frames <- msg:
		case <-stop:
			return
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeLoop(conn *websocket.Conn, outbox <-chan []byte, stop <-chan struct{}, errc chan<- error) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	ping, _ := json.Marshal(wire.Ping())
	for {
		select {
		case <-stop:
			return
		case <-s.done:
			return
		case b := <-outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				select {
				case errc <- fmt.Errorf("write: %w", err):
				case <-stop:
				}
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				select {
				case errc <- fmt.Errorf("ping: %w", err):
				case <-stop:
				}
				return
			}
		}
	}
}

func (s *Session) emit(st Status) {
	select {
	case s.status <- st:
	default:
		logger.Debugf("status %s dropped, consumer not keeping up", st.Kind)
	}
}
