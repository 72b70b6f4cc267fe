package call

import (
	"context"
	"encoding/json"
)

// Signaler is the only surface the engine needs from the relay session.
// transport.Session satisfies it; engine tests use an in-memory recorder.
type Signaler interface {
	Send(v any) error
}

// MediaProvider acquires local audio/video and builds the peer session for
// one call. internal/media implements it on pion/webrtc.
type MediaProvider interface {
	Open(ctx context.Context, cb Callbacks) (MediaSession, error)
}

// MediaSession is one live peer session. All methods are invoked from the
// goroutine that owns the Engine.
type MediaSession interface {
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetRemoteDescription(kind, sdp string) error
	AddRemoteCandidate(candidate json.RawMessage) error
	Close() error
}

// Callbacks carries provider-to-engine notifications. Implementations may
// invoke them from any goroutine; the engine re-enters its owning loop
// before touching state.
type Callbacks struct {
	OnLocalCandidate  func(candidate json.RawMessage)
	OnConnectionState func(state ConnState)
}

// ConnState is the provider's view of the peer link.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (c ConnState) String() string {
	switch c {
	case ConnNew:
		return "new"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}
