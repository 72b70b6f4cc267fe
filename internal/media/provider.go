// Package media implements call.MediaProvider on pion/webrtc. The Linux
// build captures local camera and microphone through pion/mediadevices;
// other platforms negotiate receive-only sessions.
package media

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/hvdkamer/relaydesk/internal/call"
	"github.com/hvdkamer/relaydesk/internal/logger"
)

// Config selects ICE servers and capture devices for new sessions.
type Config struct {
	StunURLs      []string
	PreferredCam  string
	PreferredMic  string
	VideoDisabled bool
}

type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider { return &Provider{cfg: cfg} }

// Open acquires local media and builds a peer session for one call. The
// callbacks fire from pion goroutines; the caller re-enters its own loop.
func (p *Provider) Open(ctx context.Context, cb call.Callbacks) (call.MediaSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pc, cleanup, err := newPeerConnection(p.cfg)
	if err != nil {
		return nil, err
	}
	s := newSession(pc, cleanup)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnLocalCandidate == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			logger.Warnf("media: candidate encode: %v", err)
			return
		}
		cb.OnLocalCandidate(raw)
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		logger.Debugf("media: peer connection %s", st)
		if cb.OnConnectionState != nil {
			cb.OnConnectionState(mapConnState(st))
		}
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.consume(track)
	})
	return s, nil
}

func mapConnState(st webrtc.PeerConnectionState) call.ConnState {
	switch st {
	case webrtc.PeerConnectionStateNew:
		return call.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return call.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return call.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return call.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return call.ConnFailed
	default:
		return call.ConnClosed
	}
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produces valid m-lines with ICE credentials.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Warnf("media: AddTransceiver(video): %v", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		logger.Warnf("media: AddTransceiver(audio): %v", err)
	}
}
