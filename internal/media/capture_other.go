//go:build !linux

package media

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/hvdkamer/relaydesk/internal/logger"
)

// newPeerConnection builds a receive-only peer connection on platforms
// without a pion/mediadevices capture backend. Camera/mic capture needs the
// platform drivers (V4L2/malgo) that only the Linux build carries.
func newPeerConnection(cfg Config) (*webrtc.PeerConnection, func(), error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(cfg.StunURLs)})
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyTransceivers(pc)
	logger.Infof("media: receive-only session, no local capture on this platform")
	return pc, nil, nil
}
