//go:build linux

package media

import (
	"strings"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/hvdkamer/relaydesk/internal/logger"
)

// newPeerConnection builds a peer connection with VP8+Opus codecs and
// attempts to capture local camera/mic via pion/mediadevices (V4L2 + malgo).
// Returns the connection and a cleanup func for local tracks (may be nil).
func newPeerConnection(cfg Config) (*webrtc.PeerConnection, func(), error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately terminate the call. The default disconnectedTimeout of
	// 5 s is far too short for paths with short outages during re-keying
	// or failover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(cfg.StunURLs)})
	if err != nil {
		return nil, nil, err
	}

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		logger.Warnf("media: no capture devices found")
	} else {
		for _, d := range devices {
			logger.Debugf("media: device kind=%v label=%q", d.Kind, d.Label)
		}
	}
	camID := deviceIDByLabel(devices, mediadevices.VideoInput, cfg.PreferredCam)
	micID := deviceIDByLabel(devices, mediadevices.AudioInput, cfg.PreferredMic)

	// GetUserMedia fails as a unit if either track can't be opened. Try
	// video+audio first, then each alone, so a missing or busy microphone
	// doesn't prevent the camera from working and vice versa.
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	}
	if cfg.VideoDisabled {
		attempts = []attempt{{false, true, "audio-only"}}
	}
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: codecSelector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG. Some cameras expose an MJPEG V4L2 node
				// that produces malformed JPEG frames, which poisons the
				// VP8 encoder and makes negotiation fail. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				// Cap at 640x480. Higher resolutions increase VP8 encoding
				// latency without helping a support call.
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
				if camID != "" {
					c.DeviceID = prop.String(camID)
				}
			}
		}
		if a.audio {
			constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
				if micID != "" {
					c.DeviceID = prop.String(micID)
				}
			}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			logger.Warnf("media: GetUserMedia (%s): %v", a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					logger.Debugf("media: local track ended: %v", err)
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				logger.Warnf("media: AddTrack: %v", err)
			}
		}

		logger.Infof("media: local capture ready (%s), %d tracks", a.label, len(tracks))
		cleanup := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return pc, cleanup, nil
	}

	// All attempts failed. Fall back to receive-only so the call can still
	// carry remote media without local camera/mic.
	logger.Warnf("media: all capture attempts failed, proceeding receive-only")
	addRecvOnlyTransceivers(pc)
	return pc, nil, nil
}

// deviceIDByLabel resolves the configured label substring to a device id.
// Empty wanted or no match means no constraint.
func deviceIDByLabel(devices []mediadevices.MediaDeviceInfo, kind mediadevices.MediaDeviceType, wanted string) string {
	if wanted == "" {
		return ""
	}
	for _, d := range devices {
		if d.Kind == kind && strings.Contains(strings.ToLower(d.Label), strings.ToLower(wanted)) {
			return d.DeviceID
		}
	}
	logger.Warnf("media: no %v device matching %q, using platform default", kind, wanted)
	return ""
}
