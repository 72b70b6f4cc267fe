package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/hvdkamer/relaydesk/internal/logger"
)

// How often a recovering video decoder gets to ask for a keyframe.
const pliInterval = 3 * time.Second

// Session is one live peer session. It satisfies call.MediaSession.
type Session struct {
	pc      *webrtc.PeerConnection
	cleanup func()

	done      chan struct{}
	closeOnce sync.Once

	audio trackStats
	video trackStats
}

type trackStats struct {
	packets atomic.Uint64
	bytes   atomic.Uint64
	lost    atomic.Uint64
}

func (st *trackStats) record(pkt *rtp.Packet, last *uint16, seen *bool) {
	if *seen {
		// Sequence numbers wrap at 2^16; treat huge gaps as reordering.
		if gap := pkt.SequenceNumber - *last - 1; gap > 0 && gap < 0x8000 {
			st.lost.Add(uint64(gap))
		}
	}
	*last = pkt.SequenceNumber
	*seen = true
	st.packets.Add(1)
	st.bytes.Add(uint64(pkt.MarshalSize()))
}

func newSession(pc *webrtc.PeerConnection, cleanup func()) *Session {
	return &Session{pc: pc, cleanup: cleanup, done: make(chan struct{})}
}

func (s *Session) CreateOffer() (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

func (s *Session) CreateAnswer() (string, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (s *Session) SetRemoteDescription(kind, sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.NewSDPType(kind), SDP: sdp}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", kind, err)
	}
	return nil
}

// AddRemoteCandidate applies a trickled candidate in the browser toJSON()
// shape. A null or empty candidate is the end-of-candidates marker.
func (s *Session) AddRemoteCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if init.Candidate == "" {
		return nil
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cleanup != nil {
			s.cleanup()
		}
		err = s.pc.Close()
		logger.Infof("media: session closed, received %d audio (%d lost) / %d video (%d lost) packets",
			s.audio.packets.Load(), s.audio.lost.Load(),
			s.video.packets.Load(), s.video.lost.Load())
	})
	return err
}

// consume drains one remote track for the life of the session. Video tracks
// additionally get a periodic PLI so the remote encoder resends keyframes
// after loss.
func (s *Session) consume(track *webrtc.TrackRemote) {
	logger.Infof("media: remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go s.keyframeLoop(track.SSRC())
	}
	go s.readLoop(track)
}

func (s *Session) readLoop(track *webrtc.TrackRemote) {
	st := &s.audio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		st = &s.video
	}
	var last uint16
	var seen bool
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debugf("media: %s track read: %v", track.Kind(), err)
			}
			return
		}
		st.record(pkt, &last, &seen)
	}
}

func (s *Session) keyframeLoop(ssrc webrtc.SSRC) {
	t := time.NewTicker(pliInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			pli := &rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)}
			if err := s.pc.WriteRTCP([]rtcp.Packet{pli}); err != nil {
				logger.Debugf("media: pli write: %v", err)
				return
			}
		}
	}
}
