package call

import (
	"context"
	"encoding/json"

	"github.com/hvdkamer/relaydesk/internal/logger"
	"github.com/hvdkamer/relaydesk/internal/wire"
)

// State is the lifecycle position of the tracked call. The engine tracks at
// most one call at a time; a second call id is ignored until teardown.
type State int

const (
	Idle State = iota
	Ringing
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ringing:
		return "ringing"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

type event int

const (
	evStart event = iota
	evIncoming
	evRinging
	evAccept
	evReject
	evAccepted
	evOffer
	evAnswer
	evMediaUp
	evEnd
)

func (e event) String() string {
	switch e {
	case evStart:
		return "start"
	case evIncoming:
		return "incoming"
	case evRinging:
		return "ringing"
	case evAccept:
		return "accept"
	case evReject:
		return "reject"
	case evAccepted:
		return "accepted"
	case evOffer:
		return "offer"
	case evAnswer:
		return "answer"
	case evMediaUp:
		return "media up"
	case evEnd:
		return "end"
	default:
		return "unknown"
	}
}

// transitions is the complete legality table. An absent entry means the
// event is ignored in that state.
var transitions = map[State]map[event]State{
	Idle: {
		evStart:    Ringing,
		evIncoming: Ringing,
	},
	Ringing: {
		evRinging:  Ringing,
		evAccept:   Connecting,
		evAccepted: Connecting,
		evReject:   Idle,
		evEnd:      Idle,
	},
	Connecting: {
		evOffer:   Connecting,
		evAnswer:  Connecting,
		evMediaUp: Connected,
		evEnd:     Idle,
	},
	Connected: {
		evEnd: Idle,
	},
}

// View is a copy of the externally visible call state.
type View struct {
	State     State
	CallID    string
	ChatID    string
	FromRole  string
	Initiator bool
	// Incoming flags a ringing call that is still waiting on a local
	// accept or reject.
	Incoming bool
}

// Options configures an Engine.
type Options struct {
	Signaler Signaler
	Provider MediaProvider

	// Context bounds asynchronous media acquisition. Defaults to
	// context.Background().
	Context context.Context

	// Post schedules a closure back onto the goroutine that owns the
	// engine. Media acquisition runs on its own goroutine and re-enters
	// through Post. Defaults to direct invocation.
	Post func(func())

	// OnChange is invoked on the owning goroutine after every visible
	// state change. Optional.
	OnChange func(View)
}

// Engine drives call signaling for at most one call. It is not safe for
// concurrent use: every method must run on the goroutine that owns it, and
// asynchronous media results re-enter through Post.
type Engine struct {
	sig      Signaler
	provider MediaProvider
	ctx      context.Context
	post     func(func())
	onChange func(View)
	launch   func(func())

	state     State
	callID    string
	chatID    string
	fromRole  string
	initiator bool
	incoming  bool

	sess      MediaSession
	opening   bool
	remoteSet bool
	pending   []json.RawMessage
	ending    bool
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		sig:      opts.Signaler,
		provider: opts.Provider,
		ctx:      opts.Context,
		post:     opts.Post,
		onChange: opts.OnChange,
		launch:   func(fn func()) { go fn() },
	}
	if e.ctx == nil {
		e.ctx = context.Background()
	}
	if e.post == nil {
		e.post = func(fn func()) { fn() }
	}
	if e.onChange == nil {
		e.onChange = func(View) {}
	}
	return e
}

func (e *Engine) View() View {
	return View{
		State:     e.state,
		CallID:    e.callID,
		ChatID:    e.chatID,
		FromRole:  e.fromRole,
		Initiator: e.initiator,
		Incoming:  e.incoming,
	}
}

func (e *Engine) apply(ev event) bool {
	next, ok := transitions[e.state][ev]
	if !ok {
		logger.Debugf("call: %s ignored in state %s", ev, e.state)
		return false
	}
	if next != e.state {
		logger.Debugf("call: %s -> %s on %s", e.state, next, ev)
	}
	e.state = next
	return true
}

func (e *Engine) send(v any) {
	if err := e.sig.Send(v); err != nil {
		logger.Debugf("call: signal not sent: %v", err)
	}
}

func (e *Engine) changed() { e.onChange(e.View()) }

// Start places a call toward the connection's assigned counterpart. The
// relay assigns the call id and echoes it back in call.ringing.
func (e *Engine) Start() {
	if !e.apply(evStart) {
		return
	}
	e.initiator = true
	e.send(wire.CallStart())
	logger.Infof("call: started, waiting for ring")
	e.changed()
}

// Accept answers the ringing incoming call.
func (e *Engine) Accept() {
	if e.initiator || e.callID == "" {
		logger.Debugf("call: accept ignored, no incoming call")
		return
	}
	if !e.apply(evAccept) {
		return
	}
	e.incoming = false
	e.send(wire.CallAccept(e.callID))
	logger.Infof("call %s: accepted", e.callID)
	e.changed()
}

// Reject declines the ringing incoming call. No media was acquired yet, so
// teardown is just state cleanup.
func (e *Engine) Reject() {
	if e.initiator || e.callID == "" {
		logger.Debugf("call: reject ignored, no incoming call")
		return
	}
	if !e.apply(evReject) {
		return
	}
	id := e.callID
	e.send(wire.CallReject(id))
	e.reset()
	logger.Infof("call %s: rejected", id)
	e.changed()
}

// End hangs up the tracked call. Safe to call repeatedly.
func (e *Engine) End() { e.teardown(true) }

// Close disposes the engine, hanging up a still-tracked call first.
func (e *Engine) Close() { e.teardown(true) }

// Incoming handles a call.incoming signal. While a call is active, a second
// call id is ignored: there is no call waiting.
func (e *Engine) Incoming(ev *wire.CallIncoming) {
	if e.state != Idle {
		if ev.CallID != e.callID {
			logger.Debugf("call: incoming %s ignored, %s active", ev.CallID, e.callID)
		}
		return
	}
	e.apply(evIncoming)
	e.callID = ev.CallID
	e.chatID = ev.ChatID
	e.fromRole = ev.FromRole
	e.initiator = false
	e.incoming = true
	logger.Infof("call %s: incoming from %s", ev.CallID, ev.FromRole)
	e.changed()
}

// Ringing records the relay-assigned call id on the caller side. Duplicate
// echoes and ids for other calls are ignored.
func (e *Engine) Ringing(ev *wire.CallRinging) {
	if !e.initiator || e.state != Ringing {
		logger.Debugf("call: ringing ignored in state %s", e.state)
		return
	}
	if e.callID != "" {
		if ev.CallID != e.callID {
			logger.Debugf("call: ringing for %s ignored, tracking %s", ev.CallID, e.callID)
		}
		return
	}
	e.apply(evRinging)
	e.callID = ev.CallID
	e.chatID = ev.ChatID
	logger.Infof("call %s: ringing", ev.CallID)
	e.changed()
}

// Accepted moves the caller into negotiation: acquire media, then create
// and send the offer.
func (e *Engine) Accepted(ev *wire.CallAccepted) {
	if !e.initiator || e.callID == "" || ev.CallID != e.callID {
		logger.Debugf("call: accepted for %s ignored", ev.CallID)
		return
	}
	if !e.apply(evAccepted) {
		return
	}
	e.changed()
	id := e.callID
	e.openMedia(id, func(s MediaSession) {
		e.sess = s
		offer, err := s.CreateOffer()
		if err != nil {
			logger.Errorf("call %s: create offer: %v", id, err)
			e.teardown(true)
			return
		}
		e.send(wire.SendOffer(id, offer))
	})
}

// AcceptedAck confirms the callee's accept reached the relay.
func (e *Engine) AcceptedAck(ev *wire.CallAcceptedAck) {
	logger.Debugf("call %s: accept acknowledged", ev.CallID)
}

// RejectedAck confirms the callee's reject reached the relay.
func (e *Engine) RejectedAck(ev *wire.CallRejectedAck) {
	logger.Debugf("call %s: reject acknowledged", ev.CallID)
}

// Offer handles the caller's session description on the callee side:
// acquire media, attach local tracks, set the remote offer, drain any
// buffered candidates, then answer.
func (e *Engine) Offer(ev *wire.CallOffer) {
	if e.initiator || e.callID == "" || ev.CallID != e.callID || e.sess != nil || e.opening {
		logger.Debugf("call: offer for %s ignored", ev.CallID)
		return
	}
	if !e.apply(evOffer) {
		return
	}
	id, sdp := e.callID, ev.SDP
	e.openMedia(id, func(s MediaSession) {
		e.sess = s
		if err := s.SetRemoteDescription("offer", sdp); err != nil {
			logger.Errorf("call %s: set offer: %v", id, err)
			e.teardown(true)
			return
		}
		e.remoteSet = true
		e.drainPending()
		answer, err := s.CreateAnswer()
		if err != nil {
			logger.Errorf("call %s: create answer: %v", id, err)
			e.teardown(true)
			return
		}
		e.send(wire.SendAnswer(id, answer))
	})
}

// Answer applies the callee's session description on the caller side.
func (e *Engine) Answer(ev *wire.CallAnswer) {
	if !e.initiator || e.callID == "" || ev.CallID != e.callID || e.sess == nil || e.remoteSet {
		logger.Debugf("call: answer for %s ignored", ev.CallID)
		return
	}
	if !e.apply(evAnswer) {
		return
	}
	if err := e.sess.SetRemoteDescription("answer", ev.SDP); err != nil {
		logger.Errorf("call %s: set answer: %v", e.callID, err)
		e.teardown(true)
		return
	}
	e.remoteSet = true
	e.drainPending()
}

// ICE applies a remote candidate, or buffers it until a remote description
// is set. Buffered candidates are drained in arrival order and never
// dropped for arriving early.
func (e *Engine) ICE(ev *wire.CallICE) {
	if e.state == Idle || ev.CallID != e.callID {
		logger.Debugf("call: candidate for %s ignored", ev.CallID)
		return
	}
	if e.sess != nil && e.remoteSet {
		e.addCandidate(ev.Candidate)
		return
	}
	e.pending = append(e.pending, ev.Candidate)
}

// Ended handles the peer hanging up. The relay already dropped the call, so
// no call.end goes out.
func (e *Engine) Ended(ev *wire.CallEnded) {
	if e.callID == "" || ev.CallID != e.callID {
		logger.Debugf("call: ended for %s ignored", ev.CallID)
		return
	}
	logger.Infof("call %s: ended by peer", e.callID)
	e.teardown(false)
}

// Rejected handles the callee declining on the caller side.
func (e *Engine) Rejected(ev *wire.CallRejected) {
	if !e.initiator || e.callID == "" || ev.CallID != e.callID {
		logger.Debugf("call: rejected for %s ignored", ev.CallID)
		return
	}
	logger.Infof("call %s: rejected by peer", e.callID)
	e.teardown(false)
}

// Failed handles a relay-side call error (target_offline, call_not_found,
// forbidden and friends). The relay dropped the call on its end already, so
// teardown sends no call.end.
func (e *Engine) Failed(ev *wire.CallError) {
	if e.state == Idle {
		logger.Debugf("call: error %q ignored, no active call", ev.Code)
		return
	}
	logger.Warnf("call failed: %s", ev.Code)
	e.teardown(false)
}

// teardown runs the end sequence exactly once per call: optional outbound
// call.end, media close, buffered candidate discard, identity reset.
// sendEnd is false when the trigger was an inbound ended/rejected/error,
// where the relay already considers the call over.
func (e *Engine) teardown(sendEnd bool) {
	if e.ending {
		return
	}
	if e.state == Idle && e.callID == "" {
		logger.Debugf("call: teardown ignored, no active call")
		return
	}
	e.ending = true
	if sendEnd && e.callID != "" {
		e.send(wire.CallEnd(e.callID))
	}
	if e.sess != nil {
		if err := e.sess.Close(); err != nil {
			logger.Warnf("call %s: media close: %v", e.callID, err)
		}
		e.sess = nil
	}
	if e.callID != "" {
		logger.Infof("call %s: ended", e.callID)
	}
	if e.state != Idle {
		e.apply(evEnd)
	}
	e.reset()
	e.ending = false
	e.changed()
}

func (e *Engine) reset() {
	e.callID = ""
	e.chatID = ""
	e.fromRole = ""
	e.initiator = false
	e.incoming = false
	e.opening = false
	e.remoteSet = false
	e.pending = nil
}

// openMedia launches asynchronous media acquisition and re-enters the
// owning loop with the result. A teardown or a different call may win the
// race in the meantime; the completion is then discarded and the fresh
// session closed.
func (e *Engine) openMedia(id string, then func(MediaSession)) {
	if e.provider == nil {
		logger.Errorf("call %s: no media provider configured", id)
		e.teardown(true)
		return
	}
	e.opening = true
	cb := Callbacks{
		OnLocalCandidate: func(raw json.RawMessage) {
			e.post(func() { e.localCandidate(id, raw) })
		},
		OnConnectionState: func(st ConnState) {
			e.post(func() { e.connectionState(id, st) })
		},
	}
	e.launch(func() {
		s, err := e.provider.Open(e.ctx, cb)
		e.post(func() { e.opened(id, s, err, then) })
	})
}

func (e *Engine) opened(id string, s MediaSession, err error, then func(MediaSession)) {
	if e.callID == id {
		e.opening = false
	}
	if e.callID != id || e.state != Connecting {
		if s != nil {
			s.Close()
		}
		logger.Debugf("call: media for %s discarded in state %s", id, e.state)
		return
	}
	if err != nil {
		logger.Errorf("call %s: media open: %v", id, err)
		e.teardown(true)
		return
	}
	then(s)
}

func (e *Engine) localCandidate(id string, raw json.RawMessage) {
	if e.callID != id || e.state == Idle {
		return
	}
	e.send(wire.SendCandidate(id, raw))
}

func (e *Engine) connectionState(id string, st ConnState) {
	if e.callID != id {
		logger.Debugf("call: %s notification for %s ignored", st, id)
		return
	}
	switch st {
	case ConnConnected:
		if e.apply(evMediaUp) {
			logger.Infof("call %s: media connected", id)
			e.changed()
		}
	case ConnDisconnected, ConnFailed:
		if e.state == Connecting || e.state == Connected {
			logger.Warnf("call %s: media %s", id, st)
			e.teardown(true)
		}
	case ConnClosed:
		// Follows our own teardown; nothing left to do.
	}
}

func (e *Engine) addCandidate(raw json.RawMessage) {
	if err := e.sess.AddRemoteCandidate(raw); err != nil {
		logger.Warnf("call %s: add candidate: %v", e.callID, err)
	}
}

func (e *Engine) drainPending() {
	for _, raw := range e.pending {
		e.addCandidate(raw)
	}
	e.pending = nil
}
