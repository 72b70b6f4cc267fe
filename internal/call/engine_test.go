package call

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hvdkamer/relaydesk/internal/wire"
)

type sentRecorder struct {
	frames []any
}

func (r *sentRecorder) Send(v any) error {
	r.frames = append(r.frames, v)
	return nil
}

func (r *sentRecorder) types() []string {
	var out []string
	for _, f := range r.frames {
		b, err := json.Marshal(f)
		if err != nil {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &probe); err != nil {
			continue
		}
		out = append(out, probe.Type)
	}
	return out
}

func (r *sentRecorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type fakeSession struct {
	offers     int
	answers    int
	remoteKind string
	remoteSDP  string
	candidates []string
	closed     int
	descErr    error
}

func (s *fakeSession) CreateOffer() (string, error)  { s.offers++; return "offer-sdp", nil }
func (s *fakeSession) CreateAnswer() (string, error) { s.answers++; return "answer-sdp", nil }

func (s *fakeSession) SetRemoteDescription(kind, sdp string) error {
	if s.descErr != nil {
		return s.descErr
	}
	s.remoteKind, s.remoteSDP = kind, sdp
	return nil
}

func (s *fakeSession) AddRemoteCandidate(raw json.RawMessage) error {
	s.candidates = append(s.candidates, string(raw))
	return nil
}

func (s *fakeSession) Close() error { s.closed++; return nil }

type fakeProvider struct {
	sess  *fakeSession
	err   error
	opens int
	cb    Callbacks
}

func (p *fakeProvider) Open(_ context.Context, cb Callbacks) (MediaSession, error) {
	p.opens++
	p.cb = cb
	if p.err != nil {
		return nil, p.err
	}
	return p.sess, nil
}

func newTestEngine() (*Engine, *sentRecorder, *fakeProvider) {
	rec := &sentRecorder{}
	prov := &fakeProvider{sess: &fakeSession{}}
	e := NewEngine(Options{Signaler: rec, Provider: prov})
	e.launch = func(fn func()) { fn() }
	return e, rec, prov
}

func cand(s string) json.RawMessage { return json.RawMessage(`"` + s + `"`) }

func TestCallerFlow(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Start()
	if e.View().State != Ringing || !e.View().Initiator {
		t.Fatalf("expected ringing initiator after start, got %+v", e.View())
	}
	if rec.count(wire.TypeCallStart) != 1 {
		t.Fatalf("expected one call.start, got %v", rec.types())
	}

	e.Ringing(&wire.CallRinging{CallID: "c1", ChatID: "r1"})
	if v := e.View(); v.State != Ringing || v.CallID != "c1" || v.ChatID != "r1" {
		t.Fatalf("expected id recorded while still ringing, got %+v", v)
	}

	e.Accepted(&wire.CallAccepted{CallID: "c1"})
	if e.View().State != Connecting {
		t.Fatalf("expected connecting after accepted, got %s", e.View().State)
	}
	if prov.opens != 1 || prov.sess.offers != 1 {
		t.Fatalf("expected one media open and one offer, got %d/%d", prov.opens, prov.sess.offers)
	}
	if rec.count(wire.TypeCallOffer) != 1 {
		t.Fatalf("expected call.offer sent, got %v", rec.types())
	}

	e.Answer(&wire.CallAnswer{CallID: "c1", SDP: "remote-answer"})
	if prov.sess.remoteKind != "answer" || prov.sess.remoteSDP != "remote-answer" {
		t.Fatalf("expected remote answer applied, got %q/%q", prov.sess.remoteKind, prov.sess.remoteSDP)
	}

	e.ICE(&wire.CallICE{CallID: "c1", Candidate: cand("late")})
	if len(prov.sess.candidates) != 1 || prov.sess.candidates[0] != `"late"` {
		t.Fatalf("expected candidate applied immediately, got %v", prov.sess.candidates)
	}

	prov.cb.OnConnectionState(ConnConnected)
	if e.View().State != Connected {
		t.Fatalf("expected connected, got %s", e.View().State)
	}

	e.End()
	if e.View().State != Idle || e.View().CallID != "" {
		t.Fatalf("expected idle after end, got %+v", e.View())
	}
	if rec.count(wire.TypeCallEnd) != 1 || prov.sess.closed != 1 {
		t.Fatalf("expected one call.end and one media close, got %v closes=%d", rec.types(), prov.sess.closed)
	}
}

func TestCalleeFlowDrainsBufferedCandidatesInOrder(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Incoming(&wire.CallIncoming{CallID: "c1", ChatID: "r1", FromRole: "user"})
	if v := e.View(); v.State != Ringing || v.Initiator || !v.Incoming {
		t.Fatalf("expected ringing callee with affordance, got %+v", v)
	}

	e.ICE(&wire.CallICE{CallID: "c1", Candidate: cand("b1")})

	e.Accept()
	if e.View().State != Connecting || e.View().Incoming {
		t.Fatalf("expected connecting with affordance cleared, got %+v", e.View())
	}
	if rec.count(wire.TypeCallAccept) != 1 {
		t.Fatalf("expected call.accept sent, got %v", rec.types())
	}

	e.ICE(&wire.CallICE{CallID: "c1", Candidate: cand("b2")})

	e.Offer(&wire.CallOffer{CallID: "c1", SDP: "remote-offer"})
	if prov.opens != 1 {
		t.Fatalf("expected one media open, got %d", prov.opens)
	}
	if prov.sess.remoteKind != "offer" || prov.sess.remoteSDP != "remote-offer" {
		t.Fatalf("expected remote offer applied, got %q/%q", prov.sess.remoteKind, prov.sess.remoteSDP)
	}
	if prov.sess.answers != 1 || rec.count(wire.TypeCallAnswer) != 1 {
		t.Fatalf("expected one answer sent, got answers=%d frames=%v", prov.sess.answers, rec.types())
	}

	e.ICE(&wire.CallICE{CallID: "c1", Candidate: cand("a1")})

	want := []string{`"b1"`, `"b2"`, `"a1"`}
	if len(prov.sess.candidates) != len(want) {
		t.Fatalf("expected %d candidates, got %v", len(want), prov.sess.candidates)
	}
	for i, w := range want {
		if prov.sess.candidates[i] != w {
			t.Fatalf("expected candidate %d to be %s, got %s", i, w, prov.sess.candidates[i])
		}
	}
}

func TestEndCallTwice(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Accepted(&wire.CallAccepted{CallID: "c1"})

	e.End()
	e.End()

	if rec.count(wire.TypeCallEnd) != 1 {
		t.Fatalf("expected exactly one call.end, got %v", rec.types())
	}
	if prov.sess.closed != 1 {
		t.Fatalf("expected exactly one media close, got %d", prov.sess.closed)
	}
}

func TestTargetOfflineTearsDownWithoutEnd(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Start()
	e.Failed(&wire.CallError{Code: wire.ErrTargetOffline})

	if e.View().State != Idle {
		t.Fatalf("expected idle after call error, got %s", e.View().State)
	}
	if rec.count(wire.TypeCallEnd) != 0 {
		t.Fatalf("expected no call.end, got %v", rec.types())
	}
	if prov.opens != 0 {
		t.Fatalf("expected no media open, got %d", prov.opens)
	}
}

func TestRejectedByPeerTearsDownWithoutEnd(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Rejected(&wire.CallRejected{CallID: "c1"})

	if e.View().State != Idle || e.View().CallID != "" {
		t.Fatalf("expected idle after reject, got %+v", e.View())
	}
	if rec.count(wire.TypeCallEnd) != 0 {
		t.Fatalf("expected no call.end, got %v", rec.types())
	}
	if prov.opens != 0 {
		t.Fatalf("expected no media acquired, got %d opens", prov.opens)
	}
}

func TestCalleeReject(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Incoming(&wire.CallIncoming{CallID: "c1", ChatID: "r1"})
	e.Reject()

	if e.View().State != Idle || e.View().CallID != "" {
		t.Fatalf("expected idle after reject, got %+v", e.View())
	}
	if rec.count(wire.TypeCallReject) != 1 || rec.count(wire.TypeCallEnd) != 0 {
		t.Fatalf("expected one call.reject and no call.end, got %v", rec.types())
	}
	if prov.opens != 0 {
		t.Fatalf("expected no media acquired, got %d opens", prov.opens)
	}
}

func TestSecondCallIgnoredWhileActive(t *testing.T) {
	e, _, _ := newTestEngine()

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})

	e.Incoming(&wire.CallIncoming{CallID: "c2", ChatID: "r2"})
	if v := e.View(); v.CallID != "c1" || !v.Initiator {
		t.Fatalf("expected first call kept, got %+v", v)
	}

	e.Ringing(&wire.CallRinging{CallID: "c3"})
	if e.View().CallID != "c1" {
		t.Fatalf("expected ringing for another id ignored, got %q", e.View().CallID)
	}
}

func TestAcceptIgnoredForCaller(t *testing.T) {
	e, rec, _ := newTestEngine()

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Accept()

	if rec.count(wire.TypeCallAccept) != 0 {
		t.Fatalf("expected no call.accept from the caller, got %v", rec.types())
	}
	if e.View().State != Ringing {
		t.Fatalf("expected state unchanged, got %s", e.View().State)
	}
}

func TestStaleMediaCompletionDiscarded(t *testing.T) {
	e, rec, prov := newTestEngine()

	var held []func()
	e.launch = func(fn func()) { held = append(held, fn) }

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Accepted(&wire.CallAccepted{CallID: "c1"})
	if len(held) != 1 {
		t.Fatalf("expected one launched acquisition, got %d", len(held))
	}

	e.End()

	held[0]()
	if prov.sess.closed != 1 {
		t.Fatalf("expected the stale session closed, got %d", prov.sess.closed)
	}
	if rec.count(wire.TypeCallOffer) != 0 {
		t.Fatalf("expected no offer after teardown, got %v", rec.types())
	}
}

func TestMediaOpenFailureEndsCall(t *testing.T) {
	e, rec, prov := newTestEngine()
	prov.err = errors.New("no devices")

	e.Incoming(&wire.CallIncoming{CallID: "c1"})
	e.Accept()
	e.Offer(&wire.CallOffer{CallID: "c1", SDP: "remote-offer"})

	if e.View().State != Idle {
		t.Fatalf("expected idle after media failure, got %s", e.View().State)
	}
	if rec.count(wire.TypeCallEnd) != 1 {
		t.Fatalf("expected call.end after local failure, got %v", rec.types())
	}
}

func TestMediaDisconnectTearsDown(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Accepted(&wire.CallAccepted{CallID: "c1"})
	e.Answer(&wire.CallAnswer{CallID: "c1", SDP: "remote-answer"})
	prov.cb.OnConnectionState(ConnConnected)
	if e.View().State != Connected {
		t.Fatalf("expected connected, got %s", e.View().State)
	}

	prov.cb.OnConnectionState(ConnDisconnected)
	if e.View().State != Idle {
		t.Fatalf("expected idle after media loss, got %s", e.View().State)
	}
	if rec.count(wire.TypeCallEnd) != 1 || prov.sess.closed != 1 {
		t.Fatalf("expected one call.end and one close, got %v closes=%d", rec.types(), prov.sess.closed)
	}

	prov.cb.OnConnectionState(ConnDisconnected)
	if e.View().State != Idle {
		t.Fatalf("expected stale notification ignored, got %s", e.View().State)
	}
}

func TestLocalCandidateForwarded(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Accepted(&wire.CallAccepted{CallID: "c1"})

	prov.cb.OnLocalCandidate(cand("local"))
	if rec.count(wire.TypeCallICE) != 1 {
		t.Fatalf("expected one call.ice out, got %v", rec.types())
	}

	e.End()
	prov.cb.OnLocalCandidate(cand("stale"))
	if rec.count(wire.TypeCallICE) != 1 {
		t.Fatalf("expected stale candidate dropped, got %v", rec.types())
	}
}

func TestDuplicateOfferIgnoredWhileOpening(t *testing.T) {
	e, _, prov := newTestEngine()

	var held []func()
	e.launch = func(fn func()) { held = append(held, fn) }

	e.Incoming(&wire.CallIncoming{CallID: "c1"})
	e.Accept()
	e.Offer(&wire.CallOffer{CallID: "c1", SDP: "one"})
	e.Offer(&wire.CallOffer{CallID: "c1", SDP: "two"})

	if len(held) != 1 {
		t.Fatalf("expected a single acquisition, got %d", len(held))
	}
	held[0]()
	if prov.opens != 1 || prov.sess.remoteSDP != "one" {
		t.Fatalf("expected first offer to win, got opens=%d sdp=%q", prov.opens, prov.sess.remoteSDP)
	}
}

func TestRemoteOfferRejectedEndsCall(t *testing.T) {
	e, rec, prov := newTestEngine()
	prov.sess.descErr = errors.New("bad sdp")

	e.Incoming(&wire.CallIncoming{CallID: "c1"})
	e.Accept()
	e.Offer(&wire.CallOffer{CallID: "c1", SDP: "garbage"})

	if e.View().State != Idle {
		t.Fatalf("expected idle after bad offer, got %s", e.View().State)
	}
	if rec.count(wire.TypeCallEnd) != 1 || prov.sess.closed != 1 {
		t.Fatalf("expected hangup after bad offer, got %v closes=%d", rec.types(), prov.sess.closed)
	}
}

func TestCloseDisposesTrackedCall(t *testing.T) {
	e, rec, prov := newTestEngine()

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Accepted(&wire.CallAccepted{CallID: "c1"})

	e.Close()
	if e.View().State != Idle {
		t.Fatalf("expected idle after close, got %s", e.View().State)
	}
	if rec.count(wire.TypeCallEnd) != 1 || prov.sess.closed != 1 {
		t.Fatalf("expected hangup on close, got %v closes=%d", rec.types(), prov.sess.closed)
	}
}

func TestAcceptedWithoutProviderEndsCall(t *testing.T) {
	rec := &sentRecorder{}
	e := NewEngine(Options{Signaler: rec})
	e.launch = func(fn func()) { fn() }

	e.Start()
	e.Ringing(&wire.CallRinging{CallID: "c1"})
	e.Accepted(&wire.CallAccepted{CallID: "c1"})

	if got := e.View().State; got != Idle {
		t.Fatalf("expected idle after accept without media, got %s", got)
	}
	if rec.count(wire.TypeCallEnd) != 1 {
		t.Fatalf("expected one call.end, got %d", rec.count(wire.TypeCallEnd))
	}
}
