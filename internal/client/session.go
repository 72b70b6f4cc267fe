// Package client owns the live relay session: one goroutine consumes
// inbound frames, link status changes, queued intents and media
// completions, and drives the role resolver, the call engine and the
// conversation log. Observers watch through Subscribe; intents are methods
// that post onto the loop and never touch state directly.
package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hvdkamer/relaydesk/internal/call"
	"github.com/hvdkamer/relaydesk/internal/chat"
	"github.com/hvdkamer/relaydesk/internal/history"
	"github.com/hvdkamer/relaydesk/internal/logger"
	"github.com/hvdkamer/relaydesk/internal/roles"
	"github.com/hvdkamer/relaydesk/internal/transport"
	"github.com/hvdkamer/relaydesk/internal/wire"
)

// ErrRelayLost reports that the transport gave up reconnecting.
var ErrRelayLost = errors.New("relay link lost")

const historyTimeout = 15 * time.Second

// Link is the transport surface the session consumes. transport.Session is
// the production implementation; tests swap in a scripted fake.
type Link interface {
	Start()
	Frames() <-chan []byte
	Status() <-chan transport.Status
	Send(v any) error
	Close()
}

// EventKind classifies a session notification.
type EventKind int

const (
	// EventStatus reports a transport state change.
	EventStatus EventKind = iota
	// EventRoles reports resolver progress: join, selection, listing, search.
	EventRoles
	// EventItems reports a conversation log change.
	EventItems
	// EventCall reports a call state change.
	EventCall
	// EventError carries a relay domain error code, surfaced verbatim.
	EventError
	// EventNotice carries a human-readable progress note.
	EventNotice
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventRoles:
		return "roles"
	case EventItems:
		return "items"
	case EventCall:
		return "call"
	case EventError:
		return "error"
	case EventNotice:
		return "notice"
	default:
		return "unknown"
	}
}

// Event is one session notification. Only the field matching Kind is set.
type Event struct {
	Kind   EventKind
	Status transport.Status
	Call   call.View
	Code   string
	Notice string
}

// Options configures a Session.
type Options struct {
	RelayURL     string
	Token        string
	PingInterval time.Duration

	// Link overrides the transport. Built from RelayURL when nil.
	Link Link

	// History enables the REST collaborator: history fetch and uploads.
	History *history.Client

	// Media provides peer sessions for calls. Nil disables call media;
	// signaling still works, negotiation fails cleanly.
	Media call.MediaProvider

	// AutoSelectRecent makes staff roles bind the most recently active
	// conversation as soon as the roster resolves.
	AutoSelectRecent bool

	// MaxItems caps the conversation log.
	MaxItems int

	// HistoryLimit caps how many fetched history entries enter the log;
	// the most recent win. Zero means keep the full server window.
	HistoryLimit int
}

// Session is the live relay session. Construct with New, drive with Run,
// observe with Subscribe. All exported methods are safe for concurrent use.
type Session struct {
	opts Options

	link Link
	res  *roles.Resolver
	eng  *call.Engine

	items *chat.Log

	ctx     context.Context
	intents chan func()
	done    chan struct{}

	// rejoin remembers the conversation bound before a reconnect so the
	// confirming selected can tell a rebind from a genuine switch.
	rejoin string

	mu       sync.Mutex
	status   transport.Status
	callView call.View

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}
}

func New(opts Options) *Session {
	return &Session{
		opts:      opts,
		res:       roles.NewResolver(),
		items:     chat.NewLog(opts.MaxItems),
		intents:   make(chan func(), 64),
		done:      make(chan struct{}),
		listeners: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives session events. Slow consumers
// lose events rather than stalling the loop.
func (s *Session) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 64)

	s.listenerMu.Lock()
	s.listeners[ch] = struct{}{}
	s.listenerMu.Unlock()

	cancel = func() {
		s.listenerMu.Lock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
		s.listenerMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) emit(ev Event) {
	s.listenerMu.RLock()
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	s.listenerMu.RUnlock()
}

// Resolver exposes the role/selection state for display. Read-only use.
func (s *Session) Resolver() *roles.Resolver { return s.res }

// Items snapshots the conversation log.
func (s *Session) Items() []chat.Item { return s.items.Snapshot() }

// CallView is the current call state.
func (s *Session) CallView() call.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callView
}

// LinkStatus is the last observed transport status.
func (s *Session) LinkStatus() transport.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run drives the session until ctx is cancelled or the transport gives up.
// Call once.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	link := s.opts.Link
	if link == nil {
		link = transport.New(transport.Options{
			URL:          s.opts.RelayURL,
			Token:        s.opts.Token,
			PingInterval: s.opts.PingInterval,
		})
	}
	s.link = link
	s.eng = call.NewEngine(call.Options{
		Signaler: link,
		Provider: s.opts.Media,
		Context:  ctx,
		Post:     s.post,
		OnChange: s.callChanged,
	})

	link.Start()
	defer s.shutdown()

	frames, status := link.Frames(), link.Status()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.intents:
			fn()
		case st := <-status:
			if terminal := s.handleStatus(st); terminal {
				return ErrRelayLost
			}
		case raw := <-frames:
			s.handleFrame(raw)
		}
	}
}

func (s *Session) shutdown() {
	close(s.done)
	s.eng.Close()
	s.link.Close()

	s.listenerMu.Lock()
	for ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
	s.listenerMu.Unlock()
}

// post schedules fn onto the session loop. Safe from any goroutine; after
// shutdown the closure is dropped.
func (s *Session) post(fn func()) {
	select {
	case s.intents <- fn:
	case <-s.done:
	}
}

func (s *Session) callChanged(v call.View) {
	s.mu.Lock()
	s.callView = v
	s.mu.Unlock()
	s.emit(Event{Kind: EventCall, Call: v})
}

func (s *Session) handleStatus(st transport.Status) bool {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
	s.emit(Event{Kind: EventStatus, Status: st})

	switch st.Kind {
	case transport.StatusOpen:
		logger.Infof("client: link open, waiting for join")
	case transport.StatusClosed:
		// The relay drops server-side call state with the connection;
		// mirror that locally. The outbound call.end is a no-op on a
		// closed link.
		if s.eng.View().State != call.Idle {
			logger.Warnf("client: link lost mid-call, ending locally")
			s.eng.End()
		}
	case transport.StatusDisconnected:
		logger.Errorf("client: relay link lost for good: %v", st.Err)
		if s.eng.View().State != call.Idle {
			s.eng.End()
		}
		return true
	}
	return false
}

func (s *Session) handleFrame(raw []byte) {
	ev, err := wire.Decode(raw)
	if err != nil {
		logger.Debugf("client: frame dropped: %v", err)
		return
	}

	switch ev := ev.(type) {
	case *wire.Pong:
		// Keepalive ack; the read deadline was already refreshed.
	case *wire.Joined:
		s.handleJoined(ev)
	case *wire.Selected:
		s.handleSelected(ev)
	case *wire.AdminSelected:
		if s.res.AdminSelected(ev) {
			s.emit(Event{Kind: EventRoles})
		}
	case *wire.MasterSelected:
		if s.res.MasterSelected(ev) {
			s.emit(Event{Kind: EventRoles})
		}
	case *wire.ChatroomsList:
		s.res.ListingUpdate(ev)
		s.emit(Event{Kind: EventRoles})
	case *wire.Message:
		s.handleMessage(ev)
	case *wire.RelayError:
		logger.Warnf("client: relay error: %s", ev.Code)
		s.emit(Event{Kind: EventError, Code: ev.Code})
	case *wire.CallIncoming:
		s.eng.Incoming(ev)
	case *wire.CallRinging:
		s.eng.Ringing(ev)
	case *wire.CallAccepted:
		s.eng.Accepted(ev)
	case *wire.CallAcceptedAck:
		s.eng.AcceptedAck(ev)
	case *wire.CallRejected:
		s.eng.Rejected(ev)
	case *wire.CallRejectedAck:
		s.eng.RejectedAck(ev)
	case *wire.CallOffer:
		s.eng.Offer(ev)
	case *wire.CallAnswer:
		s.eng.Answer(ev)
	case *wire.CallICE:
		s.eng.ICE(ev)
	case *wire.CallEnded:
		s.eng.Ended(ev)
	case *wire.CallError:
		s.eng.Failed(ev)
		s.emit(Event{Kind: EventError, Code: ev.Code})
	default:
		logger.Debugf("client: no handler for %s", ev.EventType())
	}
}

func (s *Session) handleJoined(ev *wire.Joined) {
	prev := s.res.ConversationID()
	s.res.Joined(ev)
	s.emit(Event{Kind: EventRoles})
	logger.Infof("client: joined as %s", s.res.Role())

	now := s.res.ConversationID()
	switch {
	case now != "":
		s.rejoin = ""
		s.conversationReady(prev, now)
	case prev != "":
		// Reconnected mid-session: bind the previous conversation again.
		s.rejoin = prev
		logger.Infof("client: re-selecting conversation %s", prev)
		s.sendFrame(wire.SelectChatroom(prev))
	case s.opts.AutoSelectRecent:
		s.autoSelect()
	}
}

func (s *Session) handleSelected(ev *wire.Selected) {
	prev, ok := s.res.Selected(ev)
	if !ok {
		return
	}
	if prev == "" && s.rejoin != "" {
		prev = s.rejoin
	}
	s.rejoin = ""
	s.emit(Event{Kind: EventRoles})
	s.conversationReady(prev, ev.ChatID)
}

// conversationReady runs when a conversation id is (re)confirmed. A rebind
// of the same conversation keeps accumulated items; a switch starts empty
// and loads the server's history window.
func (s *Session) conversationReady(prev, now string) {
	if now == "" {
		return
	}
	if prev == now {
		logger.Debugf("client: conversation %s rebound, keeping items", now)
		return
	}
	s.items.Clear()
	s.emit(Event{Kind: EventItems})
	s.fetchHistory(now)
}

func (s *Session) autoSelect() {
	if s.res.State() != roles.AwaitingSelection {
		return
	}
	rooms := s.res.Listing()
	if len(rooms) == 0 {
		return
	}
	logger.Infof("client: auto-selecting most recent conversation %s", rooms[0].ChatID)
	s.sendFrame(wire.SelectChatroom(rooms[0].ChatID))
}

func (s *Session) handleMessage(ev *wire.Message) {
	it, ok := chat.FromFrame(ev)
	if !ok {
		logger.Debugf("client: message sub-kind dropped")
		return
	}
	if ev.ChatID != "" && ev.ChatID != s.res.ConversationID() {
		logger.Debugf("client: message for %s ignored, viewing %s", ev.ChatID, s.res.ConversationID())
		return
	}
	if _, stored := s.items.Append(it); stored {
		s.emit(Event{Kind: EventItems})
	}
}

func (s *Session) fetchHistory(chatID string) {
	if s.opts.History == nil {
		return
	}
	ctx := s.ctx
	go func() {
		c, cancel := context.WithTimeout(ctx, historyTimeout)
		defer cancel()
		fetched, err := s.opts.History.History(c, chatID)
		s.post(func() { s.historyLoaded(chatID, fetched, err) })
	}()
}

func (s *Session) historyLoaded(chatID string, fetched []history.Item, err error) {
	if err != nil {
		logger.Warnf("client: history for %s: %v", chatID, err)
		s.emit(Event{Kind: EventNotice, Notice: "history unavailable"})
		return
	}
	if s.res.ConversationID() != chatID {
		logger.Debugf("client: history for %s discarded after switch", chatID)
		return
	}
	if n := s.opts.HistoryLimit; n > 0 && len(fetched) > n {
		fetched = fetched[len(fetched)-n:]
	}
	// The fetched window replaces the log wholesale; history entries carry
	// no identity tokens, so appending over live items would duplicate.
	s.items.Clear()
	for _, h := range fetched {
		s.items.Append(historyToItem(h))
	}
	s.emit(Event{Kind: EventItems})
	logger.Infof("client: loaded %d history items for %s", len(fetched), chatID)
}

func historyToItem(h history.Item) chat.Item {
	it := chat.Item{
		From:      h.From,
		CreatedAt: wire.ParseTime(h.CreatedAt),
	}
	switch h.Type {
	case wire.KindFile:
		it.Kind = wire.KindFile
		it.FileURL, it.FileName, it.FileType = h.FileURL, h.FileName, h.FileType
	case wire.KindAudio:
		it.Kind = wire.KindAudio
		it.AudioURL, it.AudioName, it.AudioType = h.AudioURL, h.AudioName, h.AudioType
	default:
		it.Kind = wire.KindText
		it.Text = h.Text
	}
	return it
}

func (s *Session) sendFrame(v any) {
	if err := s.link.Send(v); err != nil {
		logger.Debugf("client: frame dropped: %v", err)
	}
}

func (s *Session) senderRole() string {
	if s.res.Role() == wire.RoleUser {
		return "user"
	}
	return "admin"
}

// SendText sends a message to the bound conversation, echoing it into the
// log as a pending item until the relay broadcast confirms it.
func (s *Session) SendText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.post(func() {
		if s.res.ConversationID() == "" {
			logger.Debugf("client: no conversation selected, message dropped")
			return
		}
		s.items.AppendPending(chat.PendingText(s.senderRole(), text))
		s.emit(Event{Kind: EventItems})
		s.sendFrame(wire.SendText(text))
	})
}

// SelectConversation binds one conversation from the visible listing.
func (s *Session) SelectConversation(id string) {
	if id == "" {
		return
	}
	s.post(func() { s.sendFrame(wire.SelectChatroom(id)) })
}

// SelectAdmin narrows a superadmin's view to one admin.
func (s *Session) SelectAdmin(id string) {
	if id == "" {
		return
	}
	s.post(func() {
		if s.res.Role() != wire.RoleSuperadmin {
			logger.Debugf("client: select_admin needs a superadmin")
			return
		}
		s.sendFrame(wire.SelectAdmin(id))
	})
}

// SelectMaster narrows the view to one master. Beneath a superadmin the
// previously selected admin id rides along.
func (s *Session) SelectMaster(id string) {
	if id == "" {
		return
	}
	s.post(func() {
		adminID := ""
		if s.res.Role() == wire.RoleSuperadmin {
			adminID = s.res.AdminID()
		}
		s.sendFrame(wire.SelectMaster(id, adminID))
	})
}

// ListConversations requests a listing page without a search term.
func (s *Session) ListConversations(page, limit int) {
	s.post(func() { s.sendFrame(wire.ListChatrooms(page, limit, "")) })
}

// Search requests a filtered listing; the response becomes a search view
// on top of the normal listing until cleared.
func (s *Session) Search(term string, page, limit int) {
	term = strings.TrimSpace(term)
	if term == "" {
		return
	}
	s.post(func() { s.sendFrame(wire.ListChatrooms(page, limit, term)) })
}

// ClearSearch drops the search view and restores the plain listing.
func (s *Session) ClearSearch() {
	s.post(func() {
		s.res.ClearSearch()
		s.emit(Event{Kind: EventRoles})
	})
}

// ResetHierarchy returns to the role's base selection stage without
// touching the transport or the bound conversation.
func (s *Session) ResetHierarchy() {
	s.post(func() {
		s.res.ResetHierarchy()
		s.emit(Event{Kind: EventRoles})
	})
}

// SetAutoSelect toggles automatic selection of the most recent conversation
// after a staff join. Applies from the next join.
func (s *Session) SetAutoSelect(v bool) {
	s.post(func() { s.opts.AutoSelectRecent = v })
}

// StartCall rings the connection's assigned counterpart.
func (s *Session) StartCall() { s.post(func() { s.eng.Start() }) }

// AcceptCall answers the ringing incoming call.
func (s *Session) AcceptCall() { s.post(func() { s.eng.Accept() }) }

// RejectCall declines the ringing incoming call.
func (s *Session) RejectCall() { s.post(func() { s.eng.Reject() }) }

// EndCall hangs up.
func (s *Session) EndCall() { s.post(func() { s.eng.End() }) }

// FetchHistory reloads the bound conversation's history window.
func (s *Session) FetchHistory() {
	s.post(func() {
		id := s.res.ConversationID()
		if id == "" {
			logger.Debugf("client: no conversation selected for history")
			return
		}
		s.fetchHistory(id)
	})
}

// UploadFile stores an attachment in the bound conversation. The relay
// broadcasts the resulting message to the room over the WS.
func (s *Session) UploadFile(name string, r io.Reader) { s.upload(name, r, false) }

// UploadAudio stores a voice note in the bound conversation.
func (s *Session) UploadAudio(name string, r io.Reader) { s.upload(name, r, true) }

func (s *Session) upload(name string, r io.Reader, audio bool) {
	if s.opts.History == nil {
		logger.Warnf("client: uploads need the REST collaborator")
		return
	}
	s.post(func() {
		// Users upload into their own room; staff name the bound one.
		target := ""
		if s.res.Role() != wire.RoleUser {
			target = s.res.ConversationID()
			if target == "" {
				logger.Debugf("client: no conversation selected, upload dropped")
				return
			}
		}

		pending := chat.PendingFile(s.senderRole(), name)
		if audio {
			pending = chat.PendingAudio(s.senderRole(), name)
		}
		it := s.items.AppendPending(pending)
		s.emit(Event{Kind: EventItems})

		ctx := s.ctx
		go func() {
			c, cancel := context.WithTimeout(ctx, 60*time.Second)
			defer cancel()
			var err error
			if audio {
				_, err = s.opts.History.UploadAudio(c, target, name, r)
			} else {
				_, err = s.opts.History.UploadFile(c, target, name, r)
			}
			s.post(func() { s.uploadDone(name, it.LocalID, err) })
		}()
	})
}

// uploadDone runs on the loop once the REST call returns. On success the
// relay's broadcast confirms the pending item; on failure we withdraw it.
func (s *Session) uploadDone(name, localID string, err error) {
	if err != nil {
		logger.Warnf("client: upload %s: %v", name, err)
		if s.items.Remove(localID) {
			s.emit(Event{Kind: EventItems})
		}
		s.emit(Event{Kind: EventError, Code: "upload_failed"})
		return
	}
	logger.Infof("client: uploaded %s", name)
	s.emit(Event{Kind: EventNotice, Notice: "uploaded " + name})
}
