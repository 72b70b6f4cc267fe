package roles

import (
	"fmt"
	"sync"

	"github.com/hvdkamer/relaydesk/internal/logger"
	"github.com/hvdkamer/relaydesk/internal/wire"
)

// State is the hierarchical selection stage.
type State int

const (
	Unresolved State = iota
	AwaitingSelection
	AwaitingAdminSelection
	AwaitingMasterSelection
	Resolved
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case AwaitingSelection:
		return "awaiting_selection"
	case AwaitingAdminSelection:
		return "awaiting_admin_selection"
	case AwaitingMasterSelection:
		return "awaiting_master_selection"
	case Resolved:
		return "resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is a resolver input that may advance the stage.
type Event int

const (
	// EvJoinedDirect is a joined frame that already carries a
	// conversation id; no selection needed.
	EvJoinedDirect Event = iota
	EvJoinedMaster
	EvJoinedAdmin
	EvJoinedSuperadmin
	EvAdminSelected
	EvMasterSelected
	EvSelected
)

func (e Event) String() string {
	switch e {
	case EvJoinedDirect:
		return "joined(direct)"
	case EvJoinedMaster:
		return "joined(master)"
	case EvJoinedAdmin:
		return "joined(admin)"
	case EvJoinedSuperadmin:
		return "joined(superadmin)"
	case EvAdminSelected:
		return "admin_selected"
	case EvMasterSelected:
		return "master_selected"
	case EvSelected:
		return "selected"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transitions is the selection machine. An absent entry means the event is
// ignored in that state (logged at debug, no effect).
var transitions = map[State]map[Event]State{
	Unresolved: {
		EvJoinedDirect:     Resolved,
		EvJoinedMaster:     AwaitingSelection,
		EvJoinedAdmin:      AwaitingSelection,
		EvJoinedSuperadmin: AwaitingAdminSelection,
	},
	AwaitingSelection: {
		EvMasterSelected: Resolved,
		EvSelected:       Resolved,
	},
	AwaitingAdminSelection: {
		EvAdminSelected: AwaitingMasterSelection,
		EvSelected:      Resolved,
	},
	AwaitingMasterSelection: {
		EvMasterSelected: Resolved,
		EvSelected:       Resolved,
	},
	Resolved: {
		EvSelected: Resolved,
	},
}

// SearchView is a search result superseding the normal listing until
// cleared. For staff searches Tree carries the role-shaped hierarchy.
type SearchView struct {
	Query      string
	Rooms      []wire.Chatroom
	Tree       *wire.SearchTree
	Pagination *wire.Pagination
}

// Resolver tracks which conversation context this connection is allowed to
// see: the selection stage, the rosters offered along the way, the room
// listing, and the resolved conversation id. It is pure state; the client
// loop feeds it decoded events and sends the outbound frames itself.
type Resolver struct {
	mu sync.RWMutex

	state State
	role  string

	adminID        string
	masterID       string
	conversationID string

	admins  []wire.Person
	masters []wire.Person

	// baseMasters is the roster an admin got at join time, restored by
	// ResetHierarchy. Superadmins get their masters per selected admin.
	baseMasters []wire.Person

	listing     []wire.Chatroom
	baseListing []wire.Chatroom
	pagination  *wire.Pagination

	// staffRooms remembers every staff-bot room seen in any payload, by
	// room id. admin_selected listings are merged with the rooms owned by
	// the chosen admin.
	staffRooms map[string]wire.Chatroom

	search *SearchView
}

func NewResolver() *Resolver {
	return &Resolver{staffRooms: make(map[string]wire.Chatroom)}
}

// apply consults the transition table. Callers hold the lock.
func (r *Resolver) apply(ev Event) bool {
	next, ok := transitions[r.state][ev]
	if !ok {
		logger.Debugf("roles: %s ignored in state %s", ev, r.state)
		return false
	}
	if next != r.state {
		logger.Debugf("roles: %s -> %s on %s", r.state, next, ev)
	}
	r.state = next
	return true
}

// Joined reinitializes the resolver from a fresh joined frame. A joined
// mid-flight means the relay restarted our server-side session (reconnect),
// so everything except the remembered staff rooms starts over.
func (r *Resolver) Joined(j *wire.Joined) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Unresolved {
		logger.Debugf("roles: reinitializing from state %s", r.state)
	}
	r.state = Unresolved
	r.role = j.Role
	r.adminID = ""
	r.masterID = ""
	r.conversationID = ""
	r.admins = nil
	r.masters = nil
	r.baseMasters = nil
	r.listing = nil
	r.baseListing = nil
	r.pagination = nil
	r.search = nil

	r.rememberStaff(j.Chatrooms)

	switch {
	case j.ChatID != "":
		r.apply(EvJoinedDirect)
		r.conversationID = j.ChatID
		return
	case j.Role == wire.RoleSuperadmin:
		r.apply(EvJoinedSuperadmin)
		if j.Hierarchy != nil {
			r.admins = append([]wire.Person(nil), j.Hierarchy.Admins...)
		}
	case j.Role == wire.RoleAdmin:
		r.apply(EvJoinedAdmin)
		if j.Hierarchy != nil {
			r.masters = append([]wire.Person(nil), j.Hierarchy.Masters...)
			r.baseMasters = append([]wire.Person(nil), j.Hierarchy.Masters...)
		}
	default:
		// Master, and any staff role the relay adds later: a plain
		// listing to select from.
		r.apply(EvJoinedMaster)
	}

	r.listing = sortRooms(j.Chatrooms)
	r.baseListing = append([]wire.Chatroom(nil), r.listing...)
	r.pagination = j.Pagination
}

// AdminSelected narrows a superadmin's view to one admin: scoped rooms
// merged with that admin's staff-bot rooms, plus the master roster.
func (r *Resolver) AdminSelected(ev *wire.AdminSelected) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.apply(EvAdminSelected) {
		return false
	}
	r.adminID = ev.AdminID
	r.masters = append([]wire.Person(nil), ev.Masters...)
	r.rememberStaff(ev.Chatrooms)

	merged := append([]wire.Chatroom(nil), ev.Chatrooms...)
	merged = append(merged, r.staffOwnedBy(ev.AdminID)...)
	r.listing = sortRooms(merged)
	r.pagination = ev.Pagination
	r.search = nil
	return true
}

// MasterSelected completes the hierarchy: the listing becomes the chosen
// master's rooms.
func (r *Resolver) MasterSelected(ev *wire.MasterSelected) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.apply(EvMasterSelected) {
		return false
	}
	r.masterID = ev.MasterID
	r.rememberStaff(ev.Chatrooms)
	r.listing = sortRooms(ev.Chatrooms)
	r.pagination = ev.Pagination
	r.search = nil
	return true
}

// Selected records the resolved conversation. Returns the previous id and
// whether the event applied; the caller clears accumulated items when the
// conversation actually changed.
func (r *Resolver) Selected(ev *wire.Selected) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.apply(EvSelected) {
		return "", false
	}
	prev = r.conversationID
	r.conversationID = ev.ChatID
	return prev, true
}

// ListingUpdate handles a chatrooms_list frame: search results become the
// search view, plain refreshes replace the listing.
func (r *Resolver) ListingUpdate(ev *wire.ChatroomsList) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rememberStaff(ev.Chatrooms)

	if ev.IsSearch() {
		view := &SearchView{
			Rooms:      sortRooms(ev.Chatrooms),
			Pagination: ev.Pagination,
		}
		if ev.Pagination != nil {
			view.Query = ev.Pagination.Search
		}
		if ev.SearchType == wire.SearchTypeHierarchical {
			tree, err := wire.ParseSearchTree(r.role, ev.Hierarchy)
			if err != nil {
				logger.Warnf("roles: dropping search hierarchy: %v", err)
			} else {
				view.Tree = tree
			}
		}
		r.search = view
		return
	}

	r.listing = sortRooms(ev.Chatrooms)
	r.pagination = ev.Pagination
}

// ClearSearch drops the search view, restoring the normal listing.
func (r *Resolver) ClearSearch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.search = nil
}

// ResetHierarchy returns to the role's base selection stage without
// touching the transport. The resolved conversation id survives until the
// next selection.
func (r *Resolver) ResetHierarchy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adminID = ""
	r.masterID = ""
	r.search = nil
	r.listing = append([]wire.Chatroom(nil), r.baseListing...)
	r.pagination = nil

	switch r.role {
	case wire.RoleSuperadmin:
		r.state = AwaitingAdminSelection
		r.masters = nil
	case wire.RoleAdmin:
		r.state = AwaitingSelection
		r.masters = append([]wire.Person(nil), r.baseMasters...)
	case wire.RoleMaster:
		r.state = AwaitingSelection
	default:
		// Users have no hierarchy to reset.
	}
}

func (r *Resolver) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Resolver) Role() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

func (r *Resolver) ConversationID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conversationID
}

func (r *Resolver) AdminID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adminID
}

func (r *Resolver) MasterID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.masterID
}

// Admins is the admin roster offered to a superadmin.
func (r *Resolver) Admins() []wire.Person {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]wire.Person(nil), r.admins...)
}

// Masters is the currently offered master roster.
func (r *Resolver) Masters() []wire.Person {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]wire.Person(nil), r.masters...)
}

// Listing is the current conversation listing, most recent first. When a
// search view is active it is returned instead.
func (r *Resolver) Listing() []wire.Chatroom {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.search != nil {
		return append([]wire.Chatroom(nil), r.search.Rooms...)
	}
	return append([]wire.Chatroom(nil), r.listing...)
}

// Search returns the active search view, nil when none.
func (r *Resolver) Search() *SearchView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.search
}

func (r *Resolver) Pagination() *wire.Pagination {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pagination
}
