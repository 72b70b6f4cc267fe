package wire

import "time"

// Frame discriminators. Inbound and outbound frames share the namespace;
// the relay routes everything on this one string field.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeJoined         = "joined"
	TypeSelected       = "selected"
	TypeAdminSelected  = "admin_selected"
	TypeMasterSelected = "master_selected"
	TypeChatroomsList  = "chatrooms_list"
	TypeMessage        = "message"
	TypeError          = "error"

	TypeSelectChatroom = "select_chatroom"
	TypeSelectAdmin    = "select_admin"
	TypeSelectMaster   = "select_master"
	TypeListChatrooms  = "list_chatrooms"

	TypeCallStart       = "call.start"
	TypeCallIncoming    = "call.incoming"
	TypeCallRinging     = "call.ringing"
	TypeCallAccept      = "call.accept"
	TypeCallAccepted    = "call.accepted"
	TypeCallAcceptedAck = "call.accepted_ack"
	TypeCallReject      = "call.reject"
	TypeCallRejected    = "call.rejected"
	TypeCallRejectedAck = "call.rejected_ack"
	TypeCallOffer       = "call.offer"
	TypeCallAnswer      = "call.answer"
	TypeCallICE         = "call.ice"
	TypeCallEnd         = "call.end"
	TypeCallEnded       = "call.ended"
	TypeCallError       = "call.error"
)

// Roles as the relay spells them.
const (
	RoleUser       = "user"
	RoleMaster     = "master"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// Room kinds. A staff-bot room is a staff member's own internal channel.
const (
	RoomSupport  = "support"
	RoomStaffBot = "staff_bot"
)

// SearchTypeHierarchical marks a chatrooms_list frame whose hierarchy
// payload carries the role-shaped search tree.
const SearchTypeHierarchical = "hierarchical"

// Content item kinds carried by message frames.
const (
	KindText  = "text"
	KindFile  = "file"
	KindAudio = "audio"
)

// Domain error codes the relay sends in error / call.error frames. Surfaced
// verbatim to the presentation layer, never retried automatically.
const (
	ErrNoChatSelected      = "no_chat_selected"
	ErrNoTargetAssigned    = "no_target_assigned"
	ErrTargetOffline       = "target_offline"
	ErrForbiddenChatroom   = "forbidden_chatroom"
	ErrForbiddenRoleCall   = "forbidden_role_for_call"
	ErrCallNotFound        = "call_not_found"
	ErrForbidden           = "forbidden"
	ErrSDPRequired         = "sdp_required"
	ErrCandidateRequired   = "candidate_required"
	ErrPeerOffline         = "peer_offline"
	ErrUnknownCallType     = "unknown_call_type"
	ErrInvalidJSON         = "invalid_json"
	ErrEmptyMessage        = "empty_message"
	ErrLimitReached        = "limit_reached"
	ErrIdleTimeout         = "idle_timeout"
	ErrChatroomNotFound    = "chatroom_not_found"
	ErrChatIDRequired      = "chat_id_required"
	ErrAdminIDRequired     = "admin_id_required"
	ErrInvalidAdminID      = "invalid_admin_id"
	ErrForbiddenAdmin      = "forbidden_admin"
	ErrMasterIDRequired    = "master_id_required"
	ErrInvalidMasterID     = "invalid_master_id"
	ErrForbiddenMaster     = "forbidden_master"
)

// Pagination limits enforced by the relay; mirrored client-side so outbound
// requests never carry values the relay would silently rewrite.
const (
	PageLimitMin     = 1
	PageLimitMax     = 100
	PageLimitDefault = 50
)

// Person is a roster entry (admins/masters offered for selection, or a
// matched person in search results).
type Person struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	UserName string `json:"userName"`
	Phone    string `json:"phone"`
	Role     string `json:"role,omitempty"`
	ChatID   string `json:"chat_id,omitempty"` // set in search results when the person has a room
}

// UserInfo is the participant block embedded in a chatroom summary.
type UserInfo struct {
	Name     string `json:"name"`
	UserName string `json:"userName"`
	Phone    string `json:"phone"`
}

// Chatroom is one conversation summary as listed by the relay.
type Chatroom struct {
	ChatID             string   `json:"chat_id"`
	UserID             string   `json:"user_id,omitempty"` // owner of the room (counterpart or staff member)
	IsUserActive       bool     `json:"is_user_active,omitempty"`
	IsSuperadminActive bool     `json:"is_superadmin_active,omitempty"`
	IsOwnerActive      bool     `json:"is_owner_active,omitempty"`
	IsAdminActive      bool     `json:"is_admin_active,omitempty"`
	UpdatedTime        string   `json:"updated_time,omitempty"`
	User               UserInfo `json:"user"`
	RoomType           string   `json:"room_type,omitempty"`
}

// Updated parses the room's last-activity timestamp. Zero time when absent
// or unparseable; callers sort with that as "oldest".
func (c Chatroom) Updated() time.Time { return ParseTime(c.UpdatedTime) }

// Pagination describes one page of a listing.
type Pagination struct {
	TotalCount  int    `json:"total_count"`
	TotalPages  int    `json:"total_pages"`
	CurrentPage int    `json:"current_page"`
	Limit       int    `json:"limit"`
	Search      string `json:"search,omitempty"`
}

// Hierarchy is the roster payload inside a joined frame: the selectable
// admins for a superadmin, or the selectable masters for an admin.
type Hierarchy struct {
	Type    string   `json:"type,omitempty"`
	Admins  []Person `json:"admins,omitempty"`
	Masters []Person `json:"masters,omitempty"`
}

// timeLayouts covers the relay's timestamp spellings: RFC 3339 with and
// without fractional seconds, and naive ISO 8601 without a zone.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// ParseTime parses a relay timestamp, returning the zero time on failure.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
