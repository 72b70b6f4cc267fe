package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownType marks a frame whose discriminator the client does not
// recognize. Such frames are dropped, never default-interpreted.
var ErrUnknownType = errors.New("unknown frame type")

// Event is a decoded inbound frame.
type Event interface {
	EventType() string
}

// Pong acknowledges a keepalive ping.
type Pong struct{}

// Joined is the relay's answer to a fresh connection: either a directly
// resolved conversation (users) or the material to start selecting one
// (staff roles).
type Joined struct {
	Role           string      `json:"role"`
	ChatID         string      `json:"chat_id,omitempty"`
	NeedsSelection bool        `json:"needs_selection,omitempty"`
	Hierarchy      *Hierarchy  `json:"hierarchy,omitempty"`
	Chatrooms      []Chatroom  `json:"chatrooms,omitempty"`
	Pagination     *Pagination `json:"pagination,omitempty"`
}

// Selected confirms a conversation selection.
type Selected struct {
	ChatID string `json:"chat_id"`
	Role   string `json:"role,omitempty"`
}

// AdminSelected confirms an admin selection and delivers the scoped rooms
// plus that admin's master roster.
type AdminSelected struct {
	AdminID    string      `json:"admin_id"`
	Chatrooms  []Chatroom  `json:"chatrooms"`
	Masters    []Person    `json:"masters"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// MasterSelected confirms a master selection and delivers the scoped rooms.
type MasterSelected struct {
	MasterID   string      `json:"master_id"`
	Chatrooms  []Chatroom  `json:"chatrooms"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

// ChatroomsList is a listing refresh. For searches the relay sets
// SearchType to "hierarchical" and ships the matching tree in Hierarchy;
// its shape depends on the caller's role, so it stays raw here and is
// parsed by ParseSearchTree.
type ChatroomsList struct {
	Chatrooms  []Chatroom      `json:"chatrooms"`
	Pagination *Pagination     `json:"pagination,omitempty"`
	SearchType string          `json:"search_type,omitempty"`
	Hierarchy  json.RawMessage `json:"hierarchy,omitempty"`
}

// IsSearch reports whether this listing is a search result rather than a
// plain page refresh.
func (c *ChatroomsList) IsSearch() bool {
	if c.SearchType == SearchTypeHierarchical {
		return true
	}
	return c.Pagination != nil && c.Pagination.Search != ""
}

// Message is an inbound content item: text, file, or audio.
type Message struct {
	From        string `json:"from"`
	Text        string `json:"message,omitempty"`
	IsFile      bool   `json:"is_file,omitempty"`
	Kind        string `json:"kind,omitempty"`
	FileURL     string `json:"file_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileType    string `json:"file_type,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	AudioName   string `json:"audio_name,omitempty"`
	AudioType   string `json:"audio_type,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	CreatedTime string `json:"created_time,omitempty"`
}

// ItemKind maps the frame's sub-kind discriminators to exactly one of
// KindText, KindFile, KindAudio. An unrecognized sub-kind returns "" and
// the frame is dropped by the dispatcher.
func (m *Message) ItemKind() string {
	switch m.Kind {
	case KindAudio:
		return KindAudio
	case KindFile:
		return KindFile
	case "":
		if m.IsFile {
			return KindFile
		}
		return KindText
	default:
		return ""
	}
}

// RelayError is a domain error frame; Code is one of the Err* constants
// (or free text for unanticipated relay failures).
type RelayError struct {
	Code string `json:"error"`
}

// CallIncoming announces an inbound call to the callee.
type CallIncoming struct {
	CallID     string `json:"call_id"`
	ChatID     string `json:"chat_id"`
	FromUserID string `json:"from_user_id,omitempty"`
	FromRole   string `json:"from_role,omitempty"`
	ToRole     string `json:"to_role,omitempty"`
}

// CallRinging delivers the relay-assigned call id to the caller.
type CallRinging struct {
	CallID string `json:"call_id"`
	ChatID string `json:"chat_id,omitempty"`
}

// CallAccepted tells the caller the callee picked up.
type CallAccepted struct {
	CallID string `json:"call_id"`
	ChatID string `json:"chat_id,omitempty"`
}

// CallAcceptedAck confirms the accept back to the callee.
type CallAcceptedAck struct {
	CallID string `json:"call_id"`
	ChatID string `json:"chat_id,omitempty"`
}

// CallRejected tells the caller the callee declined.
type CallRejected struct {
	CallID string `json:"call_id"`
	ChatID string `json:"chat_id,omitempty"`
}

// CallRejectedAck confirms the reject back to the callee.
type CallRejectedAck struct {
	CallID string `json:"call_id"`
	ChatID string `json:"chat_id,omitempty"`
}

// CallOffer relays the caller's session description to the callee.
type CallOffer struct {
	CallID   string `json:"call_id"`
	ChatID   string `json:"chat_id,omitempty"`
	SDP      string `json:"sdp"`
	FromRole string `json:"from_role,omitempty"`
}

// CallAnswer relays the callee's session description to the caller.
type CallAnswer struct {
	CallID   string `json:"call_id"`
	ChatID   string `json:"chat_id,omitempty"`
	SDP      string `json:"sdp"`
	FromRole string `json:"from_role,omitempty"`
}

// CallICE relays one connectivity candidate. The payload is opaque to the
// signaling layer; only the media session interprets it.
type CallICE struct {
	CallID    string          `json:"call_id"`
	ChatID    string          `json:"chat_id,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
	FromRole  string          `json:"from_role,omitempty"`
}

// CallEnded announces the call is over, whichever side ended it.
type CallEnded struct {
	CallID string `json:"call_id"`
	ChatID string `json:"chat_id,omitempty"`
}

// CallError is a call-scoped domain error (target offline, call not
// found, ...).
type CallError struct {
	Code string `json:"error"`
}

func (*Pong) EventType() string            { return TypePong }
func (*Joined) EventType() string          { return TypeJoined }
func (*Selected) EventType() string        { return TypeSelected }
func (*AdminSelected) EventType() string   { return TypeAdminSelected }
func (*MasterSelected) EventType() string  { return TypeMasterSelected }
func (*ChatroomsList) EventType() string   { return TypeChatroomsList }
func (*Message) EventType() string         { return TypeMessage }
func (*RelayError) EventType() string      { return TypeError }
func (*CallIncoming) EventType() string    { return TypeCallIncoming }
func (*CallRinging) EventType() string     { return TypeCallRinging }
func (*CallAccepted) EventType() string    { return TypeCallAccepted }
func (*CallAcceptedAck) EventType() string { return TypeCallAcceptedAck }
func (*CallRejected) EventType() string    { return TypeCallRejected }
func (*CallRejectedAck) EventType() string { return TypeCallRejectedAck }
func (*CallOffer) EventType() string       { return TypeCallOffer }
func (*CallAnswer) EventType() string      { return TypeCallAnswer }
func (*CallICE) EventType() string         { return TypeCallICE }
func (*CallEnded) EventType() string       { return TypeCallEnded }
func (*CallError) EventType() string       { return TypeCallError }

// Decode parses one raw inbound frame into its typed event. It fails
// closed: malformed JSON or an unknown discriminator yields an error and
// no event.
func Decode(raw []byte) (Event, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("frame is not valid JSON: %w", err)
	}

	var ev Event
	switch probe.Type {
	case TypePong:
		ev = &Pong{}
	case TypeJoined:
		ev = &Joined{}
	case TypeSelected:
		ev = &Selected{}
	case TypeAdminSelected:
		ev = &AdminSelected{}
	case TypeMasterSelected:
		ev = &MasterSelected{}
	case TypeChatroomsList:
		ev = &ChatroomsList{}
	case TypeMessage:
		ev = &Message{}
	case TypeError:
		ev = &RelayError{}
	case TypeCallIncoming:
		ev = &CallIncoming{}
	case TypeCallRinging:
		ev = &CallRinging{}
	case TypeCallAccepted:
		ev = &CallAccepted{}
	case TypeCallAcceptedAck:
		ev = &CallAcceptedAck{}
	case TypeCallRejected:
		ev = &CallRejected{}
	case TypeCallRejectedAck:
		ev = &CallRejectedAck{}
	case TypeCallOffer:
		ev = &CallOffer{}
	case TypeCallAnswer:
		ev = &CallAnswer{}
	case TypeCallICE:
		ev = &CallICE{}
	case TypeCallEnded:
		ev = &CallEnded{}
	case TypeCallError:
		ev = &CallError{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}

	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", probe.Type, err)
	}
	return ev, nil
}
