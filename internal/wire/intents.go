package wire

import (
	"encoding/json"

	"github.com/hvdkamer/relaydesk/internal/util"
)

// Outbound frames. Each carries its own discriminator so the transport can
// stay payload-agnostic; constructors fill it in.

// PingFrame is the keepalive probe.
type PingFrame struct {
	Type string `json:"type"`
}

func Ping() PingFrame { return PingFrame{Type: TypePing} }

// SelectChatroomFrame asks the relay to bind this connection to a room.
type SelectChatroomFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

func SelectChatroom(chatID string) SelectChatroomFrame {
	return SelectChatroomFrame{Type: TypeSelectChatroom, ChatID: chatID}
}

// SelectAdminFrame narrows a superadmin's view to one admin.
type SelectAdminFrame struct {
	Type    string `json:"type"`
	AdminID string `json:"admin_id"`
}

func SelectAdmin(adminID string) SelectAdminFrame {
	return SelectAdminFrame{Type: TypeSelectAdmin, AdminID: adminID}
}

// SelectMasterFrame narrows the view to one master. AdminID is set only
// when resolving beneath a superadmin.
type SelectMasterFrame struct {
	Type     string `json:"type"`
	MasterID string `json:"master_id"`
	AdminID  string `json:"admin_id,omitempty"`
}

func SelectMaster(masterID, adminID string) SelectMasterFrame {
	return SelectMasterFrame{Type: TypeSelectMaster, MasterID: masterID, AdminID: adminID}
}

// SendTextFrame carries an outbound text message. The relay echoes it back
// as a message frame with a server-assigned identity.
type SendTextFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func SendText(text string) SendTextFrame {
	return SendTextFrame{Type: TypeMessage, Text: text}
}

// ListChatroomsFrame requests a listing page, optionally filtered by a
// search term. Zero page/limit let the relay apply its defaults.
type ListChatroomsFrame struct {
	Type   string `json:"type"`
	Page   int    `json:"page,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Search string `json:"search,omitempty"`
}

func ListChatrooms(page, limit int, search string) ListChatroomsFrame {
	if limit != 0 {
		limit = util.Clamp(limit, PageLimitMin, PageLimitMax)
	}
	if page < 0 {
		page = 0
	}
	return ListChatroomsFrame{Type: TypeListChatrooms, Page: page, Limit: limit, Search: search}
}

// CallStartFrame opens a call toward the connection's assigned counterpart.
// The relay assigns the call id and reports it via call.ringing.
type CallStartFrame struct {
	Type string `json:"type"`
}

func CallStart() CallStartFrame { return CallStartFrame{Type: TypeCallStart} }

// CallAcceptFrame answers an incoming call.
type CallAcceptFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

func CallAccept(callID string) CallAcceptFrame {
	return CallAcceptFrame{Type: TypeCallAccept, CallID: callID}
}

// CallRejectFrame declines an incoming call.
type CallRejectFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

func CallReject(callID string) CallRejectFrame {
	return CallRejectFrame{Type: TypeCallReject, CallID: callID}
}

// CallOfferFrame relays the local session description to the peer.
type CallOfferFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	SDP    string `json:"sdp"`
}

func SendOffer(callID, sdp string) CallOfferFrame {
	return CallOfferFrame{Type: TypeCallOffer, CallID: callID, SDP: sdp}
}

// CallAnswerFrame relays the local answer description to the peer.
type CallAnswerFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	SDP    string `json:"sdp"`
}

func SendAnswer(callID, sdp string) CallAnswerFrame {
	return CallAnswerFrame{Type: TypeCallAnswer, CallID: callID, SDP: sdp}
}

// CallICEFrame relays one local connectivity candidate to the peer.
type CallICEFrame struct {
	Type      string          `json:"type"`
	CallID    string          `json:"call_id"`
	Candidate json.RawMessage `json:"candidate"`
}

func SendCandidate(callID string, candidate json.RawMessage) CallICEFrame {
	return CallICEFrame{Type: TypeCallICE, CallID: callID, Candidate: candidate}
}

// CallEndFrame hangs up the tracked call.
type CallEndFrame struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
}

func CallEnd(callID string) CallEndFrame {
	return CallEndFrame{Type: TypeCallEnd, CallID: callID}
}
