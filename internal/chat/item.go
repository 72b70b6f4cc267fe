package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/hvdkamer/relaydesk/internal/wire"
)

// Item is one entry in a conversation: a text, file or audio message.
type Item struct {
	// LocalID identifies the item within this client session. It is
	// synthetic and stable across optimistic reconciliation, so a UI can
	// keep pointing at the same entry when the confirmation arrives.
	LocalID string `json:"local_id"`

	// MessageID is the relay-assigned identity token. Empty for local
	// pending items and for frames the relay sent without one.
	MessageID string `json:"message_id,omitempty"`

	Kind string `json:"kind"`
	From string `json:"from"`

	Text string `json:"text,omitempty"`

	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileType string `json:"file_type,omitempty"`

	AudioURL  string `json:"audio_url,omitempty"`
	AudioName string `json:"audio_name,omitempty"`
	AudioType string `json:"audio_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Pending marks an optimistic local item still waiting for the relay
	// broadcast to confirm it.
	Pending bool `json:"pending,omitempty"`
}

// FromFrame converts a decoded message frame into an Item. Returns false
// when the frame's sub-kind is unrecognized; such frames are dropped.
func FromFrame(m *wire.Message) (Item, bool) {
	kind := m.ItemKind()
	if kind == "" {
		return Item{}, false
	}

	it := Item{
		MessageID: m.MessageID,
		Kind:      kind,
		From:      m.From,
		CreatedAt: wire.ParseTime(m.CreatedTime),
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now()
	}

	switch kind {
	case wire.KindText:
		it.Text = m.Text
	case wire.KindFile:
		it.FileURL = m.FileURL
		it.FileName = m.FileName
		it.FileType = m.FileType
	case wire.KindAudio:
		it.AudioURL = m.AudioURL
		it.AudioName = m.AudioName
		it.AudioType = m.AudioType
	}
	return it, true
}

// PendingText builds an optimistic local text item.
func PendingText(from, text string) Item {
	return Item{
		LocalID:   uuid.NewString(),
		Kind:      wire.KindText,
		From:      from,
		Text:      text,
		CreatedAt: time.Now(),
		Pending:   true,
	}
}

// PendingFile builds an optimistic local file item shown while the upload
// is in flight.
func PendingFile(from, name string) Item {
	return Item{
		LocalID:   uuid.NewString(),
		Kind:      wire.KindFile,
		From:      from,
		FileName:  name,
		CreatedAt: time.Now(),
		Pending:   true,
	}
}

// PendingAudio builds an optimistic local audio item.
func PendingAudio(from, name string) Item {
	return Item{
		LocalID:   uuid.NewString(),
		Kind:      wire.KindAudio,
		From:      from,
		AudioName: name,
		CreatedAt: time.Now(),
		Pending:   true,
	}
}

// matchesPending reports whether a confirmed item is the network echo of
// the given pending one: same kind, same payload identity, created within
// the reconciliation window. The protocol has no correlation id, so this
// heuristic is as precise as it gets.
func (it Item) matchesPending(p Item) bool {
	if !p.Pending || p.Kind != it.Kind {
		return false
	}
	d := it.CreatedAt.Sub(p.CreatedAt)
	if d < 0 {
		d = -d
	}
	if d > reconcileWindow {
		return false
	}
	switch it.Kind {
	case wire.KindText:
		return it.Text == p.Text
	case wire.KindFile:
		return it.FileName == p.FileName
	case wire.KindAudio:
		return it.AudioName == p.AudioName
	}
	return false
}
