package roles

import (
	"sort"

	"github.com/hvdkamer/relaydesk/internal/wire"
)

// sortRooms deduplicates a room list by conversation id (keeping the entry
// with the freshest activity) and orders it most recent first. Rooms with
// unparseable timestamps sort last; ties break on id so refreshes are
// stable.
func sortRooms(rooms []wire.Chatroom) []wire.Chatroom {
	byID := make(map[string]wire.Chatroom, len(rooms))
	for _, room := range rooms {
		if room.ChatID == "" {
			continue
		}
		if prev, ok := byID[room.ChatID]; ok && !prev.Updated().Before(room.Updated()) {
			continue
		}
		byID[room.ChatID] = room
	}

	out := make([]wire.Chatroom, 0, len(byID))
	for _, room := range byID {
		out = append(out, room)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Updated(), out[j].Updated()
		if ti.Equal(tj) {
			return out[i].ChatID < out[j].ChatID
		}
		return ti.After(tj)
	})
	return out
}

// rememberStaff records the staff-bot rooms of a payload. Callers hold the
// lock.
func (r *Resolver) rememberStaff(rooms []wire.Chatroom) {
	for _, room := range rooms {
		if room.RoomType == wire.RoomStaffBot && room.ChatID != "" {
			r.staffRooms[room.ChatID] = room
		}
	}
}

// staffOwnedBy returns the remembered staff-bot rooms owned by the given
// staff member. Callers hold the lock.
func (r *Resolver) staffOwnedBy(ownerID string) []wire.Chatroom {
	if ownerID == "" {
		return nil
	}
	var out []wire.Chatroom
	for _, room := range r.staffRooms {
		if room.UserID == ownerID {
			out = append(out, room)
		}
	}
	return out
}
