package wire

import (
	"encoding/json"
	"fmt"
)

// Hierarchical search results. The relay returns a different tree shape
// per caller role: a superadmin gets admins with their masters and matched
// clients, an admin gets masters with matched clients, a master gets the
// flat list of matched clients.

// SearchAdmin is one admin subtree in a superadmin's search result.
type SearchAdmin struct {
	Admin   Person         `json:"admin"`
	Masters []SearchMaster `json:"masters"`
}

// SearchMaster is one master subtree with the matched clients beneath it.
type SearchMaster struct {
	Master  Person   `json:"master"`
	Clients []Person `json:"clients"`
}

// SearchTree is the role-normalized view of a hierarchical search result.
// Exactly one of the three slices is populated.
type SearchTree struct {
	Admins  []SearchAdmin
	Masters []SearchMaster
	Clients []Person
}

// ParseSearchTree decodes the raw hierarchy payload of a search response
// according to the caller's role.
func ParseSearchTree(role string, raw json.RawMessage) (*SearchTree, error) {
	tree := &SearchTree{}
	if len(raw) == 0 {
		return tree, nil
	}
	var err error
	switch role {
	case RoleSuperadmin:
		err = json.Unmarshal(raw, &tree.Admins)
	case RoleAdmin:
		err = json.Unmarshal(raw, &tree.Masters)
	case RoleMaster:
		err = json.Unmarshal(raw, &tree.Clients)
	default:
		return nil, fmt.Errorf("role %q cannot receive search results", role)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s search hierarchy: %w", role, err)
	}
	return tree, nil
}

// Size counts the selectable entries in the tree.
func (t *SearchTree) Size() int {
	n := len(t.Clients)
	for _, a := range t.Admins {
		n += len(a.Masters)
		for _, m := range a.Masters {
			n += len(m.Clients)
		}
	}
	for _, m := range t.Masters {
		n += 1 + len(m.Clients)
	}
	return n
}
