package wire

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseSearchTreePerRole(t *testing.T) {
	t.Run("superadmin", func(t *testing.T) {
		raw := json.RawMessage(`[
			{"admin":{"id":"A1","name":"Ann"},"masters":[
				{"master":{"id":"M1","name":"Mo"},"clients":[{"id":"U1","name":"Uli","chat_id":"c1"}]}
			]}
		]`)
		tree, err := ParseSearchTree(RoleSuperadmin, raw)
		if err != nil {
			t.Fatal(err)
		}
		if len(tree.Admins) != 1 || len(tree.Masters) != 0 || len(tree.Clients) != 0 {
			t.Fatalf("unexpected tree: %+v", tree)
		}
		if tree.Admins[0].Masters[0].Clients[0].ChatID != "c1" {
			t.Fatal("expected client chat_id to survive")
		}
		if tree.Size() != 2 {
			t.Fatalf("expected 2 selectable entries, got %d", tree.Size())
		}
	})

	t.Run("admin", func(t *testing.T) {
		raw := json.RawMessage(`[{"master":{"id":"M1"},"clients":[{"id":"U1"},{"id":"U2"}]}]`)
		tree, err := ParseSearchTree(RoleAdmin, raw)
		if err != nil {
			t.Fatal(err)
		}
		if len(tree.Masters) != 1 || len(tree.Masters[0].Clients) != 2 {
			t.Fatalf("unexpected tree: %+v", tree)
		}
		if tree.Size() != 3 {
			t.Fatalf("expected 3 selectable entries, got %d", tree.Size())
		}
	})

	t.Run("master", func(t *testing.T) {
		raw := json.RawMessage(`[{"id":"U1","chat_id":"c1"},{"id":"U2","chat_id":"c2"}]`)
		tree, err := ParseSearchTree(RoleMaster, raw)
		if err != nil {
			t.Fatal(err)
		}
		if len(tree.Clients) != 2 || tree.Size() != 2 {
			t.Fatalf("unexpected tree: %+v", tree)
		}
	})

	t.Run("user role rejected", func(t *testing.T) {
		if _, err := ParseSearchTree(RoleUser, json.RawMessage(`[]`)); err == nil {
			t.Fatal("expected error for user role")
		}
	})

	t.Run("empty payload", func(t *testing.T) {
		tree, err := ParseSearchTree(RoleMaster, nil)
		if err != nil {
			t.Fatal(err)
		}
		if tree.Size() != 0 {
			t.Fatalf("expected empty tree, got %d entries", tree.Size())
		}
	})
}

func TestListChatroomsClampsLimit(t *testing.T) {
	if f := ListChatrooms(1, 500, ""); f.Limit != PageLimitMax {
		t.Fatalf("expected limit clamped to %d, got %d", PageLimitMax, f.Limit)
	}
	if f := ListChatrooms(1, -3, ""); f.Limit != PageLimitMin {
		t.Fatalf("expected limit clamped to %d, got %d", PageLimitMin, f.Limit)
	}
	if f := ListChatrooms(0, 0, "ann"); f.Limit != 0 || f.Page != 0 || f.Search != "ann" {
		t.Fatalf("expected relay defaults to apply, got %+v", f)
	}
}

func TestSendTextFieldName(t *testing.T) {
	b, err := json.Marshal(SendText("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"text":"hello"`) {
		t.Fatalf("outbound message must use the text field, got %s", b)
	}
	if strings.Contains(string(b), `"message":`) {
		t.Fatalf("outbound message must not use the inbound field name, got %s", b)
	}
}
