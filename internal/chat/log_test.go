package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/hvdkamer/relaydesk/internal/wire"
)

func confirmed(id, text string) Item {
	return Item{
		MessageID: id,
		Kind:      wire.KindText,
		From:      wire.RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func TestDuplicateIdentityTokenStoredOnce(t *testing.T) {
	l := NewLog(0)

	if _, ok := l.Append(confirmed("m1", "hello")); !ok {
		t.Fatal("first append must store")
	}
	if _, ok := l.Append(confirmed("m1", "hello")); ok {
		t.Fatal("second append with the same token must be dropped")
	}
	if got := l.Len(); got != 1 {
		t.Fatalf("expected 1 item, got %d", got)
	}
}

func TestTokenlessItemsNeverDeduplicated(t *testing.T) {
	l := NewLog(0)

	a, _ := l.Append(confirmed("", "hi"))
	b, _ := l.Append(confirmed("", "hi"))
	if l.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", l.Len())
	}
	if a.LocalID == b.LocalID || a.LocalID == "" {
		t.Fatal("expected distinct synthetic local ids")
	}
}

func TestClearDropsItemsAndDedupState(t *testing.T) {
	l := NewLog(0)
	l.Append(confirmed("m1", "hello"))
	l.Clear()

	if l.Len() != 0 {
		t.Fatalf("expected empty log, got %d items", l.Len())
	}
	// A fresh conversation may legitimately reuse a token.
	if _, ok := l.Append(confirmed("m1", "hello again")); !ok {
		t.Fatal("expected token to be accepted after clear")
	}
}

func TestPendingReconciledWithinWindow(t *testing.T) {
	l := NewLog(0)

	p := l.AppendPending(PendingText(wire.RoleUser, "on my way"))
	l.Append(confirmed("", "unrelated"))

	got, ok := l.Append(confirmed("m9", "on my way"))
	if !ok {
		t.Fatal("confirmation must store")
	}
	if got.LocalID != p.LocalID {
		t.Fatalf("expected confirmation to keep the pending local id %s, got %s", p.LocalID, got.LocalID)
	}

	items := l.Snapshot()
	if len(items) != 2 {
		t.Fatalf("expected 2 items after reconciliation, got %d", len(items))
	}
	if items[0].Pending || items[0].MessageID != "m9" {
		t.Fatalf("expected confirmed item in the pending slot, got %+v", items[0])
	}
}

func TestPendingSurvivesOutsideWindow(t *testing.T) {
	l := NewLog(0)

	p := PendingText(wire.RoleUser, "late echo")
	p.CreatedAt = time.Now().Add(-10 * time.Second)
	l.AppendPending(p)

	l.Append(confirmed("m2", "late echo"))

	items := l.Snapshot()
	if len(items) != 2 {
		t.Fatalf("expected pending to survive, got %d items", len(items))
	}
	if !items[0].Pending {
		t.Fatal("expected first item to still be pending")
	}
}

func TestFileReconciliationMatchesByName(t *testing.T) {
	l := NewLog(0)
	l.AppendPending(PendingFile(wire.RoleAdmin, "report.pdf"))

	it := Item{
		MessageID: "m3",
		Kind:      wire.KindFile,
		From:      wire.RoleAdmin,
		FileName:  "report.pdf",
		FileURL:   "/uploads/report.pdf",
		CreatedAt: time.Now(),
	}
	l.Append(it)

	items := l.Snapshot()
	if len(items) != 1 {
		t.Fatalf("expected reconciliation, got %d items", len(items))
	}
	if items[0].Pending || items[0].FileURL == "" {
		t.Fatalf("expected confirmed file item, got %+v", items[0])
	}
}

func TestCapEvictsOldestButKeepsDedup(t *testing.T) {
	l := NewLog(50)

	for i := 0; i < 60; i++ {
		l.Append(confirmed(fmt.Sprintf("m%d", i), "x"))
	}
	if l.Len() != 50 {
		t.Fatalf("expected cap of 50, got %d", l.Len())
	}
	if first := l.Snapshot()[0]; first.MessageID != "m10" {
		t.Fatalf("expected oldest surviving item m10, got %s", first.MessageID)
	}
	// An evicted item's token is still rejected.
	if _, ok := l.Append(confirmed("m0", "x")); ok {
		t.Fatal("expected evicted token to stay deduplicated")
	}
}

func TestFromFrameDropsUnknownKind(t *testing.T) {
	if _, ok := FromFrame(&wire.Message{From: wire.RoleUser, Kind: "video"}); ok {
		t.Fatal("expected unknown sub-kind to be dropped")
	}
	it, ok := FromFrame(&wire.Message{From: wire.RoleUser, Text: "hi", MessageID: "m1"})
	if !ok || it.Kind != wire.KindText || it.Text != "hi" {
		t.Fatalf("expected text item, got %+v ok=%v", it, ok)
	}
	if it.CreatedAt.IsZero() {
		t.Fatal("expected a usable timestamp even without created_time")
	}
}
