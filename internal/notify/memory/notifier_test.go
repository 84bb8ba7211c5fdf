package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

func TestNotifierStoresNotifications(t *testing.T) {
	t.Parallel()

	n := New()
	if err := n.Notify(context.Background(), catalog.Notification{Head: "a"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if err := n.Notify(context.Background(), catalog.Notification{Head: "b"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	sent := n.Sent()
	if len(sent) != 2 || sent[0].Head != "a" || sent[1].Head != "b" {
		t.Fatalf("unexpected notifications: %+v", sent)
	}
	sent[0].Head = "modified"
	if n.Sent()[0].Head == "modified" {
		t.Fatal("expected Sent() to return a copy")
	}
}

func TestNotifierFailWith(t *testing.T) {
	t.Parallel()

	n := New()
	boom := errors.New("boom")
	n.FailWith(boom)
	if err := n.Notify(context.Background(), catalog.Notification{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(n.Sent()) != 0 {
		t.Fatal("failed notification must not be recorded")
	}
}
