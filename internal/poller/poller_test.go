package poller

import (
	"context"
	"testing"
	"time"

	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/store"
)

func waitForCount(t *testing.T, get func() int, want int, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if get() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: got %d, want %d", msg, get(), want)
}

func TestPollerReconcilesWhileDisconnected(t *testing.T) {
	db := testDB(t)
	b := bus.New(nil)
	r := newTestReconciler(t, db, b, func() bool { return true })
	p := New(db, db, r, func() bool { return false }, Config{Interval: 20 * time.Millisecond, Page: 50}, "bob", nil)

	counts := make(chan struct{}, 16)
	defer b.Subscribe(bus.KindMessage, func(bus.Event) { counts <- struct{}{} })()
	defer b.Subscribe(bus.KindNotification, func(bus.Event) { counts <- struct{}{} })()

	ctx := context.Background()
	m := store.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", CreatedAt: 100}
	if err := db.InsertMessage(ctx, &m); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertNotification(ctx, &store.Notification{ID: "n1", UserID: "bob", Kind: "follow", CreatedAt: 200}); err != nil {
		t.Fatal(err)
	}

	p.Start(ctx)
	defer p.Stop()

	waitForCount(t, func() int { return len(counts) }, 2, "poll never surfaced the backlog")

	// The checkpoint advanced past the applied rows.
	waitForCount(t, func() int {
		cp, err := db.Checkpoint(ctx, "poll:msg:bob")
		if err != nil || cp < 100 {
			return 0
		}
		return 1
	}, 1, "message checkpoint never saved")
}

func TestPollerSuspendedWhileConnected(t *testing.T) {
	db := testDB(t)
	b := bus.New(nil)
	r := newTestReconciler(t, db, b, func() bool { return true })
	p := New(db, nil, r, func() bool { return true }, Config{Interval: 20 * time.Millisecond, Page: 50}, "bob", nil)

	var count int
	defer b.Subscribe(bus.KindMessage, func(bus.Event) { count++ })()

	m := store.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", CreatedAt: 100}
	if err := db.InsertMessage(context.Background(), &m); err != nil {
		t.Fatal(err)
	}

	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)
	if count != 0 {
		t.Errorf("poller applied %d events while connected, want 0", count)
	}
}

func TestKickForcesImmediatePass(t *testing.T) {
	db := testDB(t)
	b := bus.New(nil)
	r := newTestReconciler(t, db, b, func() bool { return true })
	// Long interval: only a kick can surface the message quickly.
	p := New(db, nil, r, func() bool { return true }, Config{Interval: time.Hour, Page: 50}, "bob", nil)

	got := make(chan struct{}, 1)
	defer b.Subscribe(bus.KindMessage, func(bus.Event) { got <- struct{}{} })()

	m := store.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", CreatedAt: 100}
	if err := db.InsertMessage(context.Background(), &m); err != nil {
		t.Fatal(err)
	}

	p.Start(context.Background())
	defer p.Stop()
	p.Kick()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("kick never triggered a reconciliation pass")
	}
}

func TestDualChannelSingleFanOut(t *testing.T) {
	db := testDB(t)
	b := bus.New(nil)
	r := newTestReconciler(t, db, b, func() bool { return true })
	p := New(db, nil, r, func() bool { return true }, Config{Interval: time.Hour, Page: 50}, "bob", nil)

	var count int
	done := make(chan struct{}, 1)
	defer b.Subscribe(bus.KindMessage, func(bus.Event) { count++; done <- struct{}{} })()

	ctx := context.Background()
	m := store.Message{ID: "m1", SenderID: "alice", ReceiverID: "bob", Content: "hi", CreatedAt: 100}
	if err := db.InsertMessage(ctx, &m); err != nil {
		t.Fatal(err)
	}

	// Live channel applies it first; a poll of the same window follows.
	r.ApplyMessage(ctx, m)
	p.Start(ctx)
	defer p.Stop()
	p.Kick()

	<-done
	time.Sleep(100 * time.Millisecond)
	if count != 1 {
		t.Errorf("message fanned out %d times across both channels, want 1", count)
	}
}
