package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/store"
)

func TestTrackerSweepsUndelivered(t *testing.T) {
	db := testDB(t)
	m := NewMachine(db, &fakeTransport{}, bus.New(nil), "bob", nil)
	tr := NewTracker(m, 20*time.Millisecond, 50, nil)
	msg := seedMessage(t, db, store.Message{SenderID: "alice", ReceiverID: "bob", Content: "hi", CreatedAt: 1})

	tr.Start(context.Background())
	defer tr.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := db.Message(context.Background(), msg.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == store.StatusDelivered {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("tracker never delivered the message")
}

func TestTrackerStopHaltsTicks(t *testing.T) {
	db := testDB(t)
	m := NewMachine(db, &fakeTransport{}, bus.New(nil), "bob", nil)
	tr := NewTracker(m, 20*time.Millisecond, 50, nil)

	tr.Start(context.Background())
	tr.Stop()

	// Inserted after Stop; no tick may pick it up.
	msg := seedMessage(t, db, store.Message{SenderID: "alice", ReceiverID: "bob", Content: "hi", CreatedAt: 1})
	time.Sleep(100 * time.Millisecond)

	got, err := db.Message(context.Background(), msg.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusSent {
		t.Errorf("status = %s after Stop, want %s", got.Status, store.StatusSent)
	}
}
