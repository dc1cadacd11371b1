package appstate

import (
	"testing"
	"time"
)

func TestGetReturnsInitialState(t *testing.T) {
	s := NewStore(State{TrayStatus: "idle"})
	got := s.Get()
	if got.TrayStatus != "idle" {
		t.Fatalf("TrayStatus = %q, want idle", got.TrayStatus)
	}
}

func TestUpdateNotifiesSubscriber(t *testing.T) {
	s := NewStore(State{})
	ch := s.Subscribe()

	s.Update(func(st *State) { st.ScannerRunning = true })

	select {
	case got := <-ch:
		if !got.ScannerRunning {
			t.Fatal("expected ScannerRunning=true in notification")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := NewStore(State{})
	ch := s.Subscribe()
	s.Unsubscribe(ch)

	s.Update(func(st *State) { st.ScannerRunning = true })

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestSlowSubscriberDoesNotBlockUpdate(t *testing.T) {
	s := NewStore(State{})
	_ = s.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			s.Update(func(st *State) { st.ScannerRunning = !st.ScannerRunning })
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Update blocked on a full subscriber channel")
	}
}
