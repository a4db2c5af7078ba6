package stream

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionAppendAndSubscribe(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), "r1", KindWebSocket, Config{ListenerBuffer: 2})
	s.MarkConnected()
	listener := s.Subscribe()

	s.Append(NewReceived("hello", FormatText))

	select {
	case received := <-listener.C:
		if received.Content != "hello" {
			t.Fatalf("expected hello, got %q", received.Content)
		}
		if received.Direction != DirReceived {
			t.Fatalf("unexpected direction %s", received.Direction)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	s.Close(nil)
	listener.Cancel()
	select {
	case _, ok := <-listener.C:
		if ok {
			t.Fatal("expected listener channel to be closed")
		}
	default:
	}
}

func TestSessionMessageOrdering(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), "r1", KindWebSocket, Config{})
	s.MarkConnected()

	for _, content := range []string{"one", "two", "three"} {
		s.Append(NewSent(content, FormatText))
	}

	messages := s.Messages()
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	want := []string{"one", "two", "three"}
	for i, msg := range messages {
		if msg.Content != want[i] {
			t.Fatalf("order broken at %d: got %q", i, msg.Content)
		}
		if i > 0 {
			if msg.Sequence <= messages[i-1].Sequence {
				t.Fatal("sequence numbers must be strictly increasing")
			}
			if msg.Timestamp.Before(messages[i-1].Timestamp) {
				t.Fatal("timestamps must be non-decreasing")
			}
		}
	}

	stats := s.StatsSnapshot()
	if stats.SentCount != 3 {
		t.Fatalf("expected 3 sent, got %d", stats.SentCount)
	}
}

func TestSessionStatusTransitions(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), "r1", KindSocketIO, Config{})
	if status, _ := s.Status(); status != StatusConnecting {
		t.Fatalf("new session must start connecting, got %s", status)
	}

	s.MarkConnected()
	if status, _ := s.Status(); status != StatusConnected {
		t.Fatalf("expected connected, got %s", status)
	}

	s.Close(errors.New("boom"))
	status, err := s.Status()
	if status != StatusError {
		t.Fatalf("error close must yield error status, got %s", status)
	}
	if err == nil {
		t.Fatal("expected stored error")
	}

	clean := NewSession(context.Background(), "r2", KindSocketIO, Config{})
	clean.MarkConnected()
	clean.Close(nil)
	if status, err := clean.Status(); status != StatusDisconnected || err != nil {
		t.Fatalf("clean close must yield disconnected, got %s (%v)", status, err)
	}
}

func TestSessionClear(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), "r1", KindWebSocket, Config{})
	s.MarkConnected()
	s.Append(NewSystem("connected"))
	s.Clear()

	if got := s.Messages(); len(got) != 0 {
		t.Fatalf("expected empty log after clear, got %d", len(got))
	}
	if status, _ := s.Status(); status != StatusConnected {
		t.Fatalf("clear must not touch connection state, got %s", status)
	}
}

func TestSessionDropNewestPolicy(t *testing.T) {
	t.Parallel()

	s := NewSession(context.Background(), "r1", KindWebSocket, Config{
		ListenerBuffer: 1,
		DropPolicy:     DropNewest,
	})
	s.MarkConnected()
	listener := s.Subscribe()

	s.Append(NewReceived("first", FormatText))
	s.Append(NewReceived("second", FormatText))

	select {
	case msg := <-listener.C:
		if msg.Content != "first" {
			t.Fatalf("expected first, got %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first message")
	}
	select {
	case msg := <-listener.C:
		t.Fatalf("unexpected second delivery %q", msg.Content)
	default:
	}

	if stats := s.StatsSnapshot(); stats.Dropped == 0 {
		t.Fatal("expected dropped counter to increase")
	}
	// The log itself never drops.
	if got := s.Messages(); len(got) != 2 {
		t.Fatalf("log must keep everything, got %d", len(got))
	}

	s.Close(nil)
	listener.Cancel()
}
