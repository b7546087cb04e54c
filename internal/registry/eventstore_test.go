package registry

import (
	"fmt"
	"testing"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

func TestRingCapsAndOrder(t *testing.T) {
	s := NewEventStore(time.Now())
	for i := 0; i < TimelineCap+50; i++ {
		s.Append(domain.GameEvent{
			Type:   domain.EventKill,
			Killer: fmt.Sprintf("k%d", i),
			Victim: "v",
		})
	}
	kills := s.KillFeed()
	if len(kills) != KillFeedCap {
		t.Fatalf("kill feed len = %d, want %d", len(kills), KillFeedCap)
	}
	timeline := s.Timeline()
	if len(timeline) != TimelineCap {
		t.Fatalf("timeline len = %d, want %d", len(timeline), TimelineCap)
	}
	// Buffers keep the last cap entries in push order.
	if kills[len(kills)-1].Killer != fmt.Sprintf("k%d", TimelineCap+49) {
		t.Errorf("newest kill = %+v", kills[len(kills)-1])
	}
	if kills[0].Killer != fmt.Sprintf("k%d", TimelineCap+50-KillFeedCap) {
		t.Errorf("oldest kill = %+v", kills[0])
	}
	if timeline[0].Killer != "k50" {
		t.Errorf("oldest timeline entry = %+v", timeline[0])
	}
}

func TestChatRouting(t *testing.T) {
	s := NewEventStore(time.Now())
	s.Append(domain.GameEvent{Type: domain.EventChat, Sender: "alice", Text: "hi"})
	s.Append(domain.GameEvent{Type: domain.EventKill, Killer: "alice", Victim: "bob"})
	s.Append(domain.GameEvent{Type: domain.EventQuit, Sender: "bob"})

	if len(s.Chat()) != 1 || len(s.KillFeed()) != 1 {
		t.Errorf("chat=%d kills=%d", len(s.Chat()), len(s.KillFeed()))
	}
	if len(s.Timeline()) != 3 {
		t.Errorf("timeline len = %d, want 3", len(s.Timeline()))
	}
}
