package gamelog

import (
	"strings"
	"testing"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

func TestParseKillWithIdentity(t *testing.T) {
	res := Parse([]byte("You killed bob with Plasma Cannon\n"), "alice")
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	e := res.Events[0]
	if e.Type != domain.EventKill || e.Killer != "alice" || e.Victim != "bob" || e.Weapon != "Plasma Cannon" {
		t.Errorf("event = %+v", e)
	}
	if res.Summary.Kills != 1 || res.Summary.Victims["bob"] != 1 || res.Summary.Weapons["Plasma Cannon"] != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestParseYourselfRewrite(t *testing.T) {
	res := Parse([]byte("bob killed Yourself with Vulcan Cannon\n"), "alice")
	e := res.Events[0]
	if e.Victim != "alice" || e.Killer != "bob" {
		t.Errorf("event = %+v", e)
	}
	if res.Summary.Deaths != 1 || res.Summary.Killers["bob"] != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestParseCaseInsensitive(t *testing.T) {
	res := Parse([]byte("YOU KILLED bob WITH Fusion Cannon\n"), "alice")
	if len(res.Events) != 1 || res.Events[0].Killer != "alice" {
		t.Fatalf("events = %+v", res.Events)
	}
}

func TestParseSuicide(t *testing.T) {
	res := Parse([]byte("alice blew themselves up\n"), "alice")
	e := res.Events[0]
	if e.Type != domain.EventKill || !e.Suicide || e.Killer != "alice" || e.Victim != "alice" {
		t.Errorf("event = %+v", e)
	}
	// killer == victim counts a suicide and a death, never a kill
	if res.Summary.Suicides != 1 || res.Summary.Deaths != 1 || res.Summary.Kills != 0 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestParseWasKilledBy(t *testing.T) {
	res := Parse([]byte("You was killed by bob\n"), "alice")
	e := res.Events[0]
	if e.Type != domain.EventKill || e.Victim != "alice" || e.Killer != "bob" {
		t.Errorf("event = %+v", e)
	}
}

func TestParseChatAndJoin(t *testing.T) {
	input := "'alice' is joining the game.\nMessage from alice: good luck: have fun\n"
	res := Parse([]byte(input), "alice")
	if len(res.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(res.Events))
	}
	if res.Events[0].Type != domain.EventJoin || res.Events[0].Sender != "alice" {
		t.Errorf("join = %+v", res.Events[0])
	}
	chat := res.Events[1]
	if chat.Type != domain.EventChat || chat.Text != "good luck: have fun" {
		t.Errorf("chat = %+v", chat)
	}
}

func TestParseTimePrefix(t *testing.T) {
	res := Parse([]byte("[12.345678] You killed bob with Mega Missile\n"), "alice")
	if len(res.Events) != 1 {
		t.Fatalf("events = %+v", res.Events)
	}
	if res.Events[0].TimeMicros != 12_345_678 {
		t.Errorf("micros = %d, want 12345678", res.Events[0].TimeMicros)
	}
}

func TestParseQuitReactorEscape(t *testing.T) {
	input := strings.Join([]string{
		"bob has left the game",
		"The reactor has been destroyed!",
		"alice escaped through the exit tunnel",
	}, "\n")
	res := Parse([]byte(input), "alice")
	if len(res.Events) != 3 {
		t.Fatalf("got %d events: %+v", len(res.Events), res.Events)
	}
	want := []domain.EventType{domain.EventQuit, domain.EventReactorDestroyed, domain.EventEscape}
	for i, typ := range want {
		if res.Events[i].Type != typ {
			t.Errorf("event %d type = %s, want %s", i, res.Events[i].Type, typ)
		}
	}
}

func TestParseUnknownLinesRetained(t *testing.T) {
	res := Parse([]byte("some unrelated noise\nYou killed bob with Laser Lvl 4\n"), "alice")
	if len(res.Unknown) != 1 || res.Unknown[0] != "some unrelated noise" {
		t.Errorf("unknown = %v", res.Unknown)
	}
	if len(res.Events) != 1 {
		t.Errorf("events = %+v", res.Events)
	}
}

func TestInferIdentity(t *testing.T) {
	input := "'carol' is joining the game.\nYou killed bob with Spreadfire Cannon\n"
	res := Parse([]byte(input), "")
	if res.Summary.Identity != "carol" || !res.Summary.Provisional {
		t.Errorf("summary = %+v", res.Summary)
	}
	if res.Events[1].Killer != "carol" {
		t.Errorf("kill = %+v", res.Events[1])
	}
}

func TestInferIdentityAmbiguous(t *testing.T) {
	// Two join lines: no single candidate, identity stays empty.
	input := "'carol' is joining the game.\n'dave' is joining the game.\nYou killed bob with Vulcan Cannon\n"
	res := Parse([]byte(input), "")
	if res.Summary.Identity != "" || res.Summary.Provisional {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestStreakTracking(t *testing.T) {
	input := strings.Join([]string{
		"You killed bob with Plasma Cannon",
		"You killed carol with Plasma Cannon",
		"You killed bob with Fusion Cannon",
		"bob killed You with Vulcan Cannon",
		"You killed bob with Plasma Cannon",
	}, "\n")
	res := Parse([]byte(input), "alice")
	s := res.Summary
	if s.Kills != 4 || s.Deaths != 1 {
		t.Errorf("kills=%d deaths=%d", s.Kills, s.Deaths)
	}
	if s.MaxStreak != 3 || s.Streak != 1 {
		t.Errorf("streak=%d maxStreak=%d, want 1/3", s.Streak, s.MaxStreak)
	}
}

func TestParseRestartable(t *testing.T) {
	// A truncated input produces correct partial output and leaves no
	// state behind for the next call.
	full := "You killed bob with Plasma Cannon\nYou killed carol with Vulcan Cannon\n"
	partial := Parse([]byte(full[:34]), "alice")
	if partial.Summary.Kills != 1 {
		t.Errorf("partial kills = %d, want 1", partial.Summary.Kills)
	}
	again := Parse([]byte(full), "alice")
	if again.Summary.Kills != 2 {
		t.Errorf("full kills = %d, want 2", again.Summary.Kills)
	}
}
