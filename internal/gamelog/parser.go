// Package gamelog parses DXX textual gamelog streams into typed events.
// Parsing is line-oriented and regex-driven; every call is independent,
// so a truncated input yields correct partial output.
package gamelog

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

// Patterns are compiled once and shared. All matching is
// case-insensitive and anchored to the full line (after the optional
// elapsed-time prefix has been stripped).
var (
	// Optional "[123.456789] " elapsed-seconds prefix; a fractional part
	// of up to six digits is right-padded to microseconds. A prefix with
	// a longer fraction does not match and stays part of the line.
	timePrefixRe = regexp.MustCompile(`^\[(\d+)(?:\.(\d{1,6}))?\]\s*`)

	// "'alice' is joining the game." - the quoted name is lazy so
	// names containing quotes keep the shortest plausible span.
	joinRe = regexp.MustCompile(`(?i)^'(.+?)' is joining the game\.?$`)

	// "alice killed bob with Plasma Cannon" - all three groups are lazy;
	// the end anchor makes the weapon run to the end of the line, so
	// weapon names with spaces survive and a trailing "." or "!" is left
	// out of the weapon.
	killRe = regexp.MustCompile(`(?i)^(.+?) killed (.+?) with (.+?)[.!]?$`)

	// "bob was killed by alice" - no weapon attribution.
	killedByRe = regexp.MustCompile(`(?i)^(.+?) was killed by (.+?)[.!]?$`)

	// "alice blew themselves up" / "alice committed suicide".
	suicideRe = regexp.MustCompile(`(?i)^(.+?) (?:committed suicide|blew (?:him|her|them|your)sel(?:f|ves) up)[.!]?$`)

	// "alice died" - death with no attributed killer.
	diedRe = regexp.MustCompile(`(?i)^(.+?) died[.!]?$`)

	// "alice has left the game" / "alice is leaving the game".
	quitRe = regexp.MustCompile(`(?i)^(.+?) (?:has left|is leaving) the game\.?$`)

	// "Message from alice: text" - the sender is lazy so a colon in
	// the message body stays in the text.
	chatRe = regexp.MustCompile(`(?i)^message from (.+?): (.+)$`)

	// "The reactor has been destroyed!" - no participant.
	reactorRe = regexp.MustCompile(`(?i)^(?:the )?reactor (?:has been |was )?destroyed[.!]?$`)

	// "alice escaped through the exit tunnel".
	escapeRe = regexp.MustCompile(`(?i)^(.+?) (?:has )?escaped(?: through the exit tunnel)?[.!]?$`)

	// "alice captured the red flag".
	flagRe = regexp.MustCompile(`(?i)^(.+?) captured the (?:red|blue) flag[.!]?$`)

	// "alice reached the kill goal".
	killGoalRe = regexp.MustCompile(`(?i)^(.+?) (?:has )?reached the kill goal[.!]?$`)
)

// NewSummary creates an empty summary bound to identity.
func NewSummary(identity string) Summary {
	return Summary{
		Identity: identity,
		Weapons:  make(map[string]int),
		Victims:  make(map[string]int),
		Killers:  make(map[string]int),
	}
}

// Summary accumulates numeric stats for the bound identity.
type Summary struct {
	Identity    string         `json:"identity"`
	Provisional bool           `json:"provisional,omitempty"`
	Kills       int            `json:"kills"`
	Deaths      int            `json:"deaths"`
	Suicides    int            `json:"suicides"`
	Streak      int            `json:"streak"`
	MaxStreak   int            `json:"max_streak"`
	Weapons     map[string]int `json:"weapons"`
	Victims     map[string]int `json:"victims"`
	Killers     map[string]int `json:"killers"`
}

// Result is the full output of one parse call.
type Result struct {
	Events  []domain.GameEvent
	Summary Summary
	Unknown []string // unmatched lines, retained for diagnostics only
}

// Parse lexes newline-delimited gamelog text into typed events.
// identity, when non-empty, replaces every "You"/"Yourself" participant
// so streams from different uploaders can be merged; when empty, an
// identity is inferred from the stream (join line plus at least one
// "You ..." action) and the summary is flagged provisional.
func Parse(content []byte, identity string) *Result {
	res := &Result{
		Summary: Summary{
			Weapons: make(map[string]int),
			Victims: make(map[string]int),
			Killers: make(map[string]int),
		},
	}

	inferred := identity == ""
	if inferred {
		identity = inferIdentity(content)
	}
	res.Summary.Identity = identity
	res.Summary.Provisional = inferred && identity != ""

	now := time.Now().UTC()
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		event, ok := parseLine(line, identity, now)
		if !ok {
			res.Unknown = append(res.Unknown, line)
			continue
		}
		res.Events = append(res.Events, event)
		res.Summary.Apply(event)
	}
	return res
}

// parseLine classifies one line. Pattern order matters: suicide and
// quit lines would otherwise partially satisfy the generic kill and
// died patterns.
func parseLine(line, identity string, now time.Time) (domain.GameEvent, bool) {
	var micros uint64
	if m := timePrefixRe.FindStringSubmatch(line); m != nil {
		secs, _ := strconv.ParseUint(m[1], 10, 64)
		micros = secs * 1_000_000
		if m[2] != "" {
			frac := m[2] + strings.Repeat("0", 6-len(m[2]))
			us, _ := strconv.ParseUint(frac, 10, 64)
			micros += us
		}
		line = line[len(m[0]):]
	}

	base := domain.GameEvent{
		TimeMicros: micros,
		ReceivedAt: now,
		KillerSlot: -1,
		VictimSlot: -1,
		SenderSlot: -1,
	}

	if m := joinRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventJoin
		base.Sender = rewriteYou(m[1], identity)
		return base, true
	}
	if m := chatRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventChat
		base.Sender = rewriteYou(m[1], identity)
		base.Text = m[2]
		return base, true
	}
	if m := suicideRe.FindStringSubmatch(line); m != nil {
		who := rewriteYou(m[1], identity)
		base.Type = domain.EventKill
		base.Killer = who
		base.Victim = who
		base.Suicide = true
		return base, true
	}
	// killedBy must run before the generic kill pattern: a line like
	// "bob was killed by alice with Vulcan" would otherwise bind
	// "bob was" as the killer.
	if m := killedByRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventKill
		base.Victim = rewriteYou(m[1], identity)
		base.Killer = rewriteYou(m[2], identity)
		base.Suicide = base.Killer != "" && base.Killer == base.Victim
		return base, true
	}
	if m := killRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventKill
		base.Killer = rewriteYou(m[1], identity)
		base.Victim = rewriteYou(m[2], identity)
		base.Weapon = strings.TrimSpace(m[3])
		base.Suicide = base.Killer != "" && base.Killer == base.Victim
		return base, true
	}
	if m := quitRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventQuit
		base.Sender = rewriteYou(m[1], identity)
		return base, true
	}
	if reactorRe.MatchString(line) {
		base.Type = domain.EventReactorDestroyed
		return base, true
	}
	if m := flagRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventFlagCaptured
		base.Sender = rewriteYou(m[1], identity)
		return base, true
	}
	if m := killGoalRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventKillGoal
		base.Sender = rewriteYou(m[1], identity)
		return base, true
	}
	if m := escapeRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventEscape
		base.Sender = rewriteYou(m[1], identity)
		return base, true
	}
	if m := diedRe.FindStringSubmatch(line); m != nil {
		base.Type = domain.EventDeath
		base.Sender = rewriteYou(m[1], identity)
		return base, true
	}
	return domain.GameEvent{}, false
}

// rewriteYou replaces the "You"/"Yourself" tokens with the bound
// identity. The rewrite happens at parse time so duplicate detection
// works across uploaders.
func rewriteYou(name, identity string) string {
	name = strings.TrimSpace(name)
	if identity == "" {
		return name
	}
	switch strings.ToLower(name) {
	case "you", "yourself":
		return identity
	}
	return name
}

// inferIdentity guesses the uploader's identity from the stream itself:
// exactly one join line plus at least one first-person action.
func inferIdentity(content []byte) string {
	var joined []string
	sawYou := false
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := timePrefixRe.FindStringSubmatch(line); m != nil {
			line = line[len(m[0]):]
		}
		if m := joinRe.FindStringSubmatch(line); m != nil {
			joined = append(joined, strings.TrimSpace(m[1]))
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "you ") || strings.Contains(lower, " you ") ||
			strings.Contains(lower, "yourself") {
			sawYou = true
		}
	}
	if len(joined) == 1 && sawYou {
		return joined[0]
	}
	return ""
}

// Apply folds one event into the running summary for the identity.
func (s *Summary) Apply(e domain.GameEvent) {
	if s.Identity == "" {
		return
	}
	if e.Type != domain.EventKill {
		if e.Type == domain.EventDeath && e.Sender == s.Identity {
			s.Deaths++
			s.Streak = 0
		}
		return
	}
	if e.Suicide {
		if e.Killer == s.Identity {
			s.Suicides++
			s.Deaths++
			s.Streak = 0
		}
		return
	}
	if e.Killer == s.Identity {
		s.Kills++
		s.Streak++
		if s.Streak > s.MaxStreak {
			s.MaxStreak = s.Streak
		}
		if e.Weapon != "" {
			s.Weapons[e.Weapon]++
		}
		if e.Victim != "" {
			s.Victims[e.Victim]++
		}
	}
	if e.Victim == s.Identity {
		s.Deaths++
		s.Streak = 0
		if e.Killer != "" {
			s.Killers[e.Killer]++
		}
	}
}
