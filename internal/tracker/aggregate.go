package tracker

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
	"github.com/Code-6dof/DXX-Dashboard/internal/registry"
)

// Snapshot digest trim caps.
const (
	digestKillCap     = 50
	digestTimelineCap = 100
	digestChatCap     = 50
	digestWeaponCap   = 30
)

// PlayerView is one scoreboard line of a merged match view.
type PlayerView struct {
	Slot        int    `json:"slot"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Connected   bool   `json:"connected"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
	Suicides    int    `json:"suicides"`
	Score       int    `json:"score"`
}

// View is the merged, dashboard-facing state of one match, combining
// full-info stats, accumulated UDP events, and textual streams.
type View struct {
	Key          string                    `json:"key"`
	GameID       uint32                    `json:"gameId"`
	Version      string                    `json:"version"`
	State        string                    `json:"state"`
	GameName     string                    `json:"gameName,omitempty"`
	MissionTitle string                    `json:"missionTitle,omitempty"`
	MissionID    string                    `json:"missionId,omitempty"`
	Level        uint32                    `json:"level,omitempty"`
	Mode         string                    `json:"mode,omitempty"`
	Status       string                    `json:"status,omitempty"`
	Difficulty   uint8                     `json:"difficulty,omitempty"`
	PlayerCount  int                       `json:"playerCount"`
	MaxPlayers   int                       `json:"maxPlayers,omitempty"`
	Players      []PlayerView              `json:"players,omitempty"`
	KillMatrix   map[string]map[string]int `json:"killMatrix,omitempty"`
	KillFeed     []domain.GameEvent        `json:"killFeed"`
	Chat         []domain.GameEvent        `json:"chat"`
	Timeline     []domain.GameEvent        `json:"timeline"`
	LastKill     *domain.GameEvent         `json:"lastKill,omitempty"`
	StartTime    time.Time                 `json:"startTime"`
	LastSeen     time.Time                 `json:"lastSeen"`
}

// BuildView merges everything known about one match. streams carries
// the textual streams bound to this match (possibly none); their
// events only add to the timeline when the same occurrence was not
// already observed via UDP.
func BuildView(rec domain.MatchRecord, es *registry.EventStore, streams []Stream) *View {
	v := &View{
		Key:     rec.Key.String(),
		GameID:  rec.GameID,
		Version: rec.VersionString(),
		State:   string(rec.State),
	}
	if rec.Lite != nil {
		v.GameName = rec.Lite.GameName
		v.MissionTitle = rec.Lite.MissionTitle
		v.MissionID = rec.Lite.MissionID
		v.Level = rec.Lite.Level
		v.Mode = domain.ModeName(rec.Lite.Mode)
		v.Status = domain.StatusName(rec.Lite.Status)
		v.Difficulty = rec.Lite.Difficulty
		v.PlayerCount = int(rec.Lite.PlayerCount)
		v.MaxPlayers = int(rec.Lite.MaxPlayers)
	}
	if rec.Full != nil {
		// Full info wins over lite when both are present.
		v.GameName = rec.Full.GameName
		v.MissionTitle = rec.Full.MissionTitle
		v.MissionID = rec.Full.MissionID
		v.Mode = domain.ModeName(rec.Full.Mode)
		v.Status = domain.StatusName(rec.Full.Status)
		v.PlayerCount = int(rec.Full.CurrentPlayers)
		v.MaxPlayers = int(rec.Full.MaxPlayers)
	}
	v.LastSeen = rec.LastSeen
	v.StartTime = rec.CreatedAt

	var udp []domain.GameEvent
	if es != nil {
		udp = es.Timeline()
		v.StartTime = es.StartTime()
	}
	merged := mergeTimelines(udp, streams)
	v.Timeline = merged

	for i := range merged {
		e := merged[i]
		switch e.Type {
		case domain.EventKill:
			v.KillFeed = append(v.KillFeed, e)
			v.LastKill = &merged[i]
		case domain.EventChat:
			v.Chat = append(v.Chat, e)
		}
	}

	v.Players = mergePlayers(rec, merged)
	if len(v.Players) > 0 {
		connected := 0
		for _, p := range v.Players {
			if p.Connected {
				connected++
			}
		}
		if connected > v.PlayerCount {
			v.PlayerCount = connected
		}
	}
	v.KillMatrix = buildKillMatrix(rec, merged)
	return v
}

// eventKey is the dedup identity for timeline union: game time, type
// and participant display names. Events without a game clock are also
// matched by participant identity alone in mergeTimelines, so an
// uploader's clock-less line still collapses against the UDP
// observation of the same kill.
func eventKey(e domain.GameEvent) string {
	return fmt.Sprintf("%d|%s|%s|%s|%s", e.TimeMicros, e.Type, e.Killer, e.Victim, e.Sender)
}

func participantKey(e domain.GameEvent) string {
	switch e.Type {
	case domain.EventKill:
		return fmt.Sprintf("k|%s|%s|%s", e.Killer, e.Victim, e.Weapon)
	case domain.EventChat:
		return fmt.Sprintf("c|%s|%s", e.Sender, e.Text)
	default:
		return fmt.Sprintf("o|%s|%s", e.Type, e.Sender)
	}
}

// mergeTimelines unions UDP events with textual-stream events,
// collapsing duplicates and sorting ascending by game time.
func mergeTimelines(udp []domain.GameEvent, streams []Stream) []domain.GameEvent {
	merged := make([]domain.GameEvent, 0, len(udp))
	seen := make(map[string]bool)
	participants := make(map[string]bool)
	kills := make(map[string]bool) // weapon-blind kill identity

	add := func(e domain.GameEvent) {
		merged = append(merged, e)
		seen[eventKey(e)] = true
		participants[participantKey(e)] = true
		if e.Type == domain.EventKill {
			kills[fmt.Sprintf("%s|%s", e.Killer, e.Victim)] = true
		}
	}

	for _, e := range udp {
		add(e)
	}
	for _, s := range streams {
		for _, e := range s.Events {
			if seen[eventKey(e)] {
				continue
			}
			// A clock-less textual event duplicates any observation
			// with the same participants; a UDP kill also blocks the
			// same pair's textual kill because the two sources name
			// the weapon differently (id table vs log text).
			if e.TimeMicros == 0 {
				if participants[participantKey(e)] {
					continue
				}
				if e.Type == domain.EventKill && kills[fmt.Sprintf("%s|%s", e.Killer, e.Victim)] {
					continue
				}
			}
			add(e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].TimeMicros != merged[j].TimeMicros {
			return merged[i].TimeMicros < merged[j].TimeMicros
		}
		return merged[i].ReceivedAt.Before(merged[j].ReceivedAt)
	})
	return merged
}

// mergePlayers computes per-slot stats as the max across sources:
// full-info totals, UDP/textual event counts. A value observed once
// never regresses because a full-info refresh went missing.
func mergePlayers(rec domain.MatchRecord, timeline []domain.GameEvent) []PlayerView {
	nameToSlot := make(map[string]int)
	views := make([]PlayerView, 0, len(rec.Players))
	for _, p := range rec.Players {
		nameToSlot[strings.ToLower(p.DisplayName)] = p.Slot
		nameToSlot[strings.ToLower(p.Name)] = p.Slot
		views = append(views, PlayerView{
			Slot:        p.Slot,
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Connected:   p.Connected,
			Kills:       p.Kills,
			Deaths:      p.Deaths,
			Suicides:    p.Suicides,
			Score:       p.Score,
		})
	}

	type counts struct{ kills, deaths, suicides int }
	bySlot := make(map[int]*counts)
	slotFor := func(slot int, name string) int {
		if slot >= 0 {
			return slot
		}
		if s, ok := nameToSlot[strings.ToLower(name)]; ok {
			return s
		}
		return -1
	}
	bump := func(slot int) *counts {
		c, ok := bySlot[slot]
		if !ok {
			c = &counts{}
			bySlot[slot] = c
		}
		return c
	}

	for _, e := range timeline {
		if e.Type != domain.EventKill {
			continue
		}
		killer := slotFor(e.KillerSlot, e.Killer)
		victim := slotFor(e.VictimSlot, e.Victim)
		if e.Suicide || (killer >= 0 && killer == victim) {
			// A suicide is one suicide and one death, never a kill.
			if victim >= 0 {
				c := bump(victim)
				c.suicides++
				c.deaths++
			}
			continue
		}
		if killer >= 0 {
			bump(killer).kills++
		}
		if victim >= 0 {
			bump(victim).deaths++
		}
	}

	// Suicides also surface as negative diagonal entries in the
	// authoritative kill matrix.
	if rec.Full != nil {
		for i := range views {
			slot := views[i].Slot
			if d := rec.Full.KillMatrix[slot][slot]; d < 0 {
				c := bump(slot)
				if int(-d) > c.suicides {
					c.suicides = int(-d)
				}
			}
		}
	}

	for i := range views {
		if c, ok := bySlot[views[i].Slot]; ok {
			views[i].Kills = max(views[i].Kills, c.kills)
			views[i].Deaths = max(views[i].Deaths, c.deaths)
			views[i].Suicides = max(views[i].Suicides, c.suicides)
		}
	}
	return views
}

// buildKillMatrix renders the matrix keyed by display name: the
// full-info matrix verbatim when available, otherwise derived from the
// kill event stream. Uploader identities that match no slot stay out
// of the scoreboard.
func buildKillMatrix(rec domain.MatchRecord, timeline []domain.GameEvent) map[string]map[string]int {
	matrix := make(map[string]map[string]int)
	if rec.Full != nil && len(rec.Players) > 0 {
		for _, killer := range rec.Players {
			row := make(map[string]int)
			for _, victim := range rec.Players {
				row[victim.DisplayName] = int(rec.Full.KillMatrix[killer.Slot][victim.Slot])
			}
			matrix[killer.DisplayName] = row
		}
		return matrix
	}

	known := make(map[string]bool)
	for _, p := range rec.Players {
		known[p.DisplayName] = true
	}
	for _, e := range timeline {
		if e.Type != domain.EventKill || e.Killer == "" || e.Victim == "" {
			continue
		}
		if len(known) > 0 && (!known[e.Killer] || !known[e.Victim]) {
			continue
		}
		row, ok := matrix[e.Killer]
		if !ok {
			row = make(map[string]int)
			matrix[e.Killer] = row
		}
		row[e.Victim]++
	}
	if len(matrix) == 0 {
		return nil
	}
	return matrix
}

// Snapshot is the JSON document written atomically for dashboard
// consumption after every mutation and on each poll tick.
type Snapshot struct {
	UpdatedAt time.Time `json:"updatedAt"`
	Games     []*View   `json:"games"`
	Gamelog   *Digest   `json:"gamelog,omitempty"`
}

// BuildSnapshot assembles the live snapshot: every confirmed match's
// merged view plus the gamelog digest. Textual streams bind to the
// most-recently-seen confirmed match.
// TODO: stream binding ignores the source IP and gamelog-packet
// correlation falls back to the IP alone, so two concurrent matches
// behind one NAT mis-attribute events.
func BuildSnapshot(reg *registry.Registry, uploads *Uploads) *Snapshot {
	streams := uploads.Streams()
	latest, hasLatest := reg.LatestConfirmed()

	snap := &Snapshot{
		UpdatedAt: time.Now().UTC(),
		Games:     []*View{},
	}
	for _, rec := range reg.Confirmed() {
		es, _ := reg.Events(rec.Key)
		var bound []Stream
		if hasLatest && rec.Key == latest.Key {
			bound = streams
		}
		snap.Games = append(snap.Games, BuildView(rec, es, bound))
	}
	sort.Slice(snap.Games, func(i, j int) bool {
		return snap.Games[i].Key < snap.Games[j].Key
	})
	if len(streams) > 0 {
		snap.Gamelog = BuildDigest(streams)
	}
	return snap
}

// StreamTotals is one uploader's line in the digest totals.
type StreamTotals struct {
	Kills     int `json:"kills"`
	Deaths    int `json:"deaths"`
	Suicides  int `json:"suicides"`
	MaxStreak int `json:"maxStreak"`
}

// Digest is the top-level gamelog section of the snapshot file,
// summarizing the local watcher stream plus every uploaded stream.
type Digest struct {
	Totals         map[string]StreamTotals `json:"totals,omitempty"`
	KillFeed       []domain.GameEvent      `json:"killFeed"`
	Timeline       []domain.GameEvent      `json:"timeline"`
	Chat           []domain.GameEvent      `json:"chat"`
	DamageByWeapon map[string]int          `json:"damageByWeapon,omitempty"`
	Clients        int                     `json:"clients"`
}

// BuildDigest merges all textual streams into the snapshot's gamelog
// section, applying the trim caps.
func BuildDigest(streams []Stream) *Digest {
	merged := mergeTimelines(nil, streams)

	d := &Digest{
		Totals:  make(map[string]StreamTotals),
		Clients: len(streams),
	}
	damage := make(map[string]int)
	for _, e := range merged {
		switch e.Type {
		case domain.EventKill:
			d.KillFeed = append(d.KillFeed, e)
			if e.Weapon != "" && !e.Suicide {
				damage[e.Weapon]++
			}
		case domain.EventChat:
			d.Chat = append(d.Chat, e)
		}
	}
	d.Timeline = trimTail(merged, digestTimelineCap)
	d.KillFeed = trimTail(d.KillFeed, digestKillCap)
	d.Chat = trimTail(d.Chat, digestChatCap)
	d.DamageByWeapon = trimWeapons(damage, digestWeaponCap)
	for _, s := range streams {
		d.Totals[s.Identity] = StreamTotals{
			Kills:     s.Summary.Kills,
			Deaths:    s.Summary.Deaths,
			Suicides:  s.Summary.Suicides,
			MaxStreak: s.Summary.MaxStreak,
		}
	}
	return d
}

func trimTail(events []domain.GameEvent, capacity int) []domain.GameEvent {
	if len(events) <= capacity {
		return events
	}
	return events[len(events)-capacity:]
}

// trimWeapons keeps the top-n weapons by count.
func trimWeapons(damage map[string]int, n int) map[string]int {
	if len(damage) <= n {
		return damage
	}
	type kv struct {
		name  string
		count int
	}
	rows := make([]kv, 0, len(damage))
	for name, count := range damage {
		rows = append(rows, kv{name, count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].name < rows[j].name
	})
	out := make(map[string]int, n)
	for _, row := range rows[:n] {
		out[row.name] = row.count
	}
	return out
}
