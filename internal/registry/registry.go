// Package registry is the single source of truth for which matches are
// alive and what is currently known about each. All mutation happens
// under one read-write lock; callers receive copies and perform I/O
// only after the lock is released.
package registry

import (
	"net"
	"sync"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
	"github.com/Code-6dof/DXX-Dashboard/internal/protocol"
)

// InactivityTimeout is how long a match may go unseen before the
// cleanup tick reaps it.
const InactivityTimeout = 5 * time.Minute

// Registry indexes active matches by (host-ip, game-port).
type Registry struct {
	mu      sync.RWMutex
	matches map[domain.MatchKey]*entry
	timeout time.Duration
}

type entry struct {
	rec    domain.MatchRecord
	events *EventStore
}

// New creates an empty registry with the standard inactivity timeout.
func New() *Registry {
	return &Registry{
		matches: make(map[domain.MatchKey]*entry),
		timeout: InactivityTimeout,
	}
}

// UpsertResult describes what a REGISTER did to the registry.
type UpsertResult struct {
	Created  bool // a new record was inserted
	Replaced bool // a predecessor with a different game-id was dropped
	Record   domain.MatchRecord
	Previous *domain.MatchRecord // the dropped predecessor, when Replaced
}

// UpsertOnRegister ensures a record exists for the announced match.
// A game-id change under the same key drops the predecessor and its
// events before the new record is created; a same-game-id re-register
// is a refresh (last-seen bump).
func (r *Registry) UpsertOnRegister(src *net.UDPAddr, reg *protocol.Register, now time.Time) UpsertResult {
	key := domain.MatchKey{IP: src.IP.String(), Port: reg.GamePort}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ent, ok := r.matches[key]; ok {
		if ent.rec.GameID == reg.GameID {
			ent.rec.LastSeen = now
			ent.rec.SourceAddr = src
			return UpsertResult{Record: ent.rec}
		}
		// New lifecycle on the same key: the predecessor is gone.
		prev := ent.rec
		prev.State = domain.StateDead
		delete(r.matches, key)
		rec := newRecord(key, src, reg, now)
		r.matches[key] = &entry{rec: rec, events: NewEventStore(now)}
		return UpsertResult{Created: true, Replaced: true, Record: rec, Previous: &prev}
	}

	rec := newRecord(key, src, reg, now)
	r.matches[key] = &entry{rec: rec, events: NewEventStore(now)}
	return UpsertResult{Created: true, Record: rec}
}

func newRecord(key domain.MatchKey, src *net.UDPAddr, reg *protocol.Register, now time.Time) domain.MatchRecord {
	return domain.MatchRecord{
		Key:             key,
		GameID:          reg.GameID,
		Version:         reg.Version,
		Major:           reg.Major,
		Minor:           reg.Minor,
		Micro:           reg.Micro,
		SourceAddr:      src,
		State:           domain.StatePending,
		FirstRegistered: now,
		LastSeen:        now,
		CreatedAt:       now,
	}
}

// ApplyLite updates lite fields for the record at key. It returns the
// updated record and whether this decode caused the pending->confirmed
// transition (the only edge on which the register-ACK triplet fires).
// A game-id mismatch leaves the record untouched.
func (r *Registry) ApplyLite(key domain.MatchKey, lite *domain.LiteInfo, now time.Time) (rec domain.MatchRecord, confirmed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, found := r.matches[key]
	if !found {
		return domain.MatchRecord{}, false, false
	}
	if lite.GameID != ent.rec.GameID {
		return domain.MatchRecord{}, false, false
	}
	ent.rec.Lite = lite
	ent.rec.LastSeen = now
	if ent.rec.State == domain.StatePending {
		ent.rec.State = domain.StateConfirmed
		if !ent.rec.AckSent {
			ent.rec.AckSent = true
			confirmed = true
		}
	}
	return ent.rec, confirmed, true
}

// ApplyFull updates full-info fields, the player table and the kill
// matrix, preferring full-info numbers over lite when both exist.
func (r *Registry) ApplyFull(key domain.MatchKey, full *domain.FullInfo, now time.Time) (rec domain.MatchRecord, confirmed, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, found := r.matches[key]
	if !found {
		return domain.MatchRecord{}, false, false
	}
	ent.rec.Full = full
	ent.rec.LastSeen = now
	ent.rec.RebuildPlayers()
	if ent.rec.State == domain.StatePending {
		ent.rec.State = domain.StateConfirmed
		if !ent.rec.AckSent {
			ent.rec.AckSent = true
			confirmed = true
		}
	}
	return ent.rec, confirmed, true
}

// ApplyVersionDeny sets the netgame protocol for every record on the
// given IP whose protocol is still unknown. Returns how many records
// learned the protocol.
func (r *Registry) ApplyVersionDeny(ip string, proto uint16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for _, ent := range r.matches {
		if ent.rec.Key.IP == ip && ent.rec.NetgameProto == 0 {
			ent.rec.NetgameProto = proto
			updated++
		}
	}
	return updated
}

// RemoveByGameID removes the record matching IP and game-id, returning
// it together with its event store for archival. The source port of an
// UNREGISTER may differ from the game port, so only the IP participates
// in the lookup.
func (r *Registry) RemoveByGameID(ip string, gameID uint32) (Reaped, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, ent := range r.matches {
		if ent.rec.Key.IP == ip && ent.rec.GameID == gameID {
			rec := ent.rec
			rec.State = domain.StateDead
			removed := Reaped{Record: rec, Events: ent.events}
			delete(r.matches, key)
			return removed, true
		}
	}
	return Reaped{}, false
}

// Reaped pairs a removed record with its event store for archival.
type Reaped struct {
	Record domain.MatchRecord
	Events *EventStore
}

// ReapExpired removes and returns every record whose last-seen age
// exceeds the inactivity threshold.
func (r *Registry) ReapExpired(now time.Time) []Reaped {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reaped []Reaped
	for key, ent := range r.matches {
		if now.Sub(ent.rec.LastSeen) > r.timeout {
			rec := ent.rec
			rec.State = domain.StateDead
			reaped = append(reaped, Reaped{Record: rec, Events: ent.events})
			delete(r.matches, key)
		}
	}
	return reaped
}

// Get returns a copy of the record at key.
func (r *Registry) Get(key domain.MatchKey) (domain.MatchRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ent, ok := r.matches[key]; ok {
		return ent.rec, true
	}
	return domain.MatchRecord{}, false
}

// Events returns the live event store for key. The store has its own
// lock, so handing it out does not extend the registry's critical
// section.
func (r *Registry) Events(key domain.MatchKey) (*EventStore, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ent, ok := r.matches[key]; ok {
		return ent.events, true
	}
	return nil, false
}

// FindByAddr correlates a datagram source to a record: exact IP:port
// first, then IP alone. Game-info responses and gamelog packets can
// originate from an ephemeral source port, which is why the fallback
// exists.
func (r *Registry) FindByAddr(ip string, port uint16) (domain.MatchRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ent, ok := r.matches[domain.MatchKey{IP: ip, Port: port}]; ok {
		return ent.rec, true
	}
	for _, ent := range r.matches {
		if ent.rec.Key.IP == ip {
			return ent.rec, true
		}
	}
	return domain.MatchRecord{}, false
}

// List returns copies of every record.
func (r *Registry) List() []domain.MatchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.MatchRecord, 0, len(r.matches))
	for _, ent := range r.matches {
		out = append(out, ent.rec)
	}
	return out
}

// Confirmed returns copies of every confirmed record.
func (r *Registry) Confirmed() []domain.MatchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.MatchRecord
	for _, ent := range r.matches {
		if ent.rec.State == domain.StateConfirmed {
			out = append(out, ent.rec)
		}
	}
	return out
}

// Pending returns copies of every pending record.
func (r *Registry) Pending() []domain.MatchRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.MatchRecord
	for _, ent := range r.matches {
		if ent.rec.State == domain.StatePending {
			out = append(out, ent.rec)
		}
	}
	return out
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// LatestConfirmed returns the confirmed record with the newest
// last-seen time, if any. Textual gamelog streams bind to it.
func (r *Registry) LatestConfirmed() (domain.MatchRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *entry
	for _, ent := range r.matches {
		if ent.rec.State != domain.StateConfirmed {
			continue
		}
		if best == nil || ent.rec.LastSeen.After(best.rec.LastSeen) {
			best = ent
		}
	}
	if best == nil {
		return domain.MatchRecord{}, false
	}
	return best.rec, true
}
