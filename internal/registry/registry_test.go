package registry

import (
	"net"
	"testing"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
	"github.com/Code-6dof/DXX-Dashboard/internal/protocol"
)

func testAddr(ip string, port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
}

func testRegister(gameID uint32) *protocol.Register {
	return &protocol.Register{
		Version:  domain.VersionD1,
		GamePort: 5000,
		GameID:   gameID,
		Major:    1, Minor: 3, Micro: 2,
	}
}

func testLite(gameID uint32) *domain.LiteInfo {
	return &domain.LiteInfo{
		GameID:      gameID,
		GameName:    "1v1",
		PlayerCount: 2,
		MaxPlayers:  2,
	}
}

func TestUpsertCreatesPending(t *testing.T) {
	r := New()
	now := time.Now()
	res := r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(0x04030201), now)
	if !res.Created || res.Replaced {
		t.Fatalf("result = %+v", res)
	}
	rec, ok := r.Get(domain.MatchKey{IP: "203.0.113.7", Port: 5000})
	if !ok || rec.State != domain.StatePending {
		t.Fatalf("record = %+v ok=%v", rec, ok)
	}
	if rec.SourceAddr.Port != 55000 {
		t.Errorf("source port = %d, want 55000", rec.SourceAddr.Port)
	}
}

func TestUpsertSameGameIDIsRefresh(t *testing.T) {
	r := New()
	t0 := time.Now()
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), t0)
	res := r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), t0.Add(time.Second))
	if res.Created || res.Replaced {
		t.Fatalf("refresh produced %+v", res)
	}
	rec, _ := r.Get(domain.MatchKey{IP: "203.0.113.7", Port: 5000})
	if !rec.LastSeen.After(t0) {
		t.Error("last-seen not bumped on refresh")
	}
}

func TestGameIDCollisionDropsPredecessor(t *testing.T) {
	r := New()
	now := time.Now()
	key := domain.MatchKey{IP: "203.0.113.7", Port: 5000}
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now)
	r.ApplyLite(key, testLite(1), now)
	es, _ := r.Events(key)
	es.Append(domain.GameEvent{Type: domain.EventKill, Killer: "a", Victim: "b"})

	res := r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(2), now)
	if !res.Created || !res.Replaced {
		t.Fatalf("collision result = %+v", res)
	}
	rec, _ := r.Get(key)
	if rec.State != domain.StatePending || rec.GameID != 2 {
		t.Errorf("successor = %+v", rec)
	}
	// Predecessor's events are discarded with it.
	es2, _ := r.Events(key)
	if len(es2.KillFeed()) != 0 {
		t.Error("predecessor event store survived the collision")
	}
}

func TestApplyLiteConfirmsOnce(t *testing.T) {
	r := New()
	now := time.Now()
	key := domain.MatchKey{IP: "203.0.113.7", Port: 5000}
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now)

	rec, confirmed, ok := r.ApplyLite(key, testLite(1), now)
	if !ok || !confirmed || rec.State != domain.StateConfirmed {
		t.Fatalf("first lite: rec=%+v confirmed=%v ok=%v", rec, confirmed, ok)
	}
	// ACK fires only on the first pending->confirmed edge.
	_, confirmed, ok = r.ApplyLite(key, testLite(1), now)
	if !ok || confirmed {
		t.Fatalf("second lite: confirmed=%v ok=%v", confirmed, ok)
	}
}

func TestApplyLiteGameIDMismatchDropped(t *testing.T) {
	r := New()
	now := time.Now()
	key := domain.MatchKey{IP: "203.0.113.7", Port: 5000}
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now)

	_, _, ok := r.ApplyLite(key, testLite(99), now)
	if ok {
		t.Fatal("lite with mismatched game-id applied")
	}
	rec, _ := r.Get(key)
	if rec.State != domain.StatePending || rec.Lite != nil {
		t.Errorf("record mutated: %+v", rec)
	}
}

func TestApplyFullBuildsPlayers(t *testing.T) {
	r := New()
	now := time.Now()
	key := domain.MatchKey{IP: "203.0.113.7", Port: 5000}
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now)

	full := &domain.FullInfo{}
	full.Slots[0] = domain.FullSlot{Callsign: "alice", Connected: true}
	full.Slots[1] = domain.FullSlot{Callsign: "alice", Connected: true} // duplicate callsign
	full.Slots[2] = domain.FullSlot{Callsign: "bob", Connected: true}
	full.TotalKills[0] = 3
	full.TotalDeaths[2] = 3

	rec, confirmed, ok := r.ApplyFull(key, full, now)
	if !ok || !confirmed {
		t.Fatalf("confirmed=%v ok=%v", confirmed, ok)
	}
	if len(rec.Players) != 3 {
		t.Fatalf("players = %+v", rec.Players)
	}
	if rec.Players[0].DisplayName != "alice" || rec.Players[1].DisplayName != "alice (1)" {
		t.Errorf("duplicate callsigns uniquified as %q, %q", rec.Players[0].DisplayName, rec.Players[1].DisplayName)
	}
	if rec.Players[0].Kills != 3 {
		t.Errorf("kills = %d, want 3", rec.Players[0].Kills)
	}
}

func TestApplyVersionDeny(t *testing.T) {
	r := New()
	now := time.Now()
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now)
	if n := r.ApplyVersionDeny("203.0.113.7", 7650); n != 1 {
		t.Fatalf("updated = %d, want 1", n)
	}
	rec, _ := r.Get(domain.MatchKey{IP: "203.0.113.7", Port: 5000})
	if rec.NetgameProto != 7650 {
		t.Errorf("proto = %d, want 7650", rec.NetgameProto)
	}
	// A second deny does not overwrite a learned protocol.
	if n := r.ApplyVersionDeny("203.0.113.7", 1111); n != 0 {
		t.Errorf("second deny updated %d records", n)
	}
}

func TestRemoveByGameID(t *testing.T) {
	r := New()
	now := time.Now()
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(0x04030201), now)

	removed, ok := r.RemoveByGameID("203.0.113.7", 0x04030201)
	if !ok || removed.Record.State != domain.StateDead {
		t.Fatalf("removed=%+v ok=%v", removed, ok)
	}
	if removed.Events == nil {
		t.Error("event store not handed back for archival")
	}
	if r.Len() != 0 {
		t.Error("record still present after removal")
	}
	if _, ok := r.RemoveByGameID("203.0.113.7", 0x04030201); ok {
		t.Error("double removal succeeded")
	}
}

func TestReapExpired(t *testing.T) {
	r := New()
	now := time.Now()
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now.Add(-6*time.Minute))
	r.UpsertOnRegister(testAddr("203.0.113.8", 55000), testRegister(2), now.Add(-4*time.Minute))

	reaped := r.ReapExpired(now)
	if len(reaped) != 1 {
		t.Fatalf("reaped %d records, want 1", len(reaped))
	}
	if reaped[0].Record.Key.IP != "203.0.113.7" || reaped[0].Record.State != domain.StateDead {
		t.Errorf("reaped = %+v", reaped[0].Record)
	}
	if r.Len() != 1 {
		t.Errorf("registry len = %d, want 1", r.Len())
	}
}

func TestReapBoundaryExactlyFiveMinutes(t *testing.T) {
	r := New()
	now := time.Now()
	// Exactly at the threshold is not yet expired (strictly greater).
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now.Add(-InactivityTimeout))
	if reaped := r.ReapExpired(now); len(reaped) != 0 {
		t.Fatalf("reaped %d records at exact threshold", len(reaped))
	}
}

func TestFindByAddrFallsBackToIP(t *testing.T) {
	r := New()
	now := time.Now()
	r.UpsertOnRegister(testAddr("203.0.113.7", 55000), testRegister(1), now)

	if _, ok := r.FindByAddr("203.0.113.7", 5000); !ok {
		t.Error("exact ip:port lookup failed")
	}
	if rec, ok := r.FindByAddr("203.0.113.7", 61234); !ok || rec.Key.Port != 5000 {
		t.Error("ip-only fallback failed")
	}
	if _, ok := r.FindByAddr("203.0.113.9", 5000); ok {
		t.Error("unknown ip matched")
	}
}

func TestLastRegisterWins(t *testing.T) {
	// Property 2: state is determined by the last REGISTER's game-id
	// and whether a matching UNREGISTER occurred.
	r := New()
	now := time.Now()
	src := testAddr("203.0.113.7", 55000)
	key := domain.MatchKey{IP: "203.0.113.7", Port: 5000}

	r.UpsertOnRegister(src, testRegister(1), now)
	r.ApplyLite(key, testLite(1), now)
	r.UpsertOnRegister(src, testRegister(2), now)
	r.UpsertOnRegister(src, testRegister(3), now)
	r.ApplyLite(key, testLite(3), now)

	rec, _ := r.Get(key)
	if rec.GameID != 3 || rec.State != domain.StateConfirmed {
		t.Fatalf("record = %+v", rec)
	}
	r.RemoveByGameID("203.0.113.7", 3)
	if r.Len() != 0 {
		t.Error("unregister of final game-id left a record")
	}
}
