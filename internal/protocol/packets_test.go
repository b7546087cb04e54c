package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

func TestDecodeRegister(t *testing.T) {
	// 15-byte register: game-port 5000, game-id 0x04030201, v1.3.2, D1
	b := []byte{
		0x00, 0x00, 0x01,
		0x88, 0x13,
		0x01, 0x02, 0x03, 0x04,
		0x01, 0x00,
		0x03, 0x00,
		0x02, 0x00,
	}
	r, err := DecodeRegister(b)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if r.Version != 1 || r.GamePort != 5000 || r.GameID != 0x04030201 {
		t.Errorf("got version=%d port=%d id=%#x", r.Version, r.GamePort, r.GameID)
	}
	if r.Major != 1 || r.Minor != 3 || r.Micro != 2 {
		t.Errorf("got release %d.%d.%d, want 1.3.2", r.Major, r.Minor, r.Micro)
	}
}

func TestDecodeRegisterLegacy14(t *testing.T) {
	b := []byte{
		0x00, 0x00, 0x02,
		0x88, 0x13,
		0xEF, 0xBE, 0xAD, 0xDE,
		0x01, 0x00,
		0x04, 0x00,
		0x07, // u8 micro in the 14-byte form
	}
	r, err := DecodeRegister(b)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if r.Version != 2 || r.GameID != 0xDEADBEEF || r.Micro != 7 {
		t.Errorf("got version=%d id=%#x micro=%d", r.Version, r.GameID, r.Micro)
	}
}

func TestDecodeRejectsWrongLengths(t *testing.T) {
	tests := []struct {
		name    string
		decode  func([]byte) error
		badLens []int
	}{
		{"register", func(b []byte) error { _, err := DecodeRegister(b); return err }, []int{0, 1, 13, 16}},
		{"unregister", func(b []byte) error { _, err := DecodeUnregister(b); return err }, []int{0, 1, 4, 6}},
		{"version_deny", func(b []byte) error { _, err := DecodeVersionDeny(b); return err }, []int{0, 1, 8, 10}},
		{"game_list_req", func(b []byte) error { _, err := DecodeGameListReq(b); return err }, []int{0, 1, 2, 4}},
		{"lite_info", func(b []byte) error { _, err := DecodeLiteInfo(b); return err }, []int{0, 1, 72, 74}},
		{"gamelog_kill", func(b []byte) error { _, err := DecodeGamelogKill(b); return err }, []int{0, 1, 12, 14}},
		{"gamelog_chat", func(b []byte) error { _, err := DecodeGamelogChat(b); return err }, []int{0, 1, 10}},
		{"ping", func(b []byte) error { return DecodePing(b) }, []int{0, 1, 4}},
	}
	for _, tt := range tests {
		for _, n := range tt.badLens {
			b := make([]byte, n)
			err := tt.decode(b)
			if err == nil {
				t.Errorf("%s: length %d accepted", tt.name, n)
				continue
			}
			var mpe *MalformedPacketError
			if !errors.As(err, &mpe) {
				t.Errorf("%s: length %d returned %T, want MalformedPacketError", tt.name, n, err)
			}
		}
	}
}

func TestLiteInfoRoundTrip(t *testing.T) {
	info := &domain.LiteInfo{
		Major: 1, Minor: 3, Micro: 2,
		GameID:       0x04030201,
		GameName:     "1v1",
		MissionTitle: "Wrath",
		MissionID:    "wrath",
		Level:        1,
		Mode:         0,
		Difficulty:   4,
		Status:       1,
		PlayerCount:  2,
		MaxPlayers:   2,
	}
	b := EncodeLiteInfo(info)
	if len(b) != 73 {
		t.Fatalf("encoded length = %d, want 73", len(b))
	}
	got, err := DecodeLiteInfo(b)
	if err != nil {
		t.Fatalf("DecodeLiteInfo: %v", err)
	}
	if *got != *info {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, info)
	}
}

func TestLiteInfoReqRoundTrip(t *testing.T) {
	b := EncodeLiteInfoReq("D1XR", 1, 3, 2)
	if len(b) != 11 {
		t.Fatalf("encoded length = %d, want 11", len(b))
	}
	// S1 contract: outgoing lite probe starts 04 44 31 58 52
	want := []byte{0x04, 0x44, 0x31, 0x58, 0x52}
	for i, c := range want {
		if b[i] != c {
			t.Fatalf("byte %d = %#02x, want %#02x", i, b[i], c)
		}
	}
	req, err := DecodeLiteInfoReq(b)
	if err != nil {
		t.Fatalf("DecodeLiteInfoReq: %v", err)
	}
	if req.Tag != "D1XR" || req.Major != 1 || req.Minor != 3 || req.Micro != 2 {
		t.Errorf("round trip mismatch: %+v", req)
	}
}

func TestFullInfoReqRoundTrip(t *testing.T) {
	b := EncodeFullInfoReq("D2XR", 1, 4, 0, 7650)
	if len(b) != 13 {
		t.Fatalf("encoded length = %d, want 13", len(b))
	}
	req, err := DecodeFullInfoReq(b)
	if err != nil {
		t.Fatalf("DecodeFullInfoReq: %v", err)
	}
	if req.Tag != "D2XR" || req.Proto != 7650 {
		t.Errorf("round trip mismatch: %+v", req)
	}
}

func TestRegisterAckRoundTrip(t *testing.T) {
	b := EncodeRegisterAck()
	if len(b) != 1 || b[0] != 21 {
		t.Fatalf("ack = %v, want [21]", b)
	}
	if err := DecodeRegisterAck(b); err != nil {
		t.Fatalf("DecodeRegisterAck: %v", err)
	}
}

func TestPongRoundTrip(t *testing.T) {
	b := EncodePong(1700000000)
	if len(b) != 8 || string(b[:4]) != "pong" {
		t.Fatalf("pong = %v", b)
	}
	ts, err := DecodePong(b)
	if err != nil {
		t.Fatalf("DecodePong: %v", err)
	}
	if ts != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", ts)
	}
}

func TestGameListEntryRoundTrip(t *testing.T) {
	e := &GameListEntry{
		IP:    "203.0.113.7",
		Port:  5000,
		Major: 1, Minor: 3, Micro: 2,
		GameID: 0x04030201,
		Lite: domain.LiteInfo{
			GameID: 0x04030201,
			Major:  1, Minor: 3, Micro: 2,
			GameName:     "1v1",
			MissionTitle: "Wrath",
			MissionID:    "wrath",
			Level:        1,
			PlayerCount:  2,
			MaxPlayers:   2,
		},
	}
	b := EncodeGameListEntry(e)
	if b[0] != OpGameListResp {
		t.Fatalf("opcode = %d, want 22", b[0])
	}
	got, err := DecodeGameListEntry(b)
	if err != nil {
		t.Fatalf("DecodeGameListEntry: %v", err)
	}
	if got.IP != e.IP || got.Port != e.Port || got.GameID != e.GameID {
		t.Errorf("header mismatch: %+v", got)
	}
	if got.Lite != e.Lite {
		t.Errorf("lite mismatch:\n got %+v\nwant %+v", got.Lite, e.Lite)
	}
}

func TestDecodeGamelogKill(t *testing.T) {
	b := make([]byte, 13)
	b[0] = OpGamelogKill
	binary.LittleEndian.PutUint64(b[1:9], 12_345_678)
	b[9] = 0  // killer slot
	b[10] = 1 // victim slot
	b[11] = 0
	b[12] = 13 // Plasma Cannon
	k, err := DecodeGamelogKill(b)
	if err != nil {
		t.Fatalf("DecodeGamelogKill: %v", err)
	}
	if k.TimeMicros != 12_345_678 || k.KillerSlot != 0 || k.VictimSlot != 1 || k.WeaponID != 13 {
		t.Errorf("decoded %+v", k)
	}
}

func TestDecodeGamelogChat(t *testing.T) {
	msg := "hello there\x00"
	b := make([]byte, 10+len(msg))
	b[0] = OpGamelogChat
	binary.LittleEndian.PutUint64(b[1:9], 99)
	b[9] = 3
	copy(b[10:], msg)
	c, err := DecodeGamelogChat(b)
	if err != nil {
		t.Fatalf("DecodeGamelogChat: %v", err)
	}
	if c.SenderSlot != 3 || c.Message != "hello there" || c.TimeMicros != 99 {
		t.Errorf("decoded %+v", c)
	}
}

func TestFullInfoRoundTrip(t *testing.T) {
	info := &domain.FullInfo{
		Major: 1, Minor: 3, Micro: 2,
		GameName:     "brawl",
		MissionTitle: "Black Prophecy",
		MissionID:    "blkproph",
		Mode:         0,
		Status:       1,
		MaxPlayers:   8,
	}
	info.Slots[0] = domain.FullSlot{Callsign: "alice", Connected: true, Rank: 3}
	info.Slots[1] = domain.FullSlot{Callsign: "bob", Connected: true}
	info.KillMatrix[0][1] = 5
	info.KillMatrix[1][0] = 2
	info.KillMatrix[1][1] = -1 // suicides are negative on the diagonal
	info.TotalKills[0] = 5
	info.TotalKills[1] = 2
	info.TotalDeaths[0] = 2
	info.TotalDeaths[1] = 6
	info.Scores[0] = 5
	info.Scores[1] = 1
	info.KillGoal = 20

	b := EncodeFullInfo(info)
	if len(b) != 519 {
		t.Fatalf("encoded length = %d, want 519", len(b))
	}
	got, err := DecodeFullInfo(b)
	if err != nil {
		t.Fatalf("DecodeFullInfo: %v", err)
	}
	if got.Slots[0].Callsign != "alice" || !got.Slots[0].Connected {
		t.Errorf("slot 0 = %+v", got.Slots[0])
	}
	if got.KillMatrix[0][1] != 5 || got.KillMatrix[1][1] != -1 {
		t.Errorf("kill matrix = %v", got.KillMatrix)
	}
	if got.TotalKills != info.TotalKills || got.TotalDeaths != info.TotalDeaths {
		t.Errorf("totals mismatch: kills=%v deaths=%v", got.TotalKills, got.TotalDeaths)
	}
	if got.Scores != info.Scores || got.KillGoal != 20 {
		t.Errorf("scores=%v killGoal=%d", got.Scores, got.KillGoal)
	}
	if got.GameName != "brawl" || got.MissionTitle != "Black Prophecy" {
		t.Errorf("settings mismatch: %q %q", got.GameName, got.MissionTitle)
	}
}

func TestDecodeFullInfoTooShort(t *testing.T) {
	b := make([]byte, 100)
	b[0] = OpFullInfo
	if _, err := DecodeFullInfo(b); err == nil {
		t.Fatal("100-byte full info accepted")
	}
}

func TestCleanASCII(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("1v1\x00\x00\x00"), "1v1"},
		{[]byte("na\x01me"), "name"},
		{[]byte{0x00, 'x'}, ""},
		{[]byte("plain"), "plain"},
	}
	for _, tt := range tests {
		if got := cleanASCII(tt.in); got != tt.want {
			t.Errorf("cleanASCII(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractMultiEvents(t *testing.T) {
	// MDATA-N header + kill(0,1) + message from 2 + quit(3)
	b := []byte{OpMDataNorm, 0xAA, 0xBB, 0xCC, 0xDD, 0x02}
	b = append(b, MultiKill, 0, 1)
	b = append(b, MultiMessage, 2)
	b = append(b, []byte("gg\x00")...)
	b = append(b, MultiQuit, 3)
	events := ExtractMultiEvents(b)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}
	if events[0].Tag != MultiKill || events[0].Killer != 0 || events[0].Victim != 1 {
		t.Errorf("kill = %+v", events[0])
	}
	if events[1].Tag != MultiMessage || events[1].Sender != 2 || events[1].Text != "gg" {
		t.Errorf("message = %+v", events[1])
	}
	if events[2].Tag != MultiQuit || events[2].Slot != 3 {
		t.Errorf("quit = %+v", events[2])
	}
}

func TestExtractMultiEventsStopsAtUnknownTag(t *testing.T) {
	b := []byte{OpMDataNorm, 0, 0, 0, 0, 0}
	b = append(b, MultiKill, 4, 5)
	b = append(b, 42, 1, 2, 3) // unknown tag: width unknowable, scan must stop
	b = append(b, MultiKill, 6, 7)
	events := ExtractMultiEvents(b)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}

func TestExtractMultiEventsAckOffset(t *testing.T) {
	// MDATA-A carries a u32 packet number before the multibuf.
	b := []byte{OpMDataAck, 0, 0, 0, 0, 0, 9, 9, 9, 9}
	b = append(b, MultiPlayerExplode, 6)
	events := ExtractMultiEvents(b)
	if len(events) != 1 || events[0].Tag != MultiPlayerExplode || events[0].Slot != 6 {
		t.Fatalf("got %+v", events)
	}
}
