package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// MaxSlots is the number of real player slots in a netgame.
const MaxSlots = 8

// PacketSlots is the number of slots carried in a full-info packet.
const PacketSlots = 12

// MatchKey identifies one live match by host IP and announced game port.
type MatchKey struct {
	IP   string
	Port uint16
}

func (k MatchKey) String() string {
	return net.JoinHostPort(k.IP, strconv.Itoa(int(k.Port)))
}

// ParseMatchKey parses an "ip:port" string back into a MatchKey.
func ParseMatchKey(s string) (MatchKey, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return MatchKey{}, fmt.Errorf("parsing match key %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return MatchKey{}, fmt.Errorf("parsing match key port %q: %w", portStr, err)
	}
	return MatchKey{IP: host, Port: uint16(port)}, nil
}

// Classification is the lifecycle state of a match record.
type Classification string

const (
	StatePending   Classification = "pending"
	StateConfirmed Classification = "confirmed"
	StateDead      Classification = "dead"
)

// DXX major version discriminators announced in REGISTER packets.
const (
	VersionD1 = 1
	VersionD2 = 2
)

// LiteInfo is the fixed-length match-state announcement (opcode 5).
type LiteInfo struct {
	Major        uint16 `json:"major"`
	Minor        uint16 `json:"minor"`
	Micro        uint16 `json:"micro"`
	GameID       uint32 `json:"game_id"`
	GameName     string `json:"game_name"`
	MissionTitle string `json:"mission_title"`
	MissionID    string `json:"mission_id"`
	Level        uint32 `json:"level"`
	Mode         uint8  `json:"mode"`
	RefuseFlag   uint8  `json:"refuse_flag"`
	Difficulty   uint8  `json:"difficulty"`
	Status       uint8  `json:"status"`
	PlayerCount  uint8  `json:"player_count"`
	MaxPlayers   uint8  `json:"max_players"`
	Flags        uint8  `json:"flags"`
}

// FullSlot is one raw player slot from a full-info packet.
type FullSlot struct {
	Callsign     string `json:"callsign"`
	Connected    bool   `json:"connected"`
	Rank         uint8  `json:"rank"`
	Color        uint8  `json:"color,omitempty"`
	MissileColor uint8  `json:"missile_color,omitempty"`
}

// Present reports whether the slot holds a real player.
// Slots with an empty callsign and connected == 0 are absent.
func (s FullSlot) Present() bool {
	return s.Callsign != "" || s.Connected
}

// FullInfo is the variable-length match-state announcement (opcode 3),
// carrying the player table and the authoritative kill matrix.
type FullInfo struct {
	Major            uint16                    `json:"major"`
	Minor            uint16                    `json:"minor"`
	Micro            uint16                    `json:"micro"`
	Slots            [PacketSlots]FullSlot     `json:"slots"`
	GameName         string                    `json:"game_name"`
	MissionTitle     string                    `json:"mission_title"`
	MissionID        string                    `json:"mission_id"`
	Mode             uint8                     `json:"mode"`
	RefuseFlag       uint8                     `json:"refuse_flag"`
	Difficulty       uint8                     `json:"difficulty"`
	Status           uint8                     `json:"status"`
	PriorPlayerCount uint8                     `json:"prior_player_count"`
	MaxPlayers       uint8                     `json:"max_players"`
	CurrentPlayers   uint8                     `json:"current_players"`
	KillMatrix       [MaxSlots][MaxSlots]int16 `json:"kill_matrix"`
	TotalDeaths      [MaxSlots]int16           `json:"total_deaths"`
	TotalKills       [MaxSlots]int16           `json:"total_kills"`
	KillGoal         int32                     `json:"kill_goal"`
	PlayTimeAllowed  int32                     `json:"play_time_allowed"`
	LevelTime        int32                     `json:"level_time"`
	ControlInvulTime int32                     `json:"control_invul_time"`
	MonitorVector    int32                     `json:"monitor_vector"`
	Scores           [MaxSlots]int32           `json:"scores"`
}

// PlayerSlot is the registry's consolidated view of one player position.
type PlayerSlot struct {
	Slot        int    `json:"slot"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Connected   bool   `json:"connected"`
	Rank        uint8  `json:"rank,omitempty"`
	Color       uint8  `json:"color,omitempty"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
	Suicides    int    `json:"suicides"`
	Score       int    `json:"score"`
}

// MatchRecord is everything the registry knows about one live match.
type MatchRecord struct {
	Key             MatchKey       `json:"key"`
	GameID          uint32         `json:"game_id"`
	Version         uint8          `json:"version"` // 1=D1, 2=D2
	Major           uint16         `json:"major"`
	Minor           uint16         `json:"minor"`
	Micro           uint16         `json:"micro"`
	NetgameProto    uint16         `json:"netgame_proto"`
	SourceAddr      *net.UDPAddr   `json:"-"`
	State           Classification `json:"state"`
	AckSent         bool           `json:"-"`
	FirstRegistered time.Time      `json:"first_registered"`
	LastSeen        time.Time      `json:"last_seen"`
	CreatedAt       time.Time      `json:"created_at"`
	Lite            *LiteInfo      `json:"lite,omitempty"`
	Full            *FullInfo      `json:"full,omitempty"`
	Players         []PlayerSlot   `json:"players,omitempty"`
}

// VersionTag returns the 4-byte request id used in probe packets.
func (r *MatchRecord) VersionTag() string {
	if r.Version == VersionD2 {
		return "D2XR"
	}
	return "D1XR"
}

// VersionString renders the release triplet, e.g. "D1 1.3.2".
func (r *MatchRecord) VersionString() string {
	prefix := "D1"
	if r.Version == VersionD2 {
		prefix = "D2"
	}
	return fmt.Sprintf("%s %d.%d.%d", prefix, r.Major, r.Minor, r.Micro)
}

// RebuildPlayers derives the consolidated player table from the latest
// full info, uniquifying duplicate callsigns with " (1)", " (2)" suffixes
// in slot order.
func (r *MatchRecord) RebuildPlayers() {
	if r.Full == nil {
		return
	}
	players := make([]PlayerSlot, 0, MaxSlots)
	seen := make(map[string]int)
	for i := 0; i < MaxSlots; i++ {
		slot := r.Full.Slots[i]
		if !slot.Present() {
			continue
		}
		display := slot.Callsign
		lower := strings.ToLower(slot.Callsign)
		if n, dup := seen[lower]; dup {
			display = fmt.Sprintf("%s (%d)", slot.Callsign, n)
			seen[lower] = n + 1
		} else {
			seen[lower] = 1
		}
		players = append(players, PlayerSlot{
			Slot:        i,
			Name:        slot.Callsign,
			DisplayName: display,
			Connected:   slot.Connected,
			Rank:        slot.Rank,
			Color:       slot.Color,
			Kills:       int(r.Full.TotalKills[i]),
			Deaths:      int(r.Full.TotalDeaths[i]),
			Score:       int(r.Full.Scores[i]),
		})
	}
	r.Players = players
}

// SlotName returns the display name for a slot index, falling back to
// "Player N" when the slot is unknown.
func (r *MatchRecord) SlotName(slot int) string {
	for _, p := range r.Players {
		if p.Slot == slot {
			return p.DisplayName
		}
	}
	return fmt.Sprintf("Player %d", slot)
}

var modeNames = []string{
	"Anarchy", "Team Anarchy", "Robo Anarchy", "Cooperative",
	"Capture Flag", "Hoard", "Team Hoard", "Bounty",
}

// ModeName converts a netgame mode enum value to its display name.
func ModeName(mode uint8) string {
	if int(mode) < len(modeNames) {
		return modeNames[mode]
	}
	return fmt.Sprintf("Unknown (%d)", mode)
}

var statusNames = []string{"Menu", "Playing", "Between", "EndLevel", "Forming"}

// StatusName converts a netgame status enum value to its display name.
func StatusName(status uint8) string {
	if int(status) < len(statusNames) {
		return statusNames[status]
	}
	return fmt.Sprintf("Unknown (%d)", status)
}
