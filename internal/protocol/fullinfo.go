package protocol

import (
	"encoding/binary"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

// Full-info (opcode 3) layout. After the 7-byte header (op + version
// triplet) come 12 fixed-size player slots; the slot stride is selected
// from the total packet length: 519/520 bytes use the 12-byte slot,
// every other length uses the 14-byte slot that appends ship color and
// missile color. A settings area follows the slot block.
const (
	fullHeaderLen = 7
	slotStride12  = 12
	slotStride14  = 14
	callsignLen   = 9
)

// Offsets within the settings area. The region between the score table
// and the end of the packet carries fields the tracker does not read.
const (
	setName       = 0
	setMission    = setName + nameLen
	setMissionID  = setMission + missionLen
	setMode       = setMissionID + missionIDLen
	setRefuse     = setMode + 1
	setDifficulty = setRefuse + 1
	setStatus     = setDifficulty + 1
	setPriorCount = setStatus + 1
	setMaxPlayers = setPriorCount + 1
	setCurPlayers = setMaxPlayers + 1
	setKillMatrix = setCurPlayers + 1
	setDeaths     = setKillMatrix + domain.MaxSlots*domain.MaxSlots*2
	setKills      = setDeaths + domain.MaxSlots*2
	setKillGoal   = setKills + domain.MaxSlots*2
	setPlayTime   = setKillGoal + 4
	setLevelTime  = setPlayTime + 4
	setInvulTime  = setLevelTime + 4
	setMonitorVec = setInvulTime + 4
	setScores     = setMonitorVec + 4
	settingsMin   = setScores + domain.MaxSlots*4
)

// slotStride picks the per-slot byte width from the total packet length.
// If a future release introduces a third layout this heuristic is the
// one place to extend.
func slotStride(packetLen int) int {
	if packetLen == 519 || packetLen == 520 {
		return slotStride12
	}
	return slotStride14
}

// DecodeFullInfo decodes a variable-length opcode-3 announcement.
func DecodeFullInfo(b []byte) (*domain.FullInfo, error) {
	if len(b) < fullHeaderLen {
		return nil, malformedReason(OpFullInfo, len(b), "too short for header")
	}
	if b[0] != OpFullInfo {
		return nil, malformedReason(OpFullInfo, len(b), "wrong opcode byte")
	}
	stride := slotStride(len(b))
	settingsStart := fullHeaderLen + domain.PacketSlots*stride
	if len(b) < settingsStart+settingsMin {
		return nil, malformed(OpFullInfo, settingsStart+settingsMin, len(b))
	}

	info := &domain.FullInfo{
		Major: binary.LittleEndian.Uint16(b[1:3]),
		Minor: binary.LittleEndian.Uint16(b[3:5]),
		Micro: binary.LittleEndian.Uint16(b[5:7]),
	}
	for i := 0; i < domain.PacketSlots; i++ {
		off := fullHeaderLen + i*stride
		slot := domain.FullSlot{
			Callsign:  cleanASCII(b[off : off+callsignLen]),
			Connected: b[off+callsignLen] != 0,
			Rank:      b[off+callsignLen+1],
		}
		if stride == slotStride14 {
			slot.Color = b[off+callsignLen+3]
			slot.MissileColor = b[off+callsignLen+4]
		}
		info.Slots[i] = slot
	}

	s := b[settingsStart:]
	info.GameName = cleanASCII(s[setName : setName+nameLen])
	info.MissionTitle = cleanASCII(s[setMission : setMission+missionLen])
	info.MissionID = cleanASCII(s[setMissionID : setMissionID+missionIDLen])
	info.Mode = s[setMode]
	info.RefuseFlag = s[setRefuse]
	info.Difficulty = s[setDifficulty]
	info.Status = s[setStatus]
	info.PriorPlayerCount = s[setPriorCount]
	info.MaxPlayers = s[setMaxPlayers]
	info.CurrentPlayers = s[setCurPlayers]

	for row := 0; row < domain.MaxSlots; row++ {
		for col := 0; col < domain.MaxSlots; col++ {
			off := setKillMatrix + (row*domain.MaxSlots+col)*2
			info.KillMatrix[row][col] = int16(binary.LittleEndian.Uint16(s[off:]))
		}
		info.TotalDeaths[row] = int16(binary.LittleEndian.Uint16(s[setDeaths+row*2:]))
		info.TotalKills[row] = int16(binary.LittleEndian.Uint16(s[setKills+row*2:]))
		info.Scores[row] = int32(binary.LittleEndian.Uint32(s[setScores+row*4:]))
	}
	info.KillGoal = int32(binary.LittleEndian.Uint32(s[setKillGoal:]))
	info.PlayTimeAllowed = int32(binary.LittleEndian.Uint32(s[setPlayTime:]))
	info.LevelTime = int32(binary.LittleEndian.Uint32(s[setLevelTime:]))
	info.ControlInvulTime = int32(binary.LittleEndian.Uint32(s[setInvulTime:]))
	info.MonitorVector = int32(binary.LittleEndian.Uint32(s[setMonitorVec:]))
	return info, nil
}

// EncodeFullInfo builds an opcode-3 packet in the 12-byte-slot layout
// (519 bytes total). Only tests and tooling encode full info; the
// tracker itself is a pure consumer.
func EncodeFullInfo(info *domain.FullInfo) []byte {
	const total = 519
	b := make([]byte, total)
	b[0] = OpFullInfo
	binary.LittleEndian.PutUint16(b[1:3], info.Major)
	binary.LittleEndian.PutUint16(b[3:5], info.Minor)
	binary.LittleEndian.PutUint16(b[5:7], info.Micro)
	for i := 0; i < domain.PacketSlots; i++ {
		off := fullHeaderLen + i*slotStride12
		putASCII(b[off:off+callsignLen], info.Slots[i].Callsign)
		if info.Slots[i].Connected {
			b[off+callsignLen] = 1
		}
		b[off+callsignLen+1] = info.Slots[i].Rank
	}

	s := b[fullHeaderLen+domain.PacketSlots*slotStride12:]
	putASCII(s[setName:setName+nameLen], info.GameName)
	putASCII(s[setMission:setMission+missionLen], info.MissionTitle)
	putASCII(s[setMissionID:setMissionID+missionIDLen], info.MissionID)
	s[setMode] = info.Mode
	s[setRefuse] = info.RefuseFlag
	s[setDifficulty] = info.Difficulty
	s[setStatus] = info.Status
	s[setPriorCount] = info.PriorPlayerCount
	s[setMaxPlayers] = info.MaxPlayers
	s[setCurPlayers] = info.CurrentPlayers

	for row := 0; row < domain.MaxSlots; row++ {
		for col := 0; col < domain.MaxSlots; col++ {
			off := setKillMatrix + (row*domain.MaxSlots+col)*2
			binary.LittleEndian.PutUint16(s[off:], uint16(info.KillMatrix[row][col]))
		}
		binary.LittleEndian.PutUint16(s[setDeaths+row*2:], uint16(info.TotalDeaths[row]))
		binary.LittleEndian.PutUint16(s[setKills+row*2:], uint16(info.TotalKills[row]))
		binary.LittleEndian.PutUint32(s[setScores+row*4:], uint32(info.Scores[row]))
	}
	binary.LittleEndian.PutUint32(s[setKillGoal:], uint32(info.KillGoal))
	binary.LittleEndian.PutUint32(s[setPlayTime:], uint32(info.PlayTimeAllowed))
	binary.LittleEndian.PutUint32(s[setLevelTime:], uint32(info.LevelTime))
	binary.LittleEndian.PutUint32(s[setInvulTime:], uint32(info.ControlInvulTime))
	binary.LittleEndian.PutUint32(s[setMonitorVec:], uint32(info.MonitorVector))
	return b
}
