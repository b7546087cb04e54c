// Package protocol implements the PyTracker-compatible UDP wire format
// spoken by DXX-Redux/Rebirth game hosts. All multi-byte integers are
// little-endian; strings are fixed-width null-padded ASCII. Decoders and
// encoders are pure and never perform I/O.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

// Opcodes. Byte 1 and byte 2 are each used for two distinct messages,
// disambiguated by datagram length.
const (
	OpRegister     = 0
	OpUnregister   = 1 // length 5
	OpVersionDeny  = 1 // length 9
	OpGameListReq  = 2 // length 3, client -> tracker
	OpFullInfoReq  = 2 // length 13, tracker -> game
	OpFullInfo     = 3
	OpLiteInfoReq  = 4
	OpLiteInfo     = 5
	OpPData        = 13
	OpMDataNorm    = 19
	OpMDataAck     = 20
	OpRegisterAck  = 21
	OpGameListResp = 22
	OpObsData      = 25
	OpGamelogKill  = 31
	OpGamelogChat  = 32
	OpWebUIPing    = 99
)

// MalformedPacketError reports a datagram that fails structural
// validation, carrying the expected and actual byte lengths.
type MalformedPacketError struct {
	Opcode   byte
	Expected int
	Actual   int
	Reason   string
}

func (e *MalformedPacketError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("malformed packet op=%d len=%d: %s", e.Opcode, e.Actual, e.Reason)
	}
	return fmt.Sprintf("malformed packet op=%d: expected %d bytes, got %d", e.Opcode, e.Expected, e.Actual)
}

func malformed(op byte, expected, actual int) error {
	return &MalformedPacketError{Opcode: op, Expected: expected, Actual: actual}
}

func malformedReason(op byte, actual int, reason string) error {
	return &MalformedPacketError{Opcode: op, Actual: actual, Reason: reason}
}

// cleanASCII trims a fixed-width field at the first NUL and strips any
// bytes outside printable ASCII (0x20-0x7E).
func cleanASCII(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 0x20 && c <= 0x7E {
			out = append(out, c)
		}
	}
	return string(out)
}

// putASCII writes s into a fixed-width null-padded field.
func putASCII(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
	if len(s) >= len(dst) {
		dst[len(dst)-1] = 0
	}
}

// Register is the opcode-0 announcement from a game host.
type Register struct {
	TrackerVer byte
	Version    byte // 1=D1, 2=D2
	GamePort   uint16
	GameID     uint32
	Major      uint16
	Minor      uint16
	Micro      uint16
}

// DecodeRegister decodes a 14- or 15-byte REGISTER datagram. The micro
// field is a u16 in 15-byte packets and a u8 in the legacy 14-byte form.
func DecodeRegister(b []byte) (*Register, error) {
	if len(b) != 14 && len(b) != 15 {
		return nil, malformed(OpRegister, 15, len(b))
	}
	if b[0] != OpRegister {
		return nil, malformedReason(OpRegister, len(b), "wrong opcode byte")
	}
	r := &Register{
		TrackerVer: b[1],
		Version:    b[2],
		GamePort:   binary.LittleEndian.Uint16(b[3:5]),
		GameID:     binary.LittleEndian.Uint32(b[5:9]),
		Major:      binary.LittleEndian.Uint16(b[9:11]),
		Minor:      binary.LittleEndian.Uint16(b[11:13]),
	}
	if len(b) == 15 {
		r.Micro = binary.LittleEndian.Uint16(b[13:15])
	} else {
		r.Micro = uint16(b[13])
	}
	return r, nil
}

// Unregister is the 5-byte opcode-1 removal request.
type Unregister struct {
	GameID uint32
}

func DecodeUnregister(b []byte) (*Unregister, error) {
	if len(b) != 5 {
		return nil, malformed(OpUnregister, 5, len(b))
	}
	if b[0] != OpUnregister {
		return nil, malformedReason(OpUnregister, len(b), "wrong opcode byte")
	}
	return &Unregister{GameID: binary.LittleEndian.Uint32(b[1:5])}, nil
}

// VersionDeny is the 9-byte opcode-1 response teaching the tracker the
// game's netgame protocol number.
type VersionDeny struct {
	Major        uint16
	Minor        uint16
	Micro        uint16
	NetgameProto uint16
}

func DecodeVersionDeny(b []byte) (*VersionDeny, error) {
	if len(b) != 9 {
		return nil, malformed(OpVersionDeny, 9, len(b))
	}
	if b[0] != OpVersionDeny {
		return nil, malformedReason(OpVersionDeny, len(b), "wrong opcode byte")
	}
	return &VersionDeny{
		Major:        binary.LittleEndian.Uint16(b[1:3]),
		Minor:        binary.LittleEndian.Uint16(b[3:5]),
		Micro:        binary.LittleEndian.Uint16(b[5:7]),
		NetgameProto: binary.LittleEndian.Uint16(b[7:9]),
	}, nil
}

// GameListReq is the 3-byte opcode-2 request from a listing client.
type GameListReq struct {
	Version uint16 // 1=D1, 2=D2
}

func DecodeGameListReq(b []byte) (*GameListReq, error) {
	if len(b) != 3 {
		return nil, malformed(OpGameListReq, 3, len(b))
	}
	if b[0] != OpGameListReq {
		return nil, malformedReason(OpGameListReq, len(b), "wrong opcode byte")
	}
	return &GameListReq{Version: binary.LittleEndian.Uint16(b[1:3])}, nil
}

// EncodeLiteInfoReq builds the 11-byte opcode-4 lite probe.
func EncodeLiteInfoReq(tag string, major, minor, micro uint16) []byte {
	b := make([]byte, 11)
	b[0] = OpLiteInfoReq
	putTag(b[1:5], tag)
	binary.LittleEndian.PutUint16(b[5:7], major)
	binary.LittleEndian.PutUint16(b[7:9], minor)
	binary.LittleEndian.PutUint16(b[9:11], micro)
	return b
}

// LiteInfoReq is the decoded form of an outgoing lite probe.
type LiteInfoReq struct {
	Tag   string
	Major uint16
	Minor uint16
	Micro uint16
}

func DecodeLiteInfoReq(b []byte) (*LiteInfoReq, error) {
	if len(b) != 11 {
		return nil, malformed(OpLiteInfoReq, 11, len(b))
	}
	if b[0] != OpLiteInfoReq {
		return nil, malformedReason(OpLiteInfoReq, len(b), "wrong opcode byte")
	}
	return &LiteInfoReq{
		Tag:   string(b[1:5]),
		Major: binary.LittleEndian.Uint16(b[5:7]),
		Minor: binary.LittleEndian.Uint16(b[7:9]),
		Micro: binary.LittleEndian.Uint16(b[9:11]),
	}, nil
}

// EncodeFullInfoReq builds the 13-byte outgoing opcode-2 full probe.
// Until a version-deny has taught the real netgame protocol, proto is
// sent as 0 and the game answers with a version-deny.
func EncodeFullInfoReq(tag string, major, minor, micro, proto uint16) []byte {
	b := make([]byte, 13)
	b[0] = OpFullInfoReq
	putTag(b[1:5], tag)
	binary.LittleEndian.PutUint16(b[5:7], major)
	binary.LittleEndian.PutUint16(b[7:9], minor)
	binary.LittleEndian.PutUint16(b[9:11], micro)
	binary.LittleEndian.PutUint16(b[11:13], proto)
	return b
}

// FullInfoReq is the decoded form of an outgoing full probe.
type FullInfoReq struct {
	Tag   string
	Major uint16
	Minor uint16
	Micro uint16
	Proto uint16
}

func DecodeFullInfoReq(b []byte) (*FullInfoReq, error) {
	if len(b) != 13 {
		return nil, malformed(OpFullInfoReq, 13, len(b))
	}
	if b[0] != OpFullInfoReq {
		return nil, malformedReason(OpFullInfoReq, len(b), "wrong opcode byte")
	}
	return &FullInfoReq{
		Tag:   string(b[1:5]),
		Major: binary.LittleEndian.Uint16(b[5:7]),
		Minor: binary.LittleEndian.Uint16(b[7:9]),
		Micro: binary.LittleEndian.Uint16(b[9:11]),
		Proto: binary.LittleEndian.Uint16(b[11:13]),
	}, nil
}

// putTag writes a 4-byte ASCII request id ("D1XR"/"D2XR").
func putTag(dst []byte, tag string) {
	for i := 0; i < 4; i++ {
		if i < len(tag) {
			dst[i] = tag[i]
		} else {
			dst[i] = 0
		}
	}
}

// EncodeRegisterAck builds the single-byte opcode-21 acknowledgment.
func EncodeRegisterAck() []byte {
	return []byte{OpRegisterAck}
}

// DecodeRegisterAck validates a 1-byte ACK.
func DecodeRegisterAck(b []byte) error {
	if len(b) != 1 {
		return malformed(OpRegisterAck, 1, len(b))
	}
	if b[0] != OpRegisterAck {
		return malformedReason(OpRegisterAck, len(b), "wrong opcode byte")
	}
	return nil
}

// Lite-info fixed field widths.
const (
	nameLen      = 16
	missionLen   = 26
	missionIDLen = 9
	liteInfoLen  = 73
)

// DecodeLiteInfo decodes the 73-byte opcode-5 lite announcement.
func DecodeLiteInfo(b []byte) (*domain.LiteInfo, error) {
	if len(b) != liteInfoLen {
		return nil, malformed(OpLiteInfo, liteInfoLen, len(b))
	}
	if b[0] != OpLiteInfo {
		return nil, malformedReason(OpLiteInfo, len(b), "wrong opcode byte")
	}
	info := &domain.LiteInfo{
		Major:        binary.LittleEndian.Uint16(b[1:3]),
		Minor:        binary.LittleEndian.Uint16(b[3:5]),
		Micro:        binary.LittleEndian.Uint16(b[5:7]),
		GameID:       binary.LittleEndian.Uint32(b[7:11]),
		GameName:     cleanASCII(b[11 : 11+nameLen]),
		MissionTitle: cleanASCII(b[27 : 27+missionLen]),
		MissionID:    cleanASCII(b[53 : 53+missionIDLen]),
		Level:        binary.LittleEndian.Uint32(b[62:66]),
		Mode:         b[66],
		RefuseFlag:   b[67],
		Difficulty:   b[68],
		Status:       b[69],
		PlayerCount:  b[70],
		MaxPlayers:   b[71],
		Flags:        b[72],
	}
	return info, nil
}

// EncodeLiteInfo is the inverse of DecodeLiteInfo; the tracker only
// ever receives lite info, but the codec keeps the pair symmetric for
// tests.
func EncodeLiteInfo(info *domain.LiteInfo) []byte {
	b := make([]byte, liteInfoLen)
	b[0] = OpLiteInfo
	binary.LittleEndian.PutUint16(b[1:3], info.Major)
	binary.LittleEndian.PutUint16(b[3:5], info.Minor)
	binary.LittleEndian.PutUint16(b[5:7], info.Micro)
	binary.LittleEndian.PutUint32(b[7:11], info.GameID)
	putASCII(b[11:11+nameLen], info.GameName)
	putASCII(b[27:27+missionLen], info.MissionTitle)
	putASCII(b[53:53+missionIDLen], info.MissionID)
	binary.LittleEndian.PutUint32(b[62:66], info.Level)
	b[66] = info.Mode
	b[67] = info.RefuseFlag
	b[68] = info.Difficulty
	b[69] = info.Status
	b[70] = info.PlayerCount
	b[71] = info.MaxPlayers
	b[72] = info.Flags
	return b
}

// GameListEntry is one opcode-22 frame in a game-list response.
type GameListEntry struct {
	IPv6   bool
	IP     string
	Port   uint16
	Major  uint16
	Minor  uint16
	Micro  uint16
	GameID uint32
	Lite   domain.LiteInfo
}

// EncodeGameListEntry builds one variable-length opcode-22 frame.
func EncodeGameListEntry(e *GameListEntry) []byte {
	fixed := 2 + len(e.IP) + 1 + 2 + 6 + 4 + nameLen + missionLen + missionIDLen + 4 + 7 + 1
	b := make([]byte, fixed)
	b[0] = OpGameListResp
	if e.IPv6 {
		b[1] = 1
	}
	off := 2
	copy(b[off:], e.IP)
	off += len(e.IP)
	b[off] = 0
	off++
	binary.LittleEndian.PutUint16(b[off:], e.Port)
	off += 2
	binary.LittleEndian.PutUint16(b[off:], e.Major)
	binary.LittleEndian.PutUint16(b[off+2:], e.Minor)
	binary.LittleEndian.PutUint16(b[off+4:], e.Micro)
	off += 6
	binary.LittleEndian.PutUint32(b[off:], e.GameID)
	off += 4
	putASCII(b[off:off+nameLen], e.Lite.GameName)
	off += nameLen
	putASCII(b[off:off+missionLen], e.Lite.MissionTitle)
	off += missionLen
	putASCII(b[off:off+missionIDLen], e.Lite.MissionID)
	off += missionIDLen
	binary.LittleEndian.PutUint32(b[off:], e.Lite.Level)
	off += 4
	b[off] = e.Lite.Mode
	b[off+1] = e.Lite.RefuseFlag
	b[off+2] = e.Lite.Difficulty
	b[off+3] = e.Lite.Status
	b[off+4] = e.Lite.PlayerCount
	b[off+5] = e.Lite.MaxPlayers
	b[off+6] = e.Lite.Flags
	// final byte is padding, left zero
	return b
}

// DecodeGameListEntry decodes one opcode-22 frame.
func DecodeGameListEntry(b []byte) (*GameListEntry, error) {
	if len(b) < 4 {
		return nil, malformedReason(OpGameListResp, len(b), "too short")
	}
	if b[0] != OpGameListResp {
		return nil, malformedReason(OpGameListResp, len(b), "wrong opcode byte")
	}
	nul := bytes.IndexByte(b[2:], 0)
	if nul < 0 {
		return nil, malformedReason(OpGameListResp, len(b), "unterminated address")
	}
	e := &GameListEntry{IPv6: b[1] == 1, IP: string(b[2 : 2+nul])}
	off := 2 + nul + 1
	need := off + 2 + 6 + 4 + nameLen + missionLen + missionIDLen + 4 + 7 + 1
	if len(b) < need {
		return nil, malformed(OpGameListResp, need, len(b))
	}
	e.Port = binary.LittleEndian.Uint16(b[off:])
	off += 2
	e.Major = binary.LittleEndian.Uint16(b[off:])
	e.Minor = binary.LittleEndian.Uint16(b[off+2:])
	e.Micro = binary.LittleEndian.Uint16(b[off+4:])
	off += 6
	e.GameID = binary.LittleEndian.Uint32(b[off:])
	off += 4
	e.Lite.GameID = e.GameID
	e.Lite.Major, e.Lite.Minor, e.Lite.Micro = e.Major, e.Minor, e.Micro
	e.Lite.GameName = cleanASCII(b[off : off+nameLen])
	off += nameLen
	e.Lite.MissionTitle = cleanASCII(b[off : off+missionLen])
	off += missionLen
	e.Lite.MissionID = cleanASCII(b[off : off+missionIDLen])
	off += missionIDLen
	e.Lite.Level = binary.LittleEndian.Uint32(b[off:])
	off += 4
	e.Lite.Mode = b[off]
	e.Lite.RefuseFlag = b[off+1]
	e.Lite.Difficulty = b[off+2]
	e.Lite.Status = b[off+3]
	e.Lite.PlayerCount = b[off+4]
	e.Lite.MaxPlayers = b[off+5]
	e.Lite.Flags = b[off+6]
	return e, nil
}

// GamelogKill is the 13-byte opcode-31 kill report.
type GamelogKill struct {
	TimeMicros uint64
	KillerSlot uint8
	VictimSlot uint8
	WeaponType uint8
	WeaponID   uint8
}

func DecodeGamelogKill(b []byte) (*GamelogKill, error) {
	if len(b) != 13 {
		return nil, malformed(OpGamelogKill, 13, len(b))
	}
	if b[0] != OpGamelogKill {
		return nil, malformedReason(OpGamelogKill, len(b), "wrong opcode byte")
	}
	return &GamelogKill{
		TimeMicros: binary.LittleEndian.Uint64(b[1:9]),
		KillerSlot: b[9],
		VictimSlot: b[10],
		WeaponType: b[11],
		WeaponID:   b[12],
	}, nil
}

// GamelogChat is the variable-length opcode-32 chat report.
type GamelogChat struct {
	TimeMicros uint64
	SenderSlot uint8
	Message    string
}

func DecodeGamelogChat(b []byte) (*GamelogChat, error) {
	if len(b) < 11 {
		return nil, malformed(OpGamelogChat, 11, len(b))
	}
	if b[0] != OpGamelogChat {
		return nil, malformedReason(OpGamelogChat, len(b), "wrong opcode byte")
	}
	msg := bytes.ReplaceAll(b[10:], []byte{0}, nil)
	return &GamelogChat{
		TimeMicros: binary.LittleEndian.Uint64(b[1:9]),
		SenderSlot: b[9],
		Message:    string(bytes.TrimSpace(msg)),
	}, nil
}

// DecodePing validates an opcode-99 web-UI ping (op byte + "ping").
func DecodePing(b []byte) error {
	if len(b) < 5 {
		return malformed(OpWebUIPing, 5, len(b))
	}
	if b[0] != OpWebUIPing || string(b[1:5]) != "ping" {
		return malformedReason(OpWebUIPing, len(b), "not a ping")
	}
	return nil
}

// EncodePong builds the 8-byte ping reply: "pong" plus unix seconds.
func EncodePong(unixSeconds uint32) []byte {
	b := make([]byte, 8)
	copy(b, "pong")
	binary.LittleEndian.PutUint32(b[4:], unixSeconds)
	return b
}

// DecodePong is the inverse of EncodePong.
func DecodePong(b []byte) (uint32, error) {
	if len(b) != 8 {
		return 0, malformed(OpWebUIPing, 8, len(b))
	}
	if string(b[:4]) != "pong" {
		return 0, malformedReason(OpWebUIPing, len(b), "not a pong")
	}
	return binary.LittleEndian.Uint32(b[4:]), nil
}
