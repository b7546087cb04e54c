package protocol

import (
	"bytes"
	"encoding/binary"
)

// MULTI submessage tags extracted from MDATA/OBSDATA streams. Position
// and weapon-fire tags are deliberately absent: the tracker ignores them.
const (
	MultiKill          = 3
	MultiPlayerExplode = 5
	MultiMessage       = 6
	MultiQuit          = 7
	MultiObsMessage    = 61
)

// MultiEvent is one submessage pulled out of a multibuf.
type MultiEvent struct {
	Tag    byte
	Killer uint8  // MultiKill
	Victim uint8  // MultiKill
	Slot   uint8  // MultiPlayerExplode, MultiQuit
	Sender uint8  // MultiMessage, MultiObsMessage
	Text   string // MultiMessage, MultiObsMessage
}

// fixedMultiSize gives the total byte size (tag included) of the
// fixed-width tags the tracker understands. Text tags are sized by
// their NUL terminator; all other tags have unknown widths, so the
// scanner stops at the first one it meets.
var fixedMultiSize = map[byte]int{
	MultiKill:          3,
	MultiPlayerExplode: 2,
	MultiQuit:          2,
}

// multibufOffset returns the offset of the multibuf within an MDATA
// datagram. MDATA-A (opcode 20) carries a u32 packet number that
// MDATA-N (19) and OBSDATA (25) do not.
func multibufOffset(op byte) int {
	// u8 op, u32 token, u8 sender-slot
	off := 6
	if op == OpMDataAck {
		off += 4
	}
	return off
}

// MDataSender extracts the sender slot from an MDATA datagram header.
func MDataSender(b []byte) (uint8, error) {
	if len(b) < 6 {
		return 0, malformedReason(OpMDataNorm, len(b), "mdata too short")
	}
	return b[5], nil
}

// MDataToken extracts the game token from an MDATA datagram header.
func MDataToken(b []byte) (uint32, error) {
	if len(b) < 5 {
		return 0, malformedReason(OpMDataNorm, len(b), "mdata too short")
	}
	return binary.LittleEndian.Uint32(b[1:5]), nil
}

// ExtractMultiEvents scans the multibuf of an MDATA-N/MDATA-A/OBSDATA
// datagram and returns the submessages the tracker cares about. The
// scan is best-effort: an unknown tag ends it, because submessage
// widths are only contracted for the tags above.
func ExtractMultiEvents(b []byte) []MultiEvent {
	if len(b) == 0 {
		return nil
	}
	off := multibufOffset(b[0])
	if len(b) <= off {
		return nil
	}
	buf := b[off:]
	var events []MultiEvent
	for len(buf) > 0 {
		tag := buf[0]
		switch tag {
		case MultiKill:
			if len(buf) < 3 {
				return events
			}
			events = append(events, MultiEvent{Tag: tag, Killer: buf[1], Victim: buf[2]})
			buf = buf[fixedMultiSize[tag]:]
		case MultiPlayerExplode, MultiQuit:
			if len(buf) < 2 {
				return events
			}
			events = append(events, MultiEvent{Tag: tag, Slot: buf[1]})
			buf = buf[fixedMultiSize[tag]:]
		case MultiMessage, MultiObsMessage:
			if len(buf) < 3 {
				return events
			}
			nul := bytes.IndexByte(buf[2:], 0)
			if nul < 0 {
				// Unterminated text runs to the end of the datagram.
				events = append(events, MultiEvent{Tag: tag, Sender: buf[1], Text: cleanASCII(buf[2:])})
				return events
			}
			events = append(events, MultiEvent{Tag: tag, Sender: buf[1], Text: cleanASCII(buf[2 : 2+nul])})
			buf = buf[2+nul+1:]
		default:
			return events
		}
	}
	return events
}
