// Package tracker contains the UDP protocol engine, the textual-stream
// store, and the aggregator that merges every evidence source into the
// dashboard view.
package tracker

import (
	"context"
	"fmt"
	"log"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/archive"
	"github.com/Code-6dof/DXX-Dashboard/internal/bus"
	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
	"github.com/Code-6dof/DXX-Dashboard/internal/protocol"
	"github.com/Code-6dof/DXX-Dashboard/internal/registry"
)

const (
	// DefaultPollInterval is the probe cadence for live records.
	DefaultPollInterval = 5 * time.Second
	// DefaultCleanupInterval is the reap cadence.
	DefaultCleanupInterval = 60 * time.Second

	maxDatagram = 65535
	ackSpacing  = 25 * time.Millisecond
	minGamePort = 1024
)

// Engine binds the single bidirectional UDP socket, classifies
// datagrams by opcode, drives the polling and cleanup cadences, and
// publishes every mutation on the event bus.
type Engine struct {
	reg     *registry.Registry
	bus     *bus.Bus
	uploads *Uploads
	sink    archive.Sink

	conn      *net.UDPConn
	startedAt time.Time

	pollInterval    time.Duration
	cleanupInterval time.Duration
	debugLog        bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Options tunes the engine; zero values take defaults.
type Options struct {
	PollInterval    time.Duration
	CleanupInterval time.Duration
	Debug           bool
}

// NewEngine wires the engine to its collaborators.
func NewEngine(reg *registry.Registry, b *bus.Bus, uploads *Uploads, sink archive.Sink, opts Options) *Engine {
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.CleanupInterval == 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if sink == nil {
		sink = archive.NullSink{}
	}
	return &Engine{
		reg:             reg,
		bus:             b,
		uploads:         uploads,
		sink:            sink,
		pollInterval:    opts.PollInterval,
		cleanupInterval: opts.CleanupInterval,
		debugLog:        opts.Debug,
		done:            make(chan struct{}),
	}
}

// Start binds the UDP socket and launches the receive, poll and
// cleanup loops.
func (e *Engine) Start(ctx context.Context, listenAddr string, port int) error {
	addr := &net.UDPAddr{IP: net.ParseIP(listenAddr), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("binding udp socket on port %d: %w", port, err)
	}
	e.conn = conn
	e.startedAt = time.Now().UTC()
	log.Printf("Tracker: listening for games on udp/%d", port)

	e.wg.Add(3)
	go e.recvLoop(ctx)
	go e.pollLoop(ctx)
	go e.cleanupLoop(ctx)
	return nil
}

// Stop closes the socket first so no new state enters the system, then
// waits for the loops to drain.
func (e *Engine) Stop() {
	close(e.done)
	if e.conn != nil {
		e.conn.Close()
	}
	e.wg.Wait()
	log.Println("Tracker: engine stopped")
}

// Uptime reports how long the engine has been running.
func (e *Engine) Uptime() time.Duration {
	return time.Since(e.startedAt)
}

// ActiveGames returns the number of confirmed matches.
func (e *Engine) ActiveGames() int {
	return len(e.reg.Confirmed())
}

func (e *Engine) recvLoop(ctx context.Context) {
	defer e.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			log.Printf("Tracker: udp read error: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.handlePacket(data, src)
	}
}

// handlePacket dispatches one datagram. A failure in a single handler
// must never take down the receive loop.
func (e *Engine) handlePacket(data []byte, src *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Tracker: panic handling packet from %s: %v\n%s", src, r, debug.Stack())
		}
	}()

	switch data[0] {
	case protocol.OpRegister:
		e.handleRegister(data, src)
	case protocol.OpUnregister: // also OpVersionDeny, split by length
		switch len(data) {
		case 5:
			e.handleUnregister(data, src)
		case 9:
			e.handleVersionDeny(data, src)
		default:
			e.debugf("opcode 1 with unexpected length %d from %s", len(data), src)
		}
	case protocol.OpGameListReq:
		e.handleGameListReq(data, src)
	case protocol.OpFullInfo:
		e.handleFullInfo(data, src)
	case protocol.OpLiteInfo:
		e.handleLiteInfo(data, src)
	case protocol.OpPData:
		// Position stream: ignored.
	case protocol.OpMDataNorm, protocol.OpMDataAck, protocol.OpObsData:
		e.handleMData(data, src)
	case protocol.OpGamelogKill:
		e.handleGamelogKill(data, src)
	case protocol.OpGamelogChat:
		e.handleGamelogChat(data, src)
	case protocol.OpWebUIPing:
		e.handlePing(data, src)
	default:
		e.debugf("unknown opcode %d (%d bytes) from %s", data[0], len(data), src)
	}
}

func (e *Engine) handleRegister(data []byte, src *net.UDPAddr) {
	reg, err := protocol.DecodeRegister(data)
	if err != nil {
		log.Printf("Tracker: dropping register from %s: %v", src, err)
		return
	}
	if reg.GamePort < minGamePort {
		log.Printf("Tracker: dropping register from %s: privileged game port %d", src, reg.GamePort)
		return
	}

	res := e.reg.UpsertOnRegister(src, reg, time.Now().UTC())
	if res.Replaced {
		// The old lifecycle is gone before the new record is visible.
		e.publish(domain.FrameGameRemoved, domain.GameRemovedFrame{
			Key:    res.Previous.Key.String(),
			GameID: res.Previous.GameID,
			Reason: "replaced",
		})
	}
	if res.Created {
		log.Printf("Tracker: registered %s game %#x at %s (from %s)",
			res.Record.VersionString(), reg.GameID, res.Record.Key, src)
	}

	// Probe immediately; the lite response will confirm the record.
	e.sendLiteProbe(res.Record)
}

func (e *Engine) handleUnregister(data []byte, src *net.UDPAddr) {
	unreg, err := protocol.DecodeUnregister(data)
	if err != nil {
		log.Printf("Tracker: dropping unregister from %s: %v", src, err)
		return
	}
	removed, ok := e.reg.RemoveByGameID(src.IP.String(), unreg.GameID)
	if !ok {
		e.debugf("unregister for unknown game %#x from %s", unreg.GameID, src)
		return
	}
	log.Printf("Tracker: game %#x at %s unregistered", unreg.GameID, removed.Record.Key)
	e.publish(domain.FrameGameRemoved, domain.GameRemovedFrame{
		Key:    removed.Record.Key.String(),
		GameID: removed.Record.GameID,
		Reason: "unregister",
	})
	e.archiveAsync(removed, "unregister")
}

func (e *Engine) handleVersionDeny(data []byte, src *net.UDPAddr) {
	deny, err := protocol.DecodeVersionDeny(data)
	if err != nil {
		log.Printf("Tracker: dropping version-deny from %s: %v", src, err)
		return
	}
	if n := e.reg.ApplyVersionDeny(src.IP.String(), deny.NetgameProto); n > 0 {
		log.Printf("Tracker: learned netgame proto %d for %s (%d records)",
			deny.NetgameProto, src.IP, n)
	}
}

func (e *Engine) handleGameListReq(data []byte, src *net.UDPAddr) {
	req, err := protocol.DecodeGameListReq(data)
	if err != nil {
		e.debugf("dropping game-list request from %s: %v", src, err)
		return
	}
	for _, rec := range e.reg.Confirmed() {
		if uint16(rec.Version) != req.Version || rec.Lite == nil {
			continue
		}
		entry := &protocol.GameListEntry{
			IP:     rec.Key.IP,
			Port:   rec.Key.Port,
			Major:  rec.Major,
			Minor:  rec.Minor,
			Micro:  rec.Micro,
			GameID: rec.GameID,
			Lite:   *rec.Lite,
		}
		e.send(protocol.EncodeGameListEntry(entry), src)
	}
}

func (e *Engine) handleLiteInfo(data []byte, src *net.UDPAddr) {
	lite, err := protocol.DecodeLiteInfo(data)
	if err != nil {
		log.Printf("Tracker: dropping lite info from %s: %v", src, err)
		return
	}
	rec, ok := e.reg.FindByAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		log.Printf("Tracker: lite info from unknown source %s", src)
		return
	}
	updated, confirmed, ok := e.reg.ApplyLite(rec.Key, lite, time.Now().UTC())
	if !ok {
		// Game-id mismatch: the response belongs to a different
		// lifecycle, the record stays untouched.
		e.debugf("lite info game-id %#x does not match record %#x at %s",
			lite.GameID, rec.GameID, rec.Key)
		return
	}
	e.afterInfoApplied(updated, confirmed)
}

func (e *Engine) handleFullInfo(data []byte, src *net.UDPAddr) {
	full, err := protocol.DecodeFullInfo(data)
	if err != nil {
		log.Printf("Tracker: dropping full info from %s: %v", src, err)
		return
	}
	rec, ok := e.reg.FindByAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		log.Printf("Tracker: full info from unknown source %s", src)
		return
	}
	updated, confirmed, ok := e.reg.ApplyFull(rec.Key, full, time.Now().UTC())
	if !ok {
		return
	}
	e.afterInfoApplied(updated, confirmed)
}

// afterInfoApplied runs outside the registry lock: fires the ACK
// triplet on the pending->confirmed edge and publishes the update.
func (e *Engine) afterInfoApplied(rec domain.MatchRecord, confirmed bool) {
	if confirmed {
		log.Printf("Tracker: confirmed %s at %s (%q)", rec.VersionString(), rec.Key, gameName(rec))
		e.sendAckTriplet(rec.SourceAddr)
		e.publish(domain.FrameGameNew, e.viewFor(rec))
		return
	}
	e.publish(domain.FrameGameUpdate, e.viewFor(rec))
}

func (e *Engine) handleMData(data []byte, src *net.UDPAddr) {
	events := protocol.ExtractMultiEvents(data)
	if len(events) == 0 {
		return
	}
	rec, ok := e.reg.FindByAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		e.debugf("mdata from unknown source %s", src)
		return
	}
	now := time.Now().UTC()
	for _, me := range events {
		ge := domain.GameEvent{
			ReceivedAt: now,
			KillerSlot: -1,
			VictimSlot: -1,
			SenderSlot: -1,
		}
		switch me.Tag {
		case protocol.MultiKill:
			ge.Type = domain.EventKill
			ge.KillerSlot = int(me.Killer)
			ge.VictimSlot = int(me.Victim)
			ge.Killer = rec.SlotName(int(me.Killer))
			ge.Victim = rec.SlotName(int(me.Victim))
			ge.Suicide = me.Killer == me.Victim
		case protocol.MultiPlayerExplode:
			ge.Type = domain.EventDeath
			ge.SenderSlot = int(me.Slot)
			ge.Sender = rec.SlotName(int(me.Slot))
		case protocol.MultiQuit:
			ge.Type = domain.EventQuit
			ge.SenderSlot = int(me.Slot)
			ge.Sender = rec.SlotName(int(me.Slot))
		case protocol.MultiMessage, protocol.MultiObsMessage:
			ge.Type = domain.EventChat
			ge.SenderSlot = int(me.Sender)
			ge.Sender = rec.SlotName(int(me.Sender))
			ge.Text = me.Text
			ge.IsObserver = me.Tag == protocol.MultiObsMessage
		}
		e.appendEvent(rec, ge)
	}
}

func (e *Engine) handleGamelogKill(data []byte, src *net.UDPAddr) {
	kill, err := protocol.DecodeGamelogKill(data)
	if err != nil {
		log.Printf("Tracker: dropping gamelog kill from %s: %v", src, err)
		return
	}
	// The source port is ephemeral on gamelog packets: correlate by IP.
	rec, ok := e.reg.FindByAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		log.Printf("Tracker: gamelog kill from unknown source %s", src)
		return
	}
	ge := domain.GameEvent{
		Type:       domain.EventKill,
		TimeMicros: kill.TimeMicros,
		ReceivedAt: time.Now().UTC(),
		KillerSlot: int(kill.KillerSlot),
		VictimSlot: int(kill.VictimSlot),
		SenderSlot: -1,
		Killer:     rec.SlotName(int(kill.KillerSlot)),
		Victim:     rec.SlotName(int(kill.VictimSlot)),
		WeaponType: kill.WeaponType,
		WeaponID:   kill.WeaponID,
		Weapon:     domain.WeaponName(kill.WeaponID),
		Suicide:    kill.KillerSlot == kill.VictimSlot,
	}
	e.appendEvent(rec, ge)
}

func (e *Engine) handleGamelogChat(data []byte, src *net.UDPAddr) {
	chat, err := protocol.DecodeGamelogChat(data)
	if err != nil {
		log.Printf("Tracker: dropping gamelog chat from %s: %v", src, err)
		return
	}
	rec, ok := e.reg.FindByAddr(src.IP.String(), uint16(src.Port))
	if !ok {
		log.Printf("Tracker: gamelog chat from unknown source %s", src)
		return
	}
	ge := domain.GameEvent{
		Type:       domain.EventChat,
		TimeMicros: chat.TimeMicros,
		ReceivedAt: time.Now().UTC(),
		KillerSlot: -1,
		VictimSlot: -1,
		SenderSlot: int(chat.SenderSlot),
		Sender:     rec.SlotName(int(chat.SenderSlot)),
		Text:       chat.Message,
	}
	e.appendEvent(rec, ge)
}

func (e *Engine) handlePing(data []byte, src *net.UDPAddr) {
	if err := protocol.DecodePing(data); err != nil {
		e.debugf("dropping ping from %s: %v", src, err)
		return
	}
	e.send(protocol.EncodePong(uint32(time.Now().Unix())), src)
}

// appendEvent stores a meaningful event and publishes it plus the
// refreshed match digest.
func (e *Engine) appendEvent(rec domain.MatchRecord, ge domain.GameEvent) {
	es, ok := e.reg.Events(rec.Key)
	if !ok {
		return
	}
	es.Append(ge)
	e.publish(domain.FrameGameEvent, domain.GameEventFrame{Key: rec.Key.String(), Event: ge})
	e.publish(domain.FrameGameSummary, e.viewFor(rec))
}

// NotifyStreamsChanged republishes the merged digest after a textual
// stream mutated (HTTP upload or local watcher progress).
func (e *Engine) NotifyStreamsChanged() {
	if latest, ok := e.reg.LatestConfirmed(); ok {
		e.publish(domain.FrameGameSummary, e.viewFor(latest))
	}
}

// viewFor builds the merged view for one record, binding textual
// streams when this is the freshest confirmed match.
func (e *Engine) viewFor(rec domain.MatchRecord) *View {
	es, _ := e.reg.Events(rec.Key)
	var streams []Stream
	if latest, ok := e.reg.LatestConfirmed(); ok && latest.Key == rec.Key {
		streams = e.uploads.Streams()
	}
	return BuildView(rec, es, streams)
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollAll()
		}
	}
}

// pollAll probes every record: lite for pending, full for confirmed.
// A confirmed game with an unknown proto receives proto 0; its
// version-deny response teaches the real value.
func (e *Engine) pollAll() {
	for _, rec := range e.reg.Pending() {
		e.sendLiteProbe(rec)
	}
	for _, rec := range e.reg.Confirmed() {
		e.sendFullProbe(rec)
	}
}

func (e *Engine) cleanupLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reapExpired(time.Now().UTC())
		}
	}
}

// reapExpired removes stale records and hands each one to the archive
// sink exactly once; the lifecycle is one-shot and a sink failure is
// never retried.
func (e *Engine) reapExpired(now time.Time) {
	for _, reaped := range e.reg.ReapExpired(now) {
		log.Printf("Tracker: reaping %s (idle since %s)",
			reaped.Record.Key, reaped.Record.LastSeen.Format(time.RFC3339))
		e.publish(domain.FrameGameRemoved, domain.GameRemovedFrame{
			Key:    reaped.Record.Key.String(),
			GameID: reaped.Record.GameID,
			Reason: "expired",
		})
		e.archiveAsync(reaped, "expired")
	}
}

// archiveAsync hands a dead match to the sink fire-and-forget.
func (e *Engine) archiveAsync(reaped registry.Reaped, reason string) {
	rec := reaped.Record
	endedAt := time.Now().UTC()
	finalized := &archive.FinalizedMatch{
		ID:       archive.DeriveID(&rec, endedAt),
		Record:   rec,
		Duration: endedAt.Sub(rec.CreatedAt),
		EndedAt:  endedAt,
		Reason:   reason,
	}
	var events []domain.GameEvent
	if reaped.Events != nil {
		events = reaped.Events.Timeline()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.sink.Save(ctx, finalized, events); err != nil {
			log.Printf("Tracker: archive sink failed for %s: %v", finalized.ID, err)
		}
	}()
}

func (e *Engine) sendLiteProbe(rec domain.MatchRecord) {
	probe := protocol.EncodeLiteInfoReq(rec.VersionTag(), rec.Major, rec.Minor, rec.Micro)
	e.send(probe, &net.UDPAddr{IP: net.ParseIP(rec.Key.IP), Port: int(rec.Key.Port)})
}

func (e *Engine) sendFullProbe(rec domain.MatchRecord) {
	probe := protocol.EncodeFullInfoReq(rec.VersionTag(), rec.Major, rec.Minor, rec.Micro, rec.NetgameProto)
	e.send(probe, &net.UDPAddr{IP: net.ParseIP(rec.Key.IP), Port: int(rec.Key.Port)})
}

// sendAckTriplet fires the opcode-21 ACK three times at 0/25/50 ms to
// the register source address, which may differ from the game port.
func (e *Engine) sendAckTriplet(addr *net.UDPAddr) {
	if addr == nil {
		return
	}
	ack := protocol.EncodeRegisterAck()
	e.send(ack, addr)
	go func() {
		for i := 0; i < 2; i++ {
			select {
			case <-e.done:
				return
			case <-time.After(ackSpacing):
			}
			e.send(ack, addr)
		}
	}()
}

func (e *Engine) send(data []byte, addr *net.UDPAddr) {
	if e.conn == nil {
		return
	}
	if _, err := e.conn.WriteToUDP(data, addr); err != nil {
		log.Printf("Tracker: udp send to %s failed: %v", addr, err)
	}
}

func (e *Engine) publish(frameType string, data interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.SubjectEvents, domain.Frame{Type: frameType, Data: data})
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.debugLog {
		log.Printf("Tracker: "+format, args...)
	}
}

func gameName(rec domain.MatchRecord) string {
	if rec.Lite != nil {
		return rec.Lite.GameName
	}
	if rec.Full != nil {
		return rec.Full.GameName
	}
	return ""
}
