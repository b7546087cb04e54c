package archive

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// formatTimestamp converts time.Time to a SQLite-friendly UTC ISO8601
// string; the Z suffix makes the driver parse it back as UTC.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Store is the sqlite-backed archive sink and the read side of the
// historical games API.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the archive database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements Sink: one finalized match plus its event timeline.
func (s *Store) Save(ctx context.Context, m *FinalizedMatch, events []domain.GameEvent) error {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}

	recordJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling finalized record: %w", err)
	}
	eventsGz, err := compressEvents(events)
	if err != nil {
		return fmt.Errorf("compressing events: %w", err)
	}

	rec := &m.Record
	var gameName, missionTitle, missionID string
	var level uint32
	var mode, status, maxPlayers uint8
	if rec.Lite != nil {
		gameName = rec.Lite.GameName
		missionTitle = rec.Lite.MissionTitle
		missionID = rec.Lite.MissionID
		level = rec.Lite.Level
		mode = rec.Lite.Mode
		status = rec.Lite.Status
		maxPlayers = rec.Lite.MaxPlayers
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning archive tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO games (id, uuid, host_ip, game_port, game_id, version,
			game_name, mission_title, mission_id, level, mode, status, max_players,
			started_at, ended_at, duration_seconds, end_reason, record_json, events_gz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, m.UUID, rec.Key.IP, rec.Key.Port, rec.GameID, rec.Version,
		gameName, missionTitle, missionID, level, mode, status, maxPlayers,
		formatTimestamp(rec.CreatedAt), formatTimestamp(m.EndedAt),
		int(m.Duration.Seconds()), m.Reason, string(recordJSON), eventsGz)
	if err != nil {
		return fmt.Errorf("inserting game: %w", err)
	}

	for _, p := range rec.Players {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO game_players (game_id, slot, name, display_name, kills, deaths, suicides, score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(game_id, slot) DO NOTHING
		`, m.ID, p.Slot, p.Name, p.DisplayName, p.Kills, p.Deaths, p.Suicides, p.Score)
		if err != nil {
			return fmt.Errorf("inserting player: %w", err)
		}
	}
	return tx.Commit()
}

// ArchivedGame is one row of the historical games listing.
type ArchivedGame struct {
	ID           string          `json:"id"`
	UUID         string          `json:"uuid"`
	GameName     string          `json:"game_name"`
	MissionTitle string          `json:"mission_title"`
	Version      int             `json:"version"`
	Mode         int             `json:"mode"`
	ModeName     string          `json:"mode_name"`
	StartedAt    string          `json:"timestamp"`
	EndedAt      string          `json:"ended_at"`
	Duration     int             `json:"duration_seconds"`
	Players      []ArchivedStats `json:"players"`
}

// ArchivedStats is one player's line in an archived game.
type ArchivedStats struct {
	Slot        int    `json:"slot"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
	Suicides    int    `json:"suicides"`
	Score       int    `json:"score"`
}

// List returns one page of archived games, newest first.
func (s *Store) List(ctx context.Context, page, limit int) ([]ArchivedGame, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM games").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting games: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, game_name, mission_title, version, mode,
			started_at, ended_at, duration_seconds
		FROM games ORDER BY ended_at DESC LIMIT ? OFFSET ?
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	var games []ArchivedGame
	for rows.Next() {
		var g ArchivedGame
		if err := rows.Scan(&g.ID, &g.UUID, &g.GameName, &g.MissionTitle,
			&g.Version, &g.Mode, &g.StartedAt, &g.EndedAt, &g.Duration); err != nil {
			return nil, 0, fmt.Errorf("scanning game: %w", err)
		}
		g.ModeName = domain.ModeName(uint8(g.Mode))
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for i := range games {
		players, err := s.gamePlayers(ctx, games[i].ID)
		if err != nil {
			return nil, 0, err
		}
		games[i].Players = players
	}
	return games, total, nil
}

// Meta summarizes the archive: totals plus oldest/newest timestamps.
type Meta struct {
	TotalGames   int     `json:"totalGames"`
	TotalPlayers int     `json:"totalPlayers"`
	Duels        int     `json:"duels"`
	FFA          int     `json:"ffa"`
	OldestGame   *string `json:"oldestGame"`
	NewestGame   *string `json:"newestGame"`
}

// GetMeta computes archive-wide counts.
func (s *Store) GetMeta(ctx context.Context) (*Meta, error) {
	m := &Meta{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN pc.n = 2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pc.n > 2 THEN 1 ELSE 0 END), 0)
		FROM games g
		LEFT JOIN (SELECT game_id, COUNT(*) AS n FROM game_players GROUP BY game_id) pc
			ON pc.game_id = g.id
	`).Scan(&m.TotalGames, &m.Duels, &m.FFA)
	if err != nil {
		return nil, fmt.Errorf("counting games: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT name) FROM game_players").Scan(&m.TotalPlayers); err != nil {
		return nil, fmt.Errorf("counting players: %w", err)
	}
	if m.TotalGames > 0 {
		var oldest, newest string
		if err := s.db.QueryRowContext(ctx,
			"SELECT MIN(started_at), MAX(started_at) FROM games").Scan(&oldest, &newest); err != nil {
			return nil, fmt.Errorf("reading timestamps: %w", err)
		}
		m.OldestGame = &oldest
		m.NewestGame = &newest
	}
	return m, nil
}

// GetByID loads one finalized record (full JSON form) plus its events.
func (s *Store) GetByID(ctx context.Context, id string) (*FinalizedMatch, []domain.GameEvent, error) {
	var recordJSON string
	var eventsGz []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT record_json, events_gz FROM games WHERE id = ?", id).Scan(&recordJSON, &eventsGz)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading game %s: %w", id, err)
	}

	var m FinalizedMatch
	if err := json.Unmarshal([]byte(recordJSON), &m); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	events, err := decompressEvents(eventsGz)
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing events: %w", err)
	}
	return &m, events, nil
}

func (s *Store) gamePlayers(ctx context.Context, gameID string) ([]ArchivedStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot, name, display_name, kills, deaths, suicides, score
		FROM game_players WHERE game_id = ? ORDER BY slot
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	defer rows.Close()

	var players []ArchivedStats
	for rows.Next() {
		var p ArchivedStats
		if err := rows.Scan(&p.Slot, &p.Name, &p.DisplayName, &p.Kills,
			&p.Deaths, &p.Suicides, &p.Score); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func compressEvents(events []domain.GameEvent) ([]byte, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressEvents(blob []byte) ([]domain.GameEvent, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	var events []domain.GameEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, err
	}
	return events, nil
}
