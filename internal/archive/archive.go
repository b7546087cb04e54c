// Package archive is the long-term storage boundary. The tracker hands
// each finalized match to a Sink fire-and-forget; a sink failure never
// stalls or rolls back the live registry.
package archive

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Code-6dof/DXX-Dashboard/internal/domain"
)

// FinalizedMatch is the archival form of a match record: the live
// schema plus total duration and a stable filename-style id.
type FinalizedMatch struct {
	ID       string             `json:"id"`
	UUID     string             `json:"uuid"`
	Record   domain.MatchRecord `json:"record"`
	Duration time.Duration      `json:"duration"`
	EndedAt  time.Time          `json:"ended_at"`
	Reason   string             `json:"reason"` // "unregister" or "expired"
}

// Sink accepts finalized matches for long-term storage.
type Sink interface {
	Save(ctx context.Context, match *FinalizedMatch, events []domain.GameEvent) error
}

// NullSink discards everything. Used in tests and when no archive path
// is configured.
type NullSink struct{}

func (NullSink) Save(context.Context, *FinalizedMatch, []domain.GameEvent) error {
	return nil
}

var idUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveID builds the filename-style id the dashboard's historical
// pages use: slugified game name plus a dd-mm-yyyy-hh-mm-ss stamp.
func DeriveID(rec *domain.MatchRecord, endedAt time.Time) string {
	name := "game"
	if rec.Lite != nil && rec.Lite.GameName != "" {
		name = rec.Lite.GameName
	}
	slug := idUnsafe.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "game"
	}
	return fmt.Sprintf("%s-%s", slug, endedAt.UTC().Format("02-01-2006-15-04-05"))
}
