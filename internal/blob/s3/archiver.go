package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/updownbet/updown/internal/domain"
)

// multipartThreshold is the serialized size above which the archiver switches
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// RoundArchiver implements domain.Archiver: it exports closed rounds and
// their bets to JSONL files in object storage.
//
// Deletion of archived rounds from the primary store is intentionally not
// performed here; that is a separate, explicit step after the archive has
// been verified.
type RoundArchiver struct {
	writer domain.BlobWriter
	rounds domain.RoundStore
	bets   domain.BetStore
	audit  domain.AuditStore // optional
}

// NewRoundArchiver creates a RoundArchiver. audit may be nil.
func NewRoundArchiver(writer domain.BlobWriter, rounds domain.RoundStore, bets domain.BetStore, audit domain.AuditStore) *RoundArchiver {
	return &RoundArchiver{
		writer: writer,
		rounds: rounds,
		bets:   bets,
		audit:  audit,
	}
}

// archivedRound is one JSONL record: a settled round together with every bet
// placed in it.
type archivedRound struct {
	Round domain.Round `json:"round"`
	Bets  []domain.Bet `json:"bets"`
}

// ArchiveRounds exports every closed round whose close time is strictly
// before the cutoff, one JSONL line per round, to
// archive/rounds/YYYY-MM.jsonl. It returns the number of rounds archived.
func (a *RoundArchiver) ArchiveRounds(ctx context.Context, before time.Time) (int, error) {
	rounds, err := a.rounds.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds query: %w", err)
	}
	if len(rounds) == 0 {
		return 0, nil
	}

	records := make([]archivedRound, 0, len(rounds))
	for _, r := range rounds {
		bets, err := a.bets.ListByRound(ctx, r.Market, r.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive rounds: bets for %s/%d: %w", r.Market, r.ID, err)
		}
		records = append(records, archivedRound{Round: r, Bets: bets})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds marshal: %w", err)
	}

	path := archivePath("rounds", before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive rounds upload: %w", err)
	}

	count := len(rounds)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.rounds", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive rounds audit log: %w", err)
		}
	}

	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/rounds/2025-06.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact line
// per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*RoundArchiver)(nil)
