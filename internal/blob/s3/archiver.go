package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// TradeLogSource is the slice of domain.TradeLogStore the archiver needs.
type TradeLogSource interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeLogEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// TradeLogArchiver implements domain.Archiver. Rows older than the cutoff
// are written as one JSONL object and deleted from the store only after the
// upload succeeds.
type TradeLogArchiver struct {
	writer domain.BlobWriter
	source TradeLogSource
	now    func() time.Time
}

// NewArchiver creates a new TradeLogArchiver.
func NewArchiver(writer domain.BlobWriter, source TradeLogSource) *TradeLogArchiver {
	return &TradeLogArchiver{writer: writer, source: source, now: time.Now}
}

// ArchiveTradeLog uploads every entry older than before and returns the
// number of rows archived.
func (a *TradeLogArchiver) ArchiveTradeLog(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.source.ListBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trade log query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trade log marshal: %w", err)
	}

	path := archivePath("trade_log", before, a.now())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trade log upload: %w", err)
	}

	if _, err := a.source.DeleteBefore(ctx, before); err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive trade log prune: %w", err)
	}
	return int64(len(entries)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// month of the cutoff:
//
//	archive/trade_log/2026-01/20260131T000000Z-1769817600.jsonl
func archivePath(kind string, before, now time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%d.jsonl",
		kind, before.Format("2006-01"), before.Format("20060102T150405Z"), now.Unix())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
var _ domain.Archiver = (*TradeLogArchiver)(nil)
