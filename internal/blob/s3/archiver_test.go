package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if w.objects == nil {
		w.objects = map[string][]byte{}
		w.types = map[string]string{}
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

type memSource struct {
	entries []domain.TradeLogEntry
	deleted int
}

func (s *memSource) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.TradeLogEntry, error) {
	var out []domain.TradeLogEntry
	for _, e := range s.entries {
		if e.SignalTime.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memSource) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.TradeLogEntry
	var n int64
	for _, e := range s.entries {
		if e.SignalTime.Before(before) {
			n++
			continue
		}
		keep = append(keep, e)
	}
	s.entries = keep
	s.deleted += int(n)
	return n, nil
}

func TestArchiveTradeLog(t *testing.T) {
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	src := &memSource{entries: []domain.TradeLogEntry{
		{ID: "a", Action: domain.ActionBuy, AssetID: "ABC", SignalTime: base},
		{ID: "b", Action: domain.ActionSell, AssetID: "ABC", SignalTime: base.Add(time.Hour)},
		{ID: "c", Action: domain.ActionBuy, AssetID: "XYZ", SignalTime: base.Add(48 * time.Hour)},
	}}
	w := &memWriter{}
	a := NewArchiver(w, src)
	a.now = func() time.Time { return time.Unix(1700000000, 0) }

	cutoff := base.Add(24 * time.Hour)
	n, err := a.ArchiveTradeLog(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 2, src.deleted)
	require.Len(t, src.entries, 1)

	path := "archive/trade_log/2026-01/20260111T000000Z-1700000000.jsonl"
	require.Contains(t, w.objects, path)
	assert.Equal(t, "application/x-ndjson", w.types[path])

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(w.objects[path]))
	for sc.Scan() {
		var e domain.TradeLogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestArchiveTradeLog_Empty(t *testing.T) {
	w := &memWriter{}
	n, err := NewArchiver(w, &memSource{}).ArchiveTradeLog(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiveTradeLog_UploadFailureKeepsRows(t *testing.T) {
	src := &memSource{entries: []domain.TradeLogEntry{{ID: "a", SignalTime: time.Unix(0, 0)}}}
	w := &memWriter{err: errors.New("bucket gone")}

	_, err := NewArchiver(w, src).ArchiveTradeLog(context.Background(), time.Now())
	require.Error(t, err)
	assert.Len(t, src.entries, 1)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
