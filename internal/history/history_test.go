package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	return map[string]Backend{
		"sqlite": NewSQLite(t.TempDir()),
		"json":   NewFlatFile(t.TempDir()),
	}
}

func rec(i int) Record {
	return Record{
		ID:        fmt.Sprintf("id-%02d", i),
		URL:       fmt.Sprintf("https://example.com/%d", i),
		Timestamp: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC).Format(TimestampLayout),
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Append(ctx, rec(1), 100))

			got, err := b.List(ctx, 100)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, rec(1), got[0])
		})
	}
}

func TestCapEnforcedNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 10; i++ {
				require.NoError(t, b.Append(ctx, rec(i), 5))
			}

			got, err := b.List(ctx, 100)
			require.NoError(t, err)
			require.Len(t, got, 5)
			for i, r := range got {
				assert.Equal(t, rec(9-i), r)
			}
		})
	}
}

func TestListLimit(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				require.NoError(t, b.Append(ctx, rec(i), 100))
			}
			got, err := b.List(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, []Record{rec(3), rec(2)}, got)
		})
	}
}

func TestEmptyHistory(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			got, err := b.List(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.NotNil(t, got)
		})
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Append(ctx, rec(1), 10))
			require.NoError(t, b.Clear(ctx))

			got, err := b.List(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestSameIDReplaces(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Append(ctx, rec(1), 10))
			require.NoError(t, b.Append(ctx, rec(1), 10))
			got, err := b.List(ctx, 10)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ts := "2024-01-01 00:00:00"
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, b.Append(ctx, Record{ID: id, URL: "https://x.io/" + id, Timestamp: ts}, 2))
			}
			got, err := b.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "c", got[0].ID)
			assert.Equal(t, "b", got[1].ID)
		})
	}
}

func TestOutOfOrderTimestamps(t *testing.T) {
	ctx := context.Background()
	newest := Record{ID: "new", URL: "https://x.io/new", Timestamp: "2024-06-01 00:00:00"}
	middle := Record{ID: "mid", URL: "https://x.io/mid", Timestamp: "2024-03-01 00:00:00"}
	oldest := Record{ID: "old", URL: "https://x.io/old", Timestamp: "2024-01-01 00:00:00"}

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, r := range []Record{newest, middle, oldest} {
				require.NoError(t, b.Append(ctx, r, 2))
			}
			got, err := b.List(ctx, 10)
			require.NoError(t, err)
			assert.Equal(t, []Record{newest, middle}, got)

			require.NoError(t, b.Append(ctx, Record{ID: "feb", URL: "https://x.io/feb", Timestamp: "2024-02-01 00:00:00"}, 3))
			got, err = b.List(ctx, 10)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.ID
			}
			assert.Equal(t, []string{"new", "mid", "feb"}, ids)
		})
	}
}

func TestSQLiteConcurrentFirstOpen(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 5; round++ {
		dir := t.TempDir()
		const workers = 8
		errs := make(chan error, workers)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				errs <- NewSQLite(dir).Append(ctx, rec(w), 100)
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err, "round %d", round)
		}

		got, err := NewSQLite(dir).List(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, got, workers)
	}
}

func TestSQLiteUpgradesLegacyTable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := NewSQLite(dir)

	db, err := b.openRaw()
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE scan_history (id TEXT PRIMARY KEY, url TEXT NOT NULL, timestamp TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO scan_history (id, url, timestamp) VALUES ('old', 'https://old.io', '2023-01-01 00:00:00')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, b.Append(ctx, rec(1), 10))
	got, err := b.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "old", got[1].ID)
}

func TestFlatFileCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, FlatFileName)

	for name, content := range map[string]string{
		"not json":      "{oops",
		"wrong shape":   `{"id": "x"}`,
		"missing field": `[{"id": "x", "url": "https://x.io"}]`,
		"wrong type":    `[{"id": 1, "url": "https://x.io", "timestamp": "t"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(content), 0600))
			b := NewFlatFile(dir)

			_, err := b.List(ctx, 10)
			assert.ErrorIs(t, err, ErrStorage)

			err = b.Append(ctx, rec(1), 10)
			assert.ErrorIs(t, err, ErrStorage)

			data, readErr := os.ReadFile(path)
			require.NoError(t, readErr)
			assert.Equal(t, content, string(data), "corrupt file must not be overwritten")
		})
	}
}

func TestFlatFileNoTempLeftovers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := NewFlatFile(dir)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Append(ctx, rec(i), 10))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FlatFileName, entries[0].Name())
}

func TestParseMethodAndOpen(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, KindRelational, ParseMethod("sqlite"))
	assert.Equal(t, KindRelational, ParseMethod("Relational"))
	assert.Equal(t, KindFlat, ParseMethod("json"))
	assert.Equal(t, KindFlat, ParseMethod("anything"))

	assert.Equal(t, filepath.Join(dir, SQLiteFile), Open(dir, "sqlite").Path())
	assert.Equal(t, filepath.Join(dir, FlatFileName), Open(dir, "json").Path())
	assert.Equal(t, "sqlite", KindRelational.String())
	assert.Equal(t, "json", KindFlat.String())
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.Local)
	r := NewRecord("https://a.io", now)

	_, err := uuid.Parse(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-04 05:06:07", r.Timestamp)
	assert.Equal(t, "https://a.io", r.URL)
	assert.NotEqual(t, r.ID, NewRecord("https://a.io", now).ID)
}

type multisetEntry struct{ url, ts string }

func multiset(recs []Record) []multisetEntry {
	out := make([]multisetEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, multisetEntry{r.URL, r.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ts != out[j].ts {
			return out[i].ts < out[j].ts
		}
		return out[i].url < out[j].url
	})
	return out
}

func TestMigrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	flat, rel := NewFlatFile(dir), NewSQLite(dir)

	for i := 0; i < 6; i++ {
		require.NoError(t, flat.Append(ctx, rec(i), 100))
	}
	before, err := flat.List(ctx, 100)
	require.NoError(t, err)

	n, err := Migrate(ctx, flat, rel, 100)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	inRel, err := rel.List(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, before, inRel, "order and identity preserved")

	require.NoError(t, flat.Clear(ctx))
	n, err = Migrate(ctx, rel, flat, 100)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	after, err := flat.List(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, multiset(before), multiset(after))
	assert.Equal(t, before, after)
}

func TestMigrateHonoursCap(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	flat, rel := NewFlatFile(dir), NewSQLite(dir)
	for i := 0; i < 8; i++ {
		require.NoError(t, rel.Append(ctx, rec(i), 100))
	}

	n, err := Migrate(ctx, rel, flat, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := flat.List(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []Record{rec(7), rec(6), rec(5)}, got)
}

func TestMigrateMethod(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, NewFlatFile(dir).Append(ctx, rec(1), 10))

	n, err := MigrateMethod(ctx, dir, "json", "json", 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = MigrateMethod(ctx, dir, "json", "sqlite", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := NewSQLite(dir).List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []Record{rec(1)}, got)
}

func TestMigrateSourceError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FlatFileName), []byte("garbage"), 0600))

	_, err := Migrate(ctx, NewFlatFile(dir), NewSQLite(dir), 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorage))
}
