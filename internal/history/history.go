// Package history persists processed scans in one of two interchangeable
// backends: a SQLite table or a flat JSON snapshot file. Both keep at most a
// caller-supplied number of records and list them newest first.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the local-time layout records are stamped with. It
// sorts lexicographically in chronological order.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrStorage wraps every failure to read, write or parse a history artifact.
var ErrStorage = errors.New("history storage error")

// Kind identifies a backend variant.
type Kind int

const (
	KindFlat Kind = iota
	KindRelational
)

func (k Kind) String() string {
	if k == KindRelational {
		return "sqlite"
	}
	return "json"
}

// Record is one processed scan.
type Record struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

// NewRecord stamps url with a fresh UUIDv4 and the local time t.
func NewRecord(url string, t time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		URL:       url,
		Timestamp: t.Local().Format(TimestampLayout),
	}
}

// Backend is a bounded, newest-first store of records.
type Backend interface {
	// Append stores rec and discards everything beyond the max newest.
	Append(ctx context.Context, rec Record, max uint32) error
	// List returns up to max records, newest first.
	List(ctx context.Context, max uint32) ([]Record, error)
	// Clear removes every record.
	Clear(ctx context.Context) error
	Kind() Kind
	// Path is the artifact location.
	Path() string
}

// ParseMethod maps a configured storage method to a backend kind.
// "sqlite" and "relational" select SQLite; anything else the flat file.
func ParseMethod(method string) Kind {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "sqlite", "relational":
		return KindRelational
	default:
		return KindFlat
	}
}

// Open returns the backend for method rooted at dataDir. Artifacts are not
// touched until the first operation.
func Open(dataDir, method string) Backend {
	if ParseMethod(method) == KindRelational {
		return NewSQLite(dataDir)
	}
	return NewFlatFile(dataDir)
}

// Migrate copies up to n of src's newest records into dst, appending them
// oldest first so that dst lists them in the same order. It returns the
// number of records read from src.
func Migrate(ctx context.Context, src, dst Backend, n uint32) (int, error) {
	recs, err := src.List(ctx, n)
	if err != nil {
		return 0, fmt.Errorf("read %s history: %w", src.Kind(), err)
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if err := dst.Append(ctx, recs[i], n); err != nil {
			return len(recs), fmt.Errorf("write %s history: %w", dst.Kind(), err)
		}
	}
	return len(recs), nil
}

// MigrateMethod migrates history under dataDir from one storage method to
// another. Equivalent methods are a no-op.
func MigrateMethod(ctx context.Context, dataDir, from, to string, n uint32) (int, error) {
	if ParseMethod(from) == ParseMethod(to) {
		return 0, nil
	}
	return Migrate(ctx, Open(dataDir, from), Open(dataDir, to), n)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
