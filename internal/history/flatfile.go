package history

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FlatFileName is the flat artifact name inside the data directory.
const FlatFileName = "history.json"

//go:embed history.schema.json
var snapshotSchemaJSON []byte

const snapshotSchemaURL = "history.schema.json"

var (
	snapshotSchemaOnce sync.Once
	snapshotSchema     *jsonschema.Schema
	snapshotSchemaErr  error
)

func compiledSnapshotSchema() (*jsonschema.Schema, error) {
	snapshotSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(snapshotSchemaURL, bytes.NewReader(snapshotSchemaJSON)); err != nil {
			snapshotSchemaErr = err
			return
		}
		snapshotSchema, snapshotSchemaErr = compiler.Compile(snapshotSchemaURL)
	})
	return snapshotSchema, snapshotSchemaErr
}

// FlatFile stores history as one JSON array, newest first. Each write
// replaces the whole snapshot through a temporary file and a rename.
type FlatFile struct {
	path string
}

// NewFlatFile returns the flat backend for dataDir.
func NewFlatFile(dataDir string) *FlatFile {
	return &FlatFile{path: filepath.Join(dataDir, FlatFileName)}
}

func (f *FlatFile) Kind() Kind { return KindFlat }
func (f *FlatFile) Path() string { return f.path }

// load reads the snapshot. A missing file is an empty history; a file that
// does not parse or match the schema is an error.
func (f *FlatFile) load() ([]Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, storageError("read history", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, storageError("parse history", err)
	}
	schema, err := compiledSnapshotSchema()
	if err != nil {
		return nil, storageError("compile history schema", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, storageError("validate history", err)
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, storageError("decode history", err)
	}
	return recs, nil
}

func (f *FlatFile) store(recs []Record) error {
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return storageError("encode history", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return storageError("create data directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".history-*.json")
	if err != nil {
		return storageError("create temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storageError("write history", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return storageError("sync history", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return storageError("close history", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return storageError("replace history", err)
	}
	return nil
}

// Append inserts rec ahead of every record whose timestamp is not newer and
// truncates the snapshot to max records. An existing record with the same ID
// is dropped first.
func (f *FlatFile) Append(ctx context.Context, rec Record, max uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	recs, err := f.load()
	if err != nil {
		return err
	}

	out := make([]Record, 0, len(recs)+1)
	for _, r := range recs {
		if r.ID != rec.ID {
			out = append(out, r)
		}
	}
	// Equal timestamps keep the newest insertion first.
	i := sort.Search(len(out), func(i int) bool { return out[i].Timestamp <= rec.Timestamp })
	out = slices.Insert(out, i, rec)

	if uint64(len(out)) > uint64(max) {
		out = out[:max]
	}
	return f.store(out)
}

// List returns the first max records of the snapshot.
func (f *FlatFile) List(ctx context.Context, max uint32) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := f.load()
	if err != nil {
		return nil, err
	}
	if uint64(len(recs)) > uint64(max) {
		recs = recs[:max]
	}
	return recs, nil
}

// Clear replaces the snapshot with an empty array.
func (f *FlatFile) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.store([]Record{})
}

var _ Backend = (*FlatFile)(nil)
