package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"vidrelay/internal/fileutil"
	"vidrelay/internal/services"
)

// JSONStore persists History as an indented JSON document.
type JSONStore struct {
	path string
}

// NewJSONStore returns a store reading and writing path.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file path.
func (s *JSONStore) Path() string { return s.path }

// Load reads the history file. A missing file yields an empty History and is
// created immediately; missing top-level maps default to empty.
func (s *JSONStore) Load(ctx context.Context) (*History, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		h := New()
		if err := s.Save(ctx, h); err != nil {
			return nil, err
		}
		return h, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrFilesystem, "history", "load", "read history file", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return New(), nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "history", "load", fmt.Sprintf("decode %s", s.path), err)
	}
	h, err := fromDocument(doc)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "history", "load", "validate records", err)
	}
	return h, nil
}

// Save rewrites the whole document atomically.
func (s *JSONStore) Save(_ context.Context, h *History) error {
	if h == nil {
		h = New()
	}
	data, err := encodeDocument(h.document())
	if err != nil {
		return services.Wrap(services.ErrPermanent, "history", "save", "encode history", err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return services.Wrap(services.ErrFilesystem, "history", "save", "write history file", err)
	}
	return nil
}

// Close is a no-op for the JSON store.
func (s *JSONStore) Close() error { return nil }

// encodeDocument produces stable output: map keys are sorted and non-ASCII
// path characters are written as-is.
func encodeDocument(doc document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
