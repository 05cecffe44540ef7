// Package source reads quiz content from a directory of files and turns
// changes to those files into indexing tasks.
//
// Each item lives in its own file named after its id, in JSON, YAML or
// TOML:
//
//	quizzes/
//	  biology-101.json
//	  chem-basics.yaml
//	  history.toml
//
// The Watcher keeps a snapshot of the directory. On every debounced batch
// of file events it re-reads the directory, classifies each item's change
// with the trigger rules and enqueues the resulting tasks.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/quizrag/internal/content"
)

// Extensions are the supported item file extensions, in lookup order.
var Extensions = []string{".json", ".yaml", ".yml", ".toml"}

// FileSource is a content.Source backed by one file per item.
type FileSource struct {
	dir string
}

var _ content.Source = (*FileSource)(nil)

// NewFileSource reads items from dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// Dir returns the content directory.
func (s *FileSource) Dir() string { return s.dir }

// Get reads the item with the given id.
func (s *FileSource) Get(ctx context.Context, id string) (*content.Item, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid content id %q: %w", id, content.ErrNotFound)
	}
	for _, ext := range Extensions {
		path := filepath.Join(s.dir, id+ext)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return ReadItem(path)
	}
	return nil, fmt.Errorf("%s: %w", id, content.ErrNotFound)
}

// List reads every item. Files that fail to parse are skipped with a
// warning.
func (s *FileSource) List(ctx context.Context) ([]*content.Item, error) {
	items, _, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*content.Item, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	slices.SortFunc(out, func(a, b *content.Item) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// scan reads the directory into a map by id. Ids whose file could not be
// parsed are returned separately so callers can keep their last good
// state instead of treating them as deleted.
func (s *FileSource) scan(ctx context.Context) (map[string]*content.Item, map[string]error, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]*content.Item{}, nil, nil
		}
		return nil, nil, fmt.Errorf("read content directory: %w", err)
	}

	items := make(map[string]*content.Item, len(entries))
	var failed map[string]error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		id, ok := itemID(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		if _, dup := items[id]; dup {
			slog.Warn("content_file_duplicate", slog.String("id", id), slog.String("file", e.Name()))
			continue
		}
		it, err := ReadItem(filepath.Join(s.dir, e.Name()))
		if err != nil {
			slog.Warn("content_file_unreadable", slog.String("file", e.Name()), slog.String("error", err.Error()))
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[id] = err
			continue
		}
		items[id] = it
	}
	return items, failed, nil
}

// itemID maps a file name to the item id it holds.
func itemID(name string) (string, bool) {
	if strings.HasPrefix(name, ".") {
		return "", false
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(Extensions, ext) {
		return "", false
	}
	return strings.TrimSuffix(name, filepath.Ext(name)), true
}

// ReadItem decodes one item file by extension. The file name is the
// item's id; an id field inside the file must agree with it.
func ReadItem(path string) (*content.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var it content.Item
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &it)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &it)
	case ".toml":
		err = toml.Unmarshal(data, &it)
	default:
		return nil, fmt.Errorf("unsupported content file %s", filepath.Base(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	id, _ := itemID(filepath.Base(path))
	if it.ID == "" {
		it.ID = id
	} else if it.ID != id {
		return nil, fmt.Errorf("%s: id %q does not match file name", filepath.Base(path), it.ID)
	}
	return &it, nil
}

// WriteItem writes it to dir as JSON, replacing any file for the same id
// in another format.
func WriteItem(dir string, it *content.Item) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(it, "", "  ")
	if err != nil {
		return err
	}
	for _, ext := range Extensions[1:] {
		_ = os.Remove(filepath.Join(dir, it.ID+ext))
	}
	tmp := filepath.Join(dir, "."+it.ID+".json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, it.ID+".json"))
}
