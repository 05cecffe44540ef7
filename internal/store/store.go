package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/quizrag/internal/blob"
	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
)

// ErrNotFound is returned when no index document exists at the path.
// Callers treat it as "needs full rebuild".
var ErrNotFound = errors.New("index not found")

// ErrConcurrentModification is returned by Save when another writer
// persisted a newer version since the caller loaded the index.
var ErrConcurrentModification = blob.ErrConcurrentModification

// Object metadata keys written on every save.
const (
	MetaVersion     = "version"
	MetaTotalChunks = "total-chunks"
	MetaUpdatedAt   = "updated-at"
)

const (
	DefaultIndexPath    = "index/quiz-index.json"
	DefaultBackupPrefix = "backups/"
	dailyDir            = "daily/"
)

// Options configures an IndexStore.
type Options struct {
	// Path is the default index path. An extension for Compression is
	// appended when missing.
	Path         string
	BackupPrefix string
	Compression  Compression
	// Ledger, when set, makes Save a compare-and-swap on the version.
	Ledger blob.VersionLedger
	// MaxBackups bounds timestamped backups kept after each save. 0 keeps all.
	MaxBackups int
}

// SaveOptions controls a single Save call.
type SaveOptions struct {
	// Path overrides the default index path.
	Path string
	// NoBackup skips copying the current document aside before overwriting.
	NoBackup bool
	// Force writes on top of whatever version is persisted. Used by full
	// rebuilds and restores, which replace the document wholesale.
	Force bool
}

// IndexStore loads and saves the index document.
type IndexStore struct {
	blobs        blob.Store
	ledger       blob.VersionLedger
	path         string
	backupPrefix string
	compression  Compression
	maxBackups   int
	now          func() time.Time
}

// New creates an IndexStore over blobs.
func New(blobs blob.Store, opts Options) *IndexStore {
	if opts.Path == "" {
		opts.Path = DefaultIndexPath
	}
	if opts.BackupPrefix == "" {
		opts.BackupPrefix = DefaultBackupPrefix
	}
	if !strings.HasSuffix(opts.BackupPrefix, "/") {
		opts.BackupPrefix += "/"
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	p := opts.Path
	if sfx := opts.Compression.Suffix(); sfx != "" && !strings.HasSuffix(p, sfx) {
		p += sfx
	}
	return &IndexStore{
		blobs:        blobs,
		ledger:       opts.Ledger,
		path:         p,
		backupPrefix: opts.BackupPrefix,
		compression:  opts.Compression,
		maxBackups:   opts.MaxBackups,
		now:          time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *IndexStore) SetClock(now func() time.Time) { s.now = now }

// Path returns the default index path.
func (s *IndexStore) Path() string { return s.path }

func (s *IndexStore) resolve(p string) string {
	if p == "" {
		return s.path
	}
	return p
}

// Load fetches and parses the index at p (default path when empty).
// A missing document yields ErrNotFound; every other failure propagates.
func (s *IndexStore) Load(ctx context.Context, p string) (*Index, error) {
	p = s.resolve(p)
	data, err := s.blobs.Get(ctx, p)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, qerrors.StorageError("load index", err).WithDetail("path", p)
	}
	idx, err := Decode(data, CompressionFor(p))
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Save persists idx. The persisted version must still equal idx.Version
// (the version the caller loaded) unless opts.Force is set. On success
// idx.Version is advanced and UpdatedAt, TotalChunks and Sources refreshed.
//
// The backup copy happens before a version is claimed in the ledger, and a
// claim whose write fails is released, so a failed save never leaves the
// ledger ahead of the stored document. A failure during the write itself
// leaves the target in an unknown state; callers must reload before trusting it.
func (s *IndexStore) Save(ctx context.Context, idx *Index, opts SaveOptions) error {
	if idx == nil {
		return qerrors.ValidationError("save: nil index", nil)
	}
	p := s.resolve(opts.Path)

	info, err := s.blobs.Stat(ctx, p)
	exists := err == nil
	if err != nil && !errors.Is(err, blob.ErrNotFound) {
		return qerrors.StorageError("stat index", err).WithDetail("path", p)
	}
	persisted := int64(0)
	if exists {
		persisted = metaVersion(info.Metadata)
	}

	expected := idx.Version
	next := expected + 1
	if opts.Force {
		latest := persisted
		if s.ledger != nil {
			lv, err := s.ledger.Latest(ctx, p)
			if err != nil {
				return qerrors.StorageError("read version ledger", err)
			}
			latest = max(latest, lv)
		}
		next = latest + 1
	} else if persisted != expected && !s.bodyAt(ctx, p, expected) {
		slog.Warn("index_version_conflict",
			slog.String("path", p),
			slog.Int64("expected", expected),
			slog.Int64("persisted", persisted))
		return ErrConcurrentModification
	}

	now := s.now().UTC()
	if exists && !opts.NoBackup {
		bp := s.backupPath(p, now, false)
		if err := s.blobs.Copy(ctx, p, bp); err != nil {
			return qerrors.StorageError("backup index", err).WithDetail("backup", bp)
		}
		slog.Debug("index_backed_up", slog.String("backup", bp))
	}

	prevVersion, prevUpdated := idx.Version, idx.UpdatedAt
	restore := func() { idx.Version, idx.UpdatedAt = prevVersion, prevUpdated }
	idx.Version = next
	idx.UpdatedAt = now
	if idx.CreatedAt.IsZero() {
		idx.CreatedAt = now
	}
	idx.Recount()

	data, err := Encode(idx, CompressionFor(p))
	if err != nil {
		restore()
		return qerrors.InternalError("encode index", err)
	}
	meta := map[string]string{
		MetaVersion:     strconv.FormatInt(next, 10),
		MetaTotalChunks: strconv.Itoa(idx.TotalChunks),
		MetaUpdatedAt:   now.Format(time.RFC3339),
	}

	// Without a ledger the window between the version check and Put is unguarded.
	if s.ledger != nil {
		if err := s.ledger.Commit(ctx, p, next); err != nil {
			restore()
			if errors.Is(err, blob.ErrConcurrentModification) {
				return ErrConcurrentModification
			}
			return qerrors.StorageError("commit index version", err)
		}
	}
	if err := s.blobs.Put(ctx, p, data, meta); err != nil {
		restore()
		if s.ledger != nil {
			if rerr := s.ledger.Release(context.WithoutCancel(ctx), p, next); rerr != nil {
				slog.Warn("index_version_release_failed",
					slog.String("path", p),
					slog.Int64("version", next),
					slog.String("error", rerr.Error()))
			}
		}
		return qerrors.StorageError("write index", err).WithDetail("path", p)
	}

	slog.Info("index_saved",
		slog.String("path", p),
		slog.Int64("version", next),
		slog.Int("chunks", idx.TotalChunks),
		slog.Int("bytes", len(data)))

	if s.maxBackups > 0 && exists && !opts.NoBackup {
		if n, err := s.pruneBackups(ctx, p); err != nil {
			slog.Warn("backup_prune_failed", slog.String("error", err.Error()))
		} else if n > 0 {
			slog.Debug("backups_pruned", slog.Int("count", n))
		}
	}
	return nil
}

// bodyAt reports whether the document at p itself carries version. Object
// metadata can lag the body when a write is torn between the two; the body
// is authoritative.
func (s *IndexStore) bodyAt(ctx context.Context, p string, version int64) bool {
	data, err := s.blobs.Get(ctx, p)
	if err != nil {
		return false
	}
	idx, err := Decode(data, CompressionFor(p))
	if err != nil {
		return false
	}
	if idx.Version == version {
		slog.Warn("index_metadata_stale", slog.String("path", p), slog.Int64("version", version))
		return true
	}
	return false
}

// Metadata reads version, size and chunk count from object metadata
// without downloading the document.
func (s *IndexStore) Metadata(ctx context.Context) (Metadata, error) {
	info, err := s.blobs.Stat(ctx, s.path)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return Metadata{Path: s.path}, nil
		}
		return Metadata{}, qerrors.StorageError("stat index", err)
	}
	m := Metadata{
		Exists:  true,
		Path:    s.path,
		Size:    info.Size,
		Version: metaVersion(info.Metadata),
	}
	if n, err := strconv.Atoi(info.Metadata[MetaTotalChunks]); err == nil {
		m.TotalChunks = n
	}
	if t, err := time.Parse(time.RFC3339, info.Metadata[MetaUpdatedAt]); err == nil {
		m.UpdatedAt = t
	} else {
		m.UpdatedAt = info.ModTime
	}
	return m, nil
}

// CreateBackupVersion copies the current index to a timestamped backup.
func (s *IndexStore) CreateBackupVersion(ctx context.Context) (string, error) {
	if err := s.requireIndex(ctx); err != nil {
		return "", err
	}
	bp := s.backupPath(s.path, s.now().UTC(), false)
	if err := s.blobs.Copy(ctx, s.path, bp); err != nil {
		return "", qerrors.StorageError("create backup", err).WithDetail("backup", bp)
	}
	slog.Info("backup_created", slog.String("backup", bp))
	return bp, nil
}

// CreateDailyBackup keeps at most one backup per UTC day. If today's backup
// already exists its path is returned unchanged.
func (s *IndexStore) CreateDailyBackup(ctx context.Context) (string, error) {
	bp := s.backupPath(s.path, s.now().UTC(), true)
	ok, err := s.blobs.Exists(ctx, bp)
	if err != nil {
		return "", qerrors.StorageError("check daily backup", err)
	}
	if ok {
		return bp, nil
	}
	if err := s.requireIndex(ctx); err != nil {
		return "", err
	}
	if err := s.blobs.Copy(ctx, s.path, bp); err != nil {
		return "", qerrors.StorageError("create daily backup", err).WithDetail("backup", bp)
	}
	slog.Info("daily_backup_created", slog.String("backup", bp))
	return bp, nil
}

// ListBackups returns every backup of the default index, newest first.
func (s *IndexStore) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objs, err := s.blobs.List(ctx, s.backupPrefix)
	if err != nil {
		return nil, qerrors.StorageError("list backups", err)
	}
	stem, _ := splitName(path.Base(s.path))

	out := make([]BackupInfo, 0, len(objs))
	for _, o := range objs {
		name := path.Base(o.Path)
		if !strings.HasPrefix(name, stem+"_") {
			continue
		}
		out = append(out, BackupInfo{
			Path:    o.Path,
			Name:    name,
			Size:    o.Size,
			ModTime: o.ModTime,
			Daily:   strings.HasPrefix(o.Path, s.backupPrefix+dailyDir),
		})
	}
	slices.SortFunc(out, func(a, b BackupInfo) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(b.Path, a.Path)
	})
	return out, nil
}

// CleanOldBackups deletes backups last modified more than keepDays ago and
// returns how many were removed.
func (s *IndexStore) CleanOldBackups(ctx context.Context, keepDays int) (int, error) {
	if keepDays < 0 {
		return 0, qerrors.ValidationError("keep days must not be negative", nil)
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	deleted := 0
	for _, b := range backups {
		if !b.ModTime.Before(cutoff) {
			continue
		}
		if err := s.blobs.Delete(ctx, b.Path); err != nil {
			return deleted, qerrors.StorageError("delete backup", err).WithDetail("backup", b.Path)
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("old_backups_cleaned", slog.Int("count", deleted), slog.Int("keep_days", keepDays))
	}
	return deleted, nil
}

// RestoreFromBackup loads the backup at p and saves it as the current index,
// backing up whatever it replaces.
func (s *IndexStore) RestoreFromBackup(ctx context.Context, p string) (*Index, error) {
	idx, err := s.Load(ctx, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, qerrors.New(qerrors.ErrCodeNotFound, "backup not found", err).WithDetail("backup", p)
		}
		return nil, err
	}
	if err := s.Save(ctx, idx, SaveOptions{Force: true}); err != nil {
		return nil, fmt.Errorf("restore %s: %w", p, err)
	}
	slog.Info("index_restored", slog.String("backup", p), slog.Int64("version", idx.Version))
	return idx, nil
}

func (s *IndexStore) requireIndex(ctx context.Context) error {
	ok, err := s.blobs.Exists(ctx, s.path)
	if err != nil {
		return qerrors.StorageError("check index", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// pruneBackups keeps the newest maxBackups timestamped backups of target.
// Daily backups are only removed by CleanOldBackups.
func (s *IndexStore) pruneBackups(ctx context.Context, target string) (int, error) {
	objs, err := s.blobs.List(ctx, s.backupPrefix)
	if err != nil {
		return 0, err
	}
	stem, _ := splitName(path.Base(target))

	var versions []blob.ObjectInfo
	for _, o := range objs {
		if strings.HasPrefix(o.Path, s.backupPrefix+dailyDir) {
			continue
		}
		if strings.HasPrefix(path.Base(o.Path), stem+"_") {
			versions = append(versions, o)
		}
	}
	if len(versions) <= s.maxBackups {
		return 0, nil
	}
	// Timestamped names sort chronologically.
	slices.SortFunc(versions, func(a, b blob.ObjectInfo) int { return strings.Compare(b.Path, a.Path) })

	deleted := 0
	for _, o := range versions[s.maxBackups:] {
		if err := s.blobs.Delete(ctx, o.Path); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (s *IndexStore) backupPath(target string, now time.Time, daily bool) string {
	stem, ext := splitName(path.Base(target))
	if daily {
		return s.backupPrefix + dailyDir + stem + "_" + now.Format("2006-01-02") + ext
	}
	return s.backupPrefix + stem + "_" + now.Format("20060102T150405.000Z") + ext
}

// splitName splits "quiz-index.json.zst" into "quiz-index" and ".json.zst".
func splitName(name string) (stem, ext string) {
	if i := strings.Index(name, "."); i > 0 {
		return name[:i], name[i:]
	}
	return name, ""
}

func metaVersion(meta map[string]string) int64 {
	v, err := strconv.ParseInt(meta[MetaVersion], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
