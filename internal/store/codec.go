package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	qerrors "github.com/Aman-CERP/quizrag/internal/errors"
)

// Compression selects how the index document is encoded at rest.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// Suffix returns the file suffix appended to compressed documents.
func (c Compression) Suffix() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseCompression maps a config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// CompressionFor infers the codec from a path suffix, so backups written
// under a different setting still decode.
func CompressionFor(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	case strings.HasSuffix(path, ".lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Encode serializes idx as JSON and compresses it.
func Encode(idx *Index, c Compression) ([]byte, error) {
	raw, err := json.Marshal(idx)
	if err != nil {
		return nil, fmt.Errorf("marshal index: %w", err)
	}

	switch c {
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		defer func() { _ = enc.Close() }()
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil

	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		return buf.Bytes(), nil

	default:
		return raw, nil
	}
}

// Decode decompresses and parses an index document. Malformed input yields
// ERR_204_CORRUPT_INDEX.
func Decode(data []byte, c Compression) (*Index, error) {
	raw := data
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, corrupt("zstd decode", err)
		}

	case CompressionLZ4:
		var err error
		raw, err = io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, corrupt("lz4 decode", err)
		}
	}

	var idx Index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, corrupt("parse index", err)
	}
	if idx.Sources == nil {
		idx.Sources = make(map[SourceType]int)
	}
	if idx.Chunks == nil {
		idx.Chunks = []IndexedChunk{}
	}
	return &idx, nil
}

func corrupt(msg string, err error) error {
	return qerrors.New(qerrors.ErrCodeCorruptIndex, msg, err).
		WithSuggestion("Restore from a backup with 'quizrag backup restore' or run 'quizrag rebuild'")
}
