// Package backup writes the local store to JSONL files and reads them back.
// The first line of a backup is a header; every following line is one
// stored record.
package backup

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/store"
)

// DefaultCollections are exported when none are named. The API cache is
// left out since it is rebuilt from the network.
var DefaultCollections = []string{store.Itineraries, store.ChatMessages, store.UserProfile, store.Settings}

// Header is the first line of a backup file.
type Header struct {
	RoamExport    bool           `json:"_roam_export"`
	SchemaVersion int            `json:"schema_version"`
	ExportedAt    int64          `json:"exported_at"`
	Counts        map[string]int `json:"counts,omitempty"`
}

// Source is the part of the store that export reads.
type Source interface {
	Records(ctx context.Context, collection string) ([]store.Record, error)
}

// ExportInput contains parameters for Export.
type ExportInput struct {
	Path        string   // optional, default: ~/.roam/exports/roam-<timestamp>.jsonl
	Collections []string // optional, default: DefaultCollections
}

// ExportOutput is the result of Export.
type ExportOutput struct {
	Path       string         `json:"path"`
	Count      int            `json:"count"`
	Counts     map[string]int `json:"counts"`
	ExportedAt int64          `json:"exported_at"`
}

// Export writes the named collections to a JSONL file. The file is written
// under a temporary name and renamed into place, so an existing backup at
// the same path survives a failed export.
func Export(ctx context.Context, src Source, cfg *config.Config, input ExportInput) (*ExportOutput, error) {
	now := time.Now()

	path := input.Path
	if path == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, fmt.Sprintf("roam-%s.jsonl", now.Format("2006-01-02T150405")))
	}
	if err := ValidatePath(path, PathWrite, cfg); err != nil {
		return nil, err
	}

	collections := input.Collections
	if len(collections) == 0 {
		collections = DefaultCollections
	}

	// Read everything first so the header can carry per-collection counts.
	counts := make(map[string]int, len(collections))
	var records []store.Record
	for _, name := range collections {
		recs, err := src.Records(ctx, name)
		if err != nil {
			return nil, err
		}
		counts[name] = len(recs)
		records = append(records, recs...)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	suffix := make([]byte, 8)
	if _, err := rand.Read(suffix); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(suffix) + ".tmp"
	file, err := openNoFollow(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			file.Close()
		}
		if !success {
			os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(file)
	header := Header{
		RoamExport:    true,
		SchemaVersion: store.SchemaVersion,
		ExportedAt:    now.Unix(),
		Counts:        counts,
	}
	if err := enc.Encode(header); err != nil {
		return nil, errors.NewInternal(err)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := enc.Encode(rec); err != nil {
			return nil, errors.NewInternal(err)
		}
	}

	if err := file.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := file.Close(); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlink at the destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("export path is a symlink")
	}
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, errors.NewInvalidRequest("export destination already exists; choose a new path or delete the existing file")
			}
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return &ExportOutput{
		Path:       path,
		Count:      len(records),
		Counts:     counts,
		ExportedAt: header.ExportedAt,
	}, nil
}
