package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hpungsan/roam/internal/config"
	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/store"
)

// ImportMode controls what happens when a record's key already exists.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on collision, import nothing
	ImportModeReplace ImportMode = "replace" // overwrite on collision
	ImportModeSkip    ImportMode = "skip"    // keep the local record
)

// maxLineBytes bounds a single record line.
const maxLineBytes = 16 << 20

// Sink is the part of the store that import writes to.
type Sink interface {
	Exists(ctx context.Context, collection, key string) (bool, error)
	Restore(ctx context.Context, recs []store.Record, overwrite bool) error
}

// ImportInput contains parameters for Import.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput is the result of Import.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes a line that was not imported.
type ImportError struct {
	Line       int    `json:"line"`
	Collection string `json:"collection,omitempty"`
	Key        string `json:"key,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

type parsedRecord struct {
	line int
	rec  store.Record
}

// Import restores records from a backup file. In error mode the import is
// all or nothing: any unreadable line or key collision leaves the store
// untouched. The other modes import every valid line and report the rest.
func Import(ctx context.Context, sink Sink, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	switch input.Mode {
	case ImportModeError, ImportModeReplace, ImportModeSkip:
	default:
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace, skip")
	}
	if err := ValidatePath(input.Path, PathRead, cfg); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, parseErrors, err := parseFile(file)
	if err != nil {
		return nil, err
	}
	out := &ImportOutput{Errors: parseErrors}

	switch input.Mode {
	case ImportModeError:
		if len(parseErrors) > 0 {
			return out, nil
		}
		for _, p := range records {
			found, err := sink.Exists(ctx, p.rec.Collection, p.rec.Key)
			if err != nil {
				return nil, err
			}
			if found {
				out.Errors = append(out.Errors, ImportError{
					Line:       p.line,
					Collection: p.rec.Collection,
					Key:        p.rec.Key,
					Code:       "KEY_COLLISION",
					Message:    fmt.Sprintf("%s/%s already exists", p.rec.Collection, p.rec.Key),
				})
				return out, nil
			}
		}
		if err := sink.Restore(ctx, unwrap(records), false); err != nil {
			return nil, err
		}
		out.Imported = len(records)

	case ImportModeReplace:
		if err := sink.Restore(ctx, unwrap(records), true); err != nil {
			return nil, err
		}
		out.Imported = len(records)
		out.Skipped = len(parseErrors)

	case ImportModeSkip:
		var fresh []store.Record
		for _, p := range records {
			found, err := sink.Exists(ctx, p.rec.Collection, p.rec.Key)
			if err != nil {
				return nil, err
			}
			if found {
				out.Skipped++
				continue
			}
			fresh = append(fresh, p.rec)
		}
		if err := sink.Restore(ctx, fresh, false); err != nil {
			return nil, err
		}
		out.Imported = len(fresh)
		out.Skipped += len(parseErrors)
	}
	return out, nil
}

// parseFile reads every line of a backup. Lines that cannot be restored
// are reported rather than returned. A header from a newer schema fails
// the whole file.
func parseFile(file *os.File) ([]parsedRecord, []ImportError, error) {
	var (
		records []parsedRecord
		errs    []ImportError
	)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var row struct {
			Header
			store.Record
		}
		if err := json.Unmarshal(line, &row); err != nil {
			errs = append(errs, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if row.RoamExport {
			if row.SchemaVersion > store.SchemaVersion {
				return nil, nil, errors.NewInvalidRequest(fmt.Sprintf(
					"backup schema version %d is newer than supported version %d", row.SchemaVersion, store.SchemaVersion))
			}
			continue
		}

		if err := store.ValidateRecord(row.Record); err != nil {
			msg := err.Error()
			if re, ok := errors.As(err); ok {
				msg = re.Message
			}
			errs = append(errs, ImportError{
				Line:       lineNum,
				Collection: row.Collection,
				Key:        row.Key,
				Code:       "INVALID_RECORD",
				Message:    msg,
			})
			continue
		}
		records = append(records, parsedRecord{line: lineNum, rec: row.Record})
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, ImportError{
			Line:    lineNum + 1,
			Code:    "READ_ERROR",
			Message: fmt.Sprintf("failed to read file: %v", err),
		})
	}
	return records, errs, nil
}

func unwrap(ps []parsedRecord) []store.Record {
	out := make([]store.Record, len(ps))
	for i, p := range ps {
		out[i] = p.rec
	}
	return out
}
