// core/startinfo.go
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StartInfo is the structured record written to start.json, immediately
// before traversal begins.
type StartInfo struct {
	SourcePath string    `json:"SourcePath"`
	StartTime  time.Time `json:"StartTime"`
}

// CompletionInfo is the structured record written to completion.json at
// traversal end. Its absence from a backup directory means the run was
// interrupted — such a backup is never listed in the index and is
// therefore implicitly unusable by future runs. (When only the
// completion write itself fails, Run still appends the index entry.)
type CompletionInfo struct {
	EndTime          time.Time `json:"EndTime"`
	PathsSkipped     bool      `json:"PathsSkipped"`
	ManifestComplete bool      `json:"ManifestComplete"`
}

// WriteStartInfo marshals info as human-readable JSON and writes it to
// path, create-or-truncate.
func WriteStartInfo(path string, info StartInfo) error {
	return writeJSONFile(path, info)
}

// ReadStartInfo parses start.json. Missing required fields (an empty
// SourcePath or a zero StartTime) are reported as a parse error; unknown
// fields are ignored.
func ReadStartInfo(path string) (*StartInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ClassifyFSError(path, err)
	}
	var info StartInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if info.SourcePath == "" {
		return nil, fmt.Errorf("parsing %s: missing SourcePath", path)
	}
	if info.StartTime.IsZero() {
		return nil, fmt.Errorf("parsing %s: missing StartTime", path)
	}
	return &info, nil
}

// WriteCompletionInfo marshals info as human-readable JSON and writes it
// to path, create-or-truncate.
func WriteCompletionInfo(path string, info CompletionInfo) error {
	return writeJSONFile(path, info)
}

// ReadCompletionInfo parses completion.json. A missing file is
// informational, not fatal — callers distinguish
// errors.Is(err, fs.ErrNotExist) from a genuine parse failure.
func ReadCompletionInfo(path string) (*CompletionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ClassifyFSError(path, err)
	}
	var info CompletionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &info, nil
}

func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return ClassifyFSError(path, err)
	}
	return nil
}
