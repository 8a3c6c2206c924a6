package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return withCode(exitDB, fmt.Errorf("json encode: %w", err))
	}
	return nil
}

// writeManifest stores manifest as import_manifest_<ts>_<run>.json under dir and returns
// the path.
func writeManifest(dir, runID string, manifest any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", withCode(exitDBWrite, fmt.Errorf("mkdir %s: %w", dir, err))
	}
	ts := time.Now().UTC().Format("20060102T150405Z")
	path := filepath.Join(dir, fmt.Sprintf("import_manifest_%s_%s.json", ts, runID))

	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", withCode(exitDBWrite, fmt.Errorf("json marshal: %w", err))
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", withCode(exitDBWrite, fmt.Errorf("write %s: %w", path, err))
	}
	return path, nil
}
