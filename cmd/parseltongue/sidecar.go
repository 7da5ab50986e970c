package main

import (
	"encoding/json"
	"os"
	"strings"

	"parseltongue/internal/streamer"
)

// dbFilePath returns the on-disk path backing a "sqlite:" or "rocksdb:"
// connection string, or "" for "mem" — the same "" that makes lockfile.Acquire
// and the summary sidecar both no-ops (SPEC_FULL.md §3 supplements 3 and 5).
func dbFilePath(conn string) string {
	switch {
	case strings.HasPrefix(conn, "sqlite:"):
		return strings.TrimPrefix(conn, "sqlite:")
	case strings.HasPrefix(conn, "rocksdb:"):
		return strings.TrimPrefix(conn, "rocksdb:")
	default:
		return ""
	}
}

// writeSummarySidecar writes "<db>.summary.json" alongside a file-backed
// store (SPEC_FULL.md §3 supplement 3). A "mem" store has no backing file,
// so this is a no-op.
func writeSummarySidecar(dbPath string, summary streamer.Summary) error {
	if dbPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(dbPath+".summary.json", data, 0o644)
}
