// Package keysynth produces and parses ISGL1 keys (spec.md §3.2, §4.2):
// stable identifiers of the form
// {language}:{kind}:{name}:{sanitized_path}:{start_line}-{end_line}, plus a
// hash-based variant for entities that don't have a location on disk yet.
package keysynth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"parseltongue/internal/types"
)

// KeyError reports a malformed ISGL1 key.
type KeyError struct {
	Key    string
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("keysynth: invalid key %q: %s", e.Key, e.Reason)
}

// KeyParts is the parsed form of a line-based ISGL1 key.
type KeyParts struct {
	Language      types.Language
	Kind          types.EntityKind
	Name          string
	SanitizedPath string
	StartLine     int
	EndLine       int
}

// Sanitize replaces path separators and dots per spec §3.2, normalizing any
// backslash to forward slash first so keys are stable across platforms.
func Sanitize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, ".", "_")
	return path
}

// LineKey synthesizes a line-based ISGL1 key for an entity with a known
// location.
func LineKey(language types.Language, kind types.EntityKind, name, path string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d-%d", language, kind, name, Sanitize(path), startLine, endLine)
}

// HashKey synthesizes the hash-based variant for Create-pending entities
// that have no location yet (spec §3.2). The digest is the first 8 hex
// characters of an xxhash64 over (path, name, kind, salt); salt distinguishes
// two successive Create requests for the same name.
func HashKey(path, name string, kind types.EntityKind, salt int64) string {
	h := xxhash.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", path, name, kind, salt)
	digest := strconv.FormatUint(h.Sum64(), 16)
	if len(digest) > 8 {
		digest = digest[:8]
	} else {
		digest = strings.Repeat("0", 8-len(digest)) + digest
	}
	return fmt.Sprintf("%s-%s-%s-%s", Sanitize(path), name, kind, digest)
}

// NewSalt returns a salt suitable for HashKey, derived from wall-clock time
// so repeated Create calls within the same process don't collide.
func NewSalt() int64 {
	return time.Now().UnixNano()
}

// IsHashKey reports whether a key looks like the hash-based variant (no
// colons, which line keys always have five fields of).
func IsHashKey(key string) bool {
	return !strings.Contains(key, ":")
}

// Parse inverts LineKey. Hash keys are opaque per spec §4.2 and return an
// error — callers should check IsHashKey first if a key may be either form.
func Parse(key string) (KeyParts, error) {
	if IsHashKey(key) {
		return KeyParts{}, &KeyError{Key: key, Reason: "hash-based keys are opaque and cannot be parsed"}
	}
	parts := strings.SplitN(key, ":", 5)
	if len(parts) != 5 {
		return KeyParts{}, &KeyError{Key: key, Reason: "expected 5 colon-separated fields"}
	}
	lines := strings.SplitN(parts[4], "-", 2)
	if len(lines) != 2 {
		return KeyParts{}, &KeyError{Key: key, Reason: "expected start-end line range"}
	}
	start, err := strconv.Atoi(lines[0])
	if err != nil {
		return KeyParts{}, &KeyError{Key: key, Reason: "non-numeric start line"}
	}
	end, err := strconv.Atoi(lines[1])
	if err != nil {
		return KeyParts{}, &KeyError{Key: key, Reason: "non-numeric end line"}
	}
	return KeyParts{
		Language:      types.Language(parts[0]),
		Kind:          types.EntityKind(parts[1]),
		Name:          parts[2],
		SanitizedPath: parts[3],
		StartLine:     start,
		EndLine:       end,
	}, nil
}
