package transcript

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashRecord returns the hex-encoded sha256 of a record's raw bytes, used by
// Parser.Feed to deduplicate records already seen (spec §3 invariant: a
// transcript record hash is emitted at most once per session).
func HashRecord(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// HashTaskList returns a stable hash of a todo list's content, used to
// edge-trigger task_list events only when the list actually changed.
func HashTaskList(items []TodoItem) string {
	data, err := json.Marshal(items)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
