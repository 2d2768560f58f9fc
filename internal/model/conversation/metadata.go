package conversation

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"
)

// Checkpoint types recognised in system-message metadata. The highest-sequence
// checkpoint of a given type is the sole source of truth for derived state.
const (
	CheckpointRoleBrief    = "ROLE_BRIEF"
	CheckpointRoleResearch = "ROLE_RESEARCH"
	CheckpointRoleCreated  = "ROLE_CREATED"
)

// CheckpointMetadata is the persisted envelope around a checkpoint payload.
type CheckpointMetadata struct {
	Type      string          `json:"type"`
	Version   string          `json:"version"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// BuildCheckpointMetadata serialises a checkpoint envelope. A payload that is
// not valid JSON is embedded as a manually escaped string rather than
// producing invalid JSON.
func BuildCheckpointMetadata(checkpointType, payload string) string {
	meta := CheckpointMetadata{
		Type:      checkpointType,
		Version:   "1.0",
		Timestamp: time.Now().UnixMilli(),
	}
	if json.Valid([]byte(payload)) {
		meta.Payload = json.RawMessage(payload)
	} else {
		// Marshal escapes quotes and control characters itself; escaping the
		// payload beforehand would double-escape it.
		quoted, err := json.Marshal(payload)
		if err != nil {
			// Last-resort fallback keeps the envelope well-formed.
			return `{"type":"` + EscapeJSONText(checkpointType) + `","payload":"` + EscapeJSONText(payload) + `"}`
		}
		meta.Payload = quoted
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return `{"type":"` + EscapeJSONText(checkpointType) + `","payload":"` + EscapeJSONText(payload) + `"}`
	}
	return string(data)
}

// ParseCheckpointMetadata decodes a metadata blob; ok is false when the blob
// is not a checkpoint envelope of the requested type.
func ParseCheckpointMetadata(metadata, wantType string) (CheckpointMetadata, bool) {
	if metadata == "" || !strings.Contains(metadata, wantType) {
		return CheckpointMetadata{}, false
	}
	var meta CheckpointMetadata
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return CheckpointMetadata{}, false
	}
	if meta.Type != wantType {
		return CheckpointMetadata{}, false
	}
	return meta, true
}

// EscapeJSONText strips control characters and escapes quotes and
// backslashes so the result can be embedded in a JSON string literal.
func EscapeJSONText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if unicode.IsControl(r) {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
