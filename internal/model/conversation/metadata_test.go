package conversation

import (
	"encoding/json"
	"testing"
)

func TestBuildCheckpointMetadataWithJSONPayload(t *testing.T) {
	payload := `{"name":"角色A","voiceType":"default"}`
	metadata := BuildCheckpointMetadata(CheckpointRoleBrief, payload)

	if !json.Valid([]byte(metadata)) {
		t.Fatalf("expected valid JSON envelope, got %q", metadata)
	}

	meta, ok := ParseCheckpointMetadata(metadata, CheckpointRoleBrief)
	if !ok {
		t.Fatalf("expected envelope to parse, got %q", metadata)
	}
	if meta.Version != "1.0" || meta.Timestamp == 0 {
		t.Fatalf("unexpected envelope %+v", meta)
	}
	if string(meta.Payload) != payload {
		t.Fatalf("expected payload embedded verbatim, got %q", meta.Payload)
	}
}

func TestBuildCheckpointMetadataWithInvalidPayload(t *testing.T) {
	metadata := BuildCheckpointMetadata(CheckpointRoleResearch, "不是JSON的\"文本\"\n第二行")

	if !json.Valid([]byte(metadata)) {
		t.Fatalf("expected envelope to stay well-formed, got %q", metadata)
	}

	meta, ok := ParseCheckpointMetadata(metadata, CheckpointRoleResearch)
	if !ok {
		t.Fatalf("expected envelope to parse, got %q", metadata)
	}
	var text string
	if err := json.Unmarshal(meta.Payload, &text); err != nil {
		t.Fatalf("expected payload as JSON string, got %q: %v", meta.Payload, err)
	}
	if text != "不是JSON的\"文本\"\n第二行" {
		t.Fatalf("unexpected recovered payload %q", text)
	}
}

func TestParseCheckpointMetadataRejectsMismatches(t *testing.T) {
	metadata := BuildCheckpointMetadata(CheckpointRoleBrief, `{"name":"x"}`)

	if _, ok := ParseCheckpointMetadata(metadata, CheckpointRoleCreated); ok {
		t.Fatal("expected type mismatch rejected")
	}
	if _, ok := ParseCheckpointMetadata("", CheckpointRoleBrief); ok {
		t.Fatal("expected empty metadata rejected")
	}
	if _, ok := ParseCheckpointMetadata("ROLE_BRIEF but not json", CheckpointRoleBrief); ok {
		t.Fatal("expected malformed metadata rejected")
	}
}

func TestEscapeJSONText(t *testing.T) {
	cases := []struct{ in, want string }{
		{`he said "hi"`, `he said \"hi\"`},
		{`back\slash`, `back\\slash`},
		{"line1\nline2\ttabbed", `line1\nline2\ttabbed`},
		{"ctrl\x00char", "ctrlchar"},
		{"中文不受影响", "中文不受影响"},
	}
	for _, c := range cases {
		if got := EscapeJSONText(c.in); got != c.want {
			t.Fatalf("EscapeJSONText(%q): expected %q, got %q", c.in, c.want, got)
		}
	}
}
