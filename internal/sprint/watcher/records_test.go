package watcher

import "testing"

func TestIsSprintTeam(t *testing.T) {
	byPrefix := TeamConfig{Name: "sprint-alpha"}
	if !byPrefix.IsSprintTeam() {
		t.Error("expected name-prefix match to recognize sprint team")
	}

	byShape := TeamConfig{
		Name: "my-team",
		Members: []TeamMember{
			{Name: "sprint-manager"},
			{Name: "sprint-engineer-1"},
		},
	}
	if !byShape.IsSprintTeam() {
		t.Error("expected membership shape to recognize sprint team")
	}

	notATeam := TeamConfig{Name: "other", Members: []TeamMember{{Name: "sprint-manager"}}}
	if notATeam.IsSprintTeam() {
		t.Error("manager alone should not qualify as a sprint team")
	}
}

func TestIsAutonomous(t *testing.T) {
	autonomous := TeamConfig{Members: []TeamMember{{Name: "sprint-pm"}, {Name: "sprint-engineer-1"}}}
	if !autonomous.IsAutonomous() {
		t.Error("expected sprint-pm membership to mark team autonomous")
	}
	manual := TeamConfig{Members: []TeamMember{{Name: "sprint-manager"}, {Name: "sprint-engineer-1"}}}
	if manual.IsAutonomous() {
		t.Error("expected manual team without sprint-pm to not be autonomous")
	}
}

func TestParseInboxCoercesSingleObject(t *testing.T) {
	msgs, err := ParseInbox([]byte(`{"from":"engineer","to":"manager","text":"hi"}`))
	if err != nil {
		t.Fatalf("ParseInbox: %v", err)
	}
	if len(msgs) != 1 || msgs[0].RawContent() != "hi" {
		t.Fatalf("expected single coerced message with content 'hi', got %+v", msgs)
	}
}

func TestParseInboxArray(t *testing.T) {
	msgs, err := ParseInbox([]byte(`[{"from":"a","to":"b","content":"x"},{"from":"a","to":"b","content":"y"}]`))
	if err != nil {
		t.Fatalf("ParseInbox: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
}

func TestParseTaskFileCoercesSingleObject(t *testing.T) {
	recs, err := ParseTaskFile([]byte(`{"id":"1","title":"do the thing"}`))
	if err != nil {
		t.Fatalf("ParseTaskFile: %v", err)
	}
	if len(recs) != 1 || recs[0].DisplaySubject() != "do the thing" {
		t.Fatalf("expected single coerced task with fallback title, got %+v", recs)
	}
}
