package watcher

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		kind Kind
	}{
		{"/proj/.teamclaude/teams/alpha/config.json", KindTeamConfig},
		{"/proj/.teamclaude/teams/alpha/inboxes/engineer.json", KindInbox},
		{"/proj/.teamclaude/tasks/alpha/1.json", KindTaskFile},
		{"/proj/.teamclaude/teams/alpha/config.json.lock", KindIgnore},
		{"/proj/.teamclaude/tasks/alpha/1.json.hwm", KindIgnore},
		{"/proj/.teamclaude/teams/alpha/notes.txt", KindIgnore},
		{"/proj/.teamclaude/analytics.json", KindIgnore},
	}
	for _, c := range cases {
		if got := Classify(c.path); got != c.kind {
			t.Errorf("Classify(%q) = %v, want %v", c.path, got, c.kind)
		}
	}
}
