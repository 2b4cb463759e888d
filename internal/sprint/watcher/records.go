package watcher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	jsonx "teamclaude/internal/shared/json"
)

// unmarshalLenient decodes data into v, retrying once through jsonrepair on a
// torn or partially-written JSON file before giving up. A stabilized fsnotify
// event is not a guarantee the writer used an atomic rename, so a read can
// still race a multi-write update; jsonrepair recovers the common cases
// (trailing comma, unterminated string/object) cheaply before the caller
// treats the file as malformed input per spec §7.
func unmarshalLenient(data []byte, v any) error {
	if err := jsonx.Unmarshal(data, v); err == nil {
		return nil
	} else if repaired, repairErr := jsonrepair.JSONRepair(string(data)); repairErr == nil {
		if err := jsonx.Unmarshal([]byte(repaired), v); err == nil {
			return nil
		}
		return err
	} else {
		return err
	}
}

// TeamMember is one entry in a team config.json's members array.
type TeamMember struct {
	Name      string `json:"name"`
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
}

// TeamConfig is the parsed shape of <root>/teams/<teamName>/config.json.
type TeamConfig struct {
	Name    string       `json:"name"`
	Members []TeamMember `json:"members"`
}

// ParseTeamConfig decodes raw JSON into a TeamConfig. Malformed JSON is a
// malformed-input error per spec §7: callers skip the entry and continue.
func ParseTeamConfig(data []byte) (TeamConfig, error) {
	var cfg TeamConfig
	if err := unmarshalLenient(data, &cfg); err != nil {
		return TeamConfig{}, fmt.Errorf("watcher: parse team config: %w", err)
	}
	return cfg, nil
}

// IsSprintTeam recognizes a team by name prefix or by membership shape: a
// sprint-manager member plus at least one sprint-engineer[-N] member.
func (c TeamConfig) IsSprintTeam() bool {
	if strings.HasPrefix(c.Name, "sprint-") {
		return true
	}
	hasManager, hasEngineer := false, false
	for _, m := range c.Members {
		if m.Name == "sprint-manager" {
			hasManager = true
		}
		if m.Name == "sprint-engineer" || strings.HasPrefix(m.Name, "sprint-engineer-") {
			hasEngineer = true
		}
	}
	return hasManager && hasEngineer
}

// IsAutonomous reports whether any member is named sprint-pm.
func (c TeamConfig) IsAutonomous() bool {
	for _, m := range c.Members {
		if m.Name == "sprint-pm" {
			return true
		}
	}
	return false
}

// TeamNameFromPath extracts <teamName> from a .../teams/<teamName>/config.json path.
func TeamNameFromPath(path string) string {
	dir := filepath.Dir(path)
	return filepath.Base(dir)
}

// InboxMessage is one entry in a per-recipient inbox JSON array.
type InboxMessage struct {
	From      string      `json:"from"`
	To        string      `json:"to"`
	Text      string      `json:"text"`
	Content   string      `json:"content"`
	Timestamp string      `json:"timestamp"`
	Usage     *InboxUsage `json:"usage"`
}

// InboxUsage is the optional token-usage field on an inbox message.
type InboxUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// RawContent returns the first available of Text, Content, falling back to
// empty string (the caller treats empty content as a no-op message).
func (m InboxMessage) RawContent() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Content
}

// ParseInbox decodes an inbox file's contents, coercing a single JSON
// object into a singleton array per spec §6.
func ParseInbox(data []byte) ([]InboxMessage, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var msgs []InboxMessage
		if err := unmarshalLenient(data, &msgs); err != nil {
			return nil, fmt.Errorf("watcher: parse inbox array: %w", err)
		}
		return msgs, nil
	}
	var single InboxMessage
	if err := unmarshalLenient(data, &single); err != nil {
		return nil, fmt.Errorf("watcher: parse inbox object: %w", err)
	}
	return []InboxMessage{single}, nil
}

// RecipientFromInboxPath extracts <recipientName> from
// .../inboxes/<recipientName>.json.
func RecipientFromInboxPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TaskRecord is one entry in a per-team task file.
type TaskRecord struct {
	ID          string   `json:"id"`
	Subject     string   `json:"subject"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Owner       string   `json:"owner"`
	BlockedBy   []string `json:"blockedBy"`
	Description string   `json:"description"`
}

// DisplaySubject returns Subject, falling back to Title.
func (t TaskRecord) DisplaySubject() string {
	if t.Subject != "" {
		return t.Subject
	}
	return t.Title
}

// ParseTaskFile decodes a task file's contents, coercing a single JSON
// object into a singleton array per spec §6.
func ParseTaskFile(data []byte) ([]TaskRecord, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var recs []TaskRecord
		if err := unmarshalLenient(data, &recs); err != nil {
			return nil, fmt.Errorf("watcher: parse task array: %w", err)
		}
		return recs, nil
	}
	var single TaskRecord
	if err := unmarshalLenient(data, &single); err != nil {
		return nil, fmt.Errorf("watcher: parse task object: %w", err)
	}
	return []TaskRecord{single}, nil
}

// TeamNameFromTaskPath extracts <teamName> from .../tasks/<teamName>/*.json.
func TeamNameFromTaskPath(path string) string {
	dir := filepath.Dir(path)
	return filepath.Base(dir)
}
