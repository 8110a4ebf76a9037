// Package activity turns raw process output and file change records into
// scored, typed activity records, keeps a bounded in-memory history of
// them, and answers list/search/statistics queries.
package activity

import "time"

// Type classifies what kind of work an activity record describes.
type Type string

const (
	TypeFileEdit     Type = "file_edit"
	TypeCommandRun   Type = "command_run"
	TypeTestRun      Type = "test_run"
	TypeError        Type = "error"
	TypeGitOperation Type = "git_operation"
	TypeCompletion   Type = "completion"
	TypeOutput       Type = "output"
)

// ValidTypes returns all activity types, in presentation order.
func ValidTypes() []Type {
	return []Type{
		TypeFileEdit, TypeCommandRun, TypeTestRun,
		TypeError, TypeGitOperation, TypeCompletion, TypeOutput,
	}
}

// Activity is one classified observation. Score expresses the classifier's
// confidence that the record is significant, in [0, 1].
type Activity struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Description string    `json:"description"`
	Score       float64   `json:"score"`
	InstanceID  string    `json:"instanceId,omitempty"`
	Path        string    `json:"path,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Statistics summarizes the current store contents.
type Statistics struct {
	Total        int            `json:"total"`
	ByType       map[string]int `json:"byType"`
	AverageScore float64        `json:"averageScore"`
}

// SearchFilters narrows a search beyond the free-text query.
type SearchFilters struct {
	Type       Type    `json:"type,omitempty"`
	InstanceID string  `json:"instanceId,omitempty"`
	MinScore   float64 `json:"minScore,omitempty"`
}
