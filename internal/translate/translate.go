// Package translate turns a natural-language question about an upload into a
// candidate program proposal. The proposal is advisory: the caller still runs
// it through the validator before execution.
package translate

import "context"

// ColumnContext is the per-column schema summary handed to the model.
type ColumnContext struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Samples []string `json:"samples,omitempty"`
}

type SheetContext struct {
	Sheet   string          `json:"sheet"`
	Rows    int             `json:"rows"`
	Columns []ColumnContext `json:"columns"`
}

// HistoryEntry is a prior question/answer pair from the same conversation.
type HistoryEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Request struct {
	TenantID string         `json:"tenant_id"`
	UploadID string         `json:"upload_id"`
	Question string         `json:"question"`
	Sheets   []SheetContext `json:"sheets"`
	History  []HistoryEntry `json:"history,omitempty"`
}

// Proposal is the model's structured answer. Mode is "expr" or "sql"; when
// CanAnswer is false the Explanation says why and Program is empty.
type Proposal struct {
	CanAnswer       bool     `json:"can_answer"`
	Mode            string   `json:"mode"`
	Program         string   `json:"program"`
	TargetSheet     string   `json:"target_sheet"`
	RequiredColumns []string `json:"required_columns"`
	Explanation     string   `json:"explanation"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Proposal, error)
}
