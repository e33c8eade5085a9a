package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sheetwise/sheetwise/internal/auth"
	"github.com/sheetwise/sheetwise/internal/canonical"
	"github.com/sheetwise/sheetwise/internal/catalog"
	"github.com/sheetwise/sheetwise/internal/exec"
	"github.com/sheetwise/sheetwise/internal/exec/duck"
	"github.com/sheetwise/sheetwise/internal/observability"
	"github.com/sheetwise/sheetwise/internal/profile"
	"github.com/sheetwise/sheetwise/internal/program"
	"github.com/sheetwise/sheetwise/internal/router"
	"github.com/sheetwise/sheetwise/internal/session"
	"github.com/sheetwise/sheetwise/internal/translate"
	"github.com/sheetwise/sheetwise/internal/upload"
)

type askRequest struct {
	Question        string   `json:"question"`
	Mode            string   `json:"mode"`
	Program         string   `json:"program"`
	TargetSheet     string   `json:"target_sheet"`
	RequiredColumns []string `json:"required_columns"`
	RowLimit        int      `json:"row_limit"`
}

type askResponse struct {
	Success     bool          `json:"success"`
	Value       any           `json:"value"`
	Failure     *exec.Failure `json:"error,omitempty"`
	Warning     string        `json:"warning,omitempty"`
	Program     string        `json:"program,omitempty"`
	State       exec.State    `json:"state,omitempty"`
	Mode        string        `json:"mode,omitempty"`
	TargetSheet string        `json:"target_sheet,omitempty"`
	Explanation string        `json:"explanation,omitempty"`
	DurationMs  int64         `json:"duration_ms"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Uploads == nil || deps.Expr == nil || deps.SQL == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "ask dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" && strings.TrimSpace(request.Program) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "either question or program is required", false, nil)
		return
	}

	uploadID := r.PathValue("upload")
	uploadRow, entries, err := deps.Uploads.Profiles(r.Context(), tenantID, uploadID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "UPLOAD_NOT_FOUND", "upload was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load upload", true, map[string]any{"details": err.Error()})
		return
	}
	if uploadRow.Status != catalog.UploadStatusReady {
		writeError(r.Context(), w, http.StatusConflict, "UPLOAD_NOT_READY", "upload is not ready", false, map[string]any{"status": uploadRow.Status})
		return
	}

	key := sessionKey(tenantID, uploadID)
	candidate, proposalExplanation, ok := resolveCandidate(deps, w, r, request, tenantID, uploadID, key, entries)
	if !ok {
		return
	}

	sheets := make([]profile.SheetProfile, 0, len(entries))
	for _, entry := range entries {
		sheets = append(sheets, entry.Profile)
	}
	workbook := profile.FromSheets(sheets)

	result, target := runCandidate(deps, r.Context(), candidate, uploadID, request.RowLimit, workbook, entries, tenantID)

	if deps.Sessions != nil && strings.TrimSpace(request.Question) != "" {
		answer := any(nil)
		if result.Success {
			answer = result.Value
		} else if result.Failure != nil {
			answer = result.Failure.Message
		}
		deps.Sessions.Append(key, session.Exchange{
			Question: request.Question,
			Answer:   answer,
			OK:       result.Success,
			AskedAt:  time.Now().UTC(),
		})
	}

	writeJSON(w, http.StatusOK, askResponse{
		Success:     result.Success,
		Value:       result.Value,
		Failure:     result.Failure,
		Warning:     result.Warning,
		Program:     result.Program,
		State:       result.State,
		Mode:        string(candidate.Mode),
		TargetSheet: target,
		Explanation: proposalExplanation,
		DurationMs:  result.Duration.Milliseconds(),
	})
}

// resolveCandidate either takes the caller's direct program or asks the
// translator for one. The boolean is false when a response was already
// written.
func resolveCandidate(deps Dependencies, w http.ResponseWriter, r *http.Request, request askRequest, tenantID, uploadID, key string, entries []upload.SheetEntry) (program.Candidate, string, bool) {
	if strings.TrimSpace(request.Program) != "" {
		mode := program.Mode(strings.ToLower(strings.TrimSpace(request.Mode)))
		if mode != program.ModeExpr && mode != program.ModeSQL {
			writeError(r.Context(), w, http.StatusBadRequest, "MODE_REQUIRED", "mode must be \"expr\" or \"sql\" when a program is supplied", false, nil)
			return program.Candidate{}, "", false
		}
		return program.Candidate{
			Mode:            mode,
			Text:            request.Program,
			TargetSheet:     request.TargetSheet,
			RequiredColumns: request.RequiredColumns,
		}, "", true
	}

	if deps.Translator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATOR_NOT_CONFIGURED", "no translator is configured; submit a program directly", false, nil)
		return program.Candidate{}, "", false
	}

	history := []translate.HistoryEntry{}
	if deps.Sessions != nil {
		for _, exchange := range deps.Sessions.Get(key) {
			history = append(history, translate.HistoryEntry{
				Question: exchange.Question,
				Answer:   fmt.Sprintf("%v", exchange.Answer),
			})
		}
	}

	proposal, err := deps.Translator.Translate(r.Context(), translate.Request{
		TenantID: tenantID,
		UploadID: uploadID,
		Question: request.Question,
		Sheets:   sheetContexts(entries),
		History:  history,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATOR_ERROR", "translator request failed", true, map[string]any{"details": err.Error()})
		return program.Candidate{}, "", false
	}
	if !proposal.CanAnswer {
		if deps.Sessions != nil {
			deps.Sessions.Append(key, session.Exchange{
				Question: request.Question,
				Answer:   proposal.Explanation,
				OK:       false,
				AskedAt:  time.Now().UTC(),
			})
		}
		writeJSON(w, http.StatusOK, askResponse{
			Success:     false,
			Explanation: proposal.Explanation,
		})
		return program.Candidate{}, "", false
	}

	return program.Candidate{
		Mode:            program.Mode(proposal.Mode),
		Text:            proposal.Program,
		TargetSheet:     proposal.TargetSheet,
		RequiredColumns: proposal.RequiredColumns,
		Explanation:     proposal.Explanation,
	}, proposal.Explanation, true
}

func sheetContexts(entries []upload.SheetEntry) []translate.SheetContext {
	contexts := make([]translate.SheetContext, 0, len(entries))
	for _, entry := range entries {
		sc := translate.SheetContext{
			Sheet: entry.Profile.Sheet,
			Rows:  entry.Profile.Rows,
		}
		for _, cp := range entry.Profile.Columns {
			sc.Columns = append(sc.Columns, translate.ColumnContext{
				Name:    cp.Name,
				Kind:    string(cp.Kind),
				Samples: cp.Samples,
			})
		}
		contexts = append(contexts, sc)
	}
	return contexts
}

func runCandidate(deps Dependencies, ctx context.Context, candidate program.Candidate, uploadID string, rowLimit int, workbook profile.WorkbookProfile, entries []upload.SheetEntry, tenantID string) (exec.Result, string) {
	target, err := router.Route(router.Requirements{
		Columns:     candidate.RequiredColumns,
		TargetSheet: candidate.TargetSheet,
	}, workbook)
	if err != nil {
		var crossSheet *router.CrossSheetError
		kind := exec.FailureRuntime
		if errors.As(err, &crossSheet) {
			kind = exec.FailureCrossSheet
		}
		observability.ObserveExecution(string(candidate.Mode), "rejected", 0)
		return exec.Failed(kind, err.Error(), candidate.Text, 0), ""
	}

	summaryColumns := []string{}
	for _, sp := range workbook.Sheets {
		if sp.Sheet == target.Sheet {
			summaryColumns = sp.SummaryColumns
		}
	}
	if err := program.Validate(candidate.Text, candidate.Mode, program.Options{
		ScopeID:        uploadID,
		SummaryColumns: summaryColumns,
	}); err != nil {
		observability.IncrementProgramRejection(string(candidate.Mode))
		observability.ObserveExecution(string(candidate.Mode), "rejected", 0)
		return exec.Failed(exec.FailureValidation, err.Error(), candidate.Text, 0), target.Sheet
	}

	timeout := deps.QueryTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result exec.Result
	switch candidate.Mode {
	case program.ModeExpr:
		result = runExpr(deps, execCtx, candidate, target.Sheet, tenantID, uploadID)
	case program.ModeSQL:
		result = runSQL(deps, execCtx, candidate, uploadID, rowLimit, entries)
	default:
		result = exec.Failed(exec.FailureValidation, fmt.Sprintf("unknown mode %q", candidate.Mode), candidate.Text, 0)
	}

	outcome := "failed"
	if result.Success {
		outcome = "succeeded"
	}
	observability.ObserveExecution(string(candidate.Mode), outcome, result.Duration)
	return result, target.Sheet
}

func runExpr(deps Dependencies, ctx context.Context, candidate program.Candidate, targetSheet, tenantID, uploadID string) exec.Result {
	tables, err := deps.Uploads.Tables(ctx, tenantID, uploadID)
	if err != nil {
		return exec.Failed(exec.FailureRuntime, fmt.Sprintf("load tables: %v", err), candidate.Text, 0)
	}
	result := deps.Expr.Execute(ctx, tables, targetSheet, candidate.Text)
	result.Value = canonical.Canonicalize(result.Value)
	return result
}

func runSQL(deps Dependencies, ctx context.Context, candidate program.Candidate, uploadID string, rowLimit int, entries []upload.SheetEntry) exec.Result {
	if rowLimit <= 0 {
		rowLimit = deps.DefaultRowLimit
	}

	files := make([]duck.SheetFile, 0, len(entries))
	for _, entry := range entries {
		files = append(files, duck.SheetFile{
			Sheet:         entry.Sheet.SheetName,
			ObjectPath:    entry.Sheet.ObjectPath,
			FileSizeBytes: entry.Sheet.SizeBytes,
		})
	}

	start := time.Now()
	queryResult, err := deps.SQL.Execute(ctx, duck.Request{
		SQL:      candidate.Text,
		UploadID: uploadID,
		RowLimit: rowLimit,
		Files:    files,
	})
	if err != nil {
		kind := exec.FailureRuntime
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = exec.FailureTimeout
		}
		return exec.Failed(kind, err.Error(), candidate.Text, time.Since(start))
	}

	value := canonical.Canonicalize(map[string]any{
		"columns": queryResult.Columns,
		"rows":    queryResult.Rows,
	})
	return exec.Succeeded(value, candidate.Text, queryResult.Duration)
}

func handleGetHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil || deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "history dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	uploadID := r.PathValue("upload")
	if _, err := deps.Catalog.GetUpload(r.Context(), tenantID, uploadID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "UPLOAD_NOT_FOUND", "upload was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to load upload", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id": uploadID,
		"exchanges": deps.Sessions.Get(sessionKey(tenantID, uploadID)),
	})
}

func handleClearHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "history dependencies are not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	deps.Sessions.Clear(sessionKey(tenantID, r.PathValue("upload")))
	w.WriteHeader(http.StatusNoContent)
}
