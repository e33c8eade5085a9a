package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sheetwise/sheetwise/internal/program"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OpenAITranslator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAITranslator(cfg OpenAIConfig) (*OpenAITranslator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAITranslator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (Proposal, error) {
	payload, err := buildChatPayload(t.model, t.temperature, req)
	if err != nil {
		return Proposal{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Proposal{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Proposal{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Proposal{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Proposal{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Proposal{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Proposal{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Proposal{}, fmt.Errorf("empty chat completion choices")
	}

	return ParseProposal(parsed.Choices[0].Message.Content), nil
}

// ParseProposal decodes the model's JSON reply. Replies the model wraps in a
// markdown fence are unwrapped first. A reply that is not valid proposal JSON
// degrades to a cannot-answer proposal carrying the raw text, so a confused
// model never reaches the executor.
func ParseProposal(content string) Proposal {
	text := stripMarkdownFence(content)

	var proposal Proposal
	if err := json.Unmarshal([]byte(text), &proposal); err != nil {
		return Proposal{
			CanAnswer:   false,
			Explanation: "translator returned an unparseable reply: " + truncate(text, 200),
		}
	}

	proposal.Mode = strings.ToLower(strings.TrimSpace(proposal.Mode))
	if proposal.CanAnswer && proposal.Mode != string(program.ModeExpr) && proposal.Mode != string(program.ModeSQL) {
		return Proposal{
			CanAnswer:   false,
			Explanation: fmt.Sprintf("translator proposed unknown mode %q", proposal.Mode),
		}
	}
	if proposal.CanAnswer && strings.TrimSpace(proposal.Program) == "" {
		return Proposal{
			CanAnswer:   false,
			Explanation: "translator claimed an answer but returned no program",
		}
	}
	return proposal
}

func buildChatPayload(model string, temperature float64, req Request) (map[string]any, error) {
	sheetsJSON, err := json.Marshal(req.Sheets)
	if err != nil {
		return nil, fmt.Errorf("marshal sheet context: %w", err)
	}

	systemPrompt := "You write small analysis programs over spreadsheet data. " +
		"Reply with a single JSON object: " +
		`{"can_answer": bool, "mode": "expr"|"sql", "program": string, "target_sheet": string, "required_columns": [string], "explanation": string}. ` +
		"In expr mode the program is a sequence of assignments over functions like col, filter, sum, avg, groupby, top; " +
		"assign the final answer to the variable query_result. " +
		"In sql mode the program is one DuckDB SELECT over views named after the sheets, and it must filter on upload_id = '" + req.UploadID + "'. " +
		"If the data cannot answer the question, set can_answer to false and explain why. " +
		"Return ONLY the JSON object. No markdown."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Upload: %s\nSheets (JSON):\n%s\n", req.UploadID, string(sheetsJSON))
	if len(req.History) > 0 {
		sb.WriteString("\nEarlier in this conversation:\n")
		for _, entry := range req.History {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", entry.Question, entry.Answer)
		}
	}
	fmt.Fprintf(&sb, "\nQuestion:\n%s\n", strings.TrimSpace(req.Question))

	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": sb.String()},
		},
		"temperature": temperature,
	}, nil
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
