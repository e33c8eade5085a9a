// Package sheetwisectl implements the command-line client for the sheetwise
// API: upload management, profiles and one-off questions.
package sheetwisectl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	TenantID   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sheetwisectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sheetwise API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	tenantID := fs.String("tenant-id", defaults.TenantID, "Tenant ID header (used when auth is disabled)")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 30*time.Second), "HTTP timeout (e.g. 30s)")
	question := fs.String("question", "", "question text for the ask command")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	base := strings.TrimRight(*baseURL, "/")
	command := strings.TrimSpace(fs.Arg(0))

	var (
		method      string
		path        string
		body        io.Reader
		contentType string
	)
	switch command {
	case "health":
		method, path = http.MethodGet, "/v1/health"
	case "ready":
		method, path = http.MethodGet, "/v1/ready"
	case "uploads":
		method, path = http.MethodGet, "/v1/uploads"
	case "upload":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "upload requires a file path")
			return 2
		}
		formBody, formContentType, err := multipartFileBody(fs.Arg(1))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "upload failed: %v\n", err)
			return 1
		}
		method, path = http.MethodPost, "/v1/uploads"
		body, contentType = formBody, formContentType
	case "get":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "get requires an upload id")
			return 2
		}
		method, path = http.MethodGet, "/v1/uploads/"+fs.Arg(1)
	case "delete":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "delete requires an upload id")
			return 2
		}
		method, path = http.MethodDelete, "/v1/uploads/"+fs.Arg(1)
	case "profile":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "profile requires an upload id")
			return 2
		}
		method, path = http.MethodGet, "/v1/uploads/"+fs.Arg(1)+"/profile"
	case "ask":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "ask requires an upload id")
			return 2
		}
		if strings.TrimSpace(*question) == "" {
			_, _ = fmt.Fprintln(stderr, "ask requires -question")
			return 2
		}
		payload, err := json.Marshal(map[string]string{"question": *question})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "ask failed: %v\n", err)
			return 1
		}
		method, path = http.MethodPost, "/v1/uploads/"+fs.Arg(1)+"/ask"
		body, contentType = bytes.NewReader(payload), "application/json"
	case "history":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "history requires an upload id")
			return 2
		}
		method, path = http.MethodGet, "/v1/uploads/"+fs.Arg(1)+"/history"
	case "history-clear":
		if fs.NArg() < 2 {
			_, _ = fmt.Fprintln(stderr, "history-clear requires an upload id")
			return 2
		}
		method, path = http.MethodDelete, "/v1/uploads/"+fs.Arg(1)+"/history"
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	code, responseBody, err := doRequest(ctx, client, method, base+path, *apiKey, *tenantID, body, contentType)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func multipartFileBody(path string) (io.Reader, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey, tenantID string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	if strings.TrimSpace(tenantID) != "" {
		req.Header.Set("X-Tenant-ID", strings.TrimSpace(tenantID))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sheetwisectl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                    GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                     GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  uploads                   GET /v1/uploads")
	_, _ = fmt.Fprintln(w, "  upload <file>             POST /v1/uploads")
	_, _ = fmt.Fprintln(w, "  get <upload>              GET /v1/uploads/{upload}")
	_, _ = fmt.Fprintln(w, "  delete <upload>           DELETE /v1/uploads/{upload}")
	_, _ = fmt.Fprintln(w, "  profile <upload>          GET /v1/uploads/{upload}/profile")
	_, _ = fmt.Fprintln(w, "  ask <upload> -question q  POST /v1/uploads/{upload}/ask")
	_, _ = fmt.Fprintln(w, "  history <upload>          GET /v1/uploads/{upload}/history")
	_, _ = fmt.Fprintln(w, "  history-clear <upload>    DELETE /v1/uploads/{upload}/history")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
