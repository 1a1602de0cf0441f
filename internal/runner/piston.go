package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/chahit025/CodeCollab/internal/app"
)

// Result is what a room sees for one execution request. Exactly one
// Result comes back per Run call; failures are folded into it rather
// than surfaced as errors.
type Result struct {
	Output  string `json:"output"`
	IsError bool   `json:"error"`
}

// languageAliases maps editor language tags to the identifiers the
// execution service expects; unmapped tags pass through unchanged
var languageAliases = map[string]string{
	"javascript": "nodejs",
	"python":     "python3",
	"java":       "java",
	"cpp":        "cpp",
}

type executeRequest struct {
	Language string        `json:"language"`
	Version  string        `json:"version"`
	Files    []executeFile `json:"files"`
}

type executeFile struct {
	Content string `json:"content"`
}

type executeResponse struct {
	Run *struct {
		Output string `json:"output"`
		Stderr string `json:"stderr"`
	} `json:"run"`
}

// Client proxies code to a Piston-compatible execution service
type Client struct {
	url string
	hc  *http.Client
	log *slog.Logger
}

// New builds a runner client from config; the http client timeout bounds
// each execution round-trip
func New(cfg app.Config, log *slog.Logger) *Client {
	return &Client{
		url: cfg.ExecURL,
		hc:  &http.Client{Timeout: cfg.ExecTimeout},
		log: log,
	}
}

// Run executes code remotely and normalizes whatever comes back. It
// never returns a Go error: unreachable service, bad status, undecodable
// body, and missing "run" field all become synthetic error Results.
func (c *Client) Run(ctx context.Context, language, code string) Result {
	if alias, ok := languageAliases[language]; ok {
		language = alias
	}

	body, err := json.Marshal(executeRequest{
		Language: language,
		Version:  "*",
		Files:    []executeFile{{Content: code}},
	})
	if err != nil {
		return Result{Output: "Error executing code: " + err.Error(), IsError: true}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Result{Output: "Error executing code: " + err.Error(), IsError: true}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("exec.request", "err", err)
		return Result{Output: "Error executing code: " + err.Error(), IsError: true}
	}
	defer resp.Body.Close()

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.log.Warn("exec.decode", "err", err)
		return Result{Output: "Error executing code: " + err.Error(), IsError: true}
	}

	if out.Run == nil {
		return Result{Output: "Error: Invalid response from execution service", IsError: true}
	}

	// Prefer stdout, fall back to stderr, then a literal marker
	display := out.Run.Output
	if display == "" {
		display = out.Run.Stderr
	}
	if display == "" {
		display = "No output"
	}
	return Result{Output: display, IsError: out.Run.Stderr != ""}
}
