// Package llmreport turns a batch scan result into an analyst-style triage
// report by prompting an OpenAI-compatible chat completion endpoint. The
// stage is optional: without credentials the pipeline skips it.
package llmreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/malsift/malsift/pkg/httputil"
	"github.com/malsift/malsift/pkg/scan"
	"github.com/malsift/malsift/pkg/simsearch"
)

// Provider identifies which chat completion backend to call.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
	ProviderGroq       Provider = "groq"
	ProviderCustom     Provider = "custom"
)

// Config configures the report generator.
type Config struct {
	Provider    Provider
	APIKey      string // defaults to MALSIFT_LLM_API_KEY env
	Model       string
	BaseURL     string // overrides the provider default when set
	Temperature float64
	MaxSlices   int // per-unit slice budget in the prompt
}

// Reporter generates triage reports through a chat completion API.
type Reporter struct {
	config Config
	client *http.Client
}

// NewReporter validates the configuration and resolves provider defaults.
// Every provider except ollama requires an API key.
func NewReporter(cfg Config) (*Reporter, error) {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenRouter
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("MALSIFT_LLM_API_KEY")
	}
	if cfg.APIKey == "" && cfg.Provider != ProviderOllama {
		return nil, fmt.Errorf("no API key configured for provider %s (set MALSIFT_LLM_API_KEY)", cfg.Provider)
	}

	if cfg.BaseURL == "" {
		switch cfg.Provider {
		case ProviderOllama:
			cfg.BaseURL = "http://localhost:11434/v1"
		case ProviderGroq:
			cfg.BaseURL = "https://api.groq.com/openai/v1"
		case ProviderCustom:
			return nil, fmt.Errorf("custom provider requires an explicit base URL")
		default:
			cfg.BaseURL = "https://openrouter.ai/api/v1"
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Model == "" {
		switch cfg.Provider {
		case ProviderOllama:
			cfg.Model = "qwen2.5-coder:7b"
		case ProviderGroq:
			cfg.Model = "llama-3.3-70b-versatile"
		default:
			cfg.Model = "anthropic/claude-sonnet-4"
		}
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.MaxSlices <= 0 {
		cfg.MaxSlices = 6
	}

	return &Reporter{
		config: cfg,
		client: httputil.ChatClient(),
	}, nil
}

const systemPrompt = `You are a malware reverse engineering analyst. You receive
suspicious code slices extracted from decompiled binaries, with trigger labels
describing why each slice was flagged, and optionally a similarity report
against a labelled reference corpus. Write a concise triage report in markdown:
per unit, state the likely capability (persistence, anti-debugging, payload
staging, obfuscation), how confident you are, and what a human should verify
first. Call out units whose evidence looks like benign vendor software.`

// Generate prompts the model with the batch findings and returns the markdown
// report. The similarity report is optional.
func (r *Reporter) Generate(ctx context.Context, res *scan.BatchResult, sim *simsearch.Report) (string, error) {
	prompt := buildPrompt(res, sim, r.config.MaxSlices)
	report, err := r.callLLM(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("report generation: %w", err)
	}
	return report, nil
}

// buildPrompt serializes the findings for the model. Excerpts are already
// bounded by the scanner, slices per unit are bounded here.
func buildPrompt(res *scan.BatchResult, sim *simsearch.Report, maxSlices int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch summary: %d units scanned, %d slices extracted, %d load errors.\n",
		res.Summary.UnitCount, res.Summary.TotalSliceCount, len(res.Summary.Errors))

	for _, u := range res.Units {
		fmt.Fprintf(&b, "\n## Unit %s (%s)\n", u.Name, u.UnitID)
		for i, s := range u.Slices {
			if i >= maxSlices {
				fmt.Fprintf(&b, "(%d more slices omitted)\n", len(u.Slices)-maxSlices)
				break
			}
			triggers := make([]string, len(s.Triggers))
			for j, t := range s.Triggers {
				triggers[j] = string(t)
			}
			fmt.Fprintf(&b, "- triggers=%s severity=%s lines=%d-%d\n",
				strings.Join(triggers, "+"), s.Severity, s.StartLine, s.EndLine)
			if s.Excerpt != "" {
				fmt.Fprintf(&b, "  excerpt: %s\n", s.Excerpt)
			}
		}
	}

	if sim != nil {
		b.WriteString("\n## Similarity against reference corpus\n")
		b.WriteString(sim.Render())
	}
	return b.String()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *Reporter) callLLM(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: r.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: r.config.Temperature,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.config.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		detail, _ := httputil.ReadErrorBody(resp.Body)
		if len(detail) > 500 {
			detail = detail[:500]
		}
		return "", fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, detail)
	}
	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	fmt.Fprintf(os.Stderr, "[INFO] LLM report generated in %s (%d chars)\n",
		time.Since(start).Round(time.Millisecond), len(content))
	return content, nil
}
