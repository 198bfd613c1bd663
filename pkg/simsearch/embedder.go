// Package simsearch ranks scanned units against a reference corpus of known
// malware and benign decompilations using embedding similarity. The vector
// store is in-memory (chromem-go); embeddings come from a local ONNX model
// when one is available and fall back to an Ollama HTTP endpoint.
package simsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/malsift/malsift/pkg/httputil"
)

// Embedder turns source text into vectors for similarity search.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// LocalConfig configures the ONNX feature-extraction embedder.
type LocalConfig struct {
	ModelPath       string // directory containing model.onnx (defaults to MALSIFT_EMBED_MODEL_PATH env)
	OnnxLibraryPath string // libonnxruntime.so location; empty selects the pure Go backend
	BatchSize       int
}

// LocalEmbedder runs a sentence-transformer ONNX model in-process.
type LocalEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.Mutex
	config   LocalConfig
}

// modelSearchPaths lists locations probed for an embedding model when no
// explicit path is configured.
var modelSearchPaths = []string{
	"./models/all-MiniLM-L6-v2",
	"~/.malsift/models/all-MiniLM-L6-v2",
	"/usr/local/share/malsift/models/all-MiniLM-L6-v2",
}

// onnxLibrarySearchPaths lists common ONNX Runtime install locations.
var onnxLibrarySearchPaths = []string{
	"/usr/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/usr/local/lib/libonnxruntime.so",
	"/opt/onnxruntime/lib/libonnxruntime.so",
}

func resolveModelPath(configured string) (string, error) {
	candidates := make([]string, 0, len(modelSearchPaths)+2)
	if configured != "" {
		candidates = append(candidates, configured)
	}
	if env := os.Getenv("MALSIFT_EMBED_MODEL_PATH"); env != "" {
		candidates = append(candidates, env)
	}
	home, _ := os.UserHomeDir()
	for _, p := range modelSearchPaths {
		if len(p) > 1 && p[0] == '~' {
			if home == "" {
				continue
			}
			p = filepath.Join(home, p[2:])
		}
		candidates = append(candidates, p)
	}
	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, "model.onnx")); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no embedding model found (set MALSIFT_EMBED_MODEL_PATH)")
}

func defaultOnnxLibraryPath() string {
	for _, p := range onnxLibrarySearchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// NewLocalEmbedder loads the model and builds a feature-extraction pipeline.
// It prefers the ONNX Runtime backend and falls back to the pure Go backend
// when the runtime library is missing or fails to load.
func NewLocalEmbedder(cfg LocalConfig) (*LocalEmbedder, error) {
	modelPath, err := resolveModelPath(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	if cfg.OnnxLibraryPath == "" {
		cfg.OnnxLibraryPath = defaultOnnxLibraryPath()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}

	session, err := createSession(cfg.OnnxLibraryPath)
	if err != nil {
		return nil, fmt.Errorf("create embedding session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "corpus-embedder",
	})
	if err != nil {
		_ = session.Destroy()
		return nil, fmt.Errorf("create embedding pipeline: %w", err)
	}

	return &LocalEmbedder{
		session:  session,
		pipeline: pipeline,
		config:   cfg,
	}, nil
}

func createSession(onnxLibraryPath string) (*hugot.Session, error) {
	if onnxLibraryPath != "" {
		session, err := hugot.NewORTSession(options.WithOnnxLibraryPath(onnxLibraryPath))
		if err == nil {
			return session, nil
		}
		fmt.Fprintf(os.Stderr, "[WARN] ONNX Runtime unavailable, falling back to Go backend: %v\n", err)
	}
	return hugot.NewGoSession()
}

// EmbedBatch runs the texts through the pipeline in batches.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		result, err := e.pipeline.RunPipeline(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding inference: %w", err)
		}
		out = append(out, result.Embeddings...)
	}
	return out, nil
}

// Name identifies the embedding backend in logs and reports.
func (e *LocalEmbedder) Name() string { return "local-onnx" }

// Close releases the underlying ONNX session.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// OllamaEmbedder calls an Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	model   string
	baseURL string
	client  *http.Client
}

// NewOllamaEmbedder builds an embedder against the given Ollama base URL.
func NewOllamaEmbedder(model, baseURL string) *OllamaEmbedder {
	if model == "" {
		model = "nomic-embed-text"
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEmbedder{
		model:   model,
		baseURL: baseURL,
		client:  httputil.EmbedClient(),
	}
}

// EmbedBatch issues one embedding request per text. Ollama's embeddings
// endpoint takes a single prompt at a time.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]string{
		"model":  e.model,
		"prompt": text,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		detail, _ := httputil.ReadErrorBody(resp.Body)
		return nil, fmt.Errorf("ollama embedding error (status %d): %s", resp.StatusCode, detail)
	}
	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	return result.Embedding, nil
}

// Name identifies the embedding backend in logs and reports.
func (e *OllamaEmbedder) Name() string { return "ollama:" + e.model }

// ollamaReachable probes the Ollama server with a short timeout so the
// pipeline does not commit to an embedder that will fail on every call.
func ollamaReachable(baseURL string) bool {
	resp, err := httputil.ProbeClient().Get(baseURL + "/api/tags")
	if err != nil {
		return false
	}
	httputil.DrainAndClose(resp.Body)
	return resp.StatusCode == http.StatusOK
}

// NewAutoDetectedEmbedder picks the best available embedding source: a local
// ONNX model first, then Ollama when a URL is given and the server answers a
// probe. Returns nil when no source is available; callers should skip the
// similarity stage in that case.
func NewAutoDetectedEmbedder(ollamaURL string) Embedder {
	local, err := NewLocalEmbedder(LocalConfig{})
	if err == nil {
		fmt.Fprintf(os.Stderr, "[INFO] Similarity search using local ONNX embeddings\n")
		return local
	}
	fmt.Fprintf(os.Stderr, "[WARN] Local embedder unavailable: %v\n", err)

	if ollamaURL != "" {
		if !ollamaReachable(ollamaURL) {
			fmt.Fprintf(os.Stderr, "[WARN] Ollama at %s not reachable\n", ollamaURL)
		} else {
			fmt.Fprintf(os.Stderr, "[INFO] Similarity search using Ollama embeddings at %s\n", ollamaURL)
			return NewOllamaEmbedder("", ollamaURL)
		}
	}

	fmt.Fprintf(os.Stderr, "[INFO] Similarity search disabled - no embedding source found\n")
	return nil
}
