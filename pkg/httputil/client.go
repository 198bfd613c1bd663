// Package httputil provides the shared HTTP plumbing for malsift's outbound
// calls: embedding requests to Ollama, chat completions for the triage
// report, and the availability probes that decide whether those stages run
// at all. Clients share one pooled transport so repeated per-unit calls
// reuse connections, and body reads are size-bounded so a misbehaving model
// endpoint cannot exhaust memory.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize bounds response body reads. Embedding vectors and chat
// completions both fit comfortably; anything larger is a broken endpoint.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// sharedTransport is the single pooled transport behind every client.
// Embedding a corpus issues one request per document against the same host,
// so idle connection reuse matters more here than tuning any one call.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier classifies an outbound call by how long it is allowed to run.
type TimeoutTier int

const (
	// TierProbe for availability checks before a stage is selected (5s).
	TierProbe TimeoutTier = iota
	// TierEmbed for single-text embedding requests (30s).
	TierEmbed
	// TierChat for chat completions over a full batch prompt (120s).
	TierChat
)

var timeoutDurations = map[TimeoutTier]time.Duration{
	TierProbe: 5 * time.Second,
	TierEmbed: 30 * time.Second,
	TierChat:  120 * time.Second,
}

// One client per tier, built on first use, shared for the process lifetime.
var (
	clientProbe *http.Client
	clientEmbed *http.Client
	clientChat  *http.Client
	clientOnce  sync.Once
)

func initClients() {
	clientProbe = &http.Client{
		Timeout:   timeoutDurations[TierProbe],
		Transport: sharedTransport,
	}
	clientEmbed = &http.Client{
		Timeout:   timeoutDurations[TierEmbed],
		Transport: sharedTransport,
	}
	clientChat = &http.Client{
		Timeout:   timeoutDurations[TierChat],
		Transport: sharedTransport,
	}
}

// Client returns the shared HTTP client for the given tier. Callers must not
// mutate the returned client; it is shared process-wide.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	switch tier {
	case TierProbe:
		return clientProbe
	case TierChat:
		return clientChat
	default:
		return clientEmbed
	}
}

// ProbeClient returns the 5s client used to check whether an endpoint (e.g.
// an Ollama server) is reachable before committing a pipeline stage to it.
func ProbeClient() *http.Client {
	return Client(TierProbe)
}

// EmbedClient returns the 30s client used for per-text embedding requests.
func EmbedClient() *http.Client {
	return Client(TierEmbed)
}

// ChatClient returns the 120s client used for chat completions; triage
// prompts carry every slice of a batch and models take their time on them.
func ChatClient() *http.Client {
	return Client(TierChat)
}

// ReadResponseBody reads a response body up to maxSize bytes. maxSize <= 0
// falls back to MaxResponseSize.
func ReadResponseBody(r io.Reader, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = MaxResponseSize
	}
	return io.ReadAll(io.LimitReader(r, maxSize))
}

// ReadErrorBody reads the body of a failed response for the error message.
// Capped at 1MB; provider error payloads are small and anything beyond that
// is noise.
func ReadErrorBody(r io.Reader) ([]byte, error) {
	const maxErrorSize = 1 * 1024 * 1024
	return io.ReadAll(io.LimitReader(r, maxErrorSize))
}

// DrainAndClose drains and closes a response body so the underlying
// connection returns to the shared pool. Safe on nil.
func DrainAndClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, MaxResponseSize))
		_ = body.Close()
	}
}
