package httputil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClientSharedPerTier(t *testing.T) {
	if EmbedClient() != EmbedClient() {
		t.Error("repeated EmbedClient calls must return the same instance")
	}
	if ProbeClient() == ChatClient() {
		t.Error("probe and chat tiers must not share a timeout")
	}
	// Unknown tiers get the middle-of-the-road embed client.
	if Client(TimeoutTier(99)) != EmbedClient() {
		t.Error("unknown tier must fall back to the embed client")
	}
}

func TestClientTimeouts(t *testing.T) {
	tests := []struct {
		name    string
		getFunc func() *http.Client
		want    time.Duration
	}{
		{"probe", ProbeClient, 5 * time.Second},
		{"embed", EmbedClient, 30 * time.Second},
		{"chat", ChatClient, 120 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if c := tt.getFunc(); c.Timeout != tt.want {
				t.Errorf("timeout = %v, want %v", c.Timeout, tt.want)
			}
		})
	}
}

func TestReadResponseBodyBounds(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxSize int64
		wantLen int
	}{
		{"embedding vector fits", `{"embedding":[0.1,0.2,0.3]}`, 1024, 27},
		{"oversized model output is cut", strings.Repeat("x", 1000), 100, 100},
		{"zero max falls back to the default", "ok", 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadResponseBody(strings.NewReader(tt.input), tt.maxSize)
			if err != nil {
				t.Fatalf("ReadResponseBody: %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestReadErrorBodyCapped(t *testing.T) {
	// A provider error page far past any sane payload size.
	huge := strings.Repeat("upstream failure ", 100000)
	got, err := ReadErrorBody(strings.NewReader(huge))
	if err != nil {
		t.Fatalf("ReadErrorBody: %v", err)
	}
	if len(got) > 1024*1024 {
		t.Errorf("error body not capped at 1MB: %d bytes", len(got))
	}
}

type drainTracker struct {
	io.Reader
	drained bool
}

func (r *drainTracker) Read(p []byte) (n int, err error) {
	n, err = r.Reader.Read(p)
	if err == io.EOF {
		r.drained = true
	}
	return
}

func TestDrainAndClose(t *testing.T) {
	// A partially read chat response must still be drained so the
	// connection can go back to the pool.
	r := &drainTracker{Reader: strings.NewReader(`{"choices":[{"message":{"content":"report"}}]}`)}
	DrainAndClose(io.NopCloser(r))
	if !r.drained {
		t.Error("body was not fully drained")
	}

	DrainAndClose(nil) // must not panic
}

func TestConnectionReuseAcrossEmbeddingCalls(t *testing.T) {
	// Stand-in for an Ollama server answering one embedding call per corpus
	// document.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[0.5]}`))
	}))
	defer srv.Close()

	client := EmbedClient()
	for i := 0; i < 10; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		body, err := ReadResponseBody(resp.Body, MaxResponseSize)
		DrainAndClose(resp.Body)
		if err != nil || !strings.Contains(string(body), "embedding") {
			t.Fatalf("request %d: body %q err %v", i, body, err)
		}
	}
}

func BenchmarkSharedClient(b *testing.B) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[0.5]}`))
	}))
	defer srv.Close()

	b.Run("pooled", func(b *testing.B) {
		client := EmbedClient()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			resp, _ := client.Get(srv.URL)
			if resp != nil {
				DrainAndClose(resp.Body)
			}
		}
	})

	b.Run("per_call", func(b *testing.B) {
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			client := &http.Client{Timeout: 30 * time.Second}
			resp, _ := client.Get(srv.URL)
			if resp != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}
		}
	})
}
