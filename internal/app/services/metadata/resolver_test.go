package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teia-market/marketd/internal/app/domain/metadata"
)

func TestResolver_ResolvesHTTPDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"Piece #1","description":"an edition","image":"ipfs://QmImg"}`))
	}))
	defer server.Close()

	r := NewResolver(server.Client(), "", time.Second, nil, nil)
	resolved := r.Resolve(context.Background(), 1, server.URL+"/doc.json")

	if !resolved.Available() {
		t.Fatalf("expected resolved document, got state %s", resolved.State)
	}
	if resolved.Document.Name != "Piece #1" {
		t.Fatalf("unexpected name: %s", resolved.Document.Name)
	}
	if resolved.Document.Image != "ipfs://QmImg" {
		t.Fatalf("unexpected image: %s", resolved.Document.Image)
	}
}

func TestResolver_RewritesIpfsThroughGateway(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		_, _ = w.Write([]byte(`{"name":"x"}`))
	}))
	defer server.Close()

	r := NewResolver(server.Client(), server.URL, time.Second, nil, nil)
	resolved := r.Resolve(context.Background(), 2, "ipfs://QmHash/meta.json")

	if !resolved.Available() {
		t.Fatalf("expected resolved, got %s", resolved.State)
	}
	if p, _ := gotPath.Load().(string); p != "/ipfs/QmHash/meta.json" {
		t.Fatalf("unexpected gateway path: %s", p)
	}
}

func TestResolver_FailureIsIsolated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/garbage":
			_, _ = w.Write([]byte("not json"))
		}
	}))
	defer server.Close()

	r := NewResolver(server.Client(), "", time.Second, nil, nil)

	cases := map[string]string{
		"non-200":            server.URL + "/missing",
		"unparseable":        server.URL + "/garbage",
		"unsupported scheme": "ftp://example.com/meta.json",
		"empty uri":          "",
		"ipfs no gateway":    "ipfs://QmHash",
	}
	for name, uri := range cases {
		resolved := r.Resolve(context.Background(), 3, uri)
		if resolved.State != metadata.StateFailed {
			t.Fatalf("%s: expected failed state, got %s", name, resolved.State)
		}
		if resolved.Document != nil {
			t.Fatalf("%s: failed resolution must carry no document", name)
		}
	}
}

func TestResolver_FetchTimeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	r := NewResolver(server.Client(), "", 50*time.Millisecond, nil, nil)
	resolved := r.Resolve(context.Background(), 4, server.URL)

	if resolved.State != metadata.StateFailed {
		t.Fatalf("expected failed on timeout, got %s", resolved.State)
	}
}

func TestResolver_CachesResolvedDocuments(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"name":"cached"}`))
	}))
	defer server.Close()

	r := NewResolver(server.Client(), "", time.Second, NewMemoryCache(time.Minute), nil)
	uri := server.URL + "/doc.json"

	for i := 0; i < 3; i++ {
		resolved := r.Resolve(context.Background(), 5, uri)
		if !resolved.Available() {
			t.Fatalf("resolve %d failed", i)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream fetch, got %d", hits.Load())
	}

	// A changed URI bypasses the stale cache entry.
	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"fresh"}`))
	}))
	defer server2.Close()
	resolved := r.Resolve(context.Background(), 5, server2.URL+"/new.json")
	if !resolved.Available() || resolved.Document.Name != "fresh" {
		t.Fatalf("expected fresh document, got %+v", resolved)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	cache := NewMemoryCache(10 * time.Millisecond)
	cache.Set(context.Background(), metadata.Resolved{
		TokenID: 1,
		State:   metadata.StateResolved,
	})

	if _, ok := cache.Get(context.Background(), 1); !ok {
		t.Fatal("fresh entry should hit")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get(context.Background(), 1); ok {
		t.Fatal("expired entry should miss")
	}
}
