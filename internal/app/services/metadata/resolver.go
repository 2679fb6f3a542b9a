// Package metadata resolves token metadata URIs into display documents. A
// resolution failure never propagates into ledger operations; callers receive
// a failed placeholder and the listing keeps trading.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teia-market/marketd/internal/app/domain/metadata"
	"github.com/teia-market/marketd/internal/app/metrics"
	"github.com/teia-market/marketd/pkg/logger"
)

// maxDocumentBytes bounds how much of a metadata response is read.
const maxDocumentBytes = 1 << 20

// Resolver fetches and caches metadata documents. ipfs:// URIs are rewritten
// through the configured HTTP gateway; http(s) URIs are fetched directly.
type Resolver struct {
	client  *http.Client
	gateway string
	timeout time.Duration
	cache   Cache
	log     *logger.Logger
}

// NewResolver constructs a resolver. A nil client gets a 10s-timeout default,
// a nil cache falls back to the in-process cache, and an empty gateway
// disables ipfs resolution (those URIs resolve as failed).
func NewResolver(client *http.Client, gateway string, timeout time.Duration, cache Cache, log *logger.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	if log == nil {
		log = logger.NewDefault("metadata")
	}
	return &Resolver{
		client:  client,
		gateway: strings.TrimRight(strings.TrimSpace(gateway), "/"),
		timeout: timeout,
		cache:   cache,
		log:     log,
	}
}

// Resolve returns the metadata document for a token, consulting the cache
// first. The returned Resolved is always usable: on any failure its State is
// failed and Document is nil.
func (r *Resolver) Resolve(ctx context.Context, tokenID uint64, uri string) metadata.Resolved {
	if cached, ok := r.cache.Get(ctx, tokenID); ok && cached.URI == uri {
		metrics.RecordMetadataFetch("cached")
		return cached
	}

	resolved := r.fetch(ctx, tokenID, uri)
	if resolved.Available() {
		metrics.RecordMetadataFetch("resolved")
		r.cache.Set(ctx, resolved)
	} else {
		metrics.RecordMetadataFetch("failed")
	}
	return resolved
}

func (r *Resolver) fetch(ctx context.Context, tokenID uint64, uri string) metadata.Resolved {
	failed := metadata.Resolved{
		TokenID:   tokenID,
		URI:       uri,
		State:     metadata.StateFailed,
		FetchedAt: time.Now().UTC(),
	}

	target, err := r.gatewayURL(uri)
	if err != nil {
		r.log.WithError(err).
			WithField("token_id", tokenID).
			WithField("uri", uri).
			Debug("metadata uri not resolvable")
		return failed
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return failed
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.log.WithError(err).
			WithField("token_id", tokenID).
			Debug("metadata fetch failed")
		return failed
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.log.WithField("token_id", tokenID).
			WithField("status", resp.StatusCode).
			Debug("metadata fetch non-200")
		return failed
	}

	var doc metadata.Document
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentBytes)).Decode(&doc); err != nil {
		r.log.WithError(err).
			WithField("token_id", tokenID).
			Debug("metadata decode failed")
		return failed
	}

	return metadata.Resolved{
		TokenID:   tokenID,
		URI:       uri,
		Document:  &doc,
		State:     metadata.StateResolved,
		FetchedAt: time.Now().UTC(),
	}
}

// gatewayURL maps a token metadata URI to a fetchable HTTP URL.
func (r *Resolver) gatewayURL(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", fmt.Errorf("empty metadata uri: %w", metadata.ErrUnavailable)
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse metadata uri: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https":
		return uri, nil
	case "ipfs":
		if r.gateway == "" {
			return "", fmt.Errorf("no ipfs gateway configured: %w", metadata.ErrUnavailable)
		}
		path := parsed.Host + parsed.Path
		return r.gateway + "/ipfs/" + strings.TrimPrefix(path, "/"), nil
	default:
		return "", fmt.Errorf("unsupported metadata scheme %q: %w", parsed.Scheme, metadata.ErrUnavailable)
	}
}
