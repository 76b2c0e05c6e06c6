package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/observability"
)

var errBodyTooLarge = errors.New("response body exceeds limit")

// Fetcher fetches pointers over HTTP.
type Fetcher struct {
	client  *http.Client
	config  Config
	metrics *observability.Metrics
}

// Option configures Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom http.Client. The fetcher uses a copy whose
// timeout is RequestTimeout; c itself is not modified.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithMetrics records fetch metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// New creates a fetcher.
func New(config Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{},
		config: config,
	}
	for _, opt := range opts {
		opt(f)
	}
	client := *f.client
	client.Timeout = config.RequestTimeout
	f.client = &client
	return f
}

// Fetch resolves pointer to bytes and a declared content type.
// Returns (nil, nil) when every attempt failed; an error only when ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, pointer string, headers http.Header) (*domain.FetchResult, error) {
	var res *domain.FetchResult
	if identity.IsIPFS(pointer) {
		res = f.race(ctx, IPFSPath(pointer), headers)
	} else {
		kind := "direct"
		start := time.Now()
		r, err := f.get(ctx, pointer, headers)
		f.metrics.ObserveFetch(kind, r != nil, time.Since(start))
		if err != nil {
			logging.FromContext(ctx).Warn("fetch failed", zap.String("pointer", pointer), zap.Error(err))
		}
		res = r
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	if f.config.FailureBackoff > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.config.FailureBackoff):
		}
	}
	return nil, nil
}

// IPFSPath strips the scheme and any leading "ipfs/" segment from a
// content-addressed pointer.
func IPFSPath(pointer string) string {
	p := strings.TrimPrefix(pointer, identity.SchemeIPFS)
	p = strings.TrimPrefix(p, "ipfs/")
	return strings.TrimPrefix(p, "/")
}

type attempt struct {
	host string
	res  *domain.FetchResult
	err  error
}

// race requests path from every gateway concurrently. Losing requests are
// cancelled once the race settles.
func (f *Fetcher) race(ctx context.Context, path string, headers http.Header) *domain.FetchResult {
	logger := logging.FromContext(ctx)
	if len(f.config.Gateways) == 0 {
		logger.Warn("no gateways configured", zap.String("path", path))
		return nil
	}
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attempt, len(f.config.Gateways))
	for _, host := range f.config.Gateways {
		go func(host string) {
			start := time.Now()
			url := strings.TrimSuffix(host, "/") + "/" + path
			res, err := f.get(raceCtx, url, headers)
			f.metrics.ObserveFetch("gateway", res != nil, time.Since(start))
			results <- attempt{host: host, res: res, err: err}
		}(host)
	}

	var settled *domain.FetchResult
	switch f.config.RacePolicy {
	case FirstSuccess:
		for range f.config.Gateways {
			a := <-results
			if a.res != nil {
				settled = a.res
				break
			}
			logger.Debug("gateway failed", zap.String("host", a.host), zap.String("path", path), zap.Error(a.err))
		}
	default:
		first := <-results
		completed := []attempt{first}
		// Everything already finished counts as completed with the first.
	drain:
		for {
			select {
			case a := <-results:
				completed = append(completed, a)
			default:
				break drain
			}
		}
		for _, a := range completed {
			if a.res != nil {
				settled = a.res
			} else {
				logger.Debug("gateway failed", zap.String("host", a.host), zap.String("path", path), zap.Error(a.err))
			}
		}
	}

	f.metrics.ObserveRace(string(f.config.RacePolicy), settled != nil)
	if settled == nil {
		logger.Warn("gateway race produced no content", zap.String("path", path))
	}
	return settled
}

// get issues one GET. Non-200 statuses, transport errors and oversized
// bodies all return a nil result.
func (f *Fetcher) get(ctx context.Context, url string, headers http.Header) (*domain.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if f.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := readLimited(resp.Body, f.config.MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	return &domain.FetchResult{
		Body:        body,
		ContentType: contentType(resp.Header.Get("Content-Type"), body),
		Source:      url,
	}, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		body, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// contentType keeps the declared type unless it is missing or generic, in
// which case the body is sniffed.
func contentType(declared string, body []byte) string {
	major, minor := domain.SplitContentType(declared)
	if major != "" && !(major == "application" && minor == "octet-stream") {
		return declared
	}
	sniffed := http.DetectContentType(body)
	if sniffed == "application/octet-stream" && declared != "" {
		return declared
	}
	return sniffed
}
