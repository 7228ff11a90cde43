package noise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for layer downloads.
	DefaultFetchTimeout = 2 * time.Minute

	// DefaultMaxRetries is the default number of attempts per layer.
	DefaultMaxRetries = 3

	defaultBaseBackoff = time.Second

	// maxResponseBytes limits a downloaded layer to 512 MB.
	maxResponseBytes = 512 << 20

	wfsVersion = "1.0.0"
)

// tooLargeError reports a response body over the fetcher's size limit.
type tooLargeError struct {
	limit int64
}

func (e *tooLargeError) Error() string {
	return "response exceeds " + byteSize(e.limit)
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *Fetcher) { f.timeout = d }
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(f *Fetcher) { f.maxRetries = n }
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(f *Fetcher) { f.baseBackoff = d }
}

// WithMaxResponseBytes caps the size of a downloaded layer.
func WithMaxResponseBytes(n int64) FetchOption {
	return func(f *Fetcher) { f.maxBytes = n }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = client }
}

// Fetcher downloads noise layers from WFS endpoints.
type Fetcher struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBytes    int64
	client      *http.Client
	logger      zerolog.Logger
}

// NewFetcher returns a Fetcher with the given options applied.
func NewFetcher(logger zerolog.Logger, opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBytes:    maxResponseBytes,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}
	return f
}

// GetFeatureURL builds the WFS GetFeature request for one type name.
func GetFeatureURL(cfg WFSConfig) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing WFS URL: %w", err)
	}
	q := u.Query()
	q.Set("service", "WFS")
	q.Set("version", wfsVersion)
	q.Set("request", "GetFeature")
	q.Set("typeName", cfg.TypeName)
	q.Set("outputFormat", "json")
	if cfg.SRSName != "" {
		q.Set("srsName", cfg.SRSName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FetchLayer downloads the layer and writes it to layer.Path. The response
// must decode as a GeoJSON FeatureCollection before anything is written.
func (f *Fetcher) FetchLayer(ctx context.Context, layer LayerConfig) error {
	if layer.WFS == nil {
		return fmt.Errorf("fetch %s: no wfs source configured", layer.Name)
	}
	reqURL, err := GetFeatureURL(*layer.WFS)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", layer.Name, err)
	}

	var lastErr error
	for attempt := range f.maxRetries {
		if attempt > 0 {
			backoff := f.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			f.logger.Warn().Err(lastErr).Str("layer", layer.Name).Dur("backoff", backoff).Msg("retrying layer download")
			select {
			case <-ctx.Done():
				return fmt.Errorf("fetch %s: %w", layer.Name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := f.get(ctx, reqURL)
		var tooLarge *tooLargeError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("fetch %s: %w", layer.Name, err)
		}
		if err != nil {
			lastErr = err
			continue
		}

		fc, err := geojson.UnmarshalFeatureCollection(body)
		if err != nil {
			// not transient
			return fmt.Errorf("fetch %s: decoding response: %w", layer.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(layer.Path), 0755); err != nil {
			return fmt.Errorf("fetch %s: %w", layer.Name, err)
		}
		if err := os.WriteFile(layer.Path, body, 0644); err != nil {
			return fmt.Errorf("fetch %s: writing layer: %w", layer.Name, err)
		}
		f.logger.Info().Str("layer", layer.Name).Int("features", len(fc.Features)).Str("path", layer.Path).Msg("layer downloaded")
		return nil
	}

	return fmt.Errorf("fetch %s: all %d attempts failed: %w", layer.Name, f.maxRetries, lastErr)
}

// FetchAll downloads every layer that has a WFS source. It stops at the first
// failure.
func (f *Fetcher) FetchAll(ctx context.Context, layers []LayerConfig) (int, error) {
	n := 0
	for _, l := range layers {
		if l.WFS == nil {
			continue
		}
		if err := f.FetchLayer(ctx, l); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (f *Fetcher) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", reqURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", reqURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", reqURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &tooLargeError{limit: f.maxBytes}
	}
	return body, nil
}

func byteSize(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%d MB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
