package symbols

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/thanos-io/objstore"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
)

type httpStatusError struct {
	statusCode int
	body       string
}

func (e httpStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.statusCode, e.body)
}

// NewHTTPProvider returns a provider downloading symbol files from the
// symbol server at cfg.ServerURL. Files are requested at ObjectPath below
// the server URL. When store is not nil, it is checked before the server and
// downloaded files are uploaded to it.
func NewHTTPProvider(logger log.Logger, cfg Config, reg prometheus.Registerer, store objstore.Bucket) (*Provider, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("symbol server URL must be set")
	}
	logger = log.With(logger, "component", "symbols")
	m := newMetrics(reg)
	return newProvider(logger, cfg, m, &httpSource{
		logger:  logger,
		baseURL: cfg.ServerURL,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
			Timeout: cfg.Timeout,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		backoff: cfg.Backoff,
		store:   store,
		metrics: m,
	})
}

type httpSource struct {
	logger  log.Logger
	baseURL string
	client  *http.Client
	backoff backoff.Config
	store   objstore.Bucket
	metrics *metrics
}

func (s *httpSource) read(ctx context.Context, lib symbolication.LibraryDescriptor) ([]byte, error) {
	name := ObjectPath(lib)
	if s.store != nil {
		data, err := readObject(ctx, s.store, name)
		if err == nil {
			return data, nil
		}
		if !s.store.IsObjNotFoundErr(err) {
			return nil, err
		}
	}

	data, err := s.download(ctx, lib)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.Upload(ctx, name, bytes.NewReader(data)); err != nil {
			level.Warn(s.logger).Log("msg", "failed to store downloaded symbol file", "object", name, "err", err)
		}
	}
	return data, nil
}

func (s *httpSource) download(ctx context.Context, lib symbolication.LibraryDescriptor) (_ []byte, err error) {
	start := time.Now()
	status := statusSuccess
	defer func() {
		if err != nil {
			status = statusError
			if symbolication.IsSymbolsNotFound(err) {
				status = statusNotFound
			}
		}
		s.metrics.downloadDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	u, err := url.JoinPath(s.baseURL, ObjectPath(lib))
	if err != nil {
		return nil, err
	}

	b := backoff.New(ctx, s.backoff)
	var lastErr error
	for b.Ongoing() {
		data, err := s.get(ctx, u)
		if err == nil {
			return data, nil
		}
		var statusErr httpStatusError
		if errors.As(err, &statusErr) && statusErr.statusCode == http.StatusNotFound {
			return nil, &symbolication.SymbolsNotFoundError{Library: lib, Err: err}
		}
		lastErr = err
		if !isRetryableError(err) {
			break
		}
		level.Debug(s.logger).Log("msg", "symbol server request failed, retrying", "url", u, "err", err)
		b.Wait()
	}
	if lastErr == nil {
		lastErr = b.Err()
	}
	return nil, fmt.Errorf("download %s after %d retries: %w", u, b.NumRetries(), lastErr)
}

func (s *httpSource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := string(data)
		if len(body) > 1000 {
			body = body[:1000] + "... [truncated]"
		}
		return nil, httpStatusError{statusCode: resp.StatusCode, body: body}
	}
	return data, nil
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.statusCode == http.StatusTooManyRequests || statusErr.statusCode >= 500
	}
	return true
}
