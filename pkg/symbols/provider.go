package symbols

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/regexp"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
)

type Config struct {
	CacheSize int            `yaml:"cache_size"`
	ServerURL string         `yaml:"server_url"`
	Timeout   time.Duration  `yaml:"timeout"`
	Backoff   backoff.Config `yaml:"backoff"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.CacheSize, "symbols.cache-size", 64, "Number of parsed symbol files kept in memory.")
	f.StringVar(&cfg.ServerURL, "symbols.server-url", "", "Base URL of a symbol server. When set, symbol files missing from the symbols directory are downloaded from it and stored there.")
	f.DurationVar(&cfg.Timeout, "symbols.timeout", 2*time.Minute, "Timeout of a symbol server request.")
	f.DurationVar(&cfg.Backoff.MinBackoff, "symbols.backoff-min-period", time.Second, "Minimum delay between symbol server retries.")
	f.DurationVar(&cfg.Backoff.MaxBackoff, "symbols.backoff-max-period", 10*time.Second, "Maximum delay between symbol server retries.")
	f.IntVar(&cfg.Backoff.MaxRetries, "symbols.backoff-retries", 3, "Number of symbol server attempts per symbol file.")
}

func (cfg *Config) Validate() error {
	var errs error
	if cfg.CacheSize < 1 {
		errs = multierror.Append(errs, fmt.Errorf("invalid cache-size value %d, must be positive", cfg.CacheSize))
	}
	if cfg.ServerURL != "" {
		u, err := url.Parse(cfg.ServerURL)
		switch {
		case err != nil:
			errs = multierror.Append(errs, fmt.Errorf("invalid server-url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = multierror.Append(errs, fmt.Errorf("invalid server-url %q, scheme must be http or https", cfg.ServerURL))
		}
		if cfg.Backoff.MaxRetries < 1 {
			errs = multierror.Append(errs, fmt.Errorf("invalid backoff-retries value %d, must be positive", cfg.Backoff.MaxRetries))
		}
	}
	return errs
}

// ObjectPath returns where the symbol file of a library is stored:
// <debugName>/<breakpadId>/<debugName without .pdb>.sym.
func ObjectPath(lib symbolication.LibraryDescriptor) string {
	return path.Join(lib.DebugName, lib.BreakpadID, strings.TrimSuffix(lib.DebugName, ".pdb")+".sym")
}

var breakpadIDPattern = regexp.MustCompile(`^[0-9A-Fa-f]+$`)

// validateLibrary rejects descriptors that can't name a symbol file, such as
// debug names escaping their directory.
func validateLibrary(lib symbolication.LibraryDescriptor) error {
	if lib.DebugName == "" || lib.DebugName == "." || lib.DebugName == ".." || strings.ContainsAny(lib.DebugName, `/\`) {
		return fmt.Errorf("invalid debug name %q", lib.DebugName)
	}
	if !breakpadIDPattern.MatchString(lib.BreakpadID) {
		return fmt.Errorf("invalid breakpad id %q", lib.BreakpadID)
	}
	return nil
}

// source reads the raw content of the symbol file of a library. It returns a
// *symbolication.SymbolsNotFoundError when there is no such file.
type source interface {
	read(ctx context.Context, lib symbolication.LibraryDescriptor) ([]byte, error)
}

// Provider resolves addresses with Breakpad symbol files. Parsed files are
// kept in an LRU cache; concurrent requests for the same library share one
// fetch.
type Provider struct {
	logger  log.Logger
	source  source
	cache   *lru.Cache[string, *SymbolFile]
	group   singleflight.Group
	metrics *metrics
}

func newProvider(logger log.Logger, cfg Config, m *metrics, src source) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := lru.NewWithEvict(cfg.CacheSize, func(string, *SymbolFile) {
		m.cacheEvictions.Inc()
	})
	if err != nil {
		return nil, err
	}
	return &Provider{
		logger:  logger,
		source:  src,
		cache:   cache,
		metrics: m,
	}, nil
}

func (p *Provider) LookupAddresses(ctx context.Context, req symbolication.LibraryRequest) (map[uint64]symbolication.AddressResult, error) {
	f, err := p.symbolFile(ctx, req.Library, req.IgnoreCache)
	if err != nil {
		return nil, err
	}
	results := lookupAll(f, req.Addresses)
	level.Debug(p.logger).Log("msg", "looked up addresses", "library", req.Library, "addresses", len(req.Addresses), "resolved", len(results))
	return results, nil
}

func (p *Provider) symbolFile(ctx context.Context, lib symbolication.LibraryDescriptor, ignoreCache bool) (*SymbolFile, error) {
	key := lib.Key()
	if !ignoreCache {
		if f, ok := p.cache.Get(key); ok {
			p.metrics.cacheOperations.WithLabelValues("get", "hit").Inc()
			return f, nil
		}
		p.metrics.cacheOperations.WithLabelValues("get", "miss").Inc()
	}

	v, err, _ := p.group.Do(key, func() (any, error) {
		f, err := p.fetch(ctx, lib)
		if err != nil {
			return nil, err
		}
		p.cache.Add(key, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SymbolFile), nil
}

func (p *Provider) fetch(ctx context.Context, lib symbolication.LibraryDescriptor) (_ *SymbolFile, err error) {
	start := time.Now()
	status := statusSuccess
	defer func() {
		if err != nil {
			status = statusError
			if symbolication.IsSymbolsNotFound(err) {
				status = statusNotFound
			}
		}
		p.metrics.fetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if err := validateLibrary(lib); err != nil {
		return nil, &symbolication.SymbolsNotFoundError{Library: lib, Err: err}
	}
	name := ObjectPath(lib)
	data, err := p.source.read(ctx, lib)
	if err != nil {
		var notFound *symbolication.SymbolsNotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	p.metrics.fileSize.Observe(float64(len(data)))
	data, err = decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	f, err := ParseSymbolFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if f.Module.BreakpadID != "" && f.Module.BreakpadID != lib.BreakpadID {
		level.Warn(p.logger).Log("msg", "symbol file module id mismatch", "object", name, "module_id", f.Module.BreakpadID)
	}
	level.Debug(p.logger).Log("msg", "loaded symbol file", "object", name, "size", humanize.Bytes(uint64(len(data))), "funcs", len(f.funcs))
	return f, nil
}
