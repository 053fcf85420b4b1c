package symbolication

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/profile-symbolicator/pkg/profile"
	"github.com/grafana/profile-symbolicator/pkg/util"
)

// Symbolicator drives symbolication passes over profiles.
type Symbolicator struct {
	logger  log.Logger
	metrics *metrics
	cfg     Config
}

func New(logger log.Logger, cfg Config, reg prometheus.Registerer) (*Symbolicator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Symbolicator{
		logger:  log.With(logger, "component", "symbolicator"),
		metrics: newMetrics(reg),
		cfg:     cfg,
	}, nil
}

// Option configures a SymbolicateProfile call.
type Option func(*Config)

func WithMaxConcurrency(n int) Option {
	return func(cfg *Config) { cfg.MaxConcurrency = n }
}

func WithIgnoreCache(ignore bool) Option {
	return func(cfg *Config) { cfg.IgnoreCache = ignore }
}

// SymbolicateProfile runs the lookup phase of a pass with the logger and
// registry of the context. See Symbolicator.SymbolicateProfile.
func SymbolicateProfile(ctx context.Context, p *profile.Profile, provider SymbolProvider, cb StepCallback, opts ...Option) error {
	cfg := Config{MaxConcurrency: 8}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := New(util.Logger(ctx), cfg, util.Registry(ctx))
	if err != nil {
		return err
	}
	return s.SymbolicateProfile(ctx, p, provider, cb)
}

// SymbolicateProfile requests the symbols of every library used by the
// profile, one request per library. Whenever the symbols of a library
// arrive, cb is called once for every thread with frames in that library.
// Calls to cb are serialized. The profile is not modified.
//
// Libraries the provider has no symbols for are logged and skipped. Any
// other provider error cancels the pass and is returned.
func (s *Symbolicator) SymbolicateProfile(ctx context.Context, p *profile.Profile, provider SymbolProvider, cb StepCallback) error {
	requests, threadInfos := GatherLibraryRequests(p, s.cfg.IgnoreCache)
	level.Debug(s.logger).Log("msg", "symbolicating profile", "threads", len(p.Threads), "libraries", len(requests))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for _, req := range requests {
		req := req
		g.Go(func() error {
			results, err := s.lookup(ctx, provider, req)
			if err != nil {
				if IsSymbolsNotFound(err) {
					level.Warn(s.logger).Log("msg", "symbols not found, library left unsymbolicated", "library", req.Library, "err", err)
					return nil
				}
				return fmt.Errorf("lookup symbols of %s: %w", req.Library, err)
			}

			mu.Lock()
			defer mu.Unlock()
			key := req.Library.Key()
			for i, infos := range threadInfos {
				info, ok := infos[key]
				if !ok {
					continue
				}
				s.metrics.steps.Inc()
				cb(i, SymbolicationStep{ThreadLibraryInfo: info, ResultsForLibrary: results})
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Symbolicator) lookup(ctx context.Context, provider SymbolProvider, req LibraryRequest) (map[uint64]AddressResult, error) {
	start := time.Now()
	status := statusSuccess
	defer func() {
		s.metrics.libraryLookups.WithLabelValues(status).Inc()
		s.metrics.libraryLookupDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	results, err := provider.LookupAddresses(ctx, req)
	switch {
	case err == nil:
	case IsSymbolsNotFound(err):
		status = statusNotFound
	default:
		status = statusError
	}
	return results, err
}

// Result of a complete symbolication pass.
type Result struct {
	Profile *profile.Profile
	// RenamingMaps holds the func renaming map of every thread, in thread
	// order.
	RenamingMaps []FuncRenamingMap
}

// Symbolicate runs a whole pass: it collects the steps of every thread and
// applies them once all lookups are done. The input profile is left
// untouched; the result shares its string table.
func (s *Symbolicator) Symbolicate(ctx context.Context, p *profile.Profile, provider SymbolProvider) (_ *Result, err error) {
	start := time.Now()
	status := statusSuccess
	defer func() {
		if err != nil {
			status = statusError
		}
		s.metrics.profileSymbolication.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	steps := make([][]SymbolicationStep, len(p.Threads))
	err = s.SymbolicateProfile(ctx, p, provider, func(threadIndex int, step SymbolicationStep) {
		steps[threadIndex] = append(steps[threadIndex], step)
	})
	if err != nil {
		return nil, err
	}

	threads := make([]*profile.Thread, len(p.Threads))
	maps := make([]FuncRenamingMap, len(p.Threads))
	for i, t := range p.Threads {
		if len(steps[i]) == 0 {
			threads[i] = t
			maps[i] = FuncRenamingMap{}
			continue
		}
		// Arrival order is not deterministic, row reuse is.
		slices.SortFunc(steps[i], func(a, b SymbolicationStep) int {
			return cmp.Compare(a.ThreadLibraryInfo.Library.Key(), b.ThreadLibraryInfo.Library.Key())
		})
		threads[i], maps[i], err = ApplySymbolicationSteps(t, p.Strings, steps[i])
		if err != nil {
			return nil, fmt.Errorf("thread %d (%s): %w", i, t.Name, err)
		}
		level.Debug(s.logger).Log("msg", "thread symbolicated", "thread", t.Name, "steps", len(steps[i]), "renamed_funcs", len(maps[i]))
	}
	return &Result{Profile: p.WithThreads(threads), RenamingMaps: maps}, nil
}
