package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	pprof "github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"github.com/thanos-io/objstore/providers/filesystem"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/profile-symbolicator/pkg/profile"
	"github.com/grafana/profile-symbolicator/pkg/symbolication"
	"github.com/grafana/profile-symbolicator/pkg/symbols"
	"github.com/grafana/profile-symbolicator/pkg/util"
)

var (
	consoleOutput = os.Stderr
	logger        = log.NewLogfmtLogger(consoleOutput)
)

func main() {
	var (
		cfg        config
		configFile string
		verbose    bool
		input      string
		output     string
	)

	fs := flag.NewFlagSet("symbolicate", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if path := parseConfigFileParameter(os.Args[1:]); path != "" {
		if err := cfg.loadConfigFile(path); err != nil {
			os.Exit(checkError(err))
		}
	}

	app := kingpin.New(filepath.Base(os.Args[0]), "Symbolicate a pprof profile with Breakpad symbol files.").UsageWriter(os.Stdout)
	app.Version(version.Print("symbolicate"))
	app.HelpFlag.Short('h')
	app.Flag("verbose", "Enable verbose logging.").Short('v').Default("0").BoolVar(&verbose)
	app.Flag(configFileFlag, "YAML file to load the configuration from. Flags override its values.").StringVar(&configFile)
	registerFlags(app, fs)
	app.Arg("input", "The pprof profile to symbolicate.").Required().ExistingFileVar(&input)
	app.Arg("output", "Where to write the symbolicated pprof profile.").Required().StringVar(&output)

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if !verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	ctx := util.WithLogger(context.Background(), logger)

	if err := cfg.Validate(); err != nil {
		os.Exit(checkError(err))
	}
	os.Exit(checkError(symbolicate(ctx, cfg, input, output)))
}

func checkError(err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

func symbolicate(ctx context.Context, cfg config, input, output string) error {
	logger := util.Logger(ctx)
	reg := prometheus.NewRegistry()

	bucket, err := filesystem.NewBucket(cfg.SymbolsDir)
	if err != nil {
		return fmt.Errorf("open symbols directory: %w", err)
	}
	defer bucket.Close()

	var provider *symbols.Provider
	if cfg.Symbols.ServerURL != "" {
		provider, err = symbols.NewHTTPProvider(logger, cfg.Symbols, reg, bucket)
	} else {
		provider, err = symbols.NewBucketProvider(logger, cfg.Symbols, reg, bucket)
	}
	if err != nil {
		return err
	}
	s, err := symbolication.New(logger, cfg.Symbolication, reg)
	if err != nil {
		return err
	}

	p, err := readProfile(input)
	if err != nil {
		return err
	}
	res, err := s.Symbolicate(ctx, p, provider)
	if err != nil {
		return err
	}
	if err := res.Profile.Validate(); err != nil {
		return fmt.Errorf("symbolicated profile is invalid: %w", err)
	}
	if err := writeProfile(output, res.Profile); err != nil {
		return err
	}

	var renamed int
	for _, m := range res.RenamingMaps {
		renamed += len(m)
	}
	level.Info(logger).Log("msg", "profile symbolicated", "input", input, "output", output, "libraries", len(p.Libs), "renamed_funcs", renamed)
	return nil
}

func readProfile(path string) (*profile.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, err := pprof.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return profile.FromPprof(src)
}

func writeProfile(path string, p *profile.Profile) (err error) {
	dst, err := p.ToPprof(0)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return dst.Write(f)
}
