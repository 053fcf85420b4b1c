package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/alecthomas/kingpin.v2"
	"gopkg.in/yaml.v3"

	"github.com/grafana/profile-symbolicator/pkg/symbolication"
	"github.com/grafana/profile-symbolicator/pkg/symbols"
)

const configFileFlag = "config.file"

type config struct {
	SymbolsDir    string               `yaml:"symbols_dir"`
	Symbolication symbolication.Config `yaml:"symbolication"`
	Symbols       symbols.Config       `yaml:"symbols"`
}

func (c *config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.SymbolsDir, "symbols.dir", "./symbols", "Directory holding Breakpad symbol files, laid out as <debug name>/<breakpad id>/<name>.sym.")
	c.Symbolication.RegisterFlags(f)
	c.Symbols.RegisterFlags(f)
}

func (c *config) Validate() error {
	var errs error
	if c.SymbolsDir == "" {
		errs = multierror.Append(errs, errors.New("symbols directory must be set"))
	}
	if err := c.Symbolication.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := c.Symbols.Validate(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}

// loadConfigFile overrides c with the content of a YAML file. Unknown
// fields are rejected.
func (c *config) loadConfigFile(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// parseConfigFileParameter finds the config file among the arguments
// without parsing any other flag.
func parseConfigFileParameter(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name != configFileFlag {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// registerFlags exposes the flags of fs on a kingpin application. Their
// current values become the defaults, so flags given on the command line
// win over the config file.
func registerFlags(app *kingpin.Application, fs *flag.FlagSet) {
	fs.VisitAll(func(f *flag.Flag) {
		app.Flag(f.Name, f.Usage).Default(f.Value.String()).SetValue(f.Value)
	})
}
