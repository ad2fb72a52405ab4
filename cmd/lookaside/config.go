package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/meigma/lookaside"
	"github.com/meigma/lookaside/manifest"
)

// configEnv names the config file when --config is not given.
const configEnv = "LOOKASIDE_CONFIG"

// options holds every command-line setting after the config file is applied.
type options struct {
	manifest         string
	algorithm        string
	urls             []string
	cacheDir         string
	region           string
	tokenFile        string
	message          string
	visibility       string
	unpack           bool
	setup            string
	sizeGB           float64
	artifactManifest string
	config           string
	metricsFile      string
	verbose          bool
	quiet            bool
	help             bool
}

// fileConfig is the YAML config file. Flags given on the command line win.
type fileConfig struct {
	URLs        []string `yaml:"urls"`
	CacheDir    string   `yaml:"cache_dir"`
	Region      string   `yaml:"region"`
	TokenFile   string   `yaml:"token_file"`
	Manifest    string   `yaml:"manifest"`
	MetricsFile string   `yaml:"metrics_file"`
}

func newFlagSet(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("lookaside", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false

	fs.StringVarP(&o.manifest, "manifest", "m", manifest.DefaultName, "manifest file")
	fs.StringVar(&o.algorithm, "algorithm", lookaside.DefaultAlgorithm, "digest algorithm for new records")
	fs.StringArrayVar(&o.urls, "url", nil, "mirror base URL; repeat to try several in order")
	fs.StringVarP(&o.cacheDir, "cache-folder", "c", "", "shared cache directory")
	fs.StringVar(&o.region, "region", "", "preferred storage region")
	fs.StringVar(&o.tokenFile, "authentication-file", "", "file holding a bearer token")
	fs.StringVar(&o.message, "message", "", "upload message (required for upload)")
	fs.StringVar(&o.visibility, "visibility", "", "visibility of added files: internal or public")
	fs.BoolVar(&o.unpack, "unpack", false, "mark added files as archives to extract after fetch")
	fs.StringVar(&o.setup, "setup", "", "command to run inside an extracted archive")
	fs.Float64VarP(&o.sizeGB, "size", "s", 0, "purge until this many GB are free (0 empties the cache)")
	fs.StringVar(&o.artifactManifest, "artifact-manifest", "", "write a JSON list of downloaded files here")
	fs.StringVar(&o.config, "config", "", "YAML config file (default $"+configEnv+")")
	fs.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus textfile metrics here")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	fs.BoolVarP(&o.quiet, "quiet", "q", false, "warnings and errors only")
	fs.BoolVarP(&o.help, "help", "h", false, "show help")
	return fs
}

// parseArgs parses args, then fills every flag not given on the command line
// from the config file, if one is named.
func parseArgs(args []string, getenv func(string) string) (options, []string, error) {
	var o options
	fs := newFlagSet(&o)
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	if o.config == "" {
		o.config = getenv(configEnv)
	}
	if o.config != "" {
		cfg, err := loadConfig(o.config)
		if err != nil {
			return o, nil, err
		}
		cfg.apply(fs, &o)
	}
	if o.verbose && o.quiet {
		return o, nil, errors.New("--verbose and --quiet are mutually exclusive")
	}
	return o, fs.Args(), nil
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path) //nolint:gosec // path is an explicit user setting
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg fileConfig) apply(fs *pflag.FlagSet, o *options) {
	if !fs.Changed("url") && len(cfg.URLs) > 0 {
		o.urls = cfg.URLs
	}
	if !fs.Changed("cache-folder") && cfg.CacheDir != "" {
		o.cacheDir = cfg.CacheDir
	}
	if !fs.Changed("region") && cfg.Region != "" {
		o.region = cfg.Region
	}
	if !fs.Changed("authentication-file") && cfg.TokenFile != "" {
		o.tokenFile = cfg.TokenFile
	}
	if !fs.Changed("manifest") && cfg.Manifest != "" {
		o.manifest = cfg.Manifest
	}
	if !fs.Changed("metrics-file") && cfg.MetricsFile != "" {
		o.metricsFile = cfg.MetricsFile
	}
}

func printUsage(w io.Writer) {
	var o options
	fs := newFlagSet(&o)
	fmt.Fprintf(w, `lookaside keeps large artifacts out of version control.

Usage:
  lookaside [flags] <command> [files...]

Commands:
  list       show the records of the manifest and whether each file is valid
  validate   check files against the manifest (all records if none named)
  add        hash files and record them in the manifest
  fetch      make manifest files present (only the named ones are downloaded)
  upload     send manifest files to the first --url
  purge      evict cache entries, oldest first

Flags:
%s`, fs.FlagUsages())
}
