package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/config"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		if hasHelpFlag(args) {
			printServeHelp()
			return 0
		}
		return runServe(args)
	case "fable":
		return runFableNoun(args)
	case "catalogue":
		return runCatalogueNoun(args)
	case "config":
		return runConfigNoun(args)
	case "events":
		if hasHelpFlag(args) {
			printEventsHelp()
			return 0
		}
		return runEvents(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: fiab version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		return printJSON(info)
	}

	fmt.Printf("fiab %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `fiab - Forecast-in-a-Box fable builder

Usage:
  fiab <noun> <action> [flags]

Service:
  serve                 Run the HTTP API
  events                Tail the event stream of a running server

Fable Commands:
  fable generate        Build a starter pipeline for a plugin
  fable validate        Validate a fable and print its shareable state
  fable encode          Encode a fable as URL state
  fable decode          Decode URL state back into a fable
  fable layout          Compute node positions for a fable

Catalogue Commands:
  catalogue list        Show factories grouped by kind

Config Commands:
  config check          Check configuration and catalogue

General:
  version               Show version information
  help                  Show this help message

Use 'fiab <noun> help' for action-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

// loadCatalogue reads the catalogue named directly or through a config file.
func loadCatalogue(cataloguePath, configPath string) (catalogue.Catalogue, error) {
	if cataloguePath == "" && configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cataloguePath = cfg.Catalogue.Path
	}
	if cataloguePath == "" {
		return nil, fmt.Errorf("--catalogue or --config is required")
	}
	return catalogue.Load(cataloguePath)
}

// builderSettings returns the builder section of the config at configPath,
// or the defaults when no config is given.
func builderSettings(configPath string) (config.BuilderConfig, error) {
	if configPath == "" {
		return config.Defaults().Builder, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.BuilderConfig{}, err
	}
	return cfg.Builder, nil
}

// readFable reads a fable document from path, or stdin for "" and "-".
func readFable(path string) (*fable.Builder, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read fable: %w", err)
	}
	doc := fable.New()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse fable: %w", err)
	}
	if doc.Blocks == nil {
		doc.Blocks = map[fable.InstanceID]fable.BlockInstance{}
	}
	return doc.Clone(), nil
}
