package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

func runCatalogueNoun(args []string) int {
	if len(args) < 1 {
		printCatalogueNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printCatalogueNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "list":
		return runCatalogueList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown catalogue action: %s\n", args[0])
		printCatalogueNounHelp(os.Stderr)
		return 1
	}
}

func printCatalogueNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: fiab catalogue list (--catalogue <path> | --config <path>) [--plugin store/local] [--json]")
}

func runCatalogueList(args []string) int {
	fs := flag.NewFlagSet("catalogue list", flag.ContinueOnError)
	cataloguePath := fs.String("catalogue", "", "Path to catalogue YAML/JSON")
	configPath := fs.String("config", "", "Path to configuration file")
	pluginFlag := fs.String("plugin", "", "Only list factories of this plugin (store/local)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cat, err := loadCatalogue(*cataloguePath, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load catalogue: %v\n", err)
		return 1
	}

	groups := catalogue.GroupByKind(cat)
	if *pluginFlag != "" {
		pluginID, err := fable.ParsePluginID(*pluginFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		var ok bool
		if groups, ok = catalogue.GroupPluginByKind(cat, pluginID); !ok {
			fmt.Fprintf(os.Stderr, "Unknown plugin: %s\n", pluginID)
			return 1
		}
	}

	if *jsonOut {
		out := map[fable.Kind][]string{}
		for _, kind := range fable.KindOrder {
			keys := []string{}
			for _, e := range groups[kind] {
				keys = append(keys, fable.FactoryIDToKey(e.FactoryID))
			}
			out[kind] = keys
		}
		return printJSON(out)
	}

	for _, kind := range fable.KindOrder {
		entries := groups[kind]
		fmt.Println(styles.kind(kind, fmt.Sprintf("%s (%d)", kind, len(entries))))
		for _, e := range entries {
			line := "  " + fable.FactoryIDToKey(e.FactoryID)
			if e.Factory.Title != "" {
				line += "  " + e.Factory.Title
			}
			if len(e.Factory.Inputs) > 0 {
				line += styles.Dim.Render("  inputs: " + strings.Join(e.Factory.Inputs, ", "))
			}
			if opts := optionNames(e.Factory); len(opts) > 0 {
				line += styles.Dim.Render("  options: " + strings.Join(opts, ", "))
			}
			fmt.Println(line)
		}
	}
	return 0
}

func optionNames(f fable.Factory) []string {
	names := make([]string, 0, len(f.ConfigurationOptions))
	for name := range f.ConfigurationOptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
