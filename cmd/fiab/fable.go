package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/builder"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/client"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/generator"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/layout"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/urlstate"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

func runFableNoun(args []string) int {
	if len(args) < 1 {
		printFableNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printFableNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "generate":
		return runFableGenerate(actionArgs)
	case "validate":
		return runFableValidate(actionArgs)
	case "encode":
		return runFableEncode(actionArgs)
	case "decode":
		return runFableDecode(actionArgs)
	case "layout":
		return runFableLayout(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown fable action: %s\n", action)
		printFableNounHelp(os.Stderr)
		return 1
	}
}

func printFableNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: fiab fable <action> [flags]

Actions:
  generate  --plugin store/local (--catalogue <path> | --config <path>) [--defaults] [--encode]
  validate  [--in <file>] (--catalogue <path> | --config <path> | --api <url> [--token <t>])
  encode    [--in <file>] [--max-length <n>]
  decode    (--state <s> | --url <builder url>)
  layout    [--in <file>] (--catalogue <path> | --config <path>) [--direction TB|LR] [--json]

Fables are read as JSON from --in, or stdin when omitted.
`)
}

func runFableGenerate(args []string) int {
	fs := flag.NewFlagSet("fable generate", flag.ContinueOnError)
	cataloguePath := fs.String("catalogue", "", "Path to catalogue YAML/JSON")
	configPath := fs.String("config", "", "Path to configuration file")
	pluginFlag := fs.String("plugin", "", "Plugin to generate for (store/local)")
	defaults := fs.Bool("defaults", false, "Fill configuration values with defaults")
	encode := fs.Bool("encode", false, "Print URL state instead of JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	pluginID, err := fable.ParsePluginID(*pluginFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--plugin: %v\n", err)
		return 1
	}
	cat, err := loadCatalogue(*cataloguePath, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load catalogue: %v\n", err)
		return 1
	}

	doc, err := generator.GeneratePluginPipeline(cat, pluginID, generator.Options{FillDefaults: *defaults})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate: %v\n", err)
		return 1
	}
	if *encode {
		state, err := urlstate.Encode(doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode: %v\n", err)
			return 1
		}
		fmt.Println(state)
		return 0
	}
	return printJSON(doc)
}

// runFableValidate loads the fable into a builder session and runs one sync,
// which validates it and produces its URL state.
func runFableValidate(args []string) int {
	fs := flag.NewFlagSet("fable validate", flag.ContinueOnError)
	in := fs.String("in", "", "Fable JSON file (default stdin)")
	cataloguePath := fs.String("catalogue", "", "Path to catalogue YAML/JSON")
	configPath := fs.String("config", "", "Path to configuration file")
	apiURL := fs.String("api", "", "Validate against a running server instead")
	token := fs.String("token", os.Getenv("FIAB_TOKEN"), "Bearer token for --api")
	jsonOut := fs.Bool("json", false, "Output the validation state as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	doc, err := readFable(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	var (
		validator builder.Validator
		cat       catalogue.Catalogue
	)
	if *apiURL != "" {
		validator = client.New(*apiURL, *token)
	} else {
		if cat, err = loadCatalogue(*cataloguePath, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load catalogue: %v\n", err)
			return 1
		}
		validator = validation.Local{Catalogue: cat}
	}

	settings, err := builderSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	store := builder.NewStore()
	store.SetFable(doc, "")

	var (
		state    string
		tooLarge bool
	)
	syncer := builder.NewSyncer(store, validator, builder.SyncerConfig{
		Delay:   time.Hour,
		Timeout: 30 * time.Second,
		Codec:   urlstate.NewCodec(settings.URLStateMaxLength),
		StateSink: func(encoded string, large bool) {
			state, tooLarge = encoded, large
		},
	})
	syncer.Flush()
	syncer.Stop()

	st := store.ValidationState()
	if st == nil {
		fmt.Fprintln(os.Stderr, "Validation failed: no result from validator")
		return 1
	}
	if *jsonOut {
		if code := printJSON(st); code != 0 {
			return code
		}
	} else {
		printValidation(doc, cat, st)
		if tooLarge {
			fmt.Println(styles.Warn.Render(fmt.Sprintf("state: %d characters, too large for a URL; save the fable instead", len(state))))
		} else {
			fmt.Println(styles.Dim.Render("state: ") + state)
		}
	}
	if !st.IsValid {
		return 1
	}
	return 0
}

func printValidation(doc *fable.Builder, cat catalogue.Catalogue, st *validation.State) {
	if st.IsValid {
		fmt.Println(styles.OK.Render("fable is valid"))
	} else {
		fmt.Println(styles.Error.Render("fable is invalid"))
	}
	for _, msg := range st.GlobalErrors {
		fmt.Println("  " + styles.Error.Render(msg))
	}
	for _, id := range doc.IDs() {
		block := doc.Blocks[id]
		kind := layout.KindOf(cat, block.FactoryID)
		label := fmt.Sprintf("%s %s", id, fable.FactoryIDToKey(block.FactoryID))
		bs := st.Block(id)
		if !bs.HasErrors {
			fmt.Println("  " + styles.kind(kind, label))
			continue
		}
		fmt.Println("  " + styles.kind(kind, label) + " " + styles.Error.Render(strings.Join(bs.Errors, "; ")))
	}
}

func runFableEncode(args []string) int {
	fs := flag.NewFlagSet("fable encode", flag.ContinueOnError)
	in := fs.String("in", "", "Fable JSON file (default stdin)")
	maxLength := fs.Int("max-length", urlstate.MaxStateLength, "URL state length limit")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	doc, err := readFable(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	codec := urlstate.NewCodec(*maxLength)
	state, err := codec.Encode(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode: %v\n", err)
		return 1
	}
	fmt.Println(state)
	if codec.IsTooLarge(state) {
		fmt.Fprintln(os.Stderr, styles.Warn.Render(fmt.Sprintf("state is %d characters, over the %d limit", len(state), codec.MaxLength())))
		return 1
	}
	return 0
}

func runFableDecode(args []string) int {
	fs := flag.NewFlagSet("fable decode", flag.ContinueOnError)
	state := fs.String("state", "", "Encoded URL state")
	rawURL := fs.String("url", "", "Builder URL carrying a state or fableId parameter")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *rawURL != "" {
		u, err := url.Parse(*rawURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid URL: %v\n", err)
			return 1
		}
		doc, fableID := urlstate.NewCodec(urlstate.MaxStateLength).ParseQuery(u.Query())
		if doc != nil {
			return printJSON(doc)
		}
		if fableID != "" {
			fmt.Fprintf(os.Stderr, "URL refers to saved fable %s; fetch it with GET /fable/%s\n", fableID, fableID)
			return 1
		}
		fmt.Fprintln(os.Stderr, "URL carries no decodable state")
		return 1
	}

	if *state == "" {
		fmt.Fprintln(os.Stderr, "--state or --url is required")
		return 1
	}
	doc, ok := urlstate.Decode(*state)
	if !ok {
		fmt.Fprintln(os.Stderr, "State is not a valid encoded fable")
		return 1
	}
	return printJSON(doc)
}

func runFableLayout(args []string) int {
	fs := flag.NewFlagSet("fable layout", flag.ContinueOnError)
	in := fs.String("in", "", "Fable JSON file (default stdin)")
	cataloguePath := fs.String("catalogue", "", "Path to catalogue YAML/JSON")
	configPath := fs.String("config", "", "Path to configuration file")
	direction := fs.String("direction", string(layout.DirectionTB), "Flow direction: TB or LR")
	jsonOut := fs.Bool("json", false, "Output nodes as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	dir := layout.Direction(strings.ToUpper(*direction))
	if !dir.Valid() {
		fmt.Fprintf(os.Stderr, "--direction must be TB or LR (got %q)\n", *direction)
		return 1
	}
	doc, err := readFable(*in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cat, err := loadCatalogue(*cataloguePath, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load catalogue: %v\n", err)
		return 1
	}

	settings, err := builderSettings(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	nodes := layoutSession(doc, cat, dir, settings.LayoutDebounce)
	if *jsonOut {
		return printJSON(nodes)
	}

	sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Rank < nodes[j].Rank })
	for _, n := range nodes {
		pos := "unplaced"
		if n.Position != nil {
			pos = fmt.Sprintf("(%.0f, %.0f)", n.Position.X, n.Position.Y)
		}
		fmt.Printf("%-3d %s %s\n", n.Rank, styles.kind(n.Kind, string(n.ID)), styles.Dim.Render(pos))
	}
	return 0
}

// layoutSession loads doc into a builder session whose document and
// direction changes drive a layout controller, and returns the placed nodes.
func layoutSession(doc *fable.Builder, cat catalogue.Catalogue, dir layout.Direction, delay time.Duration) []layout.Node {
	store := builder.NewStore()
	ctrl := layout.NewController(cat, layout.DefaultOptions(store.LayoutDirection()), delay, nil)
	defer ctrl.Stop()

	store.OnChange(func(c builder.Change) {
		switch {
		case c.Document:
			ctrl.SetDocument(store.Fable())
		case c.Type == builder.ChangeView:
			ctrl.SetDirection(store.LayoutDirection())
			ctrl.SetAutoLayout(store.AutoLayout())
		}
	})
	store.SetFable(doc, "")
	store.SetLayoutDirection(dir)
	return ctrl.Nodes()
}
