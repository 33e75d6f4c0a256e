// Package doctor checks a fiab configuration and its block catalogue.
package doctor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/auth"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/config"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// Result holds the outcome of a check run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// browserURLLimit is the URL length most browsers and proxies accept.
const browserURLLimit = 8000

var knownValueTypes = map[string]bool{
	"":         true,
	"str":      true,
	"string":   true,
	"int":      true,
	"integer":  true,
	"float":    true,
	"number":   true,
	"bool":     true,
	"boolean":  true,
	"date":     true,
	"datetime": true,
}

// Doctor checks a config against its catalogue.
type Doctor struct {
	cfg *config.Config
	cat catalogue.Catalogue
}

// New creates a Doctor. cat may be nil when the catalogue failed to load.
func New(cfg *config.Config, cat catalogue.Catalogue) *Doctor {
	return &Doctor{cfg: cfg, cat: cat}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateBuilderConfig(r)
	d.validateCatalogue(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Catalogue.Path == "" {
		d.addError(r, "service", "catalogue.path", "catalogue.path is required")
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "no api_key or tokens configured; every authenticated route will return 401")
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	seen := map[string]int{}
	for i, token := range d.cfg.API.Auth.Tokens {
		if prev, ok := seen[token.Token]; ok {
			d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d]", i),
				fmt.Sprintf("token duplicates api.auth.tokens[%d]", prev))
		}
		seen[token.Token] = i
		for j, scope := range token.Scopes {
			if !auth.KnownScope(scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q", scope))
			}
		}
	}
}

func (d *Doctor) validateBuilderConfig(r *Result) {
	if d.cfg.Builder.URLStateMaxLength > browserURLLimit {
		d.addWarning(r, "builder", "builder.url_state_max_length",
			fmt.Sprintf("%d exceeds the %d characters most browsers accept", d.cfg.Builder.URLStateMaxLength, browserURLLimit))
	}
}

// validateCatalogue checks that factories are well formed and that a
// complete pipeline can be built from them.
func (d *Doctor) validateCatalogue(r *Result) {
	if d.cat == nil {
		d.addError(r, "catalogue", d.cfg.Catalogue.Path, "catalogue not loaded")
		return
	}

	counts := map[fable.Kind]int{}
	for _, entry := range catalogue.Flatten(d.cat) {
		field := fable.FactoryIDToKey(entry.FactoryID)
		f := entry.Factory

		if !f.Kind.Valid() {
			d.addError(r, "catalogue", field, fmt.Sprintf("unknown kind %q", f.Kind))
			continue
		}
		counts[f.Kind]++

		switch {
		case f.Kind == fable.KindSource && len(f.Inputs) > 0:
			d.addWarning(r, "catalogue", field, "source declares inputs; they can never be connected")
		case f.Kind != fable.KindSource && len(f.Inputs) == 0:
			d.addWarning(r, "catalogue", field, fmt.Sprintf("%s has no inputs and cannot be fed", f.Kind))
		}

		inputs := map[string]bool{}
		for _, in := range f.Inputs {
			if in == "" {
				d.addError(r, "catalogue", field, "empty input name")
			} else if inputs[in] {
				d.addError(r, "catalogue", field, fmt.Sprintf("duplicate input %q", in))
			}
			inputs[in] = true
		}

		for name, opt := range f.ConfigurationOptions {
			if !knownValueTypes[strings.ToLower(opt.ValueType)] {
				d.addWarning(r, "catalogue", field+"."+name, fmt.Sprintf("unknown value_type %q", opt.ValueType))
			}
		}
	}

	if counts[fable.KindSource] == 0 {
		d.addError(r, "catalogue", "", "no source factories; no pipeline can be started")
	}
	if counts[fable.KindSink] == 0 {
		d.addError(r, "catalogue", "", "no sink factories; no pipeline can be valid")
	}
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, i.Category, i.Field, i.Message)
	} else {
		fmt.Fprintf(b, "  %s [%s] %s\n", label, i.Category, i.Message)
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
