package validation

import (
	"fmt"
	"sort"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// Expand validates doc against cat and lists what can be added next. It is
// the computation behind the validation endpoint.
func Expand(cat catalogue.Catalogue, doc *fable.Builder) Expansion {
	exp := Expansion{
		GlobalErrors:       []string{},
		BlockErrors:        make(map[fable.InstanceID][]string),
		PossibleSources:    []fable.FactoryID{},
		PossibleExpansions: make(map[fable.InstanceID][]fable.FactoryID),
	}

	entries := catalogue.Flatten(cat)
	for _, entry := range entries {
		if entry.Factory.Kind == fable.KindSource {
			exp.PossibleSources = append(exp.PossibleSources, entry.FactoryID)
		}
	}

	if doc == nil || len(doc.Blocks) == 0 {
		exp.GlobalErrors = append(exp.GlobalErrors, "pipeline has no blocks")
		return exp
	}
	if doc.HasCycle() {
		exp.GlobalErrors = append(exp.GlobalErrors, "pipeline contains a cycle")
	}

	hasSink := false
	for _, id := range doc.IDs() {
		block := doc.Blocks[id]
		factory, ok := catalogue.GetFactory(cat, block.FactoryID)
		if !ok {
			exp.BlockErrors[id] = []string{fmt.Sprintf("unknown factory %s", fable.FactoryIDToKey(block.FactoryID))}
			continue
		}
		if factory.Kind == fable.KindSink {
			hasSink = true
		}

		if errs := blockErrors(cat, doc, block, factory); len(errs) > 0 {
			exp.BlockErrors[id] = errs
		}
		if next := expansionsFor(factory.Kind, entries); len(next) > 0 {
			exp.PossibleExpansions[id] = next
		}
	}
	if !hasSink {
		exp.GlobalErrors = append(exp.GlobalErrors, "pipeline has no sink")
	}
	return exp
}

func blockErrors(cat catalogue.Catalogue, doc *fable.Builder, block fable.BlockInstance, factory *fable.Factory) []string {
	var errs []string

	declared := make(map[string]struct{}, len(factory.Inputs))
	for _, input := range factory.Inputs {
		declared[input] = struct{}{}

		ref := block.InputIDs[input]
		if ref == "" {
			errs = append(errs, fmt.Sprintf("input %q is not connected", input))
			continue
		}
		upstream, ok := doc.Resolve(ref)
		if !ok {
			errs = append(errs, fmt.Sprintf("input %q references missing block %q", input, ref))
			continue
		}
		upFactory, ok := catalogue.GetFactory(cat, upstream.FactoryID)
		if !ok {
			// Reported on the upstream block itself.
			continue
		}
		if !canFeed(upFactory.Kind, factory.Kind) {
			errs = append(errs, fmt.Sprintf("input %q: a %s block cannot feed a %s block", input, upFactory.Kind, factory.Kind))
		}
	}

	for _, input := range sortedKeys(block.InputIDs) {
		if _, ok := declared[input]; !ok && block.InputIDs[input] != "" {
			errs = append(errs, fmt.Sprintf("unknown input %q", input))
		}
	}
	for _, key := range sortedKeys(block.ConfigurationValues) {
		if _, ok := factory.ConfigurationOptions[key]; !ok {
			errs = append(errs, fmt.Sprintf("unknown configuration option %q", key))
		}
	}
	return errs
}

// canFeed reports whether a block of kind from may be wired into a block of
// kind to. Sinks are terminal and data only flows downstream in stage order.
func canFeed(from, to fable.Kind) bool {
	if from == fable.KindSink {
		return false
	}
	return from.Index() <= to.Index()
}

func expansionsFor(kind fable.Kind, entries []catalogue.Entry) []fable.FactoryID {
	var out []fable.FactoryID
	for _, entry := range entries {
		if len(entry.Factory.Inputs) == 0 {
			continue
		}
		candidate := entry.Factory.Kind
		if candidate.Index() > kind.Index() || (kind == fable.KindTransform && candidate == fable.KindTransform) {
			if canFeed(kind, candidate) {
				out = append(out, entry.FactoryID)
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
