package generator

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

var toy = fable.PluginID{Store: "ecmwf", Local: "toy1"}

func toyCatalogue() catalogue.Catalogue {
	return catalogue.Catalogue{
		"ecmwf/toy1": {Factories: map[string]fable.Factory{
			"ekd_source": {Kind: fable.KindSource, ConfigurationOptions: map[string]fable.ConfigOption{
				"model":   {ValueType: "str"},
				"date":    {ValueType: "date"},
				"members": {ValueType: "int"},
			}},
			"smooth": {Kind: fable.KindTransform, Inputs: []string{"dataset"}},
			"regrid": {Kind: fable.KindTransform, Inputs: []string{"dataset"}, ConfigurationOptions: map[string]fable.ConfigOption{
				"grid":      {ValueType: "str"},
				"tolerance": {ValueType: "float"},
				"strict":    {ValueType: "bool"},
			}},
			"mean": {Kind: fable.KindProduct, Inputs: []string{"dataset", "mask"}},
			"zarr": {Kind: fable.KindSink, Inputs: []string{"product"}},
		}},
		"ecmwf/sources_only": {Factories: map[string]fable.Factory{
			"a_source": {Kind: fable.KindSource},
			"b_source": {Kind: fable.KindSource},
			"sink":     {Kind: fable.KindSink, Inputs: []string{"in"}},
		}},
		"ecmwf/two_products": {Factories: map[string]fable.Factory{
			"src":  {Kind: fable.KindSource},
			"p1":   {Kind: fable.KindProduct, Inputs: []string{"in"}},
			"p2":   {Kind: fable.KindProduct, Inputs: []string{"in"}},
			"out":  {Kind: fable.KindSink, Inputs: []string{"in"}},
			"out2": {Kind: fable.KindSink, Inputs: []string{"in"}},
		}},
	}
}

func sequentialIDs() func() fable.InstanceID {
	n := 0
	return func() fable.InstanceID {
		n++
		return fable.InstanceID(fmt.Sprintf("b%d", n))
	}
}

func byFactory(doc *fable.Builder) map[string][]fable.InstanceID {
	out := map[string][]fable.InstanceID{}
	for _, id := range doc.IDs() {
		f := doc.Blocks[id].FactoryID.Factory
		out[f] = append(out[f], id)
	}
	return out
}

func TestGenerateFullPlugin(t *testing.T) {
	doc, err := GeneratePluginPipeline(toyCatalogue(), toy, Options{NewID: sequentialIDs()})
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 5)

	// Creation order: ekd_source, regrid, smooth, mean, zarr.
	assert.Equal(t, map[string][]fable.InstanceID{
		"ekd_source": {"b1"},
		"regrid":     {"b2"},
		"smooth":     {"b3"},
		"mean":       {"b4"},
		"zarr":       {"b5"},
	}, byFactory(doc))

	assert.Equal(t, fable.InstanceID("b1"), doc.Blocks["b2"].InputIDs["dataset"])
	assert.Equal(t, fable.InstanceID("b1"), doc.Blocks["b3"].InputIDs["dataset"])
	assert.Equal(t, fable.InstanceID("b2"), doc.Blocks["b4"].InputIDs["dataset"])
	assert.Equal(t, fable.InstanceID(""), doc.Blocks["b4"].InputIDs["mask"])
	assert.Equal(t, fable.InstanceID("b4"), doc.Blocks["b5"].InputIDs["product"])

	assert.Equal(t, "", doc.Blocks["b1"].ConfigurationValues["model"])
	assert.False(t, doc.HasCycle())
}

func TestGeneratedPipelineValidates(t *testing.T) {
	cat := toyCatalogue()
	cat["ecmwf/toy1"].Factories["mean"] = fable.Factory{Kind: fable.KindProduct, Inputs: []string{"dataset"}}

	doc, err := GeneratePluginPipeline(cat, toy, Options{FillDefaults: true})
	require.NoError(t, err)

	exp := validation.Expand(cat, doc)
	assert.True(t, validation.Interpret(exp).IsValid, "errors: %v %v", exp.GlobalErrors, exp.BlockErrors)
}

func TestGenerateFillsDefaults(t *testing.T) {
	today := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	doc, err := GeneratePluginPipeline(toyCatalogue(), toy, Options{
		FillDefaults: true,
		Today:        today,
		NewID:        sequentialIDs(),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"model":   "aifs-single",
		"date":    "2026-03-14",
		"members": "1",
	}, doc.Blocks["b1"].ConfigurationValues)
	assert.Equal(t, map[string]string{
		"grid":      "O96",
		"tolerance": "0.0",
		"strict":    "false",
	}, doc.Blocks["b2"].ConfigurationValues)
}

func TestGenerateWithoutProducts(t *testing.T) {
	doc, err := GeneratePluginPipeline(toyCatalogue(), fable.PluginID{Store: "ecmwf", Local: "sources_only"}, Options{NewID: sequentialIDs()})
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 3)

	groups := byFactory(doc)
	require.Len(t, groups["sink"], 1)
	assert.Equal(t, groups["a_source"][0], doc.Blocks[groups["sink"][0]].InputIDs["in"])
}

func TestGenerateOneSinkPerProduct(t *testing.T) {
	doc, err := GeneratePluginPipeline(toyCatalogue(), fable.PluginID{Store: "ecmwf", Local: "two_products"}, Options{NewID: sequentialIDs()})
	require.NoError(t, err)

	groups := byFactory(doc)
	assert.Empty(t, groups["out2"], "only the first sink factory is used")
	require.Len(t, groups["out"], 2)

	fed := map[fable.InstanceID]bool{}
	for _, id := range groups["out"] {
		fed[doc.Blocks[id].InputIDs["in"]] = true
	}
	assert.Equal(t, map[fable.InstanceID]bool{groups["p1"][0]: true, groups["p2"][0]: true}, fed)
	assert.Equal(t, groups["src"][0], doc.Blocks[groups["p2"][0]].InputIDs["in"])
}

func TestGenerateUnknownPlugin(t *testing.T) {
	_, err := GeneratePluginPipeline(toyCatalogue(), fable.PluginID{Store: "x", Local: "y"}, Options{})
	assert.True(t, errors.Is(err, ErrUnknownPlugin))
}

func TestDefaultValue(t *testing.T) {
	today := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	tests := []struct {
		name, valueType, want string
	}{
		{"lead_time", "int", "72"},
		{"Model", "str", "aifs-single"},
		{"date", "str", "2026-01-02"},
		{"count", "int", "1"},
		{"scale", "float", "0.0"},
		{"enabled", "bool", "false"},
		{"start", "datetime", "2026-01-02T15:04"},
		{"label", "str", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultValue(tt.name, tt.valueType, today), tt.name)
	}
}
