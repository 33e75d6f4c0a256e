// Package generator builds a connected starter pipeline that exercises every
// factory a plugin offers.
package generator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/log"
)

// ErrUnknownPlugin is returned when the plugin is not in the catalogue.
var ErrUnknownPlugin = errors.New("unknown plugin")

// Options configures GeneratePluginPipeline.
type Options struct {
	// FillDefaults sets every configuration value to a type-appropriate
	// default instead of leaving it empty.
	FillDefaults bool
	// Today is used for date defaults. Zero means time.Now.
	Today time.Time
	// NewID generates instance ids. Nil means fable.NewInstanceID.
	NewID func() fable.InstanceID
}

// namedDefaults win over the type-based defaults.
var namedDefaults = map[string]string{
	"model":            "aifs-single",
	"param":            "2t",
	"params":           "2t,msl",
	"levtype":          "sfc",
	"levelist":         "1000",
	"grid":             "O96",
	"area":             "90/-180/-90/180",
	"lead_time":        "72",
	"step":             "6",
	"time":             "00",
	"ensemble_members": "1",
	"number":           "1",
	"format":           "grib",
	"path":             "output",
}

// GeneratePluginPipeline returns a document with one block per source,
// transform and product factory of the plugin, plus sinks. Within a kind
// factories are taken in key order. Each new block's first input is fed by
// the first block created for the nearest earlier kind that has any. One
// sink is added per product, using the first sink factory; without products
// a single sink is fed by the first transform, or else the first source.
func GeneratePluginPipeline(cat catalogue.Catalogue, pluginID fable.PluginID, opts Options) (*fable.Builder, error) {
	groups, ok := catalogue.GroupPluginByKind(cat, pluginID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, pluginID)
	}
	newID := opts.NewID
	if newID == nil {
		newID = fable.NewInstanceID
	}
	today := opts.Today
	if today.IsZero() {
		today = time.Now()
	}

	doc := fable.New()
	created := make(map[fable.Kind][]fable.InstanceID, len(fable.KindOrder))

	place := func(entry catalogue.Entry, upstream fable.InstanceID) {
		id := newID()
		for {
			if _, taken := doc.Blocks[id]; !taken {
				break
			}
			id = newID()
		}
		block := fable.NewInstance(entry.FactoryID, entry.Factory)
		if upstream != "" && len(entry.Factory.Inputs) > 0 {
			block.InputIDs[entry.Factory.Inputs[0]] = upstream
		}
		if opts.FillDefaults {
			for name, opt := range entry.Factory.ConfigurationOptions {
				block.ConfigurationValues[name] = DefaultValue(name, opt.ValueType, today)
			}
		}
		doc.Blocks[id] = block
		created[entry.Factory.Kind] = append(created[entry.Factory.Kind], id)
	}

	for _, kind := range []fable.Kind{fable.KindSource, fable.KindTransform, fable.KindProduct} {
		upstream := nearestUpstream(created, kind)
		for _, entry := range groups[kind] {
			place(entry, upstream)
		}
	}

	if sinks := groups[fable.KindSink]; len(sinks) > 0 {
		sink := sinks[0]
		if products := created[fable.KindProduct]; len(products) > 0 {
			for _, product := range products {
				place(sink, product)
			}
		} else {
			place(sink, nearestUpstream(created, fable.KindSink))
		}
	}
	log.WithPlugin(pluginID.String()).Debug("generated pipeline", "blocks", len(doc.Blocks))
	return doc, nil
}

// nearestUpstream returns the first block of the closest kind before kind
// that has instances.
func nearestUpstream(created map[fable.Kind][]fable.InstanceID, kind fable.Kind) fable.InstanceID {
	for i := kind.Index() - 1; i >= 0; i-- {
		if ids := created[fable.KindOrder[i]]; len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}

// DefaultValue picks a starter value for a configuration option.
func DefaultValue(name, valueType string, today time.Time) string {
	name = strings.ToLower(name)
	if v, ok := namedDefaults[name]; ok {
		return v
	}
	if name == "date" {
		return today.Format("2006-01-02")
	}
	switch strings.ToLower(valueType) {
	case "int", "integer":
		return "1"
	case "float", "number":
		return "0.0"
	case "bool", "boolean":
		return "false"
	case "date":
		return today.Format("2006-01-02")
	case "datetime":
		return today.Format("2006-01-02T15:04")
	default:
		return ""
	}
}
