// Package catalogue indexes the block factories published by installed
// plugins. A Catalogue is a read-only snapshot fetched from the backend.
package catalogue

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
)

// Plugin is the set of named factories one plugin offers.
type Plugin struct {
	Factories map[string]fable.Factory `json:"factories" yaml:"factories"`
}

// Catalogue maps a plugin display key ("store/local") to its factories.
type Catalogue map[string]Plugin

// Entry is one factory of a flattened catalogue.
type Entry struct {
	PluginID  fable.PluginID  `json:"plugin_id"`
	FactoryID fable.FactoryID `json:"factory_id"`
	Factory   fable.Factory   `json:"factory"`
}

var reprPattern = regexp.MustCompile(`^store=['"]([^'"]+)['"]\s*,?\s*local=['"]([^'"]+)['"]$`)

// NormalizeKey converts a plugin key into the canonical "store/local" form.
// Besides the canonical form it accepts the backend's composite repr
// (store='x' local='y') and a JSON object {"store":"x","local":"y"}.
func NormalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if m := reprPattern.FindStringSubmatch(key); m != nil {
		return m[1] + "/" + m[2], nil
	}
	if strings.HasPrefix(key, "{") {
		var id fable.PluginID
		if err := json.Unmarshal([]byte(key), &id); err != nil {
			return "", fmt.Errorf("parse plugin key %q: %w", raw, err)
		}
		key = id.String()
	}
	id, err := fable.ParsePluginID(key)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Normalize returns a copy of cat keyed by canonical plugin keys.
func Normalize(cat Catalogue) (Catalogue, error) {
	out := make(Catalogue, len(cat))
	for raw, plugin := range cat {
		key, err := NormalizeKey(raw)
		if err != nil {
			return nil, err
		}
		if _, exists := out[key]; exists {
			return nil, fmt.Errorf("duplicate plugin %q after normalization", key)
		}
		out[key] = plugin
	}
	return out, nil
}

// GetFactory looks up a factory. A missing plugin or factory is reported as
// not found; callers treat it as an unknown factory.
func GetFactory(cat Catalogue, id fable.FactoryID) (*fable.Factory, bool) {
	plugin, ok := cat[id.Plugin.String()]
	if !ok {
		return nil, false
	}
	factory, ok := plugin.Factories[id.Factory]
	if !ok {
		return nil, false
	}
	return &factory, true
}

// Flatten lists every factory, plugins and factories in key order.
func Flatten(cat Catalogue) []Entry {
	var out []Entry
	for _, key := range sortedKeys(cat) {
		pluginID, err := fable.ParsePluginID(key)
		if err != nil {
			continue
		}
		out = append(out, pluginEntries(pluginID, cat[key])...)
	}
	return out
}

// PluginEntries lists the factories of one plugin in factory-name order.
func PluginEntries(cat Catalogue, pluginID fable.PluginID) ([]Entry, bool) {
	plugin, ok := cat[pluginID.String()]
	if !ok {
		return nil, false
	}
	return pluginEntries(pluginID, plugin), true
}

func pluginEntries(pluginID fable.PluginID, plugin Plugin) []Entry {
	names := make([]string, 0, len(plugin.Factories))
	for name := range plugin.Factories {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, Entry{
			PluginID:  pluginID,
			FactoryID: fable.FactoryID{Plugin: pluginID, Factory: name},
			Factory:   plugin.Factories[name],
		})
	}
	return out
}

// GroupByKind partitions the flattened catalogue into the four kind buckets,
// keeping catalogue order within each bucket. Factories of an unknown kind
// are left out.
func GroupByKind(cat Catalogue) map[fable.Kind][]Entry {
	return groupEntries(Flatten(cat))
}

func groupEntries(entries []Entry) map[fable.Kind][]Entry {
	out := make(map[fable.Kind][]Entry, len(fable.KindOrder))
	for _, kind := range fable.KindOrder {
		out[kind] = []Entry{}
	}
	for _, entry := range entries {
		if !entry.Factory.Kind.Valid() {
			continue
		}
		out[entry.Factory.Kind] = append(out[entry.Factory.Kind], entry)
	}
	return out
}

// GroupPluginByKind is GroupByKind restricted to one plugin.
func GroupPluginByKind(cat Catalogue, pluginID fable.PluginID) (map[fable.Kind][]Entry, bool) {
	entries, ok := PluginEntries(cat, pluginID)
	if !ok {
		return nil, false
	}
	return groupEntries(entries), true
}

// Load reads a catalogue from a YAML or JSON file and normalizes its keys.
func Load(path string) (Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue file %q: %w", path, err)
	}
	cat, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalogue file %q: %w", path, err)
	}
	return cat, nil
}

// Parse decodes a catalogue document (YAML or JSON) and normalizes its keys.
func Parse(data []byte) (Catalogue, error) {
	var raw Catalogue
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	if raw == nil {
		raw = Catalogue{}
	}
	for key, plugin := range raw {
		for name, factory := range plugin.Factories {
			if !factory.Kind.Valid() {
				return nil, fmt.Errorf("plugin %q factory %q: unknown kind %q", key, name, factory.Kind)
			}
		}
	}
	return Normalize(raw)
}

// Fingerprint returns blake3:<hex> of the catalogue's JSON form.
func Fingerprint(cat Catalogue) (string, error) {
	body, err := json.Marshal(cat)
	if err != nil {
		return "", fmt.Errorf("marshal catalogue fingerprint input: %w", err)
	}
	sum := blake3.Sum256(body)
	return "blake3:" + hex.EncodeToString(sum[:]), nil
}

func sortedKeys(cat Catalogue) []string {
	keys := make([]string, 0, len(cat))
	for key := range cat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
