package fable

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedKey is returned when a factory key does not have the form
// "<store>/<local>:<factory>".
var ErrMalformedKey = errors.New("malformed factory key")

// FactoryIDToKey renders id as "<store>/<local>:<factory>".
func FactoryIDToKey(id FactoryID) string {
	return id.Plugin.String() + ":" + id.Factory
}

// KeyToFactoryID parses a key produced by FactoryIDToKey.
func KeyToFactoryID(key string) (FactoryID, error) {
	pluginPart, factory, ok := strings.Cut(key, ":")
	if !ok || factory == "" || strings.Contains(factory, ":") {
		return FactoryID{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	plugin, err := ParsePluginID(pluginPart)
	if err != nil {
		return FactoryID{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	return FactoryID{Plugin: plugin, Factory: factory}, nil
}

// ParsePluginID parses the display form "store/local".
func ParsePluginID(s string) (PluginID, error) {
	store, local, ok := strings.Cut(s, "/")
	if !ok || store == "" || local == "" || strings.Contains(local, "/") {
		return PluginID{}, fmt.Errorf("invalid plugin id %q: want store/local", s)
	}
	return PluginID{Store: store, Local: local}, nil
}

// NewInstanceID returns a fresh block instance id: a millisecond timestamp
// followed by a random suffix.
func NewInstanceID() InstanceID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return InstanceID(fmt.Sprintf("block_%d_%s", time.Now().UnixMilli(), suffix))
}
