package fable

// Kind is the pipeline stage a block factory belongs to.
type Kind string

const (
	KindSource    Kind = "source"
	KindTransform Kind = "transform"
	KindProduct   Kind = "product"
	KindSink      Kind = "sink"
)

// KindOrder is the stage order of a pipeline, upstream first.
var KindOrder = []Kind{KindSource, KindTransform, KindProduct, KindSink}

// Index returns the position of k in KindOrder, or -1 for an unknown kind.
func (k Kind) Index() int {
	for i, kind := range KindOrder {
		if kind == k {
			return i
		}
	}
	return -1
}

// Valid reports whether k is one of the four pipeline kinds.
func (k Kind) Valid() bool {
	return k.Index() >= 0
}

// PluginID identifies a plugin published by a store.
type PluginID struct {
	Store string `json:"store" yaml:"store"`
	Local string `json:"local" yaml:"local"`
}

// String returns the display form "store/local".
func (p PluginID) String() string {
	return p.Store + "/" + p.Local
}

// FactoryID identifies a block type within a plugin.
type FactoryID struct {
	Plugin  PluginID `json:"plugin" yaml:"plugin"`
	Factory string   `json:"factory" yaml:"factory"`
}

// ConfigOption describes one configurable value of a block factory.
type ConfigOption struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	ValueType   string `json:"value_type" yaml:"value_type"`
}

// Factory describes a block type offered by a plugin. Factories come from the
// catalogue and are never created or mutated by the builder.
type Factory struct {
	Kind                 Kind                    `json:"kind" yaml:"kind"`
	Title                string                  `json:"title" yaml:"title"`
	Description          string                  `json:"description" yaml:"description"`
	ConfigurationOptions map[string]ConfigOption `json:"configuration_options" yaml:"configuration_options"`
	Inputs               []string                `json:"inputs" yaml:"inputs"`
}

// InstanceID names a block instance inside a Builder. Values held in
// BlockInstance.InputIDs are weak references: the target may be gone, in
// which case the slot is treated as unconnected.
type InstanceID string

// BlockInstance is a placed block.
type BlockInstance struct {
	FactoryID           FactoryID             `json:"factory_id"`
	ConfigurationValues map[string]string     `json:"configuration_values"`
	InputIDs            map[string]InstanceID `json:"input_ids"`
}

// Builder is the pipeline document (FableBuilderV1).
type Builder struct {
	Blocks map[InstanceID]BlockInstance `json:"blocks"`
}

// New returns an empty document.
func New() *Builder {
	return &Builder{Blocks: make(map[InstanceID]BlockInstance)}
}

// NewInstance builds a block for factory with an empty value for every
// configuration option and an unconnected entry for every input slot.
func NewInstance(id FactoryID, factory Factory) BlockInstance {
	values := make(map[string]string, len(factory.ConfigurationOptions))
	for name := range factory.ConfigurationOptions {
		values[name] = ""
	}
	inputs := make(map[string]InstanceID, len(factory.Inputs))
	for _, name := range factory.Inputs {
		inputs[name] = ""
	}
	return BlockInstance{
		FactoryID:           id,
		ConfigurationValues: values,
		InputIDs:            inputs,
	}
}

// Resolve dereferences a weak reference. It reports false for empty or
// dangling ids.
func (b *Builder) Resolve(id InstanceID) (BlockInstance, bool) {
	if b == nil || id == "" {
		return BlockInstance{}, false
	}
	block, ok := b.Blocks[id]
	return block, ok
}

// Clone returns a deep copy of the document.
func (b *Builder) Clone() *Builder {
	out := New()
	if b == nil {
		return out
	}
	for id, block := range b.Blocks {
		out.Blocks[id] = block.Clone()
	}
	return out
}

// Clone returns a deep copy of the block.
func (bi BlockInstance) Clone() BlockInstance {
	values := make(map[string]string, len(bi.ConfigurationValues))
	for k, v := range bi.ConfigurationValues {
		values[k] = v
	}
	inputs := make(map[string]InstanceID, len(bi.InputIDs))
	for k, v := range bi.InputIDs {
		inputs[k] = v
	}
	return BlockInstance{
		FactoryID:           bi.FactoryID,
		ConfigurationValues: values,
		InputIDs:            inputs,
	}
}

// Normalized returns a copy with non-nil maps and without empty input
// entries. Two documents that mean the same thing normalize to equal values.
func (b *Builder) Normalized() *Builder {
	out := b.Clone()
	for id, block := range out.Blocks {
		for name, ref := range block.InputIDs {
			if ref == "" {
				delete(block.InputIDs, name)
			}
		}
		out.Blocks[id] = block
	}
	return out
}

// Equal reports whether two documents are the same after normalization.
func (b *Builder) Equal(other *Builder) bool {
	left, right := b.Normalized(), other.Normalized()
	if len(left.Blocks) != len(right.Blocks) {
		return false
	}
	for id, lb := range left.Blocks {
		rb, ok := right.Blocks[id]
		if !ok || lb.FactoryID != rb.FactoryID {
			return false
		}
		if !equalMaps(lb.ConfigurationValues, rb.ConfigurationValues) {
			return false
		}
		if !equalMaps(lb.InputIDs, rb.InputIDs) {
			return false
		}
	}
	return true
}

func equalMaps[V comparable](a, b map[string]V) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
