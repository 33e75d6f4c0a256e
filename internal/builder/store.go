// Package builder owns the live pipeline document being edited and exposes
// the closed set of operations that mutate it.
package builder

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/layout"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/log"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

// DefaultFableName is the name of a fresh document.
const DefaultFableName = "Untitled Fable"

// Mode is the editor presentation.
type Mode string

const (
	ModeGraph Mode = "graph"
	ModeForm  Mode = "form"
)

// ChangeType names a store transition.
type ChangeType string

const (
	ChangeBlockAdded        ChangeType = "block_added"
	ChangeBlockRemoved      ChangeType = "block_removed"
	ChangeBlockDuplicated   ChangeType = "block_duplicated"
	ChangeBlockConfigured   ChangeType = "block_configured"
	ChangeBlocksConnected   ChangeType = "blocks_connected"
	ChangeBlockDisconnected ChangeType = "block_disconnected"
	ChangeSelection         ChangeType = "selection"
	ChangeFableLoaded       ChangeType = "fable_loaded"
	ChangeReset             ChangeType = "reset"
	ChangeName              ChangeType = "name"
	ChangeView              ChangeType = "view"
	ChangeValidation        ChangeType = "validation"
)

// Change describes one applied operation. Document is true when the pipeline
// document itself changed.
type Change struct {
	Version  uint64           `json:"version"`
	Type     ChangeType       `json:"type"`
	BlockID  fable.InstanceID `json:"block_id,omitempty"`
	Document bool             `json:"document"`
}

// Publisher receives store changes as events. *events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces the instance id generator.
func WithIDGenerator(fn func() fable.InstanceID) Option {
	return func(s *Store) { s.newID = fn }
}

// WithPublisher publishes every change as a "builder.<type>" event.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the single owner of the document under edit. Each operation
// builds the next document and swaps it in under the lock, so no caller
// observes a partly applied change. The document held by the store is never
// mutated in place; getters hand out clones.
type Store struct {
	mu         sync.Mutex
	fable      *fable.Builder
	fableID    string
	fableName  string
	selected   fable.InstanceID
	validation *validation.State
	dirty      bool
	panelOpen  bool
	mode       Mode
	direction  layout.Direction
	autoLayout bool
	version    uint64

	newID     func() fable.InstanceID
	publisher Publisher
	listeners []func(Change)
	logger    *slog.Logger
}

// NewStore returns a store holding an empty document.
func NewStore(opts ...Option) *Store {
	s := &Store{newID: fable.NewInstanceID}
	s.resetLocked()
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithComponent("builder")
	}
	return s
}

func (s *Store) resetLocked() {
	s.fable = fable.New()
	s.fableID = ""
	s.fableName = DefaultFableName
	s.selected = ""
	s.validation = nil
	s.dirty = false
	s.panelOpen = false
	s.mode = ModeGraph
	s.direction = layout.DirectionTB
	s.autoLayout = true
}

// OnChange registers fn to be called after every applied operation. It is
// called outside the store lock.
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// commitLocked bumps the version for document changes and returns the change to
// emit. Callers hold the lock.
func (s *Store) commitLocked(typ ChangeType, id fable.InstanceID, document bool) Change {
	if document {
		s.version++
	}
	return Change{Version: s.version, Type: typ, BlockID: id, Document: document}
}

func (s *Store) emit(c Change) {
	s.mu.Lock()
	listeners := append([]func(Change){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(c)
	}
	if s.publisher != nil {
		s.publisher.Publish("builder."+string(c.Type), c)
	}
}

// AddBlock places a new block for factory, selects it and returns its id.
func (s *Store) AddBlock(id fable.FactoryID, factory fable.Factory) fable.InstanceID {
	s.mu.Lock()
	instanceID := s.freshIDLocked(nil)
	next := s.fable.Clone()
	next.Blocks[instanceID] = fable.NewInstance(id, factory)
	s.fable = next
	s.selected = instanceID
	s.panelOpen = true
	s.dirty = true
	c := s.commitLocked(ChangeBlockAdded, instanceID, true)
	s.mu.Unlock()

	s.logger.Debug("block added", "block_id", instanceID, "factory", fable.FactoryIDToKey(id))
	s.emit(c)
	return instanceID
}

// freshIDLocked returns an id that is in neither the document nor taken.
func (s *Store) freshIDLocked(taken map[fable.InstanceID]struct{}) fable.InstanceID {
	for {
		id := s.newID()
		if _, ok := s.fable.Blocks[id]; ok {
			continue
		}
		if _, ok := taken[id]; ok {
			continue
		}
		return id
	}
}

// RemoveBlock deletes one block and clears every input that referenced it.
// Blocks fed by it stay in place, unconnected. Removing an absent id does
// nothing.
func (s *Store) RemoveBlock(id fable.InstanceID) {
	s.mu.Lock()
	if _, ok := s.fable.Blocks[id]; !ok {
		s.mu.Unlock()
		return
	}
	next := s.fable.Clone()
	delete(next.Blocks, id)
	for bid, block := range next.Blocks {
		for name, ref := range block.InputIDs {
			if ref == id {
				delete(block.InputIDs, name)
			}
		}
		next.Blocks[bid] = block
	}
	s.fable = next
	if s.selected == id {
		s.clearSelectionLocked()
	}
	s.dirty = true
	c := s.commitLocked(ChangeBlockRemoved, id, true)
	s.mu.Unlock()

	s.logger.Debug("block removed", "block_id", id)
	s.emit(c)
}

// RemoveBlockCascade deletes id and every block downstream of it. It returns
// the removed ids in sorted order.
func (s *Store) RemoveBlockCascade(id fable.InstanceID) []fable.InstanceID {
	s.mu.Lock()
	doomed := s.fable.Downstream(id)
	if len(doomed) == 0 {
		s.mu.Unlock()
		return nil
	}
	next := s.fable.Clone()
	for bid := range doomed {
		delete(next.Blocks, bid)
	}
	s.fable = next
	if _, ok := doomed[s.selected]; ok {
		s.clearSelectionLocked()
	}
	s.dirty = true
	c := s.commitLocked(ChangeBlockRemoved, id, true)
	s.mu.Unlock()

	removed := sortedIDs(doomed)
	s.logger.Debug("block subtree removed", "block_id", id, "count", len(removed))
	s.emit(c)
	return removed
}

// DuplicateBlock copies a block, wired to the same upstream blocks as the
// original, and selects the copy. It reports false when id is absent.
func (s *Store) DuplicateBlock(id fable.InstanceID) (fable.InstanceID, bool) {
	s.mu.Lock()
	original, ok := s.fable.Blocks[id]
	if !ok {
		s.mu.Unlock()
		return "", false
	}
	copyID := s.freshIDLocked(nil)
	next := s.fable.Clone()
	next.Blocks[copyID] = original.Clone()
	s.fable = next
	s.selected = copyID
	s.panelOpen = true
	s.dirty = true
	c := s.commitLocked(ChangeBlockDuplicated, copyID, true)
	s.mu.Unlock()

	s.emit(c)
	return copyID, true
}

// DuplicateBlockWithChildren copies id and everything downstream of it as a
// connected subgraph. Inputs pointing inside the subtree are remapped to the
// copies; inputs pointing outside keep their original target. The copy of id
// is selected. The returned map goes from original to new id and is empty
// when id is absent.
func (s *Store) DuplicateBlockWithChildren(id fable.InstanceID) map[fable.InstanceID]fable.InstanceID {
	s.mu.Lock()
	subtree := s.fable.Downstream(id)
	mapping := make(map[fable.InstanceID]fable.InstanceID, len(subtree))
	if len(subtree) == 0 {
		s.mu.Unlock()
		return mapping
	}

	taken := make(map[fable.InstanceID]struct{}, len(subtree))
	for _, old := range sortedIDs(subtree) {
		fresh := s.freshIDLocked(taken)
		taken[fresh] = struct{}{}
		mapping[old] = fresh
	}

	next := s.fable.Clone()
	for old, fresh := range mapping {
		block := s.fable.Blocks[old].Clone()
		for name, ref := range block.InputIDs {
			if remapped, ok := mapping[ref]; ok {
				block.InputIDs[name] = remapped
			}
		}
		next.Blocks[fresh] = block
	}
	s.fable = next
	s.selected = mapping[id]
	s.panelOpen = true
	s.dirty = true
	c := s.commitLocked(ChangeBlockDuplicated, mapping[id], true)
	s.mu.Unlock()

	s.logger.Debug("block subtree duplicated", "block_id", id, "count", len(mapping))
	s.emit(c)
	return mapping
}

// UpdateBlockConfig sets one configuration value. Values are not checked
// here; the server validator reports bad ones.
func (s *Store) UpdateBlockConfig(id fable.InstanceID, key, value string) {
	s.mutateBlock(id, ChangeBlockConfigured, func(b *fable.BlockInstance) {
		b.ConfigurationValues[key] = value
	})
}

// ConnectBlocks feeds input slot inputName of target from source, replacing
// any previous connection. Cycles are not rejected.
func (s *Store) ConnectBlocks(target fable.InstanceID, inputName string, source fable.InstanceID) {
	s.mutateBlock(target, ChangeBlocksConnected, func(b *fable.BlockInstance) {
		b.InputIDs[inputName] = source
	})
}

// DisconnectBlock leaves input slot inputName of id unconnected.
func (s *Store) DisconnectBlock(id fable.InstanceID, inputName string) {
	s.mutateBlock(id, ChangeBlockDisconnected, func(b *fable.BlockInstance) {
		delete(b.InputIDs, inputName)
	})
}

func (s *Store) mutateBlock(id fable.InstanceID, typ ChangeType, fn func(*fable.BlockInstance)) {
	s.mu.Lock()
	block, ok := s.fable.Blocks[id]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("ignoring change to missing block", "block_id", id, "change", typ)
		return
	}
	block = block.Clone()
	fn(&block)
	next := s.fable.Clone()
	next.Blocks[id] = block
	s.fable = next
	s.dirty = true
	c := s.commitLocked(typ, id, true)
	s.mu.Unlock()

	s.emit(c)
}

// SelectBlock selects id, opening the config panel. An empty id clears the
// selection and closes the panel. Ids not in the document are ignored.
func (s *Store) SelectBlock(id fable.InstanceID) {
	s.mu.Lock()
	if id == "" {
		s.clearSelectionLocked()
	} else if _, ok := s.fable.Resolve(id); ok {
		s.selected = id
		s.panelOpen = true
	} else {
		s.mu.Unlock()
		s.logger.Debug("ignoring selection of unknown block", "block_id", id)
		return
	}
	c := s.commitLocked(ChangeSelection, id, false)
	s.mu.Unlock()

	s.emit(c)
}

func (s *Store) clearSelectionLocked() {
	s.selected = ""
	s.panelOpen = false
}

// SetFable loads doc wholesale. Selection and validation are cleared and the
// store is clean afterwards.
func (s *Store) SetFable(doc *fable.Builder, id string) {
	s.mu.Lock()
	s.fable = doc.Clone()
	s.fableID = id
	s.clearSelectionLocked()
	s.validation = nil
	s.dirty = false
	blocks := len(s.fable.Blocks)
	c := s.commitLocked(ChangeFableLoaded, "", true)
	s.mu.Unlock()

	s.logger.Info("fable loaded", "fable_id", id, "blocks", blocks)
	s.emit(c)
}

// Reset returns to an empty, clean document with the default name in graph
// mode.
func (s *Store) Reset() {
	s.mu.Lock()
	s.resetLocked()
	c := s.commitLocked(ChangeReset, "", true)
	s.mu.Unlock()

	s.emit(c)
}

// SetFableName renames the document and marks it dirty.
func (s *Store) SetFableName(name string) {
	s.mu.Lock()
	s.fableName = name
	s.dirty = true
	c := s.commitLocked(ChangeName, "", false)
	s.mu.Unlock()

	s.emit(c)
}

// SetMode switches between graph and form editing. Unknown modes are ignored.
func (s *Store) SetMode(m Mode) {
	if m != ModeGraph && m != ModeForm {
		return
	}
	s.setView(func() { s.mode = m })
}

// SetLayoutDirection sets the graph flow direction. Invalid values are
// ignored.
func (s *Store) SetLayoutDirection(d layout.Direction) {
	if !d.Valid() {
		return
	}
	s.setView(func() { s.direction = d })
}

// SetAutoLayout toggles automatic relayout.
func (s *Store) SetAutoLayout(on bool) {
	s.setView(func() { s.autoLayout = on })
}

// ToggleConfigPanel opens or closes the config panel.
func (s *Store) ToggleConfigPanel() {
	s.setView(func() { s.panelOpen = !s.panelOpen })
}

func (s *Store) setView(fn func()) {
	s.mu.Lock()
	fn()
	c := s.commitLocked(ChangeView, "", false)
	s.mu.Unlock()

	s.emit(c)
}

// ApplyValidation stores st if it was computed for the current document
// version. A result for an older version is dropped and false is returned.
func (s *Store) ApplyValidation(version uint64, st validation.State) bool {
	s.mu.Lock()
	if version != s.version {
		current := s.version
		s.mu.Unlock()
		s.logger.Debug("discarding stale validation", "version", version, "current", current)
		return false
	}
	cloned := st.Clone()
	s.validation = &cloned
	c := s.commitLocked(ChangeValidation, "", false)
	s.mu.Unlock()

	s.emit(c)
	return true
}

// Fable returns a copy of the current document.
func (s *Store) Fable() *fable.Builder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fable.Clone()
}

// Snapshot returns the current version together with a copy of the document.
func (s *Store) Snapshot() (uint64, *fable.Builder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, s.fable.Clone()
}

// Version returns the document generation. It increases on every document
// change.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Store) FableID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fableID
}

func (s *Store) FableName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fableName
}

func (s *Store) SelectedBlockID() fable.InstanceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// ValidationState returns a copy of the last applied validation, or nil.
func (s *Store) ValidationState() *validation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.validation == nil {
		return nil
	}
	st := s.validation.Clone()
	return &st
}

func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Store) ConfigPanelOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panelOpen
}

func (s *Store) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Store) LayoutDirection() layout.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

func (s *Store) AutoLayout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoLayout
}

func sortedIDs(set map[fable.InstanceID]struct{}) []fable.InstanceID {
	ids := make([]fable.InstanceID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
