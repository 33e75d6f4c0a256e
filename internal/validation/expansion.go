// Package validation turns server-computed validation results into
// per-block state, and computes those results from a catalogue.
package validation

import "github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"

// Expansion is the validation result for one pipeline document.
type Expansion struct {
	GlobalErrors       []string                               `json:"global_errors"`
	BlockErrors        map[fable.InstanceID][]string          `json:"block_errors"`
	PossibleSources    []fable.FactoryID                      `json:"possible_sources"`
	PossibleExpansions map[fable.InstanceID][]fable.FactoryID `json:"possible_expansions"`
}

// BlockState is the validation view of a single block.
type BlockState struct {
	Errors             []string          `json:"errors"`
	HasErrors          bool              `json:"hasErrors"`
	PossibleExpansions []fable.FactoryID `json:"possibleExpansions"`
}

// State is the client-side validation state. It is replaced wholesale on
// each validation round.
type State struct {
	IsValid         bool                            `json:"isValid"`
	GlobalErrors    []string                        `json:"globalErrors"`
	BlockStates     map[fable.InstanceID]BlockState `json:"blockStates"`
	PossibleSources []fable.FactoryID               `json:"possibleSources"`
}

// Interpret derives a State from an Expansion. A block that only appears in
// possible_expansions gets an empty error list.
func Interpret(exp Expansion) State {
	st := State{
		GlobalErrors:    append([]string{}, exp.GlobalErrors...),
		BlockStates:     make(map[fable.InstanceID]BlockState),
		PossibleSources: append([]fable.FactoryID{}, exp.PossibleSources...),
	}

	anyBlockErrors := false
	for id, errs := range exp.BlockErrors {
		bs := st.BlockStates[id]
		bs.Errors = append([]string{}, errs...)
		bs.HasErrors = len(errs) > 0
		if bs.HasErrors {
			anyBlockErrors = true
		}
		st.BlockStates[id] = bs
	}
	for id, expansions := range exp.PossibleExpansions {
		bs, ok := st.BlockStates[id]
		if !ok {
			bs.Errors = []string{}
		}
		bs.PossibleExpansions = append([]fable.FactoryID{}, expansions...)
		st.BlockStates[id] = bs
	}
	for id, bs := range st.BlockStates {
		if bs.PossibleExpansions == nil {
			bs.PossibleExpansions = []fable.FactoryID{}
			st.BlockStates[id] = bs
		}
	}

	st.IsValid = len(exp.GlobalErrors) == 0 && !anyBlockErrors
	return st
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{
		IsValid:         s.IsValid,
		GlobalErrors:    cloneSlice(s.GlobalErrors),
		PossibleSources: cloneSlice(s.PossibleSources),
	}
	if s.BlockStates != nil {
		out.BlockStates = make(map[fable.InstanceID]BlockState, len(s.BlockStates))
		for id, bs := range s.BlockStates {
			bs.Errors = cloneSlice(bs.Errors)
			bs.PossibleExpansions = cloneSlice(bs.PossibleExpansions)
			out.BlockStates[id] = bs
		}
	}
	return out
}

// cloneSlice copies in, keeping nil and empty apart so JSON output is stable.
func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}

// Block returns the state of one block. Blocks the server said nothing about
// are error-free.
func (s *State) Block(id fable.InstanceID) BlockState {
	if s == nil {
		return BlockState{Errors: []string{}, PossibleExpansions: []fable.FactoryID{}}
	}
	if bs, ok := s.BlockStates[id]; ok {
		return bs
	}
	return BlockState{Errors: []string{}, PossibleExpansions: []fable.FactoryID{}}
}
