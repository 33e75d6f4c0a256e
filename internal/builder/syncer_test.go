package builder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/builder/mocks"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/urlstate"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

type sinkRecorder struct {
	mu       sync.Mutex
	states   []string
	tooLarge []bool
}

func (r *sinkRecorder) record(encoded string, tooLarge bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, encoded)
	r.tooLarge = append(r.tooLarge, tooLarge)
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *sinkRecorder) last() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1], r.tooLarge[len(r.tooLarge)-1]
}

func TestSyncerCoalescesBursts(t *testing.T) {
	ctrl := gomock.NewController(t)
	validator := mocks.NewMockValidator(ctrl)
	s := newTestStore()
	rec := &sinkRecorder{}

	validator.EXPECT().Validate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, doc *fable.Builder) (*validation.Expansion, error) {
			assert.Len(t, doc.Blocks, 3)
			return &validation.Expansion{GlobalErrors: []string{}}, nil
		}).Times(1)

	syncer := NewSyncer(s, validator, SyncerConfig{Delay: 50 * time.Millisecond, StateSink: rec.record})
	t.Cleanup(syncer.Stop)

	chain(t, s)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	st := s.ValidationState()
	require.NotNil(t, st)
	assert.True(t, st.IsValid)

	encoded, tooLarge := rec.last()
	assert.False(t, tooLarge)
	decoded, ok := urlstate.Decode(encoded)
	require.True(t, ok)
	assert.True(t, s.Fable().Equal(decoded))
}

func TestSyncerIgnoresNonDocumentChanges(t *testing.T) {
	ctrl := gomock.NewController(t)
	validator := mocks.NewMockValidator(ctrl)
	s := newTestStore()
	rec := &sinkRecorder{}

	syncer := NewSyncer(s, validator, SyncerConfig{Delay: 20 * time.Millisecond, StateSink: rec.record})
	t.Cleanup(syncer.Stop)

	s.SelectBlock("")
	s.ToggleConfigPanel()
	s.SetMode(ModeForm)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestSyncerDropsStaleValidation(t *testing.T) {
	ctrl := gomock.NewController(t)
	validator := mocks.NewMockValidator(ctrl)
	s := newTestStore()
	id := s.AddBlock(sourceID, sourceFactory)

	syncer := NewSyncer(s, validator, SyncerConfig{Delay: time.Hour})
	t.Cleanup(syncer.Stop)

	// The document changes while the first request is in flight.
	validator.EXPECT().Validate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ *fable.Builder) (*validation.Expansion, error) {
			s.UpdateBlockConfig(id, "model", "aifs")
			return &validation.Expansion{}, nil
		})
	syncer.Flush()
	assert.Nil(t, s.ValidationState(), "result for an outdated document must be dropped")

	validator.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(&validation.Expansion{
		GlobalErrors: []string{"pipeline has no sink"},
	}, nil)
	syncer.Flush()

	st := s.ValidationState()
	require.NotNil(t, st)
	assert.False(t, st.IsValid)
}

func TestSyncerSkipsUnchangedDocument(t *testing.T) {
	ctrl := gomock.NewController(t)
	validator := mocks.NewMockValidator(ctrl)
	s := newTestStore()
	id := s.AddBlock(sourceID, sourceFactory)

	syncer := NewSyncer(s, validator, SyncerConfig{Delay: time.Hour})
	t.Cleanup(syncer.Stop)

	validator.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(&validation.Expansion{}, nil).Times(2)

	syncer.Flush()
	syncer.Flush()

	// Same content, new version: the cached result is reused only while a
	// state is held, so a reload revalidates.
	s.UpdateBlockConfig(id, "model", "")
	syncer.Flush()
	s.SetFable(s.Fable(), "")
	syncer.Flush()
}

func TestSyncerKeepsStateOnValidatorError(t *testing.T) {
	ctrl := gomock.NewController(t)
	validator := mocks.NewMockValidator(ctrl)
	s := newTestStore()
	s.AddBlock(sourceID, sourceFactory)
	require.True(t, s.ApplyValidation(s.Version(), validation.State{IsValid: true}))

	syncer := NewSyncer(s, validator, SyncerConfig{Delay: time.Hour})
	t.Cleanup(syncer.Stop)

	validator.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))
	syncer.Flush()

	st := s.ValidationState()
	require.NotNil(t, st)
	assert.True(t, st.IsValid)
}

func TestSyncerReportsTooLargeState(t *testing.T) {
	s := newTestStore()
	s.AddBlock(sourceID, sourceFactory)
	rec := &sinkRecorder{}

	syncer := NewSyncer(s, nil, SyncerConfig{
		Delay:     time.Hour,
		Codec:     urlstate.NewCodec(8),
		StateSink: rec.record,
	})
	t.Cleanup(syncer.Stop)

	syncer.Flush()
	require.Equal(t, 1, rec.count())
	_, tooLarge := rec.last()
	assert.True(t, tooLarge)
}
