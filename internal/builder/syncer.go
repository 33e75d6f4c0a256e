package builder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/debounce"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/log"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/urlstate"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/validation"
)

//go:generate mockgen -destination=mocks/mock_validator.go -package=mocks github.com/interloop-de/forecast-in-a-box-sub001/internal/builder Validator

// Validator computes the validation expansion of a document, usually by
// calling the validation endpoint.
type Validator interface {
	Validate(ctx context.Context, doc *fable.Builder) (*validation.Expansion, error)
}

// StateSink receives the URL-encoded document after each quiet period.
// tooLarge reports that the encoding exceeds the codec limit and the caller
// should persist the document server-side instead.
type StateSink func(encoded string, tooLarge bool)

// SyncerConfig configures a Syncer.
type SyncerConfig struct {
	Delay     time.Duration
	Timeout   time.Duration
	Codec     *urlstate.Codec
	StateSink StateSink
	Logger    *slog.Logger
}

// Syncer revalidates and re-encodes the store's document once edits have
// been quiet for the configured delay. Results computed for a document that
// has since changed are dropped by Store.ApplyValidation.
type Syncer struct {
	store     *Store
	validator Validator
	cfg       SyncerConfig
	debouncer *debounce.Debouncer
	logger    *slog.Logger

	runMu           sync.Mutex
	mu              sync.Mutex
	lastFingerprint string
}

// NewSyncer attaches a Syncer to store. It starts listening immediately.
func NewSyncer(store *Store, v Validator, cfg SyncerConfig) *Syncer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Codec == nil {
		cfg.Codec = urlstate.NewCodec(urlstate.MaxStateLength)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent("builder-sync")
	}

	s := &Syncer{store: store, validator: v, cfg: cfg, logger: logger}
	s.debouncer = debounce.New(cfg.Delay, s.run)
	store.OnChange(func(c Change) {
		if c.Document {
			s.debouncer.Trigger()
		}
	})
	return s
}

// Flush runs a sync now instead of waiting for the quiet period.
func (s *Syncer) Flush() {
	s.run()
}

// Stop cancels a pending sync and waits for a running one to finish.
func (s *Syncer) Stop() {
	s.debouncer.Stop()
	s.runMu.Lock()
	defer s.runMu.Unlock()
}

// run is serialized so a flush and a timer firing never interleave.
func (s *Syncer) run() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	version, doc := s.store.Snapshot()
	s.validate(version, doc)
	s.encode(doc)
}

func (s *Syncer) validate(version uint64, doc *fable.Builder) {
	if s.validator == nil {
		return
	}
	fp, err := doc.Fingerprint()
	if err != nil {
		s.logger.Error("fingerprint document", "error", err)
		return
	}

	s.mu.Lock()
	unchanged := fp == s.lastFingerprint
	s.mu.Unlock()
	if unchanged && s.store.ValidationState() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	exp, err := s.validator.Validate(ctx, doc)
	if err != nil {
		s.logger.Warn("validation request failed", "version", version, "error", err)
		return
	}
	if exp == nil {
		exp = &validation.Expansion{}
	}

	if !s.store.ApplyValidation(version, validation.Interpret(*exp)) {
		return
	}
	s.mu.Lock()
	s.lastFingerprint = fp
	s.mu.Unlock()
}

func (s *Syncer) encode(doc *fable.Builder) {
	if s.cfg.StateSink == nil {
		return
	}
	encoded, err := s.cfg.Codec.Encode(doc)
	if err != nil {
		s.logger.Error("encode url state", "error", err)
		return
	}
	s.cfg.StateSink(encoded, s.cfg.Codec.IsTooLarge(encoded))
}
