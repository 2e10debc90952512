package spif

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Loader owns the cached policy model. The first Policy call parses the
// source; later calls return the cached model until Invalidate. Concurrent
// callers during a load share one fetch-and-parse: the source is never hit
// twice for the same cache generation.
type Loader struct {
	source Source
	logger *slog.Logger

	allowRollback bool
	onSwap        func(*PolicyModel)

	mu          sync.Mutex
	model       *PolicyModel
	inflight    *loadCall
	gen         uint64
	lastVersion *semver.Version
}

// loadCall is one in-flight fetch-and-parse shared by every caller that
// arrives while it runs.
type loadCall struct {
	done  chan struct{}
	model *PolicyModel
	err   error
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger for load and invalidation events.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// WithAllowRollback disables the monotonic version guard, permitting a
// reload whose version is lower than the previously installed one. Meant
// for operator-driven recovery, not normal operation.
func WithAllowRollback() LoaderOption {
	return func(l *Loader) { l.allowRollback = true }
}

// WithSwapHook registers a callback invoked after each successful install
// of a new model. Consumers use it to drop derived state (equivalency maps,
// compiled rules) built from the previous model.
func WithSwapHook(fn func(*PolicyModel)) LoaderOption {
	return func(l *Loader) { l.onSwap = fn }
}

// NewLoader creates a Loader over the given source. Nothing is fetched
// until the first Policy call.
func NewLoader(source Source, opts ...LoaderOption) *Loader {
	l := &Loader{
		source: source,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the current policy model, loading it if the cache is
// empty. A failed load is returned to every caller sharing that attempt and
// is not cached: the next call retries the source.
func (l *Loader) Policy(ctx context.Context) (*PolicyModel, error) {
	l.mu.Lock()
	if l.model != nil {
		m := l.model
		l.mu.Unlock()
		return m, nil
	}
	if call := l.inflight; call != nil {
		l.mu.Unlock()
		select {
		case <-call.done:
			return call.model, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &loadCall{done: make(chan struct{})}
	l.inflight = call
	gen := l.gen
	prev := l.lastVersion
	l.mu.Unlock()

	model, err := l.load(ctx, prev)

	l.mu.Lock()
	call.model, call.err = model, err
	l.inflight = nil
	var swap func(*PolicyModel)
	if err == nil && gen == l.gen {
		// A concurrent Invalidate moves the generation forward; a stale
		// parse still serves its own waiters but is not installed.
		l.model = model
		l.lastVersion = mustVersion(model.Version)
		swap = l.onSwap
	}
	l.mu.Unlock()
	close(call.done)

	if err != nil {
		l.logger.Error("policy load failed", "source", l.source.Describe(), "error", err)
		return nil, err
	}
	l.logger.Info("policy loaded",
		"source", l.source.Describe(),
		"policy", model.PolicyName,
		"version", model.Version,
		"classifications", len(model.Classifications),
	)
	if swap != nil {
		swap(model)
	}
	return model, nil
}

// Invalidate drops the cached model. The next Policy call re-reads the
// source. Callers holding the old model keep a consistent snapshot.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.model = nil
	l.gen++
	l.mu.Unlock()
	l.logger.Info("policy cache invalidated", "source", l.source.Describe())
}

func (l *Loader) load(ctx context.Context, prev *semver.Version) (*PolicyModel, error) {
	data, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	model, err := Parse(data, l.source.Describe())
	if err != nil {
		return nil, err
	}
	if err := l.enforceMonotonicVersion(model, prev); err != nil {
		return nil, err
	}
	return model, nil
}

// enforceMonotonicVersion rejects a reload that would move the policy
// version backwards. Stale policies reintroduce terms and levels that were
// deliberately withdrawn, so a rollback needs an explicit override.
func (l *Loader) enforceMonotonicVersion(model *PolicyModel, prev *semver.Version) error {
	if l.allowRollback || prev == nil {
		return nil
	}
	next := mustVersion(model.Version)
	if next.LessThan(prev) {
		return &PolicyLoadError{
			Source:  l.source.Describe(),
			Section: "version",
			Reason:  "rollback from " + prev.String() + " to " + next.String() + " denied",
		}
	}
	return nil
}

// mustVersion parses a version string Parse already validated.
func mustVersion(v string) *semver.Version {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		panic("spif: unvalidated version reached install: " + v)
	}
	return parsed
}
