package spif

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// sourceFunc adapts a closure into a Source for tests.
type sourceFunc func(ctx context.Context) ([]byte, error)

func (f sourceFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }
func (f sourceFunc) Describe() string                          { return "test" }

func TestLoader_CachesAcrossCalls(t *testing.T) {
	var fetches atomic.Int64
	src := sourceFunc(func(ctx context.Context) ([]byte, error) {
		fetches.Add(1)
		return []byte(policyXML("1.2.0")), nil
	})

	loader := NewLoader(src)
	ctx := context.Background()

	first, err := loader.Policy(ctx)
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	second, err := loader.Policy(ctx)
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if first != second {
		t.Error("cached calls returned different models")
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}

	loader.Invalidate()
	third, err := loader.Policy(ctx)
	if err != nil {
		t.Fatalf("Policy after invalidate: %v", err)
	}
	if third == first {
		t.Error("invalidate did not force a re-read")
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetches after invalidate = %d, want 2", n)
	}
}

func TestLoader_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	var fetches atomic.Int64
	src := sourceFunc(func(ctx context.Context) ([]byte, error) {
		fetches.Add(1)
		<-gate
		return []byte(policyXML("1.2.0")), nil
	})

	loader := NewLoader(src)
	ctx := context.Background()

	const callers = 8
	models := make([]*PolicyModel, callers)
	errs := make([]error, callers)
	var started, finished sync.WaitGroup
	started.Add(callers)
	finished.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			started.Done()
			models[i], errs[i] = loader.Policy(ctx)
			finished.Done()
		}(i)
	}
	started.Wait()
	close(gate)
	finished.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if models[i] != models[0] {
			t.Errorf("caller %d got a different model snapshot", i)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestLoader_WaiterHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	src := sourceFunc(func(ctx context.Context) ([]byte, error) {
		once.Do(func() { close(entered) })
		<-gate
		return []byte(policyXML("1.2.0")), nil
	})

	loader := NewLoader(src)

	loaded := make(chan error, 1)
	go func() {
		_, err := loader.Policy(context.Background())
		loaded <- err
	}()
	<-entered

	// The first caller now owns the in-flight load. Join it with an
	// already-canceled context: the waiter must give up without a model.
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.Policy(canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("waiter err = %v, want context.Canceled", err)
	}

	close(gate)
	if err := <-loaded; err != nil {
		t.Fatalf("in-flight load: %v", err)
	}
}

func TestLoader_ErrorNotCached(t *testing.T) {
	var fetches atomic.Int64
	src := sourceFunc(func(ctx context.Context) ([]byte, error) {
		if fetches.Add(1) == 1 {
			return nil, &PolicyLoadError{Source: "test", Reason: "transient outage"}
		}
		return []byte(policyXML("1.2.0")), nil
	})

	loader := NewLoader(src)
	ctx := context.Background()

	if _, err := loader.Policy(ctx); err == nil {
		t.Fatal("first load should fail")
	}
	model, err := loader.Policy(ctx)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if model.Version != "1.2.0" {
		t.Errorf("version = %q", model.Version)
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
}

func TestLoader_RollbackDenied(t *testing.T) {
	versions := []string{"1.2.0", "1.1.0"}
	var calls atomic.Int64
	src := sourceFunc(func(ctx context.Context) ([]byte, error) {
		i := calls.Add(1) - 1
		if int(i) >= len(versions) {
			i = int64(len(versions)) - 1
		}
		return []byte(policyXML(versions[i])), nil
	})

	loader := NewLoader(src)
	ctx := context.Background()

	model, err := loader.Policy(ctx)
	if err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if model.Version != "1.2.0" {
		t.Fatalf("version = %q", model.Version)
	}

	loader.Invalidate()
	_, err = loader.Policy(ctx)
	var loadErr *PolicyLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("err = %v, want *PolicyLoadError", err)
	}
	if loadErr.Section != "version" {
		t.Errorf("section = %q, want version", loadErr.Section)
	}
}

func TestLoader_RollbackAllowedWithOverride(t *testing.T) {
	versions := []string{"1.2.0", "1.1.0"}
	var calls atomic.Int64
	src := sourceFunc(func(ctx context.Context) ([]byte, error) {
		i := calls.Add(1) - 1
		if int(i) >= len(versions) {
			i = int64(len(versions)) - 1
		}
		return []byte(policyXML(versions[i])), nil
	})

	loader := NewLoader(src, WithAllowRollback())
	ctx := context.Background()

	if _, err := loader.Policy(ctx); err != nil {
		t.Fatalf("Policy: %v", err)
	}
	loader.Invalidate()
	model, err := loader.Policy(ctx)
	if err != nil {
		t.Fatalf("rollback with override: %v", err)
	}
	if model.Version != "1.1.0" {
		t.Errorf("version = %q, want 1.1.0", model.Version)
	}
}

func TestLoader_SwapHookFires(t *testing.T) {
	src := sourceFunc(func(ctx context.Context) ([]byte, error) {
		return []byte(policyXML("1.2.0")), nil
	})

	var mu sync.Mutex
	var swapped []string
	loader := NewLoader(src, WithSwapHook(func(m *PolicyModel) {
		mu.Lock()
		swapped = append(swapped, m.Version)
		mu.Unlock()
	}))

	if _, err := loader.Policy(context.Background()); err != nil {
		t.Fatalf("Policy: %v", err)
	}
	if _, err := loader.Policy(context.Background()); err != nil {
		t.Fatalf("Policy: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(swapped) != 1 || swapped[0] != "1.2.0" {
		t.Errorf("swap hook calls = %v, want one for 1.2.0", swapped)
	}
}
