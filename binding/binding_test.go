package binding_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/wippyai/mdgx-bridge/binding"
	"github.com/wippyai/mdgx-bridge/engine"
	mdgxerrors "github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/evaltest"
	"github.com/wippyai/mdgx-bridge/marshal"
	"github.com/wippyai/mdgx-bridge/resource"
)

// fakeFactory hands out a fresh fake per handle and remembers them.
type fakeFactory struct {
	mu     sync.Mutex
	fakes  []*evaltest.Fake
	failOn string
	err    error
}

func (f *fakeFactory) NewEvaluator(context.Context) (binding.Evaluator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	fake := evaltest.NewFake()
	if f.failOn != "" {
		fake = evaltest.FailingFake(f.failOn, 4)
	}
	f.fakes = append(f.fakes, fake)
	return fake, nil
}

func (f *fakeFactory) last() *evaltest.Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fakes[len(f.fakes)-1]
}

func TestModule_Lifecycle(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	mod := binding.New(factory)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}
	if h == 0 {
		t.Fatal("NewUform returned the zero handle")
	}
	if mod.Len() != 1 {
		t.Errorf("Len = %d, want 1", mod.Len())
	}

	sites := slices.Clone(evaltest.Water)
	sites[2] += 1
	grads := make([]float64, 9)
	target := make([]float64, 9)
	if err := mod.CallMdgx(ctx, sites, grads, target, h); err != nil {
		t.Fatalf("CallMdgx: %v", err)
	}
	want, energy := evaltest.HarmonicForces(sites, evaltest.Water)
	if !slices.Equal(grads, want) {
		t.Errorf("grads = %v, want %v", grads, want)
	}
	if target[0] != energy {
		t.Errorf("energy = %v, want %v", target[0], energy)
	}

	fake := factory.last()
	if err := mod.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if fake.LiveObjects() != 0 || fake.Outstanding() != 0 {
		t.Errorf("leaked: structures=%d blocks=%d", fake.LiveObjects(), fake.Outstanding())
	}
	if !fake.Closed() {
		t.Error("evaluator not closed on release")
	}
	if mod.Len() != 0 {
		t.Errorf("Len = %d after release", mod.Len())
	}
}

func TestModule_ReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	mod := binding.New(factory)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}
	if err := mod.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	calls := len(factory.last().Calls())
	if err := mod.Release(ctx, h); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if err := mod.Release(ctx, 999); err != nil {
		t.Errorf("Release of unknown handle: %v", err)
	}
	if len(factory.last().Calls()) != calls {
		t.Error("second Release reached the evaluator")
	}
	if v := factory.last().Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
}

func TestModule_CallMdgxOnDeadHandle(t *testing.T) {
	ctx := context.Background()
	mod := binding.New(&fakeFactory{})
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}
	mod.Release(ctx, h)

	nine := func() []float64 { return make([]float64, 9) }
	tests := []struct {
		name   string
		handle resource.Handle
	}{
		{"released", h},
		{"never issued", h + 100},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mod.CallMdgx(ctx, nine(), nine(), nine(), tt.handle)
			if !errors.Is(err, mdgxerrors.ErrPrecondition) {
				t.Errorf("expected precondition violation, got %v", err)
			}
		})
	}
}

func TestModule_CallMdgxLengthMismatch(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	mod := binding.New(factory)
	defer mod.Close(ctx)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}

	err = mod.CallMdgx(ctx, make([]float64, 9), make([]float64, 3), make([]float64, 9), h)
	if !errors.Is(err, mdgxerrors.ErrPrecondition) {
		t.Fatalf("expected precondition violation, got %v", err)
	}
	if slices.Contains(factory.last().Calls(), "getmdgxfrc") {
		t.Error("evaluator was called despite the violation")
	}
}

func TestModule_NewUformFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("construction", func(t *testing.T) {
		factory := &fakeFactory{failOn: "load_topology"}
		mod := binding.New(factory)
		top, crd := evaltest.WriteSystem(t, evaltest.Water)

		h, err := mod.NewUform(ctx, top, crd)
		if !errors.Is(err, &mdgxerrors.Error{Phase: mdgxerrors.PhaseTopology, Kind: mdgxerrors.KindResourceLoad}) {
			t.Fatalf("expected topology load error, got %v", err)
		}
		if h != 0 {
			t.Errorf("handle = %d, want 0", h)
		}
		if mod.Len() != 0 {
			t.Errorf("Len = %d, want 0", mod.Len())
		}
		if !factory.last().Closed() {
			t.Error("evaluator not closed after failed construction")
		}
	})

	t.Run("factory", func(t *testing.T) {
		boom := errors.New("no evaluator")
		mod := binding.New(&fakeFactory{err: boom})
		if _, err := mod.NewUform(ctx, "a", "b"); !errors.Is(err, boom) {
			t.Errorf("expected factory error, got %v", err)
		}
	})

	t.Run("nil factory", func(t *testing.T) {
		mod := binding.New(nil)
		_, err := mod.NewUform(ctx, "a", "b")
		if !errors.Is(err, &mdgxerrors.Error{Kind: mdgxerrors.KindNotInitialized}) {
			t.Errorf("expected not initialized error, got %v", err)
		}
	})
}

func TestModule_Observer(t *testing.T) {
	ctx := context.Background()
	var events []resource.EventType
	mod := binding.New(&fakeFactory{}, binding.WithObserver(resource.ObserverFunc(func(e resource.Event) {
		events = append(events, e.Type)
	})))
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}
	mod.Release(ctx, h)

	want := []resource.EventType{resource.EventCreated, resource.EventDropped}
	if !slices.Equal(events, want) {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestModule_Close(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	mod := binding.New(factory)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	for range 3 {
		if _, err := mod.NewUform(ctx, top, crd); err != nil {
			t.Fatalf("NewUform: %v", err)
		}
	}
	if err := mod.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, fake := range factory.fakes {
		if fake.LiveObjects() != 0 || !fake.Closed() {
			t.Errorf("evaluator %d: structures=%d closed=%t", i, fake.LiveObjects(), fake.Closed())
		}
	}

	_, err := mod.NewUform(ctx, top, crd)
	if !errors.Is(err, resource.ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if !factory.last().Closed() {
		t.Error("evaluator built after Close was not released")
	}
}

func TestModule_VecHelpers(t *testing.T) {
	mod := binding.New(nil)

	host := []float64{1, 2.5, -3}
	owned := mod.ExtractVec(marshal.Slice(host))
	host[0] = 100
	if !slices.Equal(owned, []float64{1, 2.5, -3}) {
		t.Errorf("ExtractVec = %v", owned)
	}

	if got := mod.RenderVec(owned); got != "[ 1, 2.5, -3, ]" {
		t.Errorf("RenderVec = %q", got)
	}

	var buf bytes.Buffer
	if err := mod.PrintVec(&buf, nil); err != nil {
		t.Fatalf("PrintVec: %v", err)
	}
	if buf.String() != "[ ]\n" {
		t.Errorf("PrintVec(nil) = %q", buf.String())
	}
}

func TestModule_WithEngine(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.New(ctx, evaltest.Module(), nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	defer eng.Close(ctx)

	mod := binding.New(binding.FromEngine(eng))
	defer mod.Close(ctx)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}
	ev, ok := mod.Evaluator(h)
	if !ok {
		t.Fatal("Evaluator not found for live handle")
	}
	inst := ev.(*engine.Instance)

	sites := slices.Clone(evaltest.Water)
	sites[7] -= 0.5
	want, energy := evaltest.HarmonicForces(sites, evaltest.Water)

	for call := 1; call <= 2; call++ {
		grads := make([]float64, 9)
		target := make([]float64, 9)
		if err := mod.CallMdgx(ctx, sites, grads, target, h); err != nil {
			t.Fatalf("CallMdgx #%d: %v", call, err)
		}
		if !slices.Equal(grads, want) || target[0] != energy {
			t.Errorf("call %d: grads=%v energy=%v, want %v %v", call, grads, target[0], want, energy)
		}
	}

	th, ok := mod.Handle(h)
	if !ok {
		t.Fatal("Handle not found")
	}
	_, _, md := th.Blocks()
	if n, err := inst.EvalCount(ctx, md.Ptr); err != nil || n != 2 {
		t.Errorf("EvalCount = %d, %v; want 2", n, err)
	}

	if err := mod.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := mod.Handle(h); ok {
		t.Error("Handle still resolves after Release")
	}
}

func TestModule_ConcurrentHandles(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	mod := binding.New(factory)
	defer mod.Close(ctx)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := mod.NewUform(ctx, top, crd)
			if err != nil {
				errs <- err
				return
			}
			for range 10 {
				if err := mod.CallMdgx(ctx, evaltest.Water, make([]float64, 9), make([]float64, 9), h); err != nil {
					errs <- err
					return
				}
			}
			errs <- mod.Release(ctx, h)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
	if mod.Len() != 0 {
		t.Errorf("Len = %d, want 0", mod.Len())
	}
}

func TestBound_EvaluateRacesRelease(t *testing.T) {
	ctx := context.Background()
	factory := &fakeFactory{}
	mod := binding.New(factory)
	defer mod.Close(ctx)
	top, crd := evaltest.WriteSystem(t, evaltest.Water)

	h, err := mod.NewUform(ctx, top, crd)
	if err != nil {
		t.Fatalf("NewUform: %v", err)
	}
	bound := mod.Bind(h)
	if bound.Handle() != h {
		t.Fatalf("Handle = %d, want %d", bound.Handle(), h)
	}
	fake := factory.last()

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 8 {
				errs <- bound.Evaluate(ctx, evaltest.Water, make([]float64, 9), make([]float64, 9))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := mod.Release(ctx, h); err != nil {
			t.Errorf("Release: %v", err)
		}
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, mdgxerrors.ErrPrecondition) {
			t.Errorf("evaluation after release should be a precondition violation, got %v", err)
		}
	}
	if v := fake.Violations(); len(v) != 0 {
		t.Errorf("evaluator misuse: %v", v)
	}
	if fake.LiveObjects() != 0 || fake.Outstanding() != 0 {
		t.Errorf("leaked: structures=%d blocks=%d", fake.LiveObjects(), fake.Outstanding())
	}

	err = bound.Evaluate(ctx, evaltest.Water, make([]float64, 9), make([]float64, 9))
	if !errors.Is(err, mdgxerrors.ErrPrecondition) {
		t.Errorf("expected precondition violation after release, got %v", err)
	}
}
