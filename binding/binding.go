package binding

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/mdgx-bridge/engine"
	"github.com/wippyai/mdgx-bridge/errors"
	"github.com/wippyai/mdgx-bridge/marshal"
	"github.com/wippyai/mdgx-bridge/resource"
	"github.com/wippyai/mdgx-bridge/triad"
)

// Evaluator is an evaluator instance the module owns for one handle.
type Evaluator interface {
	triad.Evaluator
	Close(ctx context.Context) error
}

// Factory creates one evaluator instance per handle.
type Factory interface {
	NewEvaluator(ctx context.Context) (Evaluator, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Evaluator, error)

func (f FactoryFunc) NewEvaluator(ctx context.Context) (Evaluator, error) {
	return f(ctx)
}

// FromEngine returns a Factory that instantiates eng once per handle.
func FromEngine(eng *engine.Engine) Factory {
	return FactoryFunc(func(ctx context.Context) (Evaluator, error) {
		inst, err := eng.Instantiate(ctx)
		if err != nil {
			return nil, err
		}
		return inst, nil
	})
}

// session is a live handle together with the evaluator instance it runs on.
type session struct {
	h  *triad.Handle
	ev Evaluator
	mu sync.Mutex
}

// Drop destroys the triad, then closes its evaluator.
func (s *session) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.h.Destroy(ctx)
	if cerr := s.ev.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Option configures a Module.
type Option func(*Module)

// WithObserver subscribes o to handle lifecycle events.
func WithObserver(o resource.Observer) Option {
	return func(m *Module) {
		m.handles.Subscribe(o)
	}
}

// Module is the call surface a host environment binds to: a constructor
// for triad handles, the evaluation entry point and the buffer helpers.
// Handles are plain integers so they cross any calling convention. Safe for
// concurrent use; calls on one handle are serialized.
type Module struct {
	factory Factory
	handles *resource.Table[*session]
}

// New creates a Module that builds evaluators with factory.
func New(factory Factory, opts ...Option) *Module {
	m := &Module{
		factory: factory,
		handles: resource.NewTable[*session](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewUform constructs a triad handle from a topology file and a coordinate
// file. On failure nothing stays allocated and the error names the stage.
func (m *Module) NewUform(ctx context.Context, prmtop, crdname string) (resource.Handle, error) {
	if m.factory == nil {
		return 0, errors.NotInitialized(errors.PhaseBinding, "evaluator factory")
	}
	ev, err := m.factory.NewEvaluator(ctx)
	if err != nil {
		return 0, err
	}

	h, err := triad.Construct(ctx, ev, prmtop, crdname)
	if err != nil {
		if cerr := ev.Close(ctx); cerr != nil {
			Logger().Warn("close evaluator after failed construction", zap.Error(cerr))
		}
		return 0, err
	}

	s := &session{h: h, ev: ev}
	id, err := m.handles.Insert(s)
	if err != nil {
		if derr := s.Drop(ctx); derr != nil {
			Logger().Warn("drop handle rejected by registry", zap.Error(derr))
		}
		return 0, errors.Wrap(errors.PhaseBinding, errors.KindInvalidInput, err, "register handle")
	}

	Logger().Debug("handle registered",
		zap.Uint32("handle", uint32(id)),
		zap.String("id", h.ID().String()),
		zap.Int("atoms", h.AtomCount()))
	return id, nil
}

// CallMdgx evaluates forces for sites using handle h: gradients and target
// are written in place. An unknown or released handle is a precondition
// violation, as are buffers that do not hold 3 values per atom.
func (m *Module) CallMdgx(ctx context.Context, sites, gradients, target []float64, h resource.Handle) error {
	s, ok := m.handles.Get(h)
	if !ok {
		return errors.Precondition(errors.PhaseEvaluate, fmt.Sprintf("handle %d is not live", h))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return triad.Evaluate(ctx, sites, target, gradients, s.h)
}

// Bound is a handle bound to its Module. Evaluations through it go through
// CallMdgx, so they are serialized with each other and with Release.
type Bound struct {
	m *Module
	h resource.Handle
}

// Bind returns h bound to m. The handle is resolved on every call, so a
// Bound outliving its handle fails with a precondition violation.
func (m *Module) Bind(h resource.Handle) Bound {
	return Bound{m: m, h: h}
}

// Handle returns the bound handle.
func (b Bound) Handle() resource.Handle {
	return b.h
}

// Evaluate calls CallMdgx with the bound handle.
func (b Bound) Evaluate(ctx context.Context, coordinates, target, gradients []float64) error {
	return b.m.CallMdgx(ctx, coordinates, gradients, target, b.h)
}

// ExtractVec copies a host array view into an owned slice.
func (m *Module) ExtractVec(v marshal.View) []float64 {
	return marshal.ToOwned(v)
}

// PrintVec writes v as "[ v0, v1, ..., ]" followed by a newline.
func (m *Module) PrintVec(w io.Writer, v []float64) error {
	return marshal.Print(w, v)
}

// RenderVec returns v as "[ v0, v1, ..., ]" without a newline.
func (m *Module) RenderVec(v []float64) string {
	return marshal.Render(v)
}

// Release destroys handle h. Releasing an unknown or already released
// handle is a no-op.
func (m *Module) Release(ctx context.Context, h resource.Handle) error {
	_, _, err := m.handles.Remove(ctx, h)
	return err
}

// Handle returns the triad behind h.
func (m *Module) Handle(h resource.Handle) (*triad.Handle, bool) {
	s, ok := m.handles.Get(h)
	if !ok {
		return nil, false
	}
	return s.h, true
}

// Evaluator returns the evaluator instance h runs on.
func (m *Module) Evaluator(h resource.Handle) (Evaluator, bool) {
	s, ok := m.handles.Get(h)
	if !ok {
		return nil, false
	}
	return s.ev, true
}

// Len returns the number of live handles.
func (m *Module) Len() int {
	return m.handles.Len()
}

// Close releases every live handle and rejects new ones.
func (m *Module) Close(ctx context.Context) error {
	return m.handles.Close(ctx)
}
