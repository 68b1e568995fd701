package engine

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/mdgx-bridge/errors"
)

// Config holds configuration for engine creation
type Config struct {
	// Stderr receives the evaluator's diagnostic output. nil discards it.
	Stderr io.Writer

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

// Engine is a compiled evaluator module ready to be instantiated.
type Engine struct {
	runtime      wazero.Runtime
	compiled     wazero.CompiledModule
	stderr       io.Writer
	exports      []ExportInfo
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
	needsWASI    bool
	closed       atomic.Bool
}

// New compiles wasmBytes and checks it against the evaluator ABI.
func New(ctx context.Context, wasmBytes []byte, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	stderr := io.Discard
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.Stderr != nil {
			stderr = cfg.Stderr
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Load("compile evaluator module", err)
	}

	exports, err := validateABI(compiled)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, err
	}

	e := &Engine{
		runtime:   runtime,
		compiled:  compiled,
		stderr:    stderr,
		exports:   exports,
		needsWASI: importsWASI(compiled),
	}
	Logger().Debug("evaluator compiled",
		zap.Int("exports", len(exports)),
		zap.Bool("wasi", e.needsWASI))
	return e, nil
}

// Inspect compiles wasmBytes and reports its ABI coverage without failing on
// missing or mismatched exports. The returned error is the validation
// result.
func Inspect(ctx context.Context, wasmBytes []byte) ([]ExportInfo, error) {
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile evaluator module", err)
	}
	return validateABI(compiled)
}

// Exports reports the ABI exports and how the module satisfies them.
func (e *Engine) Exports() []ExportInfo {
	return append([]ExportInfo(nil), e.exports...)
}

// initWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls.
func (e *Engine) initWASI(ctx context.Context) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModuleName) == nil {
		if _, err := instantiateWASI(ctx, e.runtime); err != nil && e.runtime.Module(wasiModuleName) == nil {
			return errors.Instantiation(err)
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}

// Instantiate creates an isolated evaluator instance with its own linear
// memory. Safe to call concurrently.
func (e *Engine) Instantiate(ctx context.Context) (*Instance, error) {
	if e.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseLoad, "engine")
	}
	if e.needsWASI {
		if err := e.initWASI(ctx); err != nil {
			return nil, err
		}
	}

	// Anonymous so any number of instances can coexist in one runtime.
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStderr(e.stderr).
		WithStartFunctions("_initialize")

	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, cfg)
	if err != nil {
		return nil, errors.Instantiation(err)
	}
	return newInstance(mod)
}

// Close releases the runtime and every instance created from it.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if err := e.compiled.Close(ctx); err != nil {
		firstErr = err
	}
	if err := e.runtime.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
