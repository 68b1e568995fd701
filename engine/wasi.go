package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// wasiModuleName is the import namespace of WASI preview1.
const wasiModuleName = wasi_snapshot_preview1.ModuleName

// importsWASI reports whether the compiled evaluator imports WASI preview1.
func importsWASI(compiled wazero.CompiledModule) bool {
	for _, def := range compiled.ImportedFunctions() {
		if module, _, ok := def.Import(); ok && module == wasiModuleName {
			return true
		}
	}
	return false
}

// instantiateWASI instantiates WASI preview1 in r. Evaluators built with
// wasi-sdk need it for their libc even though the host stages every file
// the evaluator reads.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Closer, error) {
	return wasi_snapshot_preview1.Instantiate(ctx, r)
}
