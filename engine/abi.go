package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/mdgx-bridge/errors"
)

// ABI is the export contract every evaluator module must implement.
const ABI = `
malloc: func(size: u32) -> u32;
free: func(ptr: u32);
sizeof-trajcon: func() -> u32;
sizeof-uform: func() -> u32;
sizeof-mdsys: func() -> u32;
create-trajcon: func(tc: u32) -> s32;
load-topology: func(data: u32, len: u32, tc: u32, uf: u32) -> s32;
create-mdsys: func(data: u32, len: u32, uf: u32, md: u32) -> s32;
atom-count: func(uf: u32) -> s32;
getmdgxfrc: func(crd: u32, target: u32, frc: u32, uf: u32, tc: u32, md: u32) -> s32;
destroy-trajcon: func(tc: u32);
destroy-uform: func(uf: u32, md: u32);
destroy-mdsys: func(md: u32);
`

// OptionalABI lists diagnostic exports an evaluator may provide.
const OptionalABI = `
live-objects: func() -> s32;
eval-count: func(md: u32) -> s32;
`

// MemoryExport is the name of the linear memory the evaluator must export.
const MemoryExport = "memory"

// Signature is one parsed ABI function.
type Signature struct {
	Name    string // export name
	WIT     string // WIT declaration
	Params  []api.ValueType
	Results []api.ValueType
}

// ExportInfo reports how a module satisfies one ABI export.
type ExportInfo struct {
	Name     string
	WIT      string
	Present  bool
	Optional bool
	Matches  bool
	Actual   string // core signature found in the module, if present
}

var funcPattern = regexp.MustCompile(`(?:export\s+)?([a-zA-Z_][a-zA-Z0-9_-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;\n]+))?`)

// ParseABI parses WIT function declarations into core signatures.
func ParseABI(witText string) ([]Signature, error) {
	var sigs []Signature
	for _, match := range funcPattern.FindAllStringSubmatch(witText, -1) {
		sig := Signature{
			Name: exportName(match[1]),
			WIT:  strings.TrimSpace(match[0]),
		}

		if params := strings.TrimSpace(match[2]); params != "" {
			for _, p := range splitParams(params) {
				typStr := p
				if idx := strings.LastIndex(p, ":"); idx != -1 {
					typStr = strings.TrimSpace(p[idx+1:])
				}
				vt, err := coreType(typStr)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseABI, errors.KindInvalidInput, err, "parse param type "+typStr)
				}
				sig.Params = append(sig.Params, vt)
			}
		}

		result := strings.TrimSpace(match[3])
		if result != "" && result != "()" {
			result = strings.TrimSuffix(strings.TrimPrefix(result, "("), ")")
			for _, part := range splitParams(result) {
				vt, err := coreType(part)
				if err != nil {
					return nil, errors.Wrap(errors.PhaseABI, errors.KindInvalidInput, err, "parse result type "+part)
				}
				sig.Results = append(sig.Results, vt)
			}
		}

		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// exportName maps a WIT kebab-case name to the core export name.
func exportName(kebab string) string {
	return strings.ReplaceAll(kebab, "-", "_")
}

func splitParams(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// coreType maps a scalar WIT type to its flat core value type.
func coreType(s string) (api.ValueType, error) {
	t, err := wit.ParseType(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, nil
	case wit.U64, wit.S64:
		return api.ValueTypeI64, nil
	case wit.F32:
		return api.ValueTypeF32, nil
	case wit.F64:
		return api.ValueTypeF64, nil
	default:
		return 0, fmt.Errorf("type %s is not a scalar", s)
	}
}

func formatCoreSignature(params, results []api.ValueType) string {
	names := func(vts []api.ValueType) string {
		s := make([]string, len(vts))
		for i, vt := range vts {
			s[i] = api.ValueTypeName(vt)
		}
		return strings.Join(s, " ")
	}
	return "(" + names(params) + ") -> (" + names(results) + ")"
}

func sameTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var (
	requiredABI = mustParseABI(ABI)
	optionalABI = mustParseABI(OptionalABI)
)

func mustParseABI(text string) []Signature {
	sigs, err := ParseABI(text)
	if err != nil {
		panic(err)
	}
	return sigs
}

// validateABI checks a compiled module against the evaluator ABI. Missing
// required exports are reported together; the first mismatched signature is
// reported on its own.
func validateABI(compiled wazero.CompiledModule) ([]ExportInfo, error) {
	exported := compiled.ExportedFunctions()

	var (
		infos    []ExportInfo
		missing  []string
		mismatch error
	)
	check := func(sig Signature, optional bool) {
		info := ExportInfo{Name: sig.Name, WIT: sig.WIT, Optional: optional}
		def, ok := exported[sig.Name]
		if ok {
			info.Present = true
			info.Actual = formatCoreSignature(def.ParamTypes(), def.ResultTypes())
			info.Matches = sameTypes(def.ParamTypes(), sig.Params) && sameTypes(def.ResultTypes(), sig.Results)
			if !info.Matches && mismatch == nil {
				mismatch = errors.SignatureMismatch(sig.Name, formatCoreSignature(sig.Params, sig.Results), info.Actual)
			}
		} else if !optional {
			missing = append(missing, sig.Name)
		}
		infos = append(infos, info)
	}

	for _, sig := range requiredABI {
		check(sig, false)
	}
	for _, sig := range optionalABI {
		check(sig, true)
	}

	if _, ok := compiled.ExportedMemories()[MemoryExport]; !ok {
		missing = append(missing, MemoryExport)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return infos, errors.NewMissingExportsError(missing)
	}
	if mismatch != nil {
		return infos, mismatch
	}
	return infos, nil
}
