// Package binding is the call surface a host numerical environment binds to.
//
// A Module turns file paths into integer handles (NewUform), evaluates forces
// through them (CallMdgx) and releases them (Release). Each handle owns its own
// evaluator instance, created by a Factory, so handles never share simulation
// state. ExtractVec and PrintVec convert and print host arrays.
package binding
