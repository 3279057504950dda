package launch

import "fmt"

// Kind names a terminal launch failure. Every kind maps to exactly one
// pre-flight step; no step is retried.
type Kind string

const (
	MissingDirectory          Kind = "MissingDirectory"
	InterpreterNotFound       Kind = "InterpreterNotFound"
	PackageManagerUnavailable Kind = "PackageManagerUnavailable"
	MissingEntryPoint         Kind = "MissingEntryPoint"
	MissingDataFile           Kind = "MissingDataFile"
	EntryPointLoadFailed      Kind = "EntryPointLoadFailed"
	DependencyInstallFailed   Kind = "DependencyInstallFailed"
	PortInUse                 Kind = "PortInUse"
)

// Failure is a terminal launch error. Remedy carries the exact command or
// action the operator should take next; it is printed, never executed.
type Failure struct {
	Kind   Kind
	Err    error
	Remedy string
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
