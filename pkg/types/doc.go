// Package types holds the identity and error types shared by every binsleuth
// package: FunctionDescriptor, the coverage annotation recorded at training
// time, and the typed errors callers branch on.
//
// Errors carry a stable ErrKind (not found, invalid index, protocol failure,
// session timeout, ...). Every *Error matches the sentinel of its kind with
// errors.Is, so callers never compare message text.
//
// This package has no dependencies beyond the standard library.
package types
