// Package errors provides structured error types for wasabi.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type carries the failing function and
// instruction, a path, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRewrite, errors.KindMalformedInstruction).
//		At(3, 17).
//		Detail("branch label %d exceeds block depth %d", 4, 2).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.CapacityExceeded("imports", 100001, 100000)
//	err := errors.Decode(cause)
//
// Match categories with the sentinels, independent of phase:
//
//	if errors.Is(err, wasabierrors.ErrCapacityExceeded) { ... }
package errors
