// Package internalcheck provides internal validation and testing utilities.
//
// This package contains policy checks used internally by the dkls-go library
// for validation and testing support. It is not intended for external use
// and the API may change without notice.
//
// # Internal Use Only
//
// This package is part of the internal implementation and should not be
// imported by applications using the dkls library. Use the public API
// provided by pkg/dkls and its subpackages instead.
package internalcheck
