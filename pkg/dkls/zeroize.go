package dkls

import "runtime"

// ZeroizeBytes overwrites the provided slice with zeros and prevents compiler
// dead store elimination using runtime.KeepAlive.
//
// This cannot guarantee complete memory sanitization (the garbage collector
// may have made copies), but it is the established ecosystem practice for
// sensitive buffers; see golang/go#33325.
func ZeroizeBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	runtime.KeepAlive(buf)
}
