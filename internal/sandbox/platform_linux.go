//go:build linux

package sandbox

// PlatformBackend returns this OS's native isolation backend, so callers
// outside this package (cmd/gateway.go) never need their own build tags
// to register it alongside the always-available subprocess backend.
func PlatformBackend() Backend {
	return NewNamespaceBackend()
}
