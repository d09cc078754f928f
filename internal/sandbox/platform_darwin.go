//go:build darwin

package sandbox

// PlatformBackend returns this OS's native isolation backend.
func PlatformBackend() Backend {
	return NewSeatbeltBackend()
}
