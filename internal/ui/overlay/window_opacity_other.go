//go:build !windows

package overlay

// Other drivers cannot make a window translucent; the background rectangle
// carries the gray level instead.
func (overlay *Window) applyNativeOpacity(Config) {}
