//go:build !linux

package title

// New returns the platform title setter. Platforms without a native
// mechanism degrade to a no-op.
func New() Setter {
	return Noop{}
}
