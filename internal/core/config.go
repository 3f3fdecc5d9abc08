package core

// Config holds runtime configuration for the bridge.
type Config struct {
	MemoryLimitMB int // per-binding engine memory limit in MB, 0 = engine default
	MaxCallDepth  int // max nested outbound calls per binding, 0 = DefaultMaxCallDepth
}

// DefaultMaxCallDepth bounds how deep outbound calls may nest on a single
// binding when managed code re-enters the interpreter and the interpreter
// calls out again.
const DefaultMaxCallDepth = 16

// CallDepth returns the effective nested-call limit.
func (c Config) CallDepth() int {
	if c.MaxCallDepth > 0 {
		return c.MaxCallDepth
	}
	return DefaultMaxCallDepth
}
