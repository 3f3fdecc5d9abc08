package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Options is the parsed VM startup option list supplied to init. The grammar
// follows the managed runtime's own conventions:
//
//	-Dname=value        define a runtime property, exposed to managed code
//	--memory-limit-mb=N cap the per-binding engine heap (overrides Config)
//	--wasi              instantiate the WASI host interface (wasm backend only)
//
// Unrecognized options are an init error; the bridge never ignores options
// it does not understand.
type Options struct {
	Properties    map[string]string
	MemoryLimitMB int
	WASI          bool
}

// ParseOptions parses a startup option list. The property map is always
// non-nil so backends can expose it unconditionally.
func ParseOptions(options []string) (*Options, error) {
	opts := &Options{Properties: make(map[string]string)}

	for _, o := range options {
		switch {
		case strings.HasPrefix(o, "-D"):
			name, value, ok := strings.Cut(o[len("-D"):], "=")
			if !ok || name == "" {
				return nil, fmt.Errorf("malformed property option %q (want -Dname=value)", o)
			}
			opts.Properties[name] = value

		case strings.HasPrefix(o, "--memory-limit-mb="):
			v := o[len("--memory-limit-mb="):]
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("malformed memory limit option %q", o)
			}
			opts.MemoryLimitMB = n

		case o == "--wasi":
			opts.WASI = true

		default:
			return nil, fmt.Errorf("unrecognized VM option %q", o)
		}
	}

	return opts, nil
}
