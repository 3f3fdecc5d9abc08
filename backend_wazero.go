//go:build wazero

package luavm

import (
	"github.com/cryguy/luavm/internal/core"
	"github.com/cryguy/luavm/internal/wasmvm"
)

func newBackend(cfg core.Config) core.VMBackend {
	return wasmvm.NewBackend(cfg)
}
