//go:build !wazero && !v8

package luavm

import (
	"github.com/cryguy/luavm/internal/core"
	"github.com/cryguy/luavm/internal/quickjs"
)

func newBackend(cfg core.Config) core.VMBackend {
	return quickjs.NewBackend(cfg)
}
