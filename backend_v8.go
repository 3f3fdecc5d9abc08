//go:build v8

package luavm

import (
	"github.com/cryguy/luavm/internal/core"
	"github.com/cryguy/luavm/internal/v8engine"
)

func newBackend(cfg core.Config) core.VMBackend {
	return v8engine.NewBackend(cfg)
}
