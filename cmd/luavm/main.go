// Command luavm runs a Lua script with the VM bridge module preloaded.
//
//	luavm [-lib runtime.js] script.lua
//
// When -lib is given the VM is initialized before the script runs;
// otherwise the script calls require("luavm").init itself.
package main

import (
	"flag"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/cryguy/luavm"
)

func main() {
	lib := flag.String("lib", "", "managed-runtime library to initialize the VM with before the script runs")
	memoryLimit := flag.Int("memory-limit-mb", 0, "per-binding engine memory limit in MB (0 = engine default)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: luavm [-lib runtime.js] [-memory-limit-mb N] script.lua [options...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	script := flag.Arg(0)

	L := lua.NewState()
	defer L.Close()
	luavm.Preload(L)

	if *lib != "" {
		// Remaining arguments after the script are VM startup options,
		// e.g. -Dname=value. The pinned default bridge is initialized so
		// the script's require("luavm") sees the same VM.
		options := flag.Args()[1:]
		if *memoryLimit > 0 {
			options = append(options, fmt.Sprintf("--memory-limit-mb=%d", *memoryLimit))
		}
		if err := luavm.Default().Init(luavm.NewCallStack(L), *lib, options...); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing VM: %v\n", err)
			os.Exit(1)
		}
	}

	if err := L.DoFile(script); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing %s: %v\n", script, err)
		os.Exit(1)
	}
}
