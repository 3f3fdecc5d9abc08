// Package jslib loads managed-runtime libraries from disk for the engine
// backends. Libraries are plain JavaScript; entry points that use ES module
// imports are bundled with esbuild into a single self-contained script so
// the engines can evaluate them in one pass.
package jslib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Load reads the library at path, bundling it first when it pulls in other
// modules. Sources without import statements are returned as-is to avoid
// unnecessary processing.
func Load(path string) (string, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("loading library %s: %w", path, err)
	}

	src := string(source)
	if !needsBundling(src) {
		return src, nil
	}
	return bundle(path)
}

func bundle(entryPoint string) (string, error) {
	abs, err := filepath.Abs(entryPoint)
	if err != nil {
		return "", fmt.Errorf("resolving library path %s: %w", entryPoint, err)
	}

	opts := esbuild.BuildOptions{
		EntryPoints:   []string{abs},
		AbsWorkingDir: filepath.Dir(abs),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2022,
		TreeShaking:   esbuild.TreeShakingFalse,
	}

	result := esbuild.Build(opts)

	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling library %s: %s", entryPoint, strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling library %s produced no output", entryPoint)
	}

	return string(result.OutputFiles[0].Contents), nil
}

// needsBundling checks if a script contains import statements that require
// bundling. Simple scripts without imports skip this step.
func needsBundling(source string) bool {
	return strings.Contains(source, "import ") ||
		strings.Contains(source, "import{") ||
		strings.Contains(source, "import(") ||
		strings.Contains(source, "require(")
}
