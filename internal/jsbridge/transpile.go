package jsbridge

import (
	"fmt"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/worklet/internal/core"
)

var esbuildTargets = map[string]esbuild.Target{
	"es2015": esbuild.ES2015,
	"es2016": esbuild.ES2016,
	"es2017": esbuild.ES2017,
	"es2018": esbuild.ES2018,
	"es2019": esbuild.ES2019,
	"es2020": esbuild.ES2020,
	"es2021": esbuild.ES2021,
	"es2022": esbuild.ES2022,
	"esnext": esbuild.ESNext,
}

// ParseTarget maps a config target name to an esbuild target.
func ParseTarget(name string) (esbuild.Target, error) {
	t, ok := esbuildTargets[strings.ToLower(name)]
	if !ok {
		return esbuild.DefaultTarget, fmt.Errorf("unknown transpile target %q", name)
	}
	return t, nil
}

// workletBody wraps worklet code into the statement the prelude factories
// evaluate. The function ends up in __wk_fn.
func workletBody(code string) string {
	return "var __wk_fn = (" + code + ");"
}

// Transpile lowers a worklet function expression to target and returns the
// factory body. Syntax errors surface here with the worklet name attached.
func Transpile(src *core.WorkletSource, target esbuild.Target) (string, error) {
	result := esbuild.Transform(workletBody(src.Code), esbuild.TransformOptions{
		Loader:     esbuild.LoaderJS,
		Target:     target,
		Sourcefile: src.Name + ".worklet.js",
		LogLevel:   esbuild.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("transpiling worklet %s: %s", src.Name, strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

// prepare returns the cached factory body for src.
func (b *Bridge) prepare(src *core.WorkletSource) (string, error) {
	h := src.Hash()
	b.mu.Lock()
	body, ok := b.bodies[h]
	b.mu.Unlock()
	if ok {
		return body, nil
	}

	body = workletBody(src.Code)
	if b.opts.transpile {
		var err error
		if body, err = Transpile(src, b.opts.target); err != nil {
			return "", err
		}
	}

	b.mu.Lock()
	b.bodies[h] = body
	b.mu.Unlock()
	return body, nil
}
