//go:build v8

package worklet

import (
	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/v8engine"
)

func newV8Engine(memoryLimitMB int) (core.JSRuntime, error) {
	return v8engine.New(memoryLimitMB)
}
