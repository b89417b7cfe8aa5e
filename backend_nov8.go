//go:build !v8

package worklet

import (
	"errors"

	"github.com/cryguy/worklet/internal/core"
)

func newV8Engine(int) (core.JSRuntime, error) {
	return nil, errors.New("engine v8 requires building with -tags v8")
}
