//go:build !llama

package model

// Without the 'llama' build tag the in-process engine is not linked. The
// stub keeps default builds CGO-free and fails loads with a clear error
// instead of pretending to generate.

const llamaBuilt = false

func init() { Register(llamaBackend{}) }

type llamaBackend struct{}

func (llamaBackend) Name() string { return "llama" }

func (llamaBackend) Load(path string, opts Options) (Runtime, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
