package llm

import (
	"context"
	"errors"

	"github.com/PipeOpsHQ/coachflow/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

type Capabilities struct {
	Streaming        bool
	StructuredOutput bool
}

// Provider is the model invoker. Implementations perform no retries.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, req types.Request) (types.Response, error)
}
