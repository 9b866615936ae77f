// backend/backend.go
/* Package backend defines the single contract the scheduler consumes: invoking the
external service once and classifying the result into an outcome. Retry and concurrency
control never live in an implementation of this contract. */
package backend

import (
	"context"

	"github.com/deploymenttheory/go-api-admission-scheduler/outcome"
)

// Client invokes the external backend once. Implementations must respect ctx
// cancellation and map over-capacity responses to Throttled, network and 5xx failures to
// TransientError and validation or permanent failures to FatalError.
type Client interface {
	Invoke(ctx context.Context, payload any) outcome.Outcome
}

// ClientFunc adapts an ordinary function to the Client interface.
type ClientFunc func(ctx context.Context, payload any) outcome.Outcome

// Invoke calls f(ctx, payload).
func (f ClientFunc) Invoke(ctx context.Context, payload any) outcome.Outcome {
	return f(ctx, payload)
}
