package out

import (
	"context"

	"mailvault/core/domain"
)

// LoginAutomation drives the external credential-capture flow: it exchanges
// an alias's credentials for an authorization code and the initial token
// triple. The browser driver itself lives outside this process.
type LoginAutomation interface {
	Acquire(ctx context.Context, email, password string) (*domain.TokenTriple, error)
}
