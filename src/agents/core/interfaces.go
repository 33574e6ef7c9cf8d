package core

import "context"

// Lifecycle is a background module owned by the Manager.
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}
