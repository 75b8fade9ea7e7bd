package core

import "context"

// Server is an optional outer surface run next to the scheduler.
type Server interface {
	Run() error
	Shutdown(ctx context.Context) error
}
