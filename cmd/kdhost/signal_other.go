//go:build !unix

package main

import "context"

// watchBreakin is a no-op without SIGUSR1; use POST /breakin instead.
func watchBreakin(ctx context.Context, breakin func()) {}
