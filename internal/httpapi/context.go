package httpapi

import "context"

// serverBaseCtx ends when `chatmate serve` begins shutting down. Handlers that
// wait on the chat coordinator (submit, stop, clear, load) and the /events
// stream watch it alongside the request context.
var serverBaseCtx = context.Background()

// SetBaseContext installs the shutdown context. nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a handler context that ends with either the shutdown
// context or the request. Callers must call the cancel func; it also stops
// the watcher goroutine.
func joinContexts(shutdown, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(req)
	go func() {
		select {
		case <-shutdown.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
