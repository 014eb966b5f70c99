// Package dispatch fans planned tool calls out to the remote tool client.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vnstockai/chat-gateway/internal/mcp"
)

// ToolInvoker invokes a single remote tool call
type ToolInvoker interface {
	CallTool(ctx context.Context, req mcp.ToolCallRequest) mcp.ToolCallResult
}

// Dispatcher runs batches of tool calls through a fixed-size worker pool.
// One slow or failing call never blocks or aborts its siblings.
type Dispatcher struct {
	invoker ToolInvoker
	workers int
	logger  zerolog.Logger
}

// New creates a dispatcher with the given pool size (minimum 1)
func New(invoker ToolInvoker, workers int, logger zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		invoker: invoker,
		workers: workers,
		logger:  logger,
	}
}

type job struct {
	index int
	req   mcp.ToolCallRequest
}

// DispatchAll invokes every request, concurrently up to the pool size, and
// returns exactly one result per request in request order. When ctx expires
// while calls are outstanding, the finished results are kept and the rest are
// marked as timed-out failures; DispatchAll never returns later than shortly
// after the deadline.
func (d *Dispatcher) DispatchAll(ctx context.Context, requests []mcp.ToolCallRequest) []mcp.ToolCallResult {
	if len(requests) == 0 {
		return nil
	}

	results := make([]mcp.ToolCallResult, len(requests))
	var resultsMu sync.Mutex
	done := make(map[int]bool, len(requests))

	jobs := make(chan job)
	var wg sync.WaitGroup

	workers := d.workers
	if workers > len(requests) {
		workers = len(requests)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := d.invoker.CallTool(ctx, j.req)
				resultsMu.Lock()
				results[j.index] = res
				done[j.index] = true
				resultsMu.Unlock()
			}
		}()
	}

	// Feed jobs; stop feeding once the deadline passed so queued requests are
	// marked instead of issued pointlessly.
feed:
	for i, req := range requests {
		select {
		case jobs <- job{index: i, req: req}:
		case <-ctx.Done():
			d.logger.Warn().Int("queued", len(requests)-i).Msg("deadline elapsed before all tool calls were issued")
			break feed
		}
	}
	close(jobs)

	// Workers unblock promptly after the deadline because CallTool honors ctx,
	// so this wait is bounded by it too.
	wg.Wait()

	resultsMu.Lock()
	defer resultsMu.Unlock()
	for i, req := range requests {
		if !done[i] {
			results[i] = mcp.Failure(req, mcp.ErrKindTimeout,
				fmt.Sprintf("tool call %q not completed before deadline", req.Name))
		}
	}

	return results
}
