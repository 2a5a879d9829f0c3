// ABOUTME: Pending-request table correlating response envelopes with waiting callers
// ABOUTME: Each entry resolves exactly once: by its response, by cancellation or by fan-out failure

package gateway

import (
	"encoding/json"
	"fmt"
)

// reply is what a waiting caller receives
type reply struct {
	result json.RawMessage
	err    error
}

// register adds a pending entry for id. It fails fast once the channel has failed.
func (g *Gateway) register(id string) (<-chan reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failed != nil {
		return nil, g.failed
	}
	if _, dup := g.pending[id]; dup {
		return nil, fmt.Errorf("duplicate request id %s", id)
	}
	// Buffered so resolving never blocks on a caller that has gone away
	ch := make(chan reply, 1)
	g.pending[id] = ch
	return ch, nil
}

// unregister drops a pending entry without resolving it
func (g *Gateway) unregister(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, id)
}

// take removes and returns the entry for id
func (g *Gateway) take(id string) (chan reply, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.pending[id]
	if ok {
		delete(g.pending, id)
	}
	return ch, ok
}

// handleResponse routes an encoded response envelope to its waiter.
// Responses for unknown ids are logged and discarded.
func (g *Gateway) handleResponse(raw []byte) error {
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("undecodable response envelope: %w", err)
	}

	ch, ok := g.take(resp.ID)
	if !ok {
		g.logger.Warn("received response for unknown request", "request_id", resp.ID)
		return nil
	}

	ch <- reply{result: resp.Result, err: resp.Error.Err()}
	return nil
}

// failAll marks the channel as failed and rejects every pending call.
// Only the first cause is kept.
func (g *Gateway) failAll(cause error) {
	g.mu.Lock()
	if g.failed != nil {
		g.mu.Unlock()
		return
	}
	g.failed = fmt.Errorf("%w: %v", ErrChannelFailed, cause)
	waiters := g.pending
	g.pending = make(map[string]chan reply)
	failed := g.failed
	g.mu.Unlock()

	if len(waiters) > 0 {
		g.logger.Error("isolation channel failed, rejecting pending calls", "pending", len(waiters), "error", cause)
	}
	for _, ch := range waiters {
		ch <- reply{err: failed}
	}
}

// pendingCount reports the number of outstanding calls
func (g *Gateway) pendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
