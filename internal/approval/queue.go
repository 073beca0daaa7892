package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Queue is an Approver backed by a pending-prompt registry. Prompts sit
// in the queue until an operator resolves them over the HTTP console;
// the optional notify hook lets the server push new prompts to
// connected clients.
type Queue struct {
	mu      sync.Mutex
	pending map[string]chan Decision
	prompts map[string]Prompt

	notify func(Prompt)
}

// NewQueue creates an empty approval queue. notify may be nil.
func NewQueue(notify func(Prompt)) *Queue {
	return &Queue{
		pending: make(map[string]chan Decision),
		prompts: make(map[string]Prompt),
		notify:  notify,
	}
}

// Present registers the prompt and blocks until Resolve is called for
// its ID or ctx is done. A cancelled context denies: an unattended
// prompt is never an approval.
func (q *Queue) Present(ctx context.Context, prompt Prompt) (Decision, error) {
	ch := make(chan Decision, 1)

	q.mu.Lock()
	q.pending[prompt.ID] = ch
	q.prompts[prompt.ID] = prompt
	q.mu.Unlock()

	if q.notify != nil {
		q.notify(prompt)
	}

	defer func() {
		q.mu.Lock()
		if q.pending[prompt.ID] == ch {
			delete(q.pending, prompt.ID)
			delete(q.prompts, prompt.ID)
		}
		q.mu.Unlock()
	}()

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		slog.Warn("Approval prompt abandoned, denying", "promptId", prompt.ID, "reason", ctx.Err())
		return Deny, nil
	}
}

// Resolve delivers the operator's decision for a pending prompt.
func (q *Queue) Resolve(id string, decision Decision) error {
	q.mu.Lock()
	ch, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
		delete(q.prompts, id)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending approval %q", id)
	}
	ch <- decision
	return nil
}

// List returns the pending prompts, oldest first.
func (q *Queue) List() []Prompt {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Prompt, 0, len(q.prompts))
	for _, p := range q.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}
