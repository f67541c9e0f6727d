package types

import "context"

// Priority orders block ranges during an activity search.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// BlockRange is an inclusive [Start, End] window generated for one search.
type BlockRange struct {
	Name        string   `json:"name"`
	Start       uint64   `json:"start"`
	End         uint64   `json:"end"`
	Priority    Priority `json:"priority"`
	TotalBlocks uint64   `json:"totalBlocks"`
}

// Progress is published while a fetch is running.
type Progress struct {
	RequestID string  `json:"requestId,omitempty"`
	Chain     string  `json:"chain"`
	Contract  string  `json:"contract"`
	Step      string  `json:"step"`
	Percent   float64 `json:"percent"`
	Message   string  `json:"message"`
}

// Publisher receives progress updates. Implementations must not block.
type Publisher interface {
	Publish(p Progress)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(p Progress)

// Publish calls f(p).
func (f PublisherFunc) Publish(p Progress) { f(p) }

type requestIDKey struct{}

// ContextWithRequestID tags ctx with the id of the fetch session it belongs to.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the session id set by ContextWithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
