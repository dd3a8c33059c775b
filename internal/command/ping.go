package command

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kapu/iris-dispatch-go/internal/domain"
)

// pingHandler is persistent: its counter is shared mutable state across
// every dispatch that routes to it for the table generation's lifetime.
type pingHandler struct {
	count atomic.Int64
}

func (h *pingHandler) Ping(_ context.Context, _ *domain.Message) ([]string, error) {
	n := h.count.Add(1)
	return []string{fmt.Sprintf("퐁! (%d)", n)}, nil
}
