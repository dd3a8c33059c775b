package command

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/kapu/iris-dispatch-go/internal/domain"
)

type rollHandler struct{}

func (h *rollHandler) Roll(_ context.Context, _ *domain.Message, sides int) ([]string, error) {
	if sides < 2 {
		sides = 2
	}
	if sides > 1000 {
		sides = 1000
	}
	return []string{fmt.Sprintf("🎲 %d (1-%d)", rand.IntN(sides)+1, sides)}, nil
}
