package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/kapu/iris-dispatch-go/internal/domain"
)

// sayHandler is transient: a fresh instance per dispatch, disposed right
// after.
type sayHandler struct {
	closed bool
}

func (h *sayHandler) Say(_ context.Context, msg *domain.Message, first string, rest []string) ([]string, error) {
	if h.closed {
		return nil, fmt.Errorf("say handler used after disposal")
	}
	reply := first
	if len(rest) > 1 {
		reply = strings.Join(rest, " ")
	}
	return []string{fmt.Sprintf("%s님의 말: %s", msg.Sender, reply)}, nil
}

func (h *sayHandler) Close() error {
	h.closed = true
	return nil
}
