package dispatch

import (
	"context"
	"slices"

	"github.com/kapu/iris-dispatch-go/internal/domain"
)

// RequireGroupChat passes only for events that originated in a
// multi-party room.
func RequireGroupChat(failMessage string) Requirement {
	return Requirement{
		Check: func(_ context.Context, msg *domain.Message, _ *Services) (bool, error) {
			return msg.IsGroupChat, nil
		},
		FailMessage: failMessage,
	}
}

// RequireAdmin passes when the sender carries the admin role or appears
// in the allow-list.
func RequireAdmin(allowed []string, failMessage string) Requirement {
	return Requirement{
		Check: func(_ context.Context, msg *domain.Message, _ *Services) (bool, error) {
			if msg.Role == domain.RoleAdmin {
				return true, nil
			}
			return slices.Contains(allowed, msg.Sender) || slices.Contains(allowed, msg.SenderID), nil
		},
		FailMessage: failMessage,
	}
}
