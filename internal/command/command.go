package command

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/internal/config"
	"github.com/kapu/iris-dispatch-go/internal/dispatch"
	"github.com/kapu/iris-dispatch-go/internal/domain"
	"github.com/kapu/iris-dispatch-go/internal/service/cache"
)

// Dependencies carries everything the built-in handlers need. Cache may
// be nil when redis is disabled; handlers degrade instead of failing.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger
	Cache  *cache.Service
}

// cooldownRequirement limits one sender to one invocation per window.
// Silent when message is empty.
func cooldownRequirement(svc *cache.Service, command string, window time.Duration, message string) dispatch.Requirement {
	return dispatch.Requirement{
		Check: func(ctx context.Context, msg *domain.Message, _ *dispatch.Services) (bool, error) {
			if svc == nil || window <= 0 {
				return true, nil
			}
			return svc.AllowOnce(ctx, msg.Sender, command, window)
		},
		FailMessage: message,
	}
}
