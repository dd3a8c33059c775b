package command

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/internal/dispatch"
	"github.com/kapu/iris-dispatch-go/internal/domain"
)

type adminHandler struct {
	logger *zap.Logger
}

// Reload builds and swaps in a fresh command table. A failed reload keeps
// the current table serving.
func (h *adminHandler) Reload(ctx context.Context, msg *domain.Message, engine *dispatch.Engine) ([]string, error) {
	h.logger.Info("Reload requested",
		zap.String("room", msg.Room),
		zap.String("sender", msg.Sender),
	)
	if err := engine.Load(ctx); err != nil {
		return []string{"리로드에 실패했습니다. 기존 명령어 테이블을 유지합니다."}, nil
	}
	return []string{fmt.Sprintf("명령어 테이블을 다시 불러왔습니다. (%d개)", len(engine.Definitions()))}, nil
}

// Shutdown replies first and then delivers SIGTERM to the process, so
// the entrypoint's signal handler drives the usual graceful teardown.
// Calling engine.Shutdown here would cancel this very dispatch before
// the confirmation could be sent.
func (h *adminHandler) Shutdown(_ context.Context, msg *domain.Message) ([]string, error) {
	h.logger.Info("Shutdown requested",
		zap.String("room", msg.Room),
		zap.String("sender", msg.Sender),
	)
	time.AfterFunc(200*time.Millisecond, func() {
		_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
	})
	return []string{"봇을 종료합니다."}, nil
}
