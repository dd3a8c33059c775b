package command

import (
	"context"
	"fmt"

	"github.com/kapu/iris-dispatch-go/internal/domain"
	"github.com/kapu/iris-dispatch-go/internal/service/cache"
)

type usageHandler struct{}

func (h *usageHandler) Usage(ctx context.Context, _ *domain.Message, command string, svc *cache.Service) ([]string, error) {
	if svc == nil {
		return []string{"사용량 집계가 비활성화되어 있습니다."}, nil
	}
	if command == "" {
		command = "ping"
	}
	total, err := svc.Usage(ctx, command)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("'%s' 명령어 사용 횟수: %d회", command, total)}, nil
}
