package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/kapu/iris-dispatch-go/internal/dispatch"
	"github.com/kapu/iris-dispatch-go/internal/domain"
)

type helpHandler struct {
	prefix string
}

func (h *helpHandler) Help(_ context.Context, _ *domain.Message, engine *dispatch.Engine) ([]string, error) {
	p := h.prefix

	var b strings.Builder
	b.WriteString("📋 명령어 안내\n\n")
	fmt.Fprintf(&b, "%shelp - 이 도움말\n", p)
	fmt.Fprintf(&b, "%sping - 응답 확인\n", p)
	fmt.Fprintf(&b, "%ssay <문구> [나머지...] - 따라 말하기\n", p)
	fmt.Fprintf(&b, "%sroll [면수] - 주사위 굴리기\n", p)
	fmt.Fprintf(&b, "%susage [명령어] - 사용 횟수 조회\n", p)
	fmt.Fprintf(&b, "%sreload - 명령어 테이블 다시 불러오기 (관리자)\n", p)
	fmt.Fprintf(&b, "%sshutdown - 봇 종료 (관리자)\n", p)
	fmt.Fprintf(&b, "\n등록된 명령어 변형: %d개", len(engine.Definitions()))

	return []string{b.String()}, nil
}
