package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/internal/config"
	"github.com/kapu/iris-dispatch-go/internal/dispatch"
	"github.com/kapu/iris-dispatch-go/internal/domain"
	"github.com/kapu/iris-dispatch-go/internal/iris"
	"github.com/kapu/iris-dispatch-go/internal/service/cache"
	"github.com/kapu/iris-dispatch-go/internal/service/database"
)

type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger
	Client *iris.Client
	Socket *iris.WebSocket
	Engine *dispatch.Engine
	Cache  *cache.Service            // optional
	Audit  *database.AuditRepository // optional
}

// Bot wires the Iris event source to the dispatch engine. This is the
// auto-dispatch path: dispatch failures are reported and swallowed, they
// never reach the event source.
type Bot struct {
	deps        *Dependencies
	unsubscribe func()
}

func NewBot(deps *Dependencies) (*Bot, error) {
	if deps == nil || deps.Config == nil || deps.Logger == nil {
		return nil, fmt.Errorf("bot dependencies not initialized")
	}
	if deps.Client == nil || deps.Socket == nil || deps.Engine == nil {
		return nil, fmt.Errorf("bot requires iris client, socket and engine")
	}
	return &Bot{deps: deps}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	if err := b.deps.Engine.Load(ctx); err != nil {
		return fmt.Errorf("initial command table load failed: %w", err)
	}

	if b.deps.Audit != nil {
		if err := b.deps.Audit.EnsureSchema(ctx); err != nil {
			b.deps.Logger.Warn("Audit schema setup failed", zap.Error(err))
		}
	}

	b.unsubscribe = b.deps.Socket.OnMessage(func(m *iris.Message) {
		go b.handle(ctx, m)
	})

	return b.deps.Socket.Connect(ctx)
}

func (b *Bot) handle(ctx context.Context, m *iris.Message) {
	if m == nil || strings.TrimSpace(m.Msg) == "" {
		return
	}

	rooms := b.deps.Config.Bot.Rooms
	if len(rooms) > 0 && !slices.Contains(rooms, m.Room) {
		return
	}

	msg := b.toDomain(m)
	start := time.Now()

	res, err := b.deps.Engine.Dispatch(ctx, msg)
	elapsed := time.Since(start)
	if err != nil {
		b.deps.Logger.Error("Dispatch failed",
			zap.String("room", msg.Room),
			zap.String("sender", msg.Sender),
			zap.Error(err),
		)
	}
	if res == nil {
		return
	}

	b.deps.Logger.Debug("Dispatch finished",
		zap.String("room", msg.Room),
		zap.String("command", res.Command),
		zap.String("outcome", res.Code.String()),
		zap.Duration("elapsed", elapsed),
	)

	if res.Code == dispatch.Invoked && b.deps.Cache != nil {
		// Counted per handler, matching what the usage command looks up.
		handler, _, _ := strings.Cut(res.Command, ".")
		if _, cerr := b.deps.Cache.CountUsage(ctx, handler); cerr != nil {
			b.deps.Logger.Debug("Usage count failed", zap.Error(cerr))
		}
	}
	if b.deps.Audit != nil {
		_ = b.deps.Audit.Record(ctx, msg, res, elapsed)
	}
}

func (b *Bot) toDomain(m *iris.Message) *domain.Message {
	sender := ""
	if m.Sender != nil {
		sender = *m.Sender
	}

	msg := domain.NewMessage(m.Room, m.Room, sender, m.Msg, b.isGroupRoom(m.Room))
	if m.JSON != nil {
		msg.SenderID = m.JSON.UserID
	}
	admins := b.deps.Config.Bot.Admins
	if slices.Contains(admins, sender) || (msg.SenderID != "" && slices.Contains(admins, msg.SenderID)) {
		msg.Role = domain.RoleAdmin
	}
	return msg
}

// isGroupRoom treats every configured room as a group chat; direct chats
// arrive under the sender's own room key.
func (b *Bot) isGroupRoom(room string) bool {
	return slices.Contains(b.deps.Config.Bot.Rooms, room)
}

func (b *Bot) Shutdown(ctx context.Context) error {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}

	err := b.deps.Socket.Disconnect()
	b.deps.Engine.Shutdown()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return err
}
