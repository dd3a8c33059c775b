package command

import (
	"context"
	"time"

	"github.com/kapu/iris-dispatch-go/internal/dispatch"
	"github.com/kapu/iris-dispatch-go/internal/domain"
	"github.com/kapu/iris-dispatch-go/internal/service/cache"
)

// Declarations is the production declaration source: every built-in
// command variant, in the order the dispatcher should discover them.
// Aliases are separate definitions pointing at the same method.
func Declarations(deps *Dependencies) dispatch.Source {
	return dispatch.SourceFunc(func() ([]*dispatch.Definition, error) {
		cfg := deps.Config

		cooldown := time.Duration(cfg.Bot.CooldownSeconds) * time.Second
		adminOnly := dispatch.RequireAdmin(cfg.Bot.Admins, "이 명령어를 사용할 권한이 없습니다.")

		var defs []*dispatch.Definition

		helpDef := func(phrase string) *dispatch.Definition {
			return &dispatch.Definition{
				Handler:  "help",
				Method:   "Help",
				Trigger:  dispatch.Literal{Phrase: phrase},
				Lifetime: dispatch.Persistent,
				Eager:    true,
				Params: []dispatch.ParamSpec{
					dispatch.Context(),
					dispatch.Service[*dispatch.Engine](),
				},
				New: func(context.Context, *dispatch.Services) (any, error) {
					return &helpHandler{prefix: cfg.Bot.Prefix}, nil
				},
				Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
					return h.(*helpHandler).Help(ctx, args[0].(*domain.Message), args[1].(*dispatch.Engine))
				},
			}
		}
		defs = append(defs, helpDef("help"), helpDef("도움말"), helpDef("commands"))

		pingDef := &dispatch.Definition{
			Handler:  "ping",
			Method:   "Ping",
			Trigger:  dispatch.Literal{Phrase: "ping"},
			Lifetime: dispatch.Persistent,
			Params: []dispatch.ParamSpec{
				dispatch.Context(),
			},
			New: func(context.Context, *dispatch.Services) (any, error) {
				return &pingHandler{}, nil
			},
			Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
				return h.(*pingHandler).Ping(ctx, args[0].(*domain.Message))
			},
		}
		defs = append(defs, pingDef)

		sayDef := &dispatch.Definition{
			Handler:  "say",
			Method:   "Say",
			Trigger:  dispatch.Literal{Phrase: "say"},
			Lifetime: dispatch.Transient,
			Params: []dispatch.ParamSpec{
				dispatch.Context(),
				dispatch.Positional[string]("first").
					WithMissingMessage("따라 말할 문구를 입력해 주세요."),
				dispatch.CatchAll("rest"),
			},
			New: func(context.Context, *dispatch.Services) (any, error) {
				return &sayHandler{}, nil
			},
			Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
				return h.(*sayHandler).Say(ctx, args[0].(*domain.Message), args[1].(string), args[2].([]string))
			},
		}
		defs = append(defs, sayDef)

		rollDef := func(expr string) *dispatch.Definition {
			return &dispatch.Definition{
				Handler:  "roll",
				Method:   "Roll",
				Trigger:  dispatch.MustPattern(expr),
				Lifetime: dispatch.Transient,
				Requirements: []dispatch.Requirement{
					cooldownRequirement(deps.Cache, "roll", cooldown, "잠시 후 다시 시도해 주세요."),
				},
				Params: []dispatch.ParamSpec{
					dispatch.Context(),
					dispatch.Optional[int]("sides", 6).
						WithConvertMessage("면수는 숫자로 입력해 주세요."),
				},
				New: func(context.Context, *dispatch.Services) (any, error) {
					return &rollHandler{}, nil
				},
				Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
					return h.(*rollHandler).Roll(ctx, args[0].(*domain.Message), args[1].(int))
				},
			}
		}
		defs = append(defs, rollDef(`roll(?:\s+(\d+))?`), rollDef(`주사위(?:\s+(\d+))?`))

		usageDef := &dispatch.Definition{
			Handler:  "usage",
			Method:   "Usage",
			Trigger:  dispatch.Literal{Phrase: "usage"},
			Lifetime: dispatch.Persistent,
			Params: []dispatch.ParamSpec{
				dispatch.Context(),
				dispatch.Optional[string]("command", ""),
				dispatch.OptionalService[*cache.Service](nil),
			},
			New: func(context.Context, *dispatch.Services) (any, error) {
				return &usageHandler{}, nil
			},
			Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
				return h.(*usageHandler).Usage(ctx, args[0].(*domain.Message), args[1].(string), args[2].(*cache.Service))
			},
		}
		defs = append(defs, usageDef)

		reloadDef := &dispatch.Definition{
			Handler:      "admin",
			Method:       "Reload",
			Trigger:      dispatch.Literal{Phrase: "reload"},
			Priority:     10,
			Lifetime:     dispatch.Transient,
			Requirements: []dispatch.Requirement{adminOnly},
			Params: []dispatch.ParamSpec{
				dispatch.Context(),
				dispatch.Service[*dispatch.Engine](),
			},
			New: func(context.Context, *dispatch.Services) (any, error) {
				return &adminHandler{logger: deps.Logger}, nil
			},
			Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
				return h.(*adminHandler).Reload(ctx, args[0].(*domain.Message), args[1].(*dispatch.Engine))
			},
		}
		defs = append(defs, reloadDef)

		shutdownDef := &dispatch.Definition{
			Handler:      "admin",
			Method:       "Shutdown",
			Trigger:      dispatch.Literal{Phrase: "shutdown"},
			Priority:     10,
			Lifetime:     dispatch.Transient,
			Requirements: []dispatch.Requirement{adminOnly},
			Params: []dispatch.ParamSpec{
				dispatch.Context(),
			},
			New: func(context.Context, *dispatch.Services) (any, error) {
				return &adminHandler{logger: deps.Logger}, nil
			},
			Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
				return h.(*adminHandler).Shutdown(ctx, args[0].(*domain.Message))
			},
		}
		defs = append(defs, shutdownDef)

		return defs, nil
	})
}
