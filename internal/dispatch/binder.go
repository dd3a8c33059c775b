package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/kapu/iris-dispatch-go/internal/domain"
	"github.com/kapu/iris-dispatch-go/pkg/errors"
)

// Converter turns one captured token into a typed parameter value.
type Converter func(token string) (any, error)

func defaultConverters() map[reflect.Type]Converter {
	return map[reflect.Type]Converter{
		typeOf[string](): func(token string) (any, error) {
			return token, nil
		},
		typeOf[int](): func(token string) (any, error) {
			return strconv.Atoi(token)
		},
		typeOf[int64](): func(token string) (any, error) {
			return strconv.ParseInt(token, 10, 64)
		},
		typeOf[float64](): func(token string) (any, error) {
			return strconv.ParseFloat(token, 64)
		},
		typeOf[bool](): func(token string) (any, error) {
			return strconv.ParseBool(token)
		},
		typeOf[time.Duration](): func(token string) (any, error) {
			return time.ParseDuration(token)
		},
	}
}

type binder struct {
	converters map[reflect.Type]Converter
	services   *Services
}

// bind turns captured tokens plus injectable services into the handler's
// argument list. A *errors.BindingError carries the user-visible message;
// its Message is all that may be surfaced to the remote party.
func (b *binder) bind(ctx context.Context, def *Definition, msg *domain.Message, tokens []string) ([]any, error) {
	args := make([]any, 0, len(def.Params))
	pos := 0
	_, patternTrigger := def.Trigger.(Pattern)

	for _, spec := range def.Params {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch spec.Kind {
		case ParamContext:
			args = append(args, msg)

		case ParamPositional:
			token, ok := "", false
			if pos < len(tokens) {
				token, ok = tokens[pos], true
				pos++
			}
			// An unmatched optional pattern group captures "" and counts
			// as absent. A literal token explicitly passed as "" binds.
			if ok && token == "" && spec.HasDefault && patternTrigger {
				ok = false
			}
			if !ok {
				if spec.HasDefault {
					args = append(args, spec.Default)
					continue
				}
				msgText := spec.MissingMessage
				if msgText == "" {
					msgText = fmt.Sprintf("missing required argument: %s", spec.Name)
				}
				return nil, errors.NewBindingError(msgText, spec.Name)
			}
			value, err := b.convert(spec, token)
			if err != nil {
				return nil, err
			}
			args = append(args, value)

		case ParamCatchAll:
			// The catch-all sees every token left after the trigger
			// phrase, including ones already bound positionally.
			rest := make([]string, len(tokens))
			copy(rest, tokens)
			args = append(args, rest)

		case ParamService:
			value, ok := b.services.Lookup(spec.Type)
			if !ok {
				if spec.HasDefault {
					args = append(args, spec.Default)
					continue
				}
				return nil, errors.NewBindingError(
					fmt.Sprintf("no service registered for %s", spec.Type), spec.Name)
			}
			args = append(args, value)
		}
	}

	return args, nil
}

func (b *binder) convert(spec ParamSpec, token string) (any, error) {
	conv, ok := b.converters[spec.Type]
	if !ok {
		return nil, errors.NewBindingError(
			fmt.Sprintf("no converter registered for %s", spec.Type), spec.Name)
	}
	value, err := conv(token)
	if err != nil {
		msgText := spec.ConvertMessage
		if msgText == "" {
			msgText = fmt.Sprintf("invalid value %q for %s", token, spec.Name)
		}
		berr := errors.NewBindingError(msgText, spec.Name)
		berr.Cause = err
		return nil, berr
	}
	return value, nil
}
