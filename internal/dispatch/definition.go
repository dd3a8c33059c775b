package dispatch

import (
	"context"
	"fmt"
	"reflect"
	"regexp"

	"github.com/kapu/iris-dispatch-go/internal/domain"
)

type PrefixMode int

const (
	// PrefixDefault inherits the table-level prefix requirement.
	PrefixDefault PrefixMode = iota
	PrefixAlways
	PrefixGroupOnly
	PrefixNever
)

func (m PrefixMode) String() string {
	switch m {
	case PrefixAlways:
		return "always"
	case PrefixGroupOnly:
		return "group"
	case PrefixNever:
		return "never"
	default:
		return "default"
	}
}

type Lifetime int

const (
	// Persistent handlers are constructed once per table generation and
	// shared by every dispatch that routes to them.
	Persistent Lifetime = iota
	// Transient handlers are constructed per dispatch and disposed right
	// after the invocation, whatever its outcome.
	Transient
)

// Trigger is either a literal phrase or a whole-text pattern.
type Trigger interface {
	key() string
}

// Literal matches a tokenized phrase at the head of the message.
// CaseSensitive, when set, overrides the table-level option.
type Literal struct {
	Phrase        string
	CaseSensitive *bool
}

func (l Literal) key() string { return "literal:" + l.Phrase }

// Pattern matches the full text after prefix stripping. Use NewPattern or
// MustPattern so the expression is anchored to the whole text.
type Pattern struct {
	Expr *regexp.Regexp
}

func (p Pattern) key() string { return "pattern:" + p.Expr.String() }

// NewPattern compiles expr anchored to the whole remaining text.
func NewPattern(expr string) (Pattern, error) {
	re, err := regexp.Compile(`\A(?:` + expr + `)\z`)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return Pattern{Expr: re}, nil
}

func MustPattern(expr string) Pattern {
	p, err := NewPattern(expr)
	if err != nil {
		panic(err)
	}
	return p
}

type ParamKind int

const (
	ParamContext ParamKind = iota
	ParamPositional
	ParamCatchAll
	ParamService
)

// ParamSpec describes one handler parameter in declaration order.
type ParamSpec struct {
	Kind           ParamKind
	Name           string
	Type           reflect.Type
	Default        any
	HasDefault     bool
	MissingMessage string
	ConvertMessage string
}

// Context yields the inbound message itself.
func Context() ParamSpec {
	return ParamSpec{Kind: ParamContext, Name: "context", Type: reflect.TypeOf((*domain.Message)(nil))}
}

// Positional binds the next captured token, converted to T.
func Positional[T any](name string) ParamSpec {
	return ParamSpec{Kind: ParamPositional, Name: name, Type: typeOf[T]()}
}

// Optional binds like Positional but falls back to def when no token is left.
func Optional[T any](name string, def T) ParamSpec {
	return ParamSpec{Kind: ParamPositional, Name: name, Type: typeOf[T](), Default: def, HasDefault: true}
}

// CatchAll absorbs every token left after the trigger phrase, possibly none.
// Literal triggers only, and only in the last position.
func CatchAll(name string) ParamSpec {
	return ParamSpec{Kind: ParamCatchAll, Name: name, Type: reflect.TypeOf([]string(nil))}
}

// Service resolves a value of type T from the service registry.
func Service[T any]() ParamSpec {
	return ParamSpec{Kind: ParamService, Name: "service", Type: typeOf[T]()}
}

// OptionalService resolves T, falling back to def when unregistered.
func OptionalService[T any](def T) ParamSpec {
	return ParamSpec{Kind: ParamService, Name: "service", Type: typeOf[T](), Default: def, HasDefault: true}
}

func (p ParamSpec) WithMissingMessage(msg string) ParamSpec {
	p.MissingMessage = msg
	return p
}

func (p ParamSpec) WithConvertMessage(msg string) ParamSpec {
	p.ConvertMessage = msg
	return p
}

// Factory constructs a handler instance. Construction may resolve
// dependencies from the service registry and may block on ctx.
type Factory func(ctx context.Context, services *Services) (any, error)

// Invoker calls one handler method with bound arguments and returns the
// reply payloads.
type Invoker func(ctx context.Context, handler any, args []any) ([]string, error)

// Requirement is one access check. All requirements of a definition must
// pass, in order, before the handler runs. An empty FailMessage makes the
// failure silent, as if the command did not exist.
type Requirement struct {
	Check       func(ctx context.Context, msg *domain.Message, services *Services) (bool, error)
	FailMessage string
}

// Definition is the immutable description of one invocable command
// variant. Aliases are separate definitions sharing Handler and Method.
type Definition struct {
	Handler      string
	Method       string
	Trigger      Trigger
	Priority     int
	Prefix       PrefixMode
	Requirements []Requirement
	Params       []ParamSpec
	Lifetime     Lifetime
	Eager        bool
	New          Factory
	Invoke       Invoker

	// order is the discovery position assigned by the Loader; it breaks
	// priority ties.
	order int
}

// Name identifies the definition in logs and audit records.
func (d *Definition) Name() string {
	return d.Handler + "." + d.Method
}

// dupKey collapses duplicate declarations: same handler, method and
// trigger content mean the same definition.
func (d *Definition) dupKey() string {
	return d.Handler + "." + d.Method + "|" + d.Trigger.key()
}

// positionalCapacity reports how many positional tokens the definition can
// consume and whether a catch-all absorbs the overflow.
func (d *Definition) positionalCapacity() (capacity int, catchAll bool) {
	for _, p := range d.Params {
		switch p.Kind {
		case ParamPositional:
			capacity++
		case ParamCatchAll:
			catchAll = true
		}
	}
	return capacity, catchAll
}

func (d *Definition) requiredPositionals() int {
	required := 0
	for _, p := range d.Params {
		if p.Kind == ParamPositional && !p.HasDefault {
			required++
		}
	}
	return required
}

func (d *Definition) validate() error {
	if d.Handler == "" || d.Method == "" {
		return fmt.Errorf("definition must name its handler and method")
	}
	if d.Trigger == nil {
		return fmt.Errorf("definition %s has no trigger", d.Name())
	}
	if d.New == nil || d.Invoke == nil {
		return fmt.Errorf("definition %s has no factory or invoker", d.Name())
	}
	if p, ok := d.Trigger.(Pattern); ok && p.Expr == nil {
		return fmt.Errorf("definition %s has a nil pattern", d.Name())
	}
	for i, p := range d.Params {
		if p.Kind != ParamCatchAll {
			continue
		}
		if i != len(d.Params)-1 {
			return fmt.Errorf("definition %s: catch-all must be the last parameter", d.Name())
		}
		if _, ok := d.Trigger.(Pattern); ok {
			return fmt.Errorf("definition %s: catch-all is not supported with pattern triggers", d.Name())
		}
	}
	return nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
