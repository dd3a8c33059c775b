package dispatch

import (
	"context"
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/internal/domain"
	"github.com/kapu/iris-dispatch-go/pkg/errors"
)

// ReplySink delivers the joined reply payloads of one dispatch. Invoked
// at most once per dispatch.
type ReplySink interface {
	SendMessage(ctx context.Context, room, message string) error
}

type ResultCode int

const (
	Invoked ResultCode = iota
	NoMatch
	RequirementFailed
	BindingFailed
	Faulted
	Cancelled
)

func (c ResultCode) String() string {
	switch c {
	case Invoked:
		return "invoked"
	case NoMatch:
		return "no_match"
	case RequirementFailed:
		return "requirement_failed"
	case BindingFailed:
		return "binding_failed"
	case Faulted:
		return "faulted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the outcome of one dispatch. Command names the definition
// that committed the dispatch, empty when nothing matched.
type Result struct {
	Code    ResultCode
	Command string
	Replies []string
	Err     error
}

// Engine routes inbound messages through the command table. Many
// dispatches run concurrently; Load serializes against them only for the
// instant the table pointer is read, so a slow command never blocks a
// reload or other dispatches.
type Engine struct {
	mu       sync.Mutex
	table    *Table
	started  bool
	gen      uint64
	lifetime context.Context
	cancel   context.CancelFunc

	opts       Options
	loader     *Loader
	services   *Services
	converters map[reflect.Type]Converter
	sink       ReplySink
	logger     *zap.Logger
}

func NewEngine(opts Options, loader *Loader, services *Services, sink ReplySink, logger *zap.Logger) *Engine {
	if services == nil {
		services = NewServices()
	}
	return &Engine{
		opts:       opts,
		loader:     loader,
		services:   services,
		converters: defaultConverters(),
		sink:       sink,
		logger:     logger,
	}
}

// RegisterConverter adds or replaces the converter for one target type.
// The map is replaced wholesale so in-flight dispatches keep reading
// their own snapshot.
func (e *Engine) RegisterConverter(t reflect.Type, conv Converter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make(map[reflect.Type]Converter, len(e.converters)+1)
	for k, v := range e.converters {
		next[k] = v
	}
	next[t] = conv
	e.converters = next
}

func (e *Engine) Services() *Services { return e.services }

// Started reports whether the engine currently holds a live table.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Definitions returns the current table's definitions in dispatch order,
// or nil when the engine is stopped.
func (e *Engine) Definitions() []*Definition {
	e.mu.Lock()
	table := e.table
	e.mu.Unlock()
	if table == nil {
		return nil
	}
	return table.Definitions()
}

// Load builds a brand-new table generation and swaps it in. On the first
// successful call the engine moves to Started; later calls are hot
// reloads. A failed build changes nothing: the previous generation, if
// any, keeps serving. Loads are mutually exclusive.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	table, err := e.loader.build(ctx, e.gen+1, e.services)
	if err != nil {
		e.logger.Error("Command table build failed", zap.Error(err))
		return err
	}

	old := e.table
	e.table = table
	e.gen++
	if !e.started {
		e.lifetime, e.cancel = context.WithCancel(context.Background())
		e.started = true
	}
	if old != nil {
		old.retire()
	}
	return nil
}

// Shutdown cancels every in-flight dispatch, retires the current table
// and moves the engine back to Stopped.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.cancel()
	e.table.retire()
	e.table = nil
	e.started = false
	e.logger.Info("Dispatch engine stopped")
}

// Dispatch routes one message through the current table: first matching
// definition in priority order commits the dispatch. This is the explicit
// entry point; handler faults and resolution failures come back as the
// error alongside the result. The event-driven path wraps this and
// swallows the error after reporting.
func (e *Engine) Dispatch(ctx context.Context, msg *domain.Message) (*Result, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, errors.ErrNotStarted
	}
	table := e.table
	lifetime := e.lifetime
	converters := e.converters
	// Pin the snapshot before releasing the lock, or a concurrent reload
	// could retire this generation in the gap and dispose its handlers
	// under us.
	table.acquire()
	e.mu.Unlock()

	defer table.release()

	// Merge the caller's cancellation with the engine lifetime.
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(lifetime, cancel)
	defer stop()

	for _, def := range table.defs {
		m := match(def, e.opts, msg)
		if !m.ok {
			continue
		}
		// Trigger matched: this definition commits the dispatch. No
		// fallthrough to lower-priority definitions, whatever happens
		// next.
		return e.execute(dctx, table, converters, def, msg, m.tokens)
	}

	return &Result{Code: NoMatch}, nil
}

func (e *Engine) execute(ctx context.Context, table *Table, converters map[reflect.Type]Converter, def *Definition, msg *domain.Message, tokens []string) (*Result, error) {
	if res := cancelled(ctx, def); res != nil {
		return res, nil
	}

	for _, req := range def.Requirements {
		ok, err := req.Check(ctx, msg, e.services)
		if res := cancelled(ctx, def); res != nil {
			return res, nil
		}
		if err != nil {
			e.logger.Warn("Requirement check errored",
				zap.String("command", def.Name()),
				zap.Error(err),
			)
			ok = false
		}
		if !ok {
			res := &Result{Code: RequirementFailed, Command: def.Name()}
			if req.FailMessage != "" {
				res.Replies = []string{req.FailMessage}
				e.send(ctx, msg.Room, res.Replies)
			}
			return res, nil
		}
	}

	b := &binder{converters: converters, services: e.services}
	args, err := b.bind(ctx, def, msg, tokens)
	if err != nil {
		if res := cancelled(ctx, def); res != nil {
			return res, nil
		}
		res := &Result{Code: BindingFailed, Command: def.Name(), Err: err}
		var berr *errors.BindingError
		if stderrors.As(err, &berr) && berr.DispatchError.Message != "" {
			res.Replies = []string{berr.DispatchError.Message}
			e.send(ctx, msg.Room, res.Replies)
		}
		return res, nil
	}

	var inst any
	if def.Lifetime == Persistent {
		inst, err = table.provider.persistent(ctx, def, e.services)
	} else {
		inst, err = table.provider.transient(ctx, def, e.services)
	}
	if err != nil {
		// Resolution failure is a hard abort: reported, no reply.
		e.logger.Error("Handler resolution failed",
			zap.String("command", def.Name()),
			zap.Error(err),
		)
		return &Result{Code: Faulted, Command: def.Name(), Err: err}, err
	}
	if def.Lifetime == Transient {
		defer func() {
			if derr := dispose(inst); derr != nil {
				e.logger.Warn("Transient handler disposal failed",
					zap.String("command", def.Name()),
					zap.Error(derr),
				)
			}
		}()
	}

	var replies []string
	var invokeErr error
	if recovered := panics.Try(func() {
		replies, invokeErr = def.Invoke(ctx, inst, args)
	}); recovered != nil {
		invokeErr = recovered.AsError()
	}

	if invokeErr != nil {
		if res := cancelled(ctx, def); res != nil {
			return res, nil
		}
		herr := errors.NewHandlerError(def.Handler, def.Method, invokeErr)
		e.logger.Error("Command handler failed",
			zap.String("command", def.Name()),
			zap.Error(herr),
		)
		return &Result{Code: Faulted, Command: def.Name(), Err: herr}, herr
	}
	if res := cancelled(ctx, def); res != nil {
		return res, nil
	}

	res := &Result{Code: Invoked, Command: def.Name(), Replies: replies}
	e.send(ctx, msg.Room, replies)
	return res, nil
}

// send forwards reply payloads as one batched message. Errors from the
// sink are reported, never propagated into the dispatch outcome.
func (e *Engine) send(ctx context.Context, room string, replies []string) {
	if e.sink == nil || len(replies) == 0 {
		return
	}
	if err := e.sink.SendMessage(ctx, room, strings.Join(replies, "\n")); err != nil {
		e.logger.Error("Reply delivery failed",
			zap.String("room", room),
			zap.Error(err),
		)
	}
}

func cancelled(ctx context.Context, def *Definition) *Result {
	if err := ctx.Err(); err != nil {
		return &Result{Code: Cancelled, Command: def.Name(), Err: err}
	}
	return nil
}
