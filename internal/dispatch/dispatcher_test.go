package dispatch

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/iris-dispatch-go/internal/domain"
	"github.com/kapu/iris-dispatch-go/pkg/errors"
)

type fakeSink struct {
	mu       sync.Mutex
	messages []string
}

func (s *fakeSink) SendMessage(_ context.Context, _ string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *fakeSink) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

type recorder struct {
	mu          sync.Mutex
	constructed int
	closed      int
}

func (r *recorder) construct() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructed++
}

func (r *recorder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.constructed, r.closed
}

type stubHandler struct {
	rec   *recorder
	reply string
	calls int
}

func (h *stubHandler) Run(_ context.Context, _ *domain.Message) ([]string, error) {
	h.calls++
	return []string{fmt.Sprintf("%s:%d", h.reply, h.calls)}, nil
}

func (h *stubHandler) Close() error {
	if h.rec != nil {
		h.rec.close()
	}
	return nil
}

func stubDef(handler, phrase string, priority int, lifetime Lifetime, rec *recorder, reqs ...Requirement) *Definition {
	return &Definition{
		Handler:      handler,
		Method:       "Run",
		Trigger:      Literal{Phrase: phrase},
		Priority:     priority,
		Lifetime:     lifetime,
		Requirements: reqs,
		Params:       []ParamSpec{Context()},
		New: func(context.Context, *Services) (any, error) {
			if rec != nil {
				rec.construct()
			}
			return &stubHandler{rec: rec, reply: handler}, nil
		},
		Invoke: func(ctx context.Context, h any, args []any) ([]string, error) {
			return h.(*stubHandler).Run(ctx, args[0].(*domain.Message))
		},
	}
}

func newTestEngine(t *testing.T, sink ReplySink, defs ...*Definition) *Engine {
	t.Helper()
	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) { return defs, nil }))
	engine := NewEngine(Options{PrefixMode: PrefixNever}, loader, NewServices(), sink, zap.NewNop())
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return engine
}

func dispatchText(t *testing.T, engine *Engine, text string) *Result {
	t.Helper()
	res, err := engine.Dispatch(context.Background(), groupMsg(text))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	return res
}

func TestDispatchNotStarted(t *testing.T) {
	loader := NewLoader(zap.NewNop())
	engine := NewEngine(Options{PrefixMode: PrefixNever}, loader, NewServices(), nil, zap.NewNop())

	if _, err := engine.Dispatch(context.Background(), groupMsg("ping")); !stderrors.Is(err, errors.ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}
}

func TestDispatchPriorityOrdering(t *testing.T) {
	sink := &fakeSink{}
	engine := newTestEngine(t, sink,
		stubDef("p5", "priority", 5, Persistent, nil),
		stubDef("p15", "priority", 15, Persistent, nil),
	)

	res := dispatchText(t, engine, "priority")
	if res.Command != "p15.Run" {
		t.Errorf("command = %q, want p15.Run", res.Command)
	}
	if got := sink.sent(); len(got) != 1 || got[0] != "p15:1" {
		t.Errorf("sent = %v, want [p15:1]", got)
	}
}

func TestDispatchEqualPriorityDeclarationOrder(t *testing.T) {
	engine := newTestEngine(t, nil,
		stubDef("first", "tie", 0, Persistent, nil),
		stubDef("second", "tie", 0, Persistent, nil),
	)

	res := dispatchText(t, engine, "tie")
	if res.Command != "first.Run" {
		t.Errorf("command = %q, want first.Run (declared first)", res.Command)
	}
}

func TestDispatchFirstMatchCommit(t *testing.T) {
	denyAll := Requirement{
		Check: func(context.Context, *domain.Message, *Services) (bool, error) {
			return false, nil
		},
	}
	lowRec := &recorder{}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink,
		stubDef("high", "shared", 10, Persistent, nil, denyAll),
		stubDef("low", "shared", 0, Persistent, lowRec),
	)

	res := dispatchText(t, engine, "shared")
	if res.Code != RequirementFailed {
		t.Errorf("code = %v, want RequirementFailed", res.Code)
	}
	if res.Command != "high.Run" {
		t.Errorf("command = %q, want high.Run", res.Command)
	}
	if constructed, _ := lowRec.counts(); constructed != 0 {
		t.Errorf("low-priority handler constructed %d times after commit", constructed)
	}
	if got := sink.sent(); len(got) != 0 {
		t.Errorf("silent requirement failure must send nothing, sent %v", got)
	}
}

func TestDispatchRequirementFailureMessage(t *testing.T) {
	deny := Requirement{
		Check: func(context.Context, *domain.Message, *Services) (bool, error) {
			return false, nil
		},
		FailMessage: "권한이 없습니다.",
	}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, stubDef("admin", "reload", 0, Transient, nil, deny))

	res := dispatchText(t, engine, "reload")
	if res.Code != RequirementFailed {
		t.Errorf("code = %v, want RequirementFailed", res.Code)
	}
	if got := sink.sent(); len(got) != 1 || got[0] != "권한이 없습니다." {
		t.Errorf("sent = %v", got)
	}
}

func TestDispatchBindingFailureCommits(t *testing.T) {
	numDef := stubDef("num", "num", 10, Persistent, nil)
	numDef.Params = []ParamSpec{
		Context(),
		Positional[int]("value").WithConvertMessage("숫자를 입력해 주세요."),
	}
	numDef.Invoke = func(ctx context.Context, h any, args []any) ([]string, error) {
		return []string{fmt.Sprintf("%d", args[1].(int))}, nil
	}
	lowRec := &recorder{}
	fallback := stubDef("fallback", "num", 0, Persistent, lowRec)
	fallback.Params = []ParamSpec{Context(), CatchAll("rest")}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, numDef, fallback)

	res := dispatchText(t, engine, "num abc")
	if res.Code != BindingFailed {
		t.Errorf("code = %v, want BindingFailed", res.Code)
	}
	if got := sink.sent(); len(got) != 1 || got[0] != "숫자를 입력해 주세요." {
		t.Errorf("sent = %v", got)
	}
	if constructed, _ := lowRec.counts(); constructed != 0 {
		t.Errorf("binding failure committed the dispatch; fallback constructed %d times", constructed)
	}
}

func TestDispatchNoMatch(t *testing.T) {
	rec := &recorder{}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, stubDef("ping", "ping", 0, Transient, rec))

	res := dispatchText(t, engine, "nothing here")
	if res.Code != NoMatch {
		t.Errorf("code = %v, want NoMatch", res.Code)
	}
	if constructed, _ := rec.counts(); constructed != 0 {
		t.Errorf("no-match must construct nothing, got %d", constructed)
	}
	if got := sink.sent(); len(got) != 0 {
		t.Errorf("no-match must send nothing, sent %v", got)
	}
}

func TestDispatchPersistentSharedState(t *testing.T) {
	rec := &recorder{}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, stubDef("count", "count", 0, Persistent, rec))

	dispatchText(t, engine, "count")
	dispatchText(t, engine, "count")

	if got := sink.sent(); len(got) != 2 || got[0] != "count:1" || got[1] != "count:2" {
		t.Errorf("persistent handler state not shared across dispatches: %v", got)
	}
	if constructed, closed := rec.counts(); constructed != 1 || closed != 0 {
		t.Errorf("constructed=%d closed=%d, want 1/0", constructed, closed)
	}
}

func TestDispatchTransientIsolationAndDisposal(t *testing.T) {
	rec := &recorder{}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, stubDef("echo", "echo", 0, Transient, rec))

	dispatchText(t, engine, "echo")
	dispatchText(t, engine, "echo")

	if got := sink.sent(); len(got) != 2 || got[0] != "echo:1" || got[1] != "echo:1" {
		t.Errorf("transient handlers must not share state: %v", got)
	}
	if constructed, closed := rec.counts(); constructed != 2 || closed != 2 {
		t.Errorf("constructed=%d closed=%d, want 2/2", constructed, closed)
	}
}

func TestDispatchTransientDisposedOnFault(t *testing.T) {
	rec := &recorder{}
	def := stubDef("boom", "boom", 0, Transient, rec)
	def.Invoke = func(context.Context, any, []any) ([]string, error) {
		return nil, fmt.Errorf("handler exploded")
	}
	engine := newTestEngine(t, nil, def)

	res, err := engine.Dispatch(context.Background(), groupMsg("boom"))
	if err == nil {
		t.Fatal("explicit path must surface the handler fault")
	}
	if res.Code != Faulted {
		t.Errorf("code = %v, want Faulted", res.Code)
	}
	if _, closed := rec.counts(); closed != 1 {
		t.Errorf("closed=%d, want 1 (disposal on failure)", closed)
	}
}

func TestDispatchHandlerPanicBecomesFault(t *testing.T) {
	def := stubDef("panicky", "panic", 0, Transient, nil)
	def.Invoke = func(context.Context, any, []any) ([]string, error) {
		panic("unexpected state")
	}
	engine := newTestEngine(t, nil, def)

	res, err := engine.Dispatch(context.Background(), groupMsg("panic"))
	if err == nil {
		t.Fatal("panic must surface as a handler fault")
	}
	var herr *errors.HandlerError
	if !stderrors.As(err, &herr) {
		t.Fatalf("err = %v, want HandlerError", err)
	}
	if res.Code != Faulted {
		t.Errorf("code = %v, want Faulted", res.Code)
	}
}

func TestDispatchResolutionFailureAborts(t *testing.T) {
	def := stubDef("broken", "broken", 0, Transient, nil)
	def.New = func(context.Context, *Services) (any, error) {
		return nil, fmt.Errorf("constructor dependency missing")
	}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, def)

	res, err := engine.Dispatch(context.Background(), groupMsg("broken"))
	var rerr *errors.ResolutionError
	if !stderrors.As(err, &rerr) {
		t.Fatalf("err = %v, want ResolutionError", err)
	}
	if res.Code != Faulted {
		t.Errorf("code = %v, want Faulted", res.Code)
	}
	if got := sink.sent(); len(got) != 0 {
		t.Errorf("resolution failure must send no reply, sent %v", got)
	}
}

func TestDispatchCancellation(t *testing.T) {
	rec := &recorder{}
	def := stubDef("slow", "slow", 0, Transient, rec)
	def.Invoke = func(ctx context.Context, _ any, _ []any) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	engine := newTestEngine(t, nil, def)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := engine.Dispatch(ctx, groupMsg("slow"))
	if err != nil {
		t.Fatalf("cancellation must not be an error on the dispatch: %v", err)
	}
	if res.Code != Cancelled {
		t.Errorf("code = %v, want Cancelled", res.Code)
	}
	if _, closed := rec.counts(); closed != 1 {
		t.Errorf("closed=%d, want 1 (disposal on cancellation)", closed)
	}
}

func TestShutdownCancelsInFlightDispatches(t *testing.T) {
	def := stubDef("slow", "slow", 0, Transient, nil)
	def.Invoke = func(ctx context.Context, _ any, _ []any) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	engine := newTestEngine(t, nil, def)

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := engine.Dispatch(context.Background(), groupMsg("slow"))
		done <- outcome{res, err}
	}()

	time.Sleep(20 * time.Millisecond)
	engine.Shutdown()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("dispatch errored: %v", out.err)
		}
		if out.res.Code != Cancelled {
			t.Errorf("code = %v, want Cancelled", out.res.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not finish after shutdown")
	}

	if _, err := engine.Dispatch(context.Background(), groupMsg("slow")); !stderrors.Is(err, errors.ErrNotStarted) {
		t.Errorf("dispatch after shutdown: err = %v, want ErrNotStarted", err)
	}
}

type flakySource struct {
	mu   sync.Mutex
	defs []*Definition
	err  error
}

func (s *flakySource) Declarations() ([]*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.defs, nil
}

func (s *flakySource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func TestReloadFailureKeepsPreviousTable(t *testing.T) {
	src := &flakySource{defs: []*Definition{stubDef("ping", "ping", 0, Persistent, nil)}}
	loader := NewLoader(zap.NewNop())
	loader.Add(src)
	sink := &fakeSink{}
	engine := NewEngine(Options{PrefixMode: PrefixNever}, loader, NewServices(), sink, zap.NewNop())
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	src.fail(fmt.Errorf("declaration scan broke"))
	if err := engine.Load(context.Background()); err == nil {
		t.Fatal("reload with a broken source must fail")
	}

	res := dispatchText(t, engine, "ping")
	if res.Code != Invoked {
		t.Errorf("previous table must keep serving after failed reload, code = %v", res.Code)
	}
}

func TestReloadSwapsDefinitions(t *testing.T) {
	src := &flakySource{defs: []*Definition{stubDef("old", "hello", 0, Persistent, nil)}}
	loader := NewLoader(zap.NewNop())
	loader.Add(src)
	engine := NewEngine(Options{PrefixMode: PrefixNever}, loader, NewServices(), nil, zap.NewNop())
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	src.mu.Lock()
	src.defs = []*Definition{stubDef("new", "hello", 0, Persistent, nil)}
	src.mu.Unlock()
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	res := dispatchText(t, engine, "hello")
	if res.Command != "new.Run" {
		t.Errorf("command = %q, want new.Run after reload", res.Command)
	}
}

func TestDispatchCatchAllAbsorption(t *testing.T) {
	def := stubDef("say", "say", 0, Transient, nil)
	def.Params = []ParamSpec{
		Context(),
		Positional[string]("first"),
		CatchAll("rest"),
	}
	def.Invoke = func(_ context.Context, _ any, args []any) ([]string, error) {
		first := args[1].(string)
		rest := args[2].([]string)
		return []string{fmt.Sprintf("%s|%d", first, len(rest))}, nil
	}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, def)

	dispatchText(t, engine, `say "hello there" extra`)
	if got := sink.sent(); len(got) != 1 || got[0] != "hello there|2" {
		t.Errorf("sent = %v, want [hello there|2]", got)
	}
}

func TestDispatchBatchesMultipleReplies(t *testing.T) {
	def := stubDef("multi", "multi", 0, Persistent, nil)
	def.Invoke = func(context.Context, any, []any) ([]string, error) {
		return []string{"one", "two", "three"}, nil
	}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, def)

	dispatchText(t, engine, "multi")
	if got := sink.sent(); len(got) != 1 || got[0] != "one\ntwo\nthree" {
		t.Errorf("replies must be joined into one send, got %v", got)
	}
}

// waitCounts polls until the recorder settles on the wanted construction
// and disposal totals. Retirement drains asynchronously.
func waitCounts(t *testing.T, rec *recorder, wantConstructed, wantClosed int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		constructed, closed := rec.counts()
		if constructed == wantConstructed && closed == wantClosed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("constructed=%d closed=%d, want %d/%d", constructed, closed, wantConstructed, wantClosed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReloadDisposesPreviousGeneration(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine(t, nil, stubDef("count", "count", 0, Persistent, rec))

	dispatchText(t, engine, "count")
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	// Old generation drained: its persistent instance must be closed,
	// and the new generation constructs its own.
	waitCounts(t, rec, 1, 1)
	dispatchText(t, engine, "count")
	if constructed, _ := rec.counts(); constructed != 2 {
		t.Errorf("constructed=%d, want a fresh instance per generation", constructed)
	}
}

func TestShutdownDisposesPersistentHandlers(t *testing.T) {
	rec := &recorder{}
	engine := newTestEngine(t, nil, stubDef("count", "count", 0, Persistent, rec))

	dispatchText(t, engine, "count")
	engine.Shutdown()
	waitCounts(t, rec, 1, 1)
}

func TestReloadRaceConstructsAndDisposesInPairs(t *testing.T) {
	rec := &recorder{}
	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) {
		return []*Definition{stubDef("count", "count", 0, Persistent, rec)}, nil
	}))
	engine := NewEngine(Options{PrefixMode: PrefixNever}, loader, NewServices(), nil, zap.NewNop())
	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := engine.Dispatch(context.Background(), groupMsg("count")); err != nil && !stderrors.Is(err, errors.ErrNotStarted) {
					t.Errorf("dispatch failed: %v", err)
					return
				}
			}
		}()
	}

	for range 50 {
		if err := engine.Load(context.Background()); err != nil {
			t.Errorf("reload failed: %v", err)
			break
		}
	}
	close(stop)
	wg.Wait()
	engine.Shutdown()

	// Every generation a dispatch constructed into must eventually be
	// drained and disposed, however the reloads interleaved.
	deadline := time.Now().Add(2 * time.Second)
	for {
		constructed, closed := rec.counts()
		if constructed > 0 && constructed == closed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("constructed=%d closed=%d after drain", constructed, closed)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegisterConverterAfterLoad(t *testing.T) {
	def := stubDef("hex", "hex", 0, Persistent, nil)
	def.Params = []ParamSpec{Context(), Positional[uint]("value")}
	def.Invoke = func(_ context.Context, _ any, args []any) ([]string, error) {
		return []string{fmt.Sprintf("%d", args[1].(uint))}, nil
	}
	sink := &fakeSink{}
	engine := newTestEngine(t, sink, def)

	res := dispatchText(t, engine, "hex ff")
	if res.Code != BindingFailed {
		t.Fatalf("code = %v, want BindingFailed before registration", res.Code)
	}

	engine.RegisterConverter(typeOf[uint](), func(token string) (any, error) {
		v, err := strconv.ParseUint(token, 16, 64)
		return uint(v), err
	})

	res = dispatchText(t, engine, "hex ff")
	if res.Code != Invoked {
		t.Fatalf("code = %v, want Invoked after registration", res.Code)
	}
	if got := sink.sent(); len(got) == 0 || got[len(got)-1] != "255" {
		t.Errorf("sent = %v, want 255", got)
	}
}

func TestDispatchConcurrentPersistentConstruction(t *testing.T) {
	rec := &recorder{}
	def := stubDef("shared", "shared", 0, Persistent, rec)
	def.Invoke = func(context.Context, any, []any) ([]string, error) {
		return nil, nil
	}
	engine := newTestEngine(t, nil, def)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Dispatch(context.Background(), groupMsg("shared"))
		}()
	}
	wg.Wait()

	if constructed, _ := rec.counts(); constructed != 1 {
		t.Errorf("constructed=%d, want exactly 1 under concurrency", constructed)
	}
}
