package dispatch

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func countingDef(handler, method, phrase string, priority int, constructed *int) *Definition {
	return &Definition{
		Handler:  handler,
		Method:   method,
		Trigger:  Literal{Phrase: phrase},
		Priority: priority,
		Lifetime: Persistent,
		Params:   []ParamSpec{Context()},
		New: func(context.Context, *Services) (any, error) {
			if constructed != nil {
				*constructed++
			}
			return &struct{}{}, nil
		},
		Invoke: func(context.Context, any, []any) ([]string, error) { return nil, nil },
	}
}

func buildTable(t *testing.T, loader *Loader) *Table {
	t.Helper()
	table, err := loader.build(context.Background(), 1, NewServices())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return table
}

func TestLoaderCollapsesDuplicates(t *testing.T) {
	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) {
		return []*Definition{
			countingDef("stats", "Show", "stats", 0, nil),
			countingDef("stats", "Show", "stats", 0, nil),
			countingDef("stats", "Show", "통계", 0, nil), // alias, distinct trigger
		}, nil
	}))

	table := buildTable(t, loader)
	if got := len(table.Definitions()); got != 2 {
		t.Errorf("definitions = %d, want 2 (duplicate collapsed, alias kept)", got)
	}
}

func TestLoaderStableSortByPriority(t *testing.T) {
	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) {
		return []*Definition{
			countingDef("a", "Run", "a", 5, nil),
			countingDef("b", "Run", "b", 15, nil),
			countingDef("c", "Run", "c", 5, nil),
		}, nil
	}))

	table := buildTable(t, loader)
	var got []string
	for _, def := range table.Definitions() {
		got = append(got, def.Handler)
	}
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", got, want)
		}
	}
}

func TestLoaderEagerInitialization(t *testing.T) {
	eager, lazy := 0, 0
	eagerDef := countingDef("eager", "Run", "eager", 0, &eager)
	eagerDef.Eager = true
	lazyDef := countingDef("lazy", "Run", "lazy", 0, &lazy)

	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) {
		return []*Definition{eagerDef, lazyDef}, nil
	}))

	buildTable(t, loader)
	if eager != 1 {
		t.Errorf("eager constructions = %d, want 1", eager)
	}
	if lazy != 0 {
		t.Errorf("lazy constructions = %d, want 0", lazy)
	}
}

func TestLoaderEagerFailureAbortsBuild(t *testing.T) {
	bad := countingDef("bad", "Run", "bad", 0, nil)
	bad.Eager = true
	bad.New = func(context.Context, *Services) (any, error) {
		return nil, fmt.Errorf("constructor dependency missing")
	}

	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) {
		return []*Definition{bad}, nil
	}))

	if _, err := loader.build(context.Background(), 1, NewServices()); err == nil {
		t.Fatal("eager construction failure must abort the build")
	}
}

func TestLoaderRejectsInvalidDefinitions(t *testing.T) {
	def := countingDef("bad", "Run", "bad", 0, nil)
	def.Params = []ParamSpec{CatchAll("rest"), Positional[string]("late")}

	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) {
		return []*Definition{def}, nil
	}))

	if _, err := loader.build(context.Background(), 1, NewServices()); err == nil {
		t.Fatal("catch-all before other params must fail validation")
	}
}

func TestLoaderAllowList(t *testing.T) {
	loader := NewLoader(zap.NewNop())
	loader.Add(SourceFunc(func() ([]*Definition, error) {
		return []*Definition{
			countingDef("help", "Run", "help", 0, nil),
			countingDef("admin", "Run", "reload", 0, nil),
		}, nil
	}))
	loader.Allow("help")

	table := buildTable(t, loader)
	defs := table.Definitions()
	if len(defs) != 1 || defs[0].Handler != "help" {
		t.Errorf("allow-list should keep only help, got %d defs", len(defs))
	}
}
