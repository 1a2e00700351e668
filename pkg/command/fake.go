package command

import "context"

// Invocation records one call made against a FakeRunner.
type Invocation struct {
	Name string
	Args []string
}

// FakeRunner is a test double for Runner: it never shells out. Script
// results by appending to Results in call order; Run pops one per
// invocation and falls back to the last entry once exhausted.
type FakeRunner struct {
	Invocations []Invocation
	Results     []FakeResult
	callCount   int
}

// FakeResult is one scripted (Result, error) pair.
type FakeResult struct {
	Result Result
	Err    error
}

func (f *FakeRunner) Run(_ context.Context, name string, args ...string) (Result, error) {
	f.Invocations = append(f.Invocations, Invocation{Name: name, Args: args})
	if len(f.Results) == 0 {
		return Result{}, nil
	}
	idx := f.callCount
	if idx >= len(f.Results) {
		idx = len(f.Results) - 1
	}
	f.callCount++
	r := f.Results[idx]
	return r.Result, r.Err
}
