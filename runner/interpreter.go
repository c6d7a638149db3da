package runner

import (
	"fmt"
	"math"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// AllowedNames is the complete set of names reachable from submitted code.
// Anything else, including file, process, module and network access, was
// never bound and fails to resolve.
var AllowedNames = []string{
	"None", "True", "False",
	"int", "float", "str", "bool", "list", "dict", "set", "tuple",
	"range", "len", "enumerate", "zip",
	"abs", "min", "max", "sum", "round",
	"all", "any", "sorted", "reversed",
	"map", "filter",
	"print", "fail",
}

// constants stay in the universe; they cannot be predeclared.
var universeConstants = map[string]bool{"None": true, "True": true, "False": true}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

var (
	restrictOnce sync.Once
	allowed      starlark.StringDict
)

// capabilities strips the interpreter universe down to the constants and
// returns the allow-listed builtins. The universe is process-global, so this
// runs once and every later execution sees the restricted view.
func capabilities() starlark.StringDict {
	restrictOnce.Do(func() {
		toolkit := starlark.StringDict{
			"sum":    starlark.NewBuiltin("sum", builtinSum),
			"round":  starlark.NewBuiltin("round", builtinRound),
			"map":    starlark.NewBuiltin("map", builtinMap),
			"filter": starlark.NewBuiltin("filter", builtinFilter),
		}

		allowed = make(starlark.StringDict, len(AllowedNames))
		for _, name := range AllowedNames {
			if universeConstants[name] {
				continue
			}
			if fn, ok := toolkit[name]; ok {
				allowed[name] = fn
				continue
			}
			if v, ok := starlark.Universe[name]; ok {
				allowed[name] = v
			}
		}

		for name := range starlark.Universe {
			if !universeConstants[name] {
				delete(starlark.Universe, name)
			}
		}
	})
	return allowed
}

// sum(iterable, start=0)
func builtinSum(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var iterable starlark.Iterable
	var start starlark.Value = starlark.MakeInt(0)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "iterable", &iterable, "start?", &start); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	total := start
	var x starlark.Value
	for iter.Next(&x) {
		var err error
		if total, err = starlark.Binary(syntax.PLUS, total, x); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
	}
	return total, nil
}

// round(number, ndigits=None) rounds half to even. Without ndigits the
// result is an int.
func builtinRound(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var number starlark.Value
	var ndigits starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "number", &number, "ndigits?", &ndigits); err != nil {
		return nil, err
	}

	if i, ok := number.(starlark.Int); ok {
		return i, nil
	}
	f, ok := number.(starlark.Float)
	if !ok {
		return nil, fmt.Errorf("%s: got %s, want int or float", b.Name(), number.Type())
	}

	if ndigits == starlark.None {
		r := math.RoundToEven(float64(f))
		if math.IsInf(r, 0) || math.IsNaN(r) {
			return nil, fmt.Errorf("%s: cannot convert %v to int", b.Name(), r)
		}
		return starlark.NumberToInt(starlark.Float(r))
	}

	n, err := starlark.AsInt32(ndigits)
	if err != nil {
		return nil, fmt.Errorf("%s: ndigits: %w", b.Name(), err)
	}
	scale := math.Pow10(n)
	return starlark.Float(math.RoundToEven(float64(f)*scale) / scale), nil
}

// map(function, iterable) returns a list.
func builtinMap(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		y, err := starlark.Call(thread, fn, starlark.Tuple{x}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return starlark.NewList(out), nil
}

// filter(function, iterable) returns a list. A None function keeps truthy
// elements.
func builtinFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Value
	var iterable starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &iterable); err != nil {
		return nil, err
	}

	var callable starlark.Callable
	if fn != starlark.None {
		c, ok := fn.(starlark.Callable)
		if !ok {
			return nil, fmt.Errorf("%s: got %s, want callable or None", b.Name(), fn.Type())
		}
		callable = c
	}

	iter := iterable.Iterate()
	defer iter.Done()

	var out []starlark.Value
	var x starlark.Value
	for iter.Next(&x) {
		keep := x
		if callable != nil {
			var err error
			if keep, err = starlark.Call(thread, callable, starlark.Tuple{x}, nil); err != nil {
				return nil, err
			}
		}
		if keep.Truth() {
			out = append(out, x)
		}
	}
	return starlark.NewList(out), nil
}
