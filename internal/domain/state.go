// Package domain contains pure, dependency-free domain models for the QA Lab
// run executor: runs, generated fixtures, executed cases, judge results and
// the persisted report, plus the immutable State threaded through stages.
package domain

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Key names a State slot holding a T.
type Key[T any] struct{ name string }

func NewKey[T any](name string) Key[T] { return Key[T]{name: name} }

// Slots filled while a run moves through the stages.
var (
	// KeyRun stores the run being executed. Units read its configuration.
	KeyRun = Key[Run]{"run"}

	// KeyGeneration stores the generator's normalized output and attempt log.
	KeyGeneration = Key[GenerationResult]{"generation"}

	// KeyExecutedCases stores the transcripts produced by the scenario executor.
	KeyExecutedCases = Key[[]ExecutedCase]{"executed_cases"}

	// KeyJudge stores the judge result, including a skip reason when the
	// judge did not run.
	KeyJudge = Key[JudgeResult]{"judge"}

	// KeyBudgetStopped is set once any stage observes budget exhaustion.
	KeyBudgetStopped = Key[bool]{"budget.stopped"}

	// KeyBudgetStoppedBy names the stage that first observed exhaustion.
	KeyBudgetStoppedBy = Key[string]{"budget.stopped_by"}
)

func (k Key[T]) Name() string { return k.name }

// State is the copy-on-write bag of values handed from stage to stage.
// Values are deep-copied on the way in and on the way out, so a State can
// be shared between goroutines and no caller can reach another's data.
type State struct {
	data map[string]any
}

func NewState() State { return State{data: map[string]any{}} }

// Get returns a copy of the value under key. ok is false when the slot is
// empty or holds a different type.
func Get[T any](s State, key Key[T]) (T, bool) {
	v, ok := s.data[key.name].(T)
	if !ok {
		var zero T
		return zero, false
	}
	return clone(v), true
}

// With returns a State that has value under key. s is unchanged.
func With[T any](s State, key Key[T], value T) State {
	data := maps.Clone(s.data)
	if data == nil {
		data = map[string]any{}
	}
	data[key.name] = clone(value)
	return State{data: data}
}

// Keys returns the filled slot names in sorted order.
func (s State) Keys() []string { return slices.Sorted(maps.Keys(s.data)) }

func (s State) String() string {
	var b strings.Builder
	b.WriteString("State{")
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", k, s.data[k])
	}
	b.WriteString("}")
	return b.String()
}

// MarkBudgetStopped records that stage observed budget exhaustion. The
// first stage to do so is kept.
func (s State) MarkBudgetStopped(stage string) State {
	if s.BudgetStopped() {
		return s
	}
	return With(With(s, KeyBudgetStopped, true), KeyBudgetStoppedBy, stage)
}

func (s State) BudgetStopped() bool {
	stopped, _ := Get(s, KeyBudgetStopped)
	return stopped
}

func clone[T any](v T) T {
	return cloneValue(reflect.ValueOf(&v).Elem()).Interface().(T)
}

// cloneValue deep-copies slices, maps, pointers, arrays and the exported
// fields of structs. Unexported fields are copied shallowly, which is
// right for value types such as time.Time.
func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if isFlat(v.Type().Elem()) {
			reflect.Copy(out, v)
			return out
		}
		for i := range v.Len() {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := range v.Len() {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		for it := v.MapRange(); it.Next(); {
			out.SetMapIndex(cloneValue(it.Key()), cloneValue(it.Value()))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneValue(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneValue(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := range v.NumField() {
			if out.Field(i).CanSet() {
				out.Field(i).Set(cloneValue(v.Field(i)))
			}
		}
		return out
	}
	return v
}

// isFlat reports whether values of t contain no references.
func isFlat(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
