package core

import (
	"errors"
	"testing"
)

func TestMapHostIndexToPolicyIndex_UseUpSaturates(t *testing.T) {
	want := []int{0, 1, 2, 3, 3, 3, 3}
	prev := -1
	for step, w := range want {
		got, err := MapHostIndexToPolicyIndex(UseUp, step, 4)
		if err != nil {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}
		if got != w {
			t.Errorf("step %d: got %d, want %d", step, got, w)
		}
		if got < prev {
			t.Errorf("step %d: index decreased from %d to %d", step, prev, got)
		}
		prev = got
	}
}

func TestMapHostIndexToPolicyIndex_CycleIsPeriodic(t *testing.T) {
	want := []int{0, 1, 2, 0, 1, 2}
	for step, w := range want {
		got, err := MapHostIndexToPolicyIndex(Cycle, step, 3)
		if err != nil {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}
		if got != w {
			t.Errorf("step %d: got %d, want %d", step, got, w)
		}
	}

	for step := 0; step < 20; step++ {
		a, _ := MapHostIndexToPolicyIndex(Cycle, step, 5)
		b, _ := MapHostIndexToPolicyIndex(Cycle, step+5, 5)
		if a != b {
			t.Errorf("period broken at step %d: %d != %d", step, a, b)
		}
	}
}

func TestMapHostIndexToPolicyIndex_SyncWithHost(t *testing.T) {
	for step := 0; step < 2; step++ {
		got, err := MapHostIndexToPolicyIndex(SyncWithHost, step, 2)
		if err != nil {
			t.Fatalf("step %d: unexpected error %v", step, err)
		}
		if got != step {
			t.Errorf("step %d: got %d", step, got)
		}
	}

	_, err := MapHostIndexToPolicyIndex(SyncWithHost, 2, 2)
	if !errors.Is(err, ErrPolicyDesync) {
		t.Fatalf("expected ErrPolicyDesync, got %v", err)
	}
}

func TestMapHostIndexToPolicyIndex_EmptyList(t *testing.T) {
	for _, p := range []ParameterHandling{UseUp, Cycle, SyncWithHost} {
		got, err := MapHostIndexToPolicyIndex(p, 7, 0)
		if err != nil || got != 0 {
			t.Errorf("%s: got (%d, %v), want (0, nil)", p, got, err)
		}
	}
}

func TestParseParameterHandling(t *testing.T) {
	tests := []struct {
		in   string
		want ParameterHandling
		err  bool
	}{
		{"", SyncWithHost, false},
		{"use_up", UseUp, false},
		{"CYCLE", Cycle, false},
		{"sync_with_host", SyncWithHost, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		got, err := ParseParameterHandling(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("%q: err = %v, wantErr %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseInputRef(t *testing.T) {
	tests := []struct {
		in   string
		want InputRef
		err  bool
	}{
		{"Reader", InputRef{Component: "Reader"}, false},
		{"Reader:0", InputRef{Component: "Reader"}, false},
		{"Reader:3", InputRef{Component: "Reader", OutputIndex: 3}, false},
		{" Reader : 2 ", InputRef{Component: "Reader", OutputIndex: 2}, false},
		{"", InputRef{}, true},
		{":1", InputRef{}, true},
		{"Reader:-1", InputRef{}, true},
		{"Reader:x", InputRef{}, true},
	}
	for _, tt := range tests {
		got, err := ParseInputRef(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("%q: err = %v, wantErr %v", tt.in, err, tt.err)
			continue
		}
		if tt.err {
			if !errors.Is(err, ErrInvalidInputRef) {
				t.Errorf("%q: expected ErrInvalidInputRef, got %v", tt.in, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("%q: got %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestInputRef_String(t *testing.T) {
	if s := (InputRef{Component: "A"}).String(); s != "A" {
		t.Errorf("got %q", s)
	}
	if s := (InputRef{Component: "A", OutputIndex: 2}).String(); s != "A:2" {
		t.Errorf("got %q", s)
	}
}

func TestParseInputSpecs_ReportsSetIndex(t *testing.T) {
	_, err := ParseInputSpecs([][]string{{"A"}, {"B:z"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInvalidInputRef) {
		t.Errorf("expected ErrInvalidInputRef, got %v", err)
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"", "abc", "A_1", "_x", "42"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("%q: unexpected error %v", ok, err)
		}
	}
	for _, bad := range []string{"a-b", "a b", "a.b", "ä"} {
		if err := ValidateIdentifier(bad); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("%q: expected ErrInvalidIdentifier, got %v", bad, err)
		}
	}
}

func TestComponentError_IsKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := &ComponentError{Component: "Writer", Kind: ErrUnspecified, Cause: cause}

	if !errors.Is(err, ErrUnspecified) {
		t.Error("expected errors.Is(err, ErrUnspecified)")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is(err, cause)")
	}
	if got := err.Error(); got != "Writer: unspecified failure: disk full" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapComponentError(t *testing.T) {
	if WrapComponentError("A", nil) != nil {
		t.Error("nil cause should stay nil")
	}

	inner := NewComponentError("B", ErrUnresolvedInput, "missing %q", "C")
	if got := WrapComponentError("A", inner); got != error(inner) {
		t.Error("existing component errors should pass through")
	}

	wrapped := WrapComponentError("A", ErrPolicyDesync)
	var ce *ComponentError
	if !errors.As(wrapped, &ce) {
		t.Fatal("expected *ComponentError")
	}
	if ce.Kind != ErrPolicyDesync || ce.Component != "A" {
		t.Errorf("got %+v", ce)
	}
}

type detachCounter struct{ n *int }

func (d detachCounter) Detach() Value {
	*d.n++
	return d
}

func TestDetach(t *testing.T) {
	src := []float64{1, 2, 3}
	cp := Detach(src).([]float64)
	src[0] = 99
	if cp[0] != 1 {
		t.Errorf("slice was not copied: %v", cp)
	}

	m := map[string]any{"xs": []any{1.0}}
	mc := Detach(m).(map[string]any)
	m["xs"].([]any)[0] = 5.0
	if mc["xs"].([]any)[0] != 1.0 {
		t.Errorf("nested value was not copied: %v", mc)
	}

	n := 0
	Detach(detachCounter{n: &n})
	if n != 1 {
		t.Errorf("Detacher not used, calls = %d", n)
	}

	if Detach(nil) != nil {
		t.Error("nil should detach to nil")
	}
}
