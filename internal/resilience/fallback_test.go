package resilience

import (
	"errors"
	"testing"
	"time"
)

func newGroup(probe func(string) bool) *FallbackGroup[string] {
	return NewFallbackGroup[string](FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
		Probe: probe,
	})
}

func TestExecuteUsesDefaultFirst(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("primary", "primary-value")
	fg.Add("secondary", "secondary-value")

	var called []string
	err := fg.Execute("", func(name string, value string) error {
		called = append(called, name)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Errorf("call order = %v, want [primary]", called)
	}
}

func TestExecuteFallsBackInOrder(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "a")
	fg.Add("b", "b")
	fg.Add("c", "c")

	var called []string
	err := fg.Execute("", func(name string, _ string) error {
		called = append(called, name)
		if name != "c" {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, n := range want {
		if called[i] != n {
			t.Fatalf("call order = %v, want %v", called, want)
		}
	}
}

func TestExecutePinnedTriedFirst(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "a")
	fg.Add("b", "b")

	var called []string
	err := fg.Execute("b", func(name string, _ string) error {
		called = append(called, name)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if called[0] != "b" {
		t.Errorf("first call = %q, want pinned %q", called[0], "b")
	}
}

func TestExecuteSkipsUnavailable(t *testing.T) {
	fg := newGroup(func(name string) bool { return name != "a" })
	fg.Add("a", "a")
	fg.Add("b", "b")

	var called []string
	err := fg.Execute("", func(name string, _ string) error {
		called = append(called, name)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(called) != 1 || called[0] != "b" {
		t.Errorf("call order = %v, want [b]", called)
	}
}

func TestExecuteAllFailed(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "a")

	err := fg.Execute("", func(string, string) error {
		return errors.New("boom")
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}

func TestExecuteEmptyGroup(t *testing.T) {
	fg := newGroup(nil)

	err := fg.Execute("", func(string, string) error { return nil })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}

func TestExecuteSkipsOpenBreaker(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "a")
	fg.Add("b", "b")

	// Trip a's breaker (MaxFailures=2); b absorbs the calls.
	for i := 0; i < 2; i++ {
		_ = fg.Execute("", func(name string, _ string) error {
			if name == "a" {
				return errors.New("boom")
			}
			return nil
		})
	}

	var called []string
	err := fg.Execute("", func(name string, _ string) error {
		called = append(called, name)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(called) != 1 || called[0] != "b" {
		t.Errorf("call order = %v, want [b] with a's breaker open", called)
	}

	if state, err := fg.BreakerState("a"); err != nil || state != StateOpen {
		t.Errorf("breaker state = %v (err %v), want open", state, err)
	}
}

func TestSetDefaultPromotes(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "a")
	fg.Add("b", "b")

	if err := fg.SetDefault("b"); err != nil {
		t.Fatalf("SetDefault returned error: %v", err)
	}
	if got := fg.Default(); got != "b" {
		t.Errorf("Default = %q, want %q", got, "b")
	}

	var first string
	_ = fg.Execute("", func(name string, _ string) error {
		if first == "" {
			first = name
		}
		return nil
	})
	if first != "b" {
		t.Errorf("first tried = %q, want promoted default %q", first, "b")
	}
}

func TestSetDefaultUnknown(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "a")

	if err := fg.SetDefault("nope"); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("error = %v, want ErrUnknownEntry", err)
	}
	if got := fg.Default(); got != "a" {
		t.Errorf("Default changed to %q after failed SetDefault", got)
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "a")
	fg.Add("b", "b")

	got, err := ExecuteWithResult(fg, "", func(name string, _ string) (int, error) {
		if name == "a" {
			return 0, errors.New("boom")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult returned error: %v", err)
	}
	if got != 42 {
		t.Errorf("result = %d, want 42", got)
	}
}

func TestGetAndNames(t *testing.T) {
	fg := newGroup(nil)
	fg.Add("a", "va")
	fg.Add("b", "vb")

	if v, ok := fg.Get("b"); !ok || v != "vb" {
		t.Errorf("Get(b) = %q, %v", v, ok)
	}
	if _, ok := fg.Get("missing"); ok {
		t.Error("Get(missing) reported ok")
	}

	names := fg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
}
