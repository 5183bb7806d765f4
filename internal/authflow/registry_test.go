package authflow

import (
	"sync"
	"testing"
	"time"
)

func TestRegistry_MountReplacesAndReleases(t *testing.T) {
	r := NewRegistry(time.Hour)
	first := r.Mount("owner", SurfaceModal, ModeLogin)
	second := r.Mount("owner", SurfaceModal, ModeSignup)

	if !first.Released() {
		t.Error("replaced flow not released")
	}
	if second.Released() {
		t.Error("new flow released")
	}
	got, ok := r.Get("owner", SurfaceModal)
	if !ok || got != second {
		t.Error("Get did not return the latest mount")
	}
	if _, ok := r.Get("owner", SurfacePage); ok {
		t.Error("surfaces share a flow")
	}
}

func TestRegistry_AcquireAndUnmount(t *testing.T) {
	r := NewRegistry(time.Hour)
	f := r.Acquire("owner", SurfacePage, ModeSignup)
	if f.State().Mode != ModeSignup {
		t.Errorf("mode = %s, want signup", f.State().Mode)
	}
	if again := r.Acquire("owner", SurfacePage, ModeLogin); again != f {
		t.Error("Acquire mounted a second flow")
	}

	r.Unmount("owner", SurfacePage)
	if !f.Released() {
		t.Error("unmounted flow not released")
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	r.Unmount("owner", SurfacePage)
}

func TestRegistry_AcquireConcurrent(t *testing.T) {
	r := NewRegistry(time.Minute)
	const n = 32
	got := make([]*Flow, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i] = r.Acquire("b1", SurfaceAPI, ModeLogin)
		}(i)
	}
	close(start)
	wg.Wait()
	for i, f := range got {
		if f != got[0] {
			t.Fatalf("Acquire #%d returned a different flow", i)
		}
		if f.Released() {
			t.Fatalf("Acquire #%d returned a released flow", i)
		}
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_SweepKeepsPending(t *testing.T) {
	r := NewRegistry(time.Minute)
	idle := r.Mount("a", SurfacePage, ModeLogin)
	busy := r.Mount("b", SurfacePage, ModeLogin)
	if err := busy.begin(nil); err != nil {
		t.Fatalf("begin: %v", err)
	}

	r.now = func() time.Time { return time.Now().Add(time.Hour) }
	if n := r.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if !idle.Released() {
		t.Error("idle flow not released")
	}
	if busy.Released() {
		t.Error("pending flow released")
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode("signup") != ModeSignup {
		t.Error("signup not parsed")
	}
	for _, s := range []string{"", "login", "bogus"} {
		if ParseMode(s) != ModeLogin {
			t.Errorf("ParseMode(%q) != login", s)
		}
	}
}
