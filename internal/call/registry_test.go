package call

import (
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *memoryChannel) {
	t.Helper()
	ch := newMemoryHub().channel("self")
	reg := NewRegistry(newTestAPI(t), nil, ch, testLogger(t))
	t.Cleanup(reg.CloseAll)
	return reg, ch
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	first, err := reg.GetOrCreate("bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := reg.GetOrCreate("bob")
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if first != second {
		t.Fatalf("GetOrCreate returned a new session for the same peer")
	}

	got, ok := reg.Get("bob")
	if !ok || got != first {
		t.Fatalf("Get(bob) = %v, %v; want original session", got, ok)
	}
	if _, ok := reg.Get("carol"); ok {
		t.Fatalf("Get(carol) found a session that was never created")
	}
}

func TestRegistryRemoveClosesSessionAndCapture(t *testing.T) {
	reg, _ := newTestRegistry(t)
	capturer := &fakeCapturer{}

	sess, err := reg.GetOrCreate("bob")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	capture, err := capturer.Acquire(t.Context(), "audio")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := sess.BindCapture(capture); err != nil {
		t.Fatalf("bind: %v", err)
	}

	reg.Remove("bob")

	if _, ok := reg.Get("bob"); ok {
		t.Fatalf("session still present after Remove")
	}
	if _, closes := capturer.counts(); closes != 1 {
		t.Fatalf("capture closes = %d, want 1", closes)
	}

	// Removing again is a no-op, and a new session is a fresh one.
	reg.Remove("bob")
	again, err := reg.GetOrCreate("bob")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if again == sess {
		t.Fatalf("recreated session is the closed one")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for _, peer := range []string{"bob", "carol"} {
		if _, err := reg.GetOrCreate(peer); err != nil {
			t.Fatalf("create %s: %v", peer, err)
		}
	}

	reg.CloseAll()

	for _, peer := range []string{"bob", "carol"} {
		if _, ok := reg.Get(peer); ok {
			t.Fatalf("session for %s survived CloseAll", peer)
		}
	}
}
