package roster

import (
	"slices"
	"testing"
)

func TestUpdateExcludesSelfAndSorts(t *testing.T) {
	r := New("alice", nil)
	r.Update([]string{"carol", "alice", "bob", "bob", ""})

	want := []string{"bob", "carol"}
	if got := r.Peers(); !slices.Equal(got, want) {
		t.Fatalf("peers = %v, want %v", got, want)
	}
	if !r.Contains("bob") {
		t.Fatalf("Contains(bob) = false")
	}
	if r.Contains("alice") {
		t.Fatalf("Contains(alice) = true, self must be excluded")
	}
	if r.Contains("mallory") {
		t.Fatalf("Contains(mallory) = true")
	}
}

func TestUpdateNotifiesOnlyOnChange(t *testing.T) {
	r := New("alice", nil)

	var notified [][]string
	r.OnChange(func(peers []string) { notified = append(notified, peers) })

	r.Update([]string{"bob"})
	r.Update([]string{"bob", "alice"}) // same list once self is dropped
	r.Update([]string{"bob", "carol"})
	r.Update([]string{})

	want := [][]string{{"bob"}, {"bob", "carol"}, {}}
	if len(notified) != len(want) {
		t.Fatalf("notified %d times, want %d: %v", len(notified), len(want), notified)
	}
	for i := range want {
		if !slices.Equal(notified[i], want[i]) {
			t.Fatalf("notification %d = %v, want %v", i, notified[i], want[i])
		}
	}
}

func TestPeersReturnsCopy(t *testing.T) {
	r := New("alice", nil)
	r.Update([]string{"bob", "carol"})

	got := r.Peers()
	got[0] = "mallory"
	if r.Contains("mallory") {
		t.Fatalf("mutating the returned slice changed the roster")
	}
}
