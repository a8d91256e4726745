package proof

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boshu2/agentops-guard/internal/marker"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		state State
		unix  int64
	}{
		{"verified", "verified|1700000000\n", StateVerified, 1700000000},
		{"pending", "pending|1700000001", StatePending, 1700000001},
		{"needs verification", "needs-verification|5\n", StateNeedsVerification, 5},
		{"spaces", "  verified | 42 \n", StateVerified, 42},
		{"trailing lines ignored", "verified|7\ngarbage\n", StateVerified, 7},
		{"unknown state", "approved|1700000000", StatePending, 0},
		{"no separator", "verified", StatePending, 0},
		{"bad timestamp", "verified|yesterday", StatePending, 0},
		{"negative timestamp", "verified|-3", StatePending, 0},
		{"empty", "", StatePending, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Decode(tt.line)
			if st.State != tt.state {
				t.Errorf("Decode(%q).State = %q, want %q", tt.line, st.State, tt.state)
			}
			var got int64
			if st.Recorded() {
				got = st.Timestamp.Unix()
			}
			if got != tt.unix {
				t.Errorf("Decode(%q) timestamp = %d, want %d", tt.line, got, tt.unix)
			}
		})
	}
}

func TestStatus_EncodeRoundTrip(t *testing.T) {
	st := Status{State: StateVerified, Timestamp: time.Unix(1700000000, 0)}
	if got := st.Encode(); got != "verified|1700000000\n" {
		t.Errorf("Encode = %q", got)
	}
	if back := Decode(st.Encode()); !back.Timestamp.Equal(st.Timestamp) || back.State != st.State {
		t.Errorf("Decode(Encode) = %+v, want %+v", back, st)
	}
}

func TestParseState(t *testing.T) {
	if _, err := ParseState("verified"); err != nil {
		t.Errorf("ParseState(verified): %v", err)
	}
	if _, err := ParseState("done"); !errors.Is(err, ErrUnknownState) {
		t.Errorf("ParseState(done) err = %v, want ErrUnknownState", err)
	}
}

func TestFileStore_GetMissingIsPending(t *testing.T) {
	store := NewFileStore("", false)
	st, err := store.Get(t.TempDir())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.State != StatePending || st.Recorded() {
		t.Errorf("Get on empty project = %+v, want unrecorded pending", st)
	}
}

func TestFileStore_SetGet(t *testing.T) {
	project := t.TempDir()
	store := NewFileStore("", false)
	want := Status{State: StateVerified, Timestamp: time.Unix(1700000000, 0)}

	if err := store.Set(project, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(project, DefaultFile))
	if err != nil {
		t.Fatalf("proof file missing: %v", err)
	}
	if string(data) != "verified|1700000000\n" {
		t.Errorf("file content = %q", data)
	}

	got, err := store.Get(project)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != want.State || !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("Get = %+v, want %+v", got, want)
	}

	if err := store.Set(project, Status{State: "bogus"}); !errors.Is(err, ErrUnknownState) {
		t.Errorf("Set(bogus) err = %v, want ErrUnknownState", err)
	}
}

func TestFileStore_GarbledReadsPending(t *testing.T) {
	project := t.TempDir()
	store := NewFileStore("", false)
	path := store.Path(project)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("\x00\x01 not a status"), 0644); err != nil {
		t.Fatal(err)
	}
	st, err := store.Get(project)
	if err != nil || st.State != StatePending {
		t.Errorf("Get on garbled file = %+v, %v; want pending", st, err)
	}
}

func TestFileStore_ScopeByProject(t *testing.T) {
	project := t.TempDir()
	store := NewFileStore("", true)
	path := store.Path(project)
	if !strings.HasSuffix(path, "proof-status-"+marker.ProjectHash(project)) {
		t.Errorf("scoped path = %q, want project hash suffix", path)
	}

	if err := store.Set(project, Status{State: StateVerified, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	unscoped, err := NewFileStore("", false).Get(project)
	if err != nil {
		t.Fatal(err)
	}
	if unscoped.State != StatePending {
		t.Errorf("unscoped store saw scoped status %q", unscoped.State)
	}
}

func TestFileStore_AbsoluteFile(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "shared-proof")
	store := NewFileStore(abs, false)
	if got := store.Path("/some/project"); got != abs {
		t.Errorf("Path = %q, want %q", got, abs)
	}
}

func TestFileStore_EmptyProject(t *testing.T) {
	store := NewFileStore("", false)
	if _, err := store.Get(""); !errors.Is(err, ErrProjectRequired) {
		t.Errorf("Get(\"\") err = %v, want ErrProjectRequired", err)
	}
}

func TestInvalidator(t *testing.T) {
	now := time.Unix(1800000000, 0)
	tests := []struct {
		name      string
		initial   State
		marker    bool
		wantReset bool
		wantState State
	}{
		{"verified without marker resets", StateVerified, false, true, StatePending},
		{"verified with marker holds", StateVerified, true, false, StateVerified},
		{"pending untouched", StatePending, false, false, StatePending},
		{"needs-verification untouched", StateNeedsVerification, false, false, StateNeedsVerification},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proofs := NewMemStore()
			markers := marker.NewMemStore()
			if err := proofs.Set("/p", Status{State: tt.initial, Timestamp: time.Unix(1, 0)}); err != nil {
				t.Fatal(err)
			}
			if tt.marker {
				if err := markers.Create("s", "/p"); err != nil {
					t.Fatal(err)
				}
			}

			inv := &Invalidator{Proof: proofs, Markers: markers, Now: func() time.Time { return now }}
			reset, err := inv.Invalidate("s", "/p")
			if err != nil {
				t.Fatalf("Invalidate: %v", err)
			}
			if reset != tt.wantReset {
				t.Errorf("reset = %v, want %v", reset, tt.wantReset)
			}
			st, _ := proofs.Get("/p")
			if st.State != tt.wantState {
				t.Errorf("state = %q, want %q", st.State, tt.wantState)
			}
			if tt.wantReset && !st.Timestamp.Equal(now) {
				t.Errorf("reset timestamp = %v, want %v", st.Timestamp, now)
			}
		})
	}
}

type failingMarkers struct{}

func (failingMarkers) Exists(string, string) (bool, error) {
	return false, errors.New("disk on fire")
}

func TestInvalidator_MarkerError(t *testing.T) {
	proofs := NewMemStore()
	_ = proofs.Set("/p", Status{State: StateVerified, Timestamp: time.Unix(1, 0)})
	inv := NewInvalidator(proofs, failingMarkers{})
	if _, err := inv.Invalidate("s", "/p"); err == nil {
		t.Fatal("expected error from marker check")
	}
	if st, _ := proofs.Get("/p"); st.State != StateVerified {
		t.Errorf("state changed to %q on marker error", st.State)
	}
}
