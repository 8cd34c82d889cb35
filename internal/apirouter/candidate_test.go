package apirouter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/agentworkforce/genrelay/internal/kvstore"
)

func TestNormalizeBase(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"https://api.example.com", "https://api.example.com"},
		{"https://api.example.com/", "https://api.example.com"},
		{"HTTPS://api.example.com/v1/", "https://api.example.com/v1"},
		{"http://127.0.0.1:8787", "http://127.0.0.1:8787"},
		{"ftp://api.example.com", ""},
		{"javascript:alert(1)", ""},
		{"not a url", ""},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range cases {
		if got := NormalizeBase(tc.raw); got != tc.want {
			t.Fatalf("NormalizeBase(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestResolveCandidatesPriorityAndDedupe(t *testing.T) {
	env := Env{
		PrimaryBase:   "https://primary.example.com",
		SecondaryBase: "https://secondary.example.com",
	}
	state := RuntimeState{
		OverrideBase:          "https://override.example.com",
		SecondaryOverrideBase: "https://secondary.example.com/",
	}
	got := ResolveCandidates(env, state, PageContext{Scheme: "https", Host: "app.example.com"})
	want := []string{
		"https://override.example.com",
		"https://primary.example.com",
		"https://secondary.example.com",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("candidate order mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveCandidatesLastHealthyMovesToFront(t *testing.T) {
	env := Env{
		PrimaryBase:   "https://primary.example.com",
		SecondaryBase: "https://secondary.example.com",
	}
	state := RuntimeState{LastHealthyBase: "https://secondary.example.com"}
	got := ResolveCandidates(env, state, PageContext{})
	want := []string{
		"https://secondary.example.com",
		"https://primary.example.com",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("candidate order mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveCandidatesStaleHealthyBaseNotResurrected(t *testing.T) {
	env := Env{PrimaryBase: "https://primary.example.com"}
	state := RuntimeState{LastHealthyBase: "https://gone.example.com"}
	got := ResolveCandidates(env, state, PageContext{})
	want := []string{"https://primary.example.com"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stale healthy base leaked back in (-want +got):\n%s", diff)
	}
}

func TestResolveCandidatesLoopbackEligibility(t *testing.T) {
	env := Env{
		PrimaryBase:       "https://primary.example.com",
		LocalFallbackBase: "http://127.0.0.1:8787",
	}
	securePage := PageContext{Scheme: "https", Host: "app.example.com"}

	// Fallback disabled: loopback never appears.
	got := ResolveCandidates(env, RuntimeState{}, securePage)
	if len(got) != 1 || got[0] != "https://primary.example.com" {
		t.Fatalf("expected only primary, got %v", got)
	}

	// Fallback allowed but the page is secure and non-loopback: the
	// insecure loopback target must still be excluded.
	got = ResolveCandidates(env, RuntimeState{AllowLocalFallback: true}, securePage)
	for _, candidate := range got {
		if candidate == "http://127.0.0.1:8787" {
			t.Fatalf("insecure loopback offered to a secure page: %v", got)
		}
	}

	// Insecure page: loopback is eligible.
	got = ResolveCandidates(env, RuntimeState{AllowLocalFallback: true}, PageContext{Scheme: "http", Host: "app.example.com"})
	if len(got) != 2 || got[1] != "http://127.0.0.1:8787" {
		t.Fatalf("expected loopback appended last for insecure page, got %v", got)
	}

	// Secure page served from loopback: also eligible.
	got = ResolveCandidates(env, RuntimeState{AllowLocalFallback: true}, PageContext{Scheme: "https", Host: "localhost:3000"})
	if len(got) != 2 || got[1] != "http://127.0.0.1:8787" {
		t.Fatalf("expected loopback appended for loopback page, got %v", got)
	}

	// An https loopback candidate is always eligible.
	httpsLoopback := Env{LocalFallbackBase: "https://127.0.0.1:8787"}
	got = ResolveCandidates(httpsLoopback, RuntimeState{AllowLocalFallback: true}, securePage)
	if len(got) != 1 || got[0] != "https://127.0.0.1:8787" {
		t.Fatalf("expected https loopback eligible, got %v", got)
	}
}

func TestRuntimeStateRoundTrip(t *testing.T) {
	store := kvstore.NewInMemoryAdapter()
	if err := SetOverrideBase(store, "https://override.example.com/"); err != nil {
		t.Fatalf("set override failed: %v", err)
	}
	if err := SetSecondaryOverrideBase(store, "https://backup.example.com"); err != nil {
		t.Fatalf("set secondary override failed: %v", err)
	}
	if err := SetAllowLocalFallback(store, true); err != nil {
		t.Fatalf("set allow local fallback failed: %v", err)
	}

	state := LoadRuntimeState(store)
	if state.OverrideBase != "https://override.example.com" {
		t.Fatalf("unexpected override base %q", state.OverrideBase)
	}
	if state.SecondaryOverrideBase != "https://backup.example.com" {
		t.Fatalf("unexpected secondary override base %q", state.SecondaryOverrideBase)
	}
	if !state.AllowLocalFallback {
		t.Fatalf("expected allow local fallback persisted")
	}

	// Clearing the override removes the key.
	if err := SetOverrideBase(store, ""); err != nil {
		t.Fatalf("clear override failed: %v", err)
	}
	if state := LoadRuntimeState(store); state.OverrideBase != "" {
		t.Fatalf("expected override cleared, got %q", state.OverrideBase)
	}
}
