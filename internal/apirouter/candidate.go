// Package apirouter resolves an ordered list of backend base addresses
// from build-time configuration plus persisted runtime state, executes
// HTTP requests with retry-then-failover semantics, probes candidate
// health, and maps failures to user-facing messages.
package apirouter

import (
	"net"
	"net/url"
	"strings"

	"github.com/agentworkforce/genrelay/internal/kvstore"
)

const (
	overrideBaseKey          = "api.base_override"
	secondaryOverrideBaseKey = "api.secondary_base_override"
	allowLocalFallbackKey    = "api.allow_local_fallback"
	lastHealthyBaseKey       = "api.last_healthy_base"
)

// Env holds the build-time base addresses compiled into the dashboard.
type Env struct {
	PrimaryBase       string
	SecondaryBase     string
	LocalFallbackBase string
}

// PageContext describes the origin the dashboard itself is served from.
// It gates whether loopback candidates may be attempted.
type PageContext struct {
	Scheme string
	Host   string
}

// RuntimeState is the mutable routing state persisted via the storage
// adapter. It is re-read at the start of every logical operation and
// never cached process-wide; concurrent writers race last-writer-wins,
// which is acceptable because these fields are routing hints only.
type RuntimeState struct {
	OverrideBase          string
	SecondaryOverrideBase string
	AllowLocalFallback    bool
	LastHealthyBase       string
}

func LoadRuntimeState(store kvstore.Adapter) RuntimeState {
	var state RuntimeState
	if store == nil {
		return state
	}
	if value, ok := store.Get(overrideBaseKey); ok {
		state.OverrideBase = NormalizeBase(value)
	}
	if value, ok := store.Get(secondaryOverrideBaseKey); ok {
		state.SecondaryOverrideBase = NormalizeBase(value)
	}
	if value, ok := store.Get(allowLocalFallbackKey); ok {
		state.AllowLocalFallback = strings.EqualFold(strings.TrimSpace(value), "true")
	}
	if value, ok := store.Get(lastHealthyBaseKey); ok {
		state.LastHealthyBase = NormalizeBase(value)
	}
	return state
}

// SetOverrideBase persists the runtime override base. An empty or
// invalid base clears the override.
func SetOverrideBase(store kvstore.Adapter, base string) error {
	return setBaseKey(store, overrideBaseKey, base)
}

func SetSecondaryOverrideBase(store kvstore.Adapter, base string) error {
	return setBaseKey(store, secondaryOverrideBaseKey, base)
}

func SetAllowLocalFallback(store kvstore.Adapter, allow bool) error {
	if store == nil {
		return kvstore.ErrInvalidInput
	}
	if !allow {
		return store.Remove(allowLocalFallbackKey)
	}
	return store.Set(allowLocalFallbackKey, "true")
}

func setLastHealthyBase(store kvstore.Adapter, base string) error {
	return setBaseKey(store, lastHealthyBaseKey, base)
}

func setBaseKey(store kvstore.Adapter, key, base string) error {
	if store == nil {
		return kvstore.ErrInvalidInput
	}
	normalized := NormalizeBase(base)
	if normalized == "" {
		return store.Remove(key)
	}
	return store.Set(key, normalized)
}

// NormalizeBase turns raw input into an absolute http(s) base address
// without a trailing slash. Anything else normalizes to "".
func NormalizeBase(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	if parsed.Host == "" {
		return ""
	}
	parsed.Scheme = scheme
	parsed.Fragment = ""
	parsed.RawQuery = ""
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return strings.TrimRight(parsed.String(), "/")
}

// ResolveCandidates builds the ordered candidate list for one request.
// Priority: runtime override, env primary, runtime secondary override,
// env secondary, then the local fallback when allowed and eligible.
// A recorded last-healthy base moves to the front only when it is still
// part of the configured set; a stale base is never resurrected.
func ResolveCandidates(env Env, state RuntimeState, page PageContext) []string {
	ordered := []string{
		NormalizeBase(state.OverrideBase),
		NormalizeBase(env.PrimaryBase),
		NormalizeBase(state.SecondaryOverrideBase),
		NormalizeBase(env.SecondaryBase),
	}
	if state.AllowLocalFallback {
		ordered = append(ordered, NormalizeBase(env.LocalFallbackBase))
	}

	seen := map[string]bool{}
	candidates := make([]string, 0, len(ordered))
	for _, candidate := range ordered {
		if candidate == "" || seen[candidate] {
			continue
		}
		if !loopbackEligible(candidate, page) {
			continue
		}
		seen[candidate] = true
		candidates = append(candidates, candidate)
	}

	lastHealthy := NormalizeBase(state.LastHealthyBase)
	if lastHealthy != "" && seen[lastHealthy] && len(candidates) > 0 && candidates[0] != lastHealthy {
		reordered := make([]string, 0, len(candidates))
		reordered = append(reordered, lastHealthy)
		for _, candidate := range candidates {
			if candidate != lastHealthy {
				reordered = append(reordered, candidate)
			}
		}
		candidates = reordered
	}
	return candidates
}

// loopbackEligible prevents a securely-served page from silently
// downgrading to an insecure loopback target. A loopback candidate is
// attempted only when it is https itself, or the page is already served
// insecurely, or the page host is itself loopback.
func loopbackEligible(candidate string, page PageContext) bool {
	parsed, err := url.Parse(candidate)
	if err != nil {
		return false
	}
	if !isLoopbackHost(parsed.Hostname()) {
		return true
	}
	if strings.ToLower(parsed.Scheme) == "https" {
		return true
	}
	if strings.ToLower(strings.TrimSpace(page.Scheme)) != "https" {
		return true
	}
	return isLoopbackHost(hostOnly(page.Host))
}

func isLoopbackHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func hostOnly(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
