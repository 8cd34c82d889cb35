package kvstore

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type AdapterFactory func(dsn string) (Adapter, error)

var adapterFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]AdapterFactory
}{
	factories: map[string]AdapterFactory{},
}

// RegisterAdapterFactory installs a custom adapter scheme. Registration
// for an already-known scheme replaces the previous factory.
func RegisterAdapterFactory(scheme string, factory AdapterFactory) {
	scheme = normalizeScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	adapterFactoryRegistry.mu.Lock()
	defer adapterFactoryRegistry.mu.Unlock()
	adapterFactoryRegistry.factories[scheme] = factory
}

func lookupAdapterFactory(scheme string) (AdapterFactory, bool) {
	scheme = normalizeScheme(scheme)
	adapterFactoryRegistry.mu.RLock()
	defer adapterFactoryRegistry.mu.RUnlock()
	factory, ok := adapterFactoryRegistry.factories[scheme]
	return factory, ok
}

// BuildAdapterFromDSN resolves a storage adapter from a DSN. An empty
// DSN yields an in-memory adapter.
func BuildAdapterFromDSN(dsn string) (Adapter, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewInMemoryAdapter(), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupAdapterFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileAdapter(path)
	case "memory", "mem", "inmem":
		return NewInMemoryAdapter(), nil
	case "sqlite":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteAdapter(path)
	default:
		return nil, fmt.Errorf("unsupported storage adapter scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Opaque != "" {
		return parsed.Opaque, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		path = strings.TrimPrefix(raw, parsed.Scheme+"://")
	}
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
