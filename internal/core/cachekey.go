package core

// CacheKey identifies a cache by name within a DiscoCache, with a
// distinct zero value for the unnamed default cache. This replaces
// the "fake UUID sentinel" historically used for the null cache name
// (spec.md §9 Design Notes) with a proper sum type: Default and
// Named never collide regardless of what string a caller might
// otherwise have chosen as a sentinel.
type CacheKey struct {
	named bool
	name  string
}

// DefaultCacheKey returns the key for the unnamed default cache.
func DefaultCacheKey() CacheKey { return CacheKey{} }

// NamedCacheKey returns the key for the cache with the given name.
func NamedCacheKey(name string) CacheKey { return CacheKey{named: true, name: name} }

// IsDefault reports whether k identifies the default cache.
func (k CacheKey) IsDefault() bool { return !k.named }

// Name returns the cache name and true, or ("", false) for the
// default cache.
func (k CacheKey) Name() (string, bool) { return k.name, k.named }

func (k CacheKey) String() string {
	if !k.named {
		return "<default>"
	}
	return k.name
}
