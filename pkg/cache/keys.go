package cache

import "strings"

const keySep = ":"

// Key joins parts into a namespaced key, e.g. Key("position", id).
func Key(parts ...string) string {
	return strings.Join(parts, keySep)
}

// Under is the glob matching every key directly under prefix.
func Under(prefix string) string {
	return prefix + keySep + "*"
}

// namespace prefixes keys on the way into a shared keyspace and strips the
// prefix on the way out. The empty namespace is the identity.
type namespace string

func (ns namespace) wrap(key string) string {
	if ns == "" {
		return key
	}
	return string(ns) + keySep + key
}

func (ns namespace) wrapAll(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = ns.wrap(k)
	}
	return out
}

func (ns namespace) unwrap(key string) string {
	if ns == "" {
		return key
	}
	return strings.TrimPrefix(key, string(ns)+keySep)
}
