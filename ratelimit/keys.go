package ratelimit

import (
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"strings"
)

// KeyFunc derives the admission key for a request. The limiter is agnostic
// to how keys are built; callers pick or supply a strategy.
type KeyFunc func(r *http.Request) string

// shardIndex maps a key to a shard via FNV-1a.
func shardIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// hashKey collapses an identity string into a short stable key so raw IPs
// and user agents are not kept verbatim in limiter records.
func hashKey(identity string) string {
	h := fnv.New64a()
	h.Write([]byte(identity))
	return fmt.Sprintf("%016x", h.Sum64())
}

// ClientIP extracts the originating client IP: first X-Forwarded-For hop,
// then X-Real-IP, then the RemoteAddr host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// ByIPUserAgent keys requests on a hash of (client IP, User-Agent). This is
// the default strategy.
func ByIPUserAgent() KeyFunc {
	return func(r *http.Request) string {
		return hashKey(ClientIP(r) + "|" + r.UserAgent())
	}
}

// ByIP keys requests on the client IP alone.
func ByIP() KeyFunc {
	return func(r *http.Request) string {
		return hashKey(ClientIP(r))
	}
}

// ByIPEndpoint keys requests on (client IP, method, path), giving each
// endpoint its own quota per client.
func ByIPEndpoint() KeyFunc {
	return func(r *http.Request) string {
		return hashKey(ClientIP(r) + "|" + r.Method + "|" + r.URL.Path)
	}
}

// ByUserID keys requests on a caller-extracted user identity, falling back
// to the default strategy when the extractor returns an empty string.
func ByUserID(extract func(r *http.Request) string) KeyFunc {
	fallback := ByIPUserAgent()
	return func(r *http.Request) string {
		if id := extract(r); id != "" {
			return hashKey("user|" + id)
		}
		return fallback(r)
	}
}
