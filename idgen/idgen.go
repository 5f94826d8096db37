// Package idgen produces the identifiers used across blockreasons: prompt
// tokens that tie a modal answer to the request that opened it, and admin
// request IDs echoed in X-Request-ID.
package idgen

import (
	"crypto/rand"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID returns a Generator of random base-36 IDs of the given length.
func NanoID(length int) Generator {
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = base36[int(buf[i])%len(base36)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator of time-ordered RFC 9562 UUIDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID of gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Sequence returns a Generator of prefix1, prefix2, ... for deterministic
// tests and logs.
func Sequence(prefix string) Generator {
	var n atomic.Int64
	return func() string {
		return prefix + strconv.FormatInt(n.Add(1), 10)
	}
}

// PromptTokens names prompts with time-ordered UUIDs.
func PromptTokens() Generator { return Prefixed("prompt_", UUIDv7()) }

// RequestIDs names admin requests.
func RequestIDs() Generator { return Prefixed("req_", NanoID(10)) }
