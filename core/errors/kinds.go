// Package errors classifies the sentinel errors of the fixed-term modules so
// callers (the crank, the HTTP gateway) can decide whether a failure is worth
// retrying.
package errors

import (
	stderrors "errors"
	"sync"
)

// Kind groups failures by how a caller should react to them.
type Kind uint8

const (
	// KindUnknown covers errors nobody registered.
	KindUnknown Kind = iota
	// KindFatal aborts the call: overflow, out of space, key collisions.
	KindFatal
	// KindSequence means a loan or deposit other than the oldest was
	// targeted. Retry with the correct sequence number.
	KindSequence
	// KindPolicy rejects order parameters. Retry with adjusted parameters.
	KindPolicy
	// KindAuthorization means the actor lacks a permission.
	KindAuthorization
	// KindStaleness means price or balance data is too old.
	KindStaleness
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindSequence:
		return "sequence"
	case KindPolicy:
		return "policy"
	case KindAuthorization:
		return "authorization"
	case KindStaleness:
		return "staleness"
	default:
		return "unknown"
	}
}

type registration struct {
	err  error
	kind Kind
}

var (
	mu            sync.RWMutex
	registrations []registration
)

// Register associates sentinel errors with a kind. Packages call it from
// init.
func Register(kind Kind, errs ...error) {
	mu.Lock()
	defer mu.Unlock()
	for _, err := range errs {
		if err == nil {
			continue
		}
		registrations = append(registrations, registration{err: err, kind: kind})
	}
}

// Classify returns the kind of the first registered sentinel found in err's
// chain.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	mu.RLock()
	defer mu.RUnlock()
	for _, r := range registrations {
		if stderrors.Is(err, r.err) {
			return r.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the same call may succeed later or with
// corrected arguments.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindSequence, KindPolicy, KindStaleness:
		return true
	default:
		return false
	}
}
