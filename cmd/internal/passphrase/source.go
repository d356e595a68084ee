// Package passphrase resolves the authority keystore passphrase for the
// daemon.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from an environment variable or by
// prompting on the terminal. The first result is cached.
type Source struct {
	envVar string

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting. An
// empty envVar selects the unencrypted development keystore and resolves to
// the empty passphrase without prompting.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar)}
}

// Get returns the cached passphrase or resolves it on the first call.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar == "" {
			return
		}
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				s.err = fmt.Errorf("%s is set but empty", s.envVar)
				return
			}
			s.value = value
			return
		}

		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			s.err = fmt.Errorf("authority keystore passphrase required; set %s or run interactively", s.envVar)
			return
		}
		fmt.Fprint(os.Stderr, "Enter authority keystore passphrase: ")
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("failed to read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = errors.New("authority keystore passphrase cannot be empty")
			return
		}
		s.value = string(raw)
	})
	return s.value, s.err
}
