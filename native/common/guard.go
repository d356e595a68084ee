// Package common holds helpers shared by native modules.
package common

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModulePaused is returned by Guard when governance has halted a module.
var ErrModulePaused = errors.New("module paused")

// PauseView answers whether a module is currently paused.
type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauses is a fixed set of paused modules, used when pause flags come
// from node configuration rather than state.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	return s[strings.TrimSpace(module)]
}

// Guard fails when module is paused. A nil view never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}
