package state

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"fixedterm/crypto"
)

func roleKey(role string) []byte {
	return []byte("role/" + role)
}

func pauseKey(module string) []byte {
	return []byte("pause/" + module)
}

// SetRole associates an address with the specified role. Duplicate assignments
// are ignored while the stored list remains sorted for determinism.
func (m *Manager) SetRole(role string, addr crypto.Address) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if existing == addr {
			return nil
		}
	}
	members = append(members, addr)
	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i][:], members[j][:]) < 0
	})
	return m.KVPut(roleKey(trimmed), members)
}

// RevokeRole removes addr from role.
func (m *Manager) RevokeRole(role string, addr crypto.Address) error {
	trimmed := strings.TrimSpace(role)
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	kept := members[:0]
	for _, existing := range members {
		if existing != addr {
			kept = append(kept, existing)
		}
	}
	return m.KVPut(roleKey(trimmed), kept)
}

// RoleMembers returns all addresses assigned to the provided role.
func (m *Manager) RoleMembers(role string) ([]crypto.Address, error) {
	var members []crypto.Address
	if err := m.KVGetList(roleKey(strings.TrimSpace(role)), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole reports whether the provided address is associated with the
// specified role. Errors while reading the underlying state result in a false
// return.
func (m *Manager) HasRole(role string, addr crypto.Address) bool {
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member == addr {
			return true
		}
	}
	return false
}

// CapabilityRole names the role granting capability within airspace.
func CapabilityRole(airspace, capability string) string {
	return strings.TrimSpace(airspace) + ":" + strings.TrimSpace(capability)
}

// IsAuthorized answers governance checks from role membership.
func (m *Manager) IsAuthorized(airspace string, actor crypto.Address, capability string) bool {
	return m.HasRole(CapabilityRole(airspace, capability), actor)
}

// SetPaused records whether module is paused.
func (m *Manager) SetPaused(module string, paused bool) error {
	module = strings.TrimSpace(module)
	if module == "" {
		return fmt.Errorf("module must not be empty")
	}
	return m.KVPut(pauseKey(module), paused)
}

// IsPaused reports whether module is paused. Read errors count as not
// paused.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.KVGet(pauseKey(strings.TrimSpace(module)), &paused)
	return ok && err == nil && paused
}
