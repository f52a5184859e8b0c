package main

import (
	"crypto/rand"
	"math/big"
)

const (
	minPlayers  = 3
	maxPlayers  = 10
	centerCount = 3
)

// validateRoleSet checks the host-configurable role multiset. It is called
// both by updateSelectedRoles (length not yet enforceable, players may still
// join) and by start (full check).
func validateRoleSet(roles []string, playerCount int, enforceLength bool) *GameError {
	for _, tag := range roles {
		if !isKnownRole(tag) {
			return validationError("unknown role %q", tag)
		}
	}
	if countRole(roles, RoleWerewolf) < 1 {
		return validationError("role set needs at least one werewolf")
	}
	if n := countRole(roles, RoleMason); n == 1 {
		return validationError("masons must be 0 or 2+")
	}
	if enforceLength && len(roles) != playerCount+centerCount {
		return validationError("need exactly %d roles for %d players, have %d",
			playerCount+centerCount, playerCount, len(roles))
	}
	return nil
}

// assignRoles deals a random bijection players→roles plus three center
// cards. The input multiset is preserved exactly: swaps later relocate
// values, assignment is the only place they are created.
func assignRoles(playerIDs []string, selectedRoles []string) (assigned map[string]string, center []string) {
	pool := make([]string, len(selectedRoles))
	copy(pool, selectedRoles)
	shuffleRoles(pool)

	assigned = make(map[string]string, len(playerIDs))
	for i, id := range playerIDs {
		assigned[id] = pool[i]
	}
	center = make([]string, centerCount)
	copy(center, pool[len(playerIDs):])
	return assigned, center
}

// copyRoles clones a role map so originalRoles and currentRoles start equal
// without sharing storage.
func copyRoles(roles map[string]string) map[string]string {
	out := make(map[string]string, len(roles))
	for id, role := range roles {
		out[id] = role
	}
	return out
}

// shuffleRoles shuffles the role pool using crypto/rand
func shuffleRoles(roles []string) {
	for i := len(roles) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			// Fallback: just swap with previous element
			roles[i], roles[i-1] = roles[i-1], roles[i]
			continue
		}
		j := int(jBig.Int64())
		roles[i], roles[j] = roles[j], roles[i]
	}
}

// nightOrderForRoles computes the wake order for a round: the canonical
// precedence restricted to roles someone was actually dealt. Roles with no
// instances never appear, so the sequencer cannot stall on them.
func nightOrderForRoles(originalRoles map[string]string) []string {
	present := make(map[string]bool, len(originalRoles))
	for _, role := range originalRoles {
		present[role] = true
	}
	var order []string
	for _, role := range nightPrecedence {
		if present[role] {
			order = append(order, role)
		}
	}
	return order
}
