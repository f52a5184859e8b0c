package main

// Role tags. A player's "original" role is the one dealt at start and never
// changes; their "current" role is the one they actually hold after swaps.
const (
	RoleWerewolf     = "werewolf"
	RoleMinion       = "minion"
	RoleMason        = "mason"
	RoleSeer         = "seer"
	RoleRobber       = "robber"
	RoleTroublemaker = "troublemaker"
	RoleDrunk        = "drunk"
	RoleWitch        = "witch"
	RoleInsomniac    = "insomniac"
	RoleVillager     = "villager"

	// Spy mode roles
	RoleSpy      = "spy"
	RoleCivilian = "civilian"
)

// Game modes
const (
	ModeWerewolf = "werewolf"
	ModeSpy      = "spy"
)

// RoleInfo describes a role for lobby display and reveal screens.
type RoleInfo struct {
	Tag         string `json:"tag"`
	Name        string `json:"name"`
	Team        string `json:"team"`
	Description string `json:"description"`
}

var roleCatalog = map[string]RoleInfo{
	RoleWerewolf:     {RoleWerewolf, "Werewolf", "werewolf", "Wakes with the other werewolves. A lone wolf may peek one center card."},
	RoleMinion:       {RoleMinion, "Minion", "werewolf", "Learns who the werewolves are, but is not one of them."},
	RoleMason:        {RoleMason, "Mason", "villager", "Wakes and sees the other mason."},
	RoleSeer:         {RoleSeer, "Seer", "villager", "Looks at one player's card or two center cards."},
	RoleRobber:       {RoleRobber, "Robber", "villager", "Swaps cards with another player and looks at the new card."},
	RoleTroublemaker: {RoleTroublemaker, "Troublemaker", "villager", "Swaps the cards of two other players without looking."},
	RoleDrunk:        {RoleDrunk, "Drunk", "villager", "Must exchange their card with a center card, without looking."},
	RoleWitch:        {RoleWitch, "Witch", "villager", "Peeks a center card and may give it to any player."},
	RoleInsomniac:    {RoleInsomniac, "Insomniac", "villager", "Wakes last and looks at their own card."},
	RoleVillager:     {RoleVillager, "Villager", "villager", "No night action. Relies on deduction and discussion."},
	RoleSpy:          {RoleSpy, "Spy", "spy", "Does not know the location. Blend in and figure it out."},
	RoleCivilian:     {RoleCivilian, "Civilian", "civilian", "Knows the location. Find the spy without giving it away."},
}

// nightPrecedence is the canonical wake order. The night order of a given
// round is this list restricted to roles someone was actually dealt.
var nightPrecedence = []string{
	RoleWerewolf,
	RoleMinion,
	RoleMason,
	RoleSeer,
	RoleRobber,
	RoleTroublemaker,
	RoleDrunk,
	RoleWitch,
	RoleInsomniac,
	RoleVillager,
}

func isKnownRole(tag string) bool {
	_, ok := roleCatalog[tag]
	return ok
}

func countRole(roles []string, tag string) int {
	n := 0
	for _, r := range roles {
		if r == tag {
			n++
		}
	}
	return n
}
