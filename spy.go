package main

import (
	"crypto/rand"
	"math/big"
)

// Spy mode: one player gets the spy card, everyone else shares a secret
// location. There is no night phase; the round goes straight to discussion
// because the sequencer finds no role to wake.

var spyLocations = []string{
	"airplane",
	"amusement park",
	"bank",
	"beach",
	"casino",
	"cathedral",
	"circus tent",
	"corporate party",
	"crusader army",
	"day spa",
	"embassy",
	"hospital",
	"hotel",
	"military base",
	"movie studio",
	"ocean liner",
	"passenger train",
	"pirate ship",
	"polar station",
	"police station",
	"restaurant",
	"school",
	"service station",
	"space station",
	"submarine",
	"supermarket",
	"theater",
	"university",
}

// spyDeal picks one spy and a location, dealing straight into the room.
// Original and current roles coincide: spy mode has no swaps.
func spyDeal(room *Room) {
	ids := playerIDsByJoinTime(room.Players)
	roles := make(map[string]string, len(ids))
	for _, id := range ids {
		roles[id] = RoleCivilian
	}
	roles[ids[randomIndex(len(ids))]] = RoleSpy

	room.OriginalRoles = roles
	room.CurrentRoles = copyRoles(roles)
	room.Location = spyLocations[randomIndex(len(spyLocations))]
}

// spyWinners: catching the spy is the civilians' only path to victory. A
// tie, an abstain, or a wrong elimination all let the spy walk.
func spyWinners(room *Room, eliminatedID string) string {
	if eliminatedID != "" && room.CurrentRoles[eliminatedID] == RoleSpy {
		return WinnersVillage
	}
	return WinnersWerewolf
}

func randomIndex(n int) int {
	jBig, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(jBig.Int64())
}
