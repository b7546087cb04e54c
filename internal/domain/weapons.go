package domain

import "fmt"

// Weapon display names keyed by the weapon id carried in gamelog kill
// packets. Indices follow the DXX weapon_info table; D2-only weapons
// start at 30.
var weaponNames = map[uint8]string{
	0:  "Laser Lvl 1",
	1:  "Laser Lvl 2",
	2:  "Laser Lvl 3",
	3:  "Laser Lvl 4",
	8:  "Concussion Missile",
	9:  "Flare",
	11: "Vulcan Cannon",
	12: "Spreadfire Cannon",
	13: "Plasma Cannon",
	14: "Fusion Cannon",
	15: "Homing Missile",
	16: "Proximity Bomb",
	17: "Smart Missile",
	18: "Mega Missile",
	30: "Laser Lvl 5",
	31: "Laser Lvl 6",
	32: "Gauss Cannon",
	33: "Helix Cannon",
	34: "Phoenix Cannon",
	35: "Omega Cannon",
	36: "Flash Missile",
	37: "Guided Missile",
	38: "Smart Mine",
	39: "Mercury Missile",
	40: "Earthshaker Missile",
}

// WeaponName converts a gamelog weapon id to its display name.
func WeaponName(id uint8) string {
	if name, ok := weaponNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Weapon %d", id)
}
