package sim

import (
	"strings"
)

// Dex holds the static battle data: the type chart, species base stats,
// move metadata and items. All lookups are by normalized ID.
type Dex struct {
	species map[string]*Species
	moves   map[string]*Move
	items   map[string]*Item
}

// Species describes one species entry
type Species struct {
	ID        string
	Name      string
	Types     []string
	BaseStats Stats
	// Learnset is used for generated teams; submitted teams may carry any
	// resolvable move.
	Learnset []string
}

// Stats is a base-stat spread
type Stats struct {
	HP  int
	Atk int
	Def int
	SpA int
	SpD int
	Spe int
}

// Move categories
const (
	CategoryPhysical = "Physical"
	CategorySpecial  = "Special"
	CategoryStatus   = "Status"
)

// Move describes one move entry. Accuracy 0 means the move never misses.
type Move struct {
	ID        string
	Name      string
	Type      string
	Category  string
	BasePower int
	Accuracy  int
	Priority  int
}

// Item describes one held item entry
type Item struct {
	ID   string
	Name string
}

// ToID normalizes a display name to a dex ID: lowercase alphanumerics only.
func ToID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// typeChart lists only the non-neutral matchups: attacking type to
// defending type to multiplier.
var typeChart = map[string]map[string]float64{
	"Normal":   {"Rock": 0.5, "Ghost": 0, "Steel": 0.5},
	"Fire":     {"Fire": 0.5, "Water": 0.5, "Grass": 2, "Ice": 2, "Bug": 2, "Rock": 0.5, "Dragon": 0.5, "Steel": 2},
	"Water":    {"Fire": 2, "Water": 0.5, "Grass": 0.5, "Ground": 2, "Rock": 2, "Dragon": 0.5},
	"Electric": {"Water": 2, "Electric": 0.5, "Grass": 0.5, "Ground": 0, "Flying": 2, "Dragon": 0.5},
	"Grass":    {"Fire": 0.5, "Water": 2, "Grass": 0.5, "Poison": 0.5, "Ground": 2, "Flying": 0.5, "Bug": 0.5, "Rock": 2, "Dragon": 0.5, "Steel": 0.5},
	"Ice":      {"Fire": 0.5, "Water": 0.5, "Grass": 2, "Ice": 0.5, "Ground": 2, "Flying": 2, "Dragon": 2, "Steel": 0.5},
	"Fighting": {"Normal": 2, "Ice": 2, "Poison": 0.5, "Flying": 0.5, "Psychic": 0.5, "Bug": 0.5, "Rock": 2, "Ghost": 0, "Dark": 2, "Steel": 2, "Fairy": 0.5},
	"Poison":   {"Grass": 2, "Poison": 0.5, "Ground": 0.5, "Rock": 0.5, "Ghost": 0.5, "Steel": 0, "Fairy": 2},
	"Ground":   {"Fire": 2, "Electric": 2, "Grass": 0.5, "Poison": 2, "Flying": 0, "Bug": 0.5, "Rock": 2, "Steel": 2},
	"Flying":   {"Electric": 0.5, "Grass": 2, "Fighting": 2, "Bug": 2, "Rock": 0.5, "Steel": 0.5},
	"Psychic":  {"Fighting": 2, "Poison": 2, "Psychic": 0.5, "Dark": 0, "Steel": 0.5},
	"Bug":      {"Fire": 0.5, "Grass": 2, "Fighting": 0.5, "Poison": 0.5, "Flying": 0.5, "Psychic": 2, "Ghost": 0.5, "Dark": 2, "Steel": 0.5, "Fairy": 0.5},
	"Rock":     {"Fire": 2, "Ice": 2, "Fighting": 0.5, "Ground": 0.5, "Flying": 2, "Bug": 2, "Steel": 0.5},
	"Ghost":    {"Normal": 0, "Psychic": 2, "Ghost": 2, "Dark": 0.5},
	"Dragon":   {"Dragon": 2, "Steel": 0.5, "Fairy": 0},
	"Dark":     {"Fighting": 0.5, "Psychic": 2, "Ghost": 2, "Dark": 0.5, "Fairy": 0.5},
	"Steel":    {"Fire": 0.5, "Water": 0.5, "Electric": 0.5, "Ice": 2, "Rock": 2, "Steel": 0.5, "Fairy": 2},
	"Fairy":    {"Fire": 0.5, "Fighting": 2, "Poison": 0.5, "Dragon": 2, "Dark": 2, "Steel": 0.5},
}

// TypeEffect returns the damage multiplier of an attacking type against a
// set of defending types.
func TypeEffect(attacking string, defending []string) float64 {
	mult := 1.0
	row, ok := typeChart[attacking]
	if !ok {
		return mult
	}
	for _, d := range defending {
		if m, ok := row[d]; ok {
			mult *= m
		}
	}
	return mult
}

var speciesData = []*Species{
	{Name: "Pikachu", Types: []string{"Electric"}, BaseStats: Stats{35, 55, 40, 50, 50, 90},
		Learnset: []string{"Thunderbolt", "Volt Tackle", "Iron Tail", "Quick Attack"}},
	{Name: "Charizard", Types: []string{"Fire", "Flying"}, BaseStats: Stats{78, 84, 78, 109, 85, 100},
		Learnset: []string{"Flamethrower", "Air Slash", "Dragon Claw", "Earthquake"}},
	{Name: "Blastoise", Types: []string{"Water"}, BaseStats: Stats{79, 83, 100, 85, 105, 78},
		Learnset: []string{"Hydro Pump", "Ice Beam", "Earthquake", "Flash Cannon"}},
	{Name: "Venusaur", Types: []string{"Grass", "Poison"}, BaseStats: Stats{80, 82, 83, 100, 100, 80},
		Learnset: []string{"Giga Drain", "Sludge Bomb", "Earth Power", "Leech Seed"}},
	{Name: "Garchomp", Types: []string{"Dragon", "Ground"}, BaseStats: Stats{108, 130, 95, 80, 85, 102},
		Learnset: []string{"Earthquake", "Dragon Claw", "Stone Edge", "Fire Fang"}},
	{Name: "Dragonite", Types: []string{"Dragon", "Flying"}, BaseStats: Stats{91, 134, 95, 100, 100, 80},
		Learnset: []string{"Outrage", "Extreme Speed", "Earthquake", "Ice Punch"}},
	{Name: "Tyranitar", Types: []string{"Rock", "Dark"}, BaseStats: Stats{100, 134, 110, 95, 100, 61},
		Learnset: []string{"Stone Edge", "Crunch", "Earthquake", "Ice Punch"}},
	{Name: "Metagross", Types: []string{"Steel", "Psychic"}, BaseStats: Stats{80, 135, 130, 95, 90, 70},
		Learnset: []string{"Meteor Mash", "Zen Headbutt", "Earthquake", "Bullet Punch"}},
	{Name: "Gengar", Types: []string{"Ghost", "Poison"}, BaseStats: Stats{60, 65, 60, 130, 75, 110},
		Learnset: []string{"Shadow Ball", "Sludge Bomb", "Focus Blast", "Thunderbolt"}},
	{Name: "Alakazam", Types: []string{"Psychic"}, BaseStats: Stats{55, 50, 45, 135, 95, 120},
		Learnset: []string{"Psychic", "Shadow Ball", "Focus Blast", "Dazzling Gleam"}},
	{Name: "Machamp", Types: []string{"Fighting"}, BaseStats: Stats{90, 130, 80, 65, 85, 55},
		Learnset: []string{"Close Combat", "Stone Edge", "Ice Punch", "Bullet Punch"}},
	{Name: "Snorlax", Types: []string{"Normal"}, BaseStats: Stats{160, 110, 65, 65, 110, 30},
		Learnset: []string{"Body Slam", "Earthquake", "Crunch", "Ice Punch"}},
	{Name: "Lapras", Types: []string{"Water", "Ice"}, BaseStats: Stats{130, 85, 80, 85, 95, 60},
		Learnset: []string{"Ice Beam", "Hydro Pump", "Thunderbolt", "Body Slam"}},
	{Name: "Jolteon", Types: []string{"Electric"}, BaseStats: Stats{65, 65, 60, 110, 95, 130},
		Learnset: []string{"Thunderbolt", "Shadow Ball", "Volt Switch", "Quick Attack"}},
	{Name: "Arcanine", Types: []string{"Fire"}, BaseStats: Stats{90, 110, 80, 100, 80, 95},
		Learnset: []string{"Flare Blitz", "Extreme Speed", "Close Combat", "Crunch"}},
	{Name: "Gyarados", Types: []string{"Water", "Flying"}, BaseStats: Stats{95, 125, 79, 60, 100, 81},
		Learnset: []string{"Waterfall", "Crunch", "Earthquake", "Ice Fang"}},
	{Name: "Scizor", Types: []string{"Bug", "Steel"}, BaseStats: Stats{70, 130, 100, 55, 80, 65},
		Learnset: []string{"Bullet Punch", "U-turn", "Close Combat", "Iron Head"}},
	{Name: "Clefable", Types: []string{"Fairy"}, BaseStats: Stats{95, 70, 73, 95, 90, 60},
		Learnset: []string{"Moonblast", "Flamethrower", "Ice Beam", "Thunderbolt"}},
	{Name: "Ferrothorn", Types: []string{"Grass", "Steel"}, BaseStats: Stats{74, 94, 131, 54, 116, 20},
		Learnset: []string{"Power Whip", "Gyro Ball", "Leech Seed", "Iron Head"}},
	{Name: "Rotom-Wash", Types: []string{"Electric", "Water"}, BaseStats: Stats{50, 65, 107, 105, 107, 86},
		Learnset: []string{"Hydro Pump", "Volt Switch", "Thunderbolt", "Shadow Ball"}},
	{Name: "Weavile", Types: []string{"Dark", "Ice"}, BaseStats: Stats{70, 120, 65, 45, 85, 125},
		Learnset: []string{"Icicle Crash", "Knock Off", "Ice Shard", "Close Combat"}},
	{Name: "Salamence", Types: []string{"Dragon", "Flying"}, BaseStats: Stats{95, 135, 80, 110, 80, 100},
		Learnset: []string{"Outrage", "Earthquake", "Fire Blast", "Dragon Claw"}},
	{Name: "Lucario", Types: []string{"Fighting", "Steel"}, BaseStats: Stats{70, 110, 70, 115, 70, 90},
		Learnset: []string{"Close Combat", "Meteor Mash", "Extreme Speed", "Aura Sphere"}},
	{Name: "Excadrill", Types: []string{"Ground", "Steel"}, BaseStats: Stats{110, 135, 60, 50, 65, 88},
		Learnset: []string{"Earthquake", "Iron Head", "Rock Slide", "Rapid Strike"}},
}

var moveData = []*Move{
	{Name: "Thunderbolt", Type: "Electric", Category: CategorySpecial, BasePower: 90, Accuracy: 100},
	{Name: "Volt Tackle", Type: "Electric", Category: CategoryPhysical, BasePower: 120, Accuracy: 100},
	{Name: "Volt Switch", Type: "Electric", Category: CategorySpecial, BasePower: 70, Accuracy: 100},
	{Name: "Iron Tail", Type: "Steel", Category: CategoryPhysical, BasePower: 100, Accuracy: 75},
	{Name: "Iron Head", Type: "Steel", Category: CategoryPhysical, BasePower: 80, Accuracy: 100},
	{Name: "Quick Attack", Type: "Normal", Category: CategoryPhysical, BasePower: 40, Accuracy: 100, Priority: 1},
	{Name: "Extreme Speed", Type: "Normal", Category: CategoryPhysical, BasePower: 80, Accuracy: 100, Priority: 2},
	{Name: "Flamethrower", Type: "Fire", Category: CategorySpecial, BasePower: 90, Accuracy: 100},
	{Name: "Fire Blast", Type: "Fire", Category: CategorySpecial, BasePower: 110, Accuracy: 85},
	{Name: "Flare Blitz", Type: "Fire", Category: CategoryPhysical, BasePower: 120, Accuracy: 100},
	{Name: "Fire Fang", Type: "Fire", Category: CategoryPhysical, BasePower: 65, Accuracy: 95},
	{Name: "Air Slash", Type: "Flying", Category: CategorySpecial, BasePower: 75, Accuracy: 95},
	{Name: "Hydro Pump", Type: "Water", Category: CategorySpecial, BasePower: 110, Accuracy: 80},
	{Name: "Waterfall", Type: "Water", Category: CategoryPhysical, BasePower: 80, Accuracy: 100},
	{Name: "Ice Beam", Type: "Ice", Category: CategorySpecial, BasePower: 90, Accuracy: 100},
	{Name: "Icicle Crash", Type: "Ice", Category: CategoryPhysical, BasePower: 85, Accuracy: 90},
	{Name: "Ice Shard", Type: "Ice", Category: CategoryPhysical, BasePower: 40, Accuracy: 100, Priority: 1},
	{Name: "Ice Punch", Type: "Ice", Category: CategoryPhysical, BasePower: 75, Accuracy: 100},
	{Name: "Ice Fang", Type: "Ice", Category: CategoryPhysical, BasePower: 65, Accuracy: 95},
	{Name: "Giga Drain", Type: "Grass", Category: CategorySpecial, BasePower: 75, Accuracy: 100},
	{Name: "Power Whip", Type: "Grass", Category: CategoryPhysical, BasePower: 120, Accuracy: 85},
	{Name: "Leech Seed", Type: "Grass", Category: CategoryStatus, BasePower: 0, Accuracy: 90},
	{Name: "Sludge Bomb", Type: "Poison", Category: CategorySpecial, BasePower: 90, Accuracy: 100},
	{Name: "Earthquake", Type: "Ground", Category: CategoryPhysical, BasePower: 100, Accuracy: 100},
	{Name: "Earth Power", Type: "Ground", Category: CategorySpecial, BasePower: 90, Accuracy: 100},
	{Name: "Dragon Claw", Type: "Dragon", Category: CategoryPhysical, BasePower: 80, Accuracy: 100},
	{Name: "Outrage", Type: "Dragon", Category: CategoryPhysical, BasePower: 120, Accuracy: 100},
	{Name: "Stone Edge", Type: "Rock", Category: CategoryPhysical, BasePower: 100, Accuracy: 80},
	{Name: "Rock Slide", Type: "Rock", Category: CategoryPhysical, BasePower: 75, Accuracy: 90},
	{Name: "Crunch", Type: "Dark", Category: CategoryPhysical, BasePower: 80, Accuracy: 100},
	{Name: "Knock Off", Type: "Dark", Category: CategoryPhysical, BasePower: 65, Accuracy: 100},
	{Name: "Meteor Mash", Type: "Steel", Category: CategoryPhysical, BasePower: 90, Accuracy: 90},
	{Name: "Bullet Punch", Type: "Steel", Category: CategoryPhysical, BasePower: 40, Accuracy: 100, Priority: 1},
	{Name: "Gyro Ball", Type: "Steel", Category: CategoryPhysical, BasePower: 60, Accuracy: 100},
	{Name: "Flash Cannon", Type: "Steel", Category: CategorySpecial, BasePower: 80, Accuracy: 100},
	{Name: "Zen Headbutt", Type: "Psychic", Category: CategoryPhysical, BasePower: 80, Accuracy: 90},
	{Name: "Psychic", Type: "Psychic", Category: CategorySpecial, BasePower: 90, Accuracy: 100},
	{Name: "Shadow Ball", Type: "Ghost", Category: CategorySpecial, BasePower: 80, Accuracy: 100},
	{Name: "Focus Blast", Type: "Fighting", Category: CategorySpecial, BasePower: 120, Accuracy: 70},
	{Name: "Close Combat", Type: "Fighting", Category: CategoryPhysical, BasePower: 120, Accuracy: 100},
	{Name: "Aura Sphere", Type: "Fighting", Category: CategorySpecial, BasePower: 80, Accuracy: 0},
	{Name: "Dazzling Gleam", Type: "Fairy", Category: CategorySpecial, BasePower: 80, Accuracy: 100},
	{Name: "Moonblast", Type: "Fairy", Category: CategorySpecial, BasePower: 95, Accuracy: 100},
	{Name: "Body Slam", Type: "Normal", Category: CategoryPhysical, BasePower: 85, Accuracy: 100},
	{Name: "U-turn", Type: "Bug", Category: CategoryPhysical, BasePower: 70, Accuracy: 100},
	{Name: "Rapid Strike", Type: "Fighting", Category: CategoryPhysical, BasePower: 75, Accuracy: 100},
	{Name: "Struggle", Type: "Normal", Category: CategoryPhysical, BasePower: 50, Accuracy: 0},
}

var itemData = []*Item{
	{Name: "Light Ball"},
	{Name: "Leftovers"},
	{Name: "Choice Band"},
	{Name: "Choice Scarf"},
	{Name: "Choice Specs"},
	{Name: "Life Orb"},
	{Name: "Focus Sash"},
	{Name: "Assault Vest"},
	{Name: "Rocky Helmet"},
	{Name: "Heavy-Duty Boots"},
}

// NewDex builds the static dex.
func NewDex() *Dex {
	d := &Dex{
		species: make(map[string]*Species, len(speciesData)),
		moves:   make(map[string]*Move, len(moveData)),
		items:   make(map[string]*Item, len(itemData)),
	}
	for _, s := range speciesData {
		s.ID = ToID(s.Name)
		d.species[s.ID] = s
	}
	for _, m := range moveData {
		m.ID = ToID(m.Name)
		d.moves[m.ID] = m
	}
	for _, it := range itemData {
		it.ID = ToID(it.Name)
		d.items[it.ID] = it
	}
	return d
}

// LookupSpecies resolves a species by name or ID.
func (d *Dex) LookupSpecies(name string) *Species {
	return d.species[ToID(name)]
}

// LookupMove resolves a move by name or ID.
func (d *Dex) LookupMove(name string) *Move {
	return d.moves[ToID(name)]
}

// LookupItem resolves an item by name or ID.
func (d *Dex) LookupItem(name string) *Item {
	return d.items[ToID(name)]
}

// SpeciesIDs returns all species IDs in stable order.
func (d *Dex) SpeciesIDs() []string {
	ids := make([]string, 0, len(speciesData))
	for _, s := range speciesData {
		ids = append(ids, s.ID)
	}
	return ids
}
