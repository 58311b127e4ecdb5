package sim

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"battlegate/pkg/protocol"
)

// ErrInvalidTeam is returned when a submitted team fails validation.
var ErrInvalidTeam = errors.New("invalid team")

// ValidateTeam checks a submitted team against the dex: 1..6 slots, every
// species resolvable, no duplicate species, 1..4 resolvable moves per slot.
func (d *Dex) ValidateTeam(team protocol.Team) error {
	if len(team) == 0 {
		return fmt.Errorf("%w: team is empty", ErrInvalidTeam)
	}
	if len(team) > 6 {
		return fmt.Errorf("%w: team has %d slots, maximum is 6", ErrInvalidTeam, len(team))
	}

	seen := make(map[string]bool, len(team))
	for i, spec := range team {
		species := d.LookupSpecies(spec.Species)
		if species == nil {
			return fmt.Errorf("%w: slot %d species %q not found", ErrInvalidTeam, i+1, spec.Species)
		}
		if seen[species.ID] {
			return fmt.Errorf("%w: duplicate species %q", ErrInvalidTeam, species.Name)
		}
		seen[species.ID] = true

		if len(spec.Moves) == 0 {
			return fmt.Errorf("%w: slot %d (%s) has no moves", ErrInvalidTeam, i+1, species.Name)
		}
		if len(spec.Moves) > 4 {
			return fmt.Errorf("%w: slot %d (%s) has %d moves, maximum is 4", ErrInvalidTeam, i+1, species.Name, len(spec.Moves))
		}
		for _, move := range spec.Moves {
			if d.LookupMove(move) == nil {
				return fmt.Errorf("%w: slot %d (%s) move %q not found", ErrInvalidTeam, i+1, species.Name, move)
			}
		}
		if spec.Level < 0 || spec.Level > 100 {
			return fmt.Errorf("%w: slot %d (%s) level %d out of range", ErrInvalidTeam, i+1, species.Name, spec.Level)
		}
	}
	return nil
}

// PackTeam renders a team in the packed text format written into the
// simulator's player command: slots joined by ']', fields by '|'.
func PackTeam(team protocol.Team) string {
	slots := make([]string, 0, len(team))
	for _, spec := range team {
		moves := make([]string, 0, len(spec.Moves))
		for _, m := range spec.Moves {
			moves = append(moves, ToID(m))
		}
		level := spec.Level
		if level == 0 {
			level = 100
		}
		fields := []string{
			ToID(spec.Species),
			ToID(spec.Ability),
			ToID(spec.Item),
			strings.Join(moves, ","),
			ToID(spec.Nature),
			fmt.Sprintf("%d", level),
		}
		slots = append(slots, strings.Join(fields, "|"))
	}
	return strings.Join(slots, "]")
}

// UnpackTeam parses the packed text format back into a team.
func UnpackTeam(packed string) (protocol.Team, error) {
	if packed == "" {
		return nil, fmt.Errorf("%w: empty packed team", ErrInvalidTeam)
	}
	var team protocol.Team
	for i, slot := range strings.Split(packed, "]") {
		fields := strings.Split(slot, "|")
		if len(fields) != 6 {
			return nil, fmt.Errorf("%w: slot %d has %d fields, want 6", ErrInvalidTeam, i+1, len(fields))
		}
		var level int
		if _, err := fmt.Sscanf(fields[5], "%d", &level); err != nil {
			return nil, fmt.Errorf("%w: slot %d level %q", ErrInvalidTeam, i+1, fields[5])
		}
		spec := protocol.PokemonSpec{
			Species: fields[0],
			Ability: fields[1],
			Item:    fields[2],
			Nature:  fields[4],
			Level:   level,
		}
		for _, m := range strings.Split(fields[3], ",") {
			if m != "" {
				spec.Moves = append(spec.Moves, m)
			}
		}
		team = append(team, spec)
	}
	return team, nil
}

// GenerateTeam builds a random legal team of n distinct species from the
// dex, each carrying its learnset moves. Used for the AI side.
func (d *Dex) GenerateTeam(n int, rng *rand.Rand) protocol.Team {
	if n < 1 {
		n = 1
	}
	if n > 6 {
		n = 6
	}

	ids := d.SpeciesIDs()
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	team := make(protocol.Team, 0, n)
	for _, id := range ids[:n] {
		species := d.species[id]
		moves := species.Learnset
		if len(moves) > 4 {
			moves = moves[:4]
		}
		team = append(team, protocol.PokemonSpec{
			Species: species.Name,
			Moves:   append([]string(nil), moves...),
			Level:   100,
		})
	}
	return team
}
