package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"

	"battlegate/pkg/protocol"
)

// maxTurns bounds runaway battles; hitting it ends the match in a tie.
const maxTurns = 200

type enginePhase int

const (
	phaseInit enginePhase = iota
	phasePreview
	phaseMove
	phaseSwitch
	phaseEnded
)

// pokemon is the engine-side battle state of one team slot
type pokemon struct {
	species *Species
	name    string
	level   int
	moves   []*Move
	pp      []int
	maxHP   int
	hp      int
	item    string
	ability string
}

func (p *pokemon) fainted() bool { return p.hp <= 0 }

func (p *pokemon) details() string {
	return fmt.Sprintf("%s, L%d", p.species.Name, p.level)
}

func (p *pokemon) condition() string {
	if p.hp <= 0 {
		return "0 fnt"
	}
	return fmt.Sprintf("%d/%d", p.hp, p.maxHP)
}

// engineSide is one side's team, active slot and pending choice
type engineSide struct {
	id       protocol.Side
	name     string
	team     []*pokemon
	active   int
	choice   string
	awaiting bool
}

func (s *engineSide) activeMon() *pokemon {
	if s.active < 0 || s.active >= len(s.team) {
		return nil
	}
	return s.team[s.active]
}

func (s *engineSide) remaining() int {
	n := 0
	for _, p := range s.team {
		if !p.fainted() {
			n++
		}
	}
	return n
}

func (s *engineSide) firstUsableBench() int {
	for i, p := range s.team {
		if i != s.active && !p.fainted() {
			return i
		}
	}
	return -1
}

// engine is the embedded battle simulator. It consumes text commands and
// emits protocol lines on three streams: omniscient public lines, and one
// private stream per side carrying that side's |request| lines.
type engine struct {
	dex      *Dex
	rng      *rand.Rand
	formatID string

	omniscient *io.PipeWriter
	p1Out      *io.PipeWriter
	p2Out      *io.PipeWriter

	cmds chan string

	sides      [2]*engineSide
	phase      enginePhase
	turn       int
	rqid       int
	started    bool
	playersSet int
}

func (e *engine) run() {
	defer e.closeStreams()
	for cmd := range e.cmds {
		e.handleCommand(cmd)
		if e.phase == phaseEnded {
			return
		}
	}
}

func (e *engine) closeStreams() {
	e.omniscient.Close()
	e.p1Out.Close()
	e.p2Out.Close()
}

// emit writes one public protocol line
func (e *engine) emit(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	e.omniscient.Write([]byte(line + "\n"))
}

// emitPrivate writes one line on a side's private stream
func (e *engine) emitPrivate(idx int, line string) {
	w := e.p1Out
	if idx == 1 {
		w = e.p2Out
	}
	w.Write([]byte(line + "\n"))
}

func (e *engine) handleCommand(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if !strings.HasPrefix(cmd, ">") {
		return
	}
	cmd = cmd[1:]

	switch {
	case strings.HasPrefix(cmd, "start "):
		e.handleStart(cmd[len("start "):])
	case strings.HasPrefix(cmd, "player "):
		e.handlePlayer(cmd[len("player "):])
	case strings.HasPrefix(cmd, "p1 "):
		e.handleChoice(0, cmd[len("p1 "):])
	case strings.HasPrefix(cmd, "p2 "):
		e.handleChoice(1, cmd[len("p2 "):])
	}
}

func (e *engine) handleStart(body string) {
	var opts struct {
		FormatID string `json:"formatid"`
		Seed     *int64 `json:"seed"`
	}
	if err := json.Unmarshal([]byte(body), &opts); err == nil {
		if opts.FormatID != "" {
			e.formatID = opts.FormatID
		}
		if opts.Seed != nil {
			e.rng = rand.New(rand.NewSource(*opts.Seed))
		}
	}
	e.started = true
}

func (e *engine) handlePlayer(body string) {
	parts := strings.SplitN(body, " ", 2)
	if len(parts) != 2 {
		return
	}
	idx := 0
	if parts[0] == "p2" {
		idx = 1
	} else if parts[0] != "p1" {
		return
	}

	var opts struct {
		Name string `json:"name"`
		Team string `json:"team"`
	}
	if err := json.Unmarshal([]byte(parts[1]), &opts); err != nil {
		return
	}

	team, err := UnpackTeam(opts.Team)
	if err != nil {
		return
	}

	side := &engineSide{
		id:     protocol.Side(parts[0]),
		name:   opts.Name,
		active: -1,
	}
	for _, spec := range team {
		species := e.dex.LookupSpecies(spec.Species)
		if species == nil {
			continue
		}
		level := spec.Level
		if level == 0 {
			level = 100
		}
		mon := &pokemon{
			species: species,
			name:    species.Name,
			level:   level,
			item:    spec.Item,
			ability: spec.Ability,
			maxHP:   hpStat(species.BaseStats.HP, level),
		}
		mon.hp = mon.maxHP
		for _, m := range spec.Moves {
			if move := e.dex.LookupMove(m); move != nil {
				mon.moves = append(mon.moves, move)
				mon.pp = append(mon.pp, 32)
			}
		}
		side.team = append(side.team, mon)
	}
	e.sides[idx] = side
	e.playersSet++

	if e.started && e.playersSet == 2 {
		e.beginPreview()
	}
}

func (e *engine) beginPreview() {
	e.emit("|player|p1|%s|", e.sides[0].name)
	e.emit("|player|p2|%s|", e.sides[1].name)
	e.emit("|gametype|singles")
	e.emit("|gen|9")
	e.emit("|tier|%s", e.formatID)
	e.emit("|clearpoke")
	for i, side := range e.sides {
		for _, mon := range side.team {
			e.emit("|poke|p%d|%s|", i+1, mon.details())
		}
	}
	e.emit("|teampreview")

	e.phase = phasePreview
	for i := range e.sides {
		e.sides[i].awaiting = true
		e.sides[i].choice = ""
	}
	e.sendPreviewRequests()
}

func (e *engine) handleChoice(idx int, choice string) {
	side := e.sides[idx]
	if side == nil || !side.awaiting {
		return
	}
	side.choice = strings.TrimSpace(choice)
	side.awaiting = false

	if e.sides[0].awaiting || e.sides[1].awaiting {
		return
	}

	switch e.phase {
	case phasePreview:
		e.resolvePreview()
	case phaseMove:
		e.resolveTurn()
	case phaseSwitch:
		e.resolveForcedSwitches()
	}
}

func (e *engine) resolvePreview() {
	for _, side := range e.sides {
		slot := 0
		if n, ok := parseSlot(side.choice, "team"); ok && n >= 1 && n <= len(side.team) {
			slot = n - 1
		}
		side.active = slot
	}

	e.emit("|start")
	for i, side := range e.sides {
		mon := side.activeMon()
		e.emit("|switch|p%da: %s|%s|%s", i+1, mon.name, mon.details(), mon.condition())
	}
	e.turn = 1
	e.emit("|turn|%d", e.turn)
	e.beginMovePhase()
}

func (e *engine) beginMovePhase() {
	e.phase = phaseMove
	for _, side := range e.sides {
		side.awaiting = true
		side.choice = ""
	}
	e.sendMoveRequests()
}

func (e *engine) resolveTurn() {
	order := e.actionOrder()
	for _, idx := range order {
		if e.phase == phaseEnded {
			return
		}
		side := e.sides[idx]
		mon := side.activeMon()
		if mon == nil || mon.fainted() {
			continue
		}
		e.performAction(idx, side.choice)
	}
	if e.phase == phaseEnded {
		return
	}

	e.emit("|upkeep")
	if e.checkFaints() {
		return
	}
	e.nextTurn()
}

// actionOrder returns side indices in the order they act this turn:
// switches first, then priority, then speed, speed ties broken randomly.
func (e *engine) actionOrder() []int {
	type actor struct {
		idx      int
		isSwitch bool
		priority int
		speed    int
	}

	actors := make([]actor, 0, 2)
	for i, side := range e.sides {
		mon := side.activeMon()
		if mon == nil {
			continue
		}
		a := actor{idx: i, speed: otherStat(mon.species.BaseStats.Spe, mon.level)}
		if _, ok := parseSlot(side.choice, "switch"); ok {
			a.isSwitch = true
		} else if move := e.chosenMove(side); move != nil {
			a.priority = move.Priority
		}
		actors = append(actors, a)
	}

	if len(actors) == 2 {
		a, b := actors[0], actors[1]
		first := 0
		switch {
		case a.isSwitch != b.isSwitch:
			if b.isSwitch {
				first = 1
			}
		case a.priority != b.priority:
			if b.priority > a.priority {
				first = 1
			}
		case a.speed != b.speed:
			if b.speed > a.speed {
				first = 1
			}
		default:
			first = e.rng.Intn(2)
		}
		if first == 1 {
			actors[0], actors[1] = actors[1], actors[0]
		}
	}

	order := make([]int, len(actors))
	for i, a := range actors {
		order[i] = a.idx
	}
	return order
}

// chosenMove resolves the side's pending move choice, nil for non-moves.
func (e *engine) chosenMove(side *engineSide) *Move {
	mon := side.activeMon()
	if mon == nil {
		return nil
	}
	if n, ok := parseSlot(side.choice, "move"); ok && n >= 1 && n <= len(mon.moves) {
		return mon.moves[n-1]
	}
	if side.choice == "default" || strings.HasPrefix(side.choice, "move") {
		if i := firstUsableMove(mon); i >= 0 {
			return mon.moves[i]
		}
	}
	return nil
}

func (e *engine) performAction(idx int, choice string) {
	side := e.sides[idx]
	mon := side.activeMon()

	if n, ok := parseSlot(choice, "switch"); ok {
		target := n - 1
		if target >= 0 && target < len(side.team) && target != side.active && !side.team[target].fainted() {
			e.doSwitch(idx, target)
		}
		return
	}

	moveIdx := -1
	if n, ok := parseSlot(choice, "move"); ok && n >= 1 && n <= len(mon.moves) && mon.pp[n-1] > 0 {
		moveIdx = n - 1
	} else {
		moveIdx = firstUsableMove(mon)
	}

	var move *Move
	if moveIdx >= 0 {
		mon.pp[moveIdx]--
		move = mon.moves[moveIdx]
	} else {
		move = e.dex.LookupMove("struggle")
	}

	e.doMove(idx, mon, move)
}

func (e *engine) doSwitch(idx, target int) {
	side := e.sides[idx]
	side.active = target
	mon := side.activeMon()
	e.emit("|switch|p%da: %s|%s|%s", idx+1, mon.name, mon.details(), mon.condition())
}

func (e *engine) doMove(idx int, attacker *pokemon, move *Move) {
	defIdx := 1 - idx
	defender := e.sides[defIdx].activeMon()
	if defender == nil || defender.fainted() {
		return
	}

	e.emit("|move|p%da: %s|%s|p%da: %s", idx+1, attacker.name, move.Name, defIdx+1, defender.name)

	if move.Category == CategoryStatus {
		return
	}

	if move.Accuracy > 0 && e.rng.Intn(100) >= move.Accuracy {
		e.emit("|-miss|p%da: %s|p%da: %s", idx+1, attacker.name, defIdx+1, defender.name)
		return
	}

	effect := TypeEffect(move.Type, defender.species.Types)
	if effect == 0 {
		e.emit("|-immune|p%da: %s", defIdx+1, defender.name)
		return
	}

	dmg := e.damage(attacker, defender, move, effect)
	defender.hp -= dmg
	if defender.hp < 0 {
		defender.hp = 0
	}

	if effect > 1 {
		e.emit("|-supereffective|p%da: %s", defIdx+1, defender.name)
	} else if effect < 1 {
		e.emit("|-resisted|p%da: %s", defIdx+1, defender.name)
	}
	e.emit("|-damage|p%da: %s|%s", defIdx+1, defender.name, defender.condition())

	if defender.fainted() {
		e.emit("|faint|p%da: %s", defIdx+1, defender.name)
	}
}

// damage applies the standard level/power/stat formula with STAB, type
// effectiveness and an 0.85..1.00 roll.
func (e *engine) damage(attacker, defender *pokemon, move *Move, effect float64) int {
	atk := otherStat(attacker.species.BaseStats.Atk, attacker.level)
	def := otherStat(defender.species.BaseStats.Def, defender.level)
	if move.Category == CategorySpecial {
		atk = otherStat(attacker.species.BaseStats.SpA, attacker.level)
		def = otherStat(defender.species.BaseStats.SpD, defender.level)
	}

	base := ((2*attacker.level/5+2)*move.BasePower*atk/def)/50 + 2

	stab := 1.0
	for _, t := range attacker.species.Types {
		if t == move.Type {
			stab = 1.5
		}
	}

	roll := float64(85+e.rng.Intn(16)) / 100.0
	dmg := int(float64(base) * stab * effect * roll)
	if dmg < 1 {
		dmg = 1
	}
	return dmg
}

// checkFaints handles end-of-turn faints: win/tie when a side is out of
// pokemon, otherwise forced-switch requests. Returns true when the turn
// loop must not advance.
func (e *engine) checkFaints() bool {
	if e.sides[0].remaining() == 0 && e.sides[1].remaining() == 0 {
		e.emit("|tie|")
		e.phase = phaseEnded
		return true
	}
	for i, side := range e.sides {
		if side.remaining() == 0 {
			e.emit("|win|%s", e.sides[1-i].name)
			e.phase = phaseEnded
			return true
		}
	}

	forced := false
	for i, side := range e.sides {
		if side.activeMon().fainted() {
			forced = true
			side.awaiting = true
			side.choice = ""
			e.sendRequest(i, &Request{ForceSwitch: []bool{true}})
		} else {
			e.sendRequest(i, &Request{Wait: true})
		}
	}
	if forced {
		e.phase = phaseSwitch
	}
	return forced
}

func (e *engine) resolveForcedSwitches() {
	for i, side := range e.sides {
		if !side.activeMon().fainted() {
			continue
		}
		target := -1
		if n, ok := parseSlot(side.choice, "switch"); ok {
			idx := n - 1
			if idx >= 0 && idx < len(side.team) && !side.team[idx].fainted() {
				target = idx
			}
		}
		if target < 0 {
			target = side.firstUsableBench()
		}
		if target >= 0 {
			e.doSwitch(i, target)
		}
	}
	e.nextTurn()
}

func (e *engine) nextTurn() {
	e.turn++
	if e.turn > maxTurns {
		e.emit("|tie|")
		e.phase = phaseEnded
		return
	}
	e.emit("|turn|%d", e.turn)
	e.beginMovePhase()
}

// Requests

func (e *engine) sendPreviewRequests() {
	for i := range e.sides {
		e.sendRequest(i, &Request{TeamPreview: true})
	}
}

func (e *engine) sendMoveRequests() {
	for i, side := range e.sides {
		mon := side.activeMon()
		slot := ActiveSlot{}
		for j, move := range mon.moves {
			slot.Moves = append(slot.Moves, ActiveMove{
				ID:       move.ID,
				Move:     move.Name,
				PP:       mon.pp[j],
				MaxPP:    32,
				Target:   "normal",
				Disabled: mon.pp[j] <= 0,
			})
		}
		e.sendRequest(i, &Request{Active: []ActiveSlot{slot}})
	}
}

func (e *engine) sendRequest(idx int, req *Request) {
	side := e.sides[idx]
	e.rqid++
	req.RQID = e.rqid
	req.Side = RequestSide{
		Name: side.name,
		ID:   string(side.id),
	}
	for i, mon := range side.team {
		moves := make([]string, 0, len(mon.moves))
		for _, m := range mon.moves {
			moves = append(moves, m.ID)
		}
		req.Side.Pokemon = append(req.Side.Pokemon, RequestPokemon{
			Ident:       fmt.Sprintf("%s: %s", side.id, mon.name),
			Details:     mon.details(),
			Condition:   mon.condition(),
			Active:      i == side.active,
			Moves:       moves,
			BaseAbility: ToID(mon.ability),
			Item:        ToID(mon.item),
		})
	}

	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	e.emitPrivate(idx, "|request|"+string(data))
}

// Helpers

func hpStat(base, level int) int {
	return (2*base*level)/100 + level + 10
}

func otherStat(base, level int) int {
	return (2*base*level)/100 + 5
}

func firstUsableMove(mon *pokemon) int {
	for i := range mon.moves {
		if mon.pp[i] > 0 {
			return i
		}
	}
	return -1
}

// parseSlot parses choices of the shape "<verb> <n>[ modifiers]".
func parseSlot(choice, verb string) (int, bool) {
	if !strings.HasPrefix(choice, verb+" ") {
		return 0, false
	}
	rest := strings.Fields(choice[len(verb)+1:])
	if len(rest) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, false
	}
	return n, true
}
