package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"battlegate/pkg/logger"
	"battlegate/pkg/protocol"
)

// ErrSimulatorUnavailable is returned when a simulator instance cannot be
// constructed. Fatal for the match.
var ErrSimulatorUnavailable = errors.New("simulator unavailable")

// Adapter hides all knowledge of the embedded simulator. It mints battle
// instances and exposes the static dex and team utilities.
type Adapter struct {
	dex    *Dex
	logger *logger.ColoredLogger
}

// NewAdapter creates an adapter backed by the embedded engine.
func NewAdapter() *Adapter {
	return &Adapter{
		dex:    NewDex(),
		logger: logger.SimLogger,
	}
}

// Dex returns the static data dex.
func (a *Adapter) Dex() *Dex {
	return a.dex
}

// BattleSpec carries everything needed to initialise one battle.
type BattleSpec struct {
	FormatID string
	Seed     *int64
	P1Name   string
	P1Team   protocol.Team
	P2Name   string
	P2Team   protocol.Team
}

// BattleStream is one live simulator instance: a write side for commands
// and three readable output sub-streams. Consumers MUST begin reading all
// three streams before calling Start, or early protocol may be lost.
type BattleStream struct {
	Omniscient io.ReadCloser
	P1         io.ReadCloser
	P2         io.ReadCloser

	cmds   chan string
	mu     sync.Mutex
	closed bool
}

// NewBattle constructs a fresh simulator instance and its three output
// streams. The battle emits nothing until Start is called.
func (a *Adapter) NewBattle(formatID string, seed *int64) (*BattleStream, error) {
	if a == nil || a.dex == nil {
		return nil, ErrSimulatorUnavailable
	}

	var src int64
	if seed != nil {
		src = *seed
	} else {
		src = time.Now().UnixNano()
	}

	omniR, omniW := io.Pipe()
	p1R, p1W := io.Pipe()
	p2R, p2W := io.Pipe()

	eng := &engine{
		dex:        a.dex,
		rng:        rand.New(rand.NewSource(src)),
		formatID:   formatID,
		omniscient: omniW,
		p1Out:      p1W,
		p2Out:      p2W,
		cmds:       make(chan string, 16),
	}
	go eng.run()

	a.logger.Debug("New battle instance: format=%s seed=%d", formatID, src)

	return &BattleStream{
		Omniscient: omniR,
		P1:         p1R,
		P2:         p2R,
		cmds:       eng.cmds,
	}, nil
}

// Start writes the three-line initialisation protocol: the start command,
// then one player command per side.
func (b *BattleStream) Start(spec BattleSpec) error {
	start := map[string]interface{}{"formatid": spec.FormatID}
	if spec.Seed != nil {
		start["seed"] = *spec.Seed
	}
	startJSON, err := json.Marshal(start)
	if err != nil {
		return err
	}
	if err := b.Write(">start " + string(startJSON)); err != nil {
		return err
	}
	if err := b.writePlayer(protocol.SideP1, spec.P1Name, spec.P1Team); err != nil {
		return err
	}
	return b.writePlayer(protocol.SideP2, spec.P2Name, spec.P2Team)
}

func (b *BattleStream) writePlayer(side protocol.Side, name string, team protocol.Team) error {
	opts, err := json.Marshal(map[string]string{
		"name": name,
		"team": PackTeam(team),
	})
	if err != nil {
		return err
	}
	return b.Write(fmt.Sprintf(">player %s %s", side, opts))
}

// WriteChoice forwards a side's choice command verbatim.
func (b *BattleStream) WriteChoice(side protocol.Side, command string) error {
	return b.Write(fmt.Sprintf(">%s %s", side, command))
}

// Write sends one raw command line to the simulator.
func (b *BattleStream) Write(cmd string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrSimulatorUnavailable
	}
	select {
	case b.cmds <- cmd:
		return nil
	default:
		return fmt.Errorf("simulator command queue full")
	}
}

// Close releases the simulator instance. The output streams end with EOF.
func (b *BattleStream) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.cmds)
	b.Omniscient.Close()
	b.P1.Close()
	b.P2.Close()
}
