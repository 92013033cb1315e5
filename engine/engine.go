// Package engine runs races: each Engine owns the authoritative state of
// one race and advances it on a fixed simulation tick, draining player
// command queues, stepping the physics model, recomputing positions, and
// publishing the resulting state and events to registered sinks.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/lucaswhitaker22/specracer/command"
	"github.com/lucaswhitaker22/specracer/model"
	"github.com/lucaswhitaker22/specracer/physics"
)

const (
	// DefaultTickPeriod is the simulation step: 10 ticks per second.
	DefaultTickPeriod = 100 * time.Millisecond

	// maxLapSec bounds race duration: a race force-finishes once the
	// clock passes totalLaps * maxLapSec even if nobody crossed the line.
	maxLapSec = 300.0

	// Pit stop service model: a fixed box time, plus refueling time
	// proportional to the fuel deficit, plus a flat tire change.
	pitBaseMs      = 3000.0
	pitRefuelMsPct = 50.0
	pitTiresMs     = 2500.0

	pitRefuelBelowPct = 100.0
	pitTireChangeOver = 30.0
)

// Publication is what the engine emits after every tick: a deep copy of
// the race state plus the events raised during that tick.
type Publication struct {
	Tick   uint64            `json:"tick"`
	State  *model.RaceState  `json:"state"`
	Events []model.RaceEvent `json:"events,omitempty"`
}

// Sink consumes tick publications. Publish is called synchronously on the
// tick path and must not block; slow consumers buffer or drop internally.
type Sink interface {
	Publish(pub *Publication)
}

// Options configure an Engine beyond its race definition. Zero values get
// sensible defaults.
type Options struct {
	TickPeriod time.Duration
	QueueDepth int
	QueueRate  int
	Journal    *EventJournal
	Logger     zerolog.Logger

	// OnFinish is invoked once, after the finishing tick, with the final
	// standings.
	OnFinish func(result *model.RaceResult)

	// OnPanic is invoked if a tick panics. The engine halts first.
	OnPanic func(raceID string, cause any)

	// Now overrides the wall clock in tests.
	Now func() time.Time
}

// Engine owns one race. All state mutation happens under mu, either on
// the tick path or in a control call (Join, Leave, Start), so no two
// mutations ever interleave. Everything handed out is a deep copy.
type Engine struct {
	mu     sync.Mutex
	state  *model.RaceState
	track  model.Track
	cars   map[string]model.Car
	queues map[string]*command.Queue
	result *model.RaceResult

	tick     uint64
	joinSeq  int
	prevPos  map[string]int
	halted   bool
	stopLoop chan struct{}
	loopDone chan struct{}

	sinks []Sink
	opts  Options
	log   zerolog.Logger
	now   func() time.Time
}

// New creates an engine for a race in the waiting state.
func New(race model.Race, track model.Track, opts Options) *Engine {
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = DefaultTickPeriod
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 10
	}
	if opts.QueueRate <= 0 {
		opts.QueueRate = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	race.Status = model.RaceWaiting
	if race.CreatedAt.IsZero() {
		race.CreatedAt = opts.Now()
	}
	return &Engine{
		state: &model.RaceState{
			Race:         race,
			CurrentLap:   1,
			Participants: make(map[string]*model.Participant),
		},
		track:    track,
		cars:     make(map[string]model.Car),
		queues:   make(map[string]*command.Queue),
		prevPos:  make(map[string]int),
		stopLoop: make(chan struct{}),
		loopDone: make(chan struct{}),
		opts:     opts,
		log:      opts.Logger.With().Str("race_id", race.ID).Logger(),
		now:      opts.Now,
	}
}

// NewFromState rebuilds an engine around a recovered race state. The race
// resumes exactly where the state left off; command queues start empty.
func NewFromState(state *model.RaceState, track model.Track, opts Options) (*Engine, error) {
	e := New(state.Race, track, opts)
	e.state = state.Copy()
	for id, p := range e.state.Participants {
		car, ok := model.CarByID(p.CarID)
		if !ok {
			return nil, fmt.Errorf("restore %s: %w: %s", state.ID, ErrCarNotAvailable, p.CarID)
		}
		e.cars[id] = car
		e.queues[id] = command.NewQueueWithClock(id, e.opts.QueueDepth, e.opts.QueueRate, e.now)
		e.prevPos[id] = p.Position
		e.joinSeq++
	}
	return e, nil
}

// RaceID returns the engine's race identifier.
func (e *Engine) RaceID() string {
	return e.state.ID
}

// Join adds a player before the race starts. Positions are assigned in
// join order and re-derived every tick once the race is running. A
// player already in the race gets ErrAlreadyJoined whatever the
// lifecycle state, so callers can tell a reconnect from a late join.
func (e *Engine) Join(playerID, carID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.state.Participants[playerID]; ok {
		return ErrAlreadyJoined
	}
	switch e.state.Status {
	case model.RaceActive:
		return ErrRaceAlreadyStarted
	case model.RaceFinished:
		return ErrRaceFinished
	}
	if len(e.state.Participants) >= e.state.MaxParticipants {
		return ErrCapacityExceeded
	}
	car, ok := model.CarByID(carID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCarNotAvailable, carID)
	}

	e.joinSeq++
	p := &model.Participant{
		PlayerID: playerID,
		CarID:    carID,
		Position: e.joinSeq,
		FuelPct:  100,
		Gear:     1,
		Location: model.Location{Lap: 1, Sector: 1},
		JoinedAt: e.now(),
	}
	e.state.Participants[playerID] = p
	e.cars[playerID] = car
	e.queues[playerID] = command.NewQueueWithClock(playerID, e.opts.QueueDepth, e.opts.QueueRate, e.now)
	e.prevPos[playerID] = p.Position
	e.log.Info().Str("player_id", playerID).Str("car_id", carID).Msg("player joined")
	return nil
}

// Leave removes a player. Mid-race the remaining positions are
// recompacted immediately so no snapshot ever carries a gap; if nobody
// remains the race finishes.
func (e *Engine) Leave(playerID string) error {
	e.mu.Lock()
	if _, ok := e.state.Participants[playerID]; !ok {
		e.mu.Unlock()
		return ErrNotParticipant
	}
	delete(e.state.Participants, playerID)
	delete(e.cars, playerID)
	delete(e.queues, playerID)
	delete(e.prevPos, playerID)
	e.log.Info().Str("player_id", playerID).Msg("player left")

	var pub *Publication
	if e.state.Status == model.RaceActive {
		if len(e.state.Participants) == 0 {
			ev := e.finishLocked("abandoned")
			pub = e.buildPublicationLocked([]model.RaceEvent{ev})
		} else {
			e.assignPositionsLocked()
			for id, p := range e.state.Participants {
				e.prevPos[id] = p.Position
			}
		}
	}
	e.mu.Unlock()
	e.deliver(pub)
	return nil
}

// Start transitions the race from waiting to active and emits race_start.
func (e *Engine) Start() error {
	e.mu.Lock()
	switch e.state.Status {
	case model.RaceActive:
		e.mu.Unlock()
		return ErrRaceAlreadyStarted
	case model.RaceFinished:
		e.mu.Unlock()
		return ErrRaceFinished
	}
	if len(e.state.Participants) == 0 {
		e.mu.Unlock()
		return ErrNoParticipants
	}

	now := e.now()
	e.state.Status = model.RaceActive
	e.state.StartedAt = &now

	ev := e.newEventLocked(model.EventRaceStart, e.sortedPlayerIDs(), map[string]any{
		"trackId":   e.state.TrackID,
		"totalLaps": e.state.TotalLaps,
	})
	e.appendEventsLocked(ev)
	e.log.Info().Int("participants", len(e.state.Participants)).Msg("race started")
	pub := e.buildPublicationLocked([]model.RaceEvent{ev})
	e.mu.Unlock()
	e.deliver(pub)
	return nil
}

// Submit enqueues a parsed command for a participant. Rate limiting and
// queue overflow are handled by the participant's queue; a rate-limited
// submission returns a *command.Error and leaves the queue untouched.
func (e *Engine) Submit(playerID string, cmd model.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status == model.RaceFinished {
		return ErrRaceFinished
	}
	q, ok := e.queues[playerID]
	if !ok {
		return ErrNotParticipant
	}
	if err := q.Enqueue(cmd); err != nil {
		commandsTotal.WithLabelValues("rate_limited").Inc()
		return err
	}
	commandsTotal.WithLabelValues("accepted").Inc()
	return nil
}

// AddSink registers a publication consumer. Not safe to call after Run.
func (e *Engine) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

// State returns a deep copy of the race state with the event log
// truncated to the most recent entries.
func (e *Engine) State() *model.RaceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exportStateLocked()
}

// Result returns the final standings, or nil while the race is running.
func (e *Engine) Result() *model.RaceResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return nil
	}
	cp := *e.result
	cp.Standings = append([]model.FinalResult(nil), e.result.Standings...)
	return &cp
}

// Status returns the race lifecycle state.
func (e *Engine) Status() model.RaceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Status
}

// Run drives the tick loop until the race finishes, done is closed, or
// Halt is called. If a tick's work overruns the period the next tick is
// late; missed ticks are not replayed.
func (e *Engine) Run(done <-chan struct{}) {
	defer close(e.loopDone)
	ticker := time.NewTicker(e.opts.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-e.stopLoop:
			return
		case <-ticker.C:
			if !e.Tick() {
				return
			}
		}
	}
}

// Halt stops the tick loop without finishing the race, so an active race
// stays recoverable from its snapshots after a restart.
func (e *Engine) Halt() {
	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		return
	}
	e.halted = true
	e.mu.Unlock()
	close(e.stopLoop)
}

// Done is closed when the tick loop exits.
func (e *Engine) Done() <-chan struct{} {
	return e.loopDone
}

// Tick advances the simulation by one period. It returns false once the
// race is finished and the loop should stop. Serialized with all control
// calls via mu; safe to call directly in tests instead of Run.
func (e *Engine) Tick() (again bool) {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.halted = true
			e.mu.Unlock()
			e.log.Error().Interface("cause", r).Msg("tick panicked, halting race")
			if e.opts.OnPanic != nil {
				e.opts.OnPanic(e.state.ID, r)
			}
			again = false
		}
	}()

	start := time.Now()
	pub, again := e.advance()
	if pub == nil {
		return again
	}
	e.deliver(pub)

	ticksTotal.Inc()
	tickDuration.Observe(time.Since(start).Seconds())
	return again
}

// advance runs one simulation step under the state lock and returns the
// resulting publication, or nil when the race is not active.
func (e *Engine) advance() (pub *Publication, again bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Status != model.RaceActive {
		return nil, e.state.Status == model.RaceWaiting
	}

	dt := e.opts.TickPeriod.Seconds()
	e.tick++

	// Drain the newest queued command per player and step physics.
	// Player order is sorted so a tick is reproducible for a given state.
	drained := make(map[string]model.Command, len(e.state.Participants))
	var events []model.RaceEvent
	for _, id := range e.sortedPlayerIDs() {
		p := e.state.Participants[id]
		cmd := model.Coast()
		if item, ok := e.queues[id].DrainLatest(); ok {
			cmd = item.Command
			p.LastCommand = command.Render(cmd)
			p.LastCommandAt = e.now()
		}
		drained[id] = cmd

		prevLap := p.Location.Lap
		next, locals := physics.Step(*p, e.cars[id], cmd, e.track, dt, physics.DefaultEnvironment())
		*p = next

		for _, le := range locals {
			events = append(events, e.newEventLocked(model.EventIncident, []string{id}, map[string]any{
				"kind":  string(le.Kind),
				"value": le.Value,
			}))
		}
		if p.Location.Lap > prevLap {
			delta := e.state.RaceTimeSec + dt - p.LapStartSec
			events = append(events, e.newEventLocked(model.EventLapComplete, []string{id}, map[string]any{
				"lap":        p.Location.Lap - 1,
				"lapTimeSec": delta,
			}))
			p.LapStartSec = e.state.RaceTimeSec + dt
			p.LapTimeSec = 0
		}
	}

	// Re-derive dense positions, then diff against the previous tick to
	// find overtakes.
	e.assignPositionsLocked()
	events = append(events, e.detectOvertakesLocked()...)

	// Pit stops take effect after positions so the slowdown modeled by
	// physics this tick already counted.
	for _, id := range e.sortedPlayerIDs() {
		if drained[id].Kind == model.CmdPit {
			events = append(events, e.servePitLocked(id))
		}
	}

	e.state.RaceTimeSec += dt
	maxLap := 0
	for _, p := range e.state.Participants {
		if p.Location.Lap > maxLap {
			maxLap = p.Location.Lap
		}
	}
	if maxLap > 0 {
		e.state.CurrentLap = min(maxLap, e.state.TotalLaps)
	}

	// Completion: someone finished the final lap, or the race hit its
	// time ceiling.
	finished := false
	reason := "completed"
	for _, p := range e.state.Participants {
		if p.Location.Lap > e.state.TotalLaps {
			finished = true
			break
		}
	}
	if !finished && e.state.RaceTimeSec >= float64(e.state.TotalLaps)*maxLapSec {
		finished = true
		reason = "max_time"
	}

	e.appendEventsLocked(events...)
	if finished {
		events = append(events, e.finishLocked(reason))
	}
	return e.buildPublicationLocked(events), !finished
}

// assignPositionsLocked sorts participants by lap, then distance into the
// lap, breaking exact ties by player ID, and assigns dense positions
// starting at 1.
func (e *Engine) assignPositionsLocked() {
	ranked := make([]*model.Participant, 0, len(e.state.Participants))
	for _, p := range e.state.Participants {
		ranked = append(ranked, p)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Location.Lap != b.Location.Lap {
			return a.Location.Lap > b.Location.Lap
		}
		if a.Location.DistanceM != b.Location.DistanceM {
			return a.Location.DistanceM > b.Location.DistanceM
		}
		return a.PlayerID < b.PlayerID
	})
	for i, p := range ranked {
		p.Position = i + 1
	}
}

// detectOvertakesLocked compares current positions to the previous tick
// and emits one overtake event per (overtaker, overtaken) pair. The
// previous-position map is refreshed afterwards.
func (e *Engine) detectOvertakesLocked() []model.RaceEvent {
	var events []model.RaceEvent
	ids := e.sortedPlayerIDs()
	for _, aid := range ids {
		a := e.state.Participants[aid]
		prevA, ok := e.prevPos[aid]
		if !ok || a.Position >= prevA {
			continue
		}
		for _, bid := range ids {
			if bid == aid {
				continue
			}
			b := e.state.Participants[bid]
			prevB, ok := e.prevPos[bid]
			if !ok {
				continue
			}
			if prevA > prevB && a.Position < b.Position {
				events = append(events, e.newEventLocked(model.EventOvertake, []string{aid, bid}, map[string]any{
					"overtaker": aid,
					"overtaken": bid,
					"position":  a.Position,
				}))
			}
		}
	}
	for _, id := range ids {
		e.prevPos[id] = e.state.Participants[id].Position
	}
	return events
}

// servePitLocked applies a pit stop: work out which services the car
// needs, charge the service time against the participant's total, and
// reset fuel and tires accordingly.
func (e *Engine) servePitLocked(playerID string) model.RaceEvent {
	p := e.state.Participants[playerID]

	durationMs := pitBaseMs
	var actions []model.PitAction
	if p.FuelPct < pitRefuelBelowPct {
		durationMs += (pitRefuelBelowPct - p.FuelPct) * pitRefuelMsPct
		actions = append(actions, model.PitRefuel)
		p.FuelPct = 100
	}
	if p.Tires.Max() > pitTireChangeOver {
		durationMs += pitTiresMs
		actions = append(actions, model.PitTireChange)
		p.Tires = model.TireWear{}
	}
	p.TotalTimeSec += durationMs / 1000
	p.SpeedKmh = 0

	return e.newEventLocked(model.EventPitStop, []string{playerID}, map[string]any{
		"actions":    actions,
		"durationMs": durationMs,
		"lap":        p.Location.Lap,
	})
}

// finishLocked marks the race finished, freezes the standings, and emits
// race_finish. The caller publishes the returned event.
func (e *Engine) finishLocked(reason string) model.RaceEvent {
	now := e.now()
	e.state.Status = model.RaceFinished
	e.state.EndedAt = &now

	ranked := make([]*model.Participant, 0, len(e.state.Participants))
	for _, p := range e.state.Participants {
		ranked = append(ranked, p)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Position != ranked[j].Position {
			return ranked[i].Position < ranked[j].Position
		}
		return ranked[i].PlayerID < ranked[j].PlayerID
	})
	standings := lo.Map(ranked, func(p *model.Participant, i int) model.FinalResult {
		return model.FinalResult{
			Position:     i + 1,
			PlayerID:     p.PlayerID,
			CarID:        p.CarID,
			Laps:         min(p.Location.Lap-1, e.state.TotalLaps),
			TotalTimeSec: p.TotalTimeSec,
		}
	})
	e.result = &model.RaceResult{
		RaceID:      e.state.ID,
		TrackID:     e.state.TrackID,
		TotalLaps:   e.state.TotalLaps,
		RaceTimeSec: e.state.RaceTimeSec,
		Standings:   standings,
	}

	ev := e.newEventLocked(model.EventRaceFinish, e.sortedPlayerIDs(), map[string]any{
		"reason":    reason,
		"standings": standings,
	})
	e.appendEventsLocked(ev)
	e.log.Info().Str("reason", reason).Float64("race_time_sec", e.state.RaceTimeSec).Msg("race finished")

	if e.opts.OnFinish != nil {
		res := *e.result
		res.Standings = append([]model.FinalResult(nil), e.result.Standings...)
		go e.opts.OnFinish(&res)
	}
	return ev
}

func (e *Engine) sortedPlayerIDs() []string {
	ids := make([]string, 0, len(e.state.Participants))
	for id := range e.state.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) newEventLocked(t model.EventType, players []string, payload map[string]any) model.RaceEvent {
	ev := model.RaceEvent{
		ID:          "evt_" + uuid.NewString()[:8],
		Type:        t,
		RaceTimeSec: e.state.RaceTimeSec,
		Lap:         e.state.CurrentLap,
		Players:     players,
		Payload:     payload,
		WallTime:    e.now(),
	}
	eventsTotal.WithLabelValues(string(t)).Inc()
	return ev
}

func (e *Engine) appendEventsLocked(events ...model.RaceEvent) {
	if len(events) == 0 {
		return
	}
	e.state.Events = append(e.state.Events, events...)
	if e.opts.Journal != nil {
		for _, ev := range events {
			if err := e.opts.Journal.Write(ev); err != nil {
				e.log.Warn().Err(err).Msg("journal write failed")
			}
		}
	}
}

// exportStateLocked returns a deep copy with the event log truncated to
// the most recent MaxExportedEvents entries.
func (e *Engine) exportStateLocked() *model.RaceState {
	cp := e.state.Copy()
	if n := len(cp.Events); n > model.MaxExportedEvents {
		cp.Events = cp.Events[n-model.MaxExportedEvents:]
	}
	return cp
}

// buildPublicationLocked snapshots a tick's output for delivery once the
// state lock is released.
func (e *Engine) buildPublicationLocked(events []model.RaceEvent) *Publication {
	return &Publication{
		Tick:   e.tick,
		State:  e.exportStateLocked(),
		Events: events,
	}
}

// deliver fans a publication out to the sinks. Runs outside the state
// lock so a sink may call back into the engine.
func (e *Engine) deliver(pub *Publication) {
	if pub == nil {
		return
	}
	for _, s := range e.sinks {
		s.Publish(pub)
	}
}
