package memories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fieldline/fieldline/pkg/control"
	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/store"
	"github.com/fieldline/fieldline/pkg/utils"
)

// maxCascadeLevel bounds cascade depth; deeper chains need a different
// ordering barrier
const maxCascadeLevel = 2

// PIDProcessor runs every PID block at its own interval, honoring cascade
// ordering: level 0 first, then 1, then 2, with a short propagation delay
// between levels so children read this cycle's parent outputs. Blocks within
// a level run in parallel.
type PIDProcessor struct {
	Deps

	// PropagationDelay is the pause between cascade levels; 0 skips it
	PropagationDelay time.Duration

	pids   []models.PIDMemory
	tuning map[string]bool

	// mutex guards runtimes: blocks within a level step in parallel
	mutex    sync.Mutex
	runtimes map[string]*pidRuntime
}

type pidRuntime struct {
	controller *control.Controller
	hash       string
	reverse    bool
	lastTick   int64
	hasTick    bool
	latched    bool
}

// NewPIDProcessor makes a PID processor
func NewPIDProcessor(deps Deps, propagationDelay time.Duration) *PIDProcessor {
	return &PIDProcessor{
		Deps:             deps,
		PropagationDelay: propagationDelay,
		tuning:           map[string]bool{},
		runtimes:         map[string]*pidRuntime{},
	}
}

func (p *PIDProcessor) Name() string { return "pid" }

func (p *PIDProcessor) Refresh(ctx context.Context) error {
	pids, err := p.Config.PIDMemories(ctx)
	if err != nil {
		return err
	}
	sessions, err := p.Config.TuningSessions(ctx)
	if err != nil {
		return err
	}

	p.pids = pids

	tuning := map[string]bool{}
	for _, session := range sessions {
		if session.Status.Active() {
			tuning[session.PIDID] = true
		}
	}
	p.tuning = tuning

	valid := map[string]struct{}{}
	for _, pid := range pids {
		valid[pid.ID] = struct{}{}
	}
	p.mutex.Lock()
	for id := range p.runtimes {
		if _, ok := valid[id]; !ok {
			delete(p.runtimes, id)
		}
	}
	p.mutex.Unlock()
	return nil
}

func (p *PIDProcessor) runtime(pidID string) *pidRuntime {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.runtimes[pidID]
}

func (p *PIDProcessor) setRuntime(pidID string, rt *pidRuntime) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.runtimes[pidID] = rt
}

func (p *PIDProcessor) Cycle(ctx context.Context, now time.Time) error {
	for level := 0; level <= maxCascadeLevel; level++ {
		var wg sync.WaitGroup
		ran := false
		for _, pid := range p.pids {
			if !pid.Enabled || pid.CascadeLevel != level {
				continue
			}
			ran = true
			pid := pid
			wg.Add(1)
			go func() {
				defer wg.Done()
				engine.SafeBlock(p.Log, p.Metrics, p.Name(), pid.ID, func() error {
					return p.step(ctx, pid, now.Unix())
				})
			}()
		}
		wg.Wait()

		if ran && level < maxCascadeLevel && p.PropagationDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.PropagationDelay):
			}
		}
	}
	return nil
}

func (p *PIDProcessor) step(ctx context.Context, pid models.PIDMemory, now int64) error {
	if p.tuning[pid.ID] {
		// the tuning session owns the output
		return nil
	}

	rt := p.runtime(pid.ID)
	interval := pid.IntervalSeconds
	if interval <= 0 {
		interval = 1
	}
	if rt != nil && rt.hasTick && now-rt.lastTick < interval {
		return nil
	}

	pv, _, ok := p.finalFloat(ctx, pid.InputPointID)
	if !ok {
		return fmt.Errorf("process variable %s missing", pid.InputPointID)
	}
	setPoint, ok := p.resolveNumeric(ctx, pid.SetPoint)
	if !ok {
		return fmt.Errorf("setpoint reference %s missing", pid.SetPoint.ID)
	}
	reverse := p.resolveFlag(ctx, pid.ReverseOutput, false)

	hash := pid.ConfigHash()
	rt, err := p.prepare(ctx, pid, rt, hash, reverse, pv, setPoint)
	if err != nil {
		return err
	}

	dt := float64(interval)
	if rt.hasTick {
		dt = float64(now - rt.lastTick)
	}

	var output float64
	if p.resolveFlag(ctx, pid.IsAuto, true) {
		output = rt.controller.Compute(setPoint, pv, dt)
	} else {
		manual, ok := p.resolveNumeric(ctx, pid.ManualValue)
		if !ok {
			return fmt.Errorf("manual value reference %s missing", pid.ManualValue.ID)
		}
		output = utils.Clamp(manual, pid.OutMin, pid.OutMax)
		// keep the bookkeeping aligned so a return to auto is bumpless
		rt.controller.TrackManual(output, pv, setPoint)
	}

	p.driveDigitalCompanion(ctx, pid, rt, output)

	p.Dispatcher.WriteOrAdd(ctx, pid.OutputPointID, utils.FormatFloat(output), nil, pid.DurationSeconds)

	rt.lastTick = now
	rt.hasTick = true
	return p.checkpoint(ctx, pid.ID, rt, now)
}

// prepare returns a ready controller runtime, rebuilding bumplessly when the
// configuration hash or the resolved reverse flag changed, and restoring the
// persisted checkpoint on the first tick after a restart.
func (p *PIDProcessor) prepare(ctx context.Context, pid models.PIDMemory, rt *pidRuntime, hash string, reverse bool, pv, setPoint float64) (*pidRuntime, error) {
	if rt != nil && rt.hash == hash && rt.reverse == reverse {
		return rt, nil
	}

	settings := control.Settings{
		Kp:                    pid.Kp,
		Ki:                    pid.Ki,
		Kd:                    pid.Kd,
		OutMin:                pid.OutMin,
		OutMax:                pid.OutMax,
		FeedForward:           pid.FeedForward,
		DerivativeFilterAlpha: pid.DerivativeFilterAlpha,
		MaxSlewRate:           pid.MaxOutputSlewRate,
		DeadZone:              pid.DeadZone,
		Reverse:               reverse,
	}
	controller := control.New(settings)
	next := &pidRuntime{controller: controller, hash: hash, reverse: reverse}

	if rt == nil {
		// first tick since start: a matching checkpoint resumes, anything
		// else reinitializes from the observed output
		state, found, err := p.Store.LoadPIDState(ctx, pid.ID)
		if err != nil {
			return nil, err
		}
		if found && state.ConfigHash == hash {
			controller.Restore(state.Integral, state.PreviousPV, state.FilteredDerivative, state.PreviousOutput)
			next.lastTick = state.LastTick
			next.hasTick = state.LastTick > 0
			next.latched = state.DigitalLatched
			p.setRuntime(pid.ID, next)
			return next, nil
		}
		controller.InitializeForBumplessTransfer(p.observedOutput(ctx, pid), pv, setPoint)
		p.setRuntime(pid.ID, next)
		return next, nil
	}

	// configuration changed under a live runtime
	controller.InitializeForBumplessTransfer(rt.controller.Output(), pv, setPoint)
	next.lastTick = rt.lastTick
	next.hasTick = rt.hasTick
	next.latched = rt.latched
	p.setRuntime(pid.ID, next)
	return next, nil
}

func (p *PIDProcessor) observedOutput(ctx context.Context, pid models.PIDMemory) float64 {
	if v, _, ok := p.finalFloat(ctx, pid.OutputPointID); ok {
		return v
	}
	return pid.OutMin
}

// driveDigitalCompanion maintains the Schmitt trigger on the analog output:
// OFF to ON at the high threshold, ON to OFF at the low one, written only on
// transition
func (p *PIDProcessor) driveDigitalCompanion(ctx context.Context, pid models.PIDMemory, rt *pidRuntime, output float64) {
	cfg := pid.DigitalOutput
	if cfg == nil {
		return
	}

	next := rt.latched
	if !rt.latched && output >= cfg.HighThreshold {
		next = true
	} else if rt.latched && output <= cfg.LowThreshold {
		next = false
	}
	if next == rt.latched {
		return
	}
	rt.latched = next

	bit := next
	if cfg.Reverse {
		bit = !bit
	}
	p.Dispatcher.WriteOrAdd(ctx, cfg.PointID, utils.FormatDigital(bit), nil, 0)
}

func (p *PIDProcessor) checkpoint(ctx context.Context, pidID string, rt *pidRuntime, now int64) error {
	integral, previousPV, filteredDerivative, previousOutput := rt.controller.State()
	return p.Store.SavePIDState(ctx, models.PIDPersistedState{
		ID:                 pidID,
		LastTick:           now,
		Integral:           integral,
		PreviousPV:         previousPV,
		FilteredDerivative: filteredDerivative,
		PreviousOutput:     previousOutput,
		DigitalLatched:     rt.latched,
		ConfigHash:         rt.hash,
	})
}

// resolveNumeric resolves a point-or-variable reference. For points it takes
// the freshest of raw and final: a cascade parent publishes through the
// dispatcher into raw, and the child must see that value in the same cycle,
// before the monitoring pipeline carries it to final.
func (p *PIDProcessor) resolveNumeric(ctx context.Context, ref models.SourceRef) (float64, bool) {
	if ref.IsZero() {
		return 0, false
	}
	if ref.Kind == models.SourceVariable {
		return p.Variables.Resolve(ctx, ref.ID)
	}

	final, hasFinal, _ := p.Store.Final(ctx, ref.ID)
	raw, hasRaw, _ := p.Store.Raw(ctx, ref.ID)

	candidate := final
	switch {
	case hasRaw && (!hasFinal || raw.Time >= final.Time):
		candidate = raw
	case !hasFinal:
		return 0, false
	}
	return utils.ParseFloat(candidate.Value)
}

// resolveFlag resolves a boolean source reference, defaulting when the
// reference is unconfigured or unresolvable
func (p *PIDProcessor) resolveFlag(ctx context.Context, ref models.SourceRef, fallback bool) bool {
	if ref.IsZero() {
		return fallback
	}
	v, ok := store.ResolveSource(ctx, p.Store, p.Variables, ref)
	if !ok {
		return fallback
	}
	return v > 0.5
}
