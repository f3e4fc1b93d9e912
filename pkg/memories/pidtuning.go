package memories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldline/fieldline/pkg/control"
	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/store"
	"github.com/fieldline/fieldline/pkg/utils"
)

// maxConsecutiveFailures aborts a session whose process variable keeps
// disappearing mid-run
const maxConsecutiveFailures = 3

// TuningProcessor drives relay-feedback auto-tuning sessions. While a session
// is active it owns the PID block's output; the PID processor stands aside.
// Calculated gains are stored on the session and never auto-applied.
type TuningProcessor struct {
	Deps

	pids     map[string]models.PIDMemory
	sessions []models.TuningSession
	runtimes map[string]*tuningRuntime
}

type tuningRuntime struct {
	relay    *control.Relay
	failures int
}

// NewTuningProcessor makes a tuning session processor
func NewTuningProcessor(deps Deps) *TuningProcessor {
	return &TuningProcessor{Deps: deps, pids: map[string]models.PIDMemory{}, runtimes: map[string]*tuningRuntime{}}
}

func (p *TuningProcessor) Name() string { return "pidtuning" }

func (p *TuningProcessor) Refresh(ctx context.Context) error {
	pids, err := p.Config.PIDMemories(ctx)
	if err != nil {
		return err
	}
	sessions, err := p.Config.TuningSessions(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]models.PIDMemory, len(pids))
	for _, pid := range pids {
		byID[pid.ID] = pid
	}
	p.pids = byID
	p.sessions = sessions

	valid := map[string]struct{}{}
	for _, session := range sessions {
		if session.Status.Active() {
			valid[session.ID] = struct{}{}
		}
	}
	for id := range p.runtimes {
		if _, ok := valid[id]; !ok {
			delete(p.runtimes, id)
		}
	}
	return nil
}

func (p *TuningProcessor) Cycle(ctx context.Context, now time.Time) error {
	for i := range p.sessions {
		session := &p.sessions[i]
		if !session.Status.Active() {
			continue
		}
		engine.SafeBlock(p.Log, p.Metrics, p.Name(), session.ID, func() error {
			return p.step(ctx, session, now.Unix())
		})
	}
	return nil
}

func (p *TuningProcessor) step(ctx context.Context, session *models.TuningSession, now int64) error {
	pid, ok := p.pids[session.PIDID]
	if !ok {
		return p.finish(ctx, session, models.TuningFailed, fmt.Sprintf("pid memory %s not found", session.PIDID))
	}

	switch session.Status {
	case models.TuningInitializing:
		return p.initialize(ctx, session, pid, now)
	case models.TuningRelayTest:
		return p.relayTest(ctx, session, pid, now)
	case models.TuningAnalyzing:
		return p.analyze(ctx, session)
	}
	return nil
}

func (p *TuningProcessor) initialize(ctx context.Context, session *models.TuningSession, pid models.PIDMemory, now int64) error {
	// cascade safety: a live parent would fight the relay
	if pid.ParentID != "" {
		if parent, ok := p.pids[pid.ParentID]; ok && parent.Enabled {
			return p.finish(ctx, session, models.TuningAborted, fmt.Sprintf("parent pid %s must be disabled before tuning", pid.ParentID))
		}
	}

	setPoint, ok := store.ResolveSource(ctx, p.Store, p.Variables, pid.SetPoint)
	if !ok {
		return p.finish(ctx, session, models.TuningFailed, "setpoint reference unresolvable")
	}

	amplitude := session.RelayAmplitudePercent / 100 * (pid.OutMax - pid.OutMin)
	p.runtimes[session.ID] = &tuningRuntime{relay: control.NewRelay(control.RelaySettings{
		SetPoint:     setPoint,
		Amplitude:    amplitude,
		Hysteresis:   session.Hysteresis,
		OutMin:       pid.OutMin,
		OutMax:       pid.OutMax,
		MinCycles:    session.MinCycles,
		MaxCycles:    session.MaxCycles,
		MaxAmplitude: session.MaxAmplitude,
	})}

	if session.StartTime == 0 {
		session.StartTime = now
	}
	session.OriginalKp = pid.Kp
	session.OriginalKi = pid.Ki
	session.OriginalKd = pid.Kd
	session.Status = models.TuningRelayTest
	return p.Config.UpdateTuningSession(ctx, *session)
}

func (p *TuningProcessor) relayTest(ctx context.Context, session *models.TuningSession, pid models.PIDMemory, now int64) error {
	rt, ok := p.runtimes[session.ID]
	if !ok {
		// restarted mid-session: begin the relay test over
		session.Status = models.TuningInitializing
		return p.Config.UpdateTuningSession(ctx, *session)
	}

	if session.TimeoutSeconds > 0 && now-session.StartTime > session.TimeoutSeconds {
		return p.finish(ctx, session, models.TuningAborted, "session timeout exceeded")
	}

	pv, _, ok := p.finalFloat(ctx, pid.InputPointID)
	if !ok {
		rt.failures++
		if rt.failures > maxConsecutiveFailures {
			return p.finish(ctx, session, models.TuningFailed, "process variable unavailable")
		}
		return nil
	}
	rt.failures = 0

	output := rt.relay.Step(pv, float64(now))
	p.Dispatcher.WriteOrAdd(ctx, pid.OutputPointID, utils.FormatFloat(output), nil, pid.DurationSeconds)

	if session.MaxAmplitude > 0 && rt.relay.MaxObservedAmplitude() > session.MaxAmplitude {
		return p.finish(ctx, session, models.TuningAborted, "oscillation amplitude exceeded safety bound")
	}

	// the cap comes first so a session bouncing between relay test and a
	// not-enough-cycles analysis cannot oscillate forever
	if session.MaxCycles > 0 && rt.relay.Cycles() > session.MaxCycles {
		return p.finish(ctx, session, models.TuningFailed, "max cycles reached without convergence")
	}
	if rt.relay.Cycles() >= session.MinCycles {
		session.Status = models.TuningAnalyzing
		return p.Config.UpdateTuningSession(ctx, *session)
	}
	return nil
}

func (p *TuningProcessor) analyze(ctx context.Context, session *models.TuningSession) error {
	rt, ok := p.runtimes[session.ID]
	if !ok {
		return p.finish(ctx, session, models.TuningFailed, "relay state lost before analysis")
	}

	result, err := rt.relay.Analyze()
	switch {
	case errors.Is(err, control.ErrAmplitudeExceeded):
		return p.finish(ctx, session, models.TuningAborted, err.Error())
	case errors.Is(err, control.ErrNotEnoughCycles):
		// keep oscillating another round
		session.Status = models.TuningRelayTest
		return p.Config.UpdateTuningSession(ctx, *session)
	case err != nil:
		return p.finish(ctx, session, models.TuningFailed, err.Error())
	}

	session.UltimateGain = result.UltimateGain
	session.UltimatePeriod = result.UltimatePeriod
	session.CalculatedKp = result.Kp
	session.CalculatedKi = result.Ki
	session.CalculatedKd = result.Kd
	return p.finish(ctx, session, models.TuningCompleted, "")
}

func (p *TuningProcessor) finish(ctx context.Context, session *models.TuningSession, status models.TuningStatus, diagnostic string) error {
	session.Status = status
	session.Diagnostic = diagnostic
	delete(p.runtimes, session.ID)
	return p.Config.UpdateTuningSession(ctx, *session)
}

// ApplyCalculatedGains is the operator action that adopts a completed
// session's gains: the PID config row is updated and the controller
// checkpoint is deleted so the next tick reinitializes bumplessly.
func (p *TuningProcessor) ApplyCalculatedGains(ctx context.Context, sessionID string) error {
	sessions, err := p.Config.TuningSessions(ctx)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if session.ID != sessionID {
			continue
		}
		if session.Status != models.TuningCompleted {
			return fmt.Errorf("session %s is %s, not completed", sessionID, session.Status)
		}
		if err := p.Config.UpdatePIDGains(ctx, session.PIDID, session.CalculatedKp, session.CalculatedKi, session.CalculatedKd); err != nil {
			return err
		}
		return p.Store.DeletePIDState(ctx, session.PIDID)
	}
	return fmt.Errorf("tuning session %s not found", sessionID)
}
