package memories

import (
	"context"

	"github.com/fieldline/fieldline/pkg/database"
	"github.com/fieldline/fieldline/pkg/dispatch"
	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/store"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Deps is the shared wiring of every memory processor. Processors rendezvous
// only through the point store and the variable store; nothing here lets one
// processor call another.
type Deps struct {
	Log        *logrus.Entry
	Store      *store.PointStore
	Variables  *store.VariableStore
	Config     database.ConfigStore
	Dispatcher *dispatch.Dispatcher
	AnyTrue    *dispatch.Aggregator
	AnyFalse   *dispatch.Aggregator
	Clock      utils.Clock
	Metrics    *engine.Metrics
}

// finalFloat reads and parses a point's final value
func (d Deps) finalFloat(ctx context.Context, pointID string) (float64, int64, bool) {
	value, ok, err := d.Store.Final(ctx, pointID)
	if err != nil || !ok {
		return 0, 0, false
	}
	v, ok := utils.ParseFloat(value.Value)
	if !ok {
		return 0, 0, false
	}
	return v, value.Time, true
}

// finalDigital reads and parses a digital point's final value
func (d Deps) finalDigital(ctx context.Context, pointID string) (bool, int64, bool) {
	value, ok, err := d.Store.Final(ctx, pointID)
	if err != nil || !ok {
		return false, 0, false
	}
	b, ok := utils.ParseDigital(value.Value)
	if !ok {
		return false, 0, false
	}
	return b, value.Time, true
}

// finalString reads a point's final value without interpretation
func (d Deps) finalString(ctx context.Context, pointID string) (string, int64, bool) {
	value, ok, err := d.Store.Final(ctx, pointID)
	if err != nil || !ok {
		return "", 0, false
	}
	return value.Value, value.Time, true
}

// intervalGate implements per-block interval gating on the base tick: a block
// runs when at least its interval has elapsed since its previous run.
type intervalGate struct {
	last map[string]int64
}

func newIntervalGate() *intervalGate {
	return &intervalGate{last: map[string]int64{}}
}

// due reports whether the block should run at now and marks it as run when so.
// It also returns the elapsed seconds since the previous run (the interval on
// the first run).
func (g *intervalGate) due(blockID string, intervalSeconds, now int64) (bool, float64) {
	if intervalSeconds <= 0 {
		intervalSeconds = 1
	}
	last, seen := g.last[blockID]
	if seen && now-last < intervalSeconds {
		return false, 0
	}
	g.last[blockID] = now
	if !seen {
		return true, float64(intervalSeconds)
	}
	return true, float64(now - last)
}

// prune drops gate state of blocks that no longer exist
func (g *intervalGate) prune(valid map[string]struct{}) {
	for id := range g.last {
		if _, ok := valid[id]; !ok {
			delete(g.last, id)
		}
	}
}
