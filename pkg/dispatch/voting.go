package dispatch

import (
	"context"

	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/sasha-s/go-deadlock"
)

// VoteMode selects how an aggregator folds its sources
type VoteMode int

const (
	// AnyTrue asserts "1" to the target iff any source is true
	AnyTrue VoteMode = iota
	// AnyFalse asserts "0" to the target iff any source is false
	AnyFalse
)

// Aggregator is the process-wide OR fan-in used by alarm externals and
// comparison memories: many sources, keyed by (target point, source id),
// folded into a single digital output per target. One lock guards the whole
// map; contention is negligible at engine scale.
type Aggregator struct {
	mode       VoteMode
	dispatcher *Dispatcher

	mutex   deadlock.Mutex
	sources map[string]map[string]bool
}

// NewAggregator makes an aggregator writing through the given dispatcher
func NewAggregator(mode VoteMode, dispatcher *Dispatcher) *Aggregator {
	return &Aggregator{
		mode:       mode,
		dispatcher: dispatcher,
		sources:    map[string]map[string]bool{},
	}
}

// Set records one source's vote for a target point and publishes the folded
// result
func (a *Aggregator) Set(ctx context.Context, targetPointID, sourceID string, value bool) {
	a.mutex.Lock()
	byTarget, ok := a.sources[targetPointID]
	if !ok {
		byTarget = map[string]bool{}
		a.sources[targetPointID] = byTarget
	}
	byTarget[sourceID] = value
	result := a.fold(byTarget)
	a.mutex.Unlock()

	a.dispatcher.WriteOrAdd(ctx, targetPointID, utils.FormatDigital(result), nil, 0)
}

// Remove drops one source's vote without publishing, for block deletion
func (a *Aggregator) Remove(targetPointID, sourceID string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if byTarget, ok := a.sources[targetPointID]; ok {
		delete(byTarget, sourceID)
	}
}

func (a *Aggregator) fold(byTarget map[string]bool) bool {
	switch a.mode {
	case AnyFalse:
		for _, value := range byTarget {
			if !value {
				return false
			}
		}
		return true
	default:
		for _, value := range byTarget {
			if value {
				return true
			}
		}
		return false
	}
}
