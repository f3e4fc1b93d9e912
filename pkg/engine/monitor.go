package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/boz/go-throttle"
	"github.com/fieldline/fieldline/pkg/database"
	"github.com/fieldline/fieldline/pkg/historian"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/store"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Monitor is the ingest pipeline: every cycle it drains the raw namespace and
// carries each fresh sample through smoothing, calibration and normalization
// into the final namespace and the historian. It is the only writer of final
// values.
type Monitor struct {
	Log       *logrus.Entry
	Store     *store.PointStore
	Config    database.ConfigStore
	Historian historian.Historian
	Clock     utils.Clock
	Metrics   *Metrics

	points map[string]models.Point

	// per-point pipeline state, keyed by point id
	windows        map[string][]models.Sample
	lastSeen       map[string]int64
	lastFinal      map[string]int64
	lastHistorical map[string]int64

	emptyWarning throttle.ThrottleDriver
}

// NewMonitor makes the monitoring pipeline processor
func NewMonitor(log *logrus.Entry, pointStore *store.PointStore, config database.ConfigStore, hist historian.Historian, clock utils.Clock, metrics *Metrics) *Monitor {
	m := &Monitor{
		Log:            log,
		Store:          pointStore,
		Config:         config,
		Historian:      hist,
		Clock:          clock,
		Metrics:        metrics,
		points:         map[string]models.Point{},
		windows:        map[string][]models.Sample{},
		lastSeen:       map[string]int64{},
		lastFinal:      map[string]int64{},
		lastHistorical: map[string]int64{},
	}
	m.emptyWarning = throttle.ThrottleFunc(time.Minute, false, func() {
		m.Log.Warn("raw namespace is empty, no driver appears to be feeding the store")
	})
	return m
}

func (m *Monitor) Name() string { return "monitor" }

// Refresh re-reads the point configuration and drops pipeline state of points
// that no longer exist
func (m *Monitor) Refresh(ctx context.Context) error {
	points, err := m.Config.Points(ctx)
	if err != nil {
		return err
	}

	cache := make(map[string]models.Point, len(points))
	for _, point := range points {
		cache[point.ID] = point
	}
	m.points = cache

	for id := range m.windows {
		if _, ok := cache[id]; !ok {
			delete(m.windows, id)
			delete(m.lastSeen, id)
			delete(m.lastFinal, id)
			delete(m.lastHistorical, id)
		}
	}
	return nil
}

// Cycle drains the raw namespace once
func (m *Monitor) Cycle(ctx context.Context, now time.Time) error {
	raw, err := m.Store.AllRaw(ctx)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		m.emptyWarning.Trigger()
		return nil
	}

	for _, value := range raw {
		value := value
		SafeBlock(m.Log, m.Metrics, m.Name(), value.PointID, func() error {
			return m.process(ctx, value)
		})
	}
	return nil
}

func (m *Monitor) process(ctx context.Context, raw models.StoredValue) error {
	point, known := m.points[raw.PointID]
	if !known {
		m.Log.WithField("pointId", raw.PointID).Warn("raw value for unconfigured point")
		return nil
	}

	// a raw value is fresh when its timestamp moved since the last cycle
	if raw.Time <= m.lastSeen[point.ID] {
		return nil
	}
	m.lastSeen[point.ID] = raw.Time

	var finalValue string
	if point.Kind.Digital() {
		bit, ok := utils.ParseDigital(raw.Value)
		if !ok {
			return fmt.Errorf("unparsable digital value %q", raw.Value)
		}
		finalValue = utils.FormatDigital(bit)
	} else {
		v, ok := utils.ParseFloat(raw.Value)
		if !ok {
			return fmt.Errorf("unparsable analog value %q", raw.Value)
		}
		finalValue = utils.FormatFloat(m.refine(point, v, raw.Time))
	}

	final := models.StoredValue{PointID: point.ID, Value: finalValue, Time: raw.Time}

	interval := point.SaveInterval
	if interval <= 0 {
		interval = 1
	}
	if raw.Time-m.lastFinal[point.ID] >= interval {
		if err := m.Store.SetFinal(ctx, final); err != nil {
			return err
		}
		m.lastFinal[point.ID] = raw.Time
	}

	histInterval := point.SaveHistoricalInterval
	if histInterval <= 0 {
		return nil
	}
	if raw.Time-m.lastHistorical[point.ID] >= histInterval {
		if err := m.Historian.Append(ctx, point.ID, final.Value, raw.Time); err != nil {
			return err
		}
		m.lastHistorical[point.ID] = raw.Time
	}
	return nil
}

// refine applies smoothing, calibration and range normalization, in that order
func (m *Monitor) refine(point models.Point, v float64, at int64) float64 {
	v = m.smooth(point, v, at)

	if point.CalibrationA != nil && point.CalibrationB != nil {
		v = *point.CalibrationA*v + *point.CalibrationB
	}

	if point.RangeMin != nil && point.RangeMax != nil && *point.RangeMin <= *point.RangeMax {
		v = utils.Clamp(v, *point.RangeMin, *point.RangeMax)
	}
	return v
}

func (m *Monitor) smooth(point models.Point, v float64, at int64) float64 {
	if point.NumberOfSamples <= 1 {
		return v
	}

	window := append(m.windows[point.ID], models.Sample{Value: v, Time: at})
	if excess := len(window) - point.NumberOfSamples; excess > 0 {
		window = window[excess:]
	}
	m.windows[point.ID] = window

	// digital points never average, regardless of configuration
	if point.Kind.Digital() || point.Smoothing != models.SmoothingMean {
		return v
	}

	sum := 0.0
	for _, sample := range window {
		sum += sample.Value
	}
	return sum / float64(len(window))
}
