package dispatch

import (
	"context"
	"time"

	"github.com/fieldline/fieldline/pkg/database"
	"github.com/fieldline/fieldline/pkg/models"
	"github.com/fieldline/fieldline/pkg/store"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the single write path of the engine. Every block output goes
// through WriteOrAdd, which decides between the hot raw cache and the driver
// write queue. Drivers consume queued items out of band; the dispatcher never
// waits for confirmation.
type Dispatcher struct {
	Log    *logrus.Entry
	Store  *store.PointStore
	Config database.ConfigStore
	Clock  utils.Clock

	mutex  deadlock.RWMutex
	points map[string]models.Point
}

// NewDispatcher makes a write dispatcher. Call Refresh before first use so the
// point cache is populated.
func NewDispatcher(log *logrus.Entry, pointStore *store.PointStore, config database.ConfigStore, clock utils.Clock) *Dispatcher {
	return &Dispatcher{
		Log:    log,
		Store:  pointStore,
		Config: config,
		Clock:  clock,
		points: map[string]models.Point{},
	}
}

// Refresh re-reads the point configuration cache
func (d *Dispatcher) Refresh(ctx context.Context) error {
	points, err := d.Config.Points(ctx)
	if err != nil {
		return err
	}
	cache := make(map[string]models.Point, len(points))
	for _, point := range points {
		cache[point.ID] = point
	}
	d.mutex.Lock()
	d.points = cache
	d.mutex.Unlock()
	return nil
}

// Point returns the cached configuration of a point
func (d *Dispatcher) Point(pointID string) (models.Point, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	point, ok := d.points[pointID]
	return point, ok
}

// WriteOrAdd publishes a block output. If the point has a writable field
// mapping the value is queued for the driver; otherwise the raw cache is
// updated directly. BACnet targets are refused: that interface does not
// accept writes. Returns whether the write was accepted.
func (d *Dispatcher) WriteOrAdd(ctx context.Context, pointID, value string, at *time.Time, durationSeconds int) bool {
	if pointID == "" || value == "" {
		d.Log.Warn("refusing write with empty point id or value")
		return false
	}

	when := d.Clock.Now()
	if at != nil {
		when = *at
	}

	point, known := d.Point(pointID)
	if known {
		switch {
		case point.Interface == models.InterfaceBACnet:
			d.Log.WithField("pointId", pointID).Warn("refusing write to bacnet point")
			return false
		case point.Writable && (point.Interface == models.InterfaceSharp7 || point.Interface == models.InterfaceModbus):
			item := models.WriteItem{
				PointID:         pointID,
				Value:           value,
				Time:            when.Unix(),
				DurationSeconds: durationSeconds,
			}
			if err := d.Config.UpsertWriteItem(ctx, item); err != nil {
				d.Log.WithField("pointId", pointID).WithError(err).Warn("failed to queue driver write")
				return false
			}
			return true
		}
	}

	// No writable mapping: publish to the raw namespace and let the
	// monitoring pipeline carry it forward
	if err := d.Store.SetRaw(ctx, models.StoredValue{PointID: pointID, Value: value, Time: when.Unix()}); err != nil {
		d.Log.WithField("pointId", pointID).WithError(err).Warn("failed to update raw cache")
		return false
	}
	return true
}
