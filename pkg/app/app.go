package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldline/fieldline/pkg/config"
	"github.com/fieldline/fieldline/pkg/database"
	"github.com/fieldline/fieldline/pkg/dispatch"
	"github.com/fieldline/fieldline/pkg/engine"
	"github.com/fieldline/fieldline/pkg/historian"
	"github.com/fieldline/fieldline/pkg/log"
	"github.com/fieldline/fieldline/pkg/memories"
	"github.com/fieldline/fieldline/pkg/store"
	"github.com/fieldline/fieldline/pkg/utils"
	"github.com/sirupsen/logrus"
)

// App struct
type App struct {
	closers []io.Closer

	Config      *config.AppConfig
	Log         *logrus.Entry
	ConfigStore database.ConfigStore
	Points      *store.PointStore
	Variables   *store.VariableStore
	Historian   historian.Historian
	Dispatcher  *dispatch.Dispatcher
	Supervisor  *engine.Supervisor
}

// NewApp bootstraps the engine: stores, write dispatcher, and the supervisor
// with the monitoring pipeline and every memory processor registered
func NewApp(appConfig *config.AppConfig) (*App, error) {
	app := &App{
		closers: []io.Closer{},
		Config:  appConfig,
	}
	app.Log = log.NewLogger(appConfig)

	clock := utils.RealClock{}
	kv := store.NewMemoryKV()
	app.Points = store.NewPointStore(kv)
	app.Variables = store.NewVariableStore(kv, clock)

	ctx := context.Background()
	dsn := appConfig.UserConfig.Database.PostgresDSN
	if dsn == "" {
		app.Log.Warn("no postgres dsn configured, running on the in-memory configuration store")
		app.ConfigStore = database.NewMemoryStore()
		app.Historian = historian.NewMemoryHistorian()
	} else {
		pg, err := database.NewPostgresStore(ctx, app.Log, dsn)
		if err != nil {
			return app, err
		}
		app.closers = append(app.closers, pg)
		if err := pg.EnsureHistoryPartitions(ctx, clock.Now()); err != nil {
			return app, err
		}
		app.ConfigStore = pg
		app.Historian = pg
	}

	app.Dispatcher = dispatch.NewDispatcher(app.Log, app.Points, app.ConfigStore, clock)
	anyTrue := dispatch.NewAggregator(dispatch.AnyTrue, app.Dispatcher)
	anyFalse := dispatch.NewAggregator(dispatch.AnyFalse, app.Dispatcher)

	engineConfig := appConfig.UserConfig.Engine
	app.Supervisor = engine.NewSupervisor(app.Log, app.ConfigStore, clock, engine.Options{
		BaseTick:          engineConfig.BaseTick,
		ConfigRefresh:     engineConfig.ConfigRefresh,
		StoreWaitAttempts: engineConfig.StoreWaitAttempts,
		StoreWaitDelay:    engineConfig.StoreWaitDelay,
	})

	deps := memories.Deps{
		Log:        app.Log,
		Store:      app.Points,
		Variables:  app.Variables,
		Config:     app.ConfigStore,
		Dispatcher: app.Dispatcher,
		AnyTrue:    anyTrue,
		AnyFalse:   anyFalse,
		Clock:      clock,
		Metrics:    app.Supervisor.Metrics,
	}

	app.Supervisor.Register(dispatcherRefresher{app.Dispatcher})
	app.Supervisor.Register(engine.NewMonitor(app.Log, app.Points, app.ConfigStore, app.Historian, clock, app.Supervisor.Metrics))
	app.Supervisor.Register(memories.NewAlarmProcessor(deps))
	app.Supervisor.Register(memories.NewPIDProcessor(deps, engineConfig.CascadePropagationDelay))
	app.Supervisor.Register(memories.NewTuningProcessor(deps))
	app.Supervisor.Register(memories.NewTotalizerProcessor(deps))
	app.Supervisor.Register(memories.NewRateOfChangeProcessor(deps))
	app.Supervisor.Register(memories.NewMovingAverageProcessor(deps))
	app.Supervisor.Register(memories.NewDeadbandProcessor(deps))
	app.Supervisor.Register(memories.NewScheduleProcessor(deps))
	app.Supervisor.Register(memories.NewComparisonProcessor(deps))
	app.Supervisor.Register(memories.NewMinMaxProcessor(deps))
	app.Supervisor.Register(memories.NewConditionalProcessor(deps))
	app.Supervisor.Register(memories.NewStatisticalProcessor(deps))
	app.Supervisor.Register(memories.NewWriteActionProcessor(deps))

	return app, nil
}

// Run starts the supervisor and blocks until an interrupt or termination
// signal arrives
func (app *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.Supervisor.Start(ctx)
	app.Log.WithField("version", app.Config.Version).Info("engine started")

	<-ctx.Done()
	app.Log.Info("shutting down")
	app.Supervisor.Stop()
	return nil
}

// Close closes any resources the app holds
func (app *App) Close() error {
	return utils.CloseMany(app.closers)
}

// dispatcherRefresher keeps the dispatcher's point cache on the same refresh
// cadence as the processors
type dispatcherRefresher struct {
	dispatcher *dispatch.Dispatcher
}

func (r dispatcherRefresher) Name() string { return "dispatch" }

func (r dispatcherRefresher) Refresh(ctx context.Context) error {
	return r.dispatcher.Refresh(ctx)
}

func (r dispatcherRefresher) Cycle(ctx context.Context, now time.Time) error {
	return nil
}
