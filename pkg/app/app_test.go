package app

import (
	"testing"

	"github.com/fieldline/fieldline/pkg/config"
	"github.com/stretchr/testify/assert"
)

func testAppConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	appConfig, err := config.NewAppConfig("fieldline", "test-version", "test-commit", "test-date", false)
	assert.NoError(t, err)
	return appConfig
}

// Without a postgres dsn the app boots on the in-memory configuration store.
func TestNewAppFieldsInitialization(t *testing.T) {
	app, err := NewApp(testAppConfig(t))
	assert.NoError(t, err)
	assert.NotNil(t, app)

	assert.NotNil(t, app.Config)
	assert.NotNil(t, app.Log)
	assert.NotNil(t, app.ConfigStore)
	assert.NotNil(t, app.Points)
	assert.NotNil(t, app.Variables)
	assert.NotNil(t, app.Historian)
	assert.NotNil(t, app.Dispatcher)
	assert.NotNil(t, app.Supervisor)

	assert.NoError(t, app.Close())
}
