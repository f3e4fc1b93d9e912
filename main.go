package main

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/fieldline/fieldline/pkg/app"
	"github.com/fieldline/fieldline/pkg/config"
	"github.com/go-errors/errors"
	"github.com/integrii/flaggy"
	"github.com/jesseduffield/yaml"
)

var (
	commit  string
	version = "unversioned"
	date    string

	configFlag    = false
	debuggingFlag = false
)

func main() {
	info := fmt.Sprintf(
		"%s\nDate: %s\nCommit: %s\nOS: %s\nArch: %s",
		version,
		date,
		commit,
		runtime.GOOS,
		runtime.GOARCH,
	)

	flaggy.SetName("fieldline")
	flaggy.SetDescription("Soft-realtime monitoring and control engine for field devices")

	flaggy.Bool(&configFlag, "c", "config", "Print the current default config")
	flaggy.Bool(&debuggingFlag, "d", "debug", "a boolean")
	flaggy.SetVersion(info)

	flaggy.Parse()

	if configFlag {
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		err := encoder.Encode(config.GetDefaultConfig())
		if err != nil {
			log.Fatal(err.Error())
		}
		fmt.Printf("%v\n", buf.String())
		os.Exit(0)
	}

	appConfig, err := config.NewAppConfig("fieldline", version, commit, date, debuggingFlag)
	if err != nil {
		log.Fatal(err.Error())
	}

	app, err := app.NewApp(appConfig)
	if err == nil {
		err = app.Run()
	}

	if err != nil {
		newErr := errors.Wrap(err, 0)
		stackTrace := newErr.ErrorStack()
		app.Log.Error(stackTrace)

		log.Fatal(stackTrace)
	}

	if err := app.Close(); err != nil {
		log.Fatal(err.Error())
	}
}
