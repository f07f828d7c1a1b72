/*
Copyright 2024 Scopewatch, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gravitational/kingpin"
	"github.com/gravitational/trace"
	"github.com/scopewatch/scopewatch-client/lib"
	"github.com/scopewatch/scopewatch-client/lib/logger"
)

var (
	// Version is the semantic version of this build, overridden at build time.
	Version = "1.0.0"
	// Gitref is the git reference of this build, overridden at build time.
	Gitref = ""
)

func main() {
	logger.Init()
	app := kingpin.New("scopectl", "Scopewatch client session manager.")

	app.Command("configure", "Prints an example .TOML configuration file.")
	app.Command("version", "Prints scopectl version and exits.")

	loginCmd := app.Command("login", "Signs in to Scopewatch and stores the session.")
	loginPath := configFlag(loginCmd)

	logoutCmd := app.Command("logout", "Ends the stored session.")
	logoutPath := configFlag(logoutCmd)

	statusCmd := app.Command("status", "Prints the stored session status.")
	statusPath := configFlag(statusCmd)

	runCmd := app.Command("run", "Runs the foreground session agent.")
	runPath := configFlag(runCmd)
	debug := runCmd.Flag("debug", "Enable verbose logging to stderr").
		Short('d').
		Bool()

	selectedCmd, err := app.Parse(os.Args[1:])
	if err != nil {
		lib.Bail(err)
	}

	switch selectedCmd {
	case "configure":
		fmt.Print(exampleConfig)
	case "version":
		lib.PrintVersion(app.Name, Version, Gitref)
	case "login":
		if err := login(*loginPath); err != nil {
			lib.Bail(err)
		}
	case "logout":
		if err := logout(*logoutPath); err != nil {
			lib.Bail(err)
		}
	case "status":
		if err := status(*statusPath); err != nil {
			lib.Bail(err)
		}
	case "run":
		if err := run(*runPath, *debug); err != nil {
			lib.Bail(err)
		} else {
			logger.Standard().Info("Successfully shut down")
		}
	}
}

func configFlag(cmd *kingpin.CmdClause) *string {
	return cmd.Flag("config", "TOML config file path").
		Short('c').
		Default("/etc/scopectl.toml").
		String()
}

func run(configPath string, debug bool) error {
	conf, err := LoadConfig(configPath)
	if err != nil {
		return trace.Wrap(err)
	}

	logConfig := conf.Log
	if debug {
		logConfig.Severity = "debug"
	}
	if err = logger.Setup(logConfig); err != nil {
		return err
	}
	if debug {
		logger.Standard().Debugf("DEBUG logging enabled")
	}

	app, err := NewApp(*conf)
	if err != nil {
		return trace.Wrap(err)
	}

	go lib.ServeSignals(app, 15*time.Second)

	return trace.Wrap(
		app.Run(context.Background()),
	)
}
