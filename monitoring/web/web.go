// Package web holds the XRPS dashboard served at the root of the
// monitoring server.
package web

import (
	"embed"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// DevModeEnv names the environment variable that makes the dashboard load
// from the source tree, so that page edits show up without a rebuild.
const DevModeEnv = "XRPS_MONITOR_DEV"

//go:embed static/*
var dashboard embed.FS

// Dashboard returns the dashboard files. index.html lists the coordinators
// from /api/coordinators and drives the /api/xrps/{name} routes of the
// selected one: mode switches, manual EOT, and the stats views.
func Dashboard() http.FileSystem {
	if devMode() {
		dir := sourceDir()
		log.Printf("monitoring: serving dashboard from %s", dir)

		return http.Dir(dir)
	}

	static, err := fs.Sub(dashboard, "static")
	if err != nil {
		log.Panic(err)
	}

	return http.FS(static)
}

func sourceDir() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		log.Panic("monitoring: cannot locate the dashboard sources")
	}

	return filepath.Join(filepath.Dir(file), "static")
}

func devMode() bool {
	on, err := strconv.ParseBool(os.Getenv(DevModeEnv))

	return err == nil && on
}
