/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/kiln/engine"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/testbed"
)

func main() {
	configPath := flag.String("config", "kiln.toml", "path of the application config")
	backend := flag.String("backend", "", "renderer backend, overrides the config (headless, opengl, vulkan)")
	flag.Parse()

	config := engine.DefaultApplicationConfig()
	loaded, err := engine.LoadApplicationConfig(*configPath)
	switch {
	case err == nil:
		config = *loaded
	case errors.Is(err, fs.ErrNotExist):
		core.LogInfo("no config at %s, using defaults", *configPath)
	default:
		os.Exit(1)
	}
	if *backend != "" {
		config.Backend = *backend
	}

	tb := testbed.NewTestGame(&config)
	e, err := engine.New(tb.Game)
	if err != nil {
		os.Exit(1)
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		e.Events().Fire(core.EventContext{Type: core.EventCodeApplicationQuit})
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil || runErr != nil {
		os.Exit(1)
	}
}
