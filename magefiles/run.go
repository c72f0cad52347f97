//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed with kiln.toml.
func (Run) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "kiln.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed without a window for a fixed number of frames.
func (Run) Headless() error {
	if _, err := executeCmd("go", withArgs("run", ".", "-config", "kiln.toml", "-backend", "headless"), withStream()); err != nil {
		return err
	}
	return nil
}
