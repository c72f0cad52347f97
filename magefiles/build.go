//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

type Build mg.Namespace

const shadersDir = "assets/shaders"

// Compiles every Vulkan shader under assets/shaders to SPIR-V. Sources older
// than their binary are skipped.
func (Build) Shaders() error {
	for _, pattern := range []string{"*.vert", "*.frag", "*.comp"} {
		sources, err := filepath.Glob(filepath.Join(shadersDir, pattern))
		if err != nil {
			return err
		}
		for _, src := range sources {
			dst := src + ".spv"
			stale, err := target.Path(dst, src)
			if err != nil {
				return err
			}
			if !stale {
				continue
			}
			if _, err := executeCmd("glslc", withArgs(src, "-o", dst), withStream()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Building engine...")
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "kiln"), "."), withStream())
	return err
}
