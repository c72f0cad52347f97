package loaders

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type ShaderLoader struct{}

// Load reads a GLSL source or SPIR-V binary. The stage comes from the file
// name: shader.vert, shader.frag.spv, ...
func (sl *ShaderLoader) Load(path string, params interface{}) (*Asset, error) {
	stage, err := ShaderStageFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Asset{
		Name:     filepath.Base(path),
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     metadata.ShaderSource{Stage: stage, Path: path, Code: data},
	}, nil
}

func ShaderStageFromPath(path string) (metadata.ShaderStage, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".spv")
	switch filepath.Ext(name) {
	case ".vert":
		return metadata.ShaderStageVertex, nil
	case ".frag":
		return metadata.ShaderStageFragment, nil
	case ".comp":
		return metadata.ShaderStageCompute, nil
	}
	return 0, fmt.Errorf("cannot determine the shader stage of %s", path)
}
