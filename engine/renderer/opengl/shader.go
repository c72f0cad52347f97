package opengl

import (
	"fmt"
	"strings"

	"github.com/go-gl/gl/v3.3-core/gl"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

func shaderType(stage metadata.ShaderStage) (uint32, error) {
	switch stage {
	case metadata.ShaderStageVertex:
		return gl.VERTEX_SHADER, nil
	case metadata.ShaderStageFragment:
		return gl.FRAGMENT_SHADER, nil
	}
	return 0, fmt.Errorf("%s shaders need OpenGL 4.3", stage)
}

// linkProgram compiles GLSL stages and links them. SPIR-V is not accepted by
// a 3.3 context.
func linkProgram(stages []metadata.ShaderSource) (uint32, error) {
	shaders := make([]uint32, 0, len(stages))
	defer func() {
		for _, s := range shaders {
			gl.DeleteShader(s)
		}
	}()
	for _, stage := range stages {
		if isSPIRV(stage.Code) {
			return 0, fmt.Errorf("%s stage %s is SPIR-V, OpenGL needs GLSL source", stage.Stage, stage.Path)
		}
		xtype, err := shaderType(stage.Stage)
		if err != nil {
			return 0, err
		}
		shader, err := compileShader(xtype, string(stage.Code))
		if err != nil {
			return 0, fmt.Errorf("%s stage: %w", stage.Stage, err)
		}
		shaders = append(shaders, shader)
	}

	program := gl.CreateProgram()
	for _, s := range shaders {
		gl.AttachShader(program, s)
	}
	gl.LinkProgram(program)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetProgramInfoLog(program, logLength, nil, gl.Str(log))
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("link error: %s", strings.TrimRight(log, "\x00"))
	}
	for _, s := range shaders {
		gl.DetachShader(program, s)
	}
	bindSlots(program)
	return program, nil
}

// maxBindingSlots matches the slot range every backend accepts.
const maxBindingSlots = 8

// bindSlots wires binding slots by name, 3.3 GLSL has no binding qualifier:
// sampler uniforms slot0..slot7 read texture unit N and uniform blocks
// Slot0..Slot7 read uniform buffer binding N.
func bindSlots(program uint32) {
	gl.UseProgram(program)
	for i := 0; i < maxBindingSlots; i++ {
		if loc := gl.GetUniformLocation(program, gl.Str(fmt.Sprintf("slot%d\x00", i))); loc >= 0 {
			gl.Uniform1i(loc, int32(i))
		}
		if index := gl.GetUniformBlockIndex(program, gl.Str(fmt.Sprintf("Slot%d\x00", i))); index != gl.INVALID_INDEX {
			gl.UniformBlockBinding(program, index, uint32(i))
		}
	}
	gl.UseProgram(0)
}

func compileShader(shaderType uint32, source string) (uint32, error) {
	shader := gl.CreateShader(shaderType)
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var logLength int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &logLength)
		log := strings.Repeat("\x00", int(logLength+1))
		gl.GetShaderInfoLog(shader, logLength, nil, gl.Str(log))
		gl.DeleteShader(shader)
		return 0, fmt.Errorf("compile error: %s", strings.TrimRight(log, "\x00"))
	}
	return shader, nil
}

// isSPIRV checks for the SPIR-V magic number in either byte order.
func isSPIRV(code []uint8) bool {
	if len(code) < 4 {
		return false
	}
	return (code[0] == 0x03 && code[1] == 0x02 && code[2] == 0x23 && code[3] == 0x07) ||
		(code[0] == 0x07 && code[1] == 0x23 && code[2] == 0x02 && code[3] == 0x03)
}
