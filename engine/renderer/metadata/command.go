package metadata

import (
	"fmt"

	"github.com/spaghettifunk/kiln/engine/math"
)

// Command is a backend-agnostic instruction recorded by a render pass and
// translated by a backend into native API calls.
type Command interface {
	fmt.Stringer
}

// BeginSubpass starts rendering into Target.
type BeginSubpass struct {
	Index  int
	Target *RenderTarget
}

func (c BeginSubpass) String() string { return fmt.Sprintf("begin_subpass(%d)", c.Index) }

// EndSubpass ends the current subpass.
type EndSubpass struct {
	Index int
}

func (c EndSubpass) String() string { return fmt.Sprintf("end_subpass(%d)", c.Index) }

type BindPipeline struct {
	Pipeline *Pipeline
}

func (c BindPipeline) String() string { return fmt.Sprintf("bind_pipeline(%v)", c.Pipeline.Key) }

type SetViewport struct {
	Rect math.Rect
}

func (c SetViewport) String() string { return fmt.Sprintf("viewport(%v)", c.Rect) }

type SetScissor struct {
	Rect math.Rect
}

func (c SetScissor) String() string { return fmt.Sprintf("scissor(%v)", c.Rect) }

// Clear clears the attachments of the active target.
type Clear struct {
	Color   Color
	Depth   float32
	Stencil uint32
	/** @brief Clear depth/stencil as well; set when the target has a depth attachment. */
	DepthStencil bool
}

func (c Clear) String() string { return fmt.Sprintf("clear(%v)", c.Color) }

// Draw issues Count elements of Mesh starting at First.
type Draw struct {
	Mesh  *Mesh
	First uint32
	Count uint32
}

func (c Draw) String() string {
	return fmt.Sprintf("draw(%v, %d, %d)", c.Mesh.Key, c.First, c.Count)
}

// Execute submits the recorded work. Fence is signalled when the GPU is done
// with it. Present is set when the final target is the window.
type Execute struct {
	Fence   *Fence
	Present bool
}

func (c Execute) String() string { return fmt.Sprintf("execute(present=%t)", c.Present) }

// Abort drops a chain that failed part way. Backends close whatever is open
// and return to the state they had before the chain began. Work that was
// already recorded may still be submitted, without a fence to signal.
type Abort struct{}

func (c Abort) String() string { return "abort" }
