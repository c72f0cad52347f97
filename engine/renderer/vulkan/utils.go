package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
)

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// VulkanResultIsSuccess reports whether result is one of the success codes.
// Error codes are all negative.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= vk.Success
}

// vulkanError wraps a failed result into a construction failure.
func vulkanError(op string, result vk.Result) error {
	err := fmt.Errorf("%w: %s: %v", core.ErrConstructionFailure, op, vk.Error(result))
	core.LogError(err.Error())
	return err
}

func MathClamp(value, min, max uint32) uint32 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
