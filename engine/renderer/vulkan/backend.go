// Package vulkan implements the renderer backend on Vulkan through
// goki/vulkan. Native objects may be created from any goroutine; commands are
// recorded by one thread at a time.
package vulkan

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/kiln/engine/core"
	"github.com/spaghettifunk/kiln/engine/platform"
	"github.com/spaghettifunk/kiln/engine/renderer/metadata"
)

type retired struct {
	after   uint64
	destroy func()
}

type Backend struct {
	platform *platform.Platform
	context  *VulkanContext
	debug    bool

	cachedFramebufferWidth  uint32
	cachedFramebufferHeight uint32

	renderpasses      map[string]*VulkanRenderpass
	windowTargetsMu   sync.Mutex
	windowTargets     map[*vulkanTarget]struct{}
	descriptorLayouts descriptorLayouts
	descriptorPools   []vk.DescriptorPool
	defaultTexture    *VulkanImage
	defaultBuffer     *VulkanBuffer

	bindings bindingTable
	frame    recordState
	pending  []pendingFrame

	// serials of the last submitted and the last completed frame
	submitted atomic.Uint64
	completed atomic.Uint64

	graveyardMu sync.Mutex
	graveyard   []retired
}

// New creates a backend presenting to the window of p. debug enables the
// validation layer and the debug report callback.
func New(p *platform.Platform, debug bool) *Backend {
	return &Backend{
		platform: p,
		context: &VulkanContext{
			locks: NewVulkanLockPool(),
		},
		debug:         debug,
		renderpasses:  make(map[string]*VulkanRenderpass),
		windowTargets: make(map[*vulkanTarget]struct{}),
	}
}

func (b *Backend) Name() string {
	return "vulkan"
}

func (b *Backend) Multithreaded() bool {
	return true
}

func (b *Backend) Initialize(config metadata.RendererBackendConfig) error {
	if b.platform == nil || b.platform.Window == nil {
		return fmt.Errorf("%w: vulkan needs a window", core.ErrInvalidUsage)
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		err := fmt.Errorf("%w: GetInstanceProcAddress is nil", core.ErrConstructionFailure)
		core.LogError(err.Error())
		return err
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		err = fmt.Errorf("%w: failed to initialize vk: %v", core.ErrConstructionFailure, err)
		core.LogError(err.Error())
		return err
	}

	context := b.context
	context.FramebufferWidth, context.FramebufferHeight = config.FramebufferWidth, config.FramebufferHeight
	if w, h := b.platform.FramebufferSize(); w > 0 && h > 0 {
		context.FramebufferWidth, context.FramebufferHeight = w, h
	}

	if err := b.createInstance(config.ApplicationName); err != nil {
		return err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := b.platform.Window.CreateWindowSurface(context.Instance, nil)
	if err != nil {
		err = fmt.Errorf("%w: vulkan surface creation failed: %v", core.ErrConstructionFailure, err)
		core.LogError(err.Error())
		return err
	}
	context.Surface = vk.SurfaceFromPointer(surface)

	if err := DeviceCreate(context); err != nil {
		return err
	}
	if !DeviceDetectDepthFormat(context.Device) {
		return fmt.Errorf("%w: no supported depth format", core.ErrConstructionFailure)
	}

	sc, err := SwapchainCreate(context, context.FramebufferWidth, context.FramebufferHeight)
	if err != nil {
		return err
	}
	context.Swapchain = sc
	context.ImagesInFlight = make([]*VulkanFence, sc.ImageCount)

	if err := b.createFrameObjects(); err != nil {
		return err
	}

	if b.descriptorLayouts, err = createDescriptorLayouts(context); err != nil {
		return err
	}
	b.descriptorPools = make([]vk.DescriptorPool, sc.MaxFramesInFlight)
	for i := range b.descriptorPools {
		if b.descriptorPools[i], err = createDescriptorPool(context); err != nil {
			return err
		}
	}
	if err := b.createDefaults(); err != nil {
		return err
	}

	core.LogInfo("Vulkan renderer initialized on %s.", vk.ToString(context.Device.Properties.DeviceName[:]))
	return nil
}

func (b *Backend) createInstance(applicationName string) error {
	context := b.context
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(applicationName),
		PEngineName:        VulkanSafeString("Kiln Engine"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := append([]string{"VK_KHR_surface"}, b.platform.GetRequiredExtensionNames()...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if b.debug {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		layers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := checkLayers(layers); err != nil {
			core.LogWarn("%s, continuing without validation", err)
			layers = nil
			extensions = extensions[:len(extensions)-1]
		}
	}
	for _, e := range extensions {
		core.LogDebug("instance extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, context.Allocator, &instance); res != vk.Success {
		return vulkanError("vkCreateInstance", res)
	}
	context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		err = fmt.Errorf("%w: %v", core.ErrConstructionFailure, err)
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if len(layers) > 0 {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(instance, &debugCreateInfo, context.Allocator, &dbg); res != vk.Success {
			return vulkanError("vkCreateDebugReportCallbackEXT", res)
		}
		context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func checkLayers(required []string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return vulkanError("vkEnumerateInstanceLayerProperties", res)
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return vulkanError("vkEnumerateInstanceLayerProperties", res)
	}
	names := make(map[string]struct{}, count)
	for i := range available {
		available[i].Deref()
		names[vk.ToString(available[i].LayerName[:])] = struct{}{}
	}
	for _, layer := range required {
		if _, ok := names[layer]; !ok {
			return fmt.Errorf("required validation layer is missing: %s", layer)
		}
	}
	return nil
}

// createFrameObjects creates the command buffer, semaphores and fence of
// every frame in flight.
func (b *Backend) createFrameObjects() error {
	context := b.context
	frames := int(context.Swapchain.MaxFramesInFlight)
	context.GraphicsCommandBuffers = make([]*VulkanCommandBuffer, frames)
	context.ImageAvailableSemaphores = make([]vk.Semaphore, frames)
	context.QueueCompleteSemaphores = make([]vk.Semaphore, frames)
	context.InFlightFences = make([]*VulkanFence, frames)

	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	for i := 0; i < frames; i++ {
		cb, err := NewVulkanCommandBuffer(context, context.Device.GraphicsCommandPool, true)
		if err != nil {
			return err
		}
		context.GraphicsCommandBuffers[i] = cb

		if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &context.ImageAvailableSemaphores[i]); res != vk.Success {
			return vulkanError("vkCreateSemaphore", res)
		}
		if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreCreateInfo, context.Allocator, &context.QueueCompleteSemaphores[i]); res != vk.Success {
			return vulkanError("vkCreateSemaphore", res)
		}
		// Signalled so the first wait on each slot returns at once.
		fence, err := NewFence(context, true)
		if err != nil {
			return err
		}
		context.InFlightFences[i] = fence
	}
	core.LogDebug("Vulkan frame objects created for %d frames in flight.", frames)
	return nil
}

// createDefaults builds what empty binding slots point at: a white texel and
// a zeroed buffer.
func (b *Backend) createDefaults() error {
	context := b.context
	image, err := ImageCreate(context, 1, 1, vk.FormatR8g8b8a8Unorm,
		vk.ImageUsageFlags(vk.ImageUsageSampledBit|vk.ImageUsageTransferDstBit),
		vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return err
	}
	b.defaultTexture = image

	staging, err := BufferCreate(context, 4, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return err
	}
	defer staging.Destroy(context)
	if err := staging.LoadData(context, 0, []byte{255, 255, 255, 255}); err != nil {
		return err
	}
	err = SingleUse(context, func(cb *VulkanCommandBuffer) {
		image.TransitionLayout(cb, vk.ImageLayoutTransferDstOptimal)
		image.CopyFromBuffer(cb, staging.Handle)
		image.TransitionLayout(cb, vk.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		return err
	}

	b.defaultBuffer, err = BufferCreate(context, 256, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit|vk.BufferUsageStorageBufferBit))
	if err != nil {
		return err
	}
	return b.defaultBuffer.LoadData(context, 0, make([]byte, 256))
}

func (b *Backend) Shutdown() error {
	context := b.context
	if context.Device == nil || context.Device.LogicalDevice == nil {
		return nil
	}
	vk.DeviceWaitIdle(context.Device.LogicalDevice)

	for _, p := range b.pending {
		if p.fence != nil {
			p.fence.Signal()
		}
	}
	b.pending = nil
	b.graveyardMu.Lock()
	for _, r := range b.graveyard {
		r.destroy()
	}
	b.graveyard = nil
	b.graveyardMu.Unlock()

	// Destroy in the opposite order of creation.
	b.windowTargetsMu.Lock()
	for vt := range b.windowTargets {
		vt.destroyFramebuffers(context)
		delete(b.windowTargets, vt)
	}
	b.windowTargetsMu.Unlock()
	for key, rp := range b.renderpasses {
		rp.RenderpassDestroy(context)
		delete(b.renderpasses, key)
	}
	if b.defaultBuffer != nil {
		b.defaultBuffer.Destroy(context)
		b.defaultBuffer = nil
	}
	if b.defaultTexture != nil {
		b.defaultTexture.Destroy(context)
		b.defaultTexture = nil
	}
	for _, pool := range b.descriptorPools {
		if pool != nil {
			vk.DestroyDescriptorPool(context.Device.LogicalDevice, pool, context.Allocator)
		}
	}
	b.descriptorPools = nil
	b.descriptorLayouts.destroy(context)

	for i := range context.InFlightFences {
		if context.ImageAvailableSemaphores[i] != nil {
			vk.DestroySemaphore(context.Device.LogicalDevice, context.ImageAvailableSemaphores[i], context.Allocator)
		}
		if context.QueueCompleteSemaphores[i] != nil {
			vk.DestroySemaphore(context.Device.LogicalDevice, context.QueueCompleteSemaphores[i], context.Allocator)
		}
		if context.InFlightFences[i] != nil {
			context.InFlightFences[i].FenceDestroy(context)
		}
	}
	context.ImageAvailableSemaphores = nil
	context.QueueCompleteSemaphores = nil
	context.InFlightFences = nil
	context.ImagesInFlight = nil

	for _, cb := range context.GraphicsCommandBuffers {
		if cb != nil {
			cb.Free(context, context.Device.GraphicsCommandPool)
		}
	}
	context.GraphicsCommandBuffers = nil

	if context.Swapchain != nil {
		context.Swapchain.SwapchainDestroy(context)
		context.Swapchain = nil
	}

	core.LogDebug("Destroying Vulkan device...")
	DeviceDestroy(context)

	if context.Surface != nil {
		vk.DestroySurface(context.Instance, context.Surface, context.Allocator)
		context.Surface = nil
	}
	if context.debugMessenger != nil {
		vk.DestroyDebugReportCallback(context.Instance, context.debugMessenger, context.Allocator)
		context.debugMessenger = nil
	}
	core.LogDebug("Destroying Vulkan instance...")
	vk.DestroyInstance(context.Instance, context.Allocator)
	context.Instance = nil
	return nil
}

// Resized records the new size. The swapchain is recreated when the next
// frame starts.
func (b *Backend) Resized(width, height uint32) error {
	b.cachedFramebufferWidth = width
	b.cachedFramebufferHeight = height
	b.context.FramebufferSizeGeneration++
	core.LogInfo("Vulkan renderer backend->resized: w/h/gen: %d/%d/%d", width, height, b.context.FramebufferSizeGeneration)
	return nil
}

func (b *Backend) FramebufferSize() (uint32, uint32) {
	if b.cachedFramebufferWidth != 0 && b.cachedFramebufferHeight != 0 {
		return b.cachedFramebufferWidth, b.cachedFramebufferHeight
	}
	return b.context.FramebufferWidth, b.context.FramebufferHeight
}

// recreateSwapchain rebuilds the swapchain at the cached size along with the
// framebuffers of every window target. A minimised window leaves the
// generation mismatch in place so recreation is retried next frame.
func (b *Backend) recreateSwapchain() error {
	context := b.context
	if context.RecreatingSwapchain {
		return nil
	}
	width, height := b.FramebufferSize()
	if width == 0 || height == 0 {
		core.LogDebug("recreate swapchain called when window is < 1 in a dimension, booting")
		return nil
	}
	context.RecreatingSwapchain = true
	defer func() { context.RecreatingSwapchain = false }()

	if res := vk.DeviceWaitIdle(context.Device.LogicalDevice); !VulkanResultIsSuccess(res) {
		return vulkanError("vkDeviceWaitIdle", res)
	}
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, context.Device.SwapchainSupport); err != nil {
		return err
	}

	sc, err := context.Swapchain.SwapchainRecreate(context, width, height)
	if err != nil {
		return err
	}
	context.Swapchain = sc
	context.ImagesInFlight = make([]*VulkanFence, sc.ImageCount)
	context.FramebufferWidth, context.FramebufferHeight = width, height
	b.cachedFramebufferWidth, b.cachedFramebufferHeight = 0, 0
	context.FramebufferSizeLastGeneration = context.FramebufferSizeGeneration

	b.windowTargetsMu.Lock()
	defer b.windowTargetsMu.Unlock()
	for vt := range b.windowTargets {
		if err := b.buildWindowFramebuffers(vt); err != nil {
			return err
		}
	}
	core.LogInfo("Swapchain recreated at %dx%d.", sc.Extent.Width, sc.Extent.Height)
	return nil
}

// deferDestroy runs destroy once every frame that may reference the object
// has completed.
func (b *Backend) deferDestroy(destroy func()) {
	b.graveyardMu.Lock()
	b.graveyard = append(b.graveyard, retired{
		after:   b.submitted.Load() + 1,
		destroy: destroy,
	})
	b.graveyardMu.Unlock()
}

func (b *Backend) collectGarbage() {
	completed := b.completed.Load()
	var ready []func()
	b.graveyardMu.Lock()
	n := 0
	for _, r := range b.graveyard {
		if r.after <= completed {
			ready = append(ready, r.destroy)
			continue
		}
		b.graveyard[n] = r
		n++
	}
	b.graveyard = b.graveyard[:n]
	b.graveyardMu.Unlock()

	for _, destroy := range ready {
		destroy()
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
