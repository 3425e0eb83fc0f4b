// Package platform detects host CPU/GPU topology and turns it into the
// thread-affinity flags the GGUF backend appends to its argv (spec §4.4's
// "thread-affinity arguments derived from system topology"), plus the
// accelerator capability flags used to decide which recipes the host supports.
package platform

import (
	"runtime"
	"strconv"
	"strings"

	sysinfo "github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"
	"github.com/tonistiigi/go-archvariant"
)

// Topology summarizes what a backend needs to pick thread counts and an
// execution mode.
type Topology struct {
	OS             string
	Arch           string
	LogicalCPUs    int
	PhysicalCores  int
	GPUs           []GPU
	VulkanCapable  bool
	ROCmCapable    bool
	MetalCapable   bool
	NPUCapable     bool
}

// GPU describes one detected graphics/accelerator device.
type GPU struct {
	Vendor string
	Name   string
}

// Detect probes the host once. Callers cache the result for the process
// lifetime; topology doesn't change under a running server.
func Detect() Topology {
	t := Topology{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
	}

	// go-sysinfo gives us host/process accounting; used below only to sanity
	// check that the host is queryable at all before trusting GOMAXPROCS-style
	// heuristics for the physical core estimate.
	if _, err := sysinfo.Host(); err != nil {
		t.PhysicalCores = t.LogicalCPUs
	} else {
		t.PhysicalCores = physicalCoreEstimate(t.LogicalCPUs)
	}

	if gpuInfo, err := ghw.GPU(); err == nil {
		for _, card := range gpuInfo.GraphicsCards {
			if card.DeviceInfo == nil {
				continue
			}
			vendor := ""
			if card.DeviceInfo.Vendor != nil {
				vendor = card.DeviceInfo.Vendor.Name
			}
			name := ""
			if card.DeviceInfo.Product != nil {
				name = card.DeviceInfo.Product.Name
			}
			t.GPUs = append(t.GPUs, GPU{Vendor: vendor, Name: name})
		}
	}

	t.MetalCapable = t.OS == "darwin"
	t.ROCmCapable = t.OS == "linux" && hasVendorGPU(t.GPUs, "AMD", "ATI")
	t.VulkanCapable = hasVendorGPU(t.GPUs, "NVIDIA", "AMD", "ATI", "Intel")
	t.NPUCapable = t.OS == "windows" && hasNPUHint(t.GPUs)

	if strings.HasPrefix(t.Arch, "arm") {
		if variant := archvariant.ArchVariant(); variant != "" {
			t.Arch = t.Arch + "/" + variant
		}
	}

	return t
}

func hasVendorGPU(gpus []GPU, vendors ...string) bool {
	for _, g := range gpus {
		for _, v := range vendors {
			if containsFold(g.Vendor, v) {
				return true
			}
		}
	}
	return false
}

func hasNPUHint(gpus []GPU) bool {
	for _, g := range gpus {
		if containsFold(g.Name, "NPU") || containsFold(g.Name, "AI Engine") {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// physicalCoreEstimate falls back to "half the logical count" when we can't
// query SMT state directly, which is a reasonable default for thread-pool
// sizing on most consumer hardware.
func physicalCoreEstimate(logical int) int {
	if logical <= 1 {
		return logical
	}
	return logical / 2
}

// ThreadAffinityArgs builds the --threads/--threads-batch style arguments
// the GGUF backend appends to its argv, derived from the detected topology.
func (t Topology) ThreadAffinityArgs() []string {
	threads := t.PhysicalCores
	if threads <= 0 {
		threads = t.LogicalCPUs
	}
	if threads <= 0 {
		threads = 1
	}
	return []string{"--threads", strconv.Itoa(threads), "--threads-batch", strconv.Itoa(threads)}
}
