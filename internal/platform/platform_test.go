package platform

import (
	"runtime"
	"testing"

	"gotest.tools/v3/assert"
)

func TestDetectReturnsAtLeastOneThread(t *testing.T) {
	top := Detect()
	if top.LogicalCPUs < 1 {
		t.Fatalf("expected at least 1 logical CPU, got %d", top.LogicalCPUs)
	}
	args := top.ThreadAffinityArgs()
	if len(args) != 4 || args[0] != "--threads" || args[2] != "--threads-batch" {
		t.Fatalf("unexpected thread affinity args: %v", args)
	}
}

func TestDetectReportsRuntimeOSAndArch(t *testing.T) {
	top := Detect()
	assert.Equal(t, top.OS, runtime.GOOS)
	assert.Assert(t, len(top.Arch) > 0)
}

func TestContainsFoldIsCaseInsensitive(t *testing.T) {
	if !containsFold("NVIDIA Corporation", "nvidia") {
		t.Fatal("expected case-insensitive match")
	}
	if containsFold("Intel", "amd") {
		t.Fatal("expected no match")
	}
}

func TestPhysicalCoreEstimateHandlesSingleCPU(t *testing.T) {
	if got := physicalCoreEstimate(1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}
