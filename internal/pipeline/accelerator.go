package pipeline

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Device is a resolved or requested accelerator preference.
type Device string

const (
	// DeviceAuto prefers GPU when one is detected, CPU otherwise.
	DeviceAuto Device = "auto"
	// DeviceGPU prefers GPU; resolution falls back to CPU with a notice
	// when no accelerator is present.
	DeviceGPU Device = "gpu"
	// DeviceCPU forces CPU and skips probing.
	DeviceCPU Device = "cpu"
)

// ParseDevice converts a user-supplied device name.
func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case DeviceAuto, "":
		return DeviceAuto, nil
	case DeviceGPU, "cuda":
		return DeviceGPU, nil
	case DeviceCPU:
		return DeviceCPU, nil
	}
	return "", fmt.Errorf("unknown device %q (expected auto, gpu or cpu)", s)
}

// Probe reports accelerator availability. It must be side-effect free so
// that configuration building stays a pure decision.
type Probe interface {
	GPUAvailable() bool
}

// SystemProbe detects NVIDIA GPUs from the local filesystem. No driver
// calls, no subprocesses beyond a PATH lookup, so it behaves the same in
// containers and on bare metal.
type SystemProbe struct{}

// GPUAvailable implements Probe.
func (SystemProbe) GPUAvailable() bool {
	// CUDA_VISIBLE_DEVICES set to empty or -1 hides all devices.
	if v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || trimmed == "-1" {
			return false
		}
	}

	if _, err := os.Stat("/proc/driver/nvidia/version"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return true
	}
	if _, err := exec.LookPath("nvidia-smi"); err == nil {
		return true
	}
	return false
}

// StaticProbe returns a fixed answer. Used in tests and to force a result
// from configuration.
type StaticProbe bool

// GPUAvailable implements Probe.
func (p StaticProbe) GPUAvailable() bool {
	return bool(p)
}
