package tensor

import "strconv"

// A Device identifies where a Tensor's memory lives.
//
// Non-negative values are GPU ordinals.
type Device int

// CPU is the host device.
const CPU Device = -1

// GPU returns the Device for the given GPU ordinal.
func GPU(ordinal int) Device {
	if ordinal < 0 {
		panic("negative GPU ordinal")
	}
	return Device(ordinal)
}

// IsCPU checks if the device is the host.
func (d Device) IsCPU() bool {
	return d < 0
}

// Type returns "cpu" or "gpu".
func (d Device) Type() string {
	if d.IsCPU() {
		return "cpu"
	}
	return "gpu"
}

// String returns "cpu" or "gpu:N".
func (d Device) String() string {
	if d.IsCPU() {
		return "cpu"
	}
	return "gpu:" + strconv.Itoa(int(d))
}
