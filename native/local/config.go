package local

import (
	"github.com/wippyai/frida-go/dispatch"
	"github.com/wippyai/frida-go/native"
)

// Config describes the engine's initial device inventory.
type Config struct {
	// MainContext receives every signal emission. Nil starts a private loop on Init.
	MainContext dispatch.Context
	// FailInit, when set, makes Init fail with this error.
	FailInit error
	Devices  []DeviceConfig
}

// DeviceConfig describes one device.
type DeviceConfig struct {
	Icon        *native.Icon
	ID          string
	Name        string
	Processes   []ProcessConfig
	Executables []string
	Type        native.DeviceType
}

// ProcessConfig describes a process already running on a device.
type ProcessConfig struct {
	Name string
	PID  uint32
}

// DefaultConfig returns a local device with a few processes and a remote device.
func DefaultConfig() Config {
	return Config{
		Devices: []DeviceConfig{
			{
				ID:   "local",
				Name: "Local System",
				Type: native.DeviceTypeLocal,
				Icon: CheckerIcon(16),
				Processes: []ProcessConfig{
					{PID: 1, Name: "init"},
					{PID: 412, Name: "sshd"},
					{PID: 1337, Name: "target"},
				},
				Executables: []string{"/bin/cat", "/usr/bin/true"},
			},
			{
				ID:   "socket",
				Name: "Local Socket",
				Type: native.DeviceTypeRemote,
			},
		},
	}
}

// CheckerIcon returns a grey checkerboard icon of size×size pixels.
func CheckerIcon(size int) *native.Icon {
	icon := &native.Icon{
		Width:     size,
		Height:    size,
		Rowstride: size * 4,
		Pixels:    make([]byte, size*size*4),
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := y*icon.Rowstride + x*4
			var v byte = 0x30
			if (x/4+y/4)%2 == 0 {
				v = 0xe0
			}
			icon.Pixels[off], icon.Pixels[off+1], icon.Pixels[off+2], icon.Pixels[off+3] = v, v, v, 0xff
		}
	}
	return icon
}
