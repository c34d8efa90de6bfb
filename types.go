package frida

import (
	"fmt"
	"image"
	"image/color"

	"github.com/wippyai/frida-go/native"
)

// DeviceType classifies a device.
type DeviceType int

const (
	DeviceTypeLocal DeviceType = iota
	DeviceTypeTether
	DeviceTypeRemote
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeLocal:
		return "Local"
	case DeviceTypeTether:
		return "Tether"
	case DeviceTypeRemote:
		return "Remote"
	}
	panic(fmt.Sprintf("frida: unknown device type %d", int(t)))
}

func deviceType(t native.DeviceType) DeviceType {
	switch t {
	case native.DeviceTypeLocal:
		return DeviceTypeLocal
	case native.DeviceTypeTether:
		return DeviceTypeTether
	case native.DeviceTypeRemote:
		return DeviceTypeRemote
	}
	panic(fmt.Sprintf("frida: unknown engine device type %d", int(t)))
}

// Process is one entry of a device's process list.
type Process struct {
	icon *native.Icon
	Name string
	PID  uint32
}

// Image converts the process icon. Returns nil if the process has none.
func (p Process) Image() image.Image {
	return iconImage(p.icon)
}

// iconImage converts engine RGBA pixel rows into an image. Icons whose pixel buffer
// does not cover Height rows of Width pixels yield nil.
func iconImage(icon *native.Icon) image.Image {
	if icon == nil || icon.Width <= 0 || icon.Height <= 0 {
		return nil
	}
	rowBytes := icon.Width * 4
	if icon.Rowstride < rowBytes || len(icon.Pixels) < icon.Rowstride*(icon.Height-1)+rowBytes {
		return nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, icon.Width, icon.Height))
	for y := 0; y < icon.Height; y++ {
		row := icon.Pixels[y*icon.Rowstride:]
		for x := 0; x < icon.Width; x++ {
			px := row[x*4 : x*4+4]
			img.SetNRGBA(x, y, color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]})
		}
	}
	return img
}
