//go:build windows

package capture

import (
	"fmt"
	"syscall"
	"unsafe"
)

// DXGI enumeration is used purely for monitor discovery (ListMonitors) and
// to resolve a 0-based monitor index to an HMONITOR for WGC's
// CreateForMonitor path; actual frame delivery goes through WGC, not DXGI
// Desktop Duplication (grounded on agent/internal/remote/desktop/
// monitor_windows.go, adapted from its capture-everything duplication path
// down to plain enumeration).
var (
	d3d11DLL = syscall.NewLazyDLL("d3d11.dll")

	procD3D11CreateDevice = d3d11DLL.NewProc("D3D11CreateDevice")
)

const (
	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000
	d3d11SDKVersion       = 7

	dxgiDeviceGetAdapter   = 7
	dxgiAdapterEnumOutputs = 7
	dxgiOutputGetDesc      = 7
	dxgiErrNotFound        = 0x887A0002
)

var iidIDXGIDevice = comGUID{0x54ec77fa, 0x1377, 0x44e6, [8]byte{0x8c, 0x32, 0x88, 0xfd, 0x5f, 0x44, 0xc8, 0x4c}}

// dxgiOutputDesc matches DXGI_OUTPUT_DESC.
type dxgiOutputDesc struct {
	DeviceName        [32]uint16
	Left              int32
	Top               int32
	Right             int32
	Bottom            int32
	AttachedToDesktop int32
	Rotation          uint32
	Monitor           uintptr
}

var monitorHandles []uintptr

// ListMonitors enumerates connected displays via a throwaway D3D11 device,
// reporting the same diagnostic shape §4.1 requires from open_monitor on an
// out-of-range index (enumerate and report the valid range).
func ListMonitors() ([]MonitorInfo, error) {
	var device, context uintptr
	featureLevel := uint32(d3dFeatureLevel11_0)
	var actualLevel uint32

	hr, _, _ := procD3D11CreateDevice.Call(
		0, uintptr(d3dDriverTypeHardware), 0, 0,
		uintptr(unsafe.Pointer(&featureLevel)), 1, uintptr(d3d11SDKVersion),
		uintptr(unsafe.Pointer(&device)), uintptr(unsafe.Pointer(&actualLevel)), uintptr(unsafe.Pointer(&context)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("D3D11CreateDevice failed: 0x%08X", uint32(hr))
	}
	defer comRelease(context)
	defer comRelease(device)

	var dxgiDevice uintptr
	if _, err := comCall(device, vtblQueryInterface, uintptr(unsafe.Pointer(&iidIDXGIDevice)), uintptr(unsafe.Pointer(&dxgiDevice))); err != nil {
		return nil, fmt.Errorf("QueryInterface IDXGIDevice: %w", err)
	}
	defer comRelease(dxgiDevice)

	var adapter uintptr
	if _, err := comCall(dxgiDevice, dxgiDeviceGetAdapter, uintptr(unsafe.Pointer(&adapter))); err != nil {
		return nil, fmt.Errorf("IDXGIDevice::GetAdapter: %w", err)
	}
	defer comRelease(adapter)

	var monitors []MonitorInfo
	var handles []uintptr
	for i := 0; ; i++ {
		var output uintptr
		hr, _ := comCall(adapter, dxgiAdapterEnumOutputs, uintptr(i), uintptr(unsafe.Pointer(&output)))
		if int32(hr) < 0 {
			if uint32(hr) != dxgiErrNotFound {
				log.Warn("DXGI EnumOutputs failed", "index", i, "hr", fmt.Sprintf("0x%08X", uint32(hr)))
			}
			break
		}

		var desc dxgiOutputDesc
		_, descErr := comCall(output, dxgiOutputGetDesc, uintptr(unsafe.Pointer(&desc)))
		comRelease(output)
		if descErr != nil {
			continue
		}
		if desc.AttachedToDesktop == 0 {
			continue
		}

		monitors = append(monitors, MonitorInfo{
			Index:     len(monitors),
			Name:      syscall.UTF16ToString(desc.DeviceName[:]),
			Width:     int(desc.Right - desc.Left),
			Height:    int(desc.Bottom - desc.Top),
			X:         int(desc.Left),
			Y:         int(desc.Top),
			IsPrimary: desc.Left == 0 && desc.Top == 0,
		})
		handles = append(handles, desc.Monitor)
	}

	if len(monitors) == 0 {
		return nil, fmt.Errorf("no monitors found")
	}
	monitorHandles = handles
	return monitors, nil
}

// monitorHandle returns the HMONITOR backing a MonitorInfo previously
// returned by ListMonitors.
func monitorHandle(m MonitorInfo) uintptr {
	if m.Index >= 0 && m.Index < len(monitorHandles) {
		return monitorHandles[m.Index]
	}
	return 0
}
