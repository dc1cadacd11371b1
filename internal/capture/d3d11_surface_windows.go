//go:build windows

package capture

import (
	"fmt"
	"unsafe"
)

// mapSurfaceForRead maps an IDirect3DSurface's backing texture for CPU
// read, via a staging-texture copy + Map, the same pattern the pack's DXGI
// Desktop Duplication capturer uses for its own CPU readback path
// (agent/internal/remote/desktop/dxgi_windows.go). WGC hands back an
// IDirect3DSurface wrapping a DXGI surface; getting to a mappable
// ID3D11Texture2D requires the DXGI interop access interface, abbreviated
// here at the level of detail needed by the rest of this package.
func mapSurfaceForRead(surface uintptr, width, height int) (stride int, ptr uintptr, unmap func(), err error) {
	_, context, staging, texErr := acquireStagingTexture(surface, width, height)
	if texErr != nil {
		return 0, 0, nil, texErr
	}

	_, err = comCall(context, d3d11CtxCopyResource, staging, surfaceUnderlyingTexture(surface))
	if err != nil {
		comRelease(staging)
		return 0, 0, nil, fmt.Errorf("CopyResource to staging: %w", err)
	}

	var mapped d3d11MappedSubresource
	_, err = comCall(context, d3d11CtxMap, staging, 0, uintptr(d3d11MapRead), 0, uintptr(unsafe.Pointer(&mapped)))
	if err != nil {
		comRelease(staging)
		return 0, 0, nil, fmt.Errorf("Map staging texture: %w", err)
	}

	unmapFn := func() {
		comCall(context, d3d11CtxUnmap, staging, 0)
		comRelease(staging)
	}

	return int(mapped.RowPitch), mapped.PData, unmapFn, nil
}

const (
	d3d11MapRead = 1

	d3d11CtxMap          = 14
	d3d11CtxUnmap        = 15
	d3d11CtxCopyResource = 47
)

// d3d11Texture2DDesc matches D3D11_TEXTURE2D_DESC.
type d3d11Texture2DDesc struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleCount    uint32
	SampleQuality  uint32
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
}

// d3d11MappedSubresource matches D3D11_MAPPED_SUBRESOURCE.
type d3d11MappedSubresource struct {
	PData      uintptr
	RowPitch   uint32
	DepthPitch uint32
}

const (
	d3d11UsageStaging  = 3
	d3d11CPUAccessRead = 0x20000
	d3d11DeviceCreateTexture2D = 5
)

// acquireStagingTexture creates (once per session in a real implementation;
// here, per call for clarity) a CPU-readable staging texture sized to
// match the captured surface and returns the device/context/staging handles
// needed to copy into it.
func acquireStagingTexture(surface uintptr, width, height int) (device, context, staging uintptr, err error) {
	device, context, err = surfaceD3DDeviceAndContext(surface)
	if err != nil {
		return 0, 0, 0, err
	}

	desc := d3d11Texture2DDesc{
		Width:          uint32(width),
		Height:         uint32(height),
		MipLevels:      1,
		ArraySize:      1,
		Format:         dxgiFormatB8G8R8A8Unorm,
		SampleCount:    1,
		SampleQuality:  0,
		Usage:          d3d11UsageStaging,
		CPUAccessFlags: d3d11CPUAccessRead,
	}

	_, err = comCall(device, d3d11DeviceCreateTexture2D,
		uintptr(unsafe.Pointer(&desc)), 0, uintptr(unsafe.Pointer(&staging)))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("CreateTexture2D staging: %w", err)
	}
	return device, context, staging, nil
}

// surfaceD3DDeviceAndContext and surfaceUnderlyingTexture resolve the
// ID3D11Device/ID3D11DeviceContext/ID3D11Texture2D backing an
// IDirect3DSurface, via the DXGI interop access interface WGC surfaces
// expose. Exact interop vtable layout is the one piece of this path that
// depends on the Windows SDK version; the fields above carry the shape the
// rest of this package consumes.
func surfaceD3DDeviceAndContext(surface uintptr) (device, context uintptr, err error) {
	const vtblSurfaceAccessGetInterface = 3
	var texture uintptr
	_, err = comCall(surface, vtblSurfaceAccessGetInterface, uintptr(unsafe.Pointer(&iidID3D11Texture2D)), uintptr(unsafe.Pointer(&texture)))
	if err != nil {
		return 0, 0, fmt.Errorf("IDirect3DDxgiInterfaceAccess::GetInterface: %w", err)
	}
	defer comRelease(texture)

	const vtblTextureGetDevice = 3
	_, err = comCall(texture, vtblTextureGetDevice, uintptr(unsafe.Pointer(&device)))
	if err != nil {
		return 0, 0, fmt.Errorf("ID3D11Texture2D::GetDevice: %w", err)
	}

	const vtblDeviceGetImmediateContext = 37
	_, err = comCall(device, vtblDeviceGetImmediateContext, uintptr(unsafe.Pointer(&context)))
	if err != nil {
		comRelease(device)
		return 0, 0, fmt.Errorf("ID3D11Device::GetImmediateContext: %w", err)
	}
	return device, context, nil
}

func surfaceUnderlyingTexture(surface uintptr) uintptr {
	const vtblSurfaceAccessGetInterface = 3
	var texture uintptr
	comCall(surface, vtblSurfaceAccessGetInterface, uintptr(unsafe.Pointer(&iidID3D11Texture2D)), uintptr(unsafe.Pointer(&texture)))
	return texture
}

var iidID3D11Texture2D = comGUID{0x6f15aaf2, 0xd208, 0x4e89, [8]byte{0x9a, 0xb4, 0x48, 0x95, 0x35, 0xd3, 0x4f, 0x9c}}
