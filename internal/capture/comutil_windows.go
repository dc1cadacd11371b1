//go:build windows

package capture

import (
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"
)

// COM vtable calling infrastructure for the Windows Graphics Capture (WGC)
// WinRT interfaces. Follows the same pure-Go syscall pattern the rest of
// the pack's Windows capture code uses: no cgo, manual vtable dispatch.

// comGUID is a COM/WinRT GUID (128-bit).
type comGUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// comCall invokes a COM vtable method at the given index. obj is a pointer
// to a COM interface (pointer to pointer to vtable).
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	fnPtr := comVtblFn(obj, vtableIdx)

	var ret uintptr
	switch len(args) {
	case 0:
		ret, _, _ = syscall.SyscallN(fnPtr, obj)
	case 1:
		ret, _, _ = syscall.SyscallN(fnPtr, obj, args[0])
	case 2:
		ret, _, _ = syscall.SyscallN(fnPtr, obj, args[0], args[1])
	case 3:
		ret, _, _ = syscall.SyscallN(fnPtr, obj, args[0], args[1], args[2])
	default:
		allArgs := make([]uintptr, 0, 1+len(args))
		allArgs = append(allArgs, obj)
		allArgs = append(allArgs, args...)
		ret, _, _ = syscall.SyscallN(fnPtr, allArgs...)
	}

	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

// comVtblFn resolves a COM vtable function pointer by index.
func comVtblFn(obj uintptr, idx int) uintptr {
	vtablePtr := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtablePtr + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, 2))
	}
}

// comAddRef calls IUnknown::AddRef (vtable index 1).
func comAddRef(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(comVtblFn(obj, 1))
	}
}

var (
	combaseDLL = syscall.NewLazyDLL("combase.dll")

	// RoGetActivationFactory/WindowsCreateString*, used to activate the
	// WinRT "Windows.Graphics.Capture.GraphicsCaptureItem" factory and the
	// "Windows.Graphics.DirectX.Direct3D11.CreateDirect3D..." interop
	// helpers. No go-ole equivalent exists for these WinRT entry points,
	// so they're hand-written the same way the rest of this file's vtable
	// plumbing is.
	procRoGetActivationFactory = combaseDLL.NewProc("RoGetActivationFactory")
	procWindowsCreateString    = combaseDLL.NewProc("WindowsCreateString")
	procWindowsDeleteString    = combaseDLL.NewProc("WindowsDeleteString")
)

var (
	comInitOnce sync.Once
	comInitErr  error
)

// ensureCOMInitialized initializes the apartment the first time a WinRT
// activation is needed. WGC's RoGetActivationFactory calls require an
// initialized apartment on the calling thread just like classic COM does;
// the call goes through go-ole's CoInitializeEx rather than a hand-declared
// CoInitializeEx syscall.
func ensureCOMInitialized() error {
	comInitOnce.Do(func() {
		comInitErr = ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED)
	})
	return comInitErr
}

// IUnknown vtable offsets, common to every COM/WinRT interface.
const (
	vtblQueryInterface = 0
	vtblAddRef         = 1
	vtblRelease        = 2
)

// hstring creates a Windows runtime string from a Go string, returning the
// HSTRING handle. Caller must release it with windowsDeleteString.
func hstring(s string) (uintptr, error) {
	utf16, err := syscall.UTF16FromString(s)
	if err != nil {
		return 0, err
	}
	var h uintptr
	hr, _, _ := procWindowsCreateString.Call(
		uintptr(unsafe.Pointer(&utf16[0])),
		uintptr(len(utf16)-1),
		uintptr(unsafe.Pointer(&h)),
	)
	if int32(hr) < 0 {
		return 0, fmt.Errorf("WindowsCreateString failed: 0x%08X", uint32(hr))
	}
	return h, nil
}

func windowsDeleteString(h uintptr) {
	if h != 0 {
		procWindowsDeleteString.Call(h)
	}
}

// roGetActivationFactory activates a WinRT runtime class by name into the
// interface identified by iid.
func roGetActivationFactory(className string, iid *comGUID) (uintptr, error) {
	h, err := hstring(className)
	if err != nil {
		return 0, err
	}
	defer windowsDeleteString(h)

	var factory uintptr
	hr, _, _ := procRoGetActivationFactory.Call(
		h,
		uintptr(unsafe.Pointer(iid)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if int32(hr) < 0 {
		return 0, fmt.Errorf("RoGetActivationFactory(%s) failed: 0x%08X", className, uint32(hr))
	}
	return factory, nil
}
