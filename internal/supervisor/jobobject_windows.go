//go:build windows

package supervisor

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// assignToJobObject puts pid into a job object configured with
// JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE: if this host process dies without
// running its shutdown path (crash, taskkill /F), Windows tears down the
// worker with it instead of leaving a synthetic-click process orphaned.
// The job handle is intentionally never closed for the life of the host;
// closing it would itself trigger kill-on-close.
func assignToJobObject(pid int) error {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("create job object: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("configure job object: %w", err)
	}

	proc, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("open worker process %d: %w", pid, err)
	}
	defer windows.CloseHandle(proc)

	if err := windows.AssignProcessToJobObject(job, proc); err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("assign worker to job object: %w", err)
	}

	return nil
}
