package capture

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// processPIDsByExecutable resolves every running process whose executable
// basename matches target, honoring partial matching the same way window
// title matching does. Grounded on SPEC_FULL.md's domain stack pairing of
// gopsutil/v3 process enumeration against the window list produced by
// EnumWindows for §4.1's "process executable basename" resolution step.
func processPIDsByExecutable(target string, partial bool) (map[uint32]bool, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(target)
	matches := make(map[uint32]bool)
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			exe, exeErr := p.Exe()
			if exeErr != nil || exe == "" {
				continue
			}
			name = filepath.Base(exe)
		}
		name = strings.ToLower(name)

		if partial {
			if strings.Contains(name, needle) {
				matches[uint32(p.Pid)] = true
			}
			continue
		}
		if name == needle || strings.TrimSuffix(name, ".exe") == strings.TrimSuffix(needle, ".exe") {
			matches[uint32(p.Pid)] = true
		}
	}

	if len(matches) == 0 {
		return nil, ErrNotAWindow
	}
	return matches, nil
}
