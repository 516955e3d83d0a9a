package health

import (
	"os"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
)

// MemoryStats holds resident memory figures in bytes
type MemoryStats struct {
	Current uint64
	Peak    uint64
}

// MemoryReader reports process memory. Errors mean "unknown".
type MemoryReader func() (MemoryStats, error)

// ProcessMemory reads this process's resident set size.
func ProcessMemory() MemoryReader {
	var (
		once sync.Once
		proc *process.Process
		perr error
	)

	return func() (MemoryStats, error) {
		once.Do(func() {
			proc, perr = process.NewProcess(int32(os.Getpid()))
		})
		if perr != nil {
			return MemoryStats{}, perr
		}

		info, err := proc.MemoryInfo()
		if err != nil {
			return MemoryStats{}, err
		}
		// HWM is only populated on linux; raisePeak covers the rest
		return MemoryStats{Current: info.RSS, Peak: info.HWM}, nil
	}
}
