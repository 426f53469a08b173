package worker

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// memoryPressureThreshold is the system memory usage percentage above which
// workers stop leasing new jobs until usage falls
const memoryPressureThreshold = 90.0

func underMemoryPressure() bool {
	vm, err := mem.VirtualMemory()
	if err != nil {
		// Cannot read memory stats; assume healthy rather than stall the pool
		return false
	}
	return vm.UsedPercent > memoryPressureThreshold
}
