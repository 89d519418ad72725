package localcluster

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/me/quiver/pkg/resources"
)

// HostNode describes the machine the process runs on. Memory and disk are
// in MiB; disk is the free space of the filesystem holding dir.
func HostNode(dir string) (Node, error) {
	cpus, err := cpu.Counts(true)
	if err != nil {
		return Node{}, fmt.Errorf("count cpus: %w", err)
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Node{}, fmt.Errorf("read memory: %w", err)
	}
	if dir == "" {
		dir = os.TempDir()
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return Node{}, fmt.Errorf("read disk usage of %s: %w", dir, err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	const mib = 1 << 20
	return Node{
		Hostname: hostname,
		Resources: resources.List{
			{Kind: resources.CPUs, Amount: float64(cpus)},
			{Kind: resources.Mem, Amount: float64(vm.Total / mib)},
			{Kind: resources.Disk, Amount: float64(usage.Free / mib)},
		},
	}, nil
}
