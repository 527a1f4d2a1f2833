package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

// Native codes raised on the host system condition.
const (
	CodeCPUHigh    = "CPU_HIGH"
	CodeMemoryHigh = "MEM_HIGH"
)

// Probes reads host telemetry. Each field may be replaced in tests.
type Probes struct {
	CPUPercent    func(ctx context.Context) (float64, error)
	MemoryPercent func(ctx context.Context) (float64, error)
	Load1         func(ctx context.Context) (float64, error)
	Host          func(ctx context.Context) (hostname string, uptime time.Duration, err error)
}

// SystemProbes reads the local machine through gopsutil.
func SystemProbes() Probes {
	return Probes{
		CPUPercent: func(ctx context.Context) (float64, error) {
			pct, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil {
				return 0, err
			}
			if len(pct) == 0 {
				return 0, errors.New("no cpu samples")
			}
			return pct[0], nil
		},
		MemoryPercent: func(ctx context.Context) (float64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.UsedPercent, nil
		},
		Load1: func(ctx context.Context) (float64, error) {
			avg, err := load.AvgWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return avg.Load1, nil
		},
		Host: func(ctx context.Context) (string, time.Duration, error) {
			info, err := host.InfoWithContext(ctx)
			if err != nil {
				return "", 0, err
			}
			return info.Hostname, time.Duration(info.Uptime) * time.Second, nil
		},
	}
}

// HostSource reports the adapter host itself as a device.
type HostSource struct {
	probes      Probes
	cpuWarning  float64
	memoryFault float64

	avail    *shdr.Event
	hostname *shdr.Event
	cpu      *shdr.Sample
	memory   *shdr.Sample
	load1    *shdr.Sample
	uptime   *shdr.Sample
	system   *shdr.Condition
}

// NewHostSource raises a WARNING when CPU use reaches cpuWarning percent and
// a FAULT when memory use reaches memoryFault percent. A threshold of zero
// disables that alarm.
func NewHostSource(probes Probes, cpuWarning, memoryFault float64) *HostSource {
	return &HostSource{
		probes:      probes,
		cpuWarning:  cpuWarning,
		memoryFault: memoryFault,
		avail:       shdr.NewEvent("avail"),
		hostname:    shdr.NewEvent("hostname"),
		cpu:         shdr.NewSample("cpu"),
		memory:      shdr.NewSample("memory"),
		load1:       shdr.NewSample("load1"),
		uptime:      shdr.NewSample("uptime"),
		system:      shdr.NewCondition("system"),
	}
}

func (h *HostSource) Name() string { return "host" }

func (h *HostSource) Register(t Target) error {
	for _, di := range []shdr.DataItem{h.avail, h.hostname, h.cpu, h.memory, h.load1, h.uptime, h.system} {
		if err := t.AddDataItem(di); err != nil {
			return err
		}
	}
	return nil
}

func (h *HostSource) Scan(ctx context.Context) error {
	name, uptime, err := h.probes.Host(ctx)
	if err != nil {
		return fmt.Errorf("host info: %w", err)
	}
	cpuPct, err := h.probes.CPUPercent(ctx)
	if err != nil {
		return fmt.Errorf("cpu: %w", err)
	}
	memPct, err := h.probes.MemoryPercent(ctx)
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	// Load average is not available everywhere; report it as unavailable
	// rather than failing the whole scan.
	if l, err := h.probes.Load1(ctx); err != nil {
		if h.load1.Value() != shdr.Unavailable {
			h.load1.Unavailable()
		}
	} else {
		h.load1.SetPrecision(l, 2)
	}

	h.avail.Set("AVAILABLE")
	h.hostname.Set(name)
	h.uptime.Set(uptime.Truncate(time.Second).Seconds())
	h.cpu.SetPrecision(cpuPct, 1)
	h.memory.SetPrecision(memPct, 1)

	if h.cpuWarning > 0 && cpuPct >= h.cpuWarning {
		h.system.Add(shdr.LevelWarning, fmt.Sprintf("CPU at %.0f%%", cpuPct), CodeCPUHigh, "", "HIGH")
	}
	if h.memoryFault > 0 && memPct >= h.memoryFault {
		h.system.Add(shdr.LevelFault, fmt.Sprintf("Memory at %.0f%%", memPct), CodeMemoryHigh, "", "HIGH")
	}
	if len(h.system.Active()) == 0 {
		h.system.Normal()
	}
	return nil
}
