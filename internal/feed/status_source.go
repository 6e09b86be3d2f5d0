package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

// StatusSource collects live system metrics through gopsutil. Memory and CPU
// are required for a usable snapshot; load averages, network counters and
// connection counts are best-effort and fall back to zero values when the
// platform or permissions deny them.
type StatusSource struct {
	clock           clockwork.Clock
	intervalSeconds uint32
	serverInfo      ServerInfo
}

func NewStatusSource(clock clockwork.Clock, interval time.Duration, serverInfo ServerInfo) *StatusSource {
	return &StatusSource{
		clock:           clock,
		intervalSeconds: uint32(interval / time.Second),
		serverInfo:      serverInfo,
	}
}

func (s *StatusSource) Collect(ctx context.Context) (snapshot.Payload, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect memory metrics: %w", err)
	}

	// Zero interval compares against the previous call, so successive
	// collections see usage since the last tick.
	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("collect cpu metrics: %w", err)
	}
	var cpuUsage float64
	if len(cpuPercents) > 0 {
		cpuUsage = cpuPercents[0]
	}

	coreCount, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("collect cpu core count: %w", err)
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect host info: %w", err)
	}

	metrics := ServerMetrics{
		Timestamp: s.clock.Now().UTC(),
		MemoryUsage: MemoryMetrics{
			TotalBytes:      vm.Total,
			UsedBytes:       vm.Used,
			AvailableBytes:  vm.Available,
			UsagePercentage: vm.UsedPercent,
		},
		CPUUsage: CPUMetrics{
			UsagePercentage: cpuUsage,
			CoreCount:       uint32(coreCount),
		},
		UptimeSeconds: hostInfo.Uptime,
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		metrics.CPUUsage.LoadAverage = LoadAverage{
			OneMinute:     avg.Load1,
			FiveMinute:    avg.Load5,
			FifteenMinute: avg.Load15,
		}
	} else {
		slog.Debug("Load averages unavailable", "error", err)
	}

	if counters, err := gopsnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		metrics.NetworkMetrics = NetworkMetrics{
			BytesSent:       counters[0].BytesSent,
			BytesReceived:   counters[0].BytesRecv,
			PacketsSent:     counters[0].PacketsSent,
			PacketsReceived: counters[0].PacketsRecv,
		}
	} else if err != nil {
		slog.Debug("Network counters unavailable", "error", err)
	}

	if conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp"); err == nil {
		metrics.NetworkMetrics.ActiveConnections = uint32(len(conns))
	} else {
		slog.Debug("Connection count unavailable", "error", err)
	}

	return StatusSnapshot{
		ServerMetrics:             metrics,
		CollectionIntervalSeconds: s.intervalSeconds,
		ServerInfo:                s.serverInfo,
	}, nil
}

// BuildServerInfo gathers the static server identification once at startup.
func BuildServerInfo(ctx context.Context, version, environment string, clock clockwork.Clock) (ServerInfo, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return ServerInfo{}, fmt.Errorf("collect host info: %w", err)
	}

	osInfo := OSInfo{
		Name:            normalizeOSName(hostInfo.OS),
		Version:         hostInfo.PlatformVersion,
		Architecture:    hostInfo.KernelArch,
		KernelVersion:   hostInfo.KernelVersion,
		LongDescription: fmt.Sprintf("%s %s (%s)", hostInfo.Platform, hostInfo.PlatformVersion, hostInfo.KernelVersion),
	}
	if hostInfo.OS == "linux" {
		osInfo.Distribution = hostInfo.Platform
	}

	return ServerInfo{
		Hostname:    hostInfo.Hostname,
		Version:     version,
		StartTime:   clock.Now().UTC(),
		Environment: environment,
		OSInfo:      osInfo,
	}, nil
}

// normalizeOSName maps gopsutil OS identifiers to the display names the
// status schema uses.
func normalizeOSName(os string) string {
	switch os {
	case "linux":
		return "Linux"
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	case "freebsd", "openbsd", "netbsd":
		return "FreeBSD"
	default:
		return os
	}
}
