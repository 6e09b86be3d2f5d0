package feed

import (
	"time"

	"github.com/OllieMilton/pulsefeed/internal/snapshot"
)

// TimePayload is the body of a time-update event. FormattedTime uses UK
// formatting (DD/MM/YYYY HH:MM:SS).
type TimePayload struct {
	Timestamp     time.Time `json:"timestamp"`
	FormattedTime string    `json:"formatted_time"`
}

func (TimePayload) Kind() snapshot.Kind { return snapshot.KindTime }

// StatusSnapshot is the body of a status-update event: live system metrics
// plus static server identification.
type StatusSnapshot struct {
	ServerMetrics             ServerMetrics `json:"server_metrics"`
	CollectionIntervalSeconds uint32        `json:"collection_interval_seconds"`
	ServerInfo                ServerInfo    `json:"server_info"`
}

func (StatusSnapshot) Kind() snapshot.Kind { return snapshot.KindStatus }

// ServerMetrics is real-time system performance data.
type ServerMetrics struct {
	Timestamp      time.Time      `json:"timestamp"`
	MemoryUsage    MemoryMetrics  `json:"memory_usage"`
	CPUUsage       CPUMetrics     `json:"cpu_usage"`
	UptimeSeconds  uint64         `json:"uptime_seconds"`
	NetworkMetrics NetworkMetrics `json:"network_metrics"`
}

// MemoryMetrics holds RAM consumption data.
type MemoryMetrics struct {
	TotalBytes      uint64  `json:"total_bytes"`
	UsedBytes       uint64  `json:"used_bytes"`
	AvailableBytes  uint64  `json:"available_bytes"`
	UsagePercentage float64 `json:"usage_percentage"`
}

// CPUMetrics holds processor load data.
type CPUMetrics struct {
	UsagePercentage float64     `json:"usage_percentage"`
	CoreCount       uint32      `json:"core_count"`
	LoadAverage     LoadAverage `json:"load_average"`
}

// LoadAverage holds system load averages.
type LoadAverage struct {
	OneMinute     float64 `json:"one_minute"`
	FiveMinute    float64 `json:"five_minute"`
	FifteenMinute float64 `json:"fifteen_minute"`
}

// NetworkMetrics holds network activity statistics, summed across
// interfaces.
type NetworkMetrics struct {
	BytesSent         uint64 `json:"bytes_sent"`
	BytesReceived     uint64 `json:"bytes_received"`
	PacketsSent       uint64 `json:"packets_sent"`
	PacketsReceived   uint64 `json:"packets_received"`
	ActiveConnections uint32 `json:"active_connections"`
}

// ServerInfo is static server identification, gathered once at startup.
type ServerInfo struct {
	Hostname    string    `json:"hostname"`
	Version     string    `json:"version"`
	StartTime   time.Time `json:"start_time"`
	Environment string    `json:"environment"`
	OSInfo      OSInfo    `json:"os_info"`
}

// OSInfo holds operating system details that do not change during runtime.
type OSInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	Architecture    string `json:"architecture"`
	KernelVersion   string `json:"kernel_version"`
	Distribution    string `json:"distribution,omitempty"`
	LongDescription string `json:"long_description"`
}

// HealthStatus is the overall system condition derived from current metrics.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// HealthFromMetrics derives the health status from CPU and memory usage
// percentages. Critical trumps warning.
func HealthFromMetrics(cpuUsage, memoryUsage float64) HealthStatus {
	switch {
	case cpuUsage > 90.0 || memoryUsage > 95.0:
		return HealthCritical
	case cpuUsage > 70.0 || memoryUsage > 80.0:
		return HealthWarning
	default:
		return HealthHealthy
	}
}
