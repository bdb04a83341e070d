// Package health implements the health scheduler: periodic jittered
// reachability probes, HealthCheck persistence, and the device-status
// consecutive-error/success state machine. The probe loop runs an
// immediate first pass, then ticks with uniform jitter.
package health

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is a single probe's classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusError    Status = "error"
)

// Thresholds for classifying a successful probe.
const (
	warningCPUPct  = 80.0
	warningMemPct  = 85.0
	warningTempC   = 70.0
	criticalCPUPct = 95.0
	criticalMemPct = 95.0
	criticalTempC  = 80.0
)

// consecutiveThreshold is the number of consecutive error/non-error
// probes required to flip device.status.
const consecutiveThreshold = 3

// Check is an immutable probe result row.
type Check struct {
	ID               uuid.UUID `json:"id"`
	DeviceID         uuid.UUID `json:"deviceId"`
	Timestamp        time.Time `json:"timestamp"`
	Status           Status    `json:"status"`
	ResponseTimeMs    int64     `json:"responseTimeMs"`
	CheckType        string    `json:"checkType"` // "scheduled" or a trigger reason
	CPUPct           float64   `json:"cpuPct,omitempty"`
	MemPct           float64   `json:"memPct,omitempty"`
	TempC            float64   `json:"tempC,omitempty"`
	Voltage          float64   `json:"voltage,omitempty"`
	UptimeSec        int64     `json:"uptimeSec,omitempty"`
	InterfaceSummary string    `json:"interfaceSummary,omitempty"`
	ErrorDetail      string    `json:"errorDetail,omitempty"`
}

// resourceReading is the subset of RouterOS's /system/resource payload this
// package parses. Field names follow RouterOS REST's kebab-case JSON keys.
type resourceReading struct {
	CPULoad      string `json:"cpu-load"`
	FreeMemory   string `json:"free-memory"`
	TotalMemory  string `json:"total-memory"`
	Temperature  string `json:"temperature"`
	Uptime       string `json:"uptime"`
}

// classify computes a Status from a parsed resource reading.
func classify(r resourceReading) (status Status, cpuPct, memPct, tempC float64) {
	cpuPct = parseFloat(r.CPULoad)
	tempC = parseFloat(r.Temperature)
	if total := parseFloat(r.TotalMemory); total > 0 {
		free := parseFloat(r.FreeMemory)
		memPct = (total - free) / total * 100
	}

	switch {
	case cpuPct > criticalCPUPct || memPct > criticalMemPct || (tempC > 0 && tempC > criticalTempC):
		status = StatusCritical
	case cpuPct > warningCPUPct || memPct > warningMemPct || (tempC > 0 && tempC > warningTempC):
		status = StatusWarning
	default:
		status = StatusHealthy
	}
	return status, cpuPct, memPct, tempC
}

func parseFloat(s string) float64 {
	var f float64
	_ = json.Unmarshal([]byte(s), &f)
	return f
}

func parseUptimeSeconds(raw string) int64 {
	d, err := time.ParseDuration(routerOSDurationToGo(raw))
	if err != nil {
		return 0
	}
	return int64(d.Seconds())
}

// routerOSDurationToGo is a best-effort translation of RouterOS's uptime
// format ("1w2d3h4m5s") into one time.ParseDuration accepts ("2d" has no Go
// unit, so days are expanded to hours); unparseable residue is dropped.
func routerOSDurationToGo(raw string) string {
	// RouterOS emits units w(eek)/d(ay)/h/m/s; Go's ParseDuration knows
	// h/m/s/ms/us/ns but not w or d, so expand those two units to hours.
	out := make([]byte, 0, len(raw)*2)
	numStart := 0
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c < '0' || c > '9' {
			numStr := raw[numStart:i]
			switch c {
			case 'w':
				out = append(out, expandHours(numStr, 24*7)...)
			case 'd':
				out = append(out, expandHours(numStr, 24)...)
			default:
				out = append(out, numStr...)
				out = append(out, c)
			}
			numStart = i + 1
		}
	}
	return string(out)
}

func expandHours(numStr string, hoursPerUnit int) []byte {
	var n int
	for _, c := range numStr {
		n = n*10 + int(c-'0')
	}
	return []byte(itoa(n*hoursPerUnit) + "h")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
