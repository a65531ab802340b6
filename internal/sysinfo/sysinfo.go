// Package sysinfo collects information about the host running muti-ping.
package sysinfo

import (
	"net"
	"os"
	"runtime"
	"sync"
	"time"
)

var (
	// Version is the tool version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/muti-ping/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	// startTime is when the process started.
	startTime     time.Time
	startTimeOnce sync.Once
)

func init() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})
}

// Info describes the local node.
type Info struct {
	Hostname      string   `json:"hostname"`
	OS            string   `json:"os"`
	Arch          string   `json:"arch"`
	Version       string   `json:"version"`
	PID           int      `json:"pid"`
	StartTime     int64    `json:"start_time"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	IPAddresses   []string `json:"ip_addresses,omitempty"`
}

// Collect gathers local system information.
func Collect() Info {
	hostname, _ := os.Hostname()

	return Info{
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Version:       Version,
		PID:           os.Getpid(),
		StartTime:     StartTime().Unix(),
		UptimeSeconds: UptimeSeconds(),
		IPAddresses:   GetLocalIPs(),
	}
}

// Platform returns "os/arch".
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// GetLocalIPs returns non-loopback IPv4 addresses.
func GetLocalIPs() []string {
	var ips []string

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}

		if ipNet.IP.IsLoopback() {
			continue
		}

		// ICMPv4 only
		if ipv4 := ipNet.IP.To4(); ipv4 != nil {
			ips = append(ips, ipv4.String())
		}
	}

	if len(ips) > 10 {
		ips = ips[:10]
	}

	return ips
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns how long the process has been running.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// UptimeSeconds returns the uptime in whole seconds.
func UptimeSeconds() int64 {
	return int64(Uptime().Seconds())
}
