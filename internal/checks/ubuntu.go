package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// ubuntuCollector prints one JSON document of host facts, memory and the
// CPU load over a one second /proc/stat window. The boot time comes from
// the kernel btime epoch so the host time zone never shifts it.
const ubuntuCollector = `set -e
esc() { printf '%s' "$1" | sed 's/\\/\\\\/g; s/"/\\"/g'; }
. /etc/os-release
read -r _ a b c d e f g h _ < /proc/stat
t1=$((a+b+c+d+e+f+g+h)); i1=$((d+e))
sleep 1
read -r _ a b c d e f g h _ < /proc/stat
t2=$((a+b+c+d+e+f+g+h)); i2=$((d+e))
load=$(awk -v t="$((t2-t1))" -v i="$((i2-i1))" 'BEGIN { if (t > 0) printf "%.2f", (t-i)*100/t; else printf "0" }')
mem_total=$(awk '/^MemTotal:/ { printf "%d", $2*1024 }' /proc/meminfo)
mem_free=$(awk '/^MemAvailable:/ { printf "%d", $2*1024 }' /proc/meminfo)
boot=$(date -u -d "@$(awk '/^btime/ {print $2}' /proc/stat)" +%Y-%m-%dT%H:%M:%SZ)
model=$(cat /sys/class/dmi/id/product_name 2>/dev/null || true)
vendor=$(cat /sys/class/dmi/id/sys_vendor 2>/dev/null || true)
printf '{"name":"%s","os":"%s","osVersion":"%s","model":"%s","manufacturer":"%s","version":"%s","lastBootTime":"%s","memoryTotal":%s,"memoryFree":%s,"cpuLoad":%s}\n' \
  "$(esc "$(hostname)")" "$(esc "$NAME")" "$(esc "$VERSION_ID")" "$(esc "$model")" "$(esc "$vendor")" \
  "$(esc "$(uname -r)")" "$boot" "$mem_total" "$mem_free" "$load"`

const (
	lscpuCommand = "lscpu -J"
	lsblkCommand = "lsblk -J -b -o NAME,LABEL,TYPE,MOUNTPOINT,FSSIZE,FSUSED,FSAVAIL"
)

type ubuntuReport struct {
	Name         string  `json:"name"`
	OS           string  `json:"os"`
	OSVersion    string  `json:"osVersion"`
	Model        string  `json:"model"`
	Manufacturer string  `json:"manufacturer"`
	Version      string  `json:"version"`
	LastBootTime string  `json:"lastBootTime"`
	MemoryTotal  int64   `json:"memoryTotal"`
	MemoryFree   int64   `json:"memoryFree"`
	CPULoad      float64 `json:"cpuLoad"`
}

type lscpuReport struct {
	Entries []lscpuEntry `json:"lscpu"`
}

type lscpuEntry struct {
	Field    string       `json:"field"`
	Data     string       `json:"data"`
	Children []lscpuEntry `json:"children"`
}

type lsblkReport struct {
	Devices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Label      string        `json:"label"`
	Type       string        `json:"type"`
	MountPoint string        `json:"mountpoint"`
	FSSize     flexInt       `json:"fssize"`
	FSUsed     flexInt       `json:"fsused"`
	FSAvail    flexInt       `json:"fsavail"`
	Children   []lsblkDevice `json:"children"`
}

// flexInt decodes lsblk sizes, which older util-linux releases print as
// strings and newer ones as numbers or null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

// UbuntuChecker implements ubuntu monitors over SSH.
type UbuntuChecker struct {
	ssh *sshRunner
}

// NewUbuntuChecker creates a new Ubuntu checker instance.
func NewUbuntuChecker(cfg *config.Config, secrets Decrypter) *UbuntuChecker {
	return &UbuntuChecker{ssh: &sshRunner{BaseChecker: NewBaseChecker(secrets), timeout: cfg.Checks.SSHTimeout}}
}

// Type returns "ubuntu".
func (u *UbuntuChecker) Type() string {
	return storage.MonitorTypeUbuntu
}

// Check runs the collector, lscpu and lsblk on one connection.
func (u *UbuntuChecker) Check(ctx context.Context, m *storage.Monitor) (*storage.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, u.ssh.timeout)
	defer cancel()

	start := time.Now()
	client, err := u.ssh.dial(ctx, m)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	collected, err := client.run(ctx, "collector", ubuntuCollector)
	if err != nil {
		return nil, err
	}
	cpuOut, err := client.run(ctx, "lscpu", lscpuCommand)
	if err != nil {
		return nil, err
	}
	blkOut, err := client.run(ctx, "lsblk", lsblkCommand)
	if err != nil {
		return nil, err
	}
	ping := elapsedMs(start)

	return parseUbuntu(ping, collected, cpuOut, blkOut)
}

func parseUbuntu(ping *int64, collected, cpuOut, blkOut string) (*storage.Snapshot, error) {
	var report ubuntuReport
	if err := decodeStrict("decode collector output", collected, &report); err != nil {
		return nil, err
	}

	var cpu lscpuReport
	if err := decodeLoose("decode lscpu output", cpuOut, &cpu); err != nil {
		return nil, err
	}
	var blk lsblkReport
	if err := decodeLoose("decode lsblk output", blkOut, &blk); err != nil {
		return nil, err
	}

	facts := &storage.HostFacts{
		Name:         report.Name,
		OS:           report.OS,
		OSVersion:    report.OSVersion,
		Model:        report.Model,
		Manufacturer: report.Manufacturer,
		Version:      report.Version,
	}
	if report.LastBootTime != "" {
		boot, err := time.Parse(time.RFC3339, report.LastBootTime)
		if err != nil {
			return nil, &Failure{Op: "decode collector output", Code: CodeParse, Output: truncate(collected), Err: fmt.Errorf("invalid lastBootTime: %w", err)}
		}
		facts.LastBootTime = &boot
	}

	fields := make(map[string]string)
	flattenLscpu(cpu.Entries, fields)
	cores, _ := strconv.Atoi(fields["CPU(s)"])
	speed, err := strconv.ParseFloat(fields["CPU MHz"], 64)
	if err != nil {
		speed, _ = strconv.ParseFloat(fields["CPU max MHz"], 64)
	}
	cpus := []cpuSample{{Load: report.CPULoad, Speed: speed, Cores: cores}}

	return &storage.Snapshot{
		Facts:  facts,
		Feed:   hostFeed(ping, cpus, report.MemoryTotal, report.MemoryFree),
		Drives: mountedFilesystems(blk.Devices, nil, make(map[string]bool)),
	}, nil
}

// flattenLscpu collects field/data pairs, dropping the trailing colon of
// each field name.
func flattenLscpu(entries []lscpuEntry, out map[string]string) {
	for _, e := range entries {
		out[strings.TrimSuffix(e.Field, ":")] = e.Data
		flattenLscpu(e.Children, out)
	}
}

// mountedFilesystems returns one drive per mount point, skipping swap,
// loop devices and unmounted nodes.
func mountedFilesystems(devices []lsblkDevice, out []storage.DriveSample, seen map[string]bool) []storage.DriveSample {
	if out == nil {
		out = []storage.DriveSample{}
	}
	for _, d := range devices {
		mount := d.MountPoint
		if mount != "" && !strings.HasPrefix(mount, "[") && d.Type != "loop" && d.FSSize > 0 && !seen[mount] {
			seen[mount] = true
			name := d.Label
			if name == "" {
				name = d.Name
			}
			out = append(out, storage.DriveSample{
				Root:     mount,
				Name:     name,
				Location: "/dev/" + d.Name,
				Size:     int64(d.FSSize),
				Used:     int64(d.FSUsed),
				Free:     int64(d.FSAvail),
			})
		}
		out = mountedFilesystems(d.Children, out, seen)
	}
	return out
}

var _ json.Unmarshaler = (*flexInt)(nil)
