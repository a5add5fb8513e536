package checks

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"golang.org/x/text/encoding/unicode"

	"atlas-system/internal/config"
	"atlas-system/internal/storage"
)

// windowsCollector emits one compressed JSON document describing the host.
const windowsCollector = `$ErrorActionPreference = 'Stop'
$os = Get-CimInstance Win32_OperatingSystem
$cs = Get-CimInstance Win32_ComputerSystem
$cpus = @(Get-CimInstance Win32_Processor | ForEach-Object {
  [pscustomobject]@{ load = [double]$_.LoadPercentage; speed = [double]$_.CurrentClockSpeed; cores = [int]$_.NumberOfCores }
})
$drives = @(Get-CimInstance Win32_LogicalDisk -Filter 'DriveType=3' | ForEach-Object {
  [pscustomobject]@{ root = [string]$_.DeviceID; name = [string]$_.VolumeName; location = [string]$_.FileSystem; size = [int64]$_.Size; free = [int64]$_.FreeSpace }
})
[pscustomobject]@{
  name = [string]$cs.Name
  os = [string]$os.Caption
  osVersion = [string]$os.Version
  model = [string]$cs.Model
  manufacturer = [string]$cs.Manufacturer
  version = [string]$os.BuildNumber
  lastBootTime = $os.LastBootUpTime.ToUniversalTime().ToString('o')
  memoryTotal = [int64]$os.TotalVisibleMemorySize * 1024
  memoryFree = [int64]$os.FreePhysicalMemory * 1024
  cpus = $cpus
  drives = $drives
} | ConvertTo-Json -Compress -Depth 4`

type windowsReport struct {
	Name         string         `json:"name"`
	OS           string         `json:"os"`
	OSVersion    string         `json:"osVersion"`
	Model        string         `json:"model"`
	Manufacturer string         `json:"manufacturer"`
	Version      string         `json:"version"`
	LastBootTime string         `json:"lastBootTime"`
	MemoryTotal  int64          `json:"memoryTotal"`
	MemoryFree   int64          `json:"memoryFree"`
	CPUs         []cpuSample    `json:"cpus"`
	Drives       []windowsDrive `json:"drives"`
}

type windowsDrive struct {
	Root     string `json:"root"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
	Free     int64  `json:"free"`
}

// WindowsChecker implements windows monitors over SSH.
type WindowsChecker struct {
	ssh *sshRunner
}

// NewWindowsChecker creates a new Windows checker instance.
func NewWindowsChecker(cfg *config.Config, secrets Decrypter) *WindowsChecker {
	return &WindowsChecker{ssh: &sshRunner{BaseChecker: NewBaseChecker(secrets), timeout: cfg.Checks.SSHTimeout}}
}

// Type returns "windows".
func (w *WindowsChecker) Type() string {
	return storage.MonitorTypeWindows
}

// Check runs the PowerShell collector and maps its report.
func (w *WindowsChecker) Check(ctx context.Context, m *storage.Monitor) (*storage.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, w.ssh.timeout)
	defer cancel()

	command, err := encodePowerShell(windowsCollector)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	client, err := w.ssh.dial(ctx, m)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	output, err := client.run(ctx, "powershell", command)
	if err != nil {
		return nil, err
	}
	ping := elapsedMs(start)

	var report windowsReport
	if err := decodeStrict("decode powershell output", output, &report); err != nil {
		return nil, err
	}
	return report.snapshot(ping, output)
}

func (r *windowsReport) snapshot(ping *int64, output string) (*storage.Snapshot, error) {
	facts := &storage.HostFacts{
		Name:         r.Name,
		OS:           r.OS,
		OSVersion:    r.OSVersion,
		Model:        r.Model,
		Manufacturer: r.Manufacturer,
		Version:      r.Version,
	}
	if r.LastBootTime != "" {
		boot, err := time.Parse(time.RFC3339Nano, r.LastBootTime)
		if err != nil {
			return nil, &Failure{Op: "decode powershell output", Code: CodeParse, Output: truncate(output), Err: fmt.Errorf("invalid lastBootTime: %w", err)}
		}
		boot = boot.UTC()
		facts.LastBootTime = &boot
	}

	drives := make([]storage.DriveSample, 0, len(r.Drives))
	for _, d := range r.Drives {
		drives = append(drives, storage.DriveSample{
			Root:     d.Root,
			Name:     d.Name,
			Location: d.Location,
			Size:     d.Size,
			Used:     d.Size - d.Free,
			Free:     d.Free,
		})
	}

	return &storage.Snapshot{
		Facts:  facts,
		Feed:   hostFeed(ping, r.CPUs, r.MemoryTotal, r.MemoryFree),
		Drives: drives,
	}, nil
}

// encodePowerShell builds a command line running script through
// -EncodedCommand, which takes base64 of the UTF-16LE script.
func encodePowerShell(script string) (string, error) {
	encoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().String(script)
	if err != nil {
		return "", &Failure{Op: "encode powershell", Code: CodeError, Err: err}
	}
	return "powershell -NoProfile -NonInteractive -EncodedCommand " + base64.StdEncoding.EncodeToString([]byte(encoded)), nil
}
