package checks

import (
	"encoding/base64"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"
)

func TestAggregateCPU(t *testing.T) {
	t.Run("Load is weighted by cores and speed is averaged", func(t *testing.T) {
		load, speed := aggregateCPU([]cpuSample{
			{Load: 10, Speed: 2000, Cores: 2},
			{Load: 70, Speed: 3000, Cores: 6},
		})
		// (10*2 + 70*6) / 8 = 55
		if math.Abs(*load-55) > 1e-9 {
			t.Errorf("Expected load 55, got %v", *load)
		}
		if *speed != 2500 {
			t.Errorf("Expected speed 2500, got %v", *speed)
		}
	})

	t.Run("Unknown core count counts as one", func(t *testing.T) {
		load, _ := aggregateCPU([]cpuSample{{Load: 40}, {Load: 60}})
		if *load != 50 {
			t.Errorf("Expected load 50, got %v", *load)
		}
	})

	t.Run("No processors yields nil", func(t *testing.T) {
		load, speed := aggregateCPU(nil)
		if load != nil || speed != nil {
			t.Error("Expected nil load and speed")
		}
	})
}

const windowsOutput = "\ufeff" + `{"name":"SRV01","os":"Microsoft Windows Server 2022 Standard","osVersion":"10.0.20348","model":"VMware7,1","manufacturer":"VMware, Inc.","version":"20348","lastBootTime":"2024-03-01T06:30:00.0000000Z","memoryTotal":17179869184,"memoryFree":4294967296,"cpus":[{"load":20,"speed":2400,"cores":4},{"load":60,"speed":2600,"cores":4}],"drives":[{"root":"C:","name":"System","location":"NTFS","size":107374182400,"free":21474836480}]}` + "\r\n"

func TestWindowsReport(t *testing.T) {
	t.Run("Collector output maps to a snapshot", func(t *testing.T) {
		var report windowsReport
		if err := decodeStrict("decode", windowsOutput, &report); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		snap, err := report.snapshot(nil, windowsOutput)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if snap.Facts.Name != "SRV01" || snap.Facts.Manufacturer != "VMware, Inc." {
			t.Errorf("Unexpected facts: %+v", snap.Facts)
		}
		wantBoot := time.Date(2024, 3, 1, 6, 30, 0, 0, time.UTC)
		if snap.Facts.LastBootTime == nil || !snap.Facts.LastBootTime.Equal(wantBoot) {
			t.Errorf("Expected boot time %v, got %v", wantBoot, snap.Facts.LastBootTime)
		}
		if *snap.Feed.CPULoad != 40 {
			t.Errorf("Expected cpu load 40, got %v", *snap.Feed.CPULoad)
		}
		if *snap.Feed.MemoryFree != 4294967296 {
			t.Errorf("Expected memory free 4GiB, got %d", *snap.Feed.MemoryFree)
		}
		if len(snap.Drives) != 1 {
			t.Fatalf("Expected 1 drive, got %d", len(snap.Drives))
		}
		d := snap.Drives[0]
		if d.Root != "C:" || d.Used != 85899345920 || d.Free != 21474836480 {
			t.Errorf("Unexpected drive: %+v", d)
		}
	})

	t.Run("Unknown fields are rejected", func(t *testing.T) {
		var report windowsReport
		err := decodeStrict("decode", `{"name":"x","surprise":1}`, &report)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeParse {
			t.Errorf("Expected parse failure, got %v", err)
		}
	})

	t.Run("Non JSON output is attached to the failure", func(t *testing.T) {
		var report windowsReport
		err := decodeStrict("decode", "Get-CimInstance : Access denied", &report)
		var failure *Failure
		if !errors.As(err, &failure) {
			t.Fatalf("Expected *Failure, got %v", err)
		}
		if !strings.Contains(failure.Output, "Access denied") {
			t.Errorf("Expected raw output attached, got %q", failure.Output)
		}
	})
}

func TestEncodePowerShell(t *testing.T) {
	cmd, err := encodePowerShell("Write-Output 'hi'")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	const prefix = "powershell -NoProfile -NonInteractive -EncodedCommand "
	if !strings.HasPrefix(cmd, prefix) {
		t.Fatalf("Unexpected command: %s", cmd)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(cmd, prefix))
	if err != nil {
		t.Fatalf("Expected base64 payload: %v", err)
	}
	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		t.Fatalf("Expected UTF-16LE payload: %v", err)
	}
	if string(decoded) != "Write-Output 'hi'" {
		t.Errorf("Expected script back, got %q", decoded)
	}
	if raw[1] != 0 {
		t.Error("Expected little endian encoding")
	}
}

const (
	ubuntuCollected = `{"name":"web01","os":"Ubuntu","osVersion":"22.04","model":"Standard PC","manufacturer":"QEMU","version":"5.15.0-91-generic","lastBootTime":"2024-03-01T06:30:00Z","memoryTotal":8589934592,"memoryFree":2147483648,"cpuLoad":12.50}`
	ubuntuLscpu     = `{"lscpu":[{"field":"Architecture:","data":"x86_64"},{"field":"CPU(s):","data":"4"},{"field":"Vendor ID:","data":"GenuineIntel","children":[{"field":"CPU max MHz:","data":"3400.0000"}]}]}`
	ubuntuLsblk     = `{"blockdevices":[
		{"name":"loop0","label":null,"type":"loop","mountpoint":"/snap/core/1","fssize":"65536","fsused":"65536","fsavail":"0"},
		{"name":"sda","label":null,"type":"disk","mountpoint":null,"fssize":null,"fsused":null,"fsavail":null,"children":[
			{"name":"sda1","label":"root","type":"part","mountpoint":"/","fssize":100000,"fsused":40000,"fsavail":60000},
			{"name":"sda2","label":null,"type":"part","mountpoint":"[SWAP]","fssize":null,"fsused":null,"fsavail":null},
			{"name":"sda3","label":null,"type":"part","mountpoint":"/data","fssize":"500000","fsused":"100000","fsavail":"400000"}
		]}
	]}`
)

func TestParseUbuntu(t *testing.T) {
	t.Run("Collector lscpu and lsblk map to a snapshot", func(t *testing.T) {
		snap, err := parseUbuntu(nil, ubuntuCollected, ubuntuLscpu, ubuntuLsblk)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if snap.Facts.OS != "Ubuntu" || snap.Facts.Version != "5.15.0-91-generic" {
			t.Errorf("Unexpected facts: %+v", snap.Facts)
		}
		if *snap.Feed.CPULoad != 12.5 {
			t.Errorf("Expected cpu load 12.5, got %v", *snap.Feed.CPULoad)
		}
		if *snap.Feed.CPUSpeed != 3400 {
			t.Errorf("Expected cpu speed from nested max MHz, got %v", *snap.Feed.CPUSpeed)
		}

		if len(snap.Drives) != 2 {
			t.Fatalf("Expected 2 mounted filesystems, got %d: %+v", len(snap.Drives), snap.Drives)
		}
		root, data := snap.Drives[0], snap.Drives[1]
		if root.Root != "/" || root.Name != "root" || root.Location != "/dev/sda1" || root.Used != 40000 {
			t.Errorf("Unexpected root drive: %+v", root)
		}
		if data.Root != "/data" || data.Name != "sda3" || data.Free != 400000 {
			t.Errorf("Unexpected data drive: %+v", data)
		}
	})

	t.Run("Boot time is kept in UTC", func(t *testing.T) {
		snap, err := parseUbuntu(nil, ubuntuCollected, ubuntuLscpu, ubuntuLsblk)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		expected := time.Date(2024, 3, 1, 6, 30, 0, 0, time.UTC)
		if snap.Facts.LastBootTime == nil || !snap.Facts.LastBootTime.Equal(expected) {
			t.Errorf("Expected boot time %v, got %v", expected, snap.Facts.LastBootTime)
		}
	})

	t.Run("Invalid boot time fails", func(t *testing.T) {
		collected := strings.Replace(ubuntuCollected, "2024-03-01T06:30:00Z", "2024-03-01 06:30:00", 1)
		_, err := parseUbuntu(nil, collected, ubuntuLscpu, ubuntuLsblk)
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeParse {
			t.Errorf("Expected parse failure, got %v", err)
		}
	})

	t.Run("No filesystems yields an empty drive list", func(t *testing.T) {
		snap, err := parseUbuntu(nil, ubuntuCollected, ubuntuLscpu, `{"blockdevices":[]}`)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if snap.Drives == nil || len(snap.Drives) != 0 {
			t.Errorf("Expected empty non-nil drive list, got %v", snap.Drives)
		}
	})

	t.Run("Broken lsblk output fails", func(t *testing.T) {
		_, err := parseUbuntu(nil, ubuntuCollected, ubuntuLscpu, "lsblk: unknown column")
		var failure *Failure
		if !errors.As(err, &failure) || failure.Code != CodeParse {
			t.Errorf("Expected parse failure, got %v", err)
		}
	})
}

// collectorLine returns the line of the ubuntu collector assigning name.
func collectorLine(t *testing.T, name string) string {
	t.Helper()
	for _, line := range strings.Split(ubuntuCollector, "\n") {
		if strings.HasPrefix(line, name+"=") {
			return line
		}
	}
	t.Fatalf("Collector has no %s assignment", name)
	return ""
}

func TestUbuntuCollectorBootTime(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	// 2024-03-01T06:30:00Z, read back on hosts on both sides of UTC and
	// across a daylight saving change.
	stat := filepath.Join(t.TempDir(), "stat")
	if err := os.WriteFile(stat, []byte("cpu  1 2 3 4 5 6 7 8 0 0\nbtime 1709274600\n"), 0o600); err != nil {
		t.Fatalf("Failed to write stat file: %v", err)
	}
	script := strings.ReplaceAll(collectorLine(t, "boot"), "/proc/stat", stat) + `; printf '%s' "$boot"`

	for _, tz := range []string{"UTC", "America/New_York", "Asia/Tehran", "Australia/Sydney"} {
		t.Run(tz, func(t *testing.T) {
			cmd := exec.Command("sh", "-c", script)
			cmd.Env = append(os.Environ(), "TZ="+tz)
			out, err := cmd.Output()
			if err != nil {
				t.Skipf("date -d @epoch not supported here: %v", err)
			}
			if got := string(out); got != "2024-03-01T06:30:00Z" {
				t.Errorf("Expected boot time 2024-03-01T06:30:00Z, got %q", got)
			}
		})
	}
}

func TestMajorVersion(t *testing.T) {
	tests := map[string]int{
		"15.0.2000.5": 15,
		"13.0.5026.0": 13,
		"":            0,
		"garbage.1.2": 0,
	}
	for in, want := range tests {
		if got := majorVersion(in); got != want {
			t.Errorf("Expected %d for %q, got %d", want, in, got)
		}
	}
}

func TestFailureError(t *testing.T) {
	f := &Failure{Op: "exec", Code: CodeExit, Output: "boom", Err: errors.New("exit status 1")}
	want := "exec failed (exit): exit status 1\nboom"
	if f.Error() != want {
		t.Errorf("Expected %q, got %q", want, f.Error())
	}
	if !errors.Is(f, f.Err) {
		t.Error("Expected Failure to unwrap to its cause")
	}
}
