package checks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"atlas-system/internal/storage"
)

// cpuSample is the load and clock of one processor package.
type cpuSample struct {
	Load  float64 `json:"load"`
	Speed float64 `json:"speed"`
	Cores int     `json:"cores"`
}

// aggregateCPU returns the load averaged by core count and the plain
// average of the clock speed.
func aggregateCPU(cpus []cpuSample) (load, speed *float64) {
	if len(cpus) == 0 {
		return nil, nil
	}

	var weighted, speeds float64
	var cores int
	for _, c := range cpus {
		n := max(c.Cores, 1)
		weighted += c.Load * float64(n)
		cores += n
		speeds += c.Speed
	}

	l := weighted / float64(cores)
	s := speeds / float64(len(cpus))
	return &l, &s
}

// hostFeed builds the feed sample of an SSH host check.
func hostFeed(ping *int64, cpus []cpuSample, memoryTotal, memoryFree int64) storage.MonitorFeed {
	load, speed := aggregateCPU(cpus)
	return storage.MonitorFeed{
		Ping:        ping,
		CPULoad:     load,
		CPUSpeed:    speed,
		MemoryTotal: &memoryTotal,
		MemoryFree:  &memoryFree,
	}
}

// decodeStrict decodes a document produced by our own collector, rejecting
// unknown fields and trailing data.
func decodeStrict(op, output string, v any) error {
	data := bytes.TrimSpace(bytes.TrimPrefix([]byte(output), []byte("\xef\xbb\xbf")))
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return &Failure{Op: op, Code: CodeParse, Output: truncate(output), Err: err}
	}
	if dec.More() {
		return &Failure{Op: op, Code: CodeParse, Output: truncate(output), Err: fmt.Errorf("unexpected trailing data")}
	}
	return nil
}

// decodeLoose decodes a document produced by a third-party tool whose
// schema varies between versions.
func decodeLoose(op, output string, v any) error {
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), v); err != nil {
		return &Failure{Op: op, Code: CodeParse, Output: truncate(output), Err: err}
	}
	return nil
}
