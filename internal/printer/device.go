package printer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Device reports the spooler state of a named print device.
type Device interface {
	Status(ctx context.Context, name string) (Status, error)
}

// CUPSDevice queries a CUPS spooler through lpstat.
type CUPSDevice struct {
	command string
}

func NewCUPSDevice(command string) *CUPSDevice {
	if command == "" {
		command = "lpstat"
	}
	return &CUPSDevice{command: command}
}

func (d *CUPSDevice) Status(ctx context.Context, name string) (Status, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.command, "-p", name) //nolint:gosec // command comes from config
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "Invalid destination") ||
			strings.Contains(stderr.String(), "Unknown destination") {
			return StatusNotAvailable, nil
		}
		return StatusServerUnknown, fmt.Errorf("query %s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return ParseLPStat(stdout.String()), nil
}

var reasonFlags = []struct {
	token string
	flag  Status
}{
	{"paper jam", StatusPaperJam},
	{"media-jam", StatusPaperJam},
	{"media-empty", StatusPaperOut},
	{"out of paper", StatusPaperOut},
	{"media-needed", StatusPaperProblem},
	{"offline", StatusOffline},
	{"not connected", StatusOffline},
	{"door-open", StatusDoorOpen},
	{"cover-open", StatusDoorOpen},
	{"toner-empty", StatusNoToner},
	{"marker-supply-empty", StatusNoToner},
	{"toner-low", StatusTonerLow},
	{"output-area-full", StatusOutputBinFull},
	{"warming", StatusWarmingUp},
	{"waiting", StatusWaiting},
}

// ParseLPStat maps `lpstat -p` output for one printer onto status bits.
func ParseLPStat(out string) Status {
	text := strings.ToLower(out)
	if strings.TrimSpace(text) == "" {
		return StatusNotAvailable
	}
	var status Status
	switch {
	case strings.Contains(text, "now printing"):
		status |= StatusPrinting
	case strings.Contains(text, "disabled"):
		status |= StatusPaused
	case strings.Contains(text, "is idle"):
	default:
		status |= StatusServerUnknown
	}
	for _, reason := range reasonFlags {
		if strings.Contains(text, reason.token) {
			status |= reason.flag
		}
	}
	return status
}
