package printer

import (
	"fmt"
	"strings"
)

// Status is a spooler status bit set. Zero means ready.
type Status uint32

const (
	StatusReady            Status = 0
	StatusPaused           Status = 0x00000001
	StatusError            Status = 0x00000002
	StatusPendingDeletion  Status = 0x00000004
	StatusPaperJam         Status = 0x00000008
	StatusPaperOut         Status = 0x00000010
	StatusManualFeed       Status = 0x00000020
	StatusPaperProblem     Status = 0x00000040
	StatusOffline          Status = 0x00000080
	StatusIOActive         Status = 0x00000100
	StatusBusy             Status = 0x00000200
	StatusPrinting         Status = 0x00000400
	StatusOutputBinFull    Status = 0x00000800
	StatusNotAvailable     Status = 0x00001000
	StatusWaiting          Status = 0x00002000
	StatusProcessing       Status = 0x00004000
	StatusInitializing     Status = 0x00008000
	StatusWarmingUp        Status = 0x00010000
	StatusTonerLow         Status = 0x00020000
	StatusNoToner          Status = 0x00040000
	StatusPagePunt         Status = 0x00080000
	StatusUserIntervention Status = 0x00100000
	StatusOutOfMemory      Status = 0x00200000
	StatusDoorOpen         Status = 0x00400000
	StatusServerUnknown    Status = 0x00800000
	StatusPowerSave        Status = 0x01000000
)

var statusNames = []struct {
	flag Status
	name string
}{
	{StatusPaused, "paused"},
	{StatusError, "error"},
	{StatusPendingDeletion, "pending deletion"},
	{StatusPaperJam, "paper jam"},
	{StatusPaperOut, "paper out"},
	{StatusManualFeed, "manual feed"},
	{StatusPaperProblem, "paper problem"},
	{StatusOffline, "offline"},
	{StatusIOActive, "io active"},
	{StatusBusy, "busy"},
	{StatusPrinting, "printing"},
	{StatusOutputBinFull, "output bin full"},
	{StatusNotAvailable, "not available"},
	{StatusWaiting, "waiting"},
	{StatusProcessing, "processing"},
	{StatusInitializing, "initializing"},
	{StatusWarmingUp, "warming up"},
	{StatusTonerLow, "toner low"},
	{StatusNoToner, "no toner"},
	{StatusPagePunt, "page punt"},
	{StatusUserIntervention, "user intervention"},
	{StatusOutOfMemory, "out of memory"},
	{StatusDoorOpen, "door open"},
	{StatusServerUnknown, "server unknown"},
	{StatusPowerSave, "power save"},
}

// busyMask holds the bits that mean a job is still in progress.
const busyMask = StatusPrinting | StatusProcessing | StatusIOActive | StatusBusy | StatusWaiting

func (s Status) Ready() bool { return s == StatusReady }

// Printing reports whether the device is working on jobs and nothing else.
func (s Status) Printing() bool {
	return s != StatusReady && s&^busyMask == 0
}

func (s Status) String() string {
	if s == StatusReady {
		return "ready"
	}
	var names []string
	for _, entry := range statusNames {
		if s&entry.flag != 0 {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("unknown status (0x%X)", uint32(s))
	}
	return strings.Join(names, " | ")
}
