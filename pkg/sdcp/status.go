package sdcp

import "fmt"

// PrintStatus is the PrintInfo.Status code reported by the printer.
type PrintStatus int

// Print status codes
const (
	StatusIdle         PrintStatus = 0
	StatusHoming       PrintStatus = 1
	StatusDropping     PrintStatus = 2
	StatusExposuring   PrintStatus = 3
	StatusLifting      PrintStatus = 4
	StatusPausing      PrintStatus = 5
	StatusPaused       PrintStatus = 6
	StatusStopping     PrintStatus = 7
	StatusStopped      PrintStatus = 8
	StatusComplete     PrintStatus = 9
	StatusPausedAlt    PrintStatus = 10 // alternate paused code
	StatusPrinting     PrintStatus = 13
	StatusFinished     PrintStatus = 14
	StatusError        PrintStatus = 15
	StatusHeating      PrintStatus = 16
)

var statusText = map[PrintStatus]string{
	StatusIdle:         "Idle",
	StatusHoming:       "Homing",
	StatusDropping:     "Dropping",
	StatusExposuring:   "Exposuring",
	StatusLifting:      "Lifting",
	StatusPausing:      "Pausing",
	StatusPaused:       "Paused",
	StatusStopping:     "Stopping",
	StatusStopped:      "Stopped",
	StatusComplete:     "Print Complete",
	StatusPausedAlt:    "Paused",
	StatusPrinting:     "Printing",
	StatusFinished:     "Print Complete",
	StatusError:        "Print Error",
	StatusHeating:      "Heating",
}

// StatusText returns the label for a print status code. Codes outside the
// table map to "Unknown Status (<code>)".
func StatusText(code int) string {
	if text, ok := statusText[PrintStatus(code)]; ok {
		return text
	}
	return fmt.Sprintf("Unknown Status (%d)", code)
}

// Known reports whether code is part of the status table.
func Known(code int) bool {
	_, ok := statusText[PrintStatus(code)]
	return ok
}

// IsPaused reports whether code means the job is pausing or paused.
func IsPaused(code int) bool {
	switch PrintStatus(code) {
	case StatusPausing, StatusPaused, StatusPausedAlt:
		return true
	}
	return false
}

// IsComplete reports whether code means the job finished successfully.
func IsComplete(code int) bool {
	switch PrintStatus(code) {
	case StatusComplete, StatusFinished:
		return true
	}
	return false
}

// IsFailed reports whether code means the job was cancelled or failed.
func IsFailed(code int) bool {
	switch PrintStatus(code) {
	case StatusStopped, StatusError:
		return true
	}
	return false
}
