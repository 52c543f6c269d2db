// Package printer talks to the host's print subsystem through the CUPS
// command line tools: lp submits jobs, lpstat lists destinations.
package printer

import "context"

// Job is a file queued for printing. An empty Printer targets the system
// default destination.
type Job struct {
	Path    string
	Printer string
}

// UsesDefault reports whether the job goes to the default destination.
func (j Job) UsesDefault() bool {
	return j.Printer == ""
}

// Printer describes a destination registered with the spooler.
type Printer struct {
	DeviceID    string `json:"deviceId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Connection  string `json:"connection,omitempty"`
	Status      string `json:"status,omitempty"`
	Alerts      string `json:"alerts,omitempty"`
	Default     bool   `json:"default"`
}

// Dispatcher submits a file to the OS print subsystem and returns once the
// spooler has accepted it, along with the spooler's request id if known.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (string, error)
}

// Directory lists the destinations currently registered with the spooler.
type Directory interface {
	ListPrinters(ctx context.Context) ([]Printer, error)
}
