package printer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"printserver/internal/domain"
	u "printserver/internal/utils"
)

const defaultCommandTimeout = 30 * time.Second

var requestIDPattern = regexp.MustCompile(`request id is (\S+)`)

// CUPS implements Dispatcher and Directory on top of lp and lpstat.
type CUPS struct {
	LPCommand     string
	LpstatCommand string
	Timeout       time.Duration
}

// NewCUPS builds a CUPS client from the print section of cfg.
func NewCUPS(cfg u.Config) *CUPS {
	return &CUPS{
		LPCommand:     cfg.Print.LPCommand,
		LpstatCommand: cfg.Print.LpstatCommand,
		Timeout:       time.Duration(cfg.Print.TimeoutSecs) * time.Second,
	}
}

func (c *CUPS) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultCommandTimeout
	}
	return c.Timeout
}

// Dispatch runs `lp [-d printer] -- path`.
func (c *CUPS) Dispatch(ctx context.Context, job Job) (string, error) {
	if job.Path == "" {
		return "", domain.Wrap(domain.ErrDispatch, fmt.Errorf("no file to print"))
	}

	args := make([]string, 0, 4)
	if !job.UsesDefault() {
		args = append(args, "-d", job.Printer)
	}
	args = append(args, "--", job.Path)

	stdout, err := c.run(ctx, c.LPCommand, args...)
	if err != nil {
		return "", domain.Wrap(domain.ErrDispatch, err)
	}
	return parseRequestID(stdout), nil
}

// ListPrinters runs `lpstat -d -l -p` and parses its report.
func (c *CUPS) ListPrinters(ctx context.Context) ([]Printer, error) {
	stdout, err := c.run(ctx, c.LpstatCommand, "-d", "-l", "-p")
	if err != nil {
		// lpstat exits non-zero when nothing is configured; that is an empty list, not an outage.
		if strings.Contains(strings.ToLower(err.Error()), "no destinations added") {
			return []Printer{}, nil
		}
		return nil, domain.Wrap(domain.ErrDirectory, err)
	}
	return parseLpstat(stdout), nil
}

func (c *CUPS) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of a killed wrapper script may keep the pipes open.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	u.Debug("spooler command finished", "command", name, "args", args, "duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s timed out after %s: %w", name, c.timeout(), ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %s", name, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}

func parseRequestID(out string) string {
	if m := requestIDPattern.FindStringSubmatch(out); m != nil {
		return m[1]
	}
	return ""
}

// parseLpstat understands the output of `lpstat -d -l -p`:
//
//	system default destination: Office
//	printer Office is idle.  enabled since Mon 01 Jan 2024 10:00:00
//		Description: Office Laser
//		Alerts: none
//		Location: 2nd floor
//		Connection: direct
func parseLpstat(out string) []Printer {
	printers := []Printer{}
	defaultName := ""

	var cur *Printer
	for _, raw := range strings.Split(out, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if name, ok := strings.CutPrefix(trimmed, "system default destination:"); ok {
			defaultName = strings.TrimSpace(name)
			continue
		}

		if strings.HasPrefix(line, "printer ") {
			fields := strings.Fields(trimmed)
			if len(fields) < 2 {
				continue
			}
			printers = append(printers, Printer{
				DeviceID: fields[1],
				Name:     fields[1],
				Status:   printerState(fields),
			})
			cur = &printers[len(printers)-1]
			continue
		}

		if cur == nil || line == trimmed {
			continue
		}
		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Description":
			cur.Description = value
		case "Location":
			cur.Location = value
		case "Connection":
			cur.Connection = value
		case "Alerts":
			cur.Alerts = value
		}
	}

	for i := range printers {
		printers[i].Default = defaultName != "" && printers[i].Name == defaultName
	}
	return printers
}

// printerState extracts the state from a "printer NAME ..." line. lpstat
// writes "is idle.", "now printing JOB." or "disabled since ...".
func printerState(fields []string) string {
	if len(fields) < 3 {
		return ""
	}
	switch fields[2] {
	case "disabled":
		return "disabled"
	case "now":
		if len(fields) > 3 && fields[3] == "printing" {
			return "printing"
		}
		return ""
	case "is":
		if len(fields) < 4 {
			return ""
		}
		if fields[3] == "now" {
			return "printing"
		}
		return strings.TrimRight(fields[3], ".,")
	}
	return ""
}
