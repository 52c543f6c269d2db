package main

import (
	"io"

	flag "github.com/spf13/pflag"
)

// serverFlags holds the command line overrides.
type serverFlags struct {
	config   string
	logLevel string
	version  bool
}

// parseFlags reads args (including the program name). Unknown flags are
// ignored so wrappers can pass their own.
func parseFlags(args []string) (serverFlags, error) {
	var f serverFlags

	fs := flag.NewFlagSet("printserver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true

	fs.StringVarP(&f.config, "config", "c", "", "path to the YAML config file (default $CONFIG_PATH or config.yaml)")
	fs.StringVar(&f.logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	if len(args) > 0 {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	return f, nil
}
