// cmd/pppd/main.go
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"ppp-gateway/internal/supervisor"
)

// globalOptions apply to every command
type globalOptions struct {
	Config  string `short:"c" long:"config" description:"Configuration file (default: pppd.yaml in . or /etc/pppd)"`
	Verbose bool   `short:"v" long:"verbose" description:"Log at debug level"`
}

// exitError carries a process exit status out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	var global globalOptions
	parser := newParser(&global)

	if _, err := parser.ParseArgs(args); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}

		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return 0
		}

		fmt.Fprintln(os.Stderr, err)
		return supervisor.ExitDeviceFailure
	}
	return 0
}

func newParser(global *globalOptions) *flags.Parser {
	parser := flags.NewParser(global, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "pppd"

	parser.AddCommand("run",
		"Run the connection supervisor in the foreground",
		"Dials the configured modem and keeps the link up until interrupted. "+
			"Exits with status 1 after a normal shutdown and 2 when a device cannot be opened.",
		&runCommand{global: global})

	parser.AddCommand("serve",
		"Run the control API",
		"Serves the HTTP control API. The supervisor is started through the API, "+
			"or at startup when connection.auto_start is set.",
		&serveCommand{global: global})

	parser.AddCommand("check-script",
		"Parse a chat script and print its steps",
		"Parses FILE as a chat script and prints the normalised script, or the syntax error.",
		&checkScriptCommand{out: os.Stdout})

	parser.AddCommand("migrate",
		"Apply or roll back the history schema",
		"Runs history database migrations without starting the supervisor.",
		&migrateCommand{global: global})

	return parser
}
