package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/saker-ai/presence-engine/pkg/runtime"
)

var options = &Options{}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	options = &Options{}
	var first string
	if len(args) > 0 {
		first = args[0]
	}
	options.Init(first)

	parser := flags.NewParser(options, flags.HelpFlag|flags.PassDoubleDash)
	parser.SubcommandsOptional = true
	parser.CommandHandler = func(cmd flags.Commander, rest []string) error {
		if options.Version {
			fmt.Fprintln(stdout, runtime.Version)
			return nil
		}
		switch c := cmd.(type) {
		case nil:
			return (&ServeCmd{}).Execute(rest)
		case *MoodsCmd:
			c.out = stdout
		}
		return cmd.Execute(rest)
	}
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, ferr.Message)
			return nil
		}
		return err
	}
	return nil
}
