package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dukex/pipewright/pkg/definition"
	"github.com/dukex/pipewright/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check pipeline definitions without running them",
		ArgsUsage: "<definition.yaml>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			if command.Args().Len() == 0 {
				return cli.Exit("at least one definition file is required", exitInvalid)
			}

			if failed := validateFiles(os.Stdout, command.Args().Slice()); failed > 0 {
				return cli.Exit(fmt.Sprintf("%d invalid definition(s)", failed), exitInvalid)
			}

			return nil
		},
	}
}

// validateFiles prints one line per path and returns how many were invalid.
func validateFiles(out io.Writer, paths []string) int {
	failed := 0

	for _, path := range paths {
		def, err := definition.ParseFile(path)
		if err != nil {
			failed++

			fmt.Fprintf(out, "%s: %v\n", path, err)

			continue
		}

		triggers := make([]string, 0, len(def.Triggers))
		for _, kind := range def.Triggers {
			triggers = append(triggers, string(kind))
		}

		fmt.Fprintf(out, "%s: ok (%s, %d jobs, on %s)\n", path, def.Name, len(def.Jobs), strings.Join(triggers, ", "))
	}

	return failed
}
