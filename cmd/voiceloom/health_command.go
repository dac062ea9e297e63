package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"voiceloom/internal/config"
	"voiceloom/internal/deps"
	"voiceloom/internal/store"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the database, external binaries, and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, s *store.Store) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				dbHealth, err := s.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				printCheck(out, colorize, "Database", dbHealth.DatabaseReadable && dbHealth.IntegrityCheck,
					describeDB(dbHealth))

				for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
					detail := status.Command
					if status.Detail != "" {
						detail = status.Detail
					}
					printCheck(out, colorize, status.Name, status.Available, detail)
				}

				summary, err := s.Health(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]column{
						numCol("Queued"), numCol("Processing"), numCol("Retrying"),
						numCol("Completed"), numCol("Failed"), numCol("Expired"), numCol("Total"),
					},
					[][]string{{
						fmt.Sprintf("%d", summary.Queued),
						fmt.Sprintf("%d", summary.Processing),
						fmt.Sprintf("%d", summary.Retrying),
						fmt.Sprintf("%d", summary.Completed),
						fmt.Sprintf("%d", summary.Failed),
						fmt.Sprintf("%d", summary.Expired),
						fmt.Sprintf("%d", summary.Total),
					}},
				))
				return nil
			})
		},
	}
}

func describeDB(health store.DatabaseHealth) string {
	if health.Error != "" {
		return health.Error
	}
	return fmt.Sprintf("%s (%d jobs)", health.DBPath, health.TotalJobs)
}

func printCheck(out io.Writer, colorize bool, name string, ok bool, detail string) {
	marker := "ok"
	color := ansiGreen
	if !ok {
		marker = "FAIL"
		color = ansiRed
	}
	if colorize {
		marker = color + marker + ansiReset
	}
	line := fmt.Sprintf("%-12s %s", name, marker)
	if strings.TrimSpace(detail) != "" {
		line += "  " + detail
	}
	fmt.Fprintln(out, line)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
