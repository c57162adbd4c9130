package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/trezcool/masomo-billing/core/fee"
)

var (
	isTerminalFunc = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) } // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db     *sql.DB
	feeSvc fee.Service
	out    io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  billingrun [-month MONTH -year YEAR] - allocate the period's fees to every active student (default: current month)")
	fmt.Fprintln(cli.out, "  refreshoverdue - flag the pending allocations past their due date as overdue")
	fmt.Fprintln(cli.out, "  allocations -family FAMILY_ID [-status STATUS] - list a family's allocations")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	billingRunCmd := cli.newFlagSet("billingrun")
	billingRunMonth := billingRunCmd.Int("month", 0, "The month to bill (1-12).")
	billingRunYear := billingRunCmd.Int("year", 0, "The year to bill.")

	allocationsCmd := cli.newFlagSet("allocations")
	allocationsFamily := allocationsCmd.String("family", "", "The family's ID.")
	allocationsStatus := allocationsCmd.String("status", "", "Only list the allocations with this status.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "billingrun":
		if err := billingRunCmd.Parse(args[2:]); err != nil {
			return err
		}
		period := fee.PeriodOf(fee.Today())
		if *billingRunMonth != 0 || *billingRunYear != 0 {
			period = fee.Period{Month: *billingRunMonth, Year: *billingRunYear}
		}
		return cli.billingRun(period)

	case "refreshoverdue":
		return cli.refreshOverdue()

	case "allocations":
		if err := allocationsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *allocationsFamily == "" {
			allocationsCmd.Usage()
			return errHelp
		}
		return cli.listAllocations(*allocationsFamily, *allocationsStatus)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}
