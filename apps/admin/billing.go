package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-billing/core/fee"
)

// billingRun bills every active student for period and prints the report.
func (cli *commandLine) billingRun(period fee.Period) error {
	report, err := cli.feeSvc.RunBillingCycle(context.Background(), period)
	if err != nil {
		return err
	}
	if !isTerminalFunc() {
		return cli.printJSON(report)
	}

	fmt.Fprintf(cli.out, "Billing run %s for %s (%s)\n", report.ID, report.Period, report.Duration())
	fmt.Fprintf(cli.out, "total: %d, created: %d, updated: %d, unchanged: %d, skipped: %d, failed: %d\n\n",
		report.Total, report.Created, report.Updated, report.Unchanged, report.Skipped, report.Failed)

	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tRESULT\tALLOCATION\tREASON")
	for _, o := range report.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", o.StudentID, o.Result, o.AllocationID, o.Reason)
	}
	return w.Flush()
}

func (cli *commandLine) refreshOverdue() error {
	n, err := cli.feeSvc.RefreshOverdue(context.Background())
	if err != nil {
		return err
	}
	if !isTerminalFunc() {
		return cli.printJSON(map[string]int{"overdue": n})
	}
	fmt.Fprintf(cli.out, "%d allocations are now overdue\n", n)
	return nil
}

func (cli *commandLine) listAllocations(familyID, status string) error {
	var filter fee.QueryFilter
	if status != "" {
		st := fee.Status(strings.ToUpper(status))
		if !st.IsValid() {
			return errors.Errorf("unknown status %q", status)
		}
		filter.Statuses = []fee.Status{st}
	}

	allocs, err := cli.feeSvc.QueryFamilyAllocations(context.Background(), familyID, filter)
	if err != nil {
		return err
	}
	if !isTerminalFunc() {
		return cli.printJSON(allocs)
	}

	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "PERIOD\tSTUDENT\tNET\tPAID\tDUE\tSTATUS\t")
	for _, a := range allocs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			a.Period(), a.StudentID, a.NetAmount.StringFixed(2), a.PaidAmount.StringFixed(2),
			a.DueDate.Format("2006-01-02"), a.Status)
	}
	return w.Flush()
}

func (cli *commandLine) printJSON(v interface{}) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "encoding output")
}
