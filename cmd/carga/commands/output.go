package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
	"github.com/FranciscoCL13/carga-masiva/pkg/policy"
	"github.com/FranciscoCL13/carga-masiva/pkg/stores"
)

func printJSON(w io.Writer, v interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printReport writes one line per unit followed by the batch summary.
func printReport(w io.Writer, report *engine.BatchReport, warnings []policy.Violation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UNIT\tSTATUS\tINSTANCE\tSTAGES\tERROR")
	for i := range report.Units {
		u := &report.Units[i]
		instance := "-"
		if u.InstanceID != 0 {
			instance = fmt.Sprintf("%d", u.InstanceID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			u.Label, unitOutcome(u), instance, stageSummary(u.Stages), firstError(u))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := report.Summary
	fmt.Fprintf(w, "\nBatch %s: %s, %d/%d units succeeded, %d instances created in %s\n",
		report.ID, s.Status, s.Succeeded, s.Units, s.InstancesCreated,
		report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))

	for _, v := range warnings {
		fmt.Fprintf(w, "warning: %s: %s (%s)\n", v.Label, v.Message, v.Policy)
	}
	return nil
}

func unitOutcome(u *engine.WorkUnitResult) string {
	if u.Succeeded() {
		return "ok"
	}
	return string(u.Status)
}

func stageSummary(stages []engine.StageResult) string {
	if len(stages) == 0 {
		return "-"
	}
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = fmt.Sprintf("%s=%s", s.Stage, s.Status)
	}
	return strings.Join(parts, ",")
}

func firstError(u *engine.WorkUnitResult) string {
	if u.Error != nil {
		return u.Error.Error()
	}
	for _, s := range u.Stages {
		if s.Error != nil {
			return fmt.Sprintf("%s: %s", s.Stage, s.Error.Error())
		}
	}
	return ""
}

func printBatches(w io.Writer, batches []*stores.Batch) error {
	if len(batches) == 0 {
		_, err := fmt.Fprintln(w, "No batches recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tSTATUS\tSUCCEEDED\tSTARTED\tDURATION")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			b.ID, b.Source, b.Status, b.Succeeded, b.Units,
			humanize.Time(b.StartedAt), b.CompletedAt.Sub(b.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []*stores.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No events recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tLEVEL\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", humanize.Time(e.Timestamp), e.Level, e.Message)
	}
	return tw.Flush()
}
