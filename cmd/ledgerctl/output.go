package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/auditledger/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEntry(w io.Writer, e *client.Entry) error {
	fmt.Fprintf(w, "Sequence:  %d\n", e.SequenceNumber)
	fmt.Fprintf(w, "Time:      %s\n", e.Timestamp.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Action:    %s (%s)\n", e.Action, e.Severity)
	fmt.Fprintf(w, "Actor:     %s <%s> role=%s ip=%s\n", e.Actor.ID, e.Actor.Email, e.Actor.Role, e.Actor.IP)
	if e.Target != nil {
		fmt.Fprintf(w, "Target:    %s %s\n", e.Target.Type, e.Target.ID)
	}
	if e.RequestID != "" {
		fmt.Fprintf(w, "Request:   %s\n", e.RequestID)
	}
	if e.Changes != nil {
		b, err := json.Marshal(e.Changes)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Changes:   %s\n", b)
	}
	fmt.Fprintf(w, "Prev hash: %s\n", e.PreviousHash)
	fmt.Fprintf(w, "Hash:      %s\n", e.CurrentHash)
	return nil
}

func printEntries(w io.Writer, entries []client.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no entries")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tACTION\tSEVERITY\tACTOR\tTARGET\tHASH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.SequenceNumber,
			e.Timestamp.UTC().Format(time.RFC3339),
			e.Action,
			e.Severity,
			e.Actor.ID,
			e.TargetID(),
			shortHash(e.CurrentHash),
		)
	}
	return tw.Flush()
}

func printReport(w io.Writer, r *client.Report) error {
	status := "VALID"
	if !r.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(w, "Ledger:   %s\n", status)
	fmt.Fprintf(w, "Range:    %d..%d\n", r.From, r.To)
	fmt.Fprintf(w, "Checked:  %d entries\n", r.TotalChecked)
	if len(r.Errors) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tVIOLATION")
	for _, v := range r.Errors {
		fmt.Fprintf(tw, "%d\t%s\n", v.SequenceNumber, v.Error)
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
