package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"actcore/internal/audit"

	"github.com/spf13/cobra"
)

var (
	auditTailCount int
	auditThought   string
	auditJSON      bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the hash-chained audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain and signatures",
	Args:  cobra.NoArgs,
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditTailCount, "count", "n", 20, "Number of entries")
	auditTailCmd.Flags().StringVar(&auditThought, "thought", "", "Only entries for this thought")
	auditTailCmd.Flags().BoolVar(&auditJSON, "json", false, "Print entries as JSON lines")

	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	log, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	report, err := log.Verify(context.Background())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Entries: %d\n", report.Entries)
	fmt.Fprintf(out, "Signed:  %t\n", report.Signed)
	if !report.Valid {
		fmt.Fprintf(out, "INVALID at seq %d: %s\n", report.BrokenAt, report.Reason)
		return fmt.Errorf("audit chain verification failed")
	}
	fmt.Fprintln(out, "Chain valid")
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	log, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := context.Background()
	var entries []audit.Entry
	if auditThought != "" {
		entries, err = log.Query(ctx, audit.Filter{ThoughtID: auditThought, Limit: auditTailCount})
	} else {
		entries, err = log.Tail(ctx, auditTailCount)
	}
	if err != nil {
		return err
	}

	if auditJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tACTOR\tTHOUGHT\tOUTCOME")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Timestamp.Format("2006-01-02 15:04:05"), e.EventType, e.Actor, e.ThoughtID, e.Outcome)
	}
	return tw.Flush()
}
