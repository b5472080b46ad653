package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/bleepstore/objstore/pkg/model"
)

type outputFormat string

const (
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
)

func parseOutput(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case "", outputText:
		return outputText, nil
	case outputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// emit writes v as indented JSON in json mode, otherwise calls text.
func (a *app) emit(w io.Writer, v any, text func(w io.Writer)) error {
	if a.out == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printMessage(w io.Writer, msg, fallback string) {
	if msg == "" {
		msg = fallback
	}
	fmt.Fprintln(w, msg)
}

func printMetadata(w io.Writer, key string, md *model.Metadata) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Key:\t%s\n", key)
	if md == nil {
		tw.Flush()
		return
	}
	fmt.Fprintf(tw, "Size:\t%d\n", model.Deref(md.Size))
	fmt.Fprintf(tw, "Content-Type:\t%s\n", orDash(model.Deref(md.ContentType)))
	if md.ContentEncoding != nil {
		fmt.Fprintf(tw, "Content-Encoding:\t%s\n", *md.ContentEncoding)
	}
	fmt.Fprintf(tw, "ETag:\t%s\n", orDash(model.Deref(md.ETag)))
	fmt.Fprintf(tw, "Last-Modified:\t%s\n", formatTime(md.LastModified))
	for _, k := range sortedKeys(md.Custom) {
		fmt.Fprintf(tw, "Meta %s:\t%s\n", k, md.Custom[k])
	}
	tw.Flush()
}

func printListing(w io.Writer, res *model.ListResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range res.CommonPrefixes {
		fmt.Fprintf(tw, "PRE\t\t%s\n", p)
	}
	for _, o := range res.Objects {
		var size int64
		modified := "-"
		if o.Metadata != nil {
			size = model.Deref(o.Metadata.Size)
			modified = formatTime(o.Metadata.LastModified)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", modified, size, o.Key)
	}
	tw.Flush()
	if res.Truncated {
		fmt.Fprintf(w, "(more results; continue with --token %q)\n", model.Deref(res.NextToken))
	}
}

func printPolicies(w io.Writer, policies []model.LifecyclePolicy) {
	if len(policies) == 0 {
		fmt.Fprintln(w, "No lifecycle policies.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPREFIX\tRETENTION\tACTION\tDESTINATION\tENABLED")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%ds\t%s\t%s\t%t\n", p.ID, orDash(p.Prefix), p.RetentionSeconds, p.Action, orDash(p.DestinationType), p.Enabled)
	}
	tw.Flush()
}

func printReplicationPolicies(w io.Writer, policies []model.ReplicationPolicy) {
	if len(policies) == 0 {
		fmt.Fprintln(w, "No replication policies.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tDESTINATION\tPREFIX\tINTERVAL\tMODE\tENABLED")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%ds\t%s\t%t\n", p.ID, p.SourceBackend, p.DestinationBackend, orDash(p.SourcePrefix), p.CheckIntervalSeconds, p.Mode, p.Enabled)
	}
	tw.Flush()
}

func printReplicationPolicy(w io.Writer, p *model.ReplicationPolicy) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", p.ID)
	fmt.Fprintf(tw, "Source:\t%s %s\n", p.SourceBackend, formatSettings(p.SourceSettings))
	fmt.Fprintf(tw, "Source prefix:\t%s\n", orDash(p.SourcePrefix))
	fmt.Fprintf(tw, "Destination:\t%s %s\n", p.DestinationBackend, formatSettings(p.DestinationSettings))
	fmt.Fprintf(tw, "Check interval:\t%ds\n", p.CheckIntervalSeconds)
	fmt.Fprintf(tw, "Mode:\t%s\n", p.Mode)
	fmt.Fprintf(tw, "Enabled:\t%t\n", p.Enabled)
	fmt.Fprintf(tw, "Last sync:\t%s\n", formatTime(p.LastSyncTime))
	tw.Flush()
}

func printSyncResult(w io.Writer, res *model.SyncResult) {
	fmt.Fprintf(w, "Policy %s: synced %d, deleted %d, failed %d, %d bytes in %dms\n",
		res.PolicyID, res.Synced, res.Deleted, res.Failed, res.BytesTotal, res.DurationMs)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func printReplicationStatus(w io.Writer, st *model.ReplicationStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Policy:\t%s\n", st.PolicyID)
	fmt.Fprintf(tw, "Source:\t%s\n", st.SourceBackend)
	fmt.Fprintf(tw, "Destination:\t%s\n", st.DestinationBackend)
	fmt.Fprintf(tw, "Enabled:\t%t\n", st.Enabled)
	fmt.Fprintf(tw, "Objects synced:\t%d\n", st.TotalObjectsSynced)
	fmt.Fprintf(tw, "Objects deleted:\t%d\n", st.TotalObjectsDeleted)
	fmt.Fprintf(tw, "Bytes synced:\t%d\n", st.TotalBytesSynced)
	fmt.Fprintf(tw, "Errors:\t%d\n", st.TotalErrors)
	fmt.Fprintf(tw, "Syncs:\t%d\n", st.SyncCount)
	fmt.Fprintf(tw, "Average duration:\t%dms\n", st.AverageSyncDurationMs)
	fmt.Fprintf(tw, "Last sync:\t%s\n", formatTime(st.LastSyncTime))
	tw.Flush()
}

func formatSettings(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		parts = append(parts, k+"="+m[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
