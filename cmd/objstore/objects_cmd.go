package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bleepstore/objstore/pkg/model"
)

func newPutCmd(a *app) *cobra.Command {
	var (
		contentType     string
		contentEncoding string
		meta            map[string]string
	)
	cmd := &cobra.Command{
		Use:   "put <key> <file|->",
		Short: "Upload a file (or stdin with -) as an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, src := args[0], args[1]
			var body io.Reader = a.stdin
			if src != "-" {
				f, err := os.Open(src)
				if err != nil {
					return err
				}
				defer f.Close()
				body = f
			}
			md := &model.Metadata{
				ContentType:     model.String(contentType),
				ContentEncoding: model.String(contentEncoding),
				Custom:          meta,
			}
			res, err := a.client.Put(cmd.Context(), key, body, md)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				if res.ETag != nil {
					fmt.Fprintf(w, "Uploaded %s (etag %s)\n", key, *res.ETag)
					return
				}
				fmt.Fprintf(w, "Uploaded %s\n", key)
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default: application/octet-stream)")
	cmd.Flags().StringVar(&contentEncoding, "content-encoding", "", "content encoding")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "custom metadata key=value (repeatable)")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key> [file]",
		Short: "Download an object to a file or stdout",
		Long:  `Streams the object in chunks, so large objects never sit in memory whole.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream, err := a.client.GetStream(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer stream.Close()

			dst := cmd.OutOrStdout()
			var file *os.File
			if len(args) == 2 && args[1] != "-" {
				if file, err = os.Create(args[1]); err != nil {
					return err
				}
				defer file.Close()
				dst = file
			}
			var n int64
			for chunk, err := range stream.All() {
				if err != nil {
					return err
				}
				if _, err := dst.Write(chunk); err != nil {
					return err
				}
				n += int64(len(chunk))
			}
			if file != nil {
				if err := file.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Downloaded %s (%d bytes) to %s\n", args[0], n, args[1])
			}
			return nil
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <key>",
		Aliases: []string{"delete"},
		Short:   "Delete an object",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s\n", args[0])
			})
		},
	}
}

func newLsCmd(a *app) *cobra.Command {
	var (
		delimiter  string
		maxResults int
		token      string
		all        bool
	)
	cmd := &cobra.Command{
		Use:     "ls [prefix]",
		Aliases: []string{"list"},
		Short:   "List objects",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Delimiter: delimiter, MaxResults: maxResults, ContinuationToken: token}
			if len(args) == 1 {
				opts.Prefix = args[0]
			}
			res, err := a.client.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			for all && res.Truncated && res.NextToken != nil {
				opts.ContinuationToken = *res.NextToken
				next, err := a.client.List(cmd.Context(), opts)
				if err != nil {
					return err
				}
				res.Objects = append(res.Objects, next.Objects...)
				res.CommonPrefixes = append(res.CommonPrefixes, next.CommonPrefixes...)
				res.NextToken, res.Truncated = next.NextToken, next.Truncated
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) { printListing(w, res) })
		},
	}
	cmd.Flags().StringVarP(&delimiter, "delimiter", "d", "", "group keys sharing a prefix up to this delimiter")
	cmd.Flags().IntVarP(&maxResults, "max", "n", model.DefaultMaxResults, "page size")
	cmd.Flags().StringVar(&token, "token", "", "continuation token from a previous page")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "follow continuation tokens until the listing ends")
	return cmd
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <key>",
		Short: "Show object metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := a.client.GetMetadata(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), md, func(w io.Writer) { printMetadata(w, args[0], md) })
		},
	}
}

func newSetMetaCmd(a *app) *cobra.Command {
	var (
		contentType     string
		contentEncoding string
		meta            map[string]string
	)
	cmd := &cobra.Command{
		Use:   "set-meta <key>",
		Short: "Replace an object's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md := &model.Metadata{
				ContentType:     model.String(contentType),
				ContentEncoding: model.String(contentEncoding),
				Custom:          meta,
			}
			res, err := a.client.UpdateMetadata(cmd.Context(), args[0], md)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				printMessage(w, res.Message, "Metadata updated for "+args[0])
			})
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type")
	cmd.Flags().StringVar(&contentEncoding, "content-encoding", "", "content encoding")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "custom metadata key=value (repeatable)")
	return cmd
}

func newExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <key>",
		Short: "Report whether an object exists",
		Long:  `Prints true or false. The exit status is 0 either way; it is non-zero only when the check itself fails.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.client.Exists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), map[string]any{"key": args[0], "exists": ok}, func(w io.Writer) {
				fmt.Fprintln(w, ok)
			})
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Health(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				if res.Message != "" {
					fmt.Fprintf(w, "%s (%s via %s)\n", res.Status, res.Message, a.client.Protocol())
					return
				}
				fmt.Fprintf(w, "%s (via %s)\n", res.Status, a.client.Protocol())
			}); err != nil {
				return err
			}
			if res.Status != model.HealthServing {
				return fmt.Errorf("service is %s", res.Status)
			}
			return nil
		},
	}
}

func newArchiveCmd(a *app) *cobra.Command {
	var (
		destType string
		settings map[string]string
	)
	cmd := &cobra.Command{
		Use:   "archive <key>",
		Short: "Move an object to an archive destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Archive(cmd.Context(), args[0], destType, settings)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				printMessage(w, res.Message, fmt.Sprintf("Archived %s to %s", args[0], destType))
			})
		},
	}
	cmd.Flags().StringVarP(&destType, "type", "t", "", "destination type, e.g. glacier (required)")
	cmd.Flags().StringToStringVar(&settings, "set", nil, "destination setting key=value (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
