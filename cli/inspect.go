package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ytrelay/formats"
	"ytrelay/platform"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <url>",
	Short: "Identify the platform of a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		cls := a.classifier.Classify(cmd.Context(), args[0])
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Platform: %s (%s)\n", platform.DisplayName(cls.Platform), cls.Platform)
		fmt.Fprintf(out, "Outcome:  %s\n", cls.Outcome)
		if cls.Err != nil {
			fmt.Fprintf(out, "Warning:  %v\n", cls.Err)
		}
		return nil
	},
}

var formatsCmd = &cobra.Command{
	Use:   "formats <url>",
	Short: "List the qualities available for a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		entry, err := a.preview.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		qualities := a.preview.Qualities(entry)
		var best string
		if ranked := formats.Recommended(qualities); len(ranked) > 0 {
			best = ranked[0].FormatID
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FORMAT\tQUALITY\tSIZE\tFPS\tEXT\tSCORE\t")
		for _, q := range qualities {
			mark := ""
			if q.FormatID == best {
				mark = "recommended"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%s\t%d\t%s\n", q.FormatID, q.Label, q.Size, q.FPS, q.Ext, q.Score, mark)
		}
		return w.Flush()
	},
}

var metadataJSON bool

var metadataCmd = &cobra.Command{
	Use:   "metadata <url>",
	Short: "Show the normalised metadata of a URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		entry, err := a.preview.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		md := entry.Metadata
		out := cmd.OutOrStdout()
		if metadataJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(md)
		}
		fmt.Fprintf(out, "Title:    %s\n", md.Title)
		fmt.Fprintf(out, "Uploader: %s\n", md.Uploader)
		fmt.Fprintf(out, "Platform: %s\n", platform.DisplayName(md.Platform))
		fmt.Fprintf(out, "Duration: %s\n", md.Duration)
		fmt.Fprintf(out, "Views:    %s\n", md.Views)
		if md.UploadDate != "" {
			fmt.Fprintf(out, "Uploaded: %s\n", md.UploadDate)
		}
		if len(md.Tags) > 0 {
			fmt.Fprintf(out, "Tags:     %s\n", strings.Join(md.Tags, ", "))
		}
		if md.Description != "" {
			fmt.Fprintf(out, "\n%s\n", md.Description)
		}
		return nil
	},
}

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List the supported platforms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tHOSTS")
		for _, id := range platform.Supported() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", id, platform.DisplayName(id), strings.Join(platform.Hosts(id), ", "))
		}
		return w.Flush()
	},
}

func init() {
	metadataCmd.Flags().BoolVar(&metadataJSON, "json", false, "print the full record as JSON")
}
