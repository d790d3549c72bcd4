package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sydlexius/bucketscope/internal/storage"
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List configured buckets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printBuckets(cmd.OutOrStdout(), cfg.Buckets)
	},
}

func printBuckets(w io.Writer, buckets []storage.Bucket) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBUCKET\tPROVIDER\tENDPOINT")
	for _, b := range buckets {
		provider := b.Provider
		if provider == "" {
			provider = storage.ProviderS3
		}
		endpoint := b.EndpointURL
		if endpoint == "" {
			endpoint = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.BucketName, provider, endpoint)
	}
	return tw.Flush()
}
