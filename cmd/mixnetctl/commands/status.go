package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/gomixnet/internal/mixnet"
)

type statusResponse struct {
	QueueStats mixnet.QueueStats `json:"queue_stats"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's current queue and session backlog",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := httpClient.Get(controlURL("/v1/status"))
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("get status: daemon returned %s", resp.Status)
			}

			var status statusResponse
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status response: %w", err)
			}

			out, err := formatStatus(status, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func formatStatus(status statusResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return renderJSON(status)
	case formatTable:
		return formatStatusTable(status), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatStatusTable(status statusResponse) string {
	qs := status.QueueStats
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Forward queue:\t%d / %d\n", qs.ForwardQueueLen, qs.ForwardQueueCap)
	fmt.Fprintf(w, "Authored queue (current):\t%d\n", qs.CurrentAuthoredQueueLen)
	fmt.Fprintf(w, "Authored queue (previous):\t%d\n", qs.PrevAuthoredQueueLen)
	fmt.Fprintf(w, "SURB keystore entries:\t%d\n", qs.SurbKeystoreLen)
	fmt.Fprintf(w, "Incomplete messages:\t%d\n", qs.IncompleteMessages)
	_ = w.Flush()
	return buf.String()
}
