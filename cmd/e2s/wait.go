package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type waitOptions struct {
	URL      string
	Timeout  time.Duration
	Interval time.Duration
}

// NewWaitCommand creates the wait command.
func NewWaitCommand(root *RootOptions) *cobra.Command {
	opts := &waitOptions{}
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Poll a URL until it answers 2xx",
		Long: `Poll a URL until it answers with a 2xx status, for scripts that need the
server up before running. Exits non-zero once --timeout is reached.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := waitFor(cmd.Context(), root, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is up\n", opts.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.URL, "url", "http://localhost:8080/healthz", "URL to poll")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 60*time.Second, "give up after this long")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "delay between attempts")
	return cmd
}

func waitFor(ctx context.Context, root *RootOptions, opts *waitOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client := &http.Client{Timeout: opts.Interval + 2*time.Second}
	attempt := 0
	for {
		attempt++
		status, err := probe(ctx, client, opts.URL)
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		root.log.WithField("attempt", attempt).WithField("status", status).WithError(err).Debug("not ready")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready after %s (%d attempts)", opts.URL, opts.Timeout, attempt)
		case <-time.After(opts.Interval):
		}
	}
}

func probe(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
