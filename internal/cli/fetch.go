package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"coinpulse/internal/config"
	"coinpulse/internal/market/fetcher"
)

// ErrFetchFailed makes the fetch command exit non-zero when no data at all
// could be produced.
var ErrFetchFailed = errors.New("fetch failed")

func newFetchCmd() *cobra.Command {
	var (
		upstream string
		compact  bool
	)
	cmd := &cobra.Command{
		Use:   "fetch <endpoint> [key=value...]",
		Short: "Run one resilient fetch and print the outcome",
		Example: `  coinpulse fetch /coins/markets vs_currency=usd per_page=10
  coinpulse fetch --upstream feargreed /fng/ limit=1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			conf, err := config.Build(configPath)
			if err != nil {
				return err
			}
			st, cleanup, err := buildStack(cmd.Context(), conf, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			o := st.fetcher.FetchFrom(cmd.Context(), upstream, args[0], params)
			return printOutcome(cmd.OutOrStdout(), o, compact)
		},
	}
	cmd.Flags().StringVar(&upstream, "upstream", fetcher.CoinGecko, "upstream name (coingecko or feargreed)")
	cmd.Flags().BoolVar(&compact, "compact", false, "print the payload without indentation")
	return cmd
}

// parseParams turns key=value arguments into query values. Repeated keys
// accumulate.
func parseParams(args []string) (url.Values, error) {
	params := url.Values{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", arg)
		}
		params.Add(strings.TrimSpace(k), v)
	}
	return params, nil
}

func printOutcome(w io.Writer, o fetcher.Outcome, compact bool) error {
	fmt.Fprintf(w, "outcome: %s\nsource: %s\n", o.Kind, o.Source)
	if o.Err != nil {
		fmt.Fprintf(w, "error: %v\n", o.Err)
	}
	if !o.HasData() {
		return ErrFetchFailed
	}

	payload := []byte(o.Payload)
	if !compact {
		var buf bytes.Buffer
		if err := json.Indent(&buf, o.Payload, "", "  "); err == nil {
			payload = buf.Bytes()
		}
	}
	_, err := fmt.Fprintf(w, "%s\n", payload)
	return err
}
