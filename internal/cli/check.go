package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
	"github.com/spf13/cobra"

	"github.com/GoPolymarket/trading-gateway/internal/app"
	"github.com/GoPolymarket/trading-gateway/internal/command"
)

type checkOptions struct {
	category string
	action   string
	params   map[string]string
	book     string
	asJSON   bool
}

func newCheckCmd(root *rootOptions) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate one command offline against the configured rules",
		Example: `  gateway check --category trade --action buy --param amount=2500 --param asset_id=tok
  gateway check --category system --action "restart api" --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.category, "category", "", "command category (trade|financial|data|system|external|config|auth)")
	cmd.Flags().StringVar(&opts.action, "action", "", "command action text")
	cmd.Flags().StringToStringVar(&opts.params, "param", nil, "parameter key=value, numbers are parsed")
	cmd.Flags().StringVar(&opts.book, "book", "", "JSON order book snapshot file to score trades against")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func runCheck(cmd *cobra.Command, root *rootOptions, opts *checkOptions) error {
	cfg, err := root.load(cmd)
	if err != nil {
		return err
	}
	// Offline: no sinks with side effects.
	cfg.Audit.Enabled = false
	cfg.Telegram.Enabled = false
	cfg.Metrics.Enabled = false

	category, err := command.ParseCategory(opts.category)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, cfg.NewLogger(io.Discard))
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.book != "" {
		data, err := os.ReadFile(opts.book)
		if err != nil {
			return fmt.Errorf("book: %w", err)
		}
		var event ws.OrderbookEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("book %s: %w", opts.book, err)
		}
		if err := a.Books().Update(event); err != nil {
			return fmt.Errorf("book %s: %w", opts.book, err)
		}
	}

	dec := a.Submit(cmd.Context(), command.Command{
		Category:   category,
		Action:     opts.action,
		Parameters: parseParams(opts.params),
		Source:     "cli",
	})

	out := cmd.OutOrStdout()
	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(dec)
	}
	fmt.Fprintf(out, "result:     %s\n", dec.Result)
	fmt.Fprintf(out, "action:     %s\n", dec.Action)
	fmt.Fprintf(out, "risk:       %s (severity %d, confidence %.2f)\n", dec.RiskLevel, dec.Severity, dec.Confidence)
	fmt.Fprintf(out, "reason:     %s\n", dec.Reason)
	if len(dec.TriggeredRules) > 0 {
		fmt.Fprintf(out, "rules:      %s\n", strings.Join(dec.TriggeredRules, ", "))
	}
	if m := dec.Modifications; m != nil {
		fmt.Fprintf(out, "modify:     size x%.2f, splits %d, delay %s\n", m.SizeMultiplier, m.Splits, m.Delay)
		for _, n := range m.Notes {
			fmt.Fprintf(out, "            %s\n", n)
		}
	}
	return nil
}

func parseParams(raw map[string]string) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}
