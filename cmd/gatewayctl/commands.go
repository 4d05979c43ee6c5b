package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/payment-gateway/internal/adapter"
	"github.com/yourorg/payment-gateway/internal/app"
	"github.com/yourorg/payment-gateway/internal/config"
	"github.com/yourorg/payment-gateway/internal/monitor"
	"github.com/yourorg/payment-gateway/internal/orchestrator"
	"github.com/yourorg/payment-gateway/internal/reporting"
	"github.com/yourorg/payment-gateway/internal/telemetry"
)

// dispatcherFunc builds the dispatcher used by the payment and refund
// commands. The returned func releases its resources.
type dispatcherFunc func() (orchestrator.Dispatcher, func(), error)

func defaultDispatcher() (orchestrator.Dispatcher, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return nil, nil, err
	}
	return a.Dispatcher, func() {
		_ = a.Close()
		_ = logger.Sync()
	}, nil
}

func newRootCmd(build dispatcherFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "gatewayctl",
		Short:             "Operator CLI for the payment gateway service",
		Long:              `Send a single payment or refund to CardConnect or Payload and inspect the gateway result, or summarize an audit log.`,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	rootCmd.AddCommand(newPaymentCmd(build))
	rootCmd.AddCommand(newRefundCmd(build))
	rootCmd.AddCommand(newReportCmd())
	return rootCmd
}

func newPaymentCmd(build dispatcherFunc) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Process one payment request read from a JSON file",
		Long: `Reads a payment request in the same JSON shape the HTTP endpoint accepts,
validates it, sends it to the gateway named by gatewayTypeId and prints the
canonical result, including the raw gateway responses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req adapter.PaymentRequest
			if err := readRequest(file, monitor.NewPaymentMonitor, &req); err != nil {
				return err
			}
			d, release, err := build()
			if err != nil {
				return err
			}
			defer release()
			return printResult(cmd.OutOrStdout(), d.ProcessPayment(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the payment request JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRefundCmd(build dispatcherFunc) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Process one refund request read from a JSON file",
		Long: `Reads a refund request in the same JSON shape the HTTP endpoint accepts and
prints the canonical result. The gateway decides between void and refund from
the current state of the payment transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req adapter.RefundRequest
			if err := readRequest(file, monitor.NewRefundMonitor, &req); err != nil {
				return err
			}
			d, release, err := build()
			if err != nil {
				return err
			}
			defer release()
			return printResult(cmd.OutOrStdout(), d.ProcessRefund(cmd.Context(), req))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the refund request JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		file   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize an audit log",
		Long:  `Reads a JSON-lines audit log written by the server and prints totals, gateway usage, failure statuses and approved amounts per currency.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			entries, err := reporting.ReadAuditLog(f)
			if err != nil {
				return err
			}
			report, err := reporting.NewRetrospectiveReporter().GenerateRetrospective(entries)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(report)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the audit log (JSON lines)")
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "output format: yaml or json")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readRequest(path string, newMonitor func() (*monitor.ContractMonitor, error), dst any) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cm, err := newMonitor()
	if err != nil {
		return err
	}
	valid, violations, err := cm.Validate(body)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if !valid {
		return fmt.Errorf("%s: %s", path, monitor.FormatErrors(violations))
	}
	return json.Unmarshal(body, dst)
}

func printResult(w io.Writer, result adapter.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
