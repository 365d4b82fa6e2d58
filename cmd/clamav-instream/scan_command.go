package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	clamav "github.com/DevHatRo/clamd-instream-go"
)

const stdinTarget = "-"

// errNotClean reports that at least one target was not confirmed clean.
// The verdicts have already been printed when it is returned.
var errNotClean = errors.New("one or more targets were not confirmed clean")

type scanReport struct {
	Target string             `json:"target"`
	Clean  bool               `json:"clean"`
	Result *clamav.ScanResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var chunkSize int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Stream files (or stdin) to clamd and report verdicts",
		Long: "Stream each path to clamd with INSTREAM. Use - or no arguments to scan stdin.\n" +
			"Exits with status 1 when any target is not confirmed clean.",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			if chunkSize <= 0 {
				chunkSize = cfg.ChunkSize
			}
			if int64(chunkSize) > clamav.MaxChunkSize {
				return fmt.Errorf("chunk size %d exceeds %d", chunkSize, clamav.MaxChunkSize)
			}
			if timeout <= 0 {
				timeout = cfg.Timeout()
			}

			opts := []clamav.ClientOption{
				clamav.WithChunkSize(chunkSize),
				clamav.WithLogger(logger),
			}
			if timeout > 0 {
				opts = append(opts, clamav.WithTimeout(timeout))
			}
			client, err := clamav.NewClient(cfg.Socket, opts...)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				args = []string{stdinTarget}
			}
			reports := scanTargets(cmd.Context(), client, cmd.InOrStdin(), args)

			if jsonOutput {
				if err := writeJSON(cmd, reports); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), renderScanReports(reports, shouldColorize(cmd.OutOrStdout())))
			}

			for _, report := range reports {
				if !report.Clean {
					return errNotClean
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Payload bytes per INSTREAM chunk (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-scan I/O deadline, e.g. 30s (default from config)")
	return cmd
}

func scanTargets(ctx context.Context, client *clamav.Client, stdin io.Reader, targets []string) []scanReport {
	reports := make([]scanReport, 0, len(targets))
	for _, target := range targets {
		var (
			result *clamav.ScanResult
			err    error
		)
		if target == stdinTarget {
			result, err = client.ScanStream(ctx, stdin, "stdin")
		} else {
			result, err = client.ScanFilePath(ctx, target)
		}

		report := scanReport{Target: target, Result: result}
		if err != nil {
			report.Error = err.Error()
		} else {
			report.Clean = result.IsClean()
		}
		reports = append(reports, report)
	}
	return reports
}

func renderScanReports(reports []scanReport, colorize bool) string {
	headers := []string{"Target", "Verdict", "Detail", "Bytes", "Time"}
	rows := make([][]string, 0, len(reports))
	for _, report := range reports {
		verdict, detail := reportVerdict(report)
		if colorize {
			verdict = verdictColor(report).Sprint(verdict)
		}
		row := []string{report.Target, verdict, detail, "", ""}
		if report.Result != nil {
			row[3] = strconv.FormatInt(report.Result.Bytes, 10)
			row[4] = fmt.Sprintf("%.3fs", report.Result.ScanTime)
		}
		rows = append(rows, row)
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight})
}

func reportVerdict(report scanReport) (string, string) {
	switch {
	case report.Error != "":
		return "FAILED", report.Error
	case report.Clean:
		return "CLEAN", ""
	case report.Result.IsInfected():
		return "INFECTED", report.Result.Message
	default:
		return "ERROR", report.Result.Message
	}
}

func verdictColor(report scanReport) text.Colors {
	switch {
	case report.Clean:
		return text.Colors{text.FgGreen}
	case report.Error == "" && report.Result.IsInfected():
		return text.Colors{text.FgRed, text.Bold}
	default:
		return text.Colors{text.FgYellow}
	}
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
