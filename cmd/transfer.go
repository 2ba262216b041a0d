package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/desertthunder/kvx/internal/formatter"
	"github.com/desertthunder/kvx/internal/shared"
	"github.com/desertthunder/kvx/internal/tasks"
	"github.com/urfave/cli/v3"
)

func namespaceArg(cmd *cli.Command) (string, error) {
	ns := strings.TrimSpace(cmd.StringArg("namespace"))
	if ns == "" {
		return "", fmt.Errorf("%w: namespace", shared.ErrMissingArgument)
	}
	return ns, nil
}

// Export writes every key of a namespace to a file or stdout.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	ns, err := namespaceArg(cmd)
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	output := cmd.String("output")
	if output == "" {
		output = formatter.Filename(ns, format)
	}
	toStdout := output == "-"

	if err := r.open(ctx); err != nil {
		return err
	}

	var result *tasks.ExportResult
	err = r.withProgress(cmd.Bool("quiet") || toStdout, func(progress chan<- tasks.ProgressUpdate) error {
		var err error
		result, err = r.engine.Export(ctx, progress, tasks.ExportRequest{NamespaceID: ns, Format: format, UserEmail: cliUser})
		return err
	})
	if err != nil {
		return err
	}

	if toStdout {
		_, err := r.output.Write(result.Body)
		return err
	}
	if err := formatter.WriteExport(result.Body, output); err != nil {
		return err
	}

	r.writePlain("\nExported %d keys from %s to %s (job %s)\n", result.KeyCount, ns, output, result.JobID)
	if len(result.Omitted) > 0 {
		r.writePlain("⚠ %d keys could not be fetched and were omitted:\n", len(result.Omitted))
		for _, key := range result.Omitted {
			r.writePlain("  - %s\n", key)
		}
	}
	return nil
}

// Import loads a JSON array or NDJSON file into a namespace.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	ns, err := namespaceArg(cmd)
	if err != nil {
		return err
	}
	collision, err := tasks.ParseCollisionPolicy(cmd.String("collision"))
	if err != nil {
		return err
	}
	payload, err := readInput(cmd.String("file"))
	if err != nil {
		return err
	}

	if err := r.open(ctx); err != nil {
		return err
	}

	useJSON := cmd.Bool("json")
	var result *tasks.ImportResult
	err = r.withProgress(cmd.Bool("quiet") || useJSON, func(progress chan<- tasks.ProgressUpdate) error {
		var err error
		result, err = r.engine.Import(ctx, progress, tasks.ImportRequest{
			NamespaceID: ns,
			Payload:     payload,
			Collision:   collision,
			UserEmail:   cliUser,
		})
		return err
	})
	if err != nil {
		return err
	}

	if useJSON {
		return r.writeJSON(result, false)
	}

	r.writePlain("\n")
	r.writePlainHeader("Import Complete")
	r.writePlain("Job:       %s\n", result.JobID)
	r.writePlain("Format:    %s\n", result.Format)
	r.writePlain("Processed: %d/%d\n", result.ProcessedKeys, result.TotalKeys)
	if result.ErrorCount > 0 {
		r.writePlain("Errors:    %d (see log for failed batches)\n", result.ErrorCount)
	}
	return nil
}

// Delete removes keys listed in a file or given with --key.
func (r *Runner) Delete(ctx context.Context, cmd *cli.Command) error {
	ns, err := namespaceArg(cmd)
	if err != nil {
		return err
	}

	keys := cmd.StringSlice("key")
	if path := cmd.String("file"); path != "" {
		data, err := readInput(path)
		if err != nil {
			return err
		}
		fromFile, err := readLines(bytes.NewReader(data))
		if err != nil {
			return err
		}
		keys = append(keys, fromFile...)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: --key or --file is required", shared.ErrMissingArgument)
	}

	if err := r.open(ctx); err != nil {
		return err
	}

	useJSON := cmd.Bool("json")
	var result *tasks.BulkDeleteResult
	err = r.withProgress(cmd.Bool("quiet") || useJSON, func(progress chan<- tasks.ProgressUpdate) error {
		var err error
		result, err = r.engine.BulkDelete(ctx, progress, tasks.BulkDeleteRequest{NamespaceID: ns, Keys: keys, UserEmail: cliUser})
		return err
	})
	if err != nil {
		return err
	}

	if useJSON {
		return r.writeJSON(result, false)
	}
	r.writePlain("\nDeleted %d/%d keys from %s (job %s, %d errors)\n",
		result.ProcessedKeys, result.TotalKeys, ns, result.JobID, result.ErrorCount)
	return nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file path", shared.ErrMissingArgument)
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// readLines returns the trimmed, non-blank lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read keys: %w", err)
	}
	return lines, nil
}
