package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/kvx/internal/metadata"
	"github.com/desertthunder/kvx/internal/models"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// Tag applies a bulk tag operation.
func (r *Runner) Tag(ctx context.Context, cmd *cli.Command) error {
	ns, err := namespaceArg(cmd)
	if err != nil {
		return err
	}
	op, err := metadata.ParseTagOperation(cmd.String("operation"))
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	n, err := r.index.BulkTag(ctx, metadata.BulkTagRequest{
		NamespaceID: ns,
		Keys:        cmd.StringSlice("key"),
		Tags:        cmd.StringSlice("tag"),
		Operation:   op,
		UserEmail:   cliUser,
	})
	if err != nil {
		return err
	}

	r.writePlain("✓ %s tags on %d keys in %s\n", op, n, ns)
	return nil
}

// Search lists metadata records matching the filters.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	tags := []string{}
	for _, t := range cmd.StringSlice("tag") {
		tags = append(tags, metadata.ParseTags(t)...)
	}

	results, err := r.index.Search(ctx, models.SearchQuery{
		Query:       cmd.String("query"),
		NamespaceID: cmd.String("namespace"),
		Tags:        tags,
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(results, cmd.Bool("pretty"))
	}

	if len(results) == 0 {
		r.writePlain("No matching keys\n")
		return nil
	}
	for _, res := range results {
		r.writePlain("%s/%s  [%s]\n", res.NamespaceID, res.KeyName, strings.Join(res.Tags, ", "))
	}
	return nil
}

// Audit lists recent audit entries for a namespace.
func (r *Runner) Audit(ctx context.Context, cmd *cli.Command) error {
	ns, err := namespaceArg(cmd)
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	entries, err := r.audit.List(ctx, ns, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(entries, cmd.Bool("pretty"))
	}

	if len(entries) == 0 {
		r.writePlain("No audit entries for %s\n", ns)
		return nil
	}
	for _, e := range entries {
		r.writePlain("%s  %-16s %-24s %s\n",
			dimStyle.Render(e.Timestamp.Format(time.RFC3339)), e.Operation, e.UserEmail, formatDetails(e.Details))
	}
	return nil
}

func formatDetails(details map[string]any) string {
	keys := lo.Keys(details)
	slices.Sort(keys)
	return strings.Join(lo.Map(keys, func(k string, _ int) string {
		return fmt.Sprintf("%s=%v", k, details[k])
	}), " ")
}
