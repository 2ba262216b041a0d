// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// jsonFlag, prettyFlag and quietFlag return a fresh flag for each command.
func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}
}

func prettyFlag() cli.Flag {
	return &cli.BoolFlag{Name: "pretty", Usage: "Pretty-print JSON output", Value: true}
}

func quietFlag() cli.Flag {
	return &cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress progress output"}
}

// setupCommand initializes configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create config file if missing, initialize database and run migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:  "rollback",
				Usage: "Roll back the most recent migration instead of applying pending ones",
			},
		},
		Action: r.Setup,
	}
}

// serveCommand starts the HTTP API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (overrides server.host)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (overrides server.port)",
			},
		},
		Action: r.Serve,
	}
}

// exportCommand exports a namespace.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export every key of a namespace as JSON or NDJSON",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "namespace"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Export format (json or ndjson)",
				Value:   "json",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path (default: {namespace}-export.{format}; - for stdout)",
			},
			quietFlag(),
		},
		Action: r.Export,
	}
}

// importCommand imports a payload file into a namespace.
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import a JSON array or NDJSON file into a namespace",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "namespace"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"i"},
				Usage:    "Payload file path (- for stdin)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "collision",
				Usage: "Collision policy (overwrite, skip or rename)",
				Value: "overwrite",
			},
			jsonFlag(),
			quietFlag(),
		},
		Action: r.Import,
	}
}

// deleteCommand deletes keys from a namespace.
func deleteCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete keys from a namespace in batches",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "namespace"},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "File with one key per line",
			},
			&cli.StringSliceFlag{
				Name:    "key",
				Aliases: []string{"k"},
				Usage:   "Key to delete (repeatable)",
			},
			jsonFlag(),
			quietFlag(),
		},
		Action: r.Delete,
	}
}

// jobsCommand inspects the job ledger.
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect bulk operation jobs",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Show one job",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{jsonFlag(), prettyFlag()},
				Action: r.JobsGet,
			},
			{
				Name:  "list",
				Usage: "List jobs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (queued, running, completed, failed, cancelled)",
					},
					&cli.StringFlag{
						Name:  "operation",
						Usage: "Filter by operation type",
					},
					&cli.StringFlag{
						Name:  "namespace",
						Usage: "Filter by namespace",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to return",
						Value: 50,
					},
					jsonFlag(),
					prettyFlag(),
				},
				Action: r.JobsList,
			},
		},
	}
}

// tagCommand applies a bulk tag operation.
func tagCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tag",
		Usage: "Add, remove or replace tags on keys",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "namespace"},
		},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "key",
				Aliases:  []string{"k"},
				Usage:    "Key to tag (repeatable)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:    "tag",
				Aliases: []string{"t"},
				Usage:   "Tag (repeatable)",
			},
			&cli.StringFlag{
				Name:  "operation",
				Usage: "Tag operation (add, remove or replace)",
				Value: "replace",
			},
		},
		Action: r.Tag,
	}
}

// searchCommand searches key metadata.
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search key metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "query",
				Usage: "Case-sensitive key name substring",
			},
			&cli.StringFlag{
				Name:  "namespace",
				Usage: "Namespace to search",
			},
			&cli.StringSliceFlag{
				Name:    "tag",
				Aliases: []string{"t"},
				Usage:   "Match keys holding any of these tags (repeatable)",
			},
			jsonFlag(),
			prettyFlag(),
		},
		Action: r.Search,
	}
}

// auditCommand lists audit entries.
func auditCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "List recent audit entries for a namespace",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "namespace"},
		},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of entries",
				Value: 50,
			},
			jsonFlag(),
			prettyFlag(),
		},
		Action: r.Audit,
	}
}
