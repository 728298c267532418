package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mvar-tools/mvarload/mvarload_api"
	cli "github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:            "mvarload",
		Usage:           "A tool to load annotated mouse VCF files into the MVAR variant database",
		HideHelpCommand: true,
		Version:         "0.1.0dev",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Configuration file (YAML) with the database, import and staging settings",
				Category: "Optional",
			},
			&cli.StringFlag{
				Name:     "driver",
				Usage:    "The database driver. Must be one of: mysql, postgres, sqlite",
				Category: "Optional",
			},
			&cli.StringFlag{
				Name:     "dsn",
				Usage:    "The database connection string",
				Category: "Optional",
			},
			&cli.StringFlag{
				Name:     "log-mode",
				Usage:    "prod for JSON logs, dev for console logs",
				Category: "Optional",
			},
			&cli.StringFlag{
				Name:     "metrics-file",
				Usage:    "Write the run metrics to this Prometheus textfile when the command ends",
				Category: "Optional",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "insert",
				Usage: "Parse VCF files and insert their variants, genotypes and transcript staging rows",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "The VCF file, or a directory of VCF files, to load. Local path or s3://bucket/key",
						Required: true,
						Category: "Required",
					},
					&cli.StringFlag{
						Name:     "header",
						Usage:    "A file holding the VCF header, for data files without one",
						Category: "Optional",
					},
					batchSizeFlag(),
					&cli.StringFlag{
						Name:     "assembly",
						Aliases:  []string{"a"},
						Usage:    "The assembly of the input. Must be one of: mm9, mm10, mm39",
						Category: "Optional",
					},
					&cli.BoolFlag{
						Name:     "lifted",
						Usage:    "The input was lifted over from another assembly (OriginalStart INFO tags); skips the CAID backfill",
						Category: "Optional",
					},
					&cli.BoolFlag{
						Name:     "check-existing",
						Usage:    "Link variants that are already stored instead of inserting them again",
						Category: "Optional",
					},
				},
				Action: func(Cctx *cli.Context) error {
					return withRun(Cctx, func(ctx context.Context, run *mvarload_api.Run) error {
						assembly := run.Config.Import.Assembly
						if Cctx.IsSet("assembly") {
							assembly = Cctx.String("assembly")
						}
						parsed, err := mvarload_api.ParseAssembly(assembly)
						if err != nil {
							return err
						}
						_, err = run.Insert(ctx, mvarload_api.InsertOptions{
							Input:         Cctx.String("input"),
							HeaderFile:    Cctx.String("header"),
							BatchSize:     batchSize(Cctx, run.Config),
							Assembly:      parsed,
							Lifted:        Cctx.Bool("lifted"),
							CheckExisting: Cctx.Bool("check-existing"),
						})
						return err
					})
				},
			},
			{
				Name:  "transcripts",
				Usage: "Materialize the variant-transcript and variant-source relationships from the staging table",
				Flags: append(windowFlags(),
					&cli.StringFlag{
						Name:     "source",
						Aliases:  []string{"s"},
						Usage:    "The name of the import source, as stored in the source table",
						Category: "Optional",
					},
				),
				Action: func(Cctx *cli.Context) error {
					return withRun(Cctx, func(ctx context.Context, run *mvarload_api.Run) error {
						source := run.Config.Import.Source
						if Cctx.IsSet("source") {
							source = Cctx.String("source")
						}
						_, err := run.MaterializeTranscripts(ctx, source, jobWindow(Cctx, run.Config))
						return err
					})
				},
			},
			{
				Name:  "strains",
				Usage: "Materialize the variant-strain genotype relationships from the staging table",
				Flags: append(windowFlags(),
					&cli.StringFlag{
						Name:     "strains",
						Usage:    "Newline delimited strain names, in the order of the genotype columns",
						Required: true,
						Category: "Required",
					},
					&cli.IntFlag{
						Name:     "imputed",
						Usage:    "Imputation code of the genotypes: 0 direct, 1 statistically imputed, 2 externally imputed",
						Value:    0,
						Category: "Optional",
					},
				),
				Action: func(Cctx *cli.Context) error {
					return withRun(Cctx, func(ctx context.Context, run *mvarload_api.Run) error {
						imputation, err := mvarload_api.ParseImputation(Cctx.Int("imputed"))
						if err != nil {
							return err
						}
						_, err = run.MaterializeStrains(ctx, Cctx.String("strains"), imputation, jobWindow(Cctx, run.Config))
						return err
					})
				},
			},
			{
				Name:  "canon",
				Usage: "Copy the canonical identifiers of origin variants onto the variants of a lifted import",
				Flags: windowFlags(),
				Action: func(Cctx *cli.Context) error {
					return withRun(Cctx, func(ctx context.Context, run *mvarload_api.Run) error {
						_, err := run.ReconcileCanonical(ctx, jobWindow(Cctx, run.Config))
						return err
					})
				},
			},
			{
				Name:  "init-db",
				Usage: "Create the database tables (development and test databases)",
				Action: func(Cctx *cli.Context) error {
					return withRun(Cctx, func(ctx context.Context, run *mvarload_api.Run) error {
						return run.InitSchema(ctx)
					})
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.New(os.Stderr, "", 0).Fatal(err)
	}
}

// withRun sets up the config, logger and database session of a command and tears them down afterwards.
func withRun(Cctx *cli.Context, fn func(ctx context.Context, run *mvarload_api.Run) error) error {
	config, err := mvarload_api.ReadConfig(Cctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	logger, err := mvarload_api.NewLogger(config.Log.Mode)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	ctx, stop := signal.NotifyContext(Cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := mvarload_api.NewRun(ctx, config, logger)
	if err != nil {
		logger.Error("failed to start run", "driver", config.Database.Driver, "dsn", config.Database.DSN, "error", err)
		logger.Sync()
		return cli.Exit(err.Error(), 1)
	}
	run.Logger.Info("run started", "command", Cctx.Command.Name, "driver", config.Database.Driver)

	err = fn(ctx, run)
	if err != nil {
		run.Logger.Error("run failed", "command", Cctx.Command.Name, "error", err)
	}
	if closeErr := run.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func batchSizeFlag() cli.Flag {
	return &cli.IntFlag{
		Name:     "batch-size",
		Aliases:  []string{"b"},
		Usage:    "The number of records per transaction",
		Category: "Optional",
	}
}

func windowFlags() []cli.Flag {
	return []cli.Flag{
		batchSizeFlag(),
		&cli.Int64Flag{
			Name:     "start-id",
			Usage:    "The first staging id to process, to resume after a failure",
			Value:    1,
			Category: "Optional",
		},
		&cli.Int64Flag{
			Name:     "stop-id",
			Usage:    "The last staging id to process, defaults to the highest id at start",
			Category: "Optional",
		},
	}
}

func batchSize(Cctx *cli.Context, config *mvarload_api.Config) int {
	if Cctx.IsSet("batch-size") {
		return Cctx.Int("batch-size")
	}
	return config.Import.BatchSize
}

func jobWindow(Cctx *cli.Context, config *mvarload_api.Config) mvarload_api.JobWindow {
	return mvarload_api.JobWindow{
		BatchSize: batchSize(Cctx, config),
		StartID:   Cctx.Int64("start-id"),
		StopID:    Cctx.Int64("stop-id"),
	}
}
