package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowmedic/pkg/classifier"
	"github.com/dukex/flowmedic/pkg/log"
	"github.com/dukex/flowmedic/pkg/models"
	cli "github.com/urfave/cli/v3"
)

var errMissingArgument = errors.New("missing argument")

func catalogFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "pattern-catalog-path",
		Aliases: []string{"catalog"},
		Usage:   "YAML or JSON file extending the built-in error pattern catalog",
		Sources: cli.EnvVars("PATTERN_CATALOG_PATH"),
	}
}

func loadCatalog(path string) (*classifier.Catalog, error) {
	if path == "" {
		return classifier.DefaultCatalog(), nil
	}

	return classifier.LoadCatalog(path)
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify an error message against the pattern catalog",
		ArgsUsage: "<message>",
		Flags: []cli.Flag{
			catalogFlag(),
			&cli.StringFlag{
				Name:  "node",
				Usage: "Name of the node that failed",
			},
			&cli.IntFlag{
				Name:  "http-status",
				Usage: "HTTP status reported with the failure",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			message := command.Args().First()
			if message == "" {
				return fmt.Errorf("%w: error message", errMissingArgument)
			}

			catalog, err := loadCatalog(command.String("pattern-catalog-path"))
			if err != nil {
				return err
			}

			clf := classifier.New(catalog, nil, log.WithModule("classify"))
			classification := clf.Classify(ctx, &models.ExecutionError{
				Message:    message,
				NodeName:   command.String("node"),
				HTTPStatus: command.Int("http-status"),
			})

			output := struct {
				*models.Classification
				Strategy *models.FixStrategy `json:"strategy,omitempty"`
			}{Classification: classification}

			if classification.Matched() {
				if strategy, err := catalog.StrategyFor(classification); err == nil {
					output.Strategy = &strategy
				}
			}

			return writeJSON(command, output)
		},
	}
}

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Inspect error pattern catalogs",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate a catalog file against the schema and the built-in entries",
				ArgsUsage: "<path>",
				Action: func(_ context.Context, command *cli.Command) error {
					path := command.Args().First()
					if path == "" {
						return fmt.Errorf("%w: catalog path", errMissingArgument)
					}

					catalog, err := classifier.LoadCatalog(path)
					if err != nil {
						return err
					}

					_, err = fmt.Fprintf(command.Root().Writer, "catalog ok: %d patterns, %d strategies\n",
						len(catalog.Patterns()), len(catalog.Strategies()))

					return err
				},
			},
			{
				Name:  "show",
				Usage: "Print the effective catalog as JSON",
				Flags: []cli.Flag{catalogFlag()},
				Action: func(_ context.Context, command *cli.Command) error {
					catalog, err := loadCatalog(command.String("pattern-catalog-path"))
					if err != nil {
						return err
					}

					return writeJSON(command, map[string]any{
						"patterns":   catalog.Patterns(),
						"strategies": catalog.Strategies(),
					})
				},
			},
		},
	}
}

func writeJSON(command *cli.Command, value any) error {
	encoder := json.NewEncoder(command.Root().Writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}
