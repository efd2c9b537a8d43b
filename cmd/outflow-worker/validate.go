package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cli "github.com/urfave/cli/v3"

	"github.com/outflowhq/outflow/pkg/config"
	"github.com/outflowhq/outflow/pkg/log"
	"github.com/outflowhq/outflow/pkg/schema"
)

var ErrInvalidDefinitions = errors.New("invalid agent definitions found")

// NewValidateCommand validates agent definition files before they are loaded
// into the store: raw JSON schema first, then structural rules.
func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate agent definition files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "definitions-path",
				Aliases:  []string{"p"},
				Usage:    "Agent definition file or directory (.yaml, .yml, .json)",
				Required: true,
				Sources:  cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: runValidate,
	}
}

func runValidate(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("outflow-worker").With("action", "validate")

	path := command.String("definitions-path")

	paths, err := definitionFiles(path)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Validating agent definitions", "files", len(paths))

	valid := 0
	invalid := 0

	for _, file := range paths {
		_, _ = fmt.Fprintf(os.Stdout, "\n%s\n", file)

		err = validateFile(file)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stdout, "  INVALID: %v\n", err)
			invalid++

			continue
		}

		_, _ = fmt.Fprintln(os.Stdout, "  VALID")
		valid++
	}

	_, _ = fmt.Fprintf(os.Stdout, "\nValidation summary: %d valid, %d invalid\n", valid, invalid)

	if invalid > 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDefinitions, invalid)
	}

	return nil
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	raw, err := config.NormalizeJSON(path, data)
	if err != nil {
		return err
	}

	err = schema.ValidateDefinitionJSON(raw)
	if err != nil {
		return err
	}

	definition, err := config.LoadAgentDefinition(path)
	if err != nil {
		return err
	}

	return schema.NewValidator().ValidateAgent(definition)
}

func definitionFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	files := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}

	return files, nil
}
