package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/composer/internal/catalogue"
	"github.com/pitabwire/composer/internal/composer"
	"github.com/pitabwire/composer/model"
)

type previewOptions struct {
	catalogueDir string
	recordsFile  string
	appID        int64
	instanceID   string
}

// previewOutput is what a load of the records would show and what saving
// them right away would send.
type previewOutput struct {
	Application model.Application    `json:"application"`
	InstanceID  string               `json:"instance_id"`
	Report      composer.LoadReport  `json:"report"`
	Stages      []model.StageNode    `json:"stages"`
	Orphans     []model.ConfigRecord `json:"orphans"`
	Payload     []model.SavePayload  `json:"payload"`
}

func newPreviewCmd() *cobra.Command {
	var opts previewOptions
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the tree and save payload for a set of saved records",
		Long: `preview loads an application catalogue and a YAML list of saved records,
normalizes them the way the editor does on load, and prints the projected
stage tree and the save payload as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := runPreview(opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&opts.catalogueDir, "catalogue", "", "directory of catalogue YAML files")
	cmd.Flags().StringVar(&opts.recordsFile, "records", "", "YAML file with the saved records")
	cmd.Flags().Int64Var(&opts.appID, "app", 0, "application id")
	cmd.Flags().StringVar(&opts.instanceID, "instance", "preview", "workflow instance id")
	_ = cmd.MarkFlagRequired("catalogue")
	_ = cmd.MarkFlagRequired("records")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

func runPreview(opts previewOptions) (previewOutput, error) {
	cats, err := catalogue.LoadValidated([]string{opts.catalogueDir})
	if err != nil {
		return previewOutput{}, err
	}
	cat, err := catalogue.NewRegistry(cats).Metadata(context.Background(), opts.appID)
	if err != nil {
		return previewOutput{}, err
	}

	data, err := os.ReadFile(opts.recordsFile)
	if err != nil {
		return previewOutput{}, fmt.Errorf("reading records: %w", err)
	}
	var persisted []model.PersistedRecord
	if err := yaml.Unmarshal(data, &persisted); err != nil {
		return previewOutput{}, fmt.Errorf("parsing records %s: %w", opts.recordsFile, err)
	}

	n := 0
	records, report := composer.FromPersisted(persisted, cat, composer.DefaultResolver(), func(model.PersistedRecord) string {
		n++
		return fmt.Sprintf("r%d", n)
	})
	stages, orphans := composer.Project(records, cat.Stages, nil, composer.ProjectOptions{
		IncludeEmptyStages: len(records) == 0,
	})

	if orphans == nil {
		orphans = []model.ConfigRecord{}
	}
	return previewOutput{
		Application: cat.Application,
		InstanceID:  opts.instanceID,
		Report:      report,
		Stages:      stages,
		Orphans:     orphans,
		Payload:     composer.BuildPayload(records, cat.Application, opts.instanceID),
	}, nil
}
