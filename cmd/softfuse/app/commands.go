package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/softfuse/softfuse/internal/cmd/output"
	"github.com/softfuse/softfuse/pkg/catalog"
	"github.com/softfuse/softfuse/pkg/errors"
	"github.com/softfuse/softfuse/pkg/storage"
)

// registerCommands adds all subcommands to the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(
		a.newImportCommand(),
		a.newListCommand(),
		a.newShowCommand(),
		a.newSimilarCommand(),
		a.newRefreshCommand(),
		a.newExportCommand(),
		a.newDereferenceCommand(),
		a.newSourcesCommand(),
	)
}

// descriptorDoc is the YAML shape accepted by the import command.
type descriptorDoc struct {
	Name             string                         `yaml:"name"`
	SourceSlug       string                         `yaml:"source_slug"`
	ExternalID       string                         `yaml:"external_id"`
	Description      string                         `yaml:"description"`
	License          string                         `yaml:"license"`
	LogoURL          string                         `yaml:"logo_url"`
	Keywords         []string                       `yaml:"keywords"`
	SoftwareType     catalog.SoftwareType           `yaml:"software_type"`
	CustomAttributes map[string]string              `yaml:"custom_attributes"`
	Similar          []catalog.SimilarityDescriptor `yaml:"similar"`
}

func (d descriptorDoc) descriptor() catalog.Descriptor {
	return catalog.Descriptor{
		Name:             d.Name,
		SourceSlug:       d.SourceSlug,
		ExternalID:       d.ExternalID,
		Description:      d.Description,
		License:          d.License,
		LogoURL:          d.LogoURL,
		Keywords:         d.Keywords,
		SoftwareType:     d.SoftwareType,
		CustomAttributes: d.CustomAttributes,
		SimilarItems:     d.Similar,
	}
}

func (a *App) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import descriptors from a YAML file",
		Long: `Import reads a YAML list of descriptors and resolves each one to a
canonical entity, creating entities for packages the catalog has never
seen. Descriptors carrying a similar list replace that entity's
similarity set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.WrapIO("read", args[0], err)
			}
			var docs []descriptorDoc
			if err := yaml.Unmarshal(data, &docs); err != nil {
				return errors.WrapParse("yaml", args[0], err)
			}

			var created, matched int
			for _, doc := range docs {
				id, wasCreated, err := engine.Import(cmd.Context(), doc.descriptor())
				if err != nil {
					return err
				}
				if wasCreated {
					created++
				} else {
					matched++
				}
				a.logger.Debug().
					Int64("software_id", id).
					Str("name", doc.Name).
					Bool("created", wasCreated).
					Msg("Descriptor imported")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d descriptors: %d created, %d matched\n",
				len(docs), created, matched)
			return nil
		},
	}
}

func (a *App) newListCommand() *cobra.Command {
	var all bool
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List canonical entities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			software, err := engine.List(cmd.Context(), storage.ListOptions{IncludeDereferenced: all})
			if err != nil {
				return err
			}

			if format != string(output.FormatTable) {
				return output.NewFormatter(output.Format(format)).Format(cmd.OutOrStdout(), software)
			}

			data := output.Data{
				Headers: []string{"ID", "Name", "Type", "License", "Status"},
			}
			for _, sw := range software {
				status := "active"
				if sw.Dereferencing != nil {
					status = "dereferenced"
				}
				data.Rows = append(data.Rows, []string{
					strconv.FormatInt(sw.ID, 10),
					sw.Name,
					sw.SoftwareType.Type,
					sw.License,
					status,
				})
			}
			return output.NewFormatter(output.FormatTable).Format(cmd.OutOrStdout(), data)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include dereferenced entities")
	cmd.Flags().StringVarP(&format, "format", "o", string(output.DefaultFormat()), "output format: table, json, yaml")
	return cmd
}

func (a *App) newShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an entity with its fused projection and similar items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			view, err := engine.Software(cmd.Context(), id)
			if err != nil {
				return err
			}
			return output.NewFormatter(output.Format(format)).Format(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "yaml", "output format: json, yaml")
	return cmd
}

func (a *App) newSimilarCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similar <id>",
		Short: "List software similar to an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			items, err := engine.Similar(cmd.Context(), id)
			if err != nil {
				return err
			}

			data := output.Data{
				Headers: []string{"Source", "External ID", "Label", "Registered"},
			}
			for _, item := range items {
				registered := ""
				if item.Registered {
					registered = "software " + strconv.FormatInt(*item.SoftwareID, 10)
				}
				data.Rows = append(data.Rows, []string{
					item.SourceSlug, item.ExternalID, item.Label, registered,
				})
			}
			return output.NewFormatter(output.FormatTable).Format(cmd.OutOrStdout(), data)
		},
	}
	return cmd
}

func (a *App) newRefreshCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-fetch stale external records",
		Long: `Refresh re-fetches every external record whose data is older than the
staleness window, or has never been fetched. Records whose upstream has
vanished stay in the catalog with their last good data.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			result, err := engine.Refresh(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"Refresh %s: %d candidates, %d fetched, %d missing, %d failed, %d skipped in %s\n",
				result.RunID, result.Candidates, result.Fetched, result.Missing,
				result.Failed, result.Skipped, result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	return cmd
}

func (a *App) newExportCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if path != "" {
				f, err := os.Create(path)
				if err != nil {
					return errors.WrapIO("create", path, err)
				}
				defer f.Close()
				w = f
			}
			return engine.Export(cmd.Context(), w)
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "write to a file instead of stdout")
	return cmd
}

func (a *App) newDereferenceCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "dereference <id>",
		Short: "Retire an entity from default listings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			if err := engine.Dereference(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Software %d dereferenced\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the entity is being retired (required)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func (a *App) newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources in priority order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := a.Engine()
			if err != nil {
				return err
			}

			title := cases.Title(language.English)
			data := output.Data{
				Headers: []string{"Priority", "Slug", "Kind", "URL"},
			}
			for _, src := range engine.Registry().List() {
				data.Rows = append(data.Rows, []string{
					strconv.Itoa(src.Priority),
					src.Slug,
					title.String(string(src.Kind)),
					src.URL,
				})
			}
			return output.NewFormatter(output.FormatTable).Format(cmd.OutOrStdout(), data)
		},
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, errors.NewValidationError("id", arg, "software ids are numeric")
	}
	return id, nil
}
