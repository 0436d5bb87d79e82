package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Harsh-BH/crmjobs/internal/metadata"
)

var metadataCmd = &cobra.Command{
	Use:   "metadata",
	Short: "Deploy, retrieve and compare schema components",
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy components from a YAML file, a bundled template or a prebuilt archive",
	Long: `Deploy components from a YAML file, a bundled template or a prebuilt archive.

Examples:
  crmjobs metadata deploy --file schema.yaml --rollback-on-error
  crmjobs metadata deploy --template audit_trail --object Opportunity
  crmjobs metadata deploy --archive package.zip --check-only --test-level RunLocalTests`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		archive, _ := cmd.Flags().GetString("archive")
		template, _ := cmd.Flags().GetString("template")
		object, _ := cmd.Flags().GetString("object")
		if countSet(file, archive, template) != 1 {
			return fmt.Errorf("exactly one of --file, --template or --archive is required")
		}
		opts := deployOptionsFrom(cmd)
		runOpts, err := runOptionsFrom(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		var result *metadata.DeployResult
		if archive != "" {
			data, err := os.ReadFile(archive)
			if err != nil {
				return fmt.Errorf("reading %s: %w", archive, err)
			}
			result, err = a.metadata.DeployArchive(ctx, data, opts, runOpts...)
			if err != nil {
				return err
			}
		} else {
			components, err := loadComponents(file, template, object)
			if err != nil {
				return err
			}
			result, err = a.metadata.Deploy(ctx, components, opts, runOpts...)
			if err != nil {
				return err
			}
		}
		return printJSON(result)
	},
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Inspect the bundled component templates",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the bundled templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		templates, err := metadata.Templates()
		if err != nil {
			return err
		}
		return printJSON(templates)
	},
}

var templateShowCmd = &cobra.Command{
	Use:   "show <template>",
	Short: "Print the documents a template would deploy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		object, _ := cmd.Flags().GetString("object")
		components, err := metadata.Template(args[0], object)
		if err != nil {
			return err
		}
		return printDocuments(stdout, components)
	},
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve the components named by a manifest or a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath, _ := cmd.Flags().GetString("manifest")
		file, _ := cmd.Flags().GetString("file")
		out, _ := cmd.Flags().GetString("out")
		if (file == "") == (manifestPath == "") {
			return fmt.Errorf("exactly one of --file or --manifest is required")
		}
		manifest, err := loadManifest(manifestPath, file)
		if err != nil {
			return err
		}
		runOpts, err := runOptionsFrom(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.metadata.Retrieve(ctx, manifest, runOpts...)
		if err != nil {
			return err
		}
		if out != "" {
			if err := os.WriteFile(out, result.Archive, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			printStep("Archive written to %s", out)
		}
		return printJSON(result)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Show how local components differ from the remote org",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		components, _, err := metadata.LoadComponentsFile(file)
		if err != nil {
			return err
		}
		runOpts, err := runOptionsFrom(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		diff, err := a.metadata.Compare(ctx, components, runOpts...)
		if err != nil {
			return err
		}
		printStep("%s", diff.Summary())
		return printJSON(diff)
	},
}

func init() {
	deployCmd.Flags().String("file", "", "YAML file describing the components")
	deployCmd.Flags().String("archive", "", "prebuilt deployment zip")
	deployCmd.Flags().String("template", "", "bundled template id (see metadata template list)")
	deployCmd.Flags().String("object", "", "object that receives the template's fields")
	deployCmd.Flags().Bool("check-only", false, "validate without saving changes")
	deployCmd.Flags().Bool("rollback-on-error", true, "roll back every change if any component fails")
	deployCmd.Flags().Bool("ignore-warnings", false, "deploy even when components raise warnings")
	deployCmd.Flags().Bool("single-package", true, "the archive holds a single package")
	deployCmd.Flags().String("test-level", "", "NoTestRun, RunSpecifiedTests, RunLocalTests or RunAllTestsInOrg")
	deployCmd.Flags().StringSlice("run-tests", nil, "test classes to run with RunSpecifiedTests")
	addRunFlags(deployCmd)

	retrieveCmd.Flags().String("manifest", "", "package manifest naming the components")
	retrieveCmd.Flags().String("file", "", "YAML file whose components should be retrieved")
	retrieveCmd.Flags().String("out", "", "write the retrieved zip to this path")
	addRunFlags(retrieveCmd)

	compareCmd.Flags().String("file", "", "YAML file describing the local components (required)")
	_ = compareCmd.MarkFlagRequired("file")
	addRunFlags(compareCmd)

	templateShowCmd.Flags().String("object", "", "object that receives the template's fields")
	templateCmd.AddCommand(templateListCmd, templateShowCmd)

	metadataCmd.AddCommand(deployCmd, retrieveCmd, compareCmd, templateCmd)
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}

func loadComponents(file, template, object string) ([]metadata.Component, error) {
	if template != "" {
		return metadata.Template(template, object)
	}
	if object != "" {
		return nil, fmt.Errorf("--object only applies to --template")
	}
	components, _, err := metadata.LoadComponentsFile(file)
	return components, err
}

func printDocuments(w io.Writer, components []metadata.Component) error {
	for _, c := range components {
		doc, err := metadata.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "# %s\n%s\n", metadata.KeyOf(c), doc); err != nil {
			return err
		}
	}
	return nil
}

func deployOptionsFrom(cmd *cobra.Command) metadata.DeployOptions {
	var opts metadata.DeployOptions
	opts.CheckOnly, _ = cmd.Flags().GetBool("check-only")
	opts.RollbackOnError, _ = cmd.Flags().GetBool("rollback-on-error")
	opts.IgnoreWarnings, _ = cmd.Flags().GetBool("ignore-warnings")
	opts.SinglePackage, _ = cmd.Flags().GetBool("single-package")
	opts.TestLevel, _ = cmd.Flags().GetString("test-level")
	opts.RunTests, _ = cmd.Flags().GetStringSlice("run-tests")
	return opts
}

func loadManifest(manifestPath, componentsPath string) (*metadata.Manifest, error) {
	if manifestPath != "" {
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", manifestPath, err)
		}
		return metadata.DecodeManifest(data)
	}
	components, apiVersion, err := metadata.LoadComponentsFile(componentsPath)
	if err != nil {
		return nil, err
	}
	if apiVersion == "" {
		apiVersion = cfg.CRM.APIVersion
	}
	return metadata.ManifestFor(apiVersion, components), nil
}
