package cmd

import (
	"context"
	"fmt"
	"time"

	"skein/internal/app"
	"skein/internal/packages"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var (
	packageVersion    string
	packageNetwork    string
	packageForce      bool
	packageNoRollback bool
)

func newPackageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Search, install, and manage tool-server packages",
	}
	cmd.AddCommand(newPackageSearchCmd())
	cmd.AddCommand(newPackageInstallCmd())
	cmd.AddCommand(newPackageUpdateCmd())
	cmd.AddCommand(newPackageRemoveCmd())
	return cmd
}

// loadPackageApp wires an Application for package commands, which talk
// directly to the Docker daemon rather than through the serve daemon.
func loadPackageApp() (*app.Application, error) {
	return app.NewApplication(app.NewConfig(false, true, ""))
}

func newPackageSearchCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the package index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadPackageApp()
			if err != nil {
				return err
			}
			defer application.Services().Close()

			svc := application.Services().Packages
			if err := svc.RefreshIndex(cmd.Context(), ""); err != nil {
				return fmt.Errorf("refreshing index: %w", err)
			}

			results, err := svc.Search(packages.SearchQuery{Text: query})
			if err != nil {
				return fmt.Errorf("searching: %w", err)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{
				text.Colors{text.FgHiBlue, text.Bold}.Sprint("NAME"),
				text.Colors{text.FgHiBlue, text.Bold}.Sprint("VERSION"),
				text.Colors{text.FgHiBlue, text.Bold}.Sprint("TYPE"),
				text.Colors{text.FgHiBlue, text.Bold}.Sprint("REGISTRY"),
				text.Colors{text.FgHiBlue, text.Bold}.Sprint("INSTALLED"),
			})
			for _, r := range results {
				installed := ""
				if r.Installed {
					installed = text.Colors{text.FgGreen}.Sprint(r.InstalledVersion)
				}
				t.AppendRow(table.Row{r.Name, r.Version, r.Type, r.RegistryName, installed})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "substring to match against name/description")
	return cmd
}

func runPackageTransaction(cmd *cobra.Command, name string, verb string, fn func(ctx context.Context) (*packages.TransactionRecord, error)) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" %s %q...", verb, name)
	s.Start()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := fn(ctx)
	s.Stop()
	if err != nil {
		return fmt.Errorf("%s %q: %w", verb, name, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", verb, name, text.Colors{text.FgGreen, text.Bold}.Sprint(tx.Status))
	return nil
}

func newPackageInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install <name>",
		Short: "Install a package and its dependency closure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadPackageApp()
			if err != nil {
				return err
			}
			defer application.Services().Close()

			return runPackageTransaction(cmd, args[0], "installing", func(ctx context.Context) (*packages.TransactionRecord, error) {
				return application.Services().Packages.Install(ctx, args[0], packages.InstallOptions{
					Version:    packageVersion,
					Network:    packageNetwork,
					NoRollback: packageNoRollback,
				})
			})
		},
	}
	cmd.Flags().StringVar(&packageVersion, "version", "", "exact package version")
	cmd.Flags().StringVar(&packageNetwork, "network", "", "container network override")
	cmd.Flags().BoolVar(&packageNoRollback, "no-rollback", false, "don't roll back on failure")
	return cmd
}

func newPackageUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update an installed package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadPackageApp()
			if err != nil {
				return err
			}
			defer application.Services().Close()

			return runPackageTransaction(cmd, args[0], "updating", func(ctx context.Context) (*packages.TransactionRecord, error) {
				return application.Services().Packages.Update(ctx, args[0], packages.InstallOptions{
					Version: packageVersion,
					Network: packageNetwork,
				})
			})
		},
	}
	cmd.Flags().StringVar(&packageVersion, "version", "", "exact package version")
	cmd.Flags().StringVar(&packageNetwork, "network", "", "container network override")
	return cmd
}

func newPackageRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Uninstall a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadPackageApp()
			if err != nil {
				return err
			}
			defer application.Services().Close()

			return runPackageTransaction(cmd, args[0], "removing", func(ctx context.Context) (*packages.TransactionRecord, error) {
				return application.Services().Packages.Remove(ctx, args[0], packageForce)
			})
		},
	}
	cmd.Flags().BoolVar(&packageForce, "force", false, "remove even if other packages still depend on it")
	return cmd
}
