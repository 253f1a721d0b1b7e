package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weir-run/weir/internal/config"
	"github.com/weir-run/weir/internal/modules"
	"github.com/weir-run/weir/internal/pipeline"
	"github.com/weir-run/weir/internal/repo"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()
	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down", "signal", sig)
		cancel()
	}()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "weir",
		Short:         "Dataflow pipeline engine with verified remote modules",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(newRunCmd(), newModulesCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Execute a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := pipeline.RunFromConfig(cmd.Context(), args[0], configPath)
			if err != nil {
				return err
			}
			fmt.Printf("\nPipeline: %s\n", summary.Pipeline)
			fmt.Printf("Tasks run: %d\n", summary.Tasks)
			fmt.Printf("Duration: %.2fs\n", summary.Duration.Seconds())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "run configuration file")
	return cmd
}

func newModulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Manage installed pipeline modules",
	}
	cmd.AddCommand(
		newModulesInstallCmd(),
		newModulesListCmd(),
		newModulesInfoCmd(),
		newModulesRemoveCmd(),
		newModulesUpdateCmd(),
	)
	return cmd
}

// openResolver assembles a module resolver rooted at the current directory.
// The caller must call cleanup when done.
func openResolver(security string) (*modules.Resolver, func(), error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving project root: %w", err)
	}
	fetcher, err := repo.NewGitFetcher(config.LoadTokens(root))
	if err != nil {
		return nil, nil, err
	}
	resolver, err := modules.NewResolver(root, fetcher, security)
	if err != nil {
		fetcher.Cleanup()
		return nil, nil, err
	}
	return resolver, func() { fetcher.Cleanup() }, nil
}

func newModulesInstallCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "install <reference>",
		Short: "Install a module from a repository reference",
		Long: `Install a module from a reference like
github:owner/repo/path/to/module@revision.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, cleanup, err := openResolver("")
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := resolver.Install(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			fmt.Printf("installed %s@%s -> %s\n", rec.Source+"/"+rec.Path, rec.Revision, rec.InstalledPath)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "reinstall even when already present")
	return cmd
}

func newModulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, cleanup, err := openResolver("")
			if err != nil {
				return err
			}
			defer cleanup()

			names := resolver.List()
			if len(names) == 0 {
				fmt.Println("no modules installed")
				return nil
			}
			for _, name := range names {
				rec, err := resolver.Info(name)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s/%s@%s\n", name, rec.Source, rec.Path, rec.Revision)
			}
			return nil
		},
	}
}

func newModulesInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show details of an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, cleanup, err := openResolver("")
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := resolver.Info(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("name:      %s\n", args[0])
			fmt.Printf("source:    %s\n", rec.Source)
			fmt.Printf("path:      %s\n", rec.Path)
			fmt.Printf("revision:  %s\n", rec.Revision)
			fmt.Printf("installed: %s\n", rec.InstalledPath)
			if entry, ok := resolver.Lock().GetEntry(args[0]); ok {
				fmt.Printf("integrity: %s\n", entry.Integrity)
			}
			return nil
		},
	}
}

func newModulesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an installed module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, cleanup, err := openResolver("")
			if err != nil {
				return err
			}
			defer cleanup()

			if err := resolver.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
}

func newModulesUpdateCmd() *cobra.Command {
	var revision string

	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update an installed module and re-lock it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, cleanup, err := openResolver("")
			if err != nil {
				return err
			}
			defer cleanup()

			rec, err := resolver.Update(cmd.Context(), args[0], revision)
			if err != nil {
				return err
			}
			fmt.Printf("updated %s to %s\n", args[0], rec.Revision)
			return nil
		},
	}
	cmd.Flags().StringVarP(&revision, "revision", "r", "", "revision to update to (defaults to the pinned one)")
	return cmd
}
