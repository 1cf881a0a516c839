package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"podscribe/internal/config"
	"podscribe/internal/deps"
	"podscribe/internal/feeds"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set paths.archive_dir and place your subscriptions at paths.opml_path before running podscribe monitor.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			if ctx.configPath != "" {
				fmt.Fprintf(out, "# loaded from %s\n", ctx.configPath)
			} else {
				fmt.Fprintln(out, "# no config file found; defaults in effect")
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, archive directories, and external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			if ctx.configPath != "" {
				fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			} else {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}

			statuses := []deps.Status{
				deps.CheckWritableDir("Archive", cfg.Paths.ArchiveDir),
				deps.CheckWritableDir("Episodes", cfg.Paths.EpisodesDir),
				deps.CheckWritableDir("Transcripts", cfg.Paths.TranscriptsDir),
				deps.CheckWritableDir("Metadata", cfg.Paths.MetadataDir),
			}
			statuses = append(statuses, deps.CheckBinaries(deps.Requirements(cfg))...)
			lines := renderSectionHeader("Environment", colorize)
			lines = append(lines, dependencyLines(statuses, colorize)...)
			lines = append(lines, subscriptionLine(cfg.Paths.OPMLPath, colorize))
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}

			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func subscriptionLine(opmlPath string, colorize bool) string {
	if _, err := os.Stat(opmlPath); errors.Is(err, os.ErrNotExist) {
		return renderStatusLine("Subscriptions", statusWarn, "no OPML file at "+opmlPath, colorize)
	}
	subs, err := feeds.LoadOPML(opmlPath)
	if err != nil {
		return renderStatusLine("Subscriptions", statusError, err.Error(), colorize)
	}
	return renderStatusLine("Subscriptions", statusOK,
		fmt.Sprintf("%d feeds in %s", len(subs), filepath.Base(opmlPath)), colorize)
}
