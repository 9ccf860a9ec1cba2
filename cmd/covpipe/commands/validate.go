// Copyright 2026 The Covpipe Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/covpipe/covpipe/cmd/covpipe/cli"
)

func validateCommand() *cli.Command {
	var configPath string

	return &cli.Command{
		Name:    "validate",
		Summary: "Check a configuration file without running anything",
		Description: `Load and validate a configuration file. Exits 0 when the
configuration would be accepted by 'covpipe run', 1 otherwise. No
repository access, downloads, or builds happen.`,
		Usage: "covpipe validate [config-path]",
		Examples: []cli.Example{
			{Command: "covpipe validate covpipe.yaml"},
			{Command: "COVPIPE_CONFIG=covpipe.jsonc covpipe validate"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("validate", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "config file path (default: $COVPIPE_CONFIG)")
			return flagSet
		},
		Run: func(args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			} else if len(args) > 1 {
				return fmt.Errorf("validate takes at most one config path, got %v", args)
			}

			configuration, err := loadConfig(path)
			if err != nil {
				return err
			}

			fmt.Printf("configuration ok\n")
			fmt.Printf("  repository:   %s\n", configuration.Repository.URL)
			fmt.Printf("  toolchain:    %s\n", configuration.Toolchain.Channel)
			fmt.Printf("  tool:         %s %s\n", configuration.Tool.Name, configuration.Tool.Version)
			fmt.Printf("  push:         %s\n", describeFilters(configuration.Triggers.Push))
			fmt.Printf("  pull_request: %s\n", describeFilters(configuration.Triggers.PullRequest))
			if configuration.Publish.Enabled {
				fmt.Printf("  publish:      %s\n", configuration.Publish.Endpoint)
			} else {
				fmt.Printf("  publish:      disabled\n")
			}
			return nil
		},
	}
}

func describeFilters(patterns []string) string {
	if len(patterns) == 0 {
		return "dormant (no branch filters)"
	}
	return fmt.Sprintf("%v", patterns)
}
