// Copyright 2026 The Diffusers Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Command diffusers provides artifact tooling for the diffusion pipeline:
// downloading model files from a hub and inspecting SafeTensors checkpoints.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tuanh123789/diffusers/internal/hub"
	"github.com/tuanh123789/diffusers/internal/loader"
)

var version = "dev"

func newDownloadCmd() *cobra.Command {
	var endpoint, cacheDir string

	cmd := &cobra.Command{
		Use:   "download REPO FILE",
		Short: "Download a model artifact from the hub",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []hub.ClientOption
			if endpoint != "" {
				opts = append(opts, hub.WithBaseURL(endpoint))
			}
			if cacheDir != "" {
				opts = append(opts, hub.WithCacheDir(cacheDir))
			}
			client, err := hub.NewClient(opts...)
			if err != nil {
				return err
			}
			path, err := client.Download(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Hub endpoint URL")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Artifact cache directory")

	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "List the tensors in a SafeTensors checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := loader.NewSafeTensorsReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			names := r.TensorNames()
			sort.Strings(names)
			for _, name := range names {
				info, err := r.TensorInfo(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-60s %-5s %v\n", name, info.DType, info.Shape)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "diffusers version %s\n", version)
		},
	}
}

func newCLI() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "diffusers",
		Short:         "Grounded diffusion pipeline tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newDownloadCmd(),
		newInspectCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func main() {
	if err := newCLI().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
