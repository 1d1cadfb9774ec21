package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatmate/internal/common/fsutil"
	"chatmate/internal/model"
	"chatmate/internal/registry"
	"chatmate/pkg/types"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List GGUF files in the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			list, err := registry.LoadDir(cfg.ModelsDir)
			if err != nil {
				return fmt.Errorf("models dir %s: %w", cfg.ModelsDir, err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				resp := types.ModelsResponse{Models: make([]types.ModelEntry, 0, len(list))}
				for _, m := range list {
					resp.Models = append(resp.Models, types.ModelEntry{ID: m.ID, Name: m.Name, Path: m.Path, SizeBytes: m.SizeBytes})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if len(list) == 0 {
				fmt.Fprintln(out, infoStyle.Render("no *.gguf files in "+cfg.ModelsDir))
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tPATH")
			for _, m := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, fsutil.HumanBytes(m.SizeBytes), m.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect [name|path]",
		Short: "Print the metadata of a model file without loading it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Model, cfg.ModelPath = args[0], ""
				if p, err := fsutil.ExpandHome(args[0]); err == nil && fsutil.IsRegularFile(p) {
					cfg.ModelPath = p
				}
			}
			path, err := resolveModelPath(cfg)
			if err != nil {
				return err
			}
			info, err := model.Inspect(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "name\t%s\n", info.Name)
			fmt.Fprintf(tw, "path\t%s\n", info.Path)
			fmt.Fprintf(tw, "architecture\t%s\n", info.Architecture)
			fmt.Fprintf(tw, "context\t%d (trained %d)\n", info.ContextSize, info.TrainContextSize)
			fmt.Fprintf(tw, "vocab\t%s\n", info.Vocab)
			fmt.Fprintf(tw, "size\t%s\n", fsutil.HumanBytes(info.FileSize))
			fmt.Fprintf(tw, "gguf\tv%d\n", info.GGUFVersion)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
