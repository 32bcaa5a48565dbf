package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/demohub/internal/apps"
	"github.com/Brownie44l1/demohub/internal/config"
	"github.com/Brownie44l1/demohub/internal/hub"
	"github.com/Brownie44l1/demohub/internal/logging"
	"github.com/Brownie44l1/demohub/internal/model"
)

func main() {
	godotenv.Load()

	var (
		configPath string
		appID      string
		text       string
		asJSON     bool
		list       bool
	)

	rootCmd := &cobra.Command{
		Use:   "predict [image]",
		Short: "Run one demo app locally on an image or a line of text",
		Example: `  predict --app catsvsdogs cat.jpg
  predict --app sentiment --text "what a great movie"
  predict --list`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Results go to stdout; keep the log quiet unless configured otherwise.
			if cfg.Log.Level == "info" {
				cfg.Log.Level = "warn"
			}
			cfg.Log.Format = "console"
			cfg.Cache.Size = 0

			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync()

			model.SetLibraryPath(cfg.ONNX.LibraryPath)
			hubClient := hub.NewClient(cfg.Hub.BaseURL, cfg.Hub.CacheDir, hub.WithToken(cfg.Hub.Token), hub.WithLogger(log))

			registry, err := apps.NewRegistry(cfg, apps.SourceLoaders(cfg, hubClient, model.OpenONNX, log), apps.WithLogger(log))
			if err != nil {
				return err
			}
			defer registry.Close()

			out := cmd.OutOrStdout()
			if list {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tKIND")
				for _, info := range registry.List() {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, info.Title, info.Kind)
				}
				return tw.Flush()
			}

			if appID == "" {
				return fmt.Errorf("--app is required (use --list to see the choices)")
			}

			var in apps.Input
			switch {
			case text != "":
				in.Text = text
			case len(args) == 1:
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("failed to read image: %w", err)
				}
				in.Filename = filepath.Base(args[0])
				in.Data = data
			default:
				return fmt.Errorf("provide an image path or --text")
			}

			result, err := registry.Predict(cmd.Context(), appID, in)
			if err != nil {
				log.Debug("Prediction failed", zap.Error(err))
				return err
			}

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}

			fmt.Fprintf(out, "%s  %s\n", result.Emoji, result.Label)
			fmt.Fprintf(out, "Confidence: %.2f%% (%s)\n", result.Confidence*100, result.Tier)
			for _, c := range result.Classes {
				fmt.Fprintf(out, "  %-12s %6.2f%%  %s\n", c.Name, c.Probability*100, c.Level)
			}
			fmt.Fprintln(out, result.Message)
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("DEMOHUB_CONFIG"), "path to config.yaml")
	rootCmd.Flags().StringVarP(&appID, "app", "a", "", "app id to run")
	rootCmd.Flags().StringVarP(&text, "text", "t", "", "text input for text apps")
	rootCmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	rootCmd.Flags().BoolVar(&list, "list", false, "list configured apps and exit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
