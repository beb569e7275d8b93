package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-health/internal/config"
)

var cfg *config.Config

// modeAnnotation names the config validation mode of a command.
const modeAnnotation = "mode"

var rootCmd = &cobra.Command{
	Use:   "dealhealth",
	Short: "Deal health scoring and risk classification",
	Long:  "Classifies open deals by risk, scores focus priority, tracks stage movement and quarterly pace from daily pipeline snapshots.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if mode, ok := cmd.Annotations[modeAnnotation]; ok {
			if err := cfg.Validate(mode); err != nil {
				return err
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func mode(m string) map[string]string {
	return map[string]string{modeAnnotation: m}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
