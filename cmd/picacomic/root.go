// Package cmd is the thin CLI shell over the backend core. It only issues
// commands and renders events; every piece of download logic lives in
// pkg/services.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanyeeee/picacomic-downloader/pkg/config"
	"github.com/lanyeeee/picacomic-downloader/pkg/logger"
	"github.com/lanyeeee/picacomic-downloader/pkg/services"
)

var (
	cfgStore   *config.Store
	controller *services.Controller
)

var rootCmd = &cobra.Command{
	Use:           "picacomic",
	Short:         "Download comics from picacomic to local archives",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.DefaultPath()
		if err != nil {
			return err
		}
		if custom, _ := cmd.Flags().GetString("config"); custom != "" {
			path = custom
		}

		cfgStore, err = config.NewStore(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logger.Init(cfgStore.Get().EnableFileLogger); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		controller, err = services.NewController(cfgStore)
		if err != nil {
			return fmt.Errorf("init backend: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if controller != nil {
			controller.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config.json (defaults to the per-user app data dir)")

	rootCmd.AddCommand(greetCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(comicCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(favoritesCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(downloadedCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(logsCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var greetCmd = &cobra.Command{
	Use:   "greet [name]",
	Short: "Check that the backend is alive",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := "there"
		if len(args) == 1 {
			name = args[0]
		}
		fmt.Println(controller.Greet(name))
	},
}
