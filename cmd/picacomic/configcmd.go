package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc := controller.GetConfig()
		changed := false

		if cmd.Flags().Changed("download-dir") {
			doc.DownloadDir, _ = cmd.Flags().GetString("download-dir")
			changed = true
		}
		if cmd.Flags().Changed("format") {
			raw, _ := cmd.Flags().GetString("format")
			format, err := data.ParseDownloadFormat(raw)
			if err != nil {
				return err
			}
			doc.DownloadFormat = format
			changed = true
		}
		if cmd.Flags().Changed("comic-dir-fmt") {
			doc.ComicDirNameFmt, _ = cmd.Flags().GetString("comic-dir-fmt")
			changed = true
		}
		if cmd.Flags().Changed("chapter-dir-fmt") {
			doc.ChapterDirNameFmt, _ = cmd.Flags().GetString("chapter-dir-fmt")
			changed = true
		}
		if cmd.Flags().Changed("chapter-concurrency") {
			doc.ChapterConcurrency, _ = cmd.Flags().GetInt("chapter-concurrency")
			changed = true
		}
		if cmd.Flags().Changed("img-concurrency") {
			doc.ImgConcurrency, _ = cmd.Flags().GetInt("img-concurrency")
			changed = true
		}
		if cmd.Flags().Changed("chapter-interval") {
			doc.ChapterDownloadIntervalSec, _ = cmd.Flags().GetInt("chapter-interval")
			changed = true
		}
		if cmd.Flags().Changed("img-interval") {
			doc.ImgDownloadIntervalSec, _ = cmd.Flags().GetInt("img-interval")
			changed = true
		}
		if cmd.Flags().Changed("favorites-interval") {
			doc.DownloadAllFavoritesIntervalSec, _ = cmd.Flags().GetInt("favorites-interval")
			changed = true
		}
		if cmd.Flags().Changed("file-logger") {
			doc.EnableFileLogger, _ = cmd.Flags().GetBool("file-logger")
			changed = true
		}

		if changed {
			if err := controller.SaveConfig(doc); err != nil {
				return err
			}
			doc = controller.GetConfig()
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	},
}

func init() {
	configCmd.Flags().String("download-dir", "", "download root directory")
	configCmd.Flags().String("format", "", "stored image format: Jpeg, Png, Webp, Original")
	configCmd.Flags().String("comic-dir-fmt", "", "comic directory name template")
	configCmd.Flags().String("chapter-dir-fmt", "", "chapter directory name template")
	configCmd.Flags().Int("chapter-concurrency", 0, "parallel chapters (needs restart)")
	configCmd.Flags().Int("img-concurrency", 0, "parallel images (needs restart)")
	configCmd.Flags().Int("chapter-interval", 0, "seconds to sleep between chapters")
	configCmd.Flags().Int("img-interval", 0, "seconds to sleep between images")
	configCmd.Flags().Int("favorites-interval", 0, "seconds to sleep between favorite comics")
	configCmd.Flags().Bool("file-logger", false, "write structured logs to the logs dir")
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the size of the logs directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := controller.GetLogsDirSize()
		if err != nil {
			return err
		}
		fmt.Printf("%.2f KB\n", float64(size)/1024)
		return nil
	},
}
