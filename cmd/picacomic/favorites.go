package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

var favoritesCmd = &cobra.Command{
	Use:   "favorites",
	Short: "List favorites, or download all of them with --all",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all {
			watcher := newTaskWatcher(controller)
			defer watcher.close()
			if err := controller.DownloadAllFavorites(cmd.Context()); err != nil {
				return err
			}
			watcher.wait(cmd.Context())
			return nil
		}

		sortFlag, _ := cmd.Flags().GetString("sort")
		page, _ := cmd.Flags().GetInt64("page")

		result, err := controller.GetFavorite(cmd.Context(), data.FavoriteSort(sortFlag), page)
		if err != nil {
			return err
		}

		fmt.Printf("Page %d/%d (%d total)\n", result.Page, result.Pages, result.Total)
		for _, comic := range result.Docs {
			marker := " "
			if comic.IsDownloaded {
				marker = "*"
			}
			fmt.Printf("%s %-24s  %s", marker, comic.ID, comic.Title)
			if comic.Author != "" {
				fmt.Printf("  [%s]", comic.Author)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	favoritesCmd.Flags().String("sort", string(data.FavoriteTimeNewest), "sort order: TimeNewest, TimeOldest")
	favoritesCmd.Flags().Int64("page", 1, "result page")
	favoritesCmd.Flags().Bool("all", false, "download every favorite comic")
}

var downloadedCmd = &cobra.Command{
	Use:   "downloaded",
	Short: "List the comics found in the download dir",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		comics := controller.GetDownloadedComics()
		if len(comics) == 0 {
			fmt.Println("No downloaded comics.")
			return nil
		}
		for _, comic := range comics {
			complete := "partial"
			if comic.IsDownloaded {
				complete = "complete"
			}
			downloadedChapters := 0
			for _, chapter := range comic.ChapterInfos {
				if chapter.IsDownloaded {
					downloadedChapters++
				}
			}
			fmt.Printf("%-24s  %s (%d/%d chapters, %s)\n",
				comic.ID, comic.Title, downloadedChapters, len(comic.ChapterInfos), complete)
		}
		return nil
	},
}
