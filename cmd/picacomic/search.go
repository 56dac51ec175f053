package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Search comics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sortFlag, _ := cmd.Flags().GetString("sort")
		page, _ := cmd.Flags().GetInt("page")
		categories, _ := cmd.Flags().GetStringSlice("category")

		result, err := controller.SearchComic(cmd.Context(), args[0], data.SearchSort(sortFlag), page, categories)
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
	searchCmd.Flags().String("sort", string(data.SortDefault), "sort order: Default, TimeNewest, TimeOldest, LikeMost, ViewMost")
	searchCmd.Flags().Int("page", 1, "result page")
	searchCmd.Flags().StringSlice("category", nil, "restrict to categories (repeatable)")
}

var comicCmd = &cobra.Command{
	Use:   "comic <comic-id>",
	Short: "Show a comic and its chapters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comic, err := controller.GetComic(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s", comic.Title)
		if comic.Author != "" {
			fmt.Printf(" [%s]", comic.Author)
		}
		fmt.Printf("\n%d chapters, %d pages\n", len(comic.ChapterInfos), comic.PagesCount)
		for _, chapter := range comic.ChapterInfos {
			marker := " "
			if chapter.IsDownloaded {
				marker = "*"
			}
			fmt.Printf("%s %3d  %-24s  %s\n", marker, chapter.Order, chapter.ChapterID, chapter.ChapterTitle)
		}
		return nil
	},
}

var rankCmd = &cobra.Command{
	Use:   "rank [Day|Week|Month]",
	Short: "Show a leaderboard",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rankType := data.RankDay
		if len(args) == 1 {
			rankType = data.RankType(args[0])
		}
		comics, err := controller.GetRank(cmd.Context(), rankType)
		if err != nil {
			return err
		}
		for i, comic := range comics {
			marker := " "
			if comic.IsDownloaded {
				marker = "*"
			}
			fmt.Printf("%s %3d  %-24s  %s\n", marker, i+1, comic.ID, comic.Title)
		}
		return nil
	},
}
