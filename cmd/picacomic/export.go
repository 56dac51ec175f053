package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

var exportCmd = &cobra.Command{
	Use:   "export <cbz|pdf|epub> <comic-id>",
	Short: "Export a downloaded comic to CBZ, PDF or EPUB",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, comicID := args[0], args[1]

		comic := findDownloadedComic(comicID)
		if comic == nil {
			return fmt.Errorf("comic %q not found in the download dir", comicID)
		}

		var err error
		switch kind {
		case "cbz":
			err = controller.ExportCbz(comic)
		case "pdf":
			err = controller.ExportPdf(comic)
		case "epub":
			err = controller.ExportEpub(comic)
		default:
			return fmt.Errorf("unknown export format %q, want cbz, pdf or epub", kind)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Exported %s to %s\n", kind, comic.ComicDownloadDir)
		return nil
	},
}

func findDownloadedComic(comicID string) *data.Comic {
	for _, comic := range controller.GetDownloadedComics() {
		if comic.ID == comicID {
			return comic
		}
	}
	return nil
}
