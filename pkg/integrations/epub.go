package integrations

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-shiori/go-epub"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

// Epub compiles every downloaded chapter of the comic into a single EPUB in
// the comic directory, one section per chapter, pages in sidecar order.
func (e *Exporter) Epub(comic *data.Comic) error {
	if _, err := e.exportableChapters(comic); err != nil {
		return err
	}
	if comic.ComicDownloadDir == "" {
		return fmt.Errorf("comic %q has no download dir", comic.Title)
	}

	book, err := epub.NewEpub(comic.Title)
	if err != nil {
		return fmt.Errorf("create epub: %w", err)
	}
	book.SetAuthor(comic.Author)
	if comic.Description != "" {
		book.SetDescription(comic.Description)
	}

	wrapped := func(chapter data.ChapterInfo) error {
		return e.addEpubChapter(book, chapter)
	}
	if err := e.run(comic, "epub", wrapped); err != nil {
		return err
	}

	outPath := filepath.Join(comic.ComicDownloadDir, data.FilenameFilter(comic.Title)+".epub")
	if err := book.Write(outPath); err != nil {
		return fmt.Errorf("write %q: %w", outPath, err)
	}
	return nil
}

func (e *Exporter) addEpubChapter(book *epub.Epub, chapter data.ChapterInfo) error {
	_, paths, err := e.orderedImagePaths(chapter)
	if err != nil {
		return err
	}

	var html strings.Builder
	html.WriteString(fmt.Sprintf("<h1>%s</h1>\n", chapter.ChapterTitle))

	for i, path := range paths {
		// Image filenames repeat across chapters (001.jpg, ...), so the
		// internal name is prefixed with the chapter order.
		internalName := fmt.Sprintf("%d_%d%s", chapter.Order, i+1, filepath.Ext(path))
		internalPath, err := book.AddImage(path, internalName)
		if err != nil {
			return fmt.Errorf("add image %q: %w", path, err)
		}
		html.WriteString(fmt.Sprintf(
			`<div class="page"><img src="%s" alt="Page %d" style="width:100%%;height:auto;"/></div>%s`,
			internalPath, i+1, "\n",
		))
	}

	if _, err := book.AddSection(html.String(), chapter.ChapterTitle, "", ""); err != nil {
		return fmt.Errorf("add section %q: %w", chapter.ChapterTitle, err)
	}
	return nil
}
