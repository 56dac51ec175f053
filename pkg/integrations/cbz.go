package integrations

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

// Cbz writes one .cbz next to each downloaded chapter directory. Entries are
// stored uncompressed (the images already are) in sidecar order, keeping
// their on-disk filenames.
func (e *Exporter) Cbz(comic *data.Comic) error {
	return e.run(comic, "cbz", e.cbzChapter)
}

func (e *Exporter) cbzChapter(chapter data.ChapterInfo) error {
	_, paths, err := e.orderedImagePaths(chapter)
	if err != nil {
		return err
	}

	outPath := chapter.ChapterDownloadDir + ".cbz"
	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %q: %w", outPath, err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriter(file)
	zipWriter := zip.NewWriter(bufWriter)

	for _, path := range paths {
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open image %q: %w", path, err)
		}

		entry, err := zipWriter.CreateHeader(&zip.FileHeader{
			Name:   filepath.Base(path),
			Method: zip.Store,
		})
		if err != nil {
			src.Close()
			return fmt.Errorf("create zip entry for %q: %w", path, err)
		}
		if _, err := io.Copy(entry, src); err != nil {
			src.Close()
			return fmt.Errorf("write zip entry for %q: %w", path, err)
		}
		src.Close()
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("finalize %q: %w", outPath, err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("flush %q: %w", outPath, err)
	}
	return nil
}
