package integrations

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/signintech/gopdf"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
	"github.com/lanyeeee/picacomic-downloader/pkg/imaging"
)

// Pdf writes one .pdf next to each downloaded chapter directory. Every image
// becomes one page sized to its pixel dimensions at 72 dpi. JPEG and PNG are
// embedded as-is; anything else is transcoded to JPEG first.
func (e *Exporter) Pdf(comic *data.Comic) error {
	return e.run(comic, "pdf", e.pdfChapter)
}

func (e *Exporter) pdfChapter(chapter data.ChapterInfo) error {
	_, paths, err := e.orderedImagePaths(chapter)
	if err != nil {
		return err
	}

	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{Unit: gopdf.UnitPT, PageSize: *gopdf.PageSizeA4})

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read image %q: %w", path, err)
		}

		// gopdf embeds JPEG and PNG streams natively; everything else
		// goes through a JPEG transcode.
		switch imaging.Sniff(raw) {
		case imaging.FormatJpeg, imaging.FormatPng:
		default:
			raw, _, err = imaging.Convert(raw, data.FormatJpeg)
			if err != nil {
				return fmt.Errorf("transcode %q for pdf: %w", path, err)
			}
		}

		cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("read dimensions of %q: %w", path, err)
		}
		rect := &gopdf.Rect{W: float64(cfg.Width), H: float64(cfg.Height)}

		pdf.AddPageWithOption(gopdf.PageOption{PageSize: rect})
		holder, err := gopdf.ImageHolderByBytes(raw)
		if err != nil {
			return fmt.Errorf("prepare %q for pdf: %w", path, err)
		}
		if err := pdf.ImageByHolder(holder, 0, 0, rect); err != nil {
			return fmt.Errorf("place %q in pdf: %w", path, err)
		}
	}

	outPath := chapter.ChapterDownloadDir + ".pdf"
	if err := pdf.WritePdf(outPath); err != nil {
		return fmt.Errorf("write %q: %w", outPath, err)
	}
	return nil
}
