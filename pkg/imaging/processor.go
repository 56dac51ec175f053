// Package imaging detects image formats, transcodes between them and writes
// the result to its final path atomically.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/webp" // register webp decoding for image.Decode

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

// jpegQuality and webpQuality are the lossy encoder settings.
const (
	jpegQuality = 90
	webpQuality = 90
)

// Format is a sniffed source image format.
type Format int

const (
	FormatUnknown Format = iota
	FormatJpeg
	FormatPng
	FormatWebp
)

func (f Format) String() string {
	switch f {
	case FormatJpeg:
		return "jpeg"
	case FormatPng:
		return "png"
	case FormatWebp:
		return "webp"
	default:
		return "unknown"
	}
}

// Extension returns the filename extension used for the format.
func (f Format) Extension() string {
	switch f {
	case FormatJpeg:
		return "jpg"
	case FormatPng:
		return "png"
	case FormatWebp:
		return "webp"
	default:
		return ""
	}
}

// DecodeError marks bytes that could not be decoded as an image; it is a
// permanent per-image failure.
type DecodeError struct {
	Reason error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode image: %v", e.Reason) }
func (e *DecodeError) Unwrap() error { return e.Reason }

// EncodeError marks a failed re-encode; also permanent.
type EncodeError struct {
	Format data.DownloadFormat
	Reason error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode image as %s: %v", e.Format, e.Reason)
}
func (e *EncodeError) Unwrap() error { return e.Reason }

// Sniff detects the source format from magic bytes.
func Sniff(raw []byte) Format {
	switch {
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xD8:
		return FormatJpeg
	case len(raw) >= 4 && bytes.Equal(raw[:4], []byte{0x89, 0x50, 0x4E, 0x47}):
		return FormatPng
	case len(raw) >= 12 && bytes.Equal(raw[:4], []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WEBP")):
		return FormatWebp
	default:
		return FormatUnknown
	}
}

// matches reports whether the sniffed format already satisfies the target.
func matches(src Format, target data.DownloadFormat) bool {
	switch target {
	case data.FormatJpeg:
		return src == FormatJpeg
	case data.FormatPng:
		return src == FormatPng
	case data.FormatWebp:
		return src == FormatWebp
	default:
		return false
	}
}

// Convert returns raw re-encoded into the target format, plus the extension
// the file should carry. Bytes pass through untouched when the source
// already matches the target or the target is Original.
func Convert(raw []byte, target data.DownloadFormat) ([]byte, string, error) {
	src := Sniff(raw)

	if target == data.FormatOriginal {
		ext := src.Extension()
		if ext == "" {
			return nil, "", &DecodeError{Reason: fmt.Errorf("unrecognized source format")}
		}
		return raw, ext, nil
	}
	if matches(src, target) {
		return raw, target.Extension(), nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", &DecodeError{Reason: err}
	}

	var buf bytes.Buffer
	switch target {
	case data.FormatJpeg:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case data.FormatPng:
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		err = encoder.Encode(&buf, img)
	case data.FormatWebp:
		err = webp.Encode(&buf, img, &webp.Options{Quality: webpQuality})
	default:
		err = fmt.Errorf("unsupported target format %q", target)
	}
	if err != nil {
		return nil, "", &EncodeError{Format: target, Reason: err}
	}
	return buf.Bytes(), target.Extension(), nil
}

// WriteFile writes raw to path through a temp file in the same directory
// followed by an atomic rename, so readers never observe a partial image.
func WriteFile(path string, raw []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".img-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp image in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp image %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp image %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp image to %q: %w", path, err)
	}
	return nil
}
