package data

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DirFmtParams carries the field values substituted into the directory name
// templates.
type DirFmtParams struct {
	ComicID      string
	ChapterID    string
	ComicTitle   string
	ChapterTitle string
	Author       string
	Order        int64
	// OrderWidth is the digit count used to zero-pad {order} so that the
	// chapter directories of one comic sort lexicographically.
	OrderWidth int
}

// FilenameFilter maps characters that are invalid in file names to
// full-width or quote look-alikes and trims trailing dots and spaces.
func FilenameFilter(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '\\', '/':
			b.WriteRune(' ')
		case ':':
			b.WriteRune('：')
		case '*':
			b.WriteRune('⭐')
		case '?':
			b.WriteRune('？')
		case '"':
			b.WriteRune('\'')
		case '<':
			b.WriteRune('《')
		case '>':
			b.WriteRune('》')
		case '|':
			b.WriteRune('丨')
		default:
			b.WriteRune(c)
		}
	}
	return strings.TrimRight(strings.TrimSpace(b.String()), ". ")
}

// FormatDirName renders one directory name from a template like
// "[{author}] {comic_title}". The result is a single sanitised path segment.
func FormatDirName(format string, params DirFmtParams) (string, error) {
	if strings.ContainsRune(format, '/') || strings.ContainsRune(format, '\\') {
		return "", fmt.Errorf("dir name format %q must produce a single path segment", format)
	}

	orderWidth := params.OrderWidth
	if orderWidth < 1 {
		orderWidth = 1
	}
	replacer := strings.NewReplacer(
		"{comic_id}", params.ComicID,
		"{chapter_id}", params.ChapterID,
		"{comic_title}", params.ComicTitle,
		"{chapter_title}", params.ChapterTitle,
		"{author}", params.Author,
		"{order}", fmt.Sprintf("%0*d", orderWidth, params.Order),
	)
	name := FilenameFilter(replacer.Replace(format))
	if name == "" {
		return "", fmt.Errorf("dir name format %q produced an empty segment", format)
	}
	if rest := unresolvedToken(name); rest != "" {
		return "", fmt.Errorf("dir name format %q has unknown field %s", format, rest)
	}
	return name, nil
}

func unresolvedToken(name string) string {
	start := strings.IndexRune(name, '{')
	if start < 0 {
		return ""
	}
	end := strings.IndexRune(name[start:], '}')
	if end < 0 {
		return ""
	}
	return name[start : start+end+1]
}

// OrderWidth returns the digit count needed to render the largest order of
// the comic's chapters.
func OrderWidth(chapterCount int) int {
	width := 1
	for chapterCount >= 10 {
		chapterCount /= 10
		width++
	}
	return width
}

// ResolveDownloadDirs fills ComicDownloadDir and every chapter's
// ChapterDownloadDir from the configured templates. downloadDir is the
// absolute download root.
func (c *Comic) ResolveDownloadDirs(downloadDir, comicDirFmt, chapterDirFmt string) error {
	if len(c.ChapterInfos) == 0 {
		return fmt.Errorf("comic %q has no chapters to resolve directories for", c.Title)
	}

	width := OrderWidth(len(c.ChapterInfos))
	base := DirFmtParams{
		ComicID:    c.ID,
		ComicTitle: c.Title,
		Author:     c.Author,
		OrderWidth: width,
	}

	comicDirName, err := FormatDirName(comicDirFmt, base)
	if err != nil {
		return fmt.Errorf("resolve comic dir name: %w", err)
	}
	comicDir := filepath.Join(downloadDir, comicDirName)

	for i := range c.ChapterInfos {
		chapter := &c.ChapterInfos[i]
		params := base
		params.ChapterID = chapter.ChapterID
		params.ChapterTitle = chapter.ChapterTitle
		params.Order = chapter.Order

		chapterDirName, err := FormatDirName(chapterDirFmt, params)
		if err != nil {
			return fmt.Errorf("resolve chapter dir name for %q: %w", chapter.ChapterTitle, err)
		}
		chapter.ChapterDownloadDir = filepath.Join(comicDir, chapterDirName)
	}

	c.ComicDownloadDir = comicDir
	return nil
}
