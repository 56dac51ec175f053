package data

import "fmt"

// SearchSort selects the ordering of search results.
type SearchSort string

const (
	SortDefault    SearchSort = "Default"
	SortTimeNewest SearchSort = "TimeNewest"
	SortTimeOldest SearchSort = "TimeOldest"
	SortLikeMost   SearchSort = "LikeMost"
	SortViewMost   SearchSort = "ViewMost"
)

// WireValue returns the query-string value the upstream expects.
func (s SearchSort) WireValue() string {
	switch s {
	case SortTimeNewest:
		return "dd"
	case SortTimeOldest:
		return "da"
	case SortLikeMost:
		return "ld"
	case SortViewMost:
		return "vd"
	default:
		return "ua"
	}
}

// FavoriteSort selects the ordering of the favorites list.
type FavoriteSort string

const (
	FavoriteTimeNewest FavoriteSort = "TimeNewest"
	FavoriteTimeOldest FavoriteSort = "TimeOldest"
)

func (s FavoriteSort) WireValue() string {
	if s == FavoriteTimeOldest {
		return "da"
	}
	return "dd"
}

// RankType selects the leaderboard window.
type RankType string

const (
	RankDay   RankType = "Day"
	RankWeek  RankType = "Week"
	RankMonth RankType = "Month"
)

func (r RankType) WireValue() string {
	switch r {
	case RankWeek:
		return "D7"
	case RankMonth:
		return "D30"
	default:
		return "H24"
	}
}

// DownloadFormat is the on-disk image format images are stored in.
type DownloadFormat string

const (
	FormatJpeg     DownloadFormat = "Jpeg"
	FormatPng      DownloadFormat = "Png"
	FormatWebp     DownloadFormat = "Webp"
	FormatOriginal DownloadFormat = "Original"
)

// Extension returns the filename extension for the format, or "" for
// Original, whose extension mirrors whatever the upstream served.
func (f DownloadFormat) Extension() string {
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

// Valid reports whether f is one of the recognized formats.
func (f DownloadFormat) Valid() bool {
	switch f {
	case FormatJpeg, FormatPng, FormatWebp, FormatOriginal:
		return true
	}
	return false
}

// ParseDownloadFormat validates a config value.
func ParseDownloadFormat(s string) (DownloadFormat, error) {
	f := DownloadFormat(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown download format %q", s)
	}
	return f, nil
}
