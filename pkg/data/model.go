package data

import "fmt"

// Comic is the full comic document as served by the upstream API, enriched
// with download bookkeeping. It is the payload persisted to the comic
// metadata sidecar.
type Comic struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Author        string        `json:"author"`
	PagesCount    int64         `json:"pagesCount"`
	ChapterInfos  []ChapterInfo `json:"chapterInfos"`
	ChapterCount  int64         `json:"chapterCount"`
	Finished      bool          `json:"finished"`
	Categories    []string      `json:"categories"`
	Thumb         ImageRef      `json:"thumb"`
	LikesCount    int64         `json:"likesCount"`
	Creator       Creator       `json:"creator"`
	Description   string        `json:"description"`
	ChineseTeam   string        `json:"chineseTeam"`
	Tags          []string      `json:"tags"`
	UpdatedAt     string        `json:"updated_at"`
	CreatedAt     string        `json:"created_at"`
	AllowDownload bool          `json:"allowDownload"`
	ViewsCount    int64         `json:"viewsCount"`
	IsLiked       bool          `json:"isLiked"`
	CommentsCount int64         `json:"commentsCount"`

	IsDownloaded     bool   `json:"isDownloaded,omitempty"`
	ComicDownloadDir string `json:"comicDownloadDir,omitempty"`
}

// ChapterInfo is one downloadable unit inside a comic. Order values are
// dense and 1-based within their comic.
type ChapterInfo struct {
	ChapterID    string `json:"chapterId"`
	ChapterTitle string `json:"chapterTitle"`
	Order        int64  `json:"order"`

	IsDownloaded       bool   `json:"isDownloaded,omitempty"`
	ChapterDownloadDir string `json:"chapterDownloadDir,omitempty"`
}

// ImageRef locates one image on the upstream file servers. Immutable; both
// display and download URLs are derived from it.
type ImageRef struct {
	OriginalName string `json:"originalName"`
	Path         string `json:"path"`
	FileServer   string `json:"fileServer"`
}

// URL returns the download URL for the image.
func (r ImageRef) URL() string {
	return fmt.Sprintf("%s/static/%s", r.FileServer, r.Path)
}

// Creator is the uploader profile embedded in a comic document.
type Creator struct {
	ID         string   `json:"id"`
	Gender     string   `json:"gender"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Verified   bool     `json:"verified"`
	Exp        int64    `json:"exp"`
	Level      int64    `json:"level"`
	Characters []string `json:"characters"`
	Avatar     ImageRef `json:"avatar"`
	Slogan     string   `json:"slogan"`
	Role       string   `json:"role"`
	Character  string   `json:"character"`
}

// ChapterOf returns the chapter with the given id.
func (c *Comic) ChapterOf(chapterID string) (ChapterInfo, bool) {
	for _, chapter := range c.ChapterInfos {
		if chapter.ChapterID == chapterID {
			return chapter, true
		}
	}
	return ChapterInfo{}, false
}

// RefreshIsDownloaded folds chapter completeness into the comic-level flag.
// A comic with no chapters is never considered downloaded.
func (c *Comic) RefreshIsDownloaded() {
	if len(c.ChapterInfos) == 0 {
		c.IsDownloaded = false
		return
	}
	for _, chapter := range c.ChapterInfos {
		if !chapter.IsDownloaded {
			c.IsDownloaded = false
			return
		}
	}
	c.IsDownloaded = true
}

// ComicInSearch is one search hit. It carries less detail than a full Comic
// and is synced against the downloaded index before being handed to the UI.
type ComicInSearch struct {
	ID           string   `json:"id"`
	Author       string   `json:"author"`
	Categories   []string `json:"categories"`
	ChineseTeam  string   `json:"chineseTeam"`
	CreatedAt    string   `json:"created_at"`
	Description  string   `json:"description"`
	Finished     bool     `json:"finished"`
	LikesCount   int64    `json:"likesCount"`
	Tags         []string `json:"tags"`
	Thumb        ImageRef `json:"thumb"`
	Title        string   `json:"title"`
	TotalLikes   int64    `json:"totalLikes"`
	TotalViews   int64    `json:"totalViews"`
	UpdatedAt    string   `json:"updated_at"`
	IsDownloaded bool     `json:"isDownloaded"`
}

// ComicInFavorite is one favorites-list entry.
type ComicInFavorite struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	PagesCount   int64    `json:"pagesCount"`
	ChapterCount int64    `json:"chapterCount"`
	Finished     bool     `json:"finished"`
	Categories   []string `json:"categories"`
	Thumb        ImageRef `json:"thumb"`
	LikesCount   int64    `json:"likesCount"`
	IsDownloaded bool     `json:"isDownloaded"`
}

// ComicInRank is one leaderboard entry.
type ComicInRank struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	PagesCount   int64    `json:"pagesCount"`
	ChapterCount int64    `json:"chapterCount"`
	Finished     bool     `json:"finished"`
	Categories   []string `json:"categories"`
	Thumb        ImageRef `json:"thumb"`
	LikesCount   int64    `json:"likesCount"`
	ViewsCount   int64    `json:"viewsCount"`
	LeaderboardCount int64 `json:"leaderboardCount"`
	IsDownloaded bool     `json:"isDownloaded"`
}

// Pagination wraps one page of upstream results.
type Pagination[T any] struct {
	Total int64 `json:"total"`
	Limit int64 `json:"limit"`
	Page  int64 `json:"page"`
	Pages int64 `json:"pages"`
	Docs  []T   `json:"docs"`
}

// UserProfile is the logged-in user's profile.
type UserProfile struct {
	ID         string   `json:"id"`
	Gender     string   `json:"gender"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Verified   bool     `json:"verified"`
	Exp        int64    `json:"exp"`
	Level      int64    `json:"level"`
	Characters []string `json:"characters"`
	Avatar     ImageRef `json:"avatar"`
	Birthday   string   `json:"birthday"`
	Email      string   `json:"email"`
	CreatedAt  string   `json:"created_at"`
	IsPunched  bool     `json:"isPunched"`
}
