package pica

import (
	"encoding/json"
	"fmt"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

// picaResp is the envelope every API response arrives in.
type picaResp struct {
	Code    int64           `json:"code"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Detail  string          `json:"detail"`
}

// flexInt64 tolerates the upstream's habit of serialising counters either as
// numbers or as strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(raw []byte) error {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		*f = flexInt64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("value %s is neither number nor string", raw)
	}
	var parsed int64
	if _, err := fmt.Sscanf(s, "%d", &parsed); err != nil {
		parsed = 0
	}
	*f = flexInt64(parsed)
	return nil
}

type imageRespData struct {
	OriginalName string `json:"originalName"`
	Path         string `json:"path"`
	FileServer   string `json:"fileServer"`
}

func (d imageRespData) toImageRef() data.ImageRef {
	return data.ImageRef{OriginalName: d.OriginalName, Path: d.Path, FileServer: d.FileServer}
}

type creatorRespData struct {
	ID         string        `json:"_id"`
	Gender     string        `json:"gender"`
	Name       string        `json:"name"`
	Title      string        `json:"title"`
	Verified   bool          `json:"verified"`
	Exp        int64         `json:"exp"`
	Level      int64         `json:"level"`
	Characters []string      `json:"characters"`
	Avatar     imageRespData `json:"avatar"`
	Slogan     string        `json:"slogan"`
	Role       string        `json:"role"`
	Character  string        `json:"character"`
}

type paginationRespData[T any] struct {
	Total flexInt64 `json:"total"`
	Limit flexInt64 `json:"limit"`
	Page  flexInt64 `json:"page"`
	Pages flexInt64 `json:"pages"`
	Docs  []T       `json:"docs"`
}

type loginRespData struct {
	Token string `json:"token"`
}

type userProfileRespData struct {
	User struct {
		ID         string        `json:"_id"`
		Gender     string        `json:"gender"`
		Name       string        `json:"name"`
		Title      string        `json:"title"`
		Verified   bool          `json:"verified"`
		Exp        int64         `json:"exp"`
		Level      int64         `json:"level"`
		Characters []string      `json:"characters"`
		Avatar     imageRespData `json:"avatar"`
		Birthday   string        `json:"birthday"`
		Email      string        `json:"email"`
		CreatedAt  string        `json:"created_at"`
		IsPunched  bool          `json:"isPunched"`
	} `json:"user"`
}

type comicRespData struct {
	ID            string          `json:"_id"`
	Title         string          `json:"title"`
	Author        string          `json:"author"`
	PagesCount    flexInt64       `json:"pagesCount"`
	EpsCount      flexInt64       `json:"epsCount"`
	Finished      bool            `json:"finished"`
	Categories    []string        `json:"categories"`
	Thumb         imageRespData   `json:"thumb"`
	LikesCount    flexInt64       `json:"likesCount"`
	Creator       creatorRespData `json:"_creator"`
	Description   string          `json:"description"`
	ChineseTeam   string          `json:"chineseTeam"`
	Tags          []string        `json:"tags"`
	UpdatedAt     string          `json:"updated_at"`
	CreatedAt     string          `json:"created_at"`
	AllowDownload bool            `json:"allowDownload"`
	ViewsCount    flexInt64       `json:"viewsCount"`
	IsLiked       bool            `json:"isLiked"`
	CommentsCount flexInt64       `json:"commentsCount"`
}

type getComicRespData struct {
	Comic comicRespData `json:"comic"`
}

type chapterRespData struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Order     flexInt64 `json:"order"`
	UpdatedAt string    `json:"updated_at"`
}

type getChapterRespData struct {
	Eps paginationRespData[chapterRespData] `json:"eps"`
}

type chapterImageRespData struct {
	ID    string        `json:"_id"`
	Media imageRespData `json:"media"`
}

type getChapterImageRespData struct {
	Pages paginationRespData[chapterImageRespData] `json:"pages"`
}

type comicInSearchRespData struct {
	ID          string        `json:"_id"`
	Author      string        `json:"author"`
	Categories  []string      `json:"categories"`
	ChineseTeam string        `json:"chineseTeam"`
	CreatedAt   string        `json:"created_at"`
	Description string        `json:"description"`
	Finished    bool          `json:"finished"`
	LikesCount  flexInt64     `json:"likesCount"`
	Tags        []string      `json:"tags"`
	Thumb       imageRespData `json:"thumb"`
	Title       string        `json:"title"`
	TotalLikes  flexInt64     `json:"totalLikes"`
	TotalViews  flexInt64     `json:"totalViews"`
	UpdatedAt   string        `json:"updated_at"`
}

type searchRespData struct {
	Comics paginationRespData[comicInSearchRespData] `json:"comics"`
}

type comicInFavoriteRespData struct {
	ID         string        `json:"_id"`
	Title      string        `json:"title"`
	Author     string        `json:"author"`
	PagesCount flexInt64     `json:"pagesCount"`
	EpsCount   flexInt64     `json:"epsCount"`
	Finished   bool          `json:"finished"`
	Categories []string      `json:"categories"`
	Thumb      imageRespData `json:"thumb"`
	LikesCount flexInt64     `json:"likesCount"`
}

type getFavoriteRespData struct {
	Comics paginationRespData[comicInFavoriteRespData] `json:"comics"`
}

type comicInRankRespData struct {
	ID               string        `json:"_id"`
	Title            string        `json:"title"`
	Author           string        `json:"author"`
	PagesCount       flexInt64     `json:"pagesCount"`
	EpsCount         flexInt64     `json:"epsCount"`
	Finished         bool          `json:"finished"`
	Categories       []string      `json:"categories"`
	Thumb            imageRespData `json:"thumb"`
	LikesCount       flexInt64     `json:"likesCount"`
	ViewsCount       flexInt64     `json:"viewsCount"`
	LeaderboardCount flexInt64     `json:"leaderboardCount"`
}

type getRankRespData struct {
	Comics []comicInRankRespData `json:"comics"`
}
