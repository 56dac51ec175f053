// Package pica is the client for the upstream comic-hosting API. Every
// request carries the signed headers the upstream verifies; transient
// failures are retried with exponential jitter.
package pica

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
)

const (
	maxAttempts    = 3
	connectTimeout = 30 * time.Second
	requestTimeout = 60 * time.Second
	retryBase      = time.Second

	imageReferer = "https://picacomic.com"
)

// TokenProvider returns the current auth token, or "" before login.
type TokenProvider func() string

// Options configure client construction.
type Options struct {
	Token TokenProvider
	// ProxyURL routes both API and image traffic when set; http and
	// socks5 schemes are supported.
	ProxyURL *url.URL
	// BaseURL overrides the API host, used by tests.
	BaseURL string
}

// Client is safe for concurrent use.
type Client struct {
	api     *http.Client
	img     *http.Client
	baseURL string
	token   TokenProvider
	logger  *slog.Logger
}

func NewClient(opts Options) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	if opts.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(opts.ProxyURL)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = hostURL
	}
	token := opts.Token
	if token == nil {
		token = func() string { return "" }
	}

	return &Client{
		api:     &http.Client{Transport: transport, Timeout: requestTimeout},
		img:     &http.Client{Transport: transport, Timeout: requestTimeout},
		baseURL: baseURL,
		token:   token,
		logger:  slog.Default(),
	}
}

// request performs one signed API call and decodes the envelope's data field
// into out (which may be nil for calls whose data is ignored).
func (c *Client) request(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body for %s: %w", path, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return err
			}
		}

		retryable, err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.logger.Debug("retrying upstream request", "path", path, "attempt", attempt, "error", err)
	}
	return lastErr
}

// doOnce reports whether the failure is worth retrying.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, out any) (retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("build request for %s: %w", path, err)
	}
	c.setHeaders(req, path, method)

	resp, err := c.api.Do(req)
	if err != nil {
		return true, &NetworkError{URL: c.baseURL + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, &NetworkError{URL: c.baseURL + path, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("upstream returned status %d for %s: %s", resp.StatusCode, path, sample(respBody))
	case resp.StatusCode >= 400:
		return false, &HTTPClientError{Status: resp.StatusCode, Message: sample(respBody)}
	}

	var envelope picaResp
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return false, &DeserializeError{Path: path, Reason: err, Sample: sample(respBody)}
	}
	if envelope.Code == http.StatusUnauthorized {
		return false, ErrAuthExpired
	}
	if envelope.Code != 200 {
		return false, &DeserializeError{
			Path:   path,
			Reason: fmt.Errorf("unexpected code %d: %s", envelope.Code, envelope.Message),
			Sample: sample(respBody),
		}
	}
	if out == nil {
		return false, nil
	}
	if envelope.Data == nil {
		return false, &DeserializeError{Path: path, Reason: errors.New("missing data field"), Sample: sample(respBody)}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return false, &DeserializeError{Path: path, Reason: err, Sample: sample(envelope.Data)}
	}
	return false, nil
}

func (c *Client) setHeaders(req *http.Request, path, method string) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := newNonce()

	req.Header.Set("api-key", apiKey)
	req.Header.Set("accept", "application/vnd.picacomic.com.v1+json")
	req.Header.Set("app-channel", "2")
	req.Header.Set("time", now)
	req.Header.Set("nonce", nonce)
	req.Header.Set("app-version", "2.2.1.2.3.3")
	req.Header.Set("app-uuid", "defaultUuid")
	req.Header.Set("app-platform", "android")
	req.Header.Set("app-build-version", "44")
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("User-Agent", "okhttp/3.8.1")
	req.Header.Set("accept-language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("image-quality", "original")
	req.Header.Set("signature", createSignature(path, method, now, nonce))
	if token := c.token(); token != "" {
		req.Header.Set("authorization", token)
	}
}

func sleepBackoff(ctx context.Context, retries int) error {
	delay := retryBase<<(retries-1) + time.Duration(rand.Int63n(int64(retryBase)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Login exchanges credentials for a fresh token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp loginRespData
	if err := c.request(ctx, http.MethodPost, "auth/sign-in", payload, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return resp.Token, nil
}

// GetUserProfile fetches the logged-in user's profile.
func (c *Client) GetUserProfile(ctx context.Context) (*data.UserProfile, error) {
	var resp userProfileRespData
	if err := c.request(ctx, http.MethodGet, "users/profile", nil, &resp); err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	u := resp.User
	return &data.UserProfile{
		ID:         u.ID,
		Gender:     u.Gender,
		Name:       u.Name,
		Title:      u.Title,
		Verified:   u.Verified,
		Exp:        u.Exp,
		Level:      u.Level,
		Characters: u.Characters,
		Avatar:     u.Avatar.toImageRef(),
		Birthday:   u.Birthday,
		Email:      u.Email,
		CreatedAt:  u.CreatedAt,
		IsPunched:  u.IsPunched,
	}, nil
}

// SearchComic runs an advanced search.
func (c *Client) SearchComic(ctx context.Context, keyword string, sort data.SearchSort, page int, categories []string) (*data.Pagination[data.ComicInSearch], error) {
	if categories == nil {
		categories = []string{}
	}
	payload := map[string]any{
		"keyword":    keyword,
		"sort":       sort.WireValue(),
		"categories": categories,
	}
	path := fmt.Sprintf("comics/advanced-search?page=%d", page)
	var resp searchRespData
	if err := c.request(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return nil, fmt.Errorf("search comic: %w", err)
	}

	docs := make([]data.ComicInSearch, len(resp.Comics.Docs))
	for i, d := range resp.Comics.Docs {
		docs[i] = data.ComicInSearch{
			ID:          d.ID,
			Author:      d.Author,
			Categories:  d.Categories,
			ChineseTeam: d.ChineseTeam,
			CreatedAt:   d.CreatedAt,
			Description: d.Description,
			Finished:    d.Finished,
			LikesCount:  int64(d.LikesCount),
			Tags:        d.Tags,
			Thumb:       d.Thumb.toImageRef(),
			Title:       d.Title,
			TotalLikes:  int64(d.TotalLikes),
			TotalViews:  int64(d.TotalViews),
			UpdatedAt:   d.UpdatedAt,
		}
	}
	return &data.Pagination[data.ComicInSearch]{
		Total: int64(resp.Comics.Total),
		Limit: int64(resp.Comics.Limit),
		Page:  int64(resp.Comics.Page),
		Pages: int64(resp.Comics.Pages),
		Docs:  docs,
	}, nil
}

// GetComic fetches the comic document together with its full chapter list.
// The upstream pages the chapter list; all pages are fetched, concatenated
// ascending and re-numbered densely starting at 1.
func (c *Client) GetComic(ctx context.Context, comicID string) (*data.Comic, error) {
	var comicResp getComicRespData
	var firstPage getChapterRespData

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.request(gctx, http.MethodGet, "comics/"+comicID, nil, &comicResp)
	})
	g.Go(func() error {
		return c.getChapterPage(gctx, comicID, 1, &firstPage)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get comic %s: %w", comicID, err)
	}

	totalPages := int64(firstPage.Eps.Pages)
	if totalPages < 1 {
		totalPages = 1
	}
	pages := make([][]chapterRespData, totalPages+1)
	pages[1] = firstPage.Eps.Docs

	g, gctx = errgroup.WithContext(ctx)
	for page := int64(2); page <= totalPages; page++ {
		g.Go(func() error {
			var pageResp getChapterRespData
			if err := c.getChapterPage(gctx, comicID, page, &pageResp); err != nil {
				return err
			}
			pages[page] = pageResp.Eps.Docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get comic %s chapters: %w", comicID, err)
	}

	var chapters []chapterRespData
	for page := int64(1); page <= totalPages; page++ {
		chapters = append(chapters, pages[page]...)
	}
	sort.SliceStable(chapters, func(i, j int) bool { return chapters[i].Order < chapters[j].Order })

	chapterInfos := make([]data.ChapterInfo, len(chapters))
	for i, chapter := range chapters {
		chapterInfos[i] = data.ChapterInfo{
			ChapterID:    chapter.ID,
			ChapterTitle: chapter.Title,
			Order:        int64(i + 1),
		}
	}

	d := comicResp.Comic
	return &data.Comic{
		ID:            d.ID,
		Title:         d.Title,
		Author:        d.Author,
		PagesCount:    int64(d.PagesCount),
		ChapterInfos:  chapterInfos,
		ChapterCount:  int64(d.EpsCount),
		Finished:      d.Finished,
		Categories:    d.Categories,
		Thumb:         d.Thumb.toImageRef(),
		LikesCount:    int64(d.LikesCount),
		Creator: data.Creator{
			ID:         d.Creator.ID,
			Gender:     d.Creator.Gender,
			Name:       d.Creator.Name,
			Title:      d.Creator.Title,
			Verified:   d.Creator.Verified,
			Exp:        d.Creator.Exp,
			Level:      d.Creator.Level,
			Characters: d.Creator.Characters,
			Avatar:     d.Creator.Avatar.toImageRef(),
			Slogan:     d.Creator.Slogan,
			Role:       d.Creator.Role,
			Character:  d.Creator.Character,
		},
		Description:   d.Description,
		ChineseTeam:   d.ChineseTeam,
		Tags:          d.Tags,
		UpdatedAt:     d.UpdatedAt,
		CreatedAt:     d.CreatedAt,
		AllowDownload: d.AllowDownload,
		ViewsCount:    int64(d.ViewsCount),
		IsLiked:       d.IsLiked,
		CommentsCount: int64(d.CommentsCount),
	}, nil
}

func (c *Client) getChapterPage(ctx context.Context, comicID string, page int64, out *getChapterRespData) error {
	path := fmt.Sprintf("comics/%s/eps?page=%d", comicID, page)
	return c.request(ctx, http.MethodGet, path, nil, out)
}

// GetChapterImages resolves the ordered image list of one chapter across all
// upstream pagination pages.
func (c *Client) GetChapterImages(ctx context.Context, comicID string, order int64) ([]data.ImageRef, error) {
	var firstPage getChapterImageRespData
	if err := c.getImagePage(ctx, comicID, order, 1, &firstPage); err != nil {
		return nil, fmt.Errorf("get chapter images page 1: %w", err)
	}

	totalPages := int64(firstPage.Pages.Pages)
	if totalPages < 1 {
		totalPages = 1
	}
	pages := make([][]chapterImageRespData, totalPages+1)
	pages[1] = firstPage.Pages.Docs

	g, gctx := errgroup.WithContext(ctx)
	for page := int64(2); page <= totalPages; page++ {
		g.Go(func() error {
			var pageResp getChapterImageRespData
			if err := c.getImagePage(gctx, comicID, order, page, &pageResp); err != nil {
				return fmt.Errorf("get chapter images page %d: %w", page, err)
			}
			pages[page] = pageResp.Pages.Docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var refs []data.ImageRef
	for page := int64(1); page <= totalPages; page++ {
		for _, doc := range pages[page] {
			refs = append(refs, doc.Media.toImageRef())
		}
	}
	return refs, nil
}

func (c *Client) getImagePage(ctx context.Context, comicID string, order, page int64, out *getChapterImageRespData) error {
	path := fmt.Sprintf("comics/%s/order/%d/pages?page=%d", comicID, order, page)
	return c.request(ctx, http.MethodGet, path, nil, out)
}

// GetFavorite fetches one page of the favorites list.
func (c *Client) GetFavorite(ctx context.Context, sort data.FavoriteSort, page int64) (*data.Pagination[data.ComicInFavorite], error) {
	path := fmt.Sprintf("users/favourite?s=%s&page=%d", sort.WireValue(), page)
	var resp getFavoriteRespData
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get favorite: %w", err)
	}

	docs := make([]data.ComicInFavorite, len(resp.Comics.Docs))
	for i, d := range resp.Comics.Docs {
		docs[i] = data.ComicInFavorite{
			ID:           d.ID,
			Title:        d.Title,
			Author:       d.Author,
			PagesCount:   int64(d.PagesCount),
			ChapterCount: int64(d.EpsCount),
			Finished:     d.Finished,
			Categories:   d.Categories,
			Thumb:        d.Thumb.toImageRef(),
			LikesCount:   int64(d.LikesCount),
		}
	}
	return &data.Pagination[data.ComicInFavorite]{
		Total: int64(resp.Comics.Total),
		Limit: int64(resp.Comics.Limit),
		Page:  int64(resp.Comics.Page),
		Pages: int64(resp.Comics.Pages),
		Docs:  docs,
	}, nil
}

// GetRank fetches a leaderboard.
func (c *Client) GetRank(ctx context.Context, rankType data.RankType) ([]data.ComicInRank, error) {
	path := fmt.Sprintf("comics/leaderboard?tt=%s&ct=VC", rankType.WireValue())
	var resp getRankRespData
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get rank: %w", err)
	}

	comics := make([]data.ComicInRank, len(resp.Comics))
	for i, d := range resp.Comics {
		comics[i] = data.ComicInRank{
			ID:               d.ID,
			Title:            d.Title,
			Author:           d.Author,
			PagesCount:       int64(d.PagesCount),
			ChapterCount:     int64(d.EpsCount),
			Finished:         d.Finished,
			Categories:       d.Categories,
			Thumb:            d.Thumb.toImageRef(),
			LikesCount:       int64(d.LikesCount),
			ViewsCount:       int64(d.ViewsCount),
			LeaderboardCount: int64(d.LeaderboardCount),
		}
	}
	return comics, nil
}

// DownloadImage fetches the raw bytes of one image. Images are authenticated
// solely by their URL; the only required header is the referer.
func (c *Client) DownloadImage(ctx context.Context, ref data.ImageRef) ([]byte, error) {
	imageURL := ref.URL()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		body, retryable, err := c.fetchImageOnce(ctx, imageURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Debug("retrying image download", "url", imageURL, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

func (c *Client) fetchImageOnce(ctx context.Context, imageURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build image request: %w", err)
	}
	req.Header.Set("Referer", imageReferer)

	resp, err := c.img.Do(req)
	if err != nil {
		return nil, true, &NetworkError{URL: imageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("image %s returned status %d", imageURL, resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, &NetworkError{URL: imageURL, Err: err}
	}
	return body, false, nil
}
