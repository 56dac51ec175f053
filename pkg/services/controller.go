package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lanyeeee/picacomic-downloader/pkg/config"
	"github.com/lanyeeee/picacomic-downloader/pkg/data"
	"github.com/lanyeeee/picacomic-downloader/pkg/events"
	"github.com/lanyeeee/picacomic-downloader/pkg/integrations"
	"github.com/lanyeeee/picacomic-downloader/pkg/logger"
	"github.com/lanyeeee/picacomic-downloader/pkg/pica"
)

// Controller is the command surface invoked by the UI collaborator. It wires
// the config store, the upstream client, the metadata store, the download
// engine and the export pipeline together.
type Controller struct {
	cfg        *config.Store
	client     *pica.Client
	store      *data.MetadataStore
	index      *data.DownloadedIndex
	bus        *events.Bus
	downloader *Downloader
	exporter   *integrations.Exporter
	logger     *slog.Logger
}

// NewController builds the full backend. The proxy, if configured, is
// applied at client construction; changing it requires a restart.
func NewController(cfg *config.Store) (*Controller, error) {
	doc := cfg.Get()

	var proxyURL *url.URL
	if doc.Proxy != nil {
		scheme := "http"
		if doc.Proxy.ProxyType == config.ProxySocks5 {
			scheme = "socks5"
		}
		var err error
		proxyURL, err = url.Parse(fmt.Sprintf("%s://%s:%d", scheme, doc.Proxy.Host, doc.Proxy.Port))
		if err != nil {
			return nil, fmt.Errorf("invalid proxy config: %w", err)
		}
	}

	client := pica.NewClient(pica.Options{
		Token:    func() string { return cfg.Get().Token },
		ProxyURL: proxyURL,
	})
	return NewControllerWithClient(cfg, client), nil
}

// NewControllerWithClient wires the backend around an existing upstream
// client; tests use it to point the controller at a mock server.
func NewControllerWithClient(cfg *config.Store, client *pica.Client) *Controller {
	store := data.NewMetadataStore()
	index := data.NewDownloadedIndex(store, cfg.Get().DownloadDir)
	bus := events.NewBus()
	downloader := NewDownloader(client, cfg, store, index, bus)
	exporter := integrations.NewExporter(store, bus)

	c := &Controller{
		cfg:        cfg,
		client:     client,
		store:      store,
		index:      index,
		bus:        bus,
		downloader: downloader,
		exporter:   exporter,
		logger:     slog.Default(),
	}

	cfg.OnChange(func(doc config.Config) {
		index.SetDownloadDir(doc.DownloadDir)
		if err := logger.SetFileLogging(doc.EnableFileLogger); err != nil {
			c.logger.Warn("toggling file logging failed", "error", err)
		}
	})

	return c
}

// Bus exposes the event bus for subscription by the UI collaborator.
func (c *Controller) Bus() *events.Bus { return c.bus }

// Close releases background goroutines.
func (c *Controller) Close() {
	c.downloader.Close()
	c.index.Close()
	c.cfg.Close()
}

// Greet is the trivial liveness command.
func (c *Controller) Greet(name string) string {
	return fmt.Sprintf("Hello, %s! You've been greeted from the backend!", name)
}

// GetConfig returns the current settings document.
func (c *Controller) GetConfig() config.Config {
	return c.cfg.Get()
}

// SaveConfig validates and persists a new settings document.
func (c *Controller) SaveConfig(doc config.Config) error {
	if err := c.cfg.Save(doc); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	c.logger.Debug("config saved")
	return nil
}

// Login exchanges credentials for a token. The token is not persisted here;
// the caller decides whether to store it in the config.
func (c *Controller) Login(ctx context.Context, email, password string) (string, error) {
	token, err := c.client.Login(ctx, email, password)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	return token, nil
}

// GetUserProfile fetches the logged-in user's profile.
func (c *Controller) GetUserProfile(ctx context.Context) (*data.UserProfile, error) {
	profile, err := c.client.GetUserProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("get user profile failed: %w", err)
	}
	return profile, nil
}

// SearchComic searches the upstream and marks hits already on disk.
func (c *Controller) SearchComic(ctx context.Context, keyword string, sort data.SearchSort, page int, categories []string) (*data.Pagination[data.ComicInSearch], error) {
	result, err := c.client.SearchComic(ctx, keyword, sort, page, categories)
	if err != nil {
		return nil, fmt.Errorf("search comic failed: %w", err)
	}
	for i := range result.Docs {
		result.Docs[i].IsDownloaded = c.index.IsComicDownloaded(result.Docs[i].ID)
	}
	return result, nil
}

// GetComic fetches the full comic document and syncs its download state
// against the sidecars on disk.
func (c *Controller) GetComic(ctx context.Context, comicID string) (*data.Comic, error) {
	comic, err := c.client.GetComic(ctx, comicID)
	if err != nil {
		return nil, fmt.Errorf("get comic failed: %w", err)
	}
	c.store.SyncComic(c.cfg.Get().DownloadDir, comic)
	return comic, nil
}

// GetFavorite fetches one page of the favorites list.
func (c *Controller) GetFavorite(ctx context.Context, sort data.FavoriteSort, page int64) (*data.Pagination[data.ComicInFavorite], error) {
	result, err := c.client.GetFavorite(ctx, sort, page)
	if err != nil {
		return nil, fmt.Errorf("get favorite failed: %w", err)
	}
	for i := range result.Docs {
		result.Docs[i].IsDownloaded = c.index.IsComicDownloaded(result.Docs[i].ID)
	}
	return result, nil
}

// GetRank fetches a leaderboard.
func (c *Controller) GetRank(ctx context.Context, rankType data.RankType) ([]data.ComicInRank, error) {
	comics, err := c.client.GetRank(ctx, rankType)
	if err != nil {
		return nil, fmt.Errorf("get rank failed: %w", err)
	}
	for i := range comics {
		comics[i].IsDownloaded = c.index.IsComicDownloaded(comics[i].ID)
	}
	return comics, nil
}

// CreateDownloadTask starts downloading one chapter of the given comic.
func (c *Controller) CreateDownloadTask(comic *data.Comic, chapterID string) (*Task, error) {
	task, err := c.downloader.CreateDownloadTask(comic, chapterID)
	if err != nil {
		return nil, fmt.Errorf("create download task failed: %w", err)
	}
	return task, nil
}

// PauseDownloadTask pauses a task by id.
func (c *Controller) PauseDownloadTask(taskID string) error {
	return c.downloader.PauseTask(taskID)
}

// ResumeDownloadTask resumes a task by id.
func (c *Controller) ResumeDownloadTask(taskID string) error {
	return c.downloader.ResumeTask(taskID)
}

// CancelDownloadTask cancels a task by id.
func (c *Controller) CancelDownloadTask(taskID string) error {
	return c.downloader.CancelTask(taskID)
}

// DownloadComic creates one task per not-yet-downloaded chapter.
func (c *Controller) DownloadComic(ctx context.Context, comicID string) error {
	comic, err := c.GetComic(ctx, comicID)
	if err != nil {
		return fmt.Errorf("download comic failed: %w", err)
	}

	pending := make([]data.ChapterInfo, 0, len(comic.ChapterInfos))
	for _, chapter := range comic.ChapterInfos {
		if !chapter.IsDownloaded {
			pending = append(pending, chapter)
		}
	}
	if len(pending) == 0 {
		return fmt.Errorf("every chapter of comic %q is already downloaded", comic.Title)
	}

	for _, chapter := range pending {
		if _, err := c.downloader.CreateDownloadTask(comic, chapter.ChapterID); err != nil {
			return fmt.Errorf("download comic failed: %w", err)
		}
	}
	c.logger.Debug("download tasks created for comic", "comic", comic.Title, "chapters", len(pending))
	return nil
}

// DownloadAllFavorites walks the whole favorites list and creates download
// tasks for every chapter not yet on disk, pacing itself by the configured
// interval so the upstream does not rate-limit the account.
func (c *Controller) DownloadAllFavorites(ctx context.Context) error {
	c.bus.Publish(events.DownloadAllFavoritesEvent{Type: events.GettingFavorites})

	firstPage, err := c.client.GetFavorite(ctx, data.FavoriteTimeNewest, 1)
	if err != nil {
		return fmt.Errorf("get favorites page 1 failed: %w", err)
	}

	pageCount := firstPage.Pages
	if pageCount < 1 {
		pageCount = 1
	}
	favorites := make([][]data.ComicInFavorite, pageCount+1)
	favorites[1] = firstPage.Docs

	g, gctx := errgroup.WithContext(ctx)
	for page := int64(2); page <= pageCount; page++ {
		g.Go(func() error {
			pageResult, err := c.client.GetFavorite(gctx, data.FavoriteTimeNewest, page)
			if err != nil {
				return fmt.Errorf("get favorites page %d failed: %w", page, err)
			}
			favorites[page] = pageResult.Docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var all []data.ComicInFavorite
	for page := int64(1); page < int64(len(favorites)); page++ {
		all = append(all, favorites[page]...)
	}

	total := int64(len(all))
	for i, favorite := range all {
		interval := time.Duration(c.cfg.Get().DownloadAllFavoritesIntervalSec) * time.Second

		comic, err := c.GetComic(ctx, favorite.ID)
		if err != nil {
			c.logger.Error("skipping favorite, fetching comic failed",
				"comic", favorite.Title, "error", err)
			if err := sleepCtx(ctx, interval); err != nil {
				return err
			}
			continue
		}

		c.bus.Publish(events.DownloadAllFavoritesEvent{
			Type:    events.GettingComics,
			Current: int64(i + 1),
			Total:   total,
		})

		pending := make([]data.ChapterInfo, 0, len(comic.ChapterInfos))
		for _, chapter := range comic.ChapterInfos {
			if !chapter.IsDownloaded {
				pending = append(pending, chapter)
			}
		}
		if len(pending) == 0 {
			if err := sleepCtx(ctx, interval); err != nil {
				return err
			}
			continue
		}

		c.bus.Publish(events.DownloadAllFavoritesEvent{
			Type:       events.StartCreateDownloadTasks,
			ComicID:    comic.ID,
			ComicTitle: comic.Title,
			Total:      int64(len(pending)),
		})

		for n, chapter := range pending {
			if _, err := c.downloader.CreateDownloadTask(comic, chapter.ChapterID); err != nil {
				c.logger.Error("creating download task failed",
					"comic", comic.Title, "chapter", chapter.ChapterTitle, "error", err)
				continue
			}
			c.bus.Publish(events.DownloadAllFavoritesEvent{
				Type:    events.CreatingDownloadTask,
				ComicID: comic.ID,
				Current: int64(n + 1),
			})
			if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
				return err
			}
		}

		c.bus.Publish(events.DownloadAllFavoritesEvent{
			Type:    events.EndCreateDownloadTasks,
			ComicID: comic.ID,
		})

		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}

	c.bus.Publish(events.DownloadAllFavoritesEvent{Type: events.EndGetComics})
	return nil
}

// GetDownloadedComics lists every comic found on disk, newest first.
func (c *Controller) GetDownloadedComics() []*data.Comic {
	return c.index.DownloadedComics()
}

// GetSyncedComic refreshes a comic document's download bookkeeping.
func (c *Controller) GetSyncedComic(comic *data.Comic) *data.Comic {
	c.store.SyncComic(c.cfg.Get().DownloadDir, comic)
	return comic
}

// GetSyncedComicInSearch refreshes one search hit.
func (c *Controller) GetSyncedComicInSearch(comic data.ComicInSearch) data.ComicInSearch {
	comic.IsDownloaded = c.index.IsComicDownloaded(comic.ID)
	return comic
}

// GetSyncedComicInFavorite refreshes one favorites entry.
func (c *Controller) GetSyncedComicInFavorite(comic data.ComicInFavorite) data.ComicInFavorite {
	comic.IsDownloaded = c.index.IsComicDownloaded(comic.ID)
	return comic
}

// GetSyncedComicInRank refreshes one leaderboard entry.
func (c *Controller) GetSyncedComicInRank(comic data.ComicInRank) data.ComicInRank {
	comic.IsDownloaded = c.index.IsComicDownloaded(comic.ID)
	return comic
}

// ExportCbz produces one CBZ per downloaded chapter of the comic.
func (c *Controller) ExportCbz(comic *data.Comic) error {
	c.store.SyncComic(c.cfg.Get().DownloadDir, comic)
	if err := c.exporter.Cbz(comic); err != nil {
		return fmt.Errorf("export cbz failed: %w", err)
	}
	return nil
}

// ExportPdf produces one PDF per downloaded chapter of the comic.
func (c *Controller) ExportPdf(comic *data.Comic) error {
	c.store.SyncComic(c.cfg.Get().DownloadDir, comic)
	if err := c.exporter.Pdf(comic); err != nil {
		return fmt.Errorf("export pdf failed: %w", err)
	}
	return nil
}

// ExportEpub produces a single EPUB covering the comic's downloaded chapters.
func (c *Controller) ExportEpub(comic *data.Comic) error {
	c.store.SyncComic(c.cfg.Get().DownloadDir, comic)
	if err := c.exporter.Epub(comic); err != nil {
		return fmt.Errorf("export epub failed: %w", err)
	}
	return nil
}

// ShowPathInFileManager validates the path and hands it back; actually
// revealing it is the platform shell's job.
func (c *Controller) ShowPathInFileManager(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("path %q not accessible: %w", path, err)
	}
	return path, nil
}

// GetLogsDirSize returns the total size in bytes of the log files.
func (c *Controller) GetLogsDirSize() (int64, error) {
	size, err := logger.DirSize()
	if err != nil {
		return 0, fmt.Errorf("get logs dir size failed: %w", err)
	}
	return size, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
