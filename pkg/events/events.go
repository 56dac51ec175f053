package events

import "github.com/lanyeeee/picacomic-downloader/pkg/data"

// DownloadTaskEventType distinguishes task creation from state updates.
type DownloadTaskEventType string

const (
	TaskCreate DownloadTaskEventType = "Create"
	TaskUpdate DownloadTaskEventType = "Update"
)

// DownloadTaskEvent reports a task's creation or a lifecycle/progress change.
// Create events carry the full comic and chapter snapshot so the UI can
// render the task without further queries.
type DownloadTaskEvent struct {
	Type               DownloadTaskEventType `json:"type"`
	State              data.TaskState        `json:"state"`
	ComicID            string                `json:"comicId"`
	ChapterID          string                `json:"chapterId"`
	Comic              *data.Comic           `json:"comic,omitempty"`
	Chapter            *data.ChapterInfo     `json:"chapterInfo,omitempty"`
	DownloadedImgCount int                   `json:"downloadedImgCount"`
	TotalImgCount      int                   `json:"totalImgCount"`
}

func (DownloadTaskEvent) EventName() string { return "downloadTaskEvent" }

// DownloadSpeedEvent carries the human-readable aggregate throughput of the
// last telemetry tick.
type DownloadSpeedEvent struct {
	Speed string `json:"speed"`
}

func (DownloadSpeedEvent) EventName() string { return "downloadSpeedEvent" }

// DownloadSleepingEvent is the countdown a task emits while it sits out a
// configured interval.
type DownloadSleepingEvent struct {
	ChapterID    string `json:"chapterId"`
	RemainingSec int    `json:"remainingSec"`
}

func (DownloadSleepingEvent) EventName() string { return "downloadSleepingEvent" }

// OverallProgressEvent aggregates progress across all non-terminal tasks.
type OverallProgressEvent struct {
	DownloadedImageCount int     `json:"downloadedImageCount"`
	TotalImageCount      int     `json:"totalImageCount"`
	Percentage           float64 `json:"percentage"`
}

func (OverallProgressEvent) EventName() string { return "updateOverallDownloadProgressEvent" }

// DownloadAllFavoritesEventType enumerates the phases of a whole-favorites
// download.
type DownloadAllFavoritesEventType string

const (
	GettingFavorites         DownloadAllFavoritesEventType = "GettingFavorites"
	GettingComics            DownloadAllFavoritesEventType = "GettingComics"
	EndGetComics             DownloadAllFavoritesEventType = "EndGetComics"
	StartCreateDownloadTasks DownloadAllFavoritesEventType = "StartCreateDownloadTasks"
	CreatingDownloadTask     DownloadAllFavoritesEventType = "CreatingDownloadTask"
	EndCreateDownloadTasks   DownloadAllFavoritesEventType = "EndCreateDownloadTasks"
)

// DownloadAllFavoritesEvent is the progress stream of downloadAllFavorites.
type DownloadAllFavoritesEvent struct {
	Type       DownloadAllFavoritesEventType `json:"type"`
	Current    int64                         `json:"current,omitempty"`
	Total      int64                         `json:"total,omitempty"`
	ComicID    string                        `json:"comicId,omitempty"`
	ComicTitle string                        `json:"comicTitle,omitempty"`
}

func (DownloadAllFavoritesEvent) EventName() string { return "downloadAllFavoritesEvent" }

// ExportEventType enumerates export progress phases.
type ExportEventType string

const (
	ExportStart    ExportEventType = "Start"
	ExportProgress ExportEventType = "Progress"
	ExportEnd      ExportEventType = "End"
	ExportError    ExportEventType = "Error"
)

// ExportEvent is the progress stream of a CBZ/PDF/EPUB export run. UUID ties
// the events of one run together.
type ExportEvent struct {
	Type       ExportEventType `json:"type"`
	UUID       string          `json:"uuid"`
	ComicTitle string          `json:"comicTitle,omitempty"`
	Current    int             `json:"current,omitempty"`
	Total      int             `json:"total,omitempty"`
	ErrMsg     string          `json:"errMsg,omitempty"`
}

func (ExportEvent) EventName() string { return "exportEvent" }
