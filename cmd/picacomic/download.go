package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lanyeeee/picacomic-downloader/pkg/data"
	"github.com/lanyeeee/picacomic-downloader/pkg/events"
	"github.com/lanyeeee/picacomic-downloader/pkg/services"
)

var downloadCmd = &cobra.Command{
	Use:   "download <comic-id> [chapter-id...]",
	Short: "Download a comic, or selected chapters of it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comicID := args[0]
		chapterIDs := args[1:]

		watcher := newTaskWatcher(controller)
		defer watcher.close()

		if len(chapterIDs) == 0 {
			if err := controller.DownloadComic(cmd.Context(), comicID); err != nil {
				return err
			}
		} else {
			comic, err := controller.GetComic(cmd.Context(), comicID)
			if err != nil {
				return err
			}
			for _, chapterID := range chapterIDs {
				if _, err := controller.CreateDownloadTask(comic, chapterID); err != nil {
					return err
				}
			}
		}

		watcher.wait(cmd.Context())
		return nil
	},
}

// taskWatcher renders the engine's event stream and knows when every task it
// saw created has reached a terminal state.
type taskWatcher struct {
	ch   <-chan events.Event
	done chan struct{}
	ctrl *services.Controller
}

func newTaskWatcher(ctrl *services.Controller) *taskWatcher {
	w := &taskWatcher{
		ch:   ctrl.Bus().Subscribe("cli"),
		done: make(chan struct{}),
		ctrl: ctrl,
	}
	go w.loop()
	return w
}

func (w *taskWatcher) loop() {
	defer close(w.done)
	live := make(map[string]bool)
	created := 0

	for event := range w.ch {
		switch e := event.(type) {
		case events.DownloadTaskEvent:
			id := services.TaskID(e.ComicID, e.ChapterID)
			if e.Type == events.TaskCreate {
				live[id] = true
				created++
				continue
			}
			switch e.State {
			case data.TaskCompleted:
				fmt.Printf("done  %s (%d/%d)\n", e.ChapterID, e.DownloadedImgCount, e.TotalImgCount)
				delete(live, id)
			case data.TaskFailed:
				fmt.Printf("FAIL  %s (%d/%d)\n", e.ChapterID, e.DownloadedImgCount, e.TotalImgCount)
				delete(live, id)
			case data.TaskCancelled:
				fmt.Printf("cancelled  %s\n", e.ChapterID)
				delete(live, id)
			}
			if created > 0 && len(live) == 0 {
				return
			}
		case events.DownloadSpeedEvent:
			if e.Speed != "0.00 KB/s" {
				fmt.Printf("speed %s\n", e.Speed)
			}
		case events.OverallProgressEvent:
			fmt.Printf("total %d/%d (%.1f%%)\n", e.DownloadedImageCount, e.TotalImageCount, e.Percentage)
		case events.DownloadSleepingEvent:
			fmt.Printf("sleeping %s (%ds left)\n", e.ChapterID, e.RemainingSec)
		}
	}
}

func (w *taskWatcher) wait(ctx context.Context) {
	select {
	case <-w.done:
	case <-ctx.Done():
	}
}

func (w *taskWatcher) close() {
	w.ctrl.Bus().Unsubscribe("cli")
}
