package workers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"time"

	"github.com/liamvmurphy/pokestock-sub001/models"
	"github.com/liamvmurphy/pokestock-sub001/storage"
)

// ScreenshotWorker drains the screenshot queue into S3. Uploads are retried
// up to the queue's attempt cap; a listing without a screenshot is fine.
type ScreenshotWorker struct {
	store     *storage.PostgresStore
	uploader  *storage.S3Uploader
	triggerCh chan struct{}
	logFunc   LogFunc
}

func NewScreenshotWorker(store *storage.PostgresStore, uploader *storage.S3Uploader) *ScreenshotWorker {
	return &ScreenshotWorker{
		store:     store,
		uploader:  uploader,
		triggerCh: make(chan struct{}, 1),
		logFunc:   NoOpLogger,
	}
}

func (w *ScreenshotWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *ScreenshotWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

// Run starts the screenshot upload loop
func (w *ScreenshotWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Screenshot worker stopping")
			return
		case <-ticker.C:
			w.processBatch(ctx, batchSize)
		case <-w.triggerCh:
			log.Println("Screenshot worker triggered manually")
			w.processBatch(ctx, batchSize)
		}
	}
}

func (w *ScreenshotWorker) processBatch(ctx context.Context, batchSize int) {
	shots, err := w.store.GetPendingScreenshots(ctx, batchSize)
	if err != nil {
		log.Printf("Screenshots: query error: %v", err)
		return
	}

	if len(shots) == 0 {
		return
	}

	var uploaded int
	for _, shot := range shots {
		if shot.Data == "" {
			w.store.UpdateScreenshotStatus(ctx, shot.ID, "failed", "", shot.Attempts+1)
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(shot.Data)
		if err != nil {
			log.Printf("Screenshots: decode %s: %v", shot.ID, err)
			w.store.UpdateScreenshotStatus(ctx, shot.ID, "failed", "", shot.Attempts+1)
			continue
		}

		key := fmt.Sprintf("screenshots/%s/%s.png", shot.CreatedAt.Format("2006-01-02"), shot.ListingID)
		if err := w.uploader.Upload(ctx, key, bytes.NewReader(raw), "image/png"); err != nil {
			log.Printf("Screenshots: upload %s: %v", shot.ID, err)
			w.store.UpdateScreenshotStatus(ctx, shot.ID, "pending", "", shot.Attempts+1)
			continue
		}

		if err := w.store.UpdateScreenshotStatus(ctx, shot.ID, "uploaded", key, shot.Attempts+1); err != nil {
			log.Printf("Screenshots: mark uploaded %s: %v", shot.ID, err)
			continue
		}
		if err := w.store.SetScreenshotKey(ctx, shot.ListingID, key); err != nil {
			log.Printf("Screenshots: link key to listing %s: %v", shot.ListingID, err)
		}
		uploaded++
	}

	if uploaded > 0 {
		w.logFunc(models.LogLevelInfo, "screenshots", fmt.Sprintf("Uploaded %d screenshots", uploaded))
	}
}
