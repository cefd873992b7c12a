package utils

import (
	"context"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/zipshare/models"
	"github.com/cppla/zipshare/storage"
)

// StartReaper launches a background goroutine that periodically purges
// expired uploads: blob first, then the metadata row. It is best-effort and
// logs failures. Without it, expiry is only enforced at download time and
// expired blobs persist indefinitely.
func StartReaper(db *gorm.DB, blobs storage.BlobStore, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		for {
			// Sleep first to avoid racing immediately at startup
			time.Sleep(interval)
			reapOnce(db, blobs)
		}
	}()
}

func reapOnce(db *gorm.DB, blobs storage.BlobStore) {
	var items []models.File
	if err := db.Where("expires_at <= ?", time.Now()).Limit(100).Find(&items).Error; err != nil {
		if Sugar != nil {
			Sugar.Warnf("reaper query failed: %v", err)
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, it := range items {
		if err := blobs.Delete(ctx, it.FilePath); err != nil {
			if Sugar != nil {
				Sugar.Warnf("reaper blob delete failed path=%s err=%v", it.FilePath, err)
			}
			continue
		}
		if err := db.Delete(&models.File{}, it.ID).Error; err != nil {
			if Sugar != nil {
				Sugar.Warnf("reaper delete row failed id=%d err=%v", it.ID, err)
			}
			continue
		}
		CacheDel(FileCacheKey(strconv.FormatUint(uint64(it.ID), 10)))
	}
}
