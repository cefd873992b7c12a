package main

import (
	"time"

	"github.com/cppla/zipshare/config"
	"github.com/cppla/zipshare/models"
	"github.com/cppla/zipshare/routes"
	"github.com/cppla/zipshare/storage"
	"github.com/cppla/zipshare/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(&models.File{})
	blobs := storage.NewLocalStore(cfg.UploadDir)

	r := routes.SetupRouter(db, blobs)

	// Optional background purge of expired uploads; without it expiry is
	// enforced only when a download is attempted
	if cfg.ReaperEnabled {
		utils.StartReaper(db, blobs, time.Duration(cfg.ReaperIntervalSec)*time.Second)
	}

	utils.Sugar.Infof("Starting server on port %s (graceful), upload limit %s", cfg.AppPort, utils.NewSizeLimit(cfg.MaxUploadBytes).Label())
	if err := utils.GraceServer(":"+cfg.AppPort, r); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
