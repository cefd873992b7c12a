package controllers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cppla/zipshare/config"
	"github.com/cppla/zipshare/models"
	"github.com/cppla/zipshare/storage"
	"github.com/cppla/zipshare/utils"
)

// allowedExpirations is the closed set of retention choices, in days.
var allowedExpirations = map[int]bool{1: true, 3: true, 5: true, 7: true}

// FileController serves the upload/download pipeline and the metadata reads.
type FileController struct {
	DB      *gorm.DB
	Blobs   storage.BlobStore
	Limit   utils.SizeLimit
	BaseURL string
}

// NewFileController builds a controller with its collaborators injected.
func NewFileController(db *gorm.DB, blobs storage.BlobStore) *FileController {
	cfg := config.Get()
	return &FileController{
		DB:      db,
		Blobs:   blobs,
		Limit:   utils.NewSizeLimit(cfg.MaxUploadBytes),
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Upload accepts a multipart form with a `file` part and an `expiration`
// field, writes the blob, inserts the metadata record, and returns the
// share URL. The blob write and the metadata insert are not transactional;
// a failed insert triggers a best-effort compensating blob delete.
func (f *FileController) Upload(ctx *gin.Context) {
	// Cheap rejection on the declared size before any body bytes are read.
	// The post-check below is authoritative.
	if f.Limit.ExceedsDeclared(ctx.Request.ContentLength) {
		utils.UploadError(ctx, http.StatusRequestEntityTooLarge, f.Limit.Message())
		return
	}

	file, header, err := ctx.Request.FormFile("file")
	if err != nil {
		utils.UploadError(ctx, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if f.Limit.ExceedsActual(header.Size) {
		utils.UploadError(ctx, http.StatusRequestEntityTooLarge, f.Limit.Message())
		return
	}

	days, err := strconv.Atoi(ctx.PostForm("expiration"))
	if err != nil || !allowedExpirations[days] {
		utils.UploadError(ctx, http.StatusBadRequest, "expiration must be one of 1, 3, 5, 7 days")
		return
	}

	// Zip bundles built by the client get one fixed display name; any other
	// name is kept verbatim but only ever used for display and the
	// attachment header, never as a storage path.
	fileName := header.Filename
	if models.IsZip(fileName) {
		fileName = models.ArchiveName
	}

	contentType, err := deriveContentType(fileName, header, file)
	if err != nil {
		utils.Sugar.Errorf("upload rewind after sniff failed name=%s err=%v", fileName, err)
		utils.UploadError(ctx, http.StatusInternalServerError, "file upload failed")
		return
	}

	now := time.Now()
	filePath := fmt.Sprintf("upload/%d-%s", now.UnixMilli(), uuid.NewString())
	expiresAt := now.Add(time.Duration(days) * 24 * time.Hour)

	if err := f.Blobs.Put(ctx.Request.Context(), filePath, file, contentType); err != nil {
		utils.Sugar.Errorf("blob write failed path=%s err=%v", filePath, err)
		utils.UploadError(ctx, http.StatusInternalServerError, "file upload failed")
		return
	}

	rec := models.File{
		FileName:    fileName,
		FilePath:    filePath,
		ContentType: contentType,
		Size:        header.Size,
		ExpiresAt:   expiresAt,
	}
	if err := f.DB.Create(&rec).Error; err != nil {
		utils.Sugar.Errorf("file record insert failed path=%s err=%v", filePath, err)
		// Compensate so the blob does not linger without a record
		if delErr := f.Blobs.Delete(ctx.Request.Context(), filePath); delErr != nil {
			utils.Sugar.Warnf("orphaned blob cleanup failed path=%s err=%v", filePath, delErr)
		}
		utils.UploadError(ctx, http.StatusInternalServerError, "failed to save file record")
		return
	}

	utils.Sugar.Infof("upload stored id=%d name=%s size=%d expires=%s", rec.ID, rec.FileName, rec.Size, expiresAt.Format(time.RFC3339))
	utils.UploadOK(ctx, "file stored", fmt.Sprintf("%s/files/%d", f.BaseURL, rec.ID), expiresAt)
}

// Download checks expiry and streams the blob back as an attachment.
func (f *FileController) Download(ctx *gin.Context) {
	rec, err := f.lookup(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.FileError(ctx, http.StatusNotFound, "file not found")
			return
		}
		utils.Sugar.Errorf("file lookup failed id=%s err=%v", ctx.Param("id"), err)
		utils.FileError(ctx, http.StatusInternalServerError, "file download failed")
		return
	}

	if rec.Expired(time.Now()) {
		// Access denied only; the record and the blob stay in place
		utils.FileError(ctx, http.StatusForbidden, "file has expired")
		return
	}

	blob, size, err := f.Blobs.Get(ctx.Request.Context(), rec.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			utils.FileError(ctx, http.StatusBadRequest, "file missing from storage")
			return
		}
		utils.Sugar.Errorf("blob read failed path=%s err=%v", rec.FilePath, err)
		utils.FileError(ctx, http.StatusInternalServerError, "file download failed")
		return
	}
	defer blob.Close()

	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	extraHeaders := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", rec.FileName),
	}
	ctx.DataFromReader(http.StatusOK, size, contentType, blob, extraHeaders)
}

// List returns every metadata record, newest first. Expired records are not
// filtered here; expiry is enforced only on download.
func (f *FileController) List(ctx *gin.Context) {
	files := []models.File{}
	if err := f.DB.Order("created_at DESC").Find(&files).Error; err != nil {
		utils.Sugar.Errorf("file list query failed: %v", err)
		utils.FileError(ctx, http.StatusInternalServerError, "failed to list files")
		return
	}
	ctx.JSON(http.StatusOK, files)
}

// Latest returns the most recently created record.
func (f *FileController) Latest(ctx *gin.Context) {
	var rec models.File
	if err := f.DB.Order("created_at DESC").First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.FileError(ctx, http.StatusNotFound, "no files uploaded yet")
			return
		}
		utils.Sugar.Errorf("latest file query failed: %v", err)
		utils.FileError(ctx, http.StatusInternalServerError, "failed to fetch latest file")
		return
	}
	ctx.JSON(http.StatusOK, rec)
}

// GetByID returns a single record without any expiry check. Unknown ids get
// an empty object, matching what share-page clients expect.
func (f *FileController) GetByID(ctx *gin.Context) {
	rec, err := f.lookup(ctx.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ctx.JSON(http.StatusOK, gin.H{})
			return
		}
		utils.Sugar.Errorf("file lookup failed id=%s err=%v", ctx.Param("id"), err)
		utils.FileError(ctx, http.StatusInternalServerError, "failed to fetch file")
		return
	}
	ctx.JSON(http.StatusOK, rec)
}

// lookup fetches a record by its path id, read-through the redis cache.
// Cache trouble degrades silently to the database. A malformed or unknown
// id yields gorm.ErrRecordNotFound; any other error is a real database
// failure and must not be mistaken for an absent record.
func (f *FileController) lookup(id string) (models.File, error) {
	var rec models.File
	idNum, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return rec, gorm.ErrRecordNotFound
	}
	key := utils.FileCacheKey(id)
	if utils.CacheGetJSON(key, &rec) && rec.ID != 0 {
		return rec, nil
	}
	if err := f.DB.First(&rec, uint(idNum)).Error; err != nil {
		return rec, err
	}
	utils.CacheSetJSON(key, rec, 0)
	return rec, nil
}

// deriveContentType picks the stored content type: zip bundles are always
// application/zip, otherwise the browser-declared MIME wins, otherwise the
// content is sniffed (whose own unknown-type answer is the generic
// application/octet-stream). Sniffing consumes reader bytes, so a failed
// rewind is an error: storing from the half-read reader would truncate
// the blob.
func deriveContentType(fileName string, header *multipart.FileHeader, file multipart.File) (string, error) {
	if models.IsZip(fileName) {
		return "application/zip", nil
	}
	if declared := header.Header.Get("Content-Type"); declared != "" {
		return declared, nil
	}
	mtype, detectErr := mimetype.DetectReader(file)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	if detectErr != nil {
		return "application/octet-stream", nil
	}
	return mtype.String(), nil
}
