package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/zipshare/config"
	"github.com/cppla/zipshare/models"
	"github.com/cppla/zipshare/storage"
	"github.com/cppla/zipshare/utils"
)

const testBaseURL = "http://share.test"

// setupTest builds a router over an in-memory SQLite database, an in-memory
// blob store and a miniredis-backed cache.
func setupTest(t *testing.T, maxBytes int64) (*gin.Engine, *gorm.DB, *storage.LocalStore) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	require.NoError(t, utils.InitLogger(config.AppConfig{LogLevel: "error"}))

	mr := miniredis.RunT(t)
	utils.SetRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.File{}))

	blobs := storage.NewLocalStoreWithFs(afero.NewMemMapFs(), "data/blobs")

	fc := &FileController{
		DB:      db,
		Blobs:   blobs,
		Limit:   utils.NewSizeLimit(maxBytes),
		BaseURL: testBaseURL,
	}

	r := gin.New()
	r.GET("/api/files", fc.List)
	r.GET("/api/files/latest", fc.Latest)
	r.GET("/api/files/:id", fc.GetByID)
	r.POST("/api/upload", fc.Upload)
	r.GET("/api/download/:id", fc.Download)
	return r, db, blobs
}

// uploadRequest builds a multipart POST with an optional file part and an
// optional expiration field. An empty contentType omits the part's
// Content-Type header entirely, like some clients do.
func uploadRequest(t *testing.T, fileName, contentType, content, expiration string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if fileName != "" {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	if expiration != "" {
		require.NoError(t, w.WriteField("expiration", expiration))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeUpload(t *testing.T, rec *httptest.ResponseRecorder) utils.UploadResponse {
	t.Helper()
	var resp utils.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func seedFile(t *testing.T, db *gorm.DB, blobs storage.BlobStore, name, contentType, content string, createdAt, expiresAt time.Time) models.File {
	t.Helper()
	rec := models.File{
		FileName:    name,
		FilePath:    fmt.Sprintf("upload/%d-%s", createdAt.UnixMilli(), name),
		ContentType: contentType,
		Size:        int64(len(content)),
		ExpiresAt:   expiresAt,
		CreatedAt:   createdAt,
	}
	require.NoError(t, db.Create(&rec).Error)
	if content != "" {
		require.NoError(t, blobs.Put(context.Background(), rec.FilePath, strings.NewReader(content), contentType))
	}
	return rec
}

func TestUploadStoresFileAndReturnsShareURL(t *testing.T) {
	r, db, blobs := setupTest(t, 500<<20)

	before := time.Now()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "note.txt", "text/plain", "hello file", "1"))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeUpload(t, w)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Message)

	var rec models.File
	require.NoError(t, db.First(&rec).Error)
	assert.Equal(t, fmt.Sprintf("%s/files/%d", testBaseURL, rec.ID), resp.URL)
	assert.Equal(t, "note.txt", rec.FileName)
	assert.Equal(t, "text/plain", rec.ContentType)
	assert.Equal(t, int64(len("hello file")), rec.Size)

	// storage key embeds a random token, never the display name
	assert.True(t, strings.HasPrefix(rec.FilePath, "upload/"))
	assert.NotContains(t, rec.FilePath, "note.txt")

	// expiry is creation time + 1 day
	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, before.Add(24*time.Hour), expiresAt, time.Minute)
	assert.WithinDuration(t, rec.ExpiresAt, expiresAt, time.Second)

	blob, size, err := blobs.Get(context.Background(), rec.FilePath)
	require.NoError(t, err)
	defer blob.Close()
	b, _ := io.ReadAll(blob)
	assert.Equal(t, "hello file", string(b))
	assert.Equal(t, rec.Size, size)
}

func TestUploadExpirationChoices(t *testing.T) {
	for _, days := range []int{1, 3, 5, 7} {
		t.Run(fmt.Sprintf("%d days", days), func(t *testing.T) {
			r, db, _ := setupTest(t, 1<<20)

			before := time.Now()
			w := httptest.NewRecorder()
			r.ServeHTTP(w, uploadRequest(t, "note.txt", "text/plain", "x", fmt.Sprintf("%d", days)))
			require.Equal(t, http.StatusOK, w.Code)

			var rec models.File
			require.NoError(t, db.First(&rec).Error)
			assert.WithinDuration(t, before.Add(time.Duration(days)*24*time.Hour), rec.ExpiresAt, time.Minute)
		})
	}
}

func TestUploadRejectsMissingFile(t *testing.T) {
	r, db, _ := setupTest(t, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "", "", "", "1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeUpload(t, w)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "no file")

	var count int64
	db.Model(&models.File{}).Count(&count)
	assert.Zero(t, count)
}

func TestUploadRejectsBadExpiration(t *testing.T) {
	for _, exp := range []string{"", "0", "2", "8", "-1", "abc"} {
		t.Run("expiration="+exp, func(t *testing.T) {
			r, db, _ := setupTest(t, 1<<20)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, uploadRequest(t, "note.txt", "text/plain", "x", exp))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, decodeUpload(t, w).Success)

			var count int64
			db.Model(&models.File{}).Count(&count)
			assert.Zero(t, count)
		})
	}
}

func TestUploadRejectsOversizedDeclaration(t *testing.T) {
	r, db, _ := setupTest(t, 1<<20)

	req := uploadRequest(t, "big.bin", "application/octet-stream", "tiny body", "1")
	// a client declaring 2 GB must be refused before the body is read
	req.ContentLength = 2 << 30

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	resp := decodeUpload(t, w)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "file size exceeds")

	var count int64
	db.Model(&models.File{}).Count(&count)
	assert.Zero(t, count, "no storage write may happen on a pre-check rejection")
}

func TestUploadRejectsOversizedActual(t *testing.T) {
	// declared length stays under limit+allowance, so only the
	// authoritative post-check can catch this one
	r, db, _ := setupTest(t, 1<<10)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "big.bin", "application/octet-stream", strings.Repeat("a", 2<<10), "1"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, decodeUpload(t, w).Success)

	var count int64
	db.Model(&models.File{}).Count(&count)
	assert.Zero(t, count)
}

func TestUploadNormalizesZipBundles(t *testing.T) {
	r, db, _ := setupTest(t, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "photos.zip", "application/x-zip-compressed", "PK\x03\x04fake", "3"))
	require.Equal(t, http.StatusOK, w.Code)

	var rec models.File
	require.NoError(t, db.First(&rec).Error)
	assert.Equal(t, models.ArchiveName, rec.FileName)
	assert.Equal(t, "application/zip", rec.ContentType, "zip wins over the browser-declared type")
}

func TestUploadSniffsContentTypeWhenUndeclared(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "note.txt", "", "plain old text content", "1"))
	require.Equal(t, http.StatusOK, w.Code)

	var rec models.File
	require.NoError(t, db.First(&rec).Error)
	assert.True(t, strings.HasPrefix(rec.ContentType, "text/plain"), "got %q", rec.ContentType)

	// sniffing must not consume the upload
	blob, _, err := blobs.Get(context.Background(), rec.FilePath)
	require.NoError(t, err)
	defer blob.Close()
	b, _ := io.ReadAll(blob)
	assert.Equal(t, "plain old text content", string(b))
}

func TestDownloadReturnsStoredBytes(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)
	rec := seedFile(t, db, blobs, "note.txt", "text/plain", "hello file", time.Now(), time.Now().Add(24*time.Hour))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/download/%d", rec.ID), nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello file", w.Body.String())
	assert.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	assert.Equal(t, fmt.Sprintf("%d", len("hello file")), w.Header().Get("Content-Length"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "note.txt")
}

func TestDownloadFallsBackToOctetStream(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)
	rec := seedFile(t, db, blobs, "mystery.bin", "", "\x00\x01\x02", time.Now(), time.Now().Add(24*time.Hour))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/download/%d", rec.ID), nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
}

func TestDownloadUnknownID(t *testing.T) {
	r, _, _ := setupTest(t, 1<<20)

	for _, id := range []string{"9999", "not-a-number"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/download/"+id, nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "error")
	}
}

func TestDownloadExpiredDeniesButKeepsRecordAndBlob(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)
	rec := seedFile(t, db, blobs, "old.txt", "text/plain", "stale", time.Now().Add(-48*time.Hour), time.Now().Add(-time.Hour))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/download/%d", rec.ID), nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// denial only: the blob is untouched
	blob, _, err := blobs.Get(context.Background(), rec.FilePath)
	require.NoError(t, err)
	blob.Close()

	// and the detail endpoint still serves the record, expiry unchecked
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/files/%d", rec.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, rec.ID, got.ID)
}

func TestDownloadStorageMiss(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)
	// record exists, blob was removed out of band
	rec := seedFile(t, db, blobs, "ghost.txt", "text/plain", "", time.Now(), time.Now().Add(24*time.Hour))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/download/%d", rec.ID), nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing from storage")
}

func TestDownloadDatabaseFailureMapsToServerError(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)
	rec := seedFile(t, db, blobs, "note.txt", "text/plain", "still here", time.Now(), time.Now().Add(24*time.Hour))

	// a broken database must read as a server fault, not as an absent file
	require.NoError(t, db.Migrator().DropTable(&models.File{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/download/%d", rec.ID), nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "error")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/files/%d", rec.ID), nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// brokenSeekFile satisfies multipart.File but refuses to rewind.
type brokenSeekFile struct {
	*strings.Reader
}

func (brokenSeekFile) Close() error { return nil }

func (brokenSeekFile) Seek(offset int64, whence int) (int64, error) {
	return 0, fmt.Errorf("seek unsupported")
}

func TestDeriveContentTypeFailedRewind(t *testing.T) {
	header := &multipart.FileHeader{Filename: "note.txt", Header: textproto.MIMEHeader{}}

	// sniffing consumes the reader; if it cannot be rewound the upload
	// must fail rather than store a truncated blob
	_, err := deriveContentType("note.txt", header, brokenSeekFile{strings.NewReader("some text")})
	assert.Error(t, err)

	// the declared-type and zip paths never touch the reader
	header.Header.Set("Content-Type", "text/plain")
	ct, err := deriveContentType("note.txt", header, brokenSeekFile{strings.NewReader("some text")})
	require.NoError(t, err)
	assert.Equal(t, "text/plain", ct)

	ct, err = deriveContentType(models.ArchiveName, header, brokenSeekFile{strings.NewReader("PK")})
	require.NoError(t, err)
	assert.Equal(t, "application/zip", ct)
}

func TestDownloadServesFromCacheAfterFirstHit(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)
	rec := seedFile(t, db, blobs, "note.txt", "text/plain", "cached bytes", time.Now(), time.Now().Add(24*time.Hour))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/download/%d", rec.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	// metadata now comes from the cache even if the row disappears
	require.NoError(t, db.Delete(&models.File{}, rec.ID).Error)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/download/%d", rec.ID), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cached bytes", w.Body.String())
}

func TestListIncludesExpiredNewestFirst(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)
	older := seedFile(t, db, blobs, "old.txt", "text/plain", "a", time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))
	newer := seedFile(t, db, blobs, "new.txt", "text/plain", "b", time.Now(), time.Now().Add(24*time.Hour))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got []models.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2, "listing never filters expired records")
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestGetByIDUnknownReturnsEmptyObject(t *testing.T) {
	r, _, _ := setupTest(t, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files/424242", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())
}

func TestLatest(t *testing.T) {
	r, db, blobs := setupTest(t, 1<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files/latest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	seedFile(t, db, blobs, "old.txt", "text/plain", "a", time.Now().Add(-2*time.Hour), time.Now().Add(24*time.Hour))
	newer := seedFile(t, db, blobs, "new.txt", "text/plain", "b", time.Now(), time.Now().Add(24*time.Hour))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/files/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got models.File
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, newer.ID, got.ID)
}
