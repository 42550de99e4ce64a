package devserver

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	uploadout "pocus/internal/modules/upload/adapter/out"
)

const (
	tusVersion     = "1.0.0"
	maxUploadBytes = 512 << 20
	uploadPath     = "/storage/v1/upload/resumable/"
)

func (s *Server) createUpload(c echo.Context) error {
	req := c.Request()
	length, err := strconv.ParseInt(req.Header.Get("Upload-Length"), 10, 64)
	if err != nil || length < 0 {
		return c.String(http.StatusBadRequest, "invalid Upload-Length")
	}
	if length > maxUploadBytes {
		return c.String(http.StatusRequestEntityTooLarge, "upload exceeds the maximum size")
	}
	meta, err := uploadout.DecodeMetadata(req.Header.Get("Upload-Metadata"))
	if err != nil {
		return c.String(http.StatusBadRequest, "invalid Upload-Metadata: "+err.Error())
	}
	if meta["bucketName"] == "" || meta["objectName"] == "" {
		return c.String(http.StatusBadRequest, "bucketName and objectName metadata are required")
	}
	key := meta["bucketName"] + "/" + meta["objectName"]
	upsert := req.Header.Get("x-upsert") == "true"

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, exists := s.store.objects[key]; exists && !upsert {
		return c.String(http.StatusConflict, "The resource already exists")
	}
	u := &upload{
		ID:     s.opts.IDs.New().String(),
		Owner:  callerID(c),
		Key:    key,
		Length: length,
		Data:   make([]byte, 0, length),
		Meta:   meta,
		Upsert: upsert,
	}
	s.store.uploads[u.ID] = u
	if length == 0 {
		s.finishLocked(u)
	}
	c.Response().Header().Set("Location", uploadPath+u.ID)
	return c.NoContent(http.StatusCreated)
}

func (s *Server) uploadOffset(c echo.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	u, ok := s.ownedUpload(c)
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	h := c.Response().Header()
	h.Set("Upload-Offset", strconv.FormatInt(u.offset(), 10))
	h.Set("Upload-Length", strconv.FormatInt(u.Length, 10))
	h.Set("Cache-Control", "no-store")
	return c.NoContent(http.StatusOK)
}

func (s *Server) patchUpload(c echo.Context) error {
	req := c.Request()
	if req.Header.Get("Content-Type") != "application/offset+octet-stream" {
		return c.String(http.StatusUnsupportedMediaType, "expected application/offset+octet-stream")
	}
	offset, err := strconv.ParseInt(req.Header.Get("Upload-Offset"), 10, 64)
	if err != nil || offset < 0 {
		return c.String(http.StatusBadRequest, "invalid Upload-Offset")
	}
	chunk, err := io.ReadAll(io.LimitReader(req.Body, maxUploadBytes+1))
	if err != nil {
		return c.String(http.StatusBadRequest, "read body: "+err.Error())
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if s.store.failPatches > 0 {
		s.store.failPatches--
		return c.String(http.StatusServiceUnavailable, "injected failure")
	}
	u, ok := s.ownedUpload(c)
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	if offset != u.offset() {
		return c.String(http.StatusConflict, fmt.Sprintf("offset mismatch: have %d, got %d", u.offset(), offset))
	}
	if u.offset()+int64(len(chunk)) > u.Length {
		return c.String(http.StatusRequestEntityTooLarge, "chunk runs past Upload-Length")
	}
	u.Data = append(u.Data, chunk...)
	if u.offset() == u.Length {
		s.finishLocked(u)
	}
	c.Response().Header().Set("Upload-Offset", strconv.FormatInt(u.offset(), 10))
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) terminateUpload(c echo.Context) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	u, ok := s.ownedUpload(c)
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	delete(s.store.uploads, u.ID)
	return c.NoContent(http.StatusNoContent)
}

// ownedUpload finds the addressed upload when it belongs to the caller. Callers hold the store lock.
func (s *Server) ownedUpload(c echo.Context) (*upload, bool) {
	u, ok := s.store.uploads[c.Param("id")]
	if !ok || u.Owner != callerID(c) {
		return nil, false
	}
	return u, true
}

// finishLocked publishes a complete upload as an object. The upload record
// stays so a late HEAD still reports the final offset.
func (s *Server) finishLocked(u *upload) {
	s.store.objects[u.Key] = append([]byte(nil), u.Data...)
	s.logger.Debug("object stored", "key", u.Key, "bytes", len(u.Data))
}
