package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"media-transcription/constant"
	"media-transcription/dto"
	"media-transcription/entities"
	"media-transcription/pipeline"
	"media-transcription/repository"
	"media-transcription/service"
	"media-transcription/trigger"
)

type router struct {
	// base outlives single requests; background batch runs are bound to it.
	base           context.Context
	uploads        service.UploadService
	transcriptions service.TranscriptionService
	orch           pipeline.Orchestrator
	batch          trigger.BatchTrigger
}

func newRouter(base context.Context, uploads service.UploadService, transcriptions service.TranscriptionService, orch pipeline.Orchestrator, batch trigger.BatchTrigger) *router {
	return &router{
		base:           base,
		uploads:        uploads,
		transcriptions: transcriptions,
		orch:           orch,
		batch:          batch,
	}
}

func (rt *router) register(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	media := v1.Group("/media")
	media.POST("/upload", rt.upload)
	media.GET("", rt.listMedia)
	media.GET("/:id", rt.getMedia)
	media.GET("/status/:status", rt.listMediaByStatus)
	media.POST("/:id/reset", rt.resetMedia)

	tr := v1.Group("/transcription")
	tr.GET("", rt.listTranscriptions)
	tr.GET("/statistics", rt.statistics)
	tr.GET("/:id", rt.getTranscription)
	tr.GET("/media/:mediaId", rt.getTranscriptionByMedia)
	tr.GET("/media/:mediaId/status", rt.transcriptionStatus)
	tr.GET("/media/:mediaId/text", rt.transcriptionText)
	tr.DELETE("/media/:mediaId", rt.deleteTranscription)

	v1.POST("/batch/transcription/start", rt.startBatch)
	v1.GET("/batch/transcription/status/:runId", rt.batchStatus)
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, dto.ApiResponse{Success: true, Message: message, Data: data})
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidUpload):
		status = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrInvalidState),
		errors.Is(err, pipeline.ErrConflict),
		errors.Is(err, trigger.ErrRunInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, dto.ApiResponse{Success: false, Message: err.Error()})
}

func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ApiResponse{Success: false, Message: "invalid " + name})
		return 0, false
	}
	return id, true
}

func (rt *router) upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ApiResponse{Success: false, Message: "multipart field \"file\" is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		fail(c, err)
		return
	}
	defer file.Close()

	media, err := rt.uploads.Upload(c.Request.Context(), file, header.Size, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.ApiResponse{Success: true, Message: "File uploaded successfully. Processing will begin shortly.", Data: mediaResponse(media)})
}

func (rt *router) listMedia(c *gin.Context) {
	media, err := rt.uploads.ListMedia(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Media files retrieved successfully", mediaResponses(media))
}

func (rt *router) getMedia(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	media, err := rt.uploads.GetMedia(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Media file retrieved successfully", mediaResponse(media))
}

func (rt *router) listMediaByStatus(c *gin.Context) {
	status, valid := constant.ParseMediaStatus(c.Param("status"))
	if !valid {
		c.JSON(http.StatusBadRequest, dto.ApiResponse{Success: false, Message: "invalid status " + c.Param("status")})
		return
	}
	media, err := rt.uploads.ListMediaByStatus(c.Request.Context(), status)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Media files retrieved successfully", mediaResponses(media))
}

func (rt *router) resetMedia(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := rt.orch.Reset(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	media, err := rt.uploads.GetMedia(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Media file reset for reprocessing", mediaResponse(media))
}

func (rt *router) listTranscriptions(c *gin.Context) {
	results, err := rt.transcriptions.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]dto.TranscriptionResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, resultResponse(r))
	}
	ok(c, "Transcriptions retrieved successfully", out)
}

func (rt *router) getTranscription(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	result, err := rt.transcriptions.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Transcription retrieved successfully", resultResponse(result))
}

func (rt *router) getTranscriptionByMedia(c *gin.Context) {
	id, valid := pathID(c, "mediaId")
	if !valid {
		return
	}
	result, err := rt.transcriptions.GetByMediaID(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Transcription retrieved successfully", resultResponse(result))
}

func (rt *router) transcriptionStatus(c *gin.Context) {
	id, valid := pathID(c, "mediaId")
	if !valid {
		return
	}
	status, err := rt.transcriptions.Status(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Status retrieved successfully", status)
}

func (rt *router) transcriptionText(c *gin.Context) {
	id, valid := pathID(c, "mediaId")
	if !valid {
		return
	}
	result, err := rt.transcriptions.GetByMediaID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.String(http.StatusNotFound, "Transcription not found")
			return
		}
		fail(c, err)
		return
	}
	c.String(http.StatusOK, result.Transcript)
}

func (rt *router) deleteTranscription(c *gin.Context) {
	id, valid := pathID(c, "mediaId")
	if !valid {
		return
	}
	if err := rt.transcriptions.Delete(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	ok(c, "Transcription deleted successfully", nil)
}

func (rt *router) statistics(c *gin.Context) {
	stats, err := rt.transcriptions.Statistics(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, "Statistics retrieved successfully", stats)
}

func (rt *router) startBatch(c *gin.Context) {
	report, err := rt.batch.Start(rt.base)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.ApiResponse{Success: true, Message: "Batch transcription run started", Data: report})
}

func (rt *router) batchStatus(c *gin.Context) {
	report, found := rt.batch.Report(c.Param("runId"))
	if !found {
		c.JSON(http.StatusNotFound, dto.ApiResponse{Success: false, Message: "batch run not found: " + c.Param("runId")})
		return
	}
	ok(c, "Batch run status retrieved successfully", report)
}

func mediaResponse(m *entities.MediaFile) dto.MediaFileResponse {
	return dto.MediaFileResponse{
		ID:               m.ID,
		OriginalFilename: m.OriginalFilename,
		MediaType:        string(m.MediaKind),
		Status:           m.Status.String(),
		FileSize:         m.SizeBytes,
		UploadedAt:       m.UploadedAt,
		CompletedAt:      m.CompletedAt,
		ErrorMessage:     m.ErrorMessage,
		RetryCount:       m.RetryCount,
	}
}

func mediaResponses(media []*entities.MediaFile) []dto.MediaFileResponse {
	out := make([]dto.MediaFileResponse, 0, len(media))
	for _, m := range media {
		out = append(out, mediaResponse(m))
	}
	return out
}

func resultResponse(r *entities.TranscriptionResult) dto.TranscriptionResultResponse {
	return dto.TranscriptionResultResponse{
		ID:               r.ID,
		MediaFileID:      r.MediaFileID,
		Transcript:       r.Transcript,
		Language:         r.Language,
		Confidence:       r.Confidence,
		WordCount:        r.WordCount,
		ProcessingTimeMs: r.ProcessingTimeMs,
		CompletedAt:      r.CompletedAt,
	}
}
