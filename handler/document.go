package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kelezhuo/ocrservice/config"
	"github.com/kelezhuo/ocrservice/middleware"
	"github.com/kelezhuo/ocrservice/model"
	"github.com/kelezhuo/ocrservice/pkg/logger"
	"github.com/kelezhuo/ocrservice/service"
)

type DocumentHandler struct {
	mineruService *service.MineruService
	artifacts     *service.ArtifactStore // nil when archival is not configured
	store         *service.JobStore
	config        *config.Config
}

func NewDocumentHandler(mineruSvc *service.MineruService, artifacts *service.ArtifactStore, store *service.JobStore, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{
		mineruService: mineruSvc,
		artifacts:     artifacts,
		store:         store,
		config:        cfg,
	}
}

// Upload accepts a PDF, registers a job and starts the extraction workflow
// asynchronously.
func (h *DocumentHandler) Upload(c *gin.Context) {
	tenant := middleware.GetTenant(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	if strings.ToLower(filepath.Ext(header.Filename)) != ".pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are allowed"})
		return
	}

	maxPages := 0
	if v := c.PostForm("max_pages"); v != "" {
		maxPages, err = strconv.Atoi(v)
		if err != nil || maxPages < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid max_pages"})
			return
		}
	}
	documentID := c.PostForm("document_id")

	jobID := uuid.New().String()

	// Stage the upload under the temp dir so the workflow reads from disk.
	uploadDir := filepath.Join(h.config.Mineru.TempDir, jobID)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file: " + err.Error()})
		return
	}
	localPath := filepath.Join(uploadDir, filepath.Base(header.Filename))
	if err := c.SaveUploadedFile(header, localPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file: " + err.Error()})
		return
	}

	job := &model.Job{
		ID:        jobID,
		Filename:  header.Filename,
		Tenant:    tenant,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	h.store.Save(job)

	go h.processDocument(job, localPath, maxPages, documentID)

	c.JSON(http.StatusAccepted, gin.H{
		"id":       jobID,
		"filename": header.Filename,
		"status":   model.StatusPending,
	})
}

// processDocument runs the extraction workflow for one job.
func (h *DocumentHandler) processDocument(job *model.Job, localPath string, maxPages int, documentID string) {
	ctx := logger.WithJobID(context.Background(), job.ID)
	defer os.RemoveAll(filepath.Dir(localPath))

	h.store.UpdateStatus(job.ID, model.StatusProcessing, "")

	outputDir := ""
	if h.config.Mineru.ResultsDir != "" {
		outputDir = filepath.Join(h.config.Mineru.ResultsDir, job.ID)
	}

	result, err := h.mineruService.Process(ctx, service.ProcessRequest{
		Path:       localPath,
		MaxPages:   maxPages,
		OutputDir:  outputDir,
		DocumentID: documentID,
	})
	if err != nil {
		logger.Error(ctx, "extraction failed", "error", err)
		h.store.UpdateStatus(job.ID, model.StatusFailed, err.Error())
		return
	}

	h.store.Complete(job.ID, result)

	// Archival is best-effort: the job already completed.
	if h.artifacts != nil && len(result.SavedFiles) > 0 {
		urls, err := h.artifacts.StoreResults(ctx, job.ID, result.SavedFiles)
		if err != nil {
			logger.Warn(ctx, "artifact archival failed", "error", err)
		}
		if len(urls) > 0 {
			h.store.SetArtifactURLs(job.ID, urls)
		}
	}
}

// List returns all jobs for the current tenant
func (h *DocumentHandler) List(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	jobs := h.store.GetByTenant(tenant)

	// Return without extracted text for list view
	result := make([]gin.H, len(jobs))
	for i, job := range jobs {
		result[i] = gin.H{
			"id":         job.ID,
			"filename":   job.Filename,
			"status":     job.Status,
			"created_at": job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at": job.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"documents": result})
}

// Get returns a single job including the extracted text
func (h *DocumentHandler) Get(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	id := c.Param("id")

	job := h.store.Get(id)
	if job == nil || job.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// GetStatus returns the processing status of a job
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	id := c.Param("id")

	job := h.store.Get(id)
	if job == nil || job.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":              job.ID,
		"status":          job.Status,
		"total_pages":     job.TotalPages,
		"processed_pages": job.ProcessedPages,
		"is_oversized":    job.IsOversized,
		"char_count":      job.CharCount,
		"image_count":     job.ImageCount,
		"error_msg":       job.ErrorMsg,
	})
}

// Delete removes a job record
func (h *DocumentHandler) Delete(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	id := c.Param("id")

	job := h.store.Get(id)
	if job == nil || job.Tenant != tenant {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	h.store.Delete(id)

	// Archived copies go with the record. Best-effort: the record is
	// already gone either way.
	if h.artifacts != nil && len(job.SavedFiles) > 0 {
		if err := h.artifacts.DeleteResults(c.Request.Context(), id, job.SavedFiles); err != nil {
			logger.Warn(c.Request.Context(), "artifact cleanup failed", "error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}
