package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kelezhuo/ocrservice/config"
	"github.com/kelezhuo/ocrservice/pkg/logger"
)

// API endpoints under the MinerU base URL
const (
	uploadEndpoint = "/api/v4/file-urls/batch"
	taskEndpoint   = "/api/v4/extract/task"
)

// Fixed recognition options submitted with every task
const (
	layoutModel  = "doclayout_yolo"
	taskLanguage = "ch"
)

// processingStates are the task states known to be non-terminal. Anything
// outside this set that is not done/failed aborts the poll loop instead of
// spinning until timeout.
var processingStates = map[string]bool{
	"pending":      true,
	"running":      true,
	"converting":   true,
	"waiting-file": true,
}

type MineruService struct {
	config     *config.MineruConfig
	httpClient *http.Client
	// Result artifacts (markdown, image ZIP) come from object storage and
	// can be large, so they get a more generous timeout.
	downloadClient *http.Client
	// pageCount is swappable so tests do not need real PDF fixtures.
	pageCount func(path string) (int, error)
}

// ProcessRequest describes one document extraction run.
type ProcessRequest struct {
	Path       string // local PDF path
	MaxPages   int    // soft page limit, 0 = config default
	OutputDir  string // empty = fresh temp directory
	DocumentID string // used for artifact naming, empty = unknown
}

// ProcessResult is the outcome of a successful extraction run.
type ProcessResult struct {
	Text           string   `json:"text"`
	TotalPages     int      `json:"total_pages"`
	ProcessedPages int      `json:"processed_pages"`
	IsOversized    bool     `json:"is_oversized"`
	CharCount      int      `json:"char_count"`
	ImageCount     int      `json:"image_count"`
	SavedFiles     []string `json:"saved_files"`
	OutputDir      string   `json:"output_dir"`
	TaskID         string   `json:"task_id"`
}

type batchUploadRequest struct {
	Files []batchUploadFile `json:"files"`
}

type batchUploadFile struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsOCR bool   `json:"is_ocr"`
}

type batchUploadResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Files []struct {
			PresignedURL string `json:"presigned_url"`
			URL          string `json:"url"`
		} `json:"files"`
	} `json:"data"`
}

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL           string `json:"url"`
	IsOCR         bool   `json:"is_ocr"`
	EnableFormula bool   `json:"enable_formula"`
	EnableTable   bool   `json:"enable_table"`
	LayoutModel   string `json:"layout_model"`
	Language      string `json:"language"`
}

type taskCreateResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// TaskResult is the task status payload reported by the provider.
type TaskResult struct {
	TaskID     string `json:"task_id"`
	State      string `json:"state"` // pending, running, converting, done, failed
	Progress   int    `json:"progress,omitempty"`
	ErrMsg     string `json:"err_msg,omitempty"`
	FullZipURL string `json:"full_zip_url,omitempty"`
	MDURL      string `json:"md_url,omitempty"`
}

type taskStatusResponse struct {
	Code int        `json:"code"`
	Msg  string     `json:"msg"`
	Data TaskResult `json:"data"`
}

func NewMineruService(cfg *config.MineruConfig) *MineruService {
	return &MineruService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		downloadClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		pageCount: PageCount,
	}
}

// Process runs the full extraction workflow for one PDF: page count, upload,
// task creation, polling and result download. On failure it returns a
// *ProcessError whose Kind names the phase that failed; no partially filled
// result is ever returned alongside an error.
func (s *MineruService) Process(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	if s.config.APIKey == "" {
		return nil, &ProcessError{Kind: ErrKindConfiguration, Message: "MINERU_API_KEY not configured"}
	}

	totalPages, err := s.pageCount(req.Path)
	if err != nil {
		return nil, &ProcessError{Kind: ErrKindInternal, Message: "failed to read PDF page count", Err: err}
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = s.config.MaxPages
	}
	isOversized := totalPages > maxPages
	if isOversized {
		logger.Warn(ctx, "document exceeds page limit, processing anyway",
			"total_pages", totalPages, "max_pages", maxPages)
	}

	outputDir := req.OutputDir
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return nil, &ProcessError{Kind: ErrKindInternal, Message: "failed to create output directory", Err: err}
		}
	} else {
		outputDir, err = os.MkdirTemp("", "ocr_result_*")
		if err != nil {
			return nil, &ProcessError{Kind: ErrKindInternal, Message: "failed to create output directory", Err: err}
		}
	}

	logger.Info(ctx, "starting extraction", "path", req.Path, "total_pages", totalPages, "output_dir", outputDir)

	fileURL, err := s.UploadFile(ctx, req.Path)
	if err != nil {
		return nil, &ProcessError{Kind: ErrKindUpload, Message: "Failed to upload file", Err: err}
	}

	taskID, err := s.CreateTask(ctx, fileURL)
	if err != nil {
		return nil, &ProcessError{Kind: ErrKindTaskCreation, Message: "Failed to create task", Err: err}
	}

	ctx = logger.WithTaskID(ctx, taskID)
	task, err := s.PollTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	text, savedFiles := s.downloadResult(ctx, task, outputDir, req.DocumentID)
	if text == "" {
		docID := req.DocumentID
		if docID == "" {
			docID = "document"
		}
		text = fmt.Sprintf("# OCR Analysis for %s\n\nProcessing completed but no text content was extracted.", docID)
	}

	imageCount := 0
	for _, f := range savedFiles {
		if !strings.HasSuffix(f, ".md") {
			imageCount++
		}
	}

	// Characters, not bytes: extracted text is mostly multibyte.
	charCount := utf8.RuneCountInString(text)

	logger.Info(ctx, "extraction completed",
		"total_pages", totalPages, "char_count", charCount, "image_count", imageCount)

	return &ProcessResult{
		Text:           text,
		TotalPages:     totalPages,
		ProcessedPages: totalPages, // the provider has no partial-page concept
		IsOversized:    isOversized,
		CharCount:      charCount,
		ImageCount:     imageCount,
		SavedFiles:     savedFiles,
		OutputDir:      outputDir,
		TaskID:         taskID,
	}, nil
}

// UploadFile requests a one-time upload slot, streams the file to the
// presigned URL and returns the stable read URL.
func (s *MineruService) UploadFile(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	reqBody := batchUploadRequest{
		Files: []batchUploadFile{{
			Name:  filepath.Base(path),
			Size:  info.Size(),
			IsOCR: true,
		}},
	}

	var result batchUploadResponse
	if err := s.postJSON(ctx, uploadEndpoint, reqBody, &result); err != nil {
		return "", err
	}
	if result.Code != 0 {
		return "", &apiError{code: result.Code, msg: result.Msg}
	}
	if len(result.Data.Files) == 0 {
		return "", fmt.Errorf("upload response contains no file slot")
	}

	slot := result.Data.Files[0]
	if slot.PresignedURL == "" || slot.URL == "" {
		return "", fmt.Errorf("upload response missing presigned or read URL")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	// Raw binary PUT to storage, not the provider's JSON API.
	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.PresignedURL, f)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	putReq.ContentLength = info.Size()
	putReq.Header.Set("Content-Type", "application/pdf")

	resp, err := s.downloadClient.Do(putReq)
	if err != nil {
		return "", fmt.Errorf("failed to upload to presigned URL: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("presigned upload returned status %d", resp.StatusCode)
	}

	logger.Info(ctx, "file uploaded", "name", filepath.Base(path), "size", info.Size())
	return slot.URL, nil
}

// CreateTask submits an extraction task for the uploaded file and returns
// the provider-assigned task ID.
func (s *MineruService) CreateTask(ctx context.Context, fileURL string) (string, error) {
	reqBody := MineruTaskRequest{
		URL:           fileURL,
		IsOCR:         true,
		EnableFormula: s.config.FormulaEnabled(),
		EnableTable:   true,
		LayoutModel:   layoutModel,
		Language:      taskLanguage,
	}

	var result taskCreateResponse
	if err := s.postJSON(ctx, taskEndpoint, reqBody, &result); err != nil {
		return "", err
	}
	if result.Code != 0 {
		return "", &apiError{code: result.Code, msg: result.Msg}
	}
	if result.Data.TaskID == "" {
		return "", fmt.Errorf("task response missing task_id")
	}

	logger.Info(ctx, "extraction task created", "task_id", result.Data.TaskID)
	return result.Data.TaskID, nil
}

// GetTaskStatus queries the current state of a task.
func (s *MineruService) GetTaskStatus(ctx context.Context, taskID string) (*TaskResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s%s/%s", s.config.BaseURL, taskEndpoint, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Accept", "*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result taskStatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	if result.Code != 0 {
		return nil, &apiError{code: result.Code, msg: result.Msg}
	}

	return &result.Data, nil
}

// PollTask queries task status at the configured interval until the task
// reaches a terminal state, the wall-clock timeout elapses or the context is
// cancelled. Transport errors are logged and retried; envelope errors and
// unrecognized states are terminal.
func (s *MineruService) PollTask(ctx context.Context, taskID string) (*TaskResult, error) {
	deadline := time.Now().Add(s.config.Timeout())

	for time.Now().Before(deadline) {
		task, err := s.GetTaskStatus(ctx, taskID)
		if err != nil {
			var ae *apiError
			if errors.As(err, &ae) {
				return nil, &ProcessError{Kind: ErrKindTaskFailed, Message: "task failed or timed out", Err: ae}
			}
			logger.Warn(ctx, "task status poll failed, retrying", "error", err)
		} else {
			switch task.State {
			case "done":
				logger.Info(ctx, "task completed")
				return task, nil
			case "failed":
				errMsg := task.ErrMsg
				if errMsg == "" {
					errMsg = "unknown error"
				}
				return nil, &ProcessError{
					Kind:    ErrKindTaskFailed,
					Message: "task failed or timed out",
					Err:     fmt.Errorf("provider reported failure: %s", errMsg),
				}
			default:
				if !processingStates[task.State] {
					return nil, &ProcessError{
						Kind:    ErrKindTaskFailed,
						Message: "task failed or timed out",
						Err:     fmt.Errorf("unrecognized task state %q", task.State),
					}
				}
				logger.Debug(ctx, "task in progress", "state", task.State, "progress", task.Progress)
			}
		}

		select {
		case <-ctx.Done():
			return nil, &ProcessError{Kind: ErrKindPollTimeout, Message: "task failed or timed out", Err: ctx.Err()}
		case <-time.After(s.config.PollInterval()):
		}
	}

	logger.Warn(ctx, "task polling timed out", "timeout", s.config.Timeout())
	return nil, &ProcessError{
		Kind:    ErrKindPollTimeout,
		Message: "task failed or timed out",
		Err:     fmt.Errorf("no terminal state after %s", s.config.Timeout()),
	}
}

// downloadResult fetches the markdown and image artifacts of a completed
// task into outputDir. This phase degrades gracefully: failures are logged
// and whatever was obtained so far is returned.
func (s *MineruService) downloadResult(ctx context.Context, task *TaskResult, outputDir, documentID string) (string, []string) {
	var savedFiles []string
	var markdown string

	if task.MDURL != "" {
		body, err := s.fetchBody(ctx, task.MDURL)
		if err != nil {
			logger.Warn(ctx, "markdown download failed", "url", task.MDURL, "error", err)
		} else {
			markdown = string(body)
			base := documentID
			if base == "" {
				base = "document"
			}
			mdPath := filepath.Join(outputDir, base+"_mineru.md")
			if err := os.WriteFile(mdPath, body, 0o644); err != nil {
				logger.Warn(ctx, "failed to save markdown", "path", mdPath, "error", err)
			} else {
				savedFiles = append(savedFiles, mdPath)
				logger.Info(ctx, "markdown saved", "path", mdPath)
			}
		}
	}

	if task.FullZipURL != "" {
		images, err := s.extractImages(ctx, task.FullZipURL, outputDir)
		if err != nil {
			logger.Warn(ctx, "image archive download failed", "url", task.FullZipURL, "error", err)
		} else {
			logger.Info(ctx, "images extracted", "count", len(images))
		}
		savedFiles = append(savedFiles, images...)
	}

	return markdown, savedFiles
}

// extractImages downloads the result ZIP and writes every image entry into
// the imgs subdirectory of outputDir. Non-image entries are skipped.
func (s *MineruService) extractImages(ctx context.Context, zipURL, outputDir string) ([]string, error) {
	data, err := s.fetchBody(ctx, zipURL)
	if err != nil {
		return nil, err
	}

	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP: %w", err)
	}

	imgsDir := filepath.Join(outputDir, "imgs")
	if err := os.MkdirAll(imgsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create imgs directory: %w", err)
	}

	var saved []string
	for _, file := range zipReader.File {
		if !isImageName(file.Name) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			logger.Warn(ctx, "failed to open ZIP entry", "name", file.Name, "error", err)
			continue
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			logger.Warn(ctx, "failed to read ZIP entry", "name", file.Name, "error", err)
			continue
		}

		dst := filepath.Join(imgsDir, filepath.Base(file.Name))
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			logger.Warn(ctx, "failed to save image", "path", dst, "error", err)
			continue
		}
		saved = append(saved, dst)
	}

	return saved, nil
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return true
	}
	return false
}

// postJSON sends an authorized JSON request to the provider API and decodes
// the envelope into out.
func (s *MineruService) postJSON(ctx context.Context, endpoint string, in, out any) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}
	return nil
}

// fetchBody downloads a result artifact from a direct (already authorized)
// URL.
func (s *MineruService) fetchBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return body, nil
}
