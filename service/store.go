package service

import (
	"sort"
	"sync"
	"time"

	"github.com/kelezhuo/ocrservice/config"
	"github.com/kelezhuo/ocrservice/model"
)

// JobStore is an in-memory registry of extraction jobs.
// In production, this should be replaced with a database.
type JobStore struct {
	jobs    map[string]*model.Job
	mu      sync.RWMutex
	maxJobs int // maximum jobs to keep, 0 = unlimited
}

// NewJobStore creates a job store bounded by cfg.MaxJobs.
func NewJobStore(cfg *config.StoreConfig) *JobStore {
	maxJobs := cfg.MaxJobs
	if maxJobs < 0 {
		maxJobs = 0
	}
	return &JobStore{
		jobs:    make(map[string]*model.Job),
		maxJobs: maxJobs,
	}
}

func (s *JobStore) Save(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.UpdatedAt = time.Now()
	stored := *job
	s.jobs[job.ID] = &stored

	s.evictIfNeeded()
}

// Get returns a snapshot of the job, or nil if unknown. Readers get a
// copy: the processing goroutine keeps mutating the stored record, so
// handing out the live pointer would race with handlers marshaling it.
func (s *JobStore) Get(id string) *model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyJob(s.jobs[id])
}

// GetByTenant returns snapshots of all jobs owned by tenant.
func (s *JobStore) GetByTenant(tenant string) []*model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Job
	for _, j := range s.jobs {
		if j.Tenant == tenant {
			result = append(result, copyJob(j))
		}
	}
	return result
}

func copyJob(j *model.Job) *model.Job {
	if j == nil {
		return nil
	}
	c := *j
	c.SavedFiles = append([]string(nil), j.SavedFiles...)
	c.ArtifactURLs = append([]string(nil), j.ArtifactURLs...)
	return &c
}

func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

func (s *JobStore) UpdateStatus(id, status string, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = status
		j.ErrorMsg = errMsg
		j.UpdatedAt = time.Now()
	}
}

// Complete records a successful extraction outcome on the job.
func (s *JobStore) Complete(id string, result *ProcessResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = model.StatusCompleted
		j.Text = result.Text
		j.TotalPages = result.TotalPages
		j.ProcessedPages = result.ProcessedPages
		j.IsOversized = result.IsOversized
		j.CharCount = result.CharCount
		j.ImageCount = result.ImageCount
		j.SavedFiles = result.SavedFiles
		j.MineruTaskID = result.TaskID
		j.ErrorMsg = ""
		j.UpdatedAt = time.Now()
	}
}

func (s *JobStore) SetArtifactURLs(id string, urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.ArtifactURLs = urls
		j.UpdatedAt = time.Now()
	}
}

// evictIfNeeded removes oldest jobs if the store exceeds maxJobs.
// Must be called with lock held.
func (s *JobStore) evictIfNeeded() {
	if s.maxJobs <= 0 {
		return
	}
	if len(s.jobs) <= s.maxJobs {
		return
	}

	jobs := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	for _, j := range jobs[:len(jobs)-s.maxJobs] {
		delete(s.jobs, j.ID)
	}
}
