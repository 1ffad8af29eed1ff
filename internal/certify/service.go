package certify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"certprint/internal/config"
	fileutil "certprint/internal/file"
	"certprint/internal/record"
	"certprint/internal/storage"
	"certprint/internal/task"
	"certprint/internal/workflow"
)

const uploadTimeout = 2 * time.Minute

// Runner executes one admitted workflow run to a terminal result.
type Runner interface {
	Run(ctx context.Context, req workflow.Request) workflow.Result
}

// CurrentTask describes the task shown by SystemStatus.
type CurrentTask struct {
	UserType     task.Category `json:"user_type"`
	DocumentType string        `json:"document_type"`
	CertName     string        `json:"cert_name"`
	TraceID      string        `json:"trace_id"`
}

// SystemInfo is the status plus the current task, nil while idle.
type SystemInfo struct {
	Status      task.Status  `json:"status"`
	CurrentTask *CurrentTask `json:"current_task"`
}

// Options wires the service. Sink and Uploader are optional.
type Options struct {
	Site     config.Site
	Paths    config.Paths
	Sink     record.Sink
	Uploader storage.Uploader
}

// Service is the control surface of the kiosk: it validates operator input,
// admits a single run and executes it in the background.
type Service struct {
	manager  *task.Manager
	runner   Runner
	site     config.Site
	paths    config.Paths
	sink     record.Sink
	uploader storage.Uploader
	now      func() time.Time

	mu        sync.Mutex
	baseCtx   context.Context
	workersWG sync.WaitGroup
}

func NewService(manager *task.Manager, runner Runner, opts Options) *Service {
	return &Service{
		manager:  manager,
		runner:   runner,
		site:     opts.Site,
		paths:    opts.Paths,
		sink:     opts.Sink,
		uploader: opts.Uploader,
		now:      time.Now,
	}
}

// SetDocumentType records the category and document type for the next
// submission and returns the document's display name.
func (s *Service) SetDocumentType(category task.Category, code string) (string, error) {
	if !category.Valid() {
		return "", ErrInvalidCategory
	}
	doc, ok := s.site.Document(strings.TrimSpace(code))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocumentType, code)
	}
	if !s.manager.SetDocument(category, doc.Code) {
		return "", ErrAlreadyProcessing
	}
	return doc.Name, nil
}

// SubmitCredentials admits a run and starts it in the background. The secret
// is handed to the workflow only and never stored.
func (s *Service) SubmitCredentials(category task.Category, subject, secret string) (string, error) {
	if !category.Valid() {
		return "", ErrInvalidCategory
	}
	subject = strings.TrimSpace(subject)
	if subject == "" || secret == "" {
		return "", ErrMissingCredentials
	}
	current := s.manager.Snapshot()
	if current.Status == task.StatusProcessing {
		return "", ErrAlreadyProcessing
	}
	if current.DocumentType == "" {
		return "", ErrDocumentTypeUnset
	}
	if !s.manager.Admit(subject, category, current.DocumentType) {
		return "", ErrAlreadyProcessing
	}

	admitted := s.manager.Snapshot()
	req := workflow.Request{
		TraceID:      admitted.TraceID,
		Subject:      admitted.Subject,
		Secret:       secret,
		Category:     admitted.Category,
		DocumentType: admitted.DocumentType,
		SystemID:     admitted.SystemID,
	}

	s.workersWG.Add(1)
	go func() {
		defer s.workersWG.Done()
		s.execute(s.baseContext(), req)
	}()
	return admitted.TraceID, nil
}

// Documents returns the document catalog offered to the operator.
func (s *Service) Documents() []config.DocumentType {
	out := make([]config.DocumentType, len(s.site.Documents))
	copy(out, s.site.Documents)
	return out
}

// GetStatus returns the reported task status.
func (s *Service) GetStatus() task.StatusInfo {
	return s.manager.Status()
}

// SystemStatus returns the raw status and the current task descriptor.
func (s *Service) SystemStatus() SystemInfo {
	snap := s.manager.Snapshot()
	info := SystemInfo{Status: snap.Status}
	if snap.Status != task.StatusIdle {
		name := snap.DisplayName
		if name == "" {
			if doc, ok := s.site.Document(snap.DocumentType); ok {
				name = doc.Name
			}
		}
		info.CurrentTask = &CurrentTask{
			UserType:     snap.Category,
			DocumentType: snap.DocumentType,
			CertName:     name,
			TraceID:      snap.TraceID,
		}
	}
	return info
}

// ClearWorkspace purges the scratch, staging and extraction dirs and resets
// the task. The manager is claimed before any I/O so that no run can be
// admitted while the directories are removed.
func (s *Service) ClearWorkspace() error {
	if !s.manager.BeginClear() {
		return ErrAlreadyProcessing
	}
	for _, dir := range []string{s.paths.ExtractDir, s.paths.ScratchDir, s.paths.StagingDir} {
		if dir == "" {
			continue
		}
		if err := fileutil.ResetDir(dir); err != nil {
			s.manager.EndClear(false)
			return fmt.Errorf("clear %s: %w", dir, err)
		}
	}
	s.manager.EndClear(true)
	return nil
}

func (s *Service) SetBaseContext(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()
}

func (s *Service) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// WaitAll waits for the background run to finish or ctx to end.
func (s *Service) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Service) execute(ctx context.Context, req workflow.Request) {
	logger := log.With().Str("trace_id", req.TraceID).Logger()
	logger.Info().Str("user_type", string(req.Category)).Msg("background run started")

	var res workflow.Result
	func() {
		defer func() {
			if p := recover(); p != nil {
				msg := fmt.Sprintf("unexpected fault: %v", p)
				res = workflow.Result{Message: msg, Kind: task.Classify(msg)}
			}
		}()
		res = s.runner.Run(ctx, req)
	}()
	if res.DisplayName == "" {
		if doc, ok := s.site.Document(req.DocumentType); ok {
			res.DisplayName = doc.Name
		}
	}

	if err := s.manager.Complete(res.Success, res.Message, res.DisplayName, res.Kind); err != nil {
		logger.Error().Err(err).Msg("complete task failed")
	}
	s.save(ctx, s.manager.Snapshot())
	if res.Success {
		s.archive(ctx, req.TraceID, res.Printed)
	}
	logger.Info().Bool("success", res.Success).Msg("background run finished")
}

// RecordInterrupted writes the outcome record of a run that the previous
// process left unfinished. A nil task is ignored.
func (s *Service) RecordInterrupted(ctx context.Context, t *task.Task) {
	if t == nil {
		return
	}
	s.save(ctx, *t)
}

// save writes the outcome record. Failures are logged only.
func (s *Service) save(ctx context.Context, snap task.Task) {
	if s.sink == nil {
		return
	}
	rec := record.FromTask(snap, s.now())
	if err := s.sink.Write(context.WithoutCancel(ctx), rec); err != nil {
		log.Error().Str("trace_id", snap.TraceID).Err(err).Msg("save record failed")
	}
}

func (s *Service) archive(ctx context.Context, traceID string, files []string) {
	if s.uploader == nil || len(files) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	defer cancel()
	if err := s.uploader.Upload(ctx, traceID, files); err != nil {
		log.Warn().Str("trace_id", traceID).Err(err).Msg("archive certificates failed")
	}
}
