package autofix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"gorm.io/datatypes"

	"github.com/lumia-chat/sentinel/internal/auth"
	"github.com/lumia-chat/sentinel/internal/clients"
	"github.com/lumia-chat/sentinel/internal/models"
	"github.com/lumia-chat/sentinel/internal/trace"
)

const (
	defaultWindow           = 15 * time.Minute
	defaultMinOccurrences   = 3
	defaultMaxProposals     = 3
	defaultMaxTracePaths    = 3
	defaultMaxContextFiles  = 2
	defaultDiagnosisTimeout = 60 * time.Second
	defaultQualityFloor     = 8.0
)

// ErrNotPending is returned when an approve or reject lands on a fix
// that already left the pending state.
var ErrNotPending = errors.New("fix is not awaiting approval")

type ErrorSource interface {
	FixCandidates(ctx context.Context, window time.Duration, minCount, limit int) ([]models.ErrorLog, error)
}

type FixSource interface {
	Create(ctx context.Context, fix *models.PendingFix) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PendingFix, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status, prURL, branchName string) error
	SetNotificationID(ctx context.Context, id uuid.UUID, notificationID string) error
}

type LLM interface {
	Complete(ctx context.Context, system, user string, maxTokens int64) (string, error)
}

type SourceControl interface {
	ReadFile(ctx context.Context, path, ref string) (string, string, error)
	HeadSHA(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, name, sha string) error
	CommitFile(ctx context.Context, branch, path, fileSHA, content, message string) error
	OpenPullRequest(ctx context.Context, title, body, head, base string) (string, error)
}

type Notifier interface {
	SendAdmin(ctx context.Context, text string, actions []clients.Action) (string, error)
}

// Config carries the repository and approval-link settings plus the
// pipeline tunables. Zero tunables fall back to the defaults above.
type Config struct {
	Enabled        bool
	BaseBranch     string
	RepoPrefix     string
	ProtectedPaths []string
	PublicBaseURL  string
	TokenSecret    []byte
	TokenTTL       time.Duration

	Window           time.Duration
	MinOccurrences   int
	MaxProposals     int
	MaxTracePaths    int
	MaxContextFiles  int
	DiagnosisTimeout time.Duration
	QualityFloor     float64
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = defaultWindow
	}
	if c.MinOccurrences <= 0 {
		c.MinOccurrences = defaultMinOccurrences
	}
	if c.MaxProposals <= 0 {
		c.MaxProposals = defaultMaxProposals
	}
	if c.MaxTracePaths <= 0 {
		c.MaxTracePaths = defaultMaxTracePaths
	}
	if c.MaxContextFiles <= 0 {
		c.MaxContextFiles = defaultMaxContextFiles
	}
	if c.DiagnosisTimeout <= 0 {
		c.DiagnosisTimeout = defaultDiagnosisTimeout
	}
	if c.QualityFloor <= 0 {
		c.QualityFloor = defaultQualityFloor
	}
	return c
}

type Service struct {
	errStore ErrorSource
	fixes    FixSource
	llm      LLM
	repo     SourceControl
	notifier Notifier
	tracer   *trace.Recorder
	cfg      Config
	log      *slog.Logger
}

func NewService(errStore ErrorSource, fixes FixSource, llm LLM, repo SourceControl, notifier Notifier, tracer *trace.Recorder, cfg Config, log *slog.Logger) *Service {
	return &Service{
		errStore: errStore,
		fixes:    fixes,
		llm:      llm,
		repo:     repo,
		notifier: notifier,
		tracer:   tracer,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// RunOnce proposes fixes for the current crop of candidates and returns
// how many proposals went out. One bad candidate never blocks the rest.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	if !s.cfg.Enabled {
		return 0, nil
	}

	candidates, err := s.errStore.FixCandidates(ctx, s.cfg.Window, s.cfg.MinOccurrences, s.cfg.MaxProposals)
	if err != nil {
		return 0, fmt.Errorf("failed to load fix candidates: %w", err)
	}

	proposed := 0
	for i := range candidates {
		if s.propose(ctx, &candidates[i]) {
			proposed++
		}
	}
	if proposed > 0 {
		s.log.Info("fix proposals sent", "count", proposed)
	}
	return proposed, nil
}

func (s *Service) propose(ctx context.Context, entry *models.ErrorLog) bool {
	paths := ExtractPaths(entry.Traceback, s.cfg.RepoPrefix, s.cfg.ProtectedPaths, s.cfg.MaxTracePaths)
	if len(paths) == 0 {
		return false
	}

	// From here on real work happens, so the flow is traced. Log calls take
	// ctx so captured errors carry the trace id.
	ctx, t := s.tracer.Start(ctx, 0, "autofix.diagnose", "")
	defer s.tracer.Finish(ctx, t)

	fetchDone := t.Span("fetch_context")
	var files []fetchedFile
	for _, path := range paths {
		if len(files) == s.cfg.MaxContextFiles {
			break
		}
		content, _, err := s.repo.ReadFile(ctx, path, s.cfg.BaseBranch)
		if err != nil {
			s.log.WarnContext(ctx, "failed to fetch candidate file", "path", path, "error", err)
			continue
		}
		files = append(files, fetchedFile{Path: path, Content: content})
	}
	fetchDone(map[string]interface{}{"files": len(files)})
	if len(files) == 0 {
		return false
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.cfg.DiagnosisTimeout)
	defer cancel()
	llmDone := t.Span("diagnose")
	raw, err := s.llm.Complete(llmCtx, diagnosisSystemPrompt, buildPrompt(entry, files), diagnosisMaxTokens)
	llmDone(map[string]interface{}{"error_key": entry.ErrorKey})
	if err != nil {
		s.log.ErrorContext(ctx, "diagnosis request failed", "error_key", entry.ErrorKey, "error", err)
		return false
	}

	diag, err := parseDiagnosis(raw, s.cfg.QualityFloor)
	if err != nil {
		if errors.Is(err, ErrLowConfidence) || errors.Is(err, ErrWeakFix) {
			s.log.InfoContext(ctx, "diagnosis discarded", "error_key", entry.ErrorKey, "reason", err)
		} else {
			s.log.WarnContext(ctx, "diagnosis rejected", "error_key", entry.ErrorKey, "error", err)
		}
		return false
	}
	// The model may point at a file it was not shown; only fetched,
	// unprotected paths may be patched.
	if s.isProtected(diag.FilePath) {
		s.log.WarnContext(ctx, "diagnosis targets a protected file", "error_key", entry.ErrorKey, "path", diag.FilePath)
		return false
	}
	if !hasFile(files, diag.FilePath) {
		s.log.WarnContext(ctx, "diagnosis targets an unfetched file", "error_key", entry.ErrorKey, "path", diag.FilePath)
		return false
	}

	fix, err := s.storeFix(ctx, entry, diag)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to store pending fix", "error_key", entry.ErrorKey, "error", err)
		return false
	}

	actions, err := s.actionLinks(fix.ID)
	if err == nil {
		var msgID string
		msgID, err = s.notifier.SendAdmin(ctx, formatProposal(entry, diag), actions)
		if err == nil {
			if nerr := s.fixes.SetNotificationID(ctx, fix.ID, msgID); nerr != nil {
				s.log.WarnContext(ctx, "failed to record notification id", "fix_id", fix.ID, "error", nerr)
			}
			s.log.InfoContext(ctx, "fix proposed", "fix_id", fix.ID, "error_key", entry.ErrorKey, "file", diag.FilePath)
			return true
		}
	}

	// A proposal nobody saw can never be approved.
	s.log.ErrorContext(ctx, "failed to deliver fix proposal", "fix_id", fix.ID, "error", err)
	if uerr := s.fixes.UpdateStatus(ctx, fix.ID, models.FixStatusFailed, "", ""); uerr != nil {
		s.log.ErrorContext(ctx, "failed to mark fix failed", "fix_id", fix.ID, "error", uerr)
	}
	return false
}

func (s *Service) storeFix(ctx context.Context, entry *models.ErrorLog, diag *Diagnosis) (*models.PendingFix, error) {
	quality, err := json.Marshal(map[string]interface{}{
		"dimensions": diag.Quality,
		"score":      diag.QualityScore,
		"weak":       diag.QualityWeak,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode quality review: %w", err)
	}

	fix := &models.PendingFix{
		ErrorLogID:   entry.ID,
		ErrorKey:     entry.ErrorKey,
		Diagnosis:    diag.Diagnosis,
		FilePath:     diag.FilePath,
		OriginalCode: diag.OriginalCode,
		FixedCode:    diag.FixedCode,
		DiffSummary:  diag.DiffSummary,
		Confidence:   diag.Confidence,
		Quality:      datatypes.JSON(quality),
		Status:       models.FixStatusPending,
	}
	if err := s.fixes.Create(ctx, fix); err != nil {
		return nil, err
	}
	return fix, nil
}

// Approve moves a pending fix through branch, commit and pull request.
// Any failing step parks the fix as failed so it cannot be retried into
// a half-applied state.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*models.PendingFix, error) {
	fix, err := s.fixes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if fix.Status != models.FixStatusPending {
		return nil, ErrNotPending
	}
	if err := s.fixes.UpdateStatus(ctx, id, models.FixStatusApproved, "", ""); err != nil {
		return nil, err
	}

	prURL, branch, err := s.apply(ctx, fix)
	if err != nil {
		if uerr := s.fixes.UpdateStatus(ctx, id, models.FixStatusFailed, "", ""); uerr != nil {
			s.log.Error("failed to mark fix failed", "fix_id", id, "error", uerr)
		}
		s.notifyAdmin(ctx, fmt.Sprintf("❌ Fix <code>%s</code> could not be applied: %s",
			fix.ID, html.EscapeString(err.Error())))
		return nil, fmt.Errorf("failed to apply fix %s: %w", id, err)
	}

	if err := s.fixes.UpdateStatus(ctx, id, models.FixStatusApplied, prURL, branch); err != nil {
		return nil, err
	}
	s.log.Info("fix applied", "fix_id", id, "pr_url", prURL, "branch", branch)
	s.notifyAdmin(ctx, fmt.Sprintf("✅ Fix applied, review the pull request:\n%s", prURL))

	fix.Status = models.FixStatusApplied
	fix.PRURL = prURL
	fix.BranchName = branch
	return fix, nil
}

// Reject closes a pending fix without touching the repository.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*models.PendingFix, error) {
	fix, err := s.fixes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if fix.Status != models.FixStatusPending {
		return nil, ErrNotPending
	}
	if err := s.fixes.UpdateStatus(ctx, id, models.FixStatusRejected, "", ""); err != nil {
		return nil, err
	}
	s.log.Info("fix rejected", "fix_id", id)

	fix.Status = models.FixStatusRejected
	return fix, nil
}

func (s *Service) apply(ctx context.Context, fix *models.PendingFix) (string, string, error) {
	branch := "fix/" + clip(fix.ErrorKey, 40)

	sha, err := s.repo.HeadSHA(ctx, s.cfg.BaseBranch)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve base branch: %w", err)
	}
	if err := s.repo.CreateBranch(ctx, branch, sha); err != nil {
		return "", "", err
	}

	content, fileSHA, err := s.repo.ReadFile(ctx, fix.FilePath, branch)
	if err != nil {
		return "", "", err
	}
	// The file may have moved on since the diagnosis. Only a verbatim
	// match may be replaced, and only its first occurrence.
	if !strings.Contains(content, fix.OriginalCode) {
		return "", "", fmt.Errorf("original code no longer present in %s", fix.FilePath)
	}
	updated := strings.Replace(content, fix.OriginalCode, fix.FixedCode, 1)

	message := fmt.Sprintf("fix(%s): %s", clip(fix.ErrorKey, 30), clip(fix.Diagnosis, 50))
	if err := s.repo.CommitFile(ctx, branch, fix.FilePath, fileSHA, updated, message); err != nil {
		return "", "", err
	}

	title := fmt.Sprintf("fix: %s", clip(fix.Diagnosis, 60))
	prURL, err := s.repo.OpenPullRequest(ctx, title, prBody(fix), branch, s.cfg.BaseBranch)
	if err != nil {
		return "", "", err
	}
	return prURL, branch, nil
}

func (s *Service) isProtected(path string) bool {
	for _, p := range s.cfg.ProtectedPaths {
		if path == p {
			return true
		}
	}
	return false
}

func hasFile(files []fetchedFile, path string) bool {
	for _, f := range files {
		if f.Path == path {
			return true
		}
	}
	return false
}

func (s *Service) actionLinks(fixID uuid.UUID) ([]clients.Action, error) {
	approve, err := s.actionURL(fixID, "approve")
	if err != nil {
		return nil, err
	}
	reject, err := s.actionURL(fixID, "reject")
	if err != nil {
		return nil, err
	}
	return []clients.Action{
		{Label: "✅ Approve", URL: approve},
		{Label: "❌ Reject", URL: reject},
	}, nil
}

func (s *Service) actionURL(fixID uuid.UUID, verb string) (string, error) {
	token, err := auth.SignActionToken(s.cfg.TokenSecret, fixID.String(), verb, s.cfg.TokenTTL)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/admin/fixes/%s/%s?token=%s", s.cfg.PublicBaseURL, fixID, verb, token), nil
}

func (s *Service) notifyAdmin(ctx context.Context, text string) {
	if _, err := s.notifier.SendAdmin(ctx, text, nil); err != nil {
		s.log.Warn("failed to notify admin", "error", err)
	}
}

func formatProposal(entry *models.ErrorLog, diag *Diagnosis) string {
	var b strings.Builder
	b.WriteString("🔧 <b>Automated fix proposal</b>\n\n")
	fmt.Fprintf(&b, "<b>Error:</b> <code>%s</code> (%s/%s, %dx)\n",
		entry.ErrorKey, entry.Category, entry.SeverityTag, entry.OccurrenceCount)
	fmt.Fprintf(&b, "<b>File:</b> <code>%s</code>\n", html.EscapeString(diag.FilePath))
	fmt.Fprintf(&b, "<b>Diagnosis:</b> %s\n", html.EscapeString(diag.Diagnosis))
	fmt.Fprintf(&b, "<b>Change:</b> %s\n", html.EscapeString(diag.DiffSummary))
	fmt.Fprintf(&b, "<b>Confidence:</b> %s, quality %.1f\n", diag.Confidence, diag.QualityScore)
	fmt.Fprintf(&b, "\n<b>Replace:</b>\n<pre>%s</pre>\n", html.EscapeString(diag.OriginalCode))
	fmt.Fprintf(&b, "<b>With:</b>\n<pre>%s</pre>", html.EscapeString(diag.FixedCode))
	return b.String()
}

func prBody(fix *models.PendingFix) string {
	var b strings.Builder
	b.WriteString("## Automated fix\n\n")
	fmt.Fprintf(&b, "**Error signature:** `%s`\n\n", fix.ErrorKey)
	fmt.Fprintf(&b, "**Diagnosis:** %s\n\n", fix.Diagnosis)
	if fix.DiffSummary != "" {
		fmt.Fprintf(&b, "**Change:** %s\n\n", fix.DiffSummary)
	}
	if score := gjson.GetBytes(fix.Quality, "score"); score.Exists() {
		fmt.Fprintf(&b, "**Self-review score:** %.1f/10\n\n", score.Float())
	}
	b.WriteString("Proposed by the incident pipeline and approved by an operator. Review before merging.")
	return b.String()
}
