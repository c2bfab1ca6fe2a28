package unstick

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumia-chat/sentinel/internal/clients"
	"github.com/lumia-chat/sentinel/internal/models"
	"github.com/lumia-chat/sentinel/internal/store"
)

type fakeErrorSource struct {
	rows []store.UserErrorCount
	err  error
}

func (f *fakeErrorSource) UsersWithErrors(_ context.Context, _ time.Duration, _ int) ([]store.UserErrorCount, error) {
	return f.rows, f.err
}

type fakeTraceSource struct {
	rows []store.StuckUser
	err  error
}

func (f *fakeTraceSource) StuckUsers(_ context.Context, _ []string, _, _ time.Duration) ([]store.StuckUser, error) {
	return f.rows, f.err
}

type fakeSessions struct {
	sessions map[int64]*models.UserSession
	resets   []int64
	resetErr error
}

func (f *fakeSessions) Get(_ context.Context, userID int64) (*models.UserSession, error) {
	session, ok := f.sessions[userID]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessions) ResetState(_ context.Context, userID int64, state string) error {
	if f.resetErr != nil {
		return f.resetErr
	}
	f.resets = append(f.resets, userID)
	f.sessions[userID].State = state
	return nil
}

type fakeNotifier struct {
	sent []int64
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, chatID int64, _ string, _ []clients.Action) (string, error) {
	f.sent = append(f.sent, chatID)
	return "1", f.err
}

func newTestDetector(errSrc ErrorSource, traceSrc TraceSource, sessions *fakeSessions, notifier *fakeNotifier) *Detector {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDetector(errSrc, traceSrc, sessions, notifier, Config{}, log)
}

func inState(userID int64, state string) map[int64]*models.UserSession {
	return map[int64]*models.UserSession{
		userID: {UserID: userID, State: state},
	}
}

func TestRecoverResetsAndNotifies(t *testing.T) {
	sessions := &fakeSessions{sessions: inState(7, "quiz.q3")}
	notifier := &fakeNotifier{}
	d := newTestDetector(
		&fakeErrorSource{rows: []store.UserErrorCount{{UserID: 7, Count: 5, LastError: "boom"}}},
		&fakeTraceSource{},
		sessions, notifier,
	)

	recovered, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	require.Equal(t, []int64{7}, sessions.resets)
	require.Equal(t, RecoveryTarget, sessions.sessions[7].State)
	require.Equal(t, []int64{7}, notifier.sent)
}

func TestRecoverSkipsSafeStates(t *testing.T) {
	for _, state := range []string{RecoveryTarget, "common.start", "unknown", ""} {
		t.Run(fmt.Sprintf("state=%q", state), func(t *testing.T) {
			sessions := &fakeSessions{sessions: inState(7, state)}
			notifier := &fakeNotifier{}
			d := newTestDetector(
				&fakeErrorSource{rows: []store.UserErrorCount{{UserID: 7, Count: 4}}},
				&fakeTraceSource{},
				sessions, notifier,
			)

			recovered, err := d.RunOnce(context.Background())
			require.NoError(t, err)
			require.Zero(t, recovered)
			require.Empty(t, sessions.resets)
			require.Empty(t, notifier.sent)
		})
	}
}

func TestConfigOverridesTargetAndSafeStates(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{SafeTarget: "menu.home", SafeStates: []string{"menu.settings"}}

	sessions := &fakeSessions{sessions: inState(7, "quiz.q3")}
	d := NewDetector(
		&fakeErrorSource{rows: []store.UserErrorCount{{UserID: 7, Count: 3}}},
		&fakeTraceSource{},
		sessions, &fakeNotifier{}, cfg, log,
	)

	recovered, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	require.Equal(t, "menu.home", sessions.sessions[7].State)

	sessions = &fakeSessions{sessions: inState(8, "menu.settings")}
	d = NewDetector(
		&fakeErrorSource{rows: []store.UserErrorCount{{UserID: 8, Count: 3}}},
		&fakeTraceSource{},
		sessions, &fakeNotifier{}, cfg, log,
	)

	recovered, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, recovered, "an extra safe state must never be recovered from")
}

func TestRecoverSkipsMissingAndBlockedSessions(t *testing.T) {
	sessions := &fakeSessions{sessions: map[int64]*models.UserSession{
		8: {UserID: 8, State: "feed.reading", Blocked: true},
	}}
	notifier := &fakeNotifier{}
	d := newTestDetector(
		&fakeErrorSource{rows: []store.UserErrorCount{
			{UserID: 7, Count: 3},
			{UserID: 8, Count: 3},
		}},
		&fakeTraceSource{},
		sessions, notifier,
	)

	recovered, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, recovered)
	require.Empty(t, sessions.resets)
}

func TestRecoverOncePerCooldownAcrossRules(t *testing.T) {
	now := time.Now()
	sessions := &fakeSessions{sessions: inState(7, "quiz.q3")}
	notifier := &fakeNotifier{}
	d := newTestDetector(
		&fakeErrorSource{rows: []store.UserErrorCount{{UserID: 7, Count: 5, LastError: "boom"}}},
		&fakeTraceSource{rows: []store.StuckUser{{UserID: 7, State: "quiz.q3", LastActivity: now.Add(-2 * time.Hour)}}},
		sessions, notifier,
	)
	d.now = func() time.Time { return now }

	recovered, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered, "both rules flagged the same user, only one reset may happen")
	require.Equal(t, []int64{7}, sessions.resets)

	// Ten minutes later the user errors again. Recovery has already reset
	// the state to the menu, but even a re-wedged session stays untouched
	// inside the cooldown window.
	sessions.sessions[7].State = "quiz.q4"
	now = now.Add(10 * time.Minute)
	recovered, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, recovered)
	require.Equal(t, []int64{7}, sessions.resets)

	// Past the cooldown the detector acts again.
	now = now.Add(defaultCooldown)
	recovered, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	require.Equal(t, []int64{7, 7}, sessions.resets)
}

func TestStuckUserRecoveredOnce(t *testing.T) {
	now := time.Now()
	sessions := &fakeSessions{sessions: inState(9, "assessment.q1")}
	notifier := &fakeNotifier{}
	traceSrc := &fakeTraceSource{rows: []store.StuckUser{
		{UserID: 9, State: "assessment.q1", LastActivity: now.Add(-70 * time.Minute)},
	}}
	d := newTestDetector(&fakeErrorSource{}, traceSrc, sessions, notifier)
	d.now = func() time.Time { return now }

	recovered, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)

	// The next cycle still sees the same stale trace row, but the reset
	// session and the cooldown both stop a second action.
	recovered, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, recovered)
	require.Equal(t, []int64{9}, sessions.resets)
}

func TestResetHappensEvenWhenNotifyFails(t *testing.T) {
	sessions := &fakeSessions{sessions: inState(7, "quiz.q3")}
	notifier := &fakeNotifier{err: errors.New("telegram API error: Forbidden: bot was blocked by the user")}
	d := newTestDetector(
		&fakeErrorSource{rows: []store.UserErrorCount{{UserID: 7, Count: 3}}},
		&fakeTraceSource{},
		sessions, notifier,
	)

	recovered, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
	require.Equal(t, RecoveryTarget, sessions.sessions[7].State)
}

func TestFailedResetSetsNoCooldown(t *testing.T) {
	sessions := &fakeSessions{sessions: inState(7, "quiz.q3"), resetErr: errors.New("db down")}
	notifier := &fakeNotifier{}
	errSrc := &fakeErrorSource{rows: []store.UserErrorCount{{UserID: 7, Count: 3}}}
	d := newTestDetector(errSrc, &fakeTraceSource{}, sessions, notifier)

	recovered, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, recovered)
	require.Empty(t, notifier.sent)

	// Once the store recovers the user is picked up immediately.
	sessions.resetErr = nil
	recovered, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, recovered)
}

func TestRuleFailureDoesNotStopOtherRule(t *testing.T) {
	now := time.Now()
	sessions := &fakeSessions{sessions: inState(9, "feed.reading")}
	notifier := &fakeNotifier{}
	d := newTestDetector(
		&fakeErrorSource{err: errors.New("relation missing")},
		&fakeTraceSource{rows: []store.StuckUser{{UserID: 9, State: "feed.reading", LastActivity: now.Add(-2 * time.Hour)}}},
		sessions, notifier,
	)

	recovered, err := d.RunOnce(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, recovered)
	require.Equal(t, []int64{9}, sessions.resets)
}
