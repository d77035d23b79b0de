package openfinance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ResumeKeyPrefix prefixes every OAuth resume slot. Each user owns one slot.
const ResumeKeyPrefix = "finlink:oauth:resume"

// ResumeKey returns the slot holding userID's pending OAuth resume. A second
// flow started by the same user overwrites the first.
func ResumeKey(userID int64) string {
	return ResumeKeyPrefix + ":" + strconv.FormatInt(userID, 10)
}

// DefaultResumeTarget is where the app lands after a resumed flow when
// nothing more specific was stored.
const DefaultResumeTarget = "accounts"

// ResumeContext is what the OAuth callback needs to pick the flow back up.
type ResumeContext struct {
	ConnectionID string    `json:"connectionId"`
	Target       string    `json:"target"`
	URL          string    `json:"url"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ResumeStore persists resume contexts across process restarts. Load
// returns (nil, nil) for an empty slot.
type ResumeStore interface {
	Save(ctx context.Context, key string, rc *ResumeContext) error
	Load(ctx context.Context, key string) (*ResumeContext, error)
	Clear(ctx context.Context, key string) error
}

// Opener hands an authorization URL to whatever presents it to the user.
type Opener interface {
	Open(ctx context.Context, connectionID, url string) error
}

// LogOpener records the hand-off. The URL itself reaches the app in the
// OpenOAuth action of the response.
type LogOpener struct {
	logger *zap.Logger
}

func NewLogOpener(logger *zap.Logger) *LogOpener {
	return &LogOpener{logger: logger}
}

func (o *LogOpener) Open(ctx context.Context, connectionID, url string) error {
	o.logger.Info("oauth handed to app",
		zap.String("connection_id", connectionID),
		zap.String("url", url))
	return nil
}

// OAuthContinuation suspends a flow before the user leaves for the bank and
// resumes it when the callback arrives.
type OAuthContinuation struct {
	store  ResumeStore
	opener Opener
	logger *zap.Logger
	now    func() time.Time
}

func NewOAuthContinuation(store ResumeStore, opener Opener, logger *zap.Logger) *OAuthContinuation {
	return &OAuthContinuation{
		store:  store,
		opener: opener,
		logger: logger,
		now:    time.Now,
	}
}

// Begin saves the resume context, then opens the URL. It does not wait for
// the user. An opener failure is logged; the saved context stays valid.
func (o *OAuthContinuation) Begin(ctx context.Context, userID int64, connectionID, url, resumeTarget string) error {
	if userID <= 0 {
		return errors.New("valid user ID is required")
	}
	if connectionID == "" || url == "" {
		return errors.New("connection ID and url are required")
	}
	if resumeTarget == "" {
		resumeTarget = DefaultResumeTarget
	}

	rc := &ResumeContext{
		ConnectionID: connectionID,
		Target:       resumeTarget,
		URL:          url,
		CreatedAt:    o.now().UTC(),
	}
	if err := o.store.Save(ctx, ResumeKey(userID), rc); err != nil {
		return fmt.Errorf("failed to save resume context: %w", err)
	}

	if err := o.opener.Open(ctx, connectionID, url); err != nil {
		o.logger.Warn("failed to open oauth url",
			zap.String("connection_id", connectionID),
			zap.Error(err))
	}
	return nil
}

// Resume takes the stored context for connectionID out of userID's slot.
// An empty slot yields (nil, nil). A slot owned by another connection is
// left untouched and ErrResumeMismatch returned.
func (o *OAuthContinuation) Resume(ctx context.Context, userID int64, connectionID string) (*ResumeContext, error) {
	key := ResumeKey(userID)
	rc, err := o.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load resume context: %w", err)
	}
	if rc == nil {
		o.logger.Info("oauth callback without resume context", zap.String("connection_id", connectionID))
		return nil, nil
	}
	if rc.ConnectionID != connectionID {
		return nil, fmt.Errorf("%w: stored %s, got %s", ErrResumeMismatch, rc.ConnectionID, connectionID)
	}
	if err := o.store.Clear(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to clear resume context: %w", err)
	}
	return rc, nil
}
