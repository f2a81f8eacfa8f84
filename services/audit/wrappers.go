package audit

import (
	"context"

	"github.com/upb/security-audit/internal/redact"
	"github.com/upb/security-audit/models"
)

// fixed pins the event type, category and severity of a wrapper while
// keeping caller supplied options such as tenant, request and strict mode.
func fixed(opts *Options, eventType, category string, severity models.Severity) *Options {
	out := Options{}
	if opts != nil {
		out = *opts
	}
	out.EventType = eventType
	out.Category = category
	if out.Severity == "" {
		out.Severity = severity
	}
	return &out
}

func merge(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range base {
		out[k] = v
	}
	return out
}

// UserCreated records the creation of userID by actorID
func (a *Adapter) UserCreated(ctx context.Context, actorID, userID string, details map[string]any, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "create", "user", userID,
		merge(map[string]any{"userId": userID}, details),
		fixed(opts, models.EventUserCreated, models.CategoryUserManagement, models.SeverityLow))
}

// UserUpdated records a profile change; changes holds the changed fields
func (a *Adapter) UserUpdated(ctx context.Context, actorID, userID string, changes map[string]any, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "update", "user", userID,
		map[string]any{"userId": userID, "changes": changes},
		fixed(opts, models.EventUserUpdated, models.CategoryUserManagement, models.SeverityMedium))
}

// UserDeleted records the removal of userID
func (a *Adapter) UserDeleted(ctx context.Context, actorID, userID string, details map[string]any, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "delete", "user", userID,
		merge(map[string]any{"userId": userID}, details),
		fixed(opts, models.EventUserDeleted, models.CategoryUserManagement, models.SeverityHigh))
}

// PointsAwarded records points granted to targetUserID
func (a *Adapter) PointsAwarded(ctx context.Context, actorID, targetUserID string, points int, reason string, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "award", "points", targetUserID,
		map[string]any{"targetUserId": targetUserID, "points": points, "reason": reason},
		fixed(opts, models.EventPointsAwarded, models.CategoryPoints, models.SeverityLow))
}

// PointsDeducted records points taken from targetUserID
func (a *Adapter) PointsDeducted(ctx context.Context, actorID, targetUserID string, points int, reason string, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "deduct", "points", targetUserID,
		map[string]any{"targetUserId": targetUserID, "points": points, "reason": reason},
		fixed(opts, models.EventPointsDeducted, models.CategoryPoints, models.SeverityMedium))
}

// RewardCreated records a new reward in the catalog
func (a *Adapter) RewardCreated(ctx context.Context, actorID, rewardID string, details map[string]any, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "create", "reward", rewardID,
		merge(map[string]any{"rewardId": rewardID}, details),
		fixed(opts, models.EventRewardCreated, models.CategoryRewards, models.SeverityLow))
}

// RewardUpdated records a catalog change for rewardID
func (a *Adapter) RewardUpdated(ctx context.Context, actorID, rewardID string, changes map[string]any, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "update", "reward", rewardID,
		map[string]any{"rewardId": rewardID, "changes": changes},
		fixed(opts, models.EventRewardUpdated, models.CategoryRewards, models.SeverityMedium))
}

// RewardRedeemed records userID spending pointsSpent on rewardID
func (a *Adapter) RewardRedeemed(ctx context.Context, userID, rewardID string, pointsSpent int, opts *Options) error {
	return a.LogAuditEvent(ctx, userID, "redeem", "reward", rewardID,
		map[string]any{"rewardId": rewardID, "pointsSpent": pointsSpent},
		fixed(opts, models.EventRewardRedeemed, models.CategoryRewards, models.SeverityMedium))
}

// QuizCreated records a new quiz
func (a *Adapter) QuizCreated(ctx context.Context, actorID, quizID string, details map[string]any, opts *Options) error {
	return a.LogAuditEvent(ctx, actorID, "create", "quiz", quizID,
		merge(map[string]any{"quizId": quizID}, details),
		fixed(opts, models.EventQuizCreated, models.CategoryContent, models.SeverityLow))
}

// QuizCompleted records userID finishing quizID with score
func (a *Adapter) QuizCompleted(ctx context.Context, userID, quizID string, score int, opts *Options) error {
	return a.LogAuditEvent(ctx, userID, "complete", "quiz", quizID,
		map[string]any{"quizId": quizID, "score": score},
		fixed(opts, models.EventQuizCompleted, models.CategoryContent, models.SeverityLow))
}

// SettingUpdated records a settings change. Values of secret-looking keys
// are never recorded.
func (a *Adapter) SettingUpdated(ctx context.Context, actorID, key string, oldValue, newValue any, opts *Options) error {
	if redact.IsSensitiveKey(key) {
		oldValue, newValue = redact.Marker, redact.Marker
	}
	return a.LogAuditEvent(ctx, actorID, "update", "settings", key,
		map[string]any{"settingKey": key, "oldValue": oldValue, "newValue": newValue},
		fixed(opts, models.EventSettingsUpdated, models.CategorySettings, models.SeverityMedium))
}

// UserLogin records a successful sign in
func (a *Adapter) UserLogin(ctx context.Context, userID string, opts *Options) error {
	return a.LogAuditEvent(ctx, userID, "login", "session", userID,
		map[string]any{"userId": userID},
		fixed(opts, models.EventAuthLogin, models.CategoryAuth, models.SeverityLow))
}

// UserLogout records a sign out
func (a *Adapter) UserLogout(ctx context.Context, userID string, opts *Options) error {
	return a.LogAuditEvent(ctx, userID, "logout", "session", userID,
		map[string]any{"userId": userID},
		fixed(opts, models.EventAuthLogout, models.CategoryAuth, models.SeverityLow))
}
