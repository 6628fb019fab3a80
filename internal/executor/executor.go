package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailwarm/internal/model"
	"mailwarm/internal/provider"
	"mailwarm/pkg/logger"
	"mailwarm/pkg/metrics"
	"mailwarm/pkg/util"
)

// AccountStore is the store view the executor needs.
type AccountStore interface {
	FindByID(ctx context.Context, id int64) (*model.PoolAccount, error)
	UpdateCredential(ctx context.Context, id int64, credential []byte) error
	TouchLastUsed(ctx context.Context, id int64) error
}

// LogStore records execution outcomes.
type LogStore interface {
	Insert(ctx context.Context, l *model.EngagementLog) error
}

// Sealer opens and reseals credential blobs.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// RetryCounter bounds redeliveries per task.
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// DeadLetterer receives tasks whose retries are exhausted.
type DeadLetterer interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// DupGuard suppresses duplicate deliveries of the same task. Fail-open: a
// guard that cannot decide lets the task through.
type DupGuard interface {
	AcquireOnce(ctx context.Context, scope, key string) bool
	Release(ctx context.Context, scope, key string)
}

const dedupScope = "engage"

// terminalError marks precondition failures that no redelivery will fix:
// the task is logged and acknowledged, never retried.
type terminalError struct {
	reason string
}

func (e *terminalError) Error() string { return e.reason }

func terminal(reason string) error { return &terminalError{reason: reason} }

var cannedReplies = []string{
	"Thanks for the update, much appreciated!",
	"Got it, thanks for sending this over.",
	"Thanks, this looks interesting. I'll take a closer look.",
	"Appreciate the heads up!",
}

// Executor consumes engagement tasks and performs one mailbox action each.
type Executor struct {
	accounts   AccountStore
	logs       LogStore
	mailbox    provider.MailboxProvider
	links      provider.LinkChecker
	sealer     Sealer
	retries    RetryCounter
	dedup      DupGuard
	dlq        DeadLetterer
	fetchLimit int
	maxRetries int64
	logger     *zap.Logger

	now      func() time.Time
	randIntn func(n int) int
}

func New(
	accounts AccountStore,
	logs LogStore,
	mailbox provider.MailboxProvider,
	links provider.LinkChecker,
	sealer Sealer,
	retries RetryCounter,
	dedup DupGuard,
	dlq DeadLetterer,
	fetchLimit int,
	maxRetries int64,
	logger *zap.Logger,
) *Executor {
	if fetchLimit <= 0 {
		fetchLimit = 5
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Executor{
		accounts:   accounts,
		logs:       logs,
		mailbox:    mailbox,
		links:      links,
		sealer:     sealer,
		retries:    retries,
		dedup:      dedup,
		dlq:        dlq,
		fetchLimit: fetchLimit,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
		randIntn:   rand.Intn,
	}
}

// HandleEngagementTask processes one engagement channel message. A nil
// return acknowledges; an error leaves the message for redelivery. Failed
// attempts are logged before any retry signal so every attempt leaves a row.
func (e *Executor) HandleEngagementTask(ctx context.Context, raw json.RawMessage) error {
	started := time.Now()
	defer func() { metrics.RecordMQConsume(model.RouteEngagementTask, time.Since(started)) }()

	log := logger.WithTrace(ctx, e.logger)

	var task model.EngagementTaskMessage
	if err := json.Unmarshal(raw, &task); err != nil {
		log.Error("Failed to unmarshal engagement task payload", zap.Error(err))
		return nil
	}

	dedupKey := fmt.Sprintf("%d:%d:%s", task.CampaignID, task.AccountID, task.ActionType)
	if !e.dedup.AcquireOnce(ctx, dedupScope, dedupKey) {
		log.Info("Duplicate engagement task skipped",
			zap.Int64("campaign_id", task.CampaignID),
			zap.Int64("account_id", task.AccountID),
			zap.String("action", task.ActionType),
		)
		return nil
	}

	subject, err := e.execute(ctx, &task)
	if err != nil {
		if rerr := e.recordFailure(ctx, &task, raw, err); rerr != nil {
			// The message will be redelivered; let the retry re-acquire.
			e.dedup.Release(ctx, dedupScope, dedupKey)
			return rerr
		}
		return nil
	}

	entry := &model.EngagementLog{
		CampaignID: task.CampaignID,
		AccountID:  task.AccountID,
		ActionType: task.ActionType,
		Subject:    &subject,
		Status:     model.LogStatusSuccess,
	}
	if err := e.logs.Insert(ctx, entry); err != nil {
		e.dedup.Release(ctx, dedupScope, dedupKey)
		return fmt.Errorf("failed to record success log: %w", err)
	}

	if err := e.accounts.TouchLastUsed(ctx, task.AccountID); err != nil {
		// Advisory stamp only; the allocator state is authoritative.
		log.Warn("Failed to bump last_used_at",
			zap.Int64("account_id", task.AccountID),
			zap.Error(err),
		)
	}

	_ = e.retries.Reset(ctx, util.FormatRetryKey(task.CampaignID, task.AccountID, task.ActionType))
	metrics.TasksExecuted.WithLabelValues(task.ActionType, "success").Inc()

	log.Info("Engagement task succeeded",
		zap.Int64("campaign_id", task.CampaignID),
		zap.Int64("account_id", task.AccountID),
		zap.String("action", task.ActionType),
		zap.String("subject", subject),
	)
	return nil
}

// execute walks the task state machine up to the action dispatch and returns
// the subject of the engaged message. Errors are either *terminalError or
// retryable.
func (e *Executor) execute(ctx context.Context, task *model.EngagementTaskMessage) (string, error) {
	account, err := e.accounts.FindByID(ctx, task.AccountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", terminal("account not available")
		}
		return "", fmt.Errorf("failed to load account %d: %w", task.AccountID, err)
	}
	if !account.IsActive() {
		return "", terminal("account not available")
	}

	cred, err := e.readyCredential(ctx, account)
	if err != nil {
		return "", err
	}

	refs, err := e.mailbox.ListRecentFromSender(ctx, cred, task.SenderEmail, e.fetchLimit)
	if err != nil {
		return "", fmt.Errorf("failed to list messages: %w", err)
	}
	if len(refs) == 0 {
		// Nothing from this sender yet; retrying within the cycle will not
		// help.
		return "", terminal("no messages found")
	}

	ref := refs[e.randIntn(len(refs))]
	msg, err := e.mailbox.GetMessage(ctx, cred, ref)
	if err != nil {
		return "", fmt.Errorf("failed to fetch message %s: %w", ref.ID, err)
	}

	if err := e.dispatch(ctx, task, cred, msg); err != nil {
		return "", err
	}
	return msg.Subject, nil
}

// readyCredential opens the sealed blob and refreshes it if expired,
// persisting the refreshed credential before use.
func (e *Executor) readyCredential(ctx context.Context, account *model.PoolAccount) (*provider.Credential, error) {
	plaintext, err := e.sealer.Open(account.Credential)
	if err != nil {
		// A blob that does not open will not open next time either.
		return nil, terminal("credential unreadable")
	}

	var cred provider.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, terminal("credential unreadable")
	}

	if !cred.Expired(e.now()) {
		return &cred, nil
	}

	refreshed, err := e.mailbox.RefreshCredential(ctx, cred.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh credential: %w", err)
	}

	sealed, err := marshalAndSeal(e.sealer, refreshed)
	if err != nil {
		return nil, fmt.Errorf("failed to reseal credential: %w", err)
	}
	if err := e.accounts.UpdateCredential(ctx, account.ID, sealed); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	return refreshed, nil
}

func marshalAndSeal(sealer Sealer, cred *provider.Credential) ([]byte, error) {
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	return sealer.Seal(plaintext)
}

func (e *Executor) dispatch(ctx context.Context, task *model.EngagementTaskMessage, cred *provider.Credential, msg *provider.Message) error {
	switch task.ActionType {
	case model.ActionMoveToInbox:
		return e.mailbox.ModifyLabels(ctx, cred, msg.Ref,
			[]string{provider.LabelInbox},
			[]string{provider.LabelSpam, provider.LabelPromotions, provider.LabelUpdates},
		)

	case model.ActionOpen:
		return e.mailbox.ModifyLabels(ctx, cred, msg.Ref, nil, []string{provider.LabelUnread})

	case model.ActionClick:
		if msg.HTMLBody == "" {
			return terminal("no html body to click")
		}
		safe := FilterSafeLinks(ExtractLinks(msg.HTMLBody))
		if len(safe) == 0 {
			return terminal("no safe links found")
		}
		link := safe[e.randIntn(len(safe))]
		return e.links.Check(ctx, link)

	case model.ActionReply:
		to := msg.From
		if to == "" {
			to = task.SenderEmail
		}
		body := cannedReplies[e.randIntn(len(cannedReplies))]
		return e.mailbox.SendReply(ctx, cred, to, msg.Subject, body, msg.Ref.ThreadID)
	}

	return terminal(fmt.Sprintf("unknown action type %q", task.ActionType))
}

// recordFailure writes the failed log row, then decides between ack
// (terminal or exhausted) and redelivery. The log write happens before the
// retry signal so repeated retries produce one row per attempt.
func (e *Executor) recordFailure(ctx context.Context, task *model.EngagementTaskMessage, raw json.RawMessage, cause error) error {
	log := logger.WithTrace(ctx, e.logger)

	reason := cause.Error()
	entry := &model.EngagementLog{
		CampaignID:   task.CampaignID,
		AccountID:    task.AccountID,
		ActionType:   task.ActionType,
		Status:       model.LogStatusFailed,
		ErrorMessage: &reason,
	}
	if err := e.logs.Insert(ctx, entry); err != nil {
		// Without the row the attempt would be lost; force a redelivery.
		return fmt.Errorf("failed to record failure log: %w", err)
	}

	var term *terminalError
	if errors.As(cause, &term) {
		metrics.TasksExecuted.WithLabelValues(task.ActionType, "failed").Inc()
		log.Info("Engagement task failed terminally",
			zap.Int64("campaign_id", task.CampaignID),
			zap.Int64("account_id", task.AccountID),
			zap.String("action", task.ActionType),
			zap.String("reason", reason),
		)
		return nil
	}

	retryable, errType := util.IsRetryableError(cause)
	limit := e.maxRetries
	if !retryable && errType == "unknown_error" {
		// Unrecognized errors get one redelivery in case the store or a
		// dependency hiccuped in a shape the classifier does not know.
		retryable = true
		limit = 1
	}

	key := util.FormatRetryKey(task.CampaignID, task.AccountID, task.ActionType)
	count, cntErr := e.retries.IncrementAndGet(ctx, key)
	if cntErr != nil {
		// Counter unavailable: fall back to plain redelivery.
		count = 0
	}

	if util.ShouldRetry(count, limit, retryable) {
		metrics.TasksExecuted.WithLabelValues(task.ActionType, "retried").Inc()
		log.Warn("Engagement task failed, redelivering",
			zap.Int64("campaign_id", task.CampaignID),
			zap.Int64("account_id", task.AccountID),
			zap.String("action", task.ActionType),
			zap.String("error_type", errType),
			zap.Int64("attempt", count),
			zap.Error(cause),
		)
		return cause
	}

	// Retries exhausted or error not retryable: park on the DLQ for
	// operator attention and acknowledge.
	if err := e.dlq.PublishToDLQ(model.RouteEngagementTask, raw, reason); err != nil {
		log.Error("Failed to dead-letter exhausted task", zap.Error(err))
		return cause
	}
	_ = e.retries.Reset(ctx, key)
	metrics.TasksExecuted.WithLabelValues(task.ActionType, "dead_lettered").Inc()
	log.Error("Engagement task dead-lettered",
		zap.Int64("campaign_id", task.CampaignID),
		zap.Int64("account_id", task.AccountID),
		zap.String("action", task.ActionType),
		zap.String("error_type", errType),
		zap.Int64("attempts", count),
		zap.String("reason", reason),
	)
	return nil
}
