package provider

import (
	"context"
	"time"
)

// Credential is the decrypted content of a pool account's sealed blob.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// Expired reports whether the access token needs a refresh. A small skew
// window avoids using a token that dies mid-request.
func (c *Credential) Expired(now time.Time) bool {
	return !now.Before(c.Expiry.Add(-30 * time.Second))
}

// MessageRef identifies one mailbox message and its thread.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// Message is a fetched mailbox message.
type Message struct {
	Ref      MessageRef
	Subject  string
	From     string
	HTMLBody string
	Labels   []string
}

// Mailbox label names used by the executor.
const (
	LabelUnread     = "UNREAD"
	LabelInbox      = "INBOX"
	LabelSpam       = "SPAM"
	LabelPromotions = "CATEGORY_PROMOTIONS"
	LabelUpdates    = "CATEGORY_UPDATES"
)

// MailboxProvider is the external mailbox capability. Implementations must
// return errors containing "provider 5xx" for server-side failures so the
// executor classifies them as retryable.
type MailboxProvider interface {
	RefreshCredential(ctx context.Context, refreshToken string) (*Credential, error)
	ListRecentFromSender(ctx context.Context, cred *Credential, address string, limit int) ([]MessageRef, error)
	GetMessage(ctx context.Context, cred *Credential, ref MessageRef) (*Message, error)
	ModifyLabels(ctx context.Context, cred *Credential, ref MessageRef, add, remove []string) error
	SendReply(ctx context.Context, cred *Credential, to, subject, body string, threadID string) error
}

// LinkChecker performs the lightweight existence check for click actions.
// No rendering, just a HEAD round trip.
type LinkChecker interface {
	Check(ctx context.Context, link string) error
}
