package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mailwarm/pkg/metrics"
)

// GmailClient talks to the Gmail REST API. It is the only MailboxProvider
// implementation; the interface exists so the executor can be tested with a
// stub.
type GmailClient struct {
	clientID     string
	clientSecret string
	tokenURL     string
	baseURL      string
	httpClient   *http.Client
}

func NewGmailClient(clientID, clientSecret, tokenURL, baseURL string) *GmailClient {
	if tokenURL == "" {
		tokenURL = "https://oauth2.googleapis.com/token"
	}
	if baseURL == "" {
		baseURL = "https://gmail.googleapis.com/gmail/v1"
	}
	return &GmailClient{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		baseURL:      baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func statusErr(op string, code int) error {
	if code >= 500 {
		return fmt.Errorf("%s: provider 5xx: %d", op, code)
	}
	return fmt.Errorf("%s: provider error: %d", op, code)
}

// RefreshCredential exchanges a refresh token for a fresh access token.
func (c *GmailClient) RefreshCredential(ctx context.Context, refreshToken string) (*Credential, error) {
	started := time.Now()

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderCall("refresh", "error", time.Since(started))
		return nil, fmt.Errorf("refresh credential: %w", err)
	}
	defer resp.Body.Close()

	metrics.RecordProviderCall("refresh", strconv.Itoa(resp.StatusCode), time.Since(started))

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh credential: %w", statusErr("token endpoint", resp.StatusCode))
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("refresh credential: %w", err)
	}

	return &Credential{
		AccessToken:  body.AccessToken,
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

// ListRecentFromSender lists up to limit unread messages from one sender.
func (c *GmailClient) ListRecentFromSender(ctx context.Context, cred *Credential, address string, limit int) ([]MessageRef, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf("from:%s is:unread", address))
	q.Set("maxResults", strconv.Itoa(limit))

	var body struct {
		Messages []MessageRef `json:"messages"`
	}
	if err := c.getJSON(ctx, cred, "list", "/users/me/messages?"+q.Encode(), &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// gmailMessage mirrors the slice of the Gmail message resource we read.
type gmailMessage struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	LabelIDs []string `json:"labelIds"`
	Payload  struct {
		MimeType string `json:"mimeType"`
		Headers  []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Body struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []gmailPart `json:"parts"`
	} `json:"payload"`
}

type gmailPart struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []gmailPart `json:"parts"`
}

// GetMessage fetches one full message and extracts subject, sender and the
// HTML body.
func (c *GmailClient) GetMessage(ctx context.Context, cred *Credential, ref MessageRef) (*Message, error) {
	var gm gmailMessage
	if err := c.getJSON(ctx, cred, "get", "/users/me/messages/"+ref.ID+"?format=full", &gm); err != nil {
		return nil, err
	}

	msg := &Message{
		Ref:    MessageRef{ID: gm.ID, ThreadID: gm.ThreadID},
		Labels: gm.LabelIDs,
	}
	for _, h := range gm.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = h.Value
		}
	}

	if gm.Payload.MimeType == "text/html" {
		msg.HTMLBody = decodeBody(gm.Payload.Body.Data)
	} else {
		msg.HTMLBody = findHTMLPart(gm.Payload.Parts)
	}

	return msg, nil
}

func findHTMLPart(parts []gmailPart) string {
	for _, p := range parts {
		if p.MimeType == "text/html" && p.Body.Data != "" {
			return decodeBody(p.Body.Data)
		}
		if body := findHTMLPart(p.Parts); body != "" {
			return body
		}
	}
	return ""
}

func decodeBody(data string) string {
	decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(data)
	if err != nil {
		return ""
	}
	return string(decoded)
}

// ModifyLabels adds and removes label ids on one message. Idempotent on the
// provider side, so redelivered tasks may repeat it safely.
func (c *GmailClient) ModifyLabels(ctx context.Context, cred *Credential, ref MessageRef, add, remove []string) error {
	payload := map[string]any{
		"addLabelIds":    add,
		"removeLabelIds": remove,
	}
	return c.postJSON(ctx, cred, "modify", "/users/me/messages/"+ref.ID+"/modify", payload, nil)
}

// SendReply sends a short reply threaded onto the original conversation.
func (c *GmailClient) SendReply(ctx context.Context, cred *Credential, to, subject, body string, threadID string) error {
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	raw := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s", to, subject, body)
	payload := map[string]any{
		"raw":      base64.URLEncoding.EncodeToString([]byte(raw)),
		"threadId": threadID,
	}
	return c.postJSON(ctx, cred, "send", "/users/me/messages/send", payload, nil)
}

func (c *GmailClient) getJSON(ctx context.Context, cred *Credential, op, path string, out any) error {
	started := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderCall(op, "error", time.Since(started))
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	metrics.RecordProviderCall(op, strconv.Itoa(resp.StatusCode), time.Since(started))

	if resp.StatusCode != http.StatusOK {
		return statusErr(op, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *GmailClient) postJSON(ctx context.Context, cred *Credential, op, path string, payload, out any) error {
	started := time.Now()

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderCall(op, "error", time.Since(started))
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	metrics.RecordProviderCall(op, strconv.Itoa(resp.StatusCode), time.Since(started))

	if resp.StatusCode != http.StatusOK {
		return statusErr(op, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// HeadLinkChecker issues a bare HEAD request. Anything the server answers
// counts as existing; only transport failures and 5xx responses fail.
type HeadLinkChecker struct {
	httpClient *http.Client
}

func NewHeadLinkChecker() *HeadLinkChecker {
	return &HeadLinkChecker{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *HeadLinkChecker) Check(ctx context.Context, link string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, link, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("link check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return statusErr("link check", resp.StatusCode)
	}
	return nil
}
