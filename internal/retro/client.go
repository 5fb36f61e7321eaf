package retro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transpostw1/vincap-retro-sync/internal/mapping"
	"github.com/transpostw1/vincap-retro-sync/internal/obs"
)

const (
	authenticatePath = "/Authentication/AuthenticateUser"
	submitPath       = "/InvoiceManager/AddUpdateInvoice"
	pendingPath      = "/InvoiceManager/GetAllInvoicePendingAssignment"

	sessionCookieName = "ASP.NET_SessionId"

	// The remote serves an ASP.NET app that checks for a browser user agent.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
)

// Client talks to the legacy Retro API. Safe for concurrent use; sessions are
// passed in per call, never stored on the client.
type Client struct {
	authURL  string
	retroURL string
	username string
	password string
	http     *http.Client
}

// New creates a client with the given endpoints and credentials. Redirects are
// not followed so that a redirect-to-login can be classified as session expiry.
func New(authURL, retroURL, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		authURL:  strings.TrimRight(authURL, "/"),
		retroURL: strings.TrimRight(retroURL, "/"),
		username: username,
		password: password,
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Authenticate performs the login handshake and returns a fresh session. It
// does not retry; bounded retries belong to the orchestrator.
func (c *Client) Authenticate(ctx context.Context) (Session, error) {
	q := url.Values{}
	q.Set("userName", c.username)
	q.Set("password", c.password)
	endpoint := c.authURL + authenticatePath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(""))
	if err != nil {
		return Session{}, fmt.Errorf("build auth request: %w", err)
	}
	browserHeaders(req, c.authURL)

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Session{}, fmt.Errorf("read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}

	// The login endpoint replies with a JSON array served as text/html.
	var replies []authReply
	if err := json.Unmarshal(body, &replies); err != nil {
		return Session{}, fmt.Errorf("%w: unexpected login response", ErrAuthFailed)
	}
	if len(replies) == 0 || !replies[0].Response {
		msg := "no reply"
		if len(replies) > 0 {
			msg = replies[0].Message
		}
		return Session{}, fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	}

	cookie := sessionCookie(resp.Cookies())
	if cookie == nil {
		return Session{}, fmt.Errorf("%w: login succeeded but no session cookie was set", ErrAuthFailed)
	}

	obs.Info("retro authentication succeeded", map[string]any{"cookie": cookie.Name})
	return Session{Cookie: cookie, AcquiredAt: time.Now().UTC()}, nil
}

// Submit sends one transformed record. A nil error means the outcome is final
// (success or an application-level rejection, which is not retried). A
// returned error is either ErrAuthExpired or a retryable transport failure;
// the outcome still carries whatever detail is known.
func (c *Client) Submit(ctx context.Context, sess Session, recordID string, payload mapping.Payload) (Outcome, error) {
	out := Outcome{RecordID: recordID, Status: StatusFailure}

	form, err := buildInvoiceForm(payload)
	if err != nil {
		out.ErrorDetail = err.Error()
		return out, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.retroURL+submitPath, strings.NewReader(form.Encode()))
	if err != nil {
		out.ErrorDetail = err.Error()
		return out, fmt.Errorf("build submit request: %w", err)
	}
	browserHeaders(req, c.retroURL)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.retroURL+"/InvoiceManager/VendorInvoiceListing")
	req.AddCookie(sess.Cookie)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		out.ErrorDetail = err.Error()
		return out, fmt.Errorf("submit request: %w", err)
	}
	defer resp.Body.Close()
	obs.ObserveSubmit(time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		out.ErrorDetail = err.Error()
		return out, fmt.Errorf("read submit response: %w", err)
	}
	out.HTTPStatus = resp.StatusCode

	if expired(resp, body) {
		out.ErrorDetail = "auth-expired"
		return out, ErrAuthExpired
	}

	return classify(out, resp.StatusCode, body), nil
}

// PendingAssignments polls the remote listing used for verification. The
// remote double-encodes its reply: a JSON string whose content is the actual
// {Data: [...]} document, so two decode passes are required.
func (c *Client) PendingAssignments(ctx context.Context, sess Session) ([]PendingInvoice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.retroURL+pendingPath, strings.NewReader(""))
	if err != nil {
		return nil, fmt.Errorf("build pending request: %w", err)
	}
	browserHeaders(req, c.retroURL)
	req.AddCookie(sess.Cookie)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read pending response: %w", err)
	}
	if expired(resp, body) {
		return nil, ErrAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pending assignments: status %d", resp.StatusCode)
	}

	var doc struct {
		Data []PendingInvoice `json:"Data"`
	}
	if err := decodeDoubleJSON(body, &doc); err != nil {
		return nil, fmt.Errorf("decode pending assignments: %w", err)
	}
	return doc.Data, nil
}

// decodeDoubleJSON parses an outer JSON string layer when present, then the
// nested document. Plain single-encoded documents decode as-is.
func decodeDoubleJSON(body []byte, v any) error {
	var outer string
	if err := json.Unmarshal(body, &outer); err == nil {
		return json.Unmarshal([]byte(outer), v)
	}
	return json.Unmarshal(body, v)
}

// expired detects the session-expiry signal: a 401, a redirect to the login
// page, or a login page served in place of the JSON envelope.
func expired(resp *http.Response, body []byte) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		return strings.Contains(strings.ToLower(loc), "login") || strings.Contains(strings.ToLower(loc), "authentication")
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "<") && strings.Contains(strings.ToLower(trimmed), "login") {
		return true
	}
	return false
}

// classify maps an HTTP response onto the submission outcome. The remote
// answers either with a JSON envelope carrying an application-level response
// flag, or with a bare text body where only the status code is meaningful.
func classify(out Outcome, status int, body []byte) Outcome {
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "" {
		var replies []authReply
		if err := json.Unmarshal(body, &replies); err == nil && len(replies) > 0 {
			return applyEnvelope(out, replies[0])
		}
		var reply authReply
		if err := json.Unmarshal(body, &reply); err == nil && (reply.Response || reply.Message != "") {
			return applyEnvelope(out, reply)
		}
		if status == http.StatusOK || status == http.StatusCreated {
			if strings.Contains(trimmed, "Success") {
				out.Status = StatusSuccess
			} else {
				out.ErrorDetail = "rejected"
			}
			out.RemoteMessage = trimmed
			return out
		}
		out.RemoteMessage = trimmed
		out.ErrorDetail = fmt.Sprintf("status %d", status)
		return out
	}

	if status == http.StatusOK || status == http.StatusCreated {
		out.Status = StatusSuccess
		return out
	}
	out.ErrorDetail = fmt.Sprintf("status %d", status)
	return out
}

func applyEnvelope(out Outcome, reply authReply) Outcome {
	out.RemoteMessage = reply.Message
	if reply.Response {
		out.Status = StatusSuccess
	} else {
		out.ErrorDetail = "rejected"
	}
	return out
}

func sessionCookie(cookies []*http.Cookie) *http.Cookie {
	for _, c := range cookies {
		if c.Name == sessionCookieName && c.Value != "" {
			return c
		}
	}
	for _, c := range cookies {
		if c.Value != "" {
			return c
		}
	}
	return nil
}

func browserHeaders(req *http.Request, origin string) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", origin)
	req.Header.Set("User-Agent", userAgent)
}
