package retro

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrAuthFailed means the login handshake was rejected or malformed.
	ErrAuthFailed = errors.New("authentication rejected")
	// ErrAuthExpired means the remote no longer honors the session cookie.
	// Discovered only as a submission failure; the remote declares no TTL.
	ErrAuthExpired = errors.New("session expired")
)

// Session is the credential obtained from the login handshake: an opaque
// session cookie plus the time it was acquired. It is owned by one migration
// run and never shared across concurrent runs.
type Session struct {
	Cookie     *http.Cookie
	AcquiredAt time.Time
}

// Valid reports whether the session carries a cookie at all. Expiry cannot be
// checked locally.
func (s Session) Valid() bool {
	return s.Cookie != nil && s.Cookie.Value != ""
}

// Outcome is the per-record submission result.
type Outcome struct {
	RecordID      string `json:"record_id"`
	Status        string `json:"status"`
	HTTPStatus    int    `json:"http_status,omitempty"`
	RemoteMessage string `json:"remote_message,omitempty"`
	ErrorDetail   string `json:"error_detail,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// authReply is one element of the login response array.
type authReply struct {
	Response     bool   `json:"response"`
	Message      string `json:"message"`
	RedirectLink string `json:"redirectLink"`
}

// PendingInvoice is one entry of the pending-assignment listing, used by the
// diagnostic poll to verify submissions.
type PendingInvoice struct {
	ReferenceNumber string  `json:"ReferenceNumber"`
	Status          string  `json:"Status"`
	TotalAmount     float64 `json:"TotalAmount"`
	Organization    string  `json:"Organization"`
	Currency        string  `json:"Currency"`
}
