package models

import (
	"errors"
	"net/url"
	"time"
)

// AdFormat tells the gate page how to render the resolved advertisement.
type AdFormat string

const (
	FormatNetwork    AdFormat = "network"
	FormatDirectLink AdFormat = "direct_link"
	FormatScript     AdFormat = "script"
	FormatFallback   AdFormat = "fallback"
)

// GateState is the download gate's state machine position.
type GateState string

const (
	StateInitializing GateState = "initializing"
	StateAdResolving  GateState = "ad_resolving"
	StateAdShowing    GateState = "ad_showing"
	StateSkipEligible GateState = "skip_eligible"
	StateVerifying    GateState = "verifying"
	StateSucceeded    GateState = "succeeded"
	StateFailed       GateState = "failed"
)

var (
	ErrMissingURL     = errors.New("download url is required")
	ErrInvalidURL     = errors.New("download url is not a valid http(s) url")
	ErrMissingAppName = errors.New("app name is required")
)

// PendingDownload is the single-slot download intent a content page writes
// before sending the user to the gate. It is deleted exactly once, when the
// download is released.
type PendingDownload struct {
	URL       string `json:"url"`
	AppName   string `json:"appName"`
	AppSlug   string `json:"appSlug,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Token     string `json:"token,omitempty"`
	ReturnURL string `json:"returnUrl,omitempty"`
}

// Validate is the hard gate: no partial record may proceed to an ad session.
func (p PendingDownload) Validate() error {
	if p.URL == "" {
		return ErrMissingURL
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	if p.AppName == "" {
		return ErrMissingAppName
	}
	return nil
}

// DownloadName is what the released file gets saved as.
func (p PendingDownload) DownloadName() string {
	if p.Filename != "" {
		return p.Filename
	}
	return p.AppName
}

type AdSettings struct {
	CountdownSeconds int `json:"countdown"`
}

// Advertisement is the ad adopted for one gate session. LoadTime is stamped
// exactly once, at adoption, and anchors every elapsed-time check.
type Advertisement struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Format      AdFormat   `json:"adFormat"`
	Network     string     `json:"network,omitempty"`
	ScriptURL   string     `json:"scriptUrl,omitempty"`
	DirectLink  string     `json:"directLink,omitempty"`
	Settings    AdSettings `json:"settings"`
	LoadTime    time.Time  `json:"-"`
}

// GateSnapshot is the wire view of a gate session, sent over the REST
// endpoints and the websocket tick stream.
type GateSnapshot struct {
	SessionID   string    `json:"sessionId"`
	State       GateState `json:"state"`
	Countdown   int       `json:"countdown"`
	Initial     int       `json:"initialCountdown,omitempty"`
	CanSkip     bool      `json:"canSkip"`
	AdTitle     string    `json:"adTitle,omitempty"`
	AdFormat    AdFormat  `json:"adFormat,omitempty"`
	Message     string    `json:"message,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	RedirectURL string    `json:"redirectUrl,omitempty"`
	RedirectAt  string    `json:"redirectAt,omitempty"`
}
