package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"adgate/internal/models"
)

const (
	requestTimeout = 10 * time.Second
	userAgent      = "adgate/1.0"
)

// Client talks to the marketplace backend's advertisement API. Each call has
// one explicit response shape; anything that does not match is treated as
// "no ad available" instead of guessed at.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type advertisementDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	AdFormat    string `json:"adFormat"`
	ScriptURL   string `json:"scriptUrl"`
	DirectLink  string `json:"directLink"`
	Settings    struct {
		Countdown int `json:"countdown"`
	} `json:"settings"`
}

type randomAdResponse struct {
	Advertisement *advertisementDTO `json:"advertisement"`
}

// RandomAd fetches a backend-managed ad for the given placement. A nil ad
// with nil error means the backend had nothing to serve (or served something
// unusable), and the caller should fall through to the next tier.
func (c *Client) RandomAd(ctx context.Context, adType, placement string) (*models.Advertisement, error) {
	q := url.Values{}
	q.Set("type", adType)
	q.Set("placement", placement)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/advertisements/random?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("random ad: unexpected status %s", resp.Status)
	}

	var body randomAdResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("random ad: decode response: %w", err)
	}
	return adoptDTO(body.Advertisement), nil
}

// adoptDTO fails closed: a record with an unknown format or missing its
// format-dependent payload is discarded.
func adoptDTO(dto *advertisementDTO) *models.Advertisement {
	if dto == nil {
		return nil
	}

	format := models.AdFormat(dto.AdFormat)
	switch format {
	case models.FormatScript:
		if dto.ScriptURL == "" {
			return nil
		}
	case models.FormatDirectLink:
		if dto.DirectLink == "" {
			return nil
		}
	default:
		slog.Debug("Discarding backend ad with unknown format", "id", dto.ID, "format", dto.AdFormat)
		return nil
	}

	return &models.Advertisement{
		ID:          dto.ID,
		Title:       dto.Title,
		Description: dto.Description,
		Format:      format,
		ScriptURL:   dto.ScriptURL,
		DirectLink:  dto.DirectLink,
		Settings:    models.AdSettings{CountdownSeconds: dto.Settings.Countdown},
	}
}

// VerifyViewRequest is the server-side proof that an ad was watched for the
// required duration.
type VerifyViewRequest struct {
	AdID          string `json:"adId"`
	DownloadToken string `json:"downloadToken"`
	DownloadURL   string `json:"downloadUrl"`
	Timestamp     int64  `json:"timestamp"`
	UserAgent     string `json:"userAgent"`
}

type verifyViewResponse struct {
	Success bool `json:"success"`
}

func (c *Client) VerifyView(ctx context.Context, reqBody VerifyViewRequest) (bool, error) {
	resp, err := c.postJSON(ctx, "/api/v1/advertisements/verify-view", reqBody)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verify-view: unexpected status %s", resp.Status)
	}

	var body verifyViewResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("verify-view: decode response: %w", err)
	}
	return body.Success, nil
}

type impressionRequest struct {
	AdID     string            `json:"adId,omitempty"`
	ViewTime int               `json:"viewTime"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TrackImpression is best-effort; the response body is ignored and any
// failure is only logged by callers.
func (c *Client) TrackImpression(ctx context.Context, adID string, viewTime int, metadata map[string]string) error {
	resp, err := c.postJSON(ctx, "/api/v1/advertisements/track-impression", impressionRequest{
		AdID:     adID,
		ViewTime: viewTime,
		Metadata: metadata,
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return c.http.Do(req)
}
