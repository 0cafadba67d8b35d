package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/widgetbase/server/internal/models"
)

const clerkAPIBase = "https://api.clerk.com/v1"

// ClerkClient pushes metadata back to the identity provider. It satisfies
// store.Notifier.
type ClerkClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewClerkClient(secretKey string) *ClerkClient {
	return &ClerkClient{
		secretKey:  secretKey,
		baseURL:    clerkAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetOnboarded records the onboarding flag in the user's public metadata.
func (c *ClerkClient) SetOnboarded(ctx context.Context, userID string, onboarded bool) error {
	body, err := json.Marshal(map[string]interface{}{
		"public_metadata": map[string]interface{}{
			"onboarded": onboarded,
		},
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/users/%s/metadata", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &models.UpstreamError{Op: "clerk metadata", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &models.UpstreamError{
			Op:  "clerk metadata",
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}
	return nil
}
