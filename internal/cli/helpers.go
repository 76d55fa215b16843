package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/agoralabs/agora/internal/daemon"
)

// apiClient returns a resty client pointed at the configured daemon.
func apiClient() (*resty.Client, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	base := fmt.Sprintf("http://%s:%d", cfg.API.Host, cfg.API.Port)
	return resty.New().
		SetBaseURL(base).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json"), nil
}

// apiError converts a non-2xx response into a readable error.
func apiError(resp *resty.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("%s: %s", resp.Status(), body.Error.Message)
	}
	return fmt.Errorf("%s", resp.Status())
}
