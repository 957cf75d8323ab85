package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"rowforge/internal/config"
)

// errDaemonDown marks a failed connection to the daemon API, letting callers
// fall back to opening the broker database directly.
var errDaemonDown = errors.New("daemon not reachable")

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	httpClient *http.Client
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiURL(path string) (string, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return "", errDaemonDown
	}
	return "http://" + bind + path, nil
}

// getJSON fetches a daemon API endpoint into out. Connection failures are
// reported as errDaemonDown so callers can degrade to direct database access.
func (c *commandContext) getJSON(path string, out any) error {
	url, err := c.apiURL(path)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return wrapDialError(err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// postJSON posts to a daemon API endpoint, decoding the response into out.
func (c *commandContext) postJSON(path string, payload, out any) error {
	url, err := c.apiURL(path)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	resp, err := c.httpClient.Post(url, "application/json", body)
	if err != nil {
		return wrapDialError(err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			return errors.New(payload.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wrapDialError(err error) error {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", errDaemonDown, err)
	}
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", errDaemonDown, err)
	}
	return err
}
