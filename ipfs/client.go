// Package ipfs pins batch metadata and attachments to a Pinata-style
// content-addressable storage gateway.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds the pinning service connection settings.
type Config struct {
	APIURL         string
	GatewayURL     string
	APIKey         string
	APISecret      string
	TimeoutSeconds int
}

// Client uploads content to the pinning service and returns the
// resulting content identifiers.
type Client struct {
	apiURL     string
	gatewayURL string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a pinning client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("ipfs: api key and secret are required")
	}
	apiURL := strings.TrimSuffix(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.pinata.cloud"
	}
	gatewayURL := strings.TrimSuffix(cfg.GatewayURL, "/")
	if gatewayURL == "" {
		gatewayURL = "https://gateway.pinata.cloud"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiURL:     apiURL,
		gatewayURL: gatewayURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

type pinJSONRequest struct {
	PinataContent  interface{}    `json:"pinataContent"`
	PinataMetadata pinataMetadata `json:"pinataMetadata"`
}

type pinataMetadata struct {
	Name string `json:"name"`
}

// PinJSON uploads a JSON document and returns its CID.
func (c *Client) PinJSON(ctx context.Context, name string, payload interface{}) (string, error) {
	body, err := json.Marshal(pinJSONRequest{
		PinataContent:  payload,
		PinataMetadata: pinataMetadata{Name: name},
	})
	if err != nil {
		return "", fmt.Errorf("marshal pin payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	cid, err := c.doPin(req)
	if err != nil {
		return "", err
	}
	c.logger.Info("pinned json metadata", zap.String("name", name), zap.String("cid", cid))
	return cid, nil
}

// PinFile uploads a binary attachment and returns its CID.
func (c *Client) PinFile(ctx context.Context, name string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/pinning/pinFileToIPFS", &buf)
	if err != nil {
		return "", fmt.Errorf("build pin request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	cid, err := c.doPin(req)
	if err != nil {
		return "", err
	}
	c.logger.Info("pinned file", zap.String("name", name), zap.String("cid", cid))
	return cid, nil
}

// FileURL returns the public gateway URL for a pinned CID.
func (c *Client) FileURL(cid string) string {
	return c.gatewayURL + "/ipfs/" + cid
}

func (c *Client) doPin(req *http.Request) (string, error) {
	req.Header.Set("pinata_api_key", c.apiKey)
	req.Header.Set("pinata_secret_api_key", c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pin request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pin request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var pin pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&pin); err != nil {
		return "", fmt.Errorf("decode pin response: %w", err)
	}
	return pin.IpfsHash, nil
}
