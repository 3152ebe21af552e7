// Package b2 implements artifact storage on the Backblaze B2 native API (v2).
package b2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bitrise-io/go-artifact-upload/upload"
)

// DefaultAuthURL is the B2 account authorization endpoint.
const DefaultAuthURL = "https://api.backblazeb2.com"

const apiVersion = "b2api/v2"

// Params holds the account credentials.
type Params struct {
	KeyID   string
	Key     string
	AuthURL string
}

// Client talks to the B2 native API. Control plane calls go through a retrying client,
// part and file uploads are sent once so that retries are driven by the upload engine.
type Client struct {
	params     Params
	apiClient  *retryablehttp.Client
	dataClient *retryablehttp.Client
	logger     log.Logger

	mu   sync.RWMutex
	auth *authorizeAccountResponse
}

// New creates a B2 Client. Call Authorize before anything else.
func New(params Params, logger log.Logger) *Client {
	if params.AuthURL == "" {
		params.AuthURL = DefaultAuthURL
	}

	apiClient := retryhttp.NewClient(logger)
	apiClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	dataClient := retryhttp.NewClient(logger)
	dataClient.RetryMax = 0
	dataClient.HTTPClient = upload.DefaultHTTPClient()
	dataClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		params:     params,
		apiClient:  apiClient,
		dataClient: dataClient,
		logger:     logger,
	}
}

// Authorize obtains an account authorization token.
func (c *Client) Authorize(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s/b2_authorize_account", strings.TrimSuffix(c.params.AuthURL, "/"), apiVersion)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.params.KeyID, c.params.Key)

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("b2_authorize_account: %w", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return unwrapError("b2_authorize_account", resp)
	}

	var auth authorizeAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return fmt.Errorf("b2_authorize_account: decode response: %w", err)
	}

	c.mu.Lock()
	c.auth = &auth
	c.mu.Unlock()

	c.logger.Debugf("Authorized B2 account %s (api: %s, recommended part size: %d)", auth.AccountID, auth.APIURL, auth.RecommendedPartSize)
	return nil
}

// MinimumPartSize returns the smallest part size the account accepts, 0 before authorization.
func (c *Client) MinimumPartSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.auth == nil {
		return 0
	}
	return c.auth.AbsoluteMinimumPartSize
}

func (c *Client) account() (authorizeAccountResponse, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.auth == nil {
		return authorizeAccountResponse{}, errors.New("b2 client is not authorized")
	}
	return *c.auth, nil
}

// call posts a JSON request to a control plane operation and decodes the response.
// An expired or rejected account token is refreshed once.
func (c *Client) call(ctx context.Context, operation string, request, response interface{}) error {
	err := c.callOnce(ctx, operation, request, response)

	var statusErr *upload.StatusError
	if errors.As(err, &statusErr) && isStaleToken(statusErr) {
		c.logger.Warnf("B2 authorization token rejected (%s), authorizing again", statusErr.Code)
		if err := c.Authorize(ctx); err != nil {
			return err
		}
		return c.callOnce(ctx, operation, request, response)
	}
	return err
}

func isStaleToken(err *upload.StatusError) bool {
	return err.StatusCode == http.StatusUnauthorized && (err.Code == "expired_auth_token" || err.Code == "bad_auth_token")
}

func (c *Client) callOnce(ctx context.Context, operation string, request, response interface{}) error {
	auth, err := c.account()
	if err != nil {
		return err
	}

	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s/%s", auth.APIURL, apiVersion, operation)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", auth.AuthorizationToken)
	req.Header.Set("Content-type", "application/json")

	resp, err := c.apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return unwrapError(operation, resp)
	}

	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

// send posts data to an upload URL without retrying.
func (c *Client) send(ctx context.Context, operation string, target upload.UploadTarget, data []byte, response interface{}) error {
	method := target.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, target.URL, data)
	if err != nil {
		return err
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(data))

	resp, err := c.dataClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return unwrapError(operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func unwrapError(operation string, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: HTTP %d: read error body: %w", operation, resp.StatusCode, err)
	}

	statusErr := &upload.StatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	}

	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Code != "" {
		statusErr.Code = errResp.Code
		statusErr.Message = errResp.Message
	}
	return statusErr
}
