package hubadapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiVersion     = "2021-04-12"
	defaultTimeout = 10 * time.Second
	tokenTTL       = time.Hour
)

var (
	// ErrDownstream wraps every failure talking to the device hub.
	ErrDownstream = errors.New("hubadapter: downstream failure")

	errConflict = errors.New("hubadapter: conflict")
)

// ConnectionString holds the parts of a hub service connection string.
type ConnectionString struct {
	HostName            string
	SharedAccessKeyName string
	SharedAccessKey     string
}

// ParseConnectionString parses "HostName=...;SharedAccessKeyName=...;SharedAccessKey=...".
func ParseConnectionString(value string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(value, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "HostName":
			cs.HostName = val
		case "SharedAccessKeyName":
			cs.SharedAccessKeyName = val
		case "SharedAccessKey":
			cs.SharedAccessKey = val
		}
	}
	if cs.HostName == "" || cs.SharedAccessKeyName == "" || cs.SharedAccessKey == "" {
		return ConnectionString{}, errors.New("hubadapter: invalid service connection string")
	}
	return cs, nil
}

// Client is a minimal device hub REST client for cloud-to-device commands.
type Client struct {
	hostName string
	keyName  string
	key      []byte
	baseURL  string
	client   *http.Client
	now      func() time.Time
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithBaseURL sends requests to baseURL instead of https://HostName.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// NewClient constructs a hub client from a service connection string.
func NewClient(connectionString string, opts ...Option) (*Client, error) {
	cs, err := ParseConnectionString(connectionString)
	if err != nil {
		return nil, err
	}
	key, err := base64.StdEncoding.DecodeString(cs.SharedAccessKey)
	if err != nil {
		return nil, fmt.Errorf("hubadapter: decode shared access key: %w", err)
	}
	c := &Client{
		hostName: cs.HostName,
		keyName:  cs.SharedAccessKeyName,
		key:      key,
		baseURL:  "https://" + cs.HostName,
		client:   &http.Client{Timeout: defaultTimeout},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type alarmCommand struct {
	Alarm bool `json:"alarm"`
}

// SendAlarmCommand posts {"alarm": on} to the device's cloud-to-device queue.
func (c *Client) SendAlarmCommand(ctx context.Context, deviceID string, on bool) error {
	if c == nil {
		return fmt.Errorf("%w: nil client", ErrDownstream)
	}
	if deviceID == "" {
		return errors.New("hubadapter: empty device id")
	}
	path := "/devices/" + url.PathEscape(deviceID) + "/messages/devicebound"
	resource := c.hostName + "/devices/" + deviceID
	return c.doJSON(ctx, http.MethodPost, path, resource, alarmCommand{Alarm: on}, nil)
}

type deviceIdentity struct {
	DeviceID       string `json:"deviceId"`
	Status         string `json:"status"`
	Authentication *struct {
		SymmetricKey struct {
			PrimaryKey string `json:"primaryKey"`
		} `json:"symmetricKey"`
	} `json:"authentication,omitempty"`
}

// EnsureDevice registers the device identity and returns its primary key.
// An identity that already exists yields an empty key and no error.
func (c *Client) EnsureDevice(ctx context.Context, deviceID string) (string, error) {
	if c == nil {
		return "", fmt.Errorf("%w: nil client", ErrDownstream)
	}
	if deviceID == "" {
		return "", errors.New("hubadapter: empty device id")
	}
	path := "/devices/" + url.PathEscape(deviceID)
	var resp deviceIdentity
	err := c.doJSON(ctx, http.MethodPut, path, c.hostName+path, deviceIdentity{DeviceID: deviceID, Status: "enabled"}, &resp)
	if errors.Is(err, errConflict) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if resp.Authentication == nil {
		return "", nil
	}
	return resp.Authentication.SymmetricKey.PrimaryKey, nil
}

// SASToken builds a shared access signature for resourceURI valid until expiry.
func SASToken(resourceURI, keyName string, key []byte, expiry time.Time) string {
	encodedURI := url.QueryEscape(strings.ToLower(resourceURI))
	se := strconv.FormatInt(expiry.Unix(), 10)
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(encodedURI + "\n" + se))
	signature := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return "SharedAccessSignature sr=" + encodedURI + "&sig=" + signature + "&se=" + se + "&skn=" + keyName
}

func (c *Client) doJSON(ctx context.Context, method, path, resource string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := c.baseURL + path + "?api-version=" + apiVersion
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", SASToken(resource, c.keyName, c.key, c.now().Add(tokenTTL)))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return errConflict
	}
	if resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("%w: http %d: %s", ErrDownstream, resp.StatusCode, strings.TrimSpace(string(text)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode response: %v", ErrDownstream, err)
	}
	return nil
}
