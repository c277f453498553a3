package snapgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/ranking"
)

const dateLayout = "2006-01-02"

// errBusy reports that another import holds the gate.
var errBusy = errors.New("import in progress")

// apiError is an error answer of the service.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Rankings mirrors the rankings response.
type Rankings struct {
	Players   []ranking.Entry `json:"players"`
	Alliances []ranking.Entry `json:"alliances"`
}

// Client talks to the service API.
type Client struct {
	client *http.Client
	base   string
}

// NewClient creates a client with a per request timeout.
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{client: &http.Client{Timeout: timeout}, base: base}
}

// Health checks that the service answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// CreateRealm creates realm, accepting one that already exists.
func (c *Client) CreateRealm(ctx context.Context, realm string) error {
	body, err := json.Marshal(map[string]string{"id": realm})
	if err != nil {
		return err
	}
	err = c.do(ctx, http.MethodPost, "/realms", body, nil)
	var ae *apiError
	if errors.As(err, &ae) && ae.Code == "already_exists" {
		return nil
	}
	return err
}

// Import queues payload as the snapshot of date.
func (c *Client) Import(ctx context.Context, realm string, date time.Time, payload []byte) (model.ImportSession, error) {
	var session model.ImportSession
	q := url.Values{"date": {date.Format(dateLayout)}}
	err := c.do(ctx, http.MethodPost, "/realms/"+url.PathEscape(realm)+"/imports?"+q.Encode(), payload, &session)
	var ae *apiError
	if errors.As(err, &ae) && ae.Code == "import_in_progress" {
		return session, fmt.Errorf("%w: %s", errBusy, ae.Message)
	}
	return session, err
}

// Session fetches an import session.
func (c *Client) Session(ctx context.Context, id string) (model.ImportSession, error) {
	var session model.ImportSession
	err := c.do(ctx, http.MethodGet, "/imports/"+url.PathEscape(id), nil, &session)
	return session, err
}

// Players lists the players of realm as of date.
func (c *Client) Players(ctx context.Context, realm string, date time.Time) ([]model.Player, error) {
	var players []model.Player
	q := url.Values{"date": {date.Format(dateLayout)}}
	err := c.do(ctx, http.MethodGet, "/realms/"+url.PathEscape(realm)+"/players?"+q.Encode(), nil, &players)
	return players, err
}

// Rankings fetches the top limit entries of realm as of date.
func (c *Client) Rankings(ctx context.Context, realm string, date time.Time, limit int) (Rankings, error) {
	var r Rankings
	q := url.Values{"date": {date.Format(dateLayout)}, "limit": {strconv.Itoa(limit)}}
	err := c.do(ctx, http.MethodGet, "/realms/"+url.PathEscape(realm)+"/rankings?"+q.Encode(), nil, &r)
	return r, err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		ae := &apiError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(data, ae); jerr != nil {
			ae.Message = string(data)
		}
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
