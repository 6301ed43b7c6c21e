// Package client talks to a running crystalvol API server.
package client

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crystalvol/pkg/api"
	"crystalvol/pkg/bondstats"
	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
)

type Client struct {
	base string
	http *http.Client
}

// Dial connects to addr ("host:port" or a full URL) and checks /health.
func Dial(addr string) (*Client, error) {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("client: no host in %q", addr)
	}

	c := &Client{
		base: strings.TrimRight(u.String(), "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Health(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Predict(ctx context.Context, s *crystal.Structure, mode string) (*api.PredictResponse, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	path := "/api/predict?mode=" + url.QueryEscape(mode)
	resp, err := c.do(ctx, http.MethodPost, path, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("client: decode prediction: %w", err)
	}
	return &out, nil
}

// Fit asks the server to refit its table; it returns the number of
// structures used.
func (c *Client) Fit(ctx context.Context, maxElements int, eAboveHull float64) (int, error) {
	body, _ := json.Marshal(map[string]interface{}{"max_elements": maxElements, "e_above_hull": eAboveHull})
	resp, err := c.do(ctx, http.MethodPost, "/api/fit", "application/json", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Structures int `json:"structures"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Structures, nil
}

// Table downloads the server's bond-length table.
func (c *Client) Table(ctx context.Context) (bondstats.Table, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/table", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	records, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, common.ErrBadTable
	}
	table := make(bondstats.Table, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != 2 {
			return nil, common.ErrBadTable
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rec[0], common.ErrBadTable)
		}
		table[common.BondType(rec[0])] = v
	}
	return table, nil
}

func (c *Client) ReloadTable(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/table/reload", "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Stats(ctx context.Context) (map[string]uint64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/stats", "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Counters map[string]uint64 `json:"counters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Counters, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// do sends one request, retrying once on a transport error. Non-2xx
// responses become errors carrying the server's message.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, contentType, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.http.CloseIdleConnections()
		if resp, err = c.send(ctx, method, path, contentType, body); err != nil {
			return nil, err
		}
	}

	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.http.Do(req)
}

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
