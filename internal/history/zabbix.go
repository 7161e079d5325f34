package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// ErrItemNotFound is returned when a host has none of the item keys
// configured for a metric.
var ErrItemNotFound = errors.New("item not found in history source")

// Zabbix value types passed as the history parameter of history.get.
const (
	valueFloat    = 0
	valueUnsigned = 3
)

const historyLimit = 10000

// APIError is a JSON-RPC error object returned by Zabbix.
type APIError struct {
	Method  string
	Code    int64
	Message string
	Data    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zabbix %s: %s (%d): %s", e.Method, e.Message, e.Code, e.Data)
}

// ZabbixClient reads item history over the Zabbix JSON-RPC API.
type ZabbixClient struct {
	endpoint string
	user     string
	password string
	keys     map[Metric][]string
	http     *http.Client
	log      *slog.Logger

	mu     sync.Mutex
	token  string
	nextID atomic.Int64
}

// NewZabbixClient creates a client from configuration. Login happens on
// the first call.
func NewZabbixClient(cfg util.ZabbixConfig) (*ZabbixClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("zabbix url is not configured")
	}
	endpoint := strings.TrimRight(cfg.URL, "/")
	if !strings.HasSuffix(endpoint, "api_jsonrpc.php") {
		endpoint += "/api_jsonrpc.php"
	}

	keys := map[Metric][]string{
		MetricPing: nonEmpty(cfg.PingKey, cfg.FallbackPingKey),
		MetricLoss: nonEmpty(cfg.LossKey),
	}
	return &ZabbixClient{
		endpoint: endpoint,
		user:     cfg.User,
		password: cfg.Password,
		keys:     keys,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      util.Component("history"),
	}, nil
}

func (c *ZabbixClient) HostExists(ctx context.Context, host string) (bool, error) {
	_, err := c.hostID(ctx, host)
	if errors.Is(err, ErrHostNotFound) {
		return false, nil
	}
	return err == nil, err
}

// FetchHistory returns the samples of key between from and to, oldest
// first. The ping metric falls back to the secondary item key when the
// primary one is missing.
func (c *ZabbixClient) FetchHistory(ctx context.Context, key MetricKey, from, to time.Time) ([]model.Sample, error) {
	hostID, err := c.hostID(ctx, key.Host)
	if err != nil {
		return nil, err
	}
	itemID, err := c.itemID(ctx, hostID, c.keys[key.Metric])
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", key.Host, key.Metric, err)
	}

	valueType := valueUnsigned
	if key.Metric == MetricLoss {
		valueType = valueFloat
	}
	result, err := c.call(ctx, "history.get", map[string]any{
		"itemids":   []string{itemID},
		"history":   valueType,
		"time_from": from.Unix(),
		"time_till": to.Unix(),
		"output":    "extend",
		"sortfield": "clock",
		"sortorder": "ASC",
		"limit":     historyLimit,
	})
	if err != nil {
		return nil, err
	}

	var samples []model.Sample
	for _, r := range result.Array() {
		clock, err := strconv.ParseInt(r.Get("clock").String(), 10, 64)
		if err != nil {
			c.log.Debug("skipping sample with bad clock", "item", itemID, "clock", r.Get("clock").String())
			continue
		}
		value, err := strconv.ParseFloat(r.Get("value").String(), 64)
		if err != nil {
			c.log.Debug("skipping sample with bad value", "item", itemID, "value", r.Get("value").String())
			continue
		}
		samples = append(samples, model.Sample{Timestamp: time.Unix(clock, 0).UTC(), Value: value})
	}
	slices.SortStableFunc(samples, func(a, b model.Sample) int { return a.Timestamp.Compare(b.Timestamp) })
	return samples, nil
}

func (c *ZabbixClient) hostID(ctx context.Context, host string) (string, error) {
	result, err := c.call(ctx, "host.get", map[string]any{
		"search": map[string]string{"host": host},
		"output": []string{"hostid", "host"},
	})
	if err != nil {
		return "", err
	}
	hosts := result.Array()
	if len(hosts) == 0 {
		return "", fmt.Errorf("%s: %w", host, ErrHostNotFound)
	}
	return hosts[0].Get("hostid").String(), nil
}

func (c *ZabbixClient) itemID(ctx context.Context, hostID string, keys []string) (string, error) {
	for _, key := range keys {
		result, err := c.call(ctx, "item.get", map[string]any{
			"output": []string{"itemid", "key_"},
			"filter": map[string]string{"hostid": hostID, "key_": key},
		})
		if err != nil {
			return "", err
		}
		if items := result.Array(); len(items) > 0 {
			return items[0].Get("itemid").String(), nil
		}
		c.log.Debug("item key not found", "host_id", hostID, "key", key)
	}
	return "", ErrItemNotFound
}

func (c *ZabbixClient) login(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	result, err := c.rpc(ctx, "user.login", map[string]string{"username": c.user, "password": c.password}, "")
	if err != nil {
		return "", fmt.Errorf("zabbix login failed: %w", err)
	}
	c.token = result.String()
	return c.token, nil
}

// call runs an authenticated method, logging in again once if the
// session expired.
func (c *ZabbixClient) call(ctx context.Context, method string, params any) (gjson.Result, error) {
	token, err := c.login(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	result, err := c.rpc(ctx, method, params, token)

	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Data), "session terminated") {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		if token, err = c.login(ctx); err != nil {
			return gjson.Result{}, err
		}
		return c.rpc(ctx, method, params, token)
	}
	return result, err
}

func (c *ZabbixClient) rpc(ctx context.Context, method string, params any, token string) (gjson.Result, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	}
	if token != "" {
		payload["auth"] = token
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json-rpc")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("zabbix %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to read zabbix response: %w", err)
	}
	c.log.Debug("zabbix call", "method", method, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("zabbix %s: unexpected status %d", method, resp.StatusCode)
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("zabbix %s: invalid JSON response", method)
	}

	doc := gjson.ParseBytes(data)
	if e := doc.Get("error"); e.Exists() {
		return gjson.Result{}, &APIError{
			Method:  method,
			Code:    e.Get("code").Int(),
			Message: e.Get("message").String(),
			Data:    e.Get("data").String(),
		}
	}
	return doc.Get("result"), nil
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
