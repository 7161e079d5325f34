package history

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/util"
)

// fakeZabbix is a minimal JSON-RPC endpoint with one host, SVC-1, that
// only has the fallback ping item and a loss item.
type fakeZabbix struct {
	mu      sync.Mutex
	methods []string
	history map[string][]map[string]string
	expired bool
}

func (f *fakeZabbix) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := gjson.ParseBytes(body)
	method := req.Get("method").String()

	f.mu.Lock()
	f.methods = append(f.methods, method)
	expired := f.expired
	f.expired = false
	f.mu.Unlock()

	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": result, "id": req.Get("id").Int()})
	}
	fail := func(msg, data string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "error": map[string]any{"code": -32602, "message": msg, "data": data}, "id": req.Get("id").Int()})
	}

	if method != "user.login" && req.Get("auth").String() != "tok" {
		fail("Invalid params.", "Not authorised.")
		return
	}
	if expired {
		fail("Invalid params.", "Session terminated, re-login, please.")
		return
	}

	switch method {
	case "user.login":
		if req.Get("params.username").String() != "api" || req.Get("params.password").String() != "pw" {
			fail("Invalid params.", "Incorrect user name or password or account is temporarily blocked.")
			return
		}
		reply("tok")
	case "host.get":
		if req.Get("params.search.host").String() == "SVC-1" {
			reply([]map[string]string{{"hostid": "10101", "host": "SVC-1"}})
			return
		}
		reply([]any{})
	case "item.get":
		switch req.Get("params.filter.key_").String() {
		case "icmpping[,20,300,,]":
			reply([]map[string]string{{"itemid": "501", "key_": "icmpping[,20,300,,]"}})
		case "icmppingloss[,20,200,,]":
			reply([]map[string]string{{"itemid": "502", "key_": "icmppingloss[,20,200,,]"}})
		default:
			reply([]any{})
		}
	case "history.get":
		item := req.Get("params.itemids.0").String()
		from := req.Get("params.time_from").Int()
		var out []map[string]string
		for _, h := range f.history[item] {
			if gjson.Parse(h["clock"]).Int() >= from {
				out = append(out, h)
			}
		}
		reply(out)
	default:
		fail("Method not found.", method)
	}
}

func newZabbix(t *testing.T) (*fakeZabbix, *ZabbixClient) {
	t.Helper()
	fake := &fakeZabbix{history: map[string][]map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := util.DefaultConfig().Zabbix
	cfg.URL = srv.URL
	cfg.User = "api"
	cfg.Password = "pw"
	c, err := NewZabbixClient(cfg)
	require.NoError(t, err)
	return fake, c
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func (f *fakeZabbix) calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == method {
			n++
		}
	}
	return n
}

func TestZabbixFetchHistory(t *testing.T) {
	fake, c := newZabbix(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	fake.history["501"] = []map[string]string{
		{"clock": itoa(now.Add(-10 * time.Minute).Unix()), "value": "0"},
		{"clock": itoa(now.Add(-20 * time.Minute).Unix()), "value": "1"},
		{"clock": itoa(now.Add(-5 * time.Minute).Unix()), "value": "1"},
	}

	samples, err := c.FetchHistory(context.Background(), MetricKey{Host: "SVC-1", Metric: MetricPing}, now.Add(-time.Hour), now)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, now.Add(-20*time.Minute), samples[0].Timestamp, "sorted oldest first")
	assert.Equal(t, 0.0, samples[1].Value)

	assert.Equal(t, 1, fake.calls("user.login"), "login is cached")
	assert.Equal(t, 2, fake.calls("item.get"), "falls back to the secondary ping key")
}

func TestZabbixHostExists(t *testing.T) {
	_, c := newZabbix(t)

	ok, err := c.HostExists(context.Background(), "SVC-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HostExists(context.Background(), "SVC-2")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.FetchHistory(context.Background(), MetricKey{Host: "SVC-2", Metric: MetricLoss}, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, ErrHostNotFound)
}

func TestZabbixReloginOnExpiredSession(t *testing.T) {
	fake, c := newZabbix(t)
	_, err := c.HostExists(context.Background(), "SVC-1")
	require.NoError(t, err)

	fake.mu.Lock()
	fake.expired = true
	fake.mu.Unlock()

	ok, err := c.HostExists(context.Background(), "SVC-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, fake.calls("user.login"))
}

func TestZabbixBadCredentials(t *testing.T) {
	_, c := newZabbix(t)
	c.password = "nope"

	_, err := c.HostExists(context.Background(), "SVC-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "user.login", apiErr.Method)
}

func TestCollect(t *testing.T) {
	fake, c := newZabbix(t)
	now := time.Now().UTC().Truncate(time.Second)
	fake.history["501"] = []map[string]string{
		{"clock": itoa(now.Add(-3 * time.Hour).Unix()), "value": "1"},
		{"clock": itoa(now.Add(-2 * time.Minute).Unix()), "value": "0"},
	}
	fake.history["502"] = []map[string]string{
		{"clock": itoa(now.Add(-30 * time.Minute).Unix()), "value": "12.5"},
	}

	snap, err := Collect(context.Background(), c, "SVC-1", 12*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDown, snap.Status)
	assert.Len(t, snap.Ping, 2)
	require.Len(t, snap.Loss, 1)
	assert.Equal(t, 12.5, snap.Loss[0].Value)

	snap, err = Collect(context.Background(), c, "SVC-404", 12*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnknown, snap.Status)
	assert.Empty(t, snap.Ping)
}

type staticSource struct {
	series map[MetricKey][]model.Sample
}

func (s staticSource) HostExists(_ context.Context, host string) (bool, error) {
	for k := range s.series {
		if k.Host == host {
			return true, nil
		}
	}
	return false, nil
}

func (s staticSource) FetchHistory(_ context.Context, key MetricKey, from, to time.Time) ([]model.Sample, error) {
	var out []model.Sample
	for _, v := range s.series[key] {
		if !v.Timestamp.Before(from) && !v.Timestamp.After(to) {
			out = append(out, v)
		}
	}
	return out, nil
}

func TestCurrentStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	key := MetricKey{Host: "h", Metric: MetricPing}

	tests := map[string]struct {
		samples []model.Sample
		want    model.Status
	}{
		"last sample up":    {samples: []model.Sample{{Timestamp: now.Add(-30 * time.Minute), Value: 0}, {Timestamp: now.Add(-time.Minute), Value: 1}}, want: model.StatusUp},
		"last sample down":  {samples: []model.Sample{{Timestamp: now.Add(-time.Minute), Value: 0}}, want: model.StatusDown},
		"no recent samples": {samples: []model.Sample{{Timestamp: now.Add(-2 * time.Hour), Value: 1}}, want: model.StatusDown},
		"no samples at all": {want: model.StatusDown},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			src := staticSource{series: map[MetricKey][]model.Sample{key: test.samples}}
			got, err := CurrentStatus(context.Background(), src, "h", now)
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

type memoryStore struct {
	series map[MetricKey][]model.Sample
}

func (m *memoryStore) SaveSamples(key MetricKey, samples []model.Sample) error {
	m.series[key] = append(m.series[key], samples...)
	return nil
}

func (m *memoryStore) Samples(key MetricKey, from, to time.Time) ([]model.Sample, error) {
	return staticSource{series: m.series}.FetchHistory(context.Background(), key, from, to)
}

func (m *memoryStore) HasHost(host string) (bool, error) {
	return staticSource{series: m.series}.HostExists(context.Background(), host)
}

func TestRecordingThenRecorded(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	key := MetricKey{Host: "SVC-1", Metric: MetricLoss}
	upstream := staticSource{series: map[MetricKey][]model.Sample{
		key: {{Timestamp: now.Add(-time.Minute), Value: 3}},
	}}
	store := &memoryStore{series: map[MetricKey][]model.Sample{}}

	_, err := NewRecording(upstream, store).FetchHistory(context.Background(), key, now.Add(-time.Hour), now)
	require.NoError(t, err)

	offline := NewRecorded(store)
	ok, err := offline.HostExists(context.Background(), "SVC-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := offline.FetchHistory(context.Background(), key, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, upstream.series[key], got)
}
