package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/metrics"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+"|"+subject+"|"+body)
	return m.err
}

func testAlert(channel, url string) Alert {
	return Alert{
		TenantID:   "tenant-1",
		RuleID:     "rule-1",
		RuleName:   "Spend guard",
		Metric:     "daily_cost",
		Operator:   ">",
		Value:      12.5,
		Threshold:  10,
		Channel:    channel,
		WebhookURL: url,
		FiredAt:    time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}
}

func newDispatcher(t *testing.T, signer *Signer, mailer Mailer) *Dispatcher {
	return NewDispatcher(
		NewWebhookSender(time.Second, signer),
		mailer,
		quartz.NewMock(t),
		metrics.NewCollector(config.MetricsConfig{}),
		zap.NewNop(),
	)
}

func TestWebhookDelivery(t *testing.T) {
	signer := NewSigner("s3cret")

	var (
		payload WebhookPayload
		header  string
		raw     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, _ = io.ReadAll(r.Body)
		header = r.Header.Get(SignatureHeader)
		_ = json.Unmarshal(raw, &payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	alert := testAlert(ChannelWebhook, srv.URL)
	alert.FiredAt = time.Now().UTC().Truncate(time.Second)

	d := newDispatcher(t, signer, nil)
	require.NoError(t, d.Dispatch(context.Background(), &db.Tenant{ID: "tenant-1"}, alert))

	assert.Equal(t, "agentpulse", payload.Source)
	assert.Equal(t, "Spend guard", payload.Alert)
	assert.Equal(t, "daily_cost", payload.Metric)
	assert.Equal(t, 12.5, payload.Value)
	assert.Equal(t, 10.0, payload.Threshold)
	assert.Equal(t, alert.FiredAt.Format(time.RFC3339), payload.FiredAt)

	claims, err := signer.Verify(header, raw)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", claims.Subject)
	assert.Equal(t, "rule-1", claims.RuleID)

	_, err = signer.Verify(header, append(raw, ' '))
	assert.Error(t, err, "token is bound to the exact body")
}

func TestWebhookFailureIsReported(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newDispatcher(t, nil, nil)
	err := d.Dispatch(context.Background(), nil, testAlert(ChannelWebhook, srv.URL))
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "no retries")
}

func TestWebhookRedirectsAreNotFollowed(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("redirect was followed")
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	err := newDispatcher(t, nil, nil).Dispatch(context.Background(), nil, testAlert(ChannelWebhook, srv.URL))
	assert.Error(t, err)
}

func TestEmailDelivery(t *testing.T) {
	mailer := &fakeMailer{}
	d := newDispatcher(t, nil, mailer)
	email := "ops@acme.io"

	require.NoError(t, d.Dispatch(context.Background(), &db.Tenant{ID: "tenant-1", Email: &email}, testAlert(ChannelEmail, "")))
	require.Len(t, mailer.sent, 1)

	parts := strings.SplitN(mailer.sent[0], "|", 3)
	assert.Equal(t, "ops@acme.io", parts[0])
	assert.Equal(t, "[AgentPulse] Alert: Spend guard", parts[1])
	assert.Contains(t, parts[2], "Condition: daily_cost > 10")
	assert.Contains(t, parts[2], "Value:     12.5")
}

func TestEmailSkippedWithoutAddress(t *testing.T) {
	mailer := &fakeMailer{}
	d := newDispatcher(t, nil, mailer)

	assert.NoError(t, d.Dispatch(context.Background(), &db.Tenant{ID: "tenant-1"}, testAlert(ChannelEmail, "")))
	assert.Empty(t, mailer.sent)
}

func TestEmailFailureIsReported(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("relay down")}
	email := "ops@acme.io"

	err := newDispatcher(t, nil, mailer).Dispatch(context.Background(), &db.Tenant{Email: &email}, testAlert(ChannelEmail, ""))
	assert.EqualError(t, err, "relay down")
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("alerts@agentpulse.dev", "ops@acme.io", "Hi", "line1\nline2", time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)))

	assert.True(t, strings.HasPrefix(msg, "From: alerts@agentpulse.dev\r\nTo: ops@acme.io\r\nSubject: Hi\r\n"))
	assert.Contains(t, msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	assert.True(t, strings.HasSuffix(msg, "line1\r\nline2"))
}

func TestNewSignerDisabled(t *testing.T) {
	assert.Nil(t, NewSigner(""))
	assert.Nil(t, NewSMTPMailer(config.SMTPConfig{}))
}
