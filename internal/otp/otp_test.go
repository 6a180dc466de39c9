package otp

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureMailer struct {
	mu   sync.Mutex
	sent map[string]string
	err  error
}

func (m *captureMailer) Send(_ context.Context, to, _, body string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent == nil {
		m.sent = map[string]string{}
	}
	m.sent[to] = codePattern.FindString(body)
	return nil
}

func (m *captureMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[to]
}

func newTestService(mailer Mailer) (*Service, *time.Time) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	s := NewService(5*time.Minute, mailer)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestRequestAndVerify(t *testing.T) {
	m := &captureMailer{}
	s, _ := newTestService(m)
	ctx := context.Background()

	require.NoError(t, s.Request(ctx, "A@Example.com"))
	code := m.code("a@example.com")
	require.Len(t, code, 6)

	assert.ErrorIs(t, s.Verify("a@example.com", "000000x"), ErrInvalidCode)
	require.NoError(t, s.Verify("a@example.com", code))
	assert.ErrorIs(t, s.Verify("a@example.com", code), ErrInvalidCode, "codes are single use")
}

func TestRequest_Throttled(t *testing.T) {
	m := &captureMailer{}
	s, now := newTestService(m)
	ctx := context.Background()

	require.NoError(t, s.Request(ctx, "b@example.com"))
	assert.ErrorIs(t, s.Request(ctx, "b@example.com"), ErrThrottled)

	*now = now.Add(resendAfter)
	assert.NoError(t, s.Request(ctx, "b@example.com"))
}

func TestVerify_Expired(t *testing.T) {
	m := &captureMailer{}
	s, now := newTestService(m)
	require.NoError(t, s.Request(context.Background(), "c@example.com"))
	code := m.code("c@example.com")

	*now = now.Add(6 * time.Minute)
	assert.ErrorIs(t, s.Verify("c@example.com", code), ErrExpired)
	assert.ErrorIs(t, s.Verify("c@example.com", code), ErrInvalidCode)
}

func TestVerify_AttemptLimit(t *testing.T) {
	m := &captureMailer{}
	s, _ := newTestService(m)
	require.NoError(t, s.Request(context.Background(), "d@example.com"))
	code := m.code("d@example.com")

	for i := 0; i < maxAttempts; i++ {
		assert.ErrorIs(t, s.Verify("d@example.com", "wrong"), ErrInvalidCode)
	}
	assert.ErrorIs(t, s.Verify("d@example.com", code), ErrTooManyAttempts)
}

func TestRequest_DeliveryFailure(t *testing.T) {
	s, _ := newTestService(&captureMailer{err: errors.New("smtp down")})
	err := s.Request(context.Background(), "e@example.com")
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	s.mailer = &captureMailer{}
	assert.NoError(t, s.Request(context.Background(), "e@example.com"), "failed delivery does not throttle")
}

func TestSweepAndSchedule(t *testing.T) {
	s, now := newTestService(&captureMailer{})
	ctx := context.Background()
	require.NoError(t, s.Request(ctx, "f@example.com"))
	require.NoError(t, s.Request(ctx, "g@example.com"))

	assert.Equal(t, 0, s.Sweep())
	*now = now.Add(10 * time.Minute)
	assert.Equal(t, 2, s.Sweep())

	c := cron.New()
	_, err := s.Schedule(c, "@every 5m")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}

func TestLogMailer_MasksCodes(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	body := "Your password reset code is 482913. It expires in 5 minutes."

	testCases := []struct {
		name   string
		mailer LogMailer
		want   string
		absent string
	}{
		{name: "masked by default", mailer: LogMailer{}, want: "code is ******.", absent: "482913"},
		{name: "revealed when enabled", mailer: LogMailer{RevealCodes: true}, want: "code is 482913."},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			require.NoError(t, tc.mailer.Send(context.Background(), "dana@example.com", "Password reset", body))
			out := buf.String()
			assert.Contains(t, out, tc.want)
			assert.Contains(t, out, "expires in 5 minutes")
			if tc.absent != "" {
				assert.NotContains(t, out, tc.absent)
			}
		})
	}
}
