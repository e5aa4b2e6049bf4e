package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	failures int // first N sends fail
	calls    int
	sent     []string
}

func (f *fakeTransport) Send(ctx context.Context, text string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("telegram status 502")
	}
	f.sent = append(f.sent, text)
	return nil
}

func newTestConsumer(tr Transport) (*Consumer, *[]time.Duration) {
	c := NewConsumer(tr)
	var sleeps []time.Duration
	c.sleepFn = func(d time.Duration) { sleeps = append(sleeps, d) }
	return c, &sleeps
}

func breachEvent() TransitionEvent {
	return TransitionEvent{
		AlertID:   "effr_iorb_spread:critical:123",
		MetricKey: "effr_iorb_spread",
		Severity:  "critical",
		Unit:      "bps",
		Value:     2,
		From:      "ok",
		To:        "breach",
	}
}

func TestConsumerDelivers(t *testing.T) {
	tr := &fakeTransport{}
	c, _ := newTestConsumer(tr)

	ch := make(chan TransitionEvent, 1)
	ch <- breachEvent()
	close(ch)

	c.Start(context.Background(), ch)

	require.Len(t, tr.sent, 1)
	assert.Contains(t, tr.sent[0], "CRITICAL ALERT")
	assert.Contains(t, tr.sent[0], "2.00 bps")
}

func TestConsumerRetriesTransientFailure(t *testing.T) {
	tr := &fakeTransport{failures: 2}
	c, sleeps := newTestConsumer(tr)

	ch := make(chan TransitionEvent, 1)
	ch <- breachEvent()
	close(ch)

	c.Start(context.Background(), ch)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, 3, tr.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestConsumerDropsAfterRetries(t *testing.T) {
	tr := &fakeTransport{failures: 10}
	c, _ := newTestConsumer(tr)

	ch := make(chan TransitionEvent, 1)
	ch <- breachEvent()
	close(ch)

	c.Start(context.Background(), ch)

	assert.Empty(t, tr.sent)
	assert.Equal(t, 3, tr.calls) // initial attempt plus two retries
}

func TestConsumerNilChannelIsNoOp(t *testing.T) {
	c, _ := newTestConsumer(&fakeTransport{})
	c.Start(context.Background(), nil) // must return immediately
}

func TestConsumerStopsOnCancel(t *testing.T) {
	c, _ := newTestConsumer(&fakeTransport{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Start(ctx, make(chan TransitionEvent))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on context cancel")
	}
}
