package poller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanehull/oantfy/internal/extract"
	"github.com/shanehull/oantfy/internal/history"
	"github.com/shanehull/oantfy/internal/notify"
	"github.com/shanehull/oantfy/internal/types"
)

func openedHTML(symbol string) string {
	return fmt.Sprintf(`<html><body><table><tr><td><div>`+
		`<span>Bot: Iron Condor Bot </span><span>Symbol: %s </span><span>Strategy: IC </span>`+
		`<span>Position: Short </span><span>Expiration: Jan 05, 2024 </span><span>Quantity: 1 </span>`+
		`<span>Cost: $1,234.50 </span><span>Price: 2.15</span>`+
		`</div></td></tr></table></body></html>`, symbol)
}

type fakeMailbox struct {
	batches  [][]types.Message
	errs     []error
	calls    int
	labelIDs [][]string
	labels   []types.Label
}

func (m *fakeMailbox) ListLabels(context.Context) ([]types.Label, error) {
	return m.labels, nil
}

func (m *fakeMailbox) GetMessages(_ context.Context, labelIDs []string) ([]types.Message, error) {
	i := m.calls
	m.calls++
	m.labelIDs = append(m.labelIDs, labelIDs)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.batches) {
		return m.batches[i], nil
	}
	if len(m.batches) > 0 {
		return m.batches[len(m.batches)-1], nil
	}
	return nil, nil
}

type fakeSender struct {
	sent  []types.Notification
	fails int
}

func (s *fakeSender) Send(_ context.Context, n types.Notification) error {
	if s.fails > 0 {
		s.fails--
		return &notify.DeliveryError{StatusCode: 502}
	}
	s.sent = append(s.sent, n)
	return nil
}

type memTracker struct {
	ids       map[string]bool
	lookupErr error
	recordErr error
	recorded  []string
}

func newMemTracker() *memTracker {
	return &memTracker{ids: map[string]bool{}}
}

func (t *memTracker) AlreadyDelivered(_ context.Context, id string) (bool, error) {
	if t.lookupErr != nil {
		return false, t.lookupErr
	}
	return t.ids[id], nil
}

func (t *memTracker) RecordDelivered(_ context.Context, id string) error {
	if t.recordErr != nil {
		return t.recordErr
	}
	t.ids[id] = true
	t.recorded = append(t.recorded, id)
	return nil
}

type fakeSleeper struct {
	durations   []time.Duration
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	if len(s.durations) >= s.cancelAfter {
		s.cancel()
	}
	return ctx.Err()
}

func newTestPoller(t *testing.T, mailbox Mailbox, tracker Tracker, sender Sender) *Poller {
	t.Helper()
	matcher, err := extract.NewMatcher(extract.DefaultOpenPattern, extract.DefaultClosedPattern)
	require.NoError(t, err)

	return New(Options{LabelID: "Label_42", Format: types.FormatMarkdown, Interval: time.Minute}, Deps{
		Mailbox:    mailbox,
		Classifier: matcher,
		Renderer:   notify.NewRenderer(),
		Tracker:    tracker,
		Sender:     sender,
	}, zerolog.Nop())
}

func TestRunOnce_SendsAndRecords(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}}
	tracker := newMemTracker()
	sender := &fakeSender{}
	p := newTestPoller(t, mailbox, tracker, sender)

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Fetched: 1, Sent: 1}, stats)
	assert.Equal(t, [][]string{{"Label_42"}}, mailbox.labelIDs)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Position opened by Iron Condor Bot: 1 SPY IC", sender.sent[0].Title)
	assert.Equal(t, types.FormatMarkdown, sender.sent[0].Format)
	assert.Equal(t, []string{"m1"}, tracker.recorded)
}

func TestRunOnce_SameMessageTwiceSendsOnce(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}}
	tracker := newMemTracker()
	sender := &fakeSender{}
	p := newTestPoller(t, mailbox, tracker, sender)

	_, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, sender.sent, 1)
	assert.Equal(t, BatchStats{Fetched: 1, Skipped: 1}, stats)
}

func TestRunOnce_FailedDeliveryIsRetried(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}}
	tracker := newMemTracker()
	sender := &fakeSender{fails: 1}
	p := newTestPoller(t, mailbox, tracker, sender)

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Fetched: 1, Failed: 1}, stats)
	assert.Empty(t, tracker.recorded, "failed delivery must not be recorded")

	stats, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Fetched: 1, Sent: 1}, stats)
	assert.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"m1"}, tracker.recorded)
}

func TestRunOnce_BadMessageDoesNotAbortBatch(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{
		{ID: "no-marker", HTML: "<html><body><p>Weekly newsletter</p></body></html>"},
		{ID: "unrecognised", HTML: "<div><p><span>Bot: something else entirely</span></p></div>"},
		{ID: "good", HTML: openedHTML("QQQ")},
	}}}
	tracker := newMemTracker()
	sender := &fakeSender{}
	p := newTestPoller(t, mailbox, tracker, sender)

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Fetched: 3, Sent: 1, Failed: 2}, stats)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Title, "QQQ")
	assert.Equal(t, []string{"good"}, tracker.recorded)
}

func TestRunOnce_DryRunRecordsWithoutTransport(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}}
	store, err := history.NewFileStore(filepath.Join(t.TempDir(), "db.json"), zerolog.Nop())
	require.NoError(t, err)
	tracker := history.NewTracker(store, zerolog.Nop())
	transport := &fakeSender{}

	var out bytes.Buffer
	p := newTestPoller(t, mailbox, tracker, notify.NewConsoleSender(&out))

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sent)
	assert.Empty(t, transport.sent)
	assert.Contains(t, out.String(), "Position opened by Iron Condor Bot: 1 SPY IC")

	delivered, err := tracker.AlreadyDelivered(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, delivered)
}

func TestRunOnce_LookupErrorSkipsMessage(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}}
	tracker := newMemTracker()
	tracker.lookupErr = errors.New("store unavailable")
	sender := &fakeSender{}
	p := newTestPoller(t, mailbox, tracker, sender)

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Fetched: 1, Failed: 1}, stats)
	assert.Empty(t, sender.sent)
}

func TestRunOnce_RecordErrorStillCountsAsSent(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}}
	tracker := newMemTracker()
	tracker.recordErr = errors.New("disk full")
	sender := &fakeSender{}
	p := newTestPoller(t, mailbox, tracker, sender)

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BatchStats{Fetched: 1, Sent: 1}, stats)
	assert.Len(t, sender.sent, 1)
}

func TestRunOnce_UnsupportedFormat(t *testing.T) {
	matcher, err := extract.NewMatcher(extract.DefaultOpenPattern, extract.DefaultClosedPattern)
	require.NoError(t, err)
	sender := &fakeSender{}
	p := New(Options{LabelID: "L", Format: "xml"}, Deps{
		Mailbox:    &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}},
		Classifier: matcher,
		Renderer:   notify.NewRenderer(),
		Tracker:    newMemTracker(),
		Sender:     sender,
	}, zerolog.Nop())

	stats, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Empty(t, sender.sent)
}

func TestRunOnce_RetrievalError(t *testing.T) {
	mailbox := &fakeMailbox{errs: []error{errors.New("gmail down")}}
	p := newTestPoller(t, mailbox, newMemTracker(), &fakeSender{})

	_, err := p.RunOnce(context.Background())
	assert.ErrorContains(t, err, "gmail down")
}

func TestRunOnce_IgnoresCancelledContext(t *testing.T) {
	mailbox := &fakeMailbox{batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}}}
	sender := &fakeSender{}
	p := newTestPoller(t, mailbox, newMemTracker(), sender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := p.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	mailbox := &fakeMailbox{
		batches: [][]types.Message{{{ID: "m1", HTML: openedHTML("SPY")}}},
		errs:    []error{nil, errors.New("transient")},
	}
	sender := &fakeSender{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeper := &fakeSleeper{cancelAfter: 3, cancel: cancel}

	p := newTestPoller(t, mailbox, newMemTracker(), sender)
	p.deps.Sleeper = sleeper

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 3, mailbox.calls, "a failed retrieval does not stop the loop")
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, sleeper.durations)
	assert.Len(t, sender.sent, 1)
}

func TestListLabels(t *testing.T) {
	labels := []types.Label{{ID: "Label_42", Name: "Option Alpha"}}
	p := newTestPoller(t, &fakeMailbox{labels: labels}, newMemTracker(), &fakeSender{})

	got, err := p.ListLabels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, labels, got)
}
