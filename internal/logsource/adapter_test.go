package logsource

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWarehouse serves events from memory using the same filter and order
// as SQLWarehouse.
type fakeWarehouse struct {
	events  []ErrorEvent
	err     error
	queries []Query
}

func (f *fakeWarehouse) Query(_ context.Context, q Query) ([]ErrorEvent, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	allowed := map[Severity]bool{}
	for _, s := range q.Severities {
		allowed[s] = true
	}
	var out []ErrorEvent
	for _, e := range f.events {
		if allowed[e.Severity] && e.Timestamp.After(q.After) {
			out = append(out, e)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Timestamp.After(out[i].Timestamp) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func event(offset time.Duration, sev Severity, msg string) ErrorEvent {
	return ErrorEvent{Timestamp: base.Add(offset), Service: "crew-api", Severity: sev, Message: msg}
}

func TestFetchRecentEvents_AdvancesCursorToNewest(t *testing.T) {
	ctx := context.Background()
	wh := &fakeWarehouse{events: []ErrorEvent{
		event(1*time.Second, SeverityError, "first"),
		event(3*time.Second, SeverityCritical, "third"),
		event(2*time.Second, SeverityError, "second"),
		event(4*time.Second, "WARN", "ignored"),
	}}
	cursor := NewMemoryCursor(time.Time{})
	a := NewAdapter(wh, cursor)

	events, err := a.FetchRecentEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "third", events[0].Message)
	assert.Equal(t, "first", events[2].Message)

	got, _ := cursor.GetCursor(ctx)
	assert.Equal(t, base.Add(3*time.Second), got)

	require.Len(t, wh.queries, 1)
	assert.Equal(t, DefaultBatchSize, wh.queries[0].Limit)
	assert.ElementsMatch(t, []Severity{SeverityError, SeverityCritical}, wh.queries[0].Severities)
}

func TestFetchRecentEvents_CursorMonotonicAcrossPolls(t *testing.T) {
	ctx := context.Background()
	wh := &fakeWarehouse{}
	cursor := NewMemoryCursor(time.Time{})
	a := NewAdapter(wh, cursor, WithBatchSize(2))

	var maxSeen time.Time
	var prev time.Time
	for poll := 0; poll < 6; poll++ {
		// New events arrive between polls, some older than already-fetched ones.
		wh.events = append(wh.events,
			event(time.Duration(poll*10+5)*time.Second, SeverityError, "new"),
			event(time.Duration(poll*10+1)*time.Second, SeverityCritical, "new-ish"),
			event(-time.Hour, SeverityError, "ancient"),
		)
		events, err := a.FetchRecentEvents(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(events), 2)
		for _, e := range events {
			if e.Timestamp.After(maxSeen) {
				maxSeen = e.Timestamp
			}
		}

		got, _ := cursor.GetCursor(ctx)
		assert.False(t, got.Before(prev), "cursor moved backwards on poll %d", poll)
		assert.Equal(t, maxSeen, got)
		prev = got
	}
}

func TestFetchRecentEvents_QueryFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	start := base.Add(time.Minute)
	cursor := NewMemoryCursor(start)
	wh := &fakeWarehouse{err: errors.New("warehouse unavailable")}
	a := NewAdapter(wh, cursor)

	_, err := a.FetchRecentEvents(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse unavailable")

	got, _ := cursor.GetCursor(ctx)
	assert.Equal(t, start, got)

	// The next poll retries the same window.
	wh.err = nil
	_, err = a.FetchRecentEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, start, wh.queries[1].After)
}

func TestFetchRecentEvents_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	cursor := NewMemoryCursor(base)
	a := NewAdapter(&fakeWarehouse{}, cursor)

	events, err := a.FetchRecentEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
	got, _ := cursor.GetCursor(ctx)
	assert.Equal(t, base, got)
}

func TestFetchRecentEvents_DerivesMissingSignature(t *testing.T) {
	ctx := context.Background()
	withSig := event(2*time.Second, SeverityError, "boom")
	withSig.Signature = "checkout-crash"
	wh := &fakeWarehouse{events: []ErrorEvent{
		withSig,
		event(1*time.Second, SeverityError, "TypeError: x is undefined\n    at render (src/a.ts:1:1)"),
	}}
	a := NewAdapter(wh, NewMemoryCursor(time.Time{}))

	events, err := a.FetchRecentEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "checkout-crash", events[0].Signature)
	assert.Equal(t, "crew-api: TypeError: x is undefined", events[1].Signature)
}

type failingCursor struct{ getErr, setErr error }

func (f failingCursor) GetCursor(context.Context) (time.Time, error) { return time.Time{}, f.getErr }
func (f failingCursor) SetCursor(context.Context, time.Time) error   { return f.setErr }

func TestFetchRecentEvents_CursorErrors(t *testing.T) {
	ctx := context.Background()
	wh := &fakeWarehouse{events: []ErrorEvent{event(0, SeverityError, "x")}}

	_, err := NewAdapter(wh, failingCursor{getErr: errors.New("disk gone")}).FetchRecentEvents(ctx)
	assert.ErrorContains(t, err, "reading cursor")
	assert.Empty(t, wh.queries)

	_, err = NewAdapter(wh, failingCursor{setErr: errors.New("read only")}).FetchRecentEvents(ctx)
	assert.ErrorContains(t, err, "advancing cursor")
}

func TestDeriveSignature(t *testing.T) {
	tests := []struct {
		name    string
		service string
		message string
		want    string
	}{
		{"simple", "api", "boom", "api: boom"},
		{"first line only", "api", "  boom\nstack", "api: boom"},
		{"no service", "", "boom", "unknown: boom"},
		{"truncated", "api", strings.Repeat("é", 100), "api: " + strings.Repeat("é", 80)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSignature(tt.service, tt.message))
		})
	}
}
