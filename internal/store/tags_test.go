package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"powerbot/internal/schedule"
	"powerbot/pkg/logx"
)

type fakeTagClient struct {
	mu   sync.Mutex
	tags map[string]map[string]string
	err  error
}

func newFakeTagClient() *fakeTagClient {
	return &fakeTagClient{tags: map[string]map[string]string{}}
}

func (f *fakeTagClient) GetTags(ctx context.Context, id string, keys []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := f.tags[id][k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeTagClient) SetTags(ctx context.Context, id string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.tags[id] == nil {
		f.tags[id] = map[string]string{}
	}
	for k, v := range tags {
		f.tags[id][k] = v
	}
	return nil
}

func (f *fakeTagClient) DeleteTags(ctx context.Context, id string, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, k := range keys {
		delete(f.tags[id], k)
	}
	return nil
}

func TestTagStoreScheduleRoundTrip(t *testing.T) {
	t.Parallel()
	tc := newFakeTagClient()
	st, err := Open(Config{Driver: "tags"}, tc, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()

	want := schedule.Schedule{StartMinute: 1320, StopMinute: 360}
	if err := st.Set(ctx, "i-1", want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if raw := tc.tags["i-1"][TagSchedule]; raw != "22:00-06:00" {
		t.Fatalf("schedule tag = %q, want 22:00-06:00", raw)
	}
	got, err := st.Get(ctx, "i-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || *got != want {
		t.Fatalf("Get = %+v, want %+v", got, want)
	}

	if err := st.Clear(ctx, "i-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err = st.Get(ctx, "i-1")
	if err != nil || got != nil {
		t.Fatalf("Get after Clear = (%v, %v)", got, err)
	}
}

func TestTagStoreMalformedTagTreatedAsUnset(t *testing.T) {
	t.Parallel()
	tc := newFakeTagClient()
	tc.tags["i-1"] = map[string]string{
		TagSchedule:   "whenever",
		TagPauseUntil: "not-a-timestamp",
	}
	st := newTagStore(tc, logx.Nop())
	ctx := context.Background()

	got, err := st.Get(ctx, "i-1")
	if err != nil || got != nil {
		t.Fatalf("malformed schedule tag: Get = (%v, %v), want (nil, nil)", got, err)
	}
	p, err := st.GetPause(ctx, "i-1")
	if err != nil || p != nil {
		t.Fatalf("malformed pause tag: GetPause = (%v, %v), want (nil, nil)", p, err)
	}
}

func TestTagStorePauseRoundTrip(t *testing.T) {
	t.Parallel()
	tc := newFakeTagClient()
	st := newTagStore(tc, logx.Nop())
	ctx := context.Background()

	until := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)
	if err := st.SetPause(ctx, "i-1", until); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	p, err := st.GetPause(ctx, "i-1")
	if err != nil || p == nil {
		t.Fatalf("GetPause = (%v, %v)", p, err)
	}
	if !p.Until.Equal(until) {
		t.Fatalf("pause until = %v, want %v", p.Until, until)
	}
}

func TestTagStoreWrapsBackendFailure(t *testing.T) {
	t.Parallel()
	tc := newFakeTagClient()
	tc.err = errors.New("api throttled")
	st := newTagStore(tc, logx.Nop())
	ctx := context.Background()

	if _, err := st.Get(ctx, "i-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get: expected ErrUnavailable, got %v", err)
	}
	if err := st.Set(ctx, "i-1", schedule.Schedule{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Set: expected ErrUnavailable, got %v", err)
	}
	if err := st.ClearPause(ctx, "i-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ClearPause: expected ErrUnavailable, got %v", err)
	}
}

func TestScheduleTagCodec(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sched schedule.Schedule
		tag   string
	}{
		{schedule.Schedule{StartMinute: 540, StopMinute: 1020}, "09:00-17:00"},
		{schedule.Schedule{StartMinute: 0, StopMinute: 0}, "00:00-00:00"},
		{schedule.Schedule{StartMinute: 1439, StopMinute: 1}, "23:59-00:01"},
	}
	for _, tt := range tests {
		if got := encodeScheduleTag(tt.sched); got != tt.tag {
			t.Fatalf("encode %+v = %q, want %q", tt.sched, got, tt.tag)
		}
		back, err := decodeScheduleTag(tt.tag)
		if err != nil {
			t.Fatalf("decode %q: %v", tt.tag, err)
		}
		if *back != tt.sched {
			t.Fatalf("decode %q = %+v, want %+v", tt.tag, back, tt.sched)
		}
	}
}
