package pollstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nekolive/signaling-relay/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(clk *fakeClock) (*Store, *metrics.Metrics) {
	m := metrics.New()
	return New(Options{Clock: clk, Metrics: m, IdleTTL: time.Minute}), m
}

func TestStore_PostStampsTimestampAndID(t *testing.T) {
	req := require.New(t)
	clk := &fakeClock{now: time.UnixMilli(1_000)}
	s, m := newTestStore(clk)

	out, err := s.Post("room1", []byte(`{"type":"offer","sdp":"x","timestamp":5,"id":"client"}`))
	req.NoError(err)

	doc := gjson.ParseBytes(out)
	req.Equal("offer", doc.Get("type").String())
	req.Equal("x", doc.Get("sdp").String())
	req.Equal(int64(1_000), doc.Get("timestamp").Int())
	_, err = uuid.Parse(doc.Get("id").String())
	req.NoError(err, "id must be a server-generated uuid")
	req.Equal(uint64(1), m.Get(metrics.PollMessagesPosted))
}

func TestStore_RejectsNonObjects(t *testing.T) {
	s, _ := newTestStore(&fakeClock{now: time.UnixMilli(0)})
	for _, body := range []string{``, `nope`, `[1]`, `"str"`, `42`, "{\"sdp\":\"\xff\"}", "{\"\xc3\":1}"} {
		_, err := s.Post("r", []byte(body))
		require.ErrorIs(t, err, ErrNotObject, body)
	}
	require.Equal(t, 0, s.Len())
}

func TestStore_TimestampsStrictlyIncreasing(t *testing.T) {
	clk := &fakeClock{now: time.UnixMilli(10_000)}
	s, _ := newTestStore(clk)

	var last int64
	for i := 0; i < 5; i++ {
		out, err := s.Post("r", []byte(`{"type":"chat"}`))
		require.NoError(t, err)
		ts := gjson.GetBytes(out, "timestamp").Int()
		if ts <= last {
			t.Fatalf("timestamp %d not greater than previous %d", ts, last)
		}
		last = ts
	}
	require.Equal(t, int64(10_004), last)

	// A clock that jumps backwards never reorders a room.
	clk.Advance(-time.Second)
	out, err := s.Post("r", []byte(`{"type":"chat"}`))
	require.NoError(t, err)
	require.Equal(t, int64(10_005), gjson.GetBytes(out, "timestamp").Int())
}

func TestStore_FiftyOnePostsKeepsNewestFifty(t *testing.T) {
	req := require.New(t)
	clk := &fakeClock{now: time.UnixMilli(1)}
	s, _ := newTestStore(clk)

	for i := 1; i <= 51; i++ {
		_, err := s.Post("room1", []byte(fmt.Sprintf(`{"type":"chat","n":%d}`, i)))
		req.NoError(err)
		clk.Advance(time.Millisecond)
	}

	msgs := s.Since("room1", 0)
	req.Len(msgs, 50)
	req.Equal(int64(2), gjson.GetBytes(msgs[0], "n").Int(), "oldest message must be evicted")
	req.Equal(int64(51), gjson.GetBytes(msgs[49], "n").Int())
}

func TestStore_SinceFilters(t *testing.T) {
	clk := &fakeClock{now: time.UnixMilli(100)}
	s, _ := newTestStore(clk)

	var stamps []int64
	for i := 0; i < 3; i++ {
		out, err := s.Post("r", []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, err)
		stamps = append(stamps, gjson.GetBytes(out, "timestamp").Int())
		clk.Advance(10 * time.Millisecond)
	}

	got := s.Since("r", stamps[0])
	require.Len(t, got, 2)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got[0], &decoded))
	require.EqualValues(t, 1, decoded["n"])

	require.Empty(t, s.Since("r", stamps[2]))
	require.NotNil(t, s.Since("missing", 0))
	require.Empty(t, s.Since("missing", 0))
	require.Equal(t, 1, s.Len(), "reading an unknown room must not create it")
}

func TestStore_RoomsAreIndependent(t *testing.T) {
	s, _ := newTestStore(&fakeClock{now: time.UnixMilli(1)})
	_, err := s.Post("a", []byte(`{"room":"a"}`))
	require.NoError(t, err)
	require.Empty(t, s.Since("b", 0))
	require.Len(t, s.Since("a", 0), 1)
}

func TestStore_SweepEvictsIdleRooms(t *testing.T) {
	clk := &fakeClock{now: time.UnixMilli(0)}
	s, m := newTestStore(clk)

	_, err := s.Post("stale", []byte(`{}`))
	require.NoError(t, err)
	clk.Advance(45 * time.Second)
	_, err = s.Post("fresh", []byte(`{}`))
	require.NoError(t, err)
	clk.Advance(30 * time.Second)

	require.Equal(t, 1, s.Sweep())
	require.Equal(t, 1, s.Len())
	require.Len(t, s.Since("fresh", 0), 1)
	require.Equal(t, uint64(1), m.Get(metrics.PollRoomsExpired))

	// Polling keeps a room alive.
	clk.Advance(45 * time.Second)
	s.Since("fresh", 0)
	clk.Advance(45 * time.Second)
	require.Equal(t, 0, s.Sweep())
}
