package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (p *platform) streamURL(path string) string {
	return p.server.URL + "/streams" + path
}

func TestFilteredDelivery(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	c, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")

	p.broker.Publish("D1", speedEvent(30))
	p.broker.Publish("D1", speedEvent(75))

	payload := c.expectData(t, 2*time.Second)
	var wire struct {
		Timestamp int64    `json:"timestamp"`
		Value     *float64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &wire))
	require.NotNil(t, wire.Value)
	assert.Equal(t, 75.0, *wire.Value, "only the above-threshold reading may be delivered")
	assert.Equal(t, time.Unix(100, 0).UnixMilli(), wire.Timestamp)

	// The 30 km/h reading must not arrive afterwards either.
	select {
	case frame := <-c.frames:
		assert.False(t, strings.HasPrefix(frame, "data:"), "unexpected extra data frame %q", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHeartbeatLiveness(t *testing.T) {
	p := newPlatform(t, platformOptions{heartbeat: 60 * time.Millisecond})
	c, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")

	var heartbeats, data int
	deadline := time.Now().Add(320 * time.Millisecond)
	for time.Now().Before(deadline) {
		frame, ok := c.next(t, time.Until(deadline))
		if !ok {
			break
		}
		switch {
		case frame == "comment: heartbeat":
			heartbeats++
		case strings.HasPrefix(frame, "data:"):
			data++
		}
	}
	assert.Zero(t, data, "no data frames expected on an idle stream")
	assert.GreaterOrEqual(t, heartbeats, 3)
	assert.LessOrEqual(t, heartbeats, 6)
}

func TestExclusiveConflictReturns409(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	first, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")

	_, resp := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	// The first session is undisturbed and keeps streaming.
	p.broker.Publish("D1", speedEvent(80))
	payload := first.expectData(t, 2*time.Second)
	assert.Contains(t, payload, "80")
}

func TestRejectedFailoverOpenLeavesExclusiveSessionAlive(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	first, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")

	// The broker rejects a failover attach while the exclusive
	// subscription is held, before any lease is touched.
	_, resp := openStream(t, p.streamURL("/open/S1"), "", "text/event-stream")
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The exclusive session still owns its lease: it survives several
	// commit-tick lease checks and keeps streaming.
	time.Sleep(4 * p.opts.commit)
	p.broker.Publish("D1", speedEvent(82))
	payload := first.expectData(t, 2*time.Second)
	assert.Contains(t, payload, "82")
}

func TestFailoverTakeoverTerminatesOldSession(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	first, _ := openStream(t, p.streamURL("/open/S1"), "", "text/event-stream")

	second, resp := openStream(t, p.streamURL("/open/S1"), "", "text/event-stream")
	require.Nil(t, resp, "second failover open must succeed")

	// The superseded session announces the takeover and closes.
	drained := first.expectEnd(t, 2*time.Second)
	assert.Contains(t, drained, "comment: session superseded by a newer connection")

	// Only the new session delivers from here on.
	p.broker.Publish("D1", speedEvent(90))
	payload := second.expectData(t, 2*time.Second)
	assert.Contains(t, payload, "90")
}

func TestBacklogSelection(t *testing.T) {
	t.Run("LatestByDefault", func(t *testing.T) {
		p := newPlatform(t, platformOptions{})
		p.broker.Publish("D1", speedEvent(61))

		c, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")
		p.broker.Publish("D1", speedEvent(62))

		payload := c.expectData(t, 2*time.Second)
		assert.Contains(t, payload, "62", "pre-connection event must be skipped")
	})

	t.Run("ReceiveBacklog", func(t *testing.T) {
		p := newPlatform(t, platformOptions{})
		p.broker.Publish("D1", speedEvent(61))

		c, _ := openStream(t, p.streamURL("/S1?receiveBacklog=true"), "alice-token", "text/event-stream")
		p.broker.Publish("D1", speedEvent(62))

		assert.Contains(t, c.expectData(t, 2*time.Second), "61")
		assert.Contains(t, c.expectData(t, 2*time.Second), "62")
	})
}

func TestMissingReadGrantReturns403(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	_, resp := openStream(t, p.streamURL("/S1"), "no-grant-token", "text/event-stream")
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEqual(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "denied")
}

func TestAuthenticationErrors(t *testing.T) {
	p := newPlatform(t, platformOptions{})

	_, resp := openStream(t, p.streamURL("/S1"), "", "text/event-stream")
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp = openStream(t, p.streamURL("/S1"), "forged-token", "text/event-stream")
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUnknownStreamReturns404(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	_, resp := openStream(t, p.streamURL("/missing"), "alice-token", "text/event-stream")
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMissingAcceptHeaderReturns406(t *testing.T) {
	p := newPlatform(t, platformOptions{})

	_, resp := openStream(t, p.streamURL("/S1"), "alice-token", "")
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)

	_, resp = openStream(t, p.streamURL("/S1"), "alice-token", "application/json")
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
}

func TestRemoteStopClosesStream(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	c, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")

	p.hub.PublishStop("S1")

	drained := c.expectEnd(t, 2*time.Second)
	assert.Contains(t, drained, "comment: stream terminated by request")
}

func TestStopRacingDisconnectReleasesCountersOnce(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	c, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")

	waitForCondition(t, func() bool { return p.tracker.Active("D1") == 1 }, "session not tracked")

	// Both exit paths fire at once: the remote stop signal and the
	// client disconnect. Teardown must still run exactly once.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.hub.PublishStop("S1")
	}()
	go func() {
		defer wg.Done()
		c.close()
	}()
	wg.Wait()

	waitForCondition(t, func() bool { return p.tracker.Active("D1") == 0 }, "session not untracked")

	// Settle and re-check: a double teardown would have driven the
	// counter negative.
	time.Sleep(4 * p.opts.commit)
	assert.Equal(t, int64(0), p.tracker.Active("D1"))
}

func TestSessionCleanupOnDisconnect(t *testing.T) {
	p := newPlatform(t, platformOptions{})
	c, _ := openStream(t, p.streamURL("/S1"), "alice-token", "text/event-stream")

	waitForCondition(t, func() bool { return p.tracker.Active("D1") == 1 }, "session not tracked")

	c.close()

	waitForCondition(t, func() bool { return p.tracker.Active("D1") == 0 }, "session not untracked after disconnect")

	// The lease is gone too: a fresh open succeeds as exclusive owner.
	waitForCondition(t, func() bool {
		req, err := http.NewRequest(http.MethodGet, p.streamURL("/S1"), nil)
		if err != nil {
			return false
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Authorization", "Bearer alice-token")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, "stream not reopenable after disconnect")
}

func waitForCondition(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
