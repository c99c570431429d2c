package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/realtime"
	"github.com/roach88/fieldsync/internal/testutil"
)

type cmdResult struct {
	stdout string
	stderr string
	err    error
}

// start runs a command in the background.
func (c *testCLI) start(ctx context.Context, args ...string) <-chan cmdResult {
	done := make(chan cmdResult, 1)
	go func() {
		stdout, stderr, err := c.runContext(ctx, args...)
		done <- cmdResult{stdout: stdout, stderr: stderr, err: err}
	}()
	return done
}

// waitConn waits for the command to dial and returns the connection.
func (c *testCLI) waitConn() *testutil.FakeConn {
	c.t.Helper()
	require.Eventually(c.t, func() bool { return c.dialer.Last() != nil }, 2*time.Second, 5*time.Millisecond)
	return c.dialer.Last()
}

func waitResult(t *testing.T, done <-chan cmdResult) cmdResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("command did not finish")
		return cmdResult{}
	}
}

func TestEventHeading(t *testing.T) {
	assert.Equal(t, "Task Update", eventHeading(realtime.EventTaskUpdate))
	assert.Equal(t, "Staff Notification", eventHeading(realtime.EventStaffNotification))
	assert.Equal(t, "Ack", eventHeading(realtime.EventAck))
}

func TestListen_PrintsEvents(t *testing.T) {
	c := newTestCLI(t, testConfig)
	done := c.start(context.Background(), "listen", "--count", "2")

	conn := c.waitConn()
	conn.Deliver([]byte(`{"type":"sensor_alert","data":{"sensorId":"s1","value":9},"senderId":"hub-1","timestamp":"2024-05-01T09:00:00Z"}`))
	conn.Deliver([]byte(`{"type":"staff_notification","data":{"title":"Shift"},"timestamp":"2024-05-01T09:01:00Z"}`))

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t,
		"[2024-05-01T09:00:00Z] Sensor Alert from hub-1: {\"sensorId\":\"s1\",\"value\":9}\n"+
			"[2024-05-01T09:01:00Z] Staff Notification: {\"title\":\"Shift\"}\n",
		r.stdout)
	assert.Equal(t, []string{"op-1"}, c.dialer.Identities())
	assert.True(t, conn.Closed(), "listen disconnects on exit")
	assert.Equal(t, realtime.DisconnectReasonClient, conn.CloseReason())
}

func TestListen_TypeFilterAndJSON(t *testing.T) {
	c := newTestCLI(t, testConfig)
	done := c.start(context.Background(), "--format", "json", "listen", "--type", "ack", "--count", "1", "--identity", "op-9")

	conn := c.waitConn()
	conn.Deliver([]byte(`{"type":"task_update","data":{"taskId":1,"status":"completed"}}`))
	conn.Deliver([]byte(`not json`))
	conn.Deliver([]byte(`{"type":"ack","data":{"received":true},"timestamp":"2024-05-01T09:00:00Z"}`))

	r := waitResult(t, done)
	require.NoError(t, r.err)

	scanner := bufio.NewScanner(strings.NewReader(r.stdout))
	var records []EventRecord
	for scanner.Scan() {
		var rec EventRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 1)
	assert.Equal(t, realtime.EventAck, records[0].Type)
	assert.Equal(t, "Ack", records[0].Heading)
	assert.JSONEq(t, `{"received":true}`, string(records[0].Data))
	assert.Equal(t, []string{"op-9"}, c.dialer.Identities())
}

func TestListen_StopsOnCancel(t *testing.T) {
	c := newTestCLI(t, testConfig)
	ctx, cancel := context.WithCancel(context.Background())
	done := c.start(ctx, "listen")

	conn := c.waitConn()
	cancel()

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.True(t, conn.Closed())
}

func TestListen_ConnectFailure(t *testing.T) {
	c := newTestCLI(t, testConfig)
	c.dialer.FailAlways(true)

	out, _, err := c.run("listen")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")

	// Disconnect cancelled the scheduled reconnect.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.dialer.Dials())
}

func TestListen_UnknownType(t *testing.T) {
	c := newTestCLI(t, testConfig)

	_, _, err := c.run("listen", "--type", "weather")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Zero(t, c.dialer.Dials())
}

func TestListen_NoEndpointConfigured(t *testing.T) {
	c := newTestCLI(t, testConfig)
	c.opts.Dialer = nil

	out, _, err := c.run("listen")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no realtime endpoint configured")
}

func TestSend_WritesEnvelope(t *testing.T) {
	c := newTestCLI(t, testConfig)

	out := c.mustRun("send", "staff_notification", `{"title":"Shift","message":"Starts at 9"}`)
	assert.Equal(t, "Sent staff_notification\n", out)

	conn := c.dialer.Last()
	require.NotNil(t, conn)
	frames := conn.Written()
	require.Len(t, frames, 1)

	env, err := realtime.DecodeEnvelope(frames[0])
	require.NoError(t, err)
	assert.Equal(t, realtime.EventStaffNotification, env.Type)
	assert.Equal(t, "op-1", env.SenderID)
	assert.JSONEq(t, `{"title":"Shift","message":"Starts at 9"}`, string(env.Data))
	assert.True(t, conn.Closed())
}

func TestSend_WaitAck(t *testing.T) {
	c := newTestCLI(t, testConfig)
	done := c.start(context.Background(), "send", "task_update", `{"taskId":7,"status":"completed"}`, "--wait-ack", "2s")

	conn := c.waitConn()
	require.Eventually(t, func() bool { return len(conn.Written()) == 1 }, 2*time.Second, 5*time.Millisecond)
	conn.Deliver([]byte(`{"type":"ack","data":{"received":true}}`))

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "Sent task_update (acknowledged)\n", r.stdout)
}

func TestSend_AckTimeout(t *testing.T) {
	c := newTestCLI(t, testConfig)

	out, _, err := c.run("send", "task_update", `{"taskId":7}`, "--wait-ack", "20ms")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no ack received")
}

func TestSend_RejectsLocalEvents(t *testing.T) {
	for _, typ := range []string{"connect", "disconnect", "message"} {
		t.Run(typ, func(t *testing.T) {
			c := newTestCLI(t, testConfig)

			_, _, err := c.run("send", typ, `{}`)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Zero(t, c.dialer.Dials())
		})
	}
}
