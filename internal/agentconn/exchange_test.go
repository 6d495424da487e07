package agentconn

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/searchd/internal/dashboard"
	"github.com/dreamware/searchd/internal/wire"
)

func writeRawEnvelope(t *testing.T, conn net.Conn, tag uint16, version uint16, body []byte) {
	t.Helper()
	var hdr [8]byte
	binary.BigEndian.PutUint16(hdr[0:2], tag)
	binary.BigEndian.PutUint16(hdr[2:4], version)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(body)))
	_, err := conn.Write(hdr[:])
	require.NoError(t, err)
	if len(body) > 0 {
		_, err = conn.Write(body)
		require.NoError(t, err)
	}
}

func newTestMirror(t *testing.T, port int) (*dashboard.Group, *dashboard.Mirror) {
	t.Helper()
	reg := dashboard.NewRegistry(time.Minute, false)
	host := dashboard.HostDescriptor{Addr: "127.0.0.1", Port: port}
	dash := reg.Get(&host)
	agent := &dashboard.AgentDescriptor{HostDescriptor: host}
	mirror := &dashboard.Mirror{Agent: agent, Dashboard: dash}
	group := dashboard.NewGroup([]*dashboard.Mirror{mirror}, dashboard.StrategyRandom, 1, false, time.Minute)
	return group, mirror
}

func TestExchange_CallSuccess(t *testing.T) {
	ln, port := listenLoopback(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		writeRawEnvelope(t, conn, uint16(wire.StatusOK), 1, []byte("ok"))
	}()

	connector := NewConnector(0, time.Second, 1, 10*time.Millisecond)
	exchange := NewExchange(connector, 1<<20)
	group, mirror := newTestMirror(t, port)

	dl := Deadlines{Connect: time.Second, Send: time.Second, Receive: time.Second}
	res := exchange.Call(group, mirror, uint16(wire.CmdPing), 1, nil, dl)

	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, []byte("ok"), res.Reply.Body)
}

func TestExchange_CallApplicationErrorDoesNotTripBreaker(t *testing.T) {
	ln, port := listenLoopback(t)
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			writeRawEnvelope(t, conn, uint16(wire.StatusError), 1, []byte("bad query"))
			conn.Close()
		}
	}()

	connector := NewConnector(0, time.Second, 1, 10*time.Millisecond)
	exchange := NewExchange(connector, 1<<20)
	group, mirror := newTestMirror(t, port)

	dl := Deadlines{Connect: time.Second, Send: time.Second, Receive: time.Second}
	res := exchange.Call(group, mirror, uint16(wire.CmdSearch), 1, nil, dl)

	require.Error(t, res.Err)
	assert.Equal(t, StateFailed, res.State)

	// A second application-level failure still leaves the mirror available
	// to choose() — only network-kind failures count against the breaker.
	res2 := exchange.Call(group, mirror, uint16(wire.CmdSearch), 1, nil, dl)
	require.Error(t, res2.Err)
	assert.NotNil(t, group.Choose())
}

func TestExchange_CallBlackholeMirror(t *testing.T) {
	ln, port := listenLoopback(t)
	go func() {
		// Accept and read the request, then go silent: a blackhole peer
		// never answers.
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		conn.Read(buf)
		time.Sleep(200 * time.Millisecond)
	}()

	connector := NewConnector(0, time.Second, 1, 10*time.Millisecond)
	exchange := NewExchange(connector, 1<<20)
	group, mirror := newTestMirror(t, port)
	mirror.Agent.Blackhole = true

	dl := Deadlines{Connect: time.Second, Send: time.Second, Receive: 50 * time.Millisecond}
	res := exchange.Call(group, mirror, uint16(wire.CmdSearch), 1, []byte("payload"), dl)

	require.NoError(t, res.Err)
	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, res.Reply.Body)

	// Only the connection attempt shows up on the dashboard; no success or
	// failure counter moves.
	snap := mirror.Dashboard.Snapshot(dashboard.NumBuckets)
	assert.EqualValues(t, 1, snap.ConnectionAttempts)
	assert.Zero(t, snap.CleanSuccesses)
	assert.Zero(t, snap.NetworkErrors)
	assert.EqualValues(t, 0, mirror.Dashboard.TotalQueries())
}

func TestExchange_CallConnectFailure(t *testing.T) {
	ln, port := listenLoopback(t)
	ln.Close()

	connector := NewConnector(0, 200*time.Millisecond, 1, 5*time.Millisecond)
	exchange := NewExchange(connector, 1<<20)
	group, mirror := newTestMirror(t, port)

	dl := Deadlines{Connect: 200 * time.Millisecond, Send: time.Second, Receive: time.Second}
	res := exchange.Call(group, mirror, uint16(wire.CmdPing), 1, nil, dl)
	require.Error(t, res.Err)
	assert.NotEqual(t, StateDone, res.State)
}
