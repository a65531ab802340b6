package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/postalsys/muti-ping/internal/config"
	"github.com/postalsys/muti-ping/internal/console"
	"github.com/postalsys/muti-ping/internal/icmp"
	"github.com/postalsys/muti-ping/internal/logging"
)

// echoConn answers every echo request with a matching reply from peer.
type echoConn struct {
	peer net.IP

	mu      sync.Mutex
	inbox   chan []byte
	expired chan struct{}
	expOnce sync.Once
	closed  chan struct{}
	cOnce   sync.Once
}

func newEchoConn(peer net.IP) *echoConn {
	return &echoConn{
		peer:    peer,
		inbox:   make(chan []byte, 16),
		expired: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (c *echoConn) WriteTo(b []byte, dst net.Addr) (int, error) {
	req, err := icmp.ParseEchoHeader(b)
	if err != nil {
		return 0, err
	}

	var reply icmp.EchoHeader
	reply.SetType(icmp.TypeEchoReply)
	reply.SetIdentifier(req.Identifier())
	reply.SetSequence(req.Sequence())
	reply.ComputeChecksum()

	payload := 56
	total := icmp.IPv4HeaderLen + icmp.EchoHeaderLen + payload
	d := icmp.NewIPv4Header(c.peer, net.IPv4(10, 0, 0, 2), 57, icmp.ProtocolICMP, total).Marshal()
	d = append(d, reply.Marshal()...)
	d = append(d, make([]byte, payload)...)

	c.inbox <- d
	return len(b), nil
}

func (c *echoConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-c.inbox:
		return copy(b, d), &net.IPAddr{IP: c.peer}, nil
	case <-c.expired:
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *echoConn) SetReadDeadline(t time.Time) error {
	if !t.IsZero() && !t.After(time.Now()) {
		c.expOnce.Do(func() { close(c.expired) })
	}
	return nil
}

func (c *echoConn) Close() error {
	c.cOnce.Do(func() { close(c.closed) })
	return nil
}

func newTestRunner(t *testing.T, in string, listen func(context.Context, icmp.SocketMode) (icmp.Conn, error)) (*runner, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.Ping.Count = 1
	cfg.Ping.Interval = time.Millisecond

	var out, errOut bytes.Buffer
	con := console.New(console.Options{
		In:    strings.NewReader(in),
		Out:   &out,
		Err:   &errOut,
		Color: console.ColorNever,
	})

	r := newRunner(cfg, logging.NopLogger(), con)
	r.listen = listen
	return r, &out, &errOut
}

func TestRun_PingsHost(t *testing.T) {
	conn := newEchoConn(net.IPv4(192, 0, 2, 1))
	r, out, errOut := newTestRunner(t, "", func(context.Context, icmp.SocketMode) (icmp.Conn, error) {
		return conn, nil
	})

	r.run(context.Background(), "192.0.2.1")

	got := out.String()
	for _, want := range []string{
		"Discovered IPv4 address: 192.0.2.1\n",
		"Acquired ICMP socket...\n",
		"64 bytes from 192.0.2.1: icmp_seq=0, ttl=57, time=",
		"64 bytes from 192.0.2.1: icmp_seq=1, ttl=57, time=",
		"Cleaning up state...\n",
		"--- 192.0.2.1 ping statistics ---\n",
		"2 transmitted, 2 received, 0% packet loss\n",
		"Done running.\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("stdout missing %q:\n%s", want, got)
		}
	}
	if !strings.HasSuffix(got, "Done running.\n") {
		t.Errorf("stdout should end with the done line:\n%s", got)
	}
	if strings.Index(got, "Discovered") > strings.Index(got, "Acquired") {
		t.Errorf("address should be reported before the socket:\n%s", got)
	}
	if errOut.Len() != 0 {
		t.Errorf("stderr = %q, want empty", errOut.String())
	}

	if v := testutil.ToFloat64(r.metrics.EchoesSent); v != 2 {
		t.Errorf("EchoesSent = %v, want 2", v)
	}
	if v := testutil.ToFloat64(r.metrics.RepliesReceived); v != 2 {
		t.Errorf("RepliesReceived = %v, want 2", v)
	}
	if v := testutil.ToFloat64(r.metrics.SessionsActive); v != 0 {
		t.Errorf("SessionsActive = %v, want 0", v)
	}
}

func TestRun_PromptsForHost(t *testing.T) {
	conn := newEchoConn(net.IPv4(192, 0, 2, 9))
	r, out, _ := newTestRunner(t, "192.0.2.9\n", func(context.Context, icmp.SocketMode) (icmp.Conn, error) {
		return conn, nil
	})
	r.cfg.Ping.Count = 0

	r.run(context.Background(), "")

	got := out.String()
	if !strings.HasPrefix(got, "Host: Discovered IPv4 address: 192.0.2.9\n") {
		t.Errorf("stdout should start with the prompt and address:\n%s", got)
	}
	if !strings.Contains(got, "0 transmitted, 0 received") {
		t.Errorf("zero count should send nothing:\n%s", got)
	}
}

func TestRun_EmptyHost(t *testing.T) {
	opened := false
	r, out, errOut := newTestRunner(t, "\n", func(context.Context, icmp.SocketMode) (icmp.Conn, error) {
		opened = true
		return nil, errors.New("unexpected")
	})

	r.run(context.Background(), "")

	if opened {
		t.Error("no socket should be opened for an empty host")
	}
	if got := errOut.String(); got != "Errored out: host name is empty\n" {
		t.Errorf("stderr = %q", got)
	}
	if strings.Contains(out.String(), "Done running.") {
		t.Errorf("a failed resolve should not reach the done line:\n%s", out.String())
	}
	if v := testutil.ToFloat64(r.metrics.ResolveErrors); v != 1 {
		t.Errorf("ResolveErrors = %v, want 1", v)
	}
}

func TestRun_SocketUnavailable(t *testing.T) {
	r, out, errOut := newTestRunner(t, "", func(context.Context, icmp.SocketMode) (icmp.Conn, error) {
		return nil, errors.New("operation not permitted")
	})

	r.run(context.Background(), "192.0.2.1")

	if !strings.Contains(out.String(), "Discovered IPv4 address: 192.0.2.1") {
		t.Errorf("stdout = %q, want discovered address", out.String())
	}
	if strings.Contains(out.String(), "Acquired ICMP socket") {
		t.Errorf("stdout = %q, socket should not be acquired", out.String())
	}
	got := errOut.String()
	if !strings.HasPrefix(got, "Unable to acquire a socket. Exiting...\n") {
		t.Errorf("stderr = %q, want socket failure", got)
	}
	if !strings.Contains(got, "operation not permitted") {
		t.Errorf("stderr = %q, want cause", got)
	}
}

func TestRun_Cancelled(t *testing.T) {
	conn := newEchoConn(net.IPv4(192, 0, 2, 1))
	r, out, errOut := newTestRunner(t, "", func(context.Context, icmp.SocketMode) (icmp.Conn, error) {
		return conn, nil
	})
	r.cfg.Ping.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan struct{})
	go func() {
		r.run(ctx, "192.0.2.1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if errOut.Len() != 0 {
		t.Errorf("stderr = %q, an interrupt is not an error", errOut.String())
	}
	got := out.String()
	if !strings.Contains(got, "Cleaning up state...") || !strings.HasSuffix(got, "Done running.\n") {
		t.Errorf("stdout = %q, want cleanup and done", got)
	}
}

func TestRun_WithHealthServer(t *testing.T) {
	conn := newEchoConn(net.IPv4(192, 0, 2, 1))
	r, _, _ := newTestRunner(t, "", func(context.Context, icmp.SocketMode) (icmp.Conn, error) {
		return conn, nil
	})
	r.cfg.Health.Enabled = true
	r.cfg.Health.Address = "127.0.0.1:0"
	r.cfg.Health.Linger = time.Millisecond

	r.run(context.Background(), "192.0.2.1")

	if v := testutil.ToFloat64(r.metrics.SessionsTotal); v != 1 {
		t.Errorf("SessionsTotal = %v, want 1", v)
	}
}

func freeAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestRun_HealthServesFinishedUntilInterrupted(t *testing.T) {
	conn := newEchoConn(net.IPv4(192, 0, 2, 1))
	r, out, _ := newTestRunner(t, "", func(context.Context, icmp.SocketMode) (icmp.Conn, error) {
		return conn, nil
	})
	addr := freeAddress(t)
	r.cfg.Health.Enabled = true
	r.cfg.Health.Address = addr

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.run(ctx, "192.0.2.1")
		close(done)
	}()

	var finished bool
	deadline := time.Now().Add(5 * time.Second)
	for !finished && time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			var body struct {
				Status string `json:"status"`
			}
			json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			finished = resp.StatusCode == http.StatusServiceUnavailable && body.Status == "finished"
		}
		if !finished {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !finished {
		t.Fatal("/healthz never reported the finished session")
	}

	select {
	case <-done:
		t.Fatal("run returned before being interrupted")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	got := out.String()
	if !strings.Contains(got, "Serving final statistics on "+addr+" until interrupted...") {
		t.Errorf("stdout missing the serving line:\n%s", got)
	}
	if !strings.HasSuffix(got, "Done running.\n") {
		t.Errorf("stdout should end with the done line:\n%s", got)
	}
}
