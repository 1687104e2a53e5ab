// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package httpsession

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/openafd/sf-http/internal/job"
)

// fakeServer accepts one connection and replays a scripted response for
// every PUT it receives, draining the request body first (mirroring how a
// real HTTP server would consume Content-Length bytes before responding).
func fakeServer(t *testing.T, status int) (addr string, received chan []byte, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	received = make(chan []byte, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				tp := textproto.NewReader(r)
				for {
					requestLine, err := tp.ReadLine()
					if err != nil {
						return
					}
					if requestLine == "" {
						return
					}
					header, err := tp.ReadMIMEHeader()
					if err != nil {
						return
					}
					n := 0
					fmt.Sscanf(header.Get("Content-Length"), "%d", &n)
					body := make([]byte, n)
					io.ReadFull(r, body)
					received <- body

					fmt.Fprintf(c, "HTTP/1.1 %d OK\r\nContent-Length: 0\r\n\r\n", status)
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), received, func() { ln.Close() }
}

func TestSessionPutSuccessRoundTrip(t *testing.T) {
	addr, received, stop := fakeServer(t, 200)
	defer stop()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	sess, result, err := Connect(context.Background(), host, "", port, "", "", job.TLSOff, "", "", 0, 0, 2*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Quit()
	if result.ResolvedAddr == "" {
		t.Fatal("expected a resolved address")
	}

	payload := []byte("hello world")
	if err := sess.PutBegin("", "", "/incoming", "greeting.txt", int64(len(payload)), true); err != nil {
		t.Fatalf("PutBegin: %v", err)
	}
	if _, err := sess.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sess.PutFinalize(); err != nil {
		t.Fatalf("PutFinalize: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("server received %q, want %q", got, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the body")
	}
}

func TestSessionPutFinalizeRejectsNon2xx(t *testing.T) {
	addr, _, stop := fakeServer(t, 500)
	defer stop()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	sess, _, err := Connect(context.Background(), host, "", port, "", "", job.TLSOff, "", "", 0, 0, 2*time.Second)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Quit()

	if err := sess.PutBegin("", "", "/incoming", "greeting.txt", 5, true); err != nil {
		t.Fatalf("PutBegin: %v", err)
	}
	if _, err := sess.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sess.PutFinalize(); err == nil {
		t.Fatal("expected PutFinalize to fail on a 500 response")
	}
}

func TestSessionConnectErrorOnRefusal(t *testing.T) {
	// Port 1 is reserved and should refuse immediately on loopback.
	_, _, err := Connect(context.Background(), "127.0.0.1", "", 1, "", "", job.TLSOff, "", "", 0, 0, time.Second)
	if err == nil {
		t.Fatal("expected a connect error")
	}
}

func TestRequestURIProxiedIsAbsolute(t *testing.T) {
	s := &Session{host: "example.org:80", proxied: true}
	uri := s.requestURI("/incoming", "f.dat")
	if uri != "http://example.org:80/incoming/f.dat" {
		t.Fatalf("requestURI = %q", uri)
	}
}

func TestRequestURIDirectIsOriginForm(t *testing.T) {
	s := &Session{host: "example.org:80", proxied: false}
	uri := s.requestURI("/incoming", "f.dat")
	if uri != "/incoming/f.dat" {
		t.Fatalf("requestURI = %q", uri)
	}
}
