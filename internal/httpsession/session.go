// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package httpsession

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"time"

	"github.com/openafd/sf-http/internal/job"
)

// Session is the HTTP Client Session from spec.md §4.2: connect, PUT
// begin, write, PUT finalize, quit, against a single net.Conn/tls.Conn
// with hand-built HTTP/1.1 request lines and a content-length-framed
// body. Reused across burst batches: Quit is only called when the
// connection is actually being torn down.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader

	host    string // Host header value (may include :port)
	proxied bool   // true when requests are sent as absolute-URI via a proxy
	tls     bool   // true when conn is a negotiated TLS connection
}

// ConnectResult carries the information connect() needs to hand back to
// the caller for FSA IP-pinning (spec.md §4.2).
type ConnectResult struct {
	ResolvedAddr string // the dialed remote address, for IP-pinning
}

// Connect dials host:port (or proxy, if non-empty), optionally negotiating
// TLS per tlsMode, and returns a ready-to-use Session. Non-zero socket
// buffer hints must apply: if setting them fails, the connection is closed
// and Connect returns an error.
//
// Errors here are CONNECT_ERROR per spec.md §4.2 (retry-eligible); the
// caller turns a returned error into errs.Classify(errs.ConnectError,
// timedOut), where timedOut reports whether the cause was a timeout.
func Connect(ctx context.Context, host, proxy string, port int, user, password string, tlsMode job.TLSMode, clientCertPath, clientKeyPath string, sndbuf, rcvbuf int, dialTimeout time.Duration) (*Session, *ConnectResult, error) {
	dialAddr := net.JoinHostPort(host, strconv.Itoa(port))
	target := dialAddr
	proxied := false
	if proxy != "" {
		target = proxy
		proxied = true
	}

	dctx := ctx
	var cancel context.CancelFunc
	if dialTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(dctx, "tcp", target)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %w", target, err)
	}

	if err := ApplySocketHints(rawConn, sndbuf, rcvbuf); err != nil {
		rawConn.Close()
		return nil, nil, fmt.Errorf("applying socket hints: %w", err)
	}

	var conn net.Conn = rawConn
	if tlsMode != job.TLSOff {
		tlsCfg, cfgErr := NewTLSConfig(tlsMode, host, clientCertPath, clientKeyPath)
		if cfgErr != nil {
			rawConn.Close()
			return nil, nil, fmt.Errorf("building TLS config: %w", cfgErr)
		}
		tlsConn := tls.Client(rawConn, tlsCfg)
		if deadline, ok := dctx.Deadline(); ok {
			tlsConn.SetDeadline(deadline)
		}
		if err := tlsConn.HandshakeContext(dctx); err != nil {
			rawConn.Close()
			return nil, nil, fmt.Errorf("TLS handshake with %s: %w", target, err)
		}
		tlsConn.SetDeadline(time.Time{})
		conn = tlsConn
	}

	s := &Session{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		host:    dialAddr,
		proxied: proxied,
		tls:     tlsMode != job.TLSOff,
	}
	_ = user
	_ = password

	return s, &ConnectResult{ResolvedAddr: rawConn.RemoteAddr().String()}, nil
}

// basicAuthHeader builds a "Basic ..." Authorization header value, or ""
// when user is empty.
func basicAuthHeader(user, password string) string {
	if user == "" {
		return ""
	}
	token := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return "Basic " + token
}

// requestURI returns the URI sf_http puts on the request line: an
// absolute-URI when a proxy is in play (RFC 7230 §5.3.2), otherwise the
// origin-form path.
func (s *Session) requestURI(targetDir, filename string) string {
	path := joinURLPath(targetDir, filename)
	if !s.proxied {
		return path
	}
	scheme := "http"
	if s.tls {
		scheme = "https"
	}
	return scheme + "://" + s.host + path
}

func joinURLPath(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

// PutBegin sends the PUT request line and headers. firstInBurst selects
// between a fresh request line (first file of a new connection or burst
// batch) and keep-alive reuse of the already-open stream — in HTTP/1.1
// both cases are the same wire operation (a new request line per file),
// since a PUT is a complete request each time. firstInBurst carries
// spec.md's distinction at the protocol-state level but does not change
// the request: every PUT carries Connection: keep-alive, since HTTP/1.1
// collapses the two cases at the wire level.
func (s *Session) PutBegin(user, password, targetDir, filename string, contentLength int64, firstInBurst bool) error {
	uri := s.requestURI(targetDir, filename)

	req := fmt.Sprintf("PUT %s HTTP/1.1\r\n", uri)
	req += fmt.Sprintf("Host: %s\r\n", s.host)
	req += "Connection: keep-alive\r\n"
	req += fmt.Sprintf("Content-Length: %d\r\n", contentLength)
	req += "Content-Type: application/octet-stream\r\n"
	if auth := basicAuthHeader(user, password); auth != "" {
		req += fmt.Sprintf("Authorization: %s\r\n", auth)
	}
	req += "\r\n"

	_ = firstInBurst // reserved: both paths emit a fresh request line today

	if _, err := s.conn.Write([]byte(req)); err != nil {
		return fmt.Errorf("writing PUT request: %w", err)
	}
	return nil
}

// Write streams one block of the body.
func (s *Session) Write(buf []byte) (int, error) {
	n, err := s.conn.Write(buf)
	if err != nil {
		return n, fmt.Errorf("writing body block: %w", err)
	}
	return n, nil
}

// PutFinalize reads and validates the HTTP response, returning an error
// for any non-2xx status or a connection drop mid-response.
func (s *Session) PutFinalize() error {
	tp := textproto.NewReader(s.reader)

	statusLine, err := tp.ReadLine()
	if err != nil {
		return fmt.Errorf("reading response status line: %w", err)
	}

	status, err := parseStatusCode(statusLine)
	if err != nil {
		return fmt.Errorf("parsing response status line %q: %w", statusLine, err)
	}

	header, err := tp.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return fmt.Errorf("reading response headers: %w", err)
	}

	if status < 200 || status >= 300 {
		return fmt.Errorf("remote rejected PUT with status %d", status)
	}

	if cl := header.Get("Content-Length"); cl != "" {
		if n, convErr := strconv.Atoi(cl); convErr == nil && n > 0 {
			discard := make([]byte, n)
			if _, err := readFull(s.reader, discard); err != nil {
				return fmt.Errorf("draining response body: %w", err)
			}
		}
	}

	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func parseStatusCode(line string) (int, error) {
	// "HTTP/1.1 200 OK"
	var major, minor, code int
	var rest string
	n, err := fmt.Sscanf(line, "HTTP/%d.%d %d %s", &major, &minor, &code, &rest)
	if err != nil && n < 3 {
		return 0, err
	}
	return code, nil
}

// Quit performs best-effort teardown. Never returns an error that the
// caller needs to act on — the exit handler always proceeds regardless.
func (s *Session) Quit() {
	if s == nil || s.conn == nil {
		return
	}
	s.conn.Close()
}

// SetDeadline applies a read/write deadline to the underlying connection.
// The pipeline does not call it: its TIMEOUT_TRANSFER check (spec.md §4.6
// step 6) is its own wall-clock bookkeeping.
func (s *Session) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}
