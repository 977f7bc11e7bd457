package asyncmc

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pior/asyncmc/meta"
)

// testServer is the scripted side of a net.Pipe connection: tests read the
// requests the client sent and answer them explicitly.
type testServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newTestConnection(t *testing.T, outOfOrder bool) (*Connection, *testServer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	conn := startConnection(clientSide, "pipe", outOfOrder)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = serverSide.Close()
	})
	return conn, &testServer{t: t, conn: serverSide, r: bufio.NewReader(serverSide)}
}

type serverRequest struct {
	cmd    string
	key    string
	opaque string
	fields []string
	data   []byte
}

// readRequest parses one request off the wire, including the data block of a
// set.
func (s *testServer) readRequest() serverRequest {
	line, err := s.r.ReadString('\n')
	if err != nil {
		s.t.Errorf("test server read: %v", err)
		return serverRequest{}
	}
	fields := strings.Fields(strings.TrimSuffix(line, "\r\n"))
	req := serverRequest{cmd: fields[0], fields: fields}
	if len(fields) > 1 {
		req.key = fields[1]
	}
	for _, tok := range fields[1:] {
		if len(tok) > 1 && tok[0] == 'O' {
			req.opaque = tok[1:]
		}
	}
	if req.cmd == "ms" && len(fields) > 2 {
		size, _ := strconv.Atoi(fields[2])
		data := make([]byte, size+2)
		if _, err := io.ReadFull(s.r, data); err != nil {
			s.t.Errorf("test server read data: %v", err)
			return req
		}
		req.data = data[:size]
	}
	return req
}

// send writes raw response lines, each terminated by CRLF.
func (s *testServer) send(lines ...string) {
	for _, line := range lines {
		if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
			s.t.Errorf("test server write: %v", err)
			return
		}
	}
}

// sendValue answers a get with a VA response carrying the given opaque.
func (s *testServer) sendValue(value, opaque string) {
	line := fmt.Sprintf("VA %d", len(value))
	if opaque != "" {
		line += " O" + opaque
	}
	s.send(line, value)
}

// fakeMemcached is a minimal in-memory meta-protocol server, used to back
// pooled clients in tests. Opaque tokens are echoed back verbatim.
type fakeMemcached struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newFakeMemcached() *fakeMemcached {
	return &fakeMemcached{items: make(map[string][]byte)}
}

// listen serves every connection accepted on a local listener and returns
// its address.
func (f *fakeMemcached) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fake memcached listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return ln.Addr().String()
}

func (f *fakeMemcached) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimSuffix(line, "\r\n"))
		if len(fields) == 0 {
			continue
		}
		if _, err := conn.Write([]byte(f.handle(fields, r))); err != nil {
			return
		}
	}
}

func (f *fakeMemcached) handle(fields []string, r *bufio.Reader) string {
	cmd := fields[0]
	var key string
	if len(fields) > 1 {
		key = fields[1]
	}

	flagStart := 2 // after command and key
	switch cmd {
	case "mn":
		flagStart = 1
	case "ms":
		flagStart = 3 // skip the size field
	}
	if flagStart > len(fields) {
		flagStart = len(fields)
	}

	var opaque string
	flags := map[byte]string{}
	for _, tok := range fields[flagStart:] {
		if tok != "" {
			flags[tok[0]] = tok[1:]
		}
	}
	if v, ok := flags['O']; ok {
		opaque = " O" + v
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd {
	case "mn":
		return "MN\r\n"

	case "mg":
		value, ok := f.items[key]
		if !ok {
			return "EN" + opaque + "\r\n"
		}
		if _, wantValue := flags['v']; wantValue {
			return fmt.Sprintf("VA %d%s\r\n%s\r\n", len(value), opaque, value)
		}
		return "HD" + opaque + "\r\n"

	case "ms":
		size, _ := strconv.Atoi(fields[2])
		data := make([]byte, size+2)
		if _, err := io.ReadFull(r, data); err != nil {
			return "SERVER_ERROR short data\r\n"
		}
		if flags['M'] == meta.ModeAdd && f.items[key] != nil {
			return "NS" + opaque + "\r\n"
		}
		f.items[key] = data[:size]
		return "HD" + opaque + "\r\n"

	case "md":
		if _, ok := f.items[key]; !ok {
			return "NF" + opaque + "\r\n"
		}
		delete(f.items, key)
		return "HD" + opaque + "\r\n"

	case "ma":
		delta := int64(1)
		if v, ok := flags['D']; ok {
			delta, _ = strconv.ParseInt(v, 10, 64)
		}
		if flags['M'] == "D" {
			delta = -delta
		}
		raw, ok := f.items[key]
		if !ok {
			if _, vivify := flags['N']; !vivify {
				return "NF" + opaque + "\r\n"
			}
			raw = []byte("0")
			f.items[key] = raw
		} else {
			current, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return "CLIENT_ERROR cannot increment or decrement non-numeric value\r\n"
			}
			raw = []byte(strconv.FormatInt(current+delta, 10))
			f.items[key] = raw
		}
		if _, wantValue := flags['v']; wantValue {
			return fmt.Sprintf("VA %d%s\r\n%s\r\n", len(raw), opaque, raw)
		}
		return "HD" + opaque + "\r\n"
	}

	return "ERROR\r\n"
}
