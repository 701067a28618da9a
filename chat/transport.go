package chat

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrLineTooLong は改行なしでバッファ上限を超えたときに返されます。
var ErrLineTooLong = errors.New("line exceeds maximum length")

// Transport carries newline-framed protocol lines. WriteLine must be safe for concurrent use.
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
}

type tcpTransport struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration

	mu sync.Mutex
}

// NewTCPTransport wraps a stream socket.
func NewTCPTransport(conn net.Conn, maxLine int, writeTimeout time.Duration) Transport {
	scanner := bufio.NewScanner(conn)
	initial := 4096
	if maxLine < initial {
		initial = maxLine
	}
	scanner.Buffer(make([]byte, 0, initial), maxLine)
	return &tcpTransport{conn: conn, scanner: scanner, writeTimeout: writeTimeout}
}

func (t *tcpTransport) ReadLine() (string, error) {
	if t.scanner.Scan() {
		return t.scanner.Text(), nil
	}
	err := t.scanner.Err()
	switch {
	case err == nil:
		return "", io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return "", ErrLineTooLong
	default:
		return "", err
	}
}

func (t *tcpTransport) WriteLine(line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	_, err := io.WriteString(t.conn, line+"\n")
	return err
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}

func (t *tcpTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}
