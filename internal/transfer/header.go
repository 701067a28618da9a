package transfer

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// ロールバイト
const (
	RoleSender   byte = 'S'
	RoleReceiver byte = 'R'
)

// HeaderSize is the role byte plus the 16-byte binary session id.
const HeaderSize = 1 + 16

var ErrInvalidRole = errors.New("invalid role byte")

// ReadHeader reads the fixed header sent by each leg.
func ReadHeader(r io.Reader) (byte, uuid.UUID, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, uuid.Nil, fmt.Errorf("read header: %w", err)
	}
	id, err := uuid.FromBytes(buf[1:])
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("decode session id: %w", err)
	}
	role := buf[0]
	if role != RoleSender && role != RoleReceiver {
		return role, id, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return role, id, nil
}

// WriteHeader はクライアント側でヘッダーを書き込みます。
func WriteHeader(w io.Writer, role byte, id uuid.UUID) error {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, role)
	buf = append(buf, id[:]...)
	_, err := w.Write(buf)
	return err
}
