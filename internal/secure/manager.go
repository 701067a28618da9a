// Package secure implements the client side of the end-to-end encrypted channel.
//
// The handshake is relayed by the chat server, which never sees keys or plaintext:
//
//	I -> R  PUBLIC_KEY_REQ
//	R -> I  PUBLIC_KEY_RES  (R's box public key)
//	I -> R  SESSION_KEY     (random secretbox key sealed anonymously to R's public key)
//	R -> I  SECURE_READY
//	I -> R  SECURE          (buffered plaintext sealed with the session key)
package secure

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"chatserver/models"
	"chatserver/protocol"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrNoSessionKey  = errors.New("no session key for peer")
	ErrBadKey        = errors.New("malformed key")
	ErrDecryptFailed = errors.New("message authentication failed")
	ErrBufferBusy    = errors.New("another message is already waiting for a handshake")
)

type buffered struct {
	peer string
	text string
}

// Manager は1クライアント分の鍵ペアとセッション鍵を保持します。
type Manager struct {
	publicKey  *[keySize]byte
	privateKey *[keySize]byte
	random     io.Reader

	mu       sync.Mutex
	sessions map[string]*[keySize]byte
	pending  *buffered
}

func NewManager() (*Manager, error) {
	return newManager(rand.Reader)
}

func newManager(random io.Reader) (*Manager, error) {
	pub, priv, err := box.GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &Manager{
		publicKey:  pub,
		privateKey: priv,
		random:     random,
		sessions:   make(map[string]*[keySize]byte),
	}, nil
}

// PublicKey returns the base64 encoded box public key.
func (m *Manager) PublicKey() string {
	return base64.StdEncoding.EncodeToString(m.publicKey[:])
}

func (m *Manager) HasSession(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[peer]
	return ok
}

// Send は確立済みなら SECURE を返し、未確立なら平文を1件だけ保留して PUBLIC_KEY_REQ を返します。
func (m *Manager) Send(peer, plaintext string) (protocol.Message, error) {
	m.mu.Lock()
	key, ok := m.sessions[peer]
	if !ok {
		if m.pending != nil && m.pending.peer != peer {
			m.mu.Unlock()
			return protocol.Message{}, ErrBufferBusy
		}
		m.pending = &buffered{peer: peer, text: plaintext}
	}
	m.mu.Unlock()

	if !ok {
		return protocol.New(protocol.PublicKeyReq, models.KeyExchange{Username: peer})
	}
	return m.seal(peer, key, plaintext)
}

// HandlePublicKeyReq answers a peer asking for our public key.
func (m *Manager) HandlePublicKeyReq(from string) (protocol.Message, error) {
	return protocol.New(protocol.PublicKeyRes, models.KeyExchange{Username: from, Key: m.PublicKey()})
}

// HandlePublicKeyRes creates a session key for from and seals it to their public key.
func (m *Manager) HandlePublicKeyRes(from, encodedKey string) (protocol.Message, error) {
	peerKey, err := decodeKey(encodedKey)
	if err != nil {
		return protocol.Message{}, err
	}

	sessionKey := new([keySize]byte)
	if _, err := io.ReadFull(m.random, sessionKey[:]); err != nil {
		return protocol.Message{}, fmt.Errorf("generate session key: %w", err)
	}
	sealed, err := box.SealAnonymous(nil, sessionKey[:], peerKey, m.random)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("seal session key: %w", err)
	}

	m.mu.Lock()
	m.sessions[from] = sessionKey
	m.mu.Unlock()

	return protocol.New(protocol.SessionKey, models.KeyExchange{
		Username: from,
		Key:      base64.StdEncoding.EncodeToString(sealed),
	})
}

// HandleSessionKey installs the session key sent by from and acknowledges with SECURE_READY.
func (m *Manager) HandleSessionKey(from, encodedKey string) (protocol.Message, error) {
	sealed, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	opened, ok := box.OpenAnonymous(nil, sealed, m.publicKey, m.privateKey)
	if !ok || len(opened) != keySize {
		return protocol.Message{}, ErrDecryptFailed
	}

	key := new([keySize]byte)
	copy(key[:], opened)
	m.mu.Lock()
	m.sessions[from] = key
	m.mu.Unlock()

	return protocol.New(protocol.SecureReady, models.KeyExchange{Username: from})
}

// HandleSecureReady は保留中の平文があれば SECURE にして返します。ok は送るものがあるかどうか。
func (m *Manager) HandleSecureReady(from string) (protocol.Message, bool, error) {
	m.mu.Lock()
	key, hasKey := m.sessions[from]
	pending := m.pending
	if hasKey && pending != nil && pending.peer == from {
		m.pending = nil
	}
	m.mu.Unlock()

	if !hasKey {
		return protocol.Message{}, false, ErrNoSessionKey
	}
	if pending == nil || pending.peer != from {
		return protocol.Message{}, false, nil
	}
	msg, err := m.seal(from, key, pending.text)
	return msg, err == nil, err
}

// Open decrypts a SECURE message body from from. Without a session key the message is rejected.
func (m *Manager) Open(from, message string) (string, error) {
	m.mu.Lock()
	key, ok := m.sessions[from]
	m.mu.Unlock()
	if !ok {
		return "", ErrNoSessionKey
	}

	data, err := base64.StdEncoding.DecodeString(message)
	if err != nil || len(data) < nonceSize+secretbox.Overhead {
		return "", ErrDecryptFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}

// Handle feeds one relayed message into the state machine. reply is non-nil when the
// caller must send something back; plaintext is set for a decrypted SECURE message.
func (m *Manager) Handle(msg protocol.Message) (reply *protocol.Message, plaintext string, err error) {
	var out protocol.Message
	switch msg.Type {
	case protocol.PublicKeyReq, protocol.PublicKeyRes, protocol.SessionKey, protocol.SecureReady:
		var p models.KeyExchange
		if err := msg.Decode(&p); err != nil {
			return nil, "", err
		}
		switch msg.Type {
		case protocol.PublicKeyReq:
			out, err = m.HandlePublicKeyReq(p.Username)
		case protocol.PublicKeyRes:
			out, err = m.HandlePublicKeyRes(p.Username, p.Key)
		case protocol.SessionKey:
			out, err = m.HandleSessionKey(p.Username, p.Key)
		default:
			var ok bool
			out, ok, err = m.HandleSecureReady(p.Username)
			if err != nil || !ok {
				return nil, "", err
			}
		}
		if err != nil {
			return nil, "", err
		}
		return &out, "", nil
	case protocol.Secure:
		var p models.SecureMessage
		if err := msg.Decode(&p); err != nil {
			return nil, "", err
		}
		plaintext, err = m.Open(p.Username, p.Message)
		return nil, plaintext, err
	default:
		return nil, "", fmt.Errorf("secure: unexpected message type %s", msg.Type)
	}
}

func (m *Manager) seal(peer string, key *[keySize]byte, plaintext string) (protocol.Message, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(m.random, nonce[:]); err != nil {
		return protocol.Message{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return protocol.New(protocol.Secure, models.SecureMessage{
		Username: peer,
		Message:  base64.StdEncoding.EncodeToString(sealed),
	})
}

func decodeKey(encoded string) (*[keySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrBadKey, len(raw))
	}
	key := new([keySize]byte)
	copy(key[:], raw)
	return key, nil
}
