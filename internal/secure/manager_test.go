package secure

import (
	"encoding/json"
	"testing"

	"chatserver/models"
	"chatserver/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relay はサーバーと同じく username を送信者に書き換えます。
func relay(t *testing.T, from string, msg protocol.Message) protocol.Message {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &fields))
	fields["username"] = from
	out, err := protocol.New(msg.Type, fields)
	require.NoError(t, err)
	return out
}

func TestHandshakeDeliversBufferedMessage(t *testing.T) {
	alice, err := NewManager()
	require.NoError(t, err)
	bob, err := NewManager()
	require.NoError(t, err)

	// 1. alice -> bob: PUBLIC_KEY_REQ
	req, err := alice.Send("bob", "top secret")
	require.NoError(t, err)
	require.Equal(t, protocol.PublicKeyReq, req.Type)
	assert.False(t, alice.HasSession("bob"))

	// 2. bob -> alice: PUBLIC_KEY_RES
	res, _, err := bob.Handle(relay(t, "alice", req))
	require.NoError(t, err)
	require.Equal(t, protocol.PublicKeyRes, res.Type)

	// 3. alice -> bob: SESSION_KEY
	sessionKey, _, err := alice.Handle(relay(t, "bob", *res))
	require.NoError(t, err)
	require.Equal(t, protocol.SessionKey, sessionKey.Type)

	// 4. bob -> alice: SECURE_READY
	ready, _, err := bob.Handle(relay(t, "alice", *sessionKey))
	require.NoError(t, err)
	require.Equal(t, protocol.SecureReady, ready.Type)
	assert.True(t, bob.HasSession("alice"))

	// 5. alice -> bob: SECURE (保留していた平文)
	secureMsg, _, err := alice.Handle(relay(t, "bob", *ready))
	require.NoError(t, err)
	require.Equal(t, protocol.Secure, secureMsg.Type)
	assert.NotContains(t, string(secureMsg.Payload), "top secret")

	_, plain, err := bob.Handle(relay(t, "alice", *secureMsg))
	require.NoError(t, err)
	assert.Equal(t, "top secret", plain)

	// 確立後はそのまま SECURE になる
	direct, err := bob.Send("alice", "reply")
	require.NoError(t, err)
	require.Equal(t, protocol.Secure, direct.Type)
	_, plain, err = alice.Handle(relay(t, "bob", direct))
	require.NoError(t, err)
	assert.Equal(t, "reply", plain)
}

func TestSecureBeforeSessionKeyIsRejected(t *testing.T) {
	alice, err := NewManager()
	require.NoError(t, err)
	bob, err := NewManager()
	require.NoError(t, err)

	req, err := alice.Send("bob", "early")
	require.NoError(t, err)
	res, _, err := bob.Handle(relay(t, "alice", req))
	require.NoError(t, err)
	sessionKey, _, err := alice.Handle(relay(t, "bob", *res))
	require.NoError(t, err)

	// alice は鍵を持っているので暗号化できるが、bob はまだ SESSION_KEY を受け取っていない
	early, err := alice.Send("bob", "too early")
	require.NoError(t, err)
	_, _, err = bob.Handle(relay(t, "alice", early))
	assert.ErrorIs(t, err, ErrNoSessionKey)

	_, _, err = bob.Handle(relay(t, "alice", *sessionKey))
	require.NoError(t, err)
	_, plain, err := bob.Handle(relay(t, "alice", early))
	require.NoError(t, err)
	assert.Equal(t, "too early", plain)
}

func TestOnlyOneBufferedMessage(t *testing.T) {
	m, err := NewManager()
	require.NoError(t, err)

	_, err = m.Send("bob", "first")
	require.NoError(t, err)
	_, err = m.Send("carol", "second")
	assert.ErrorIs(t, err, ErrBufferBusy)
}

func TestTamperedMessageFails(t *testing.T) {
	alice, err := NewManager()
	require.NoError(t, err)
	bob, err := NewManager()
	require.NoError(t, err)

	res, err := bob.HandlePublicKeyReq("alice")
	require.NoError(t, err)
	var payload models.KeyExchange
	require.NoError(t, res.Decode(&payload))

	sessionKey, err := alice.HandlePublicKeyRes("bob", bob.PublicKey())
	require.NoError(t, err)
	require.NoError(t, sessionKey.Decode(&payload))
	_, err = bob.HandleSessionKey("alice", payload.Key)
	require.NoError(t, err)

	msg, err := alice.Send("bob", "hello")
	require.NoError(t, err)
	var secureMsg models.SecureMessage
	require.NoError(t, msg.Decode(&secureMsg))

	raw := []byte(secureMsg.Message)
	raw[len(raw)-5] ^= 0x01
	_, err = bob.Open("alice", string(raw))
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = alice.HandlePublicKeyRes("bob", "not-base64!")
	assert.ErrorIs(t, err, ErrBadKey)
}
