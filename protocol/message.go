package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// メッセージタイプ (サーバー → クライアント)
const (
	Greet           = "GREET"
	Arrived         = "ARRIVED"
	Left            = "LEFT"
	Ping            = "PING"
	Disconnected    = "DISCONNECTED"
	Response        = "RESPONSE"
	UnknownAction   = "UNKNOWN_ACTION"
	ParseFailure    = "PARSE_ERROR"
	GameLaunched    = "GAME_LAUNCHED"
	GameStart       = "GAME_START"
	GameGuessed     = "GAME_GUESSED"
	GameEnd         = "GAME_END"
	GameFail        = "GAME_FAIL"
	TransferRequest = "TRANSFER_REQUEST"
)

// メッセージタイプ (クライアント → サーバー)
const (
	Login            = "LOGIN"
	Pong             = "PONG"
	Leave            = "LEAVE"
	List             = "LIST"
	GameLaunch       = "GAME_LAUNCH"
	GameJoin         = "GAME_JOIN"
	GameGuess        = "GAME_GUESS"
	SendFile         = "SEND_FILE"
	TransferResponse = "TRANSFER_RESPONSE"
)

// 双方向に中継されるメッセージタイプ
const (
	Broadcast    = "BROADCAST"
	Private      = "PRIVATE"
	PublicKeyReq = "PUBLIC_KEY_REQ"
	PublicKeyRes = "PUBLIC_KEY_RES"
	SessionKey   = "SESSION_KEY"
	SecureReady  = "SECURE_READY"
	Secure       = "SECURE"
)

// ErrEmptyLine は空行を受け取ったときに返されます。
var ErrEmptyLine = errors.New("empty message line")

// Message is one decoded line: a type token plus the raw JSON payload (nil when omitted).
type Message struct {
	Type    string
	Payload json.RawMessage
}

// ParseError はペイロードのデコードに失敗したことを表します。
type ParseError struct {
	Type string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse splits a line into its type token and payload.
func Parse(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimLeft(line, " ")
	if line == "" {
		return Message{}, ErrEmptyLine
	}
	msgType, rest, _ := strings.Cut(line, " ")
	msg := Message{Type: msgType}
	if rest = strings.TrimSpace(rest); rest != "" {
		msg.Payload = json.RawMessage(rest)
	}
	return msg, nil
}

// Decode unmarshals the payload into v. A missing payload decodes as an empty object.
func (m Message) Decode(v any) error {
	payload := m.Payload
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return &ParseError{Type: m.Type, Err: err}
	}
	return nil
}

func (m Message) String() string {
	if len(m.Payload) == 0 {
		return m.Type
	}
	return m.Type + " " + string(m.Payload)
}

// Encode builds a wire line (without the trailing newline). A nil payload omits the payload part.
func Encode(msgType string, payload any) (string, error) {
	if payload == nil {
		return msgType, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return msgType + " " + string(data), nil
}

// New は任意のペイロードから Message を組み立てます。
func New(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}
