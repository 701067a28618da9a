package models

import "encoding/json"

// ResponseMessage は RESPONSE エンベロープです。
type ResponseMessage struct {
	To      string `json:"to"`
	Status  int    `json:"status"`
	Content any    `json:"content,omitempty"`
}

// GreetMessage は接続直後に送る挨拶です。
type GreetMessage struct {
	Msg string `json:"msg"`
}

type DisconnectedMessage struct {
	Reason int `json:"reason"`
}

// UserEvent は ARRIVED / LEFT の通知です。
type UserEvent struct {
	Username string `json:"username"`
}

// TextMessage is used by BROADCAST and PRIVATE in both directions.
type TextMessage struct {
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

// NotFound is the 711 content: resource kind plus identifier.
type NotFound struct {
	Resource string `json:"resource"`
	Content  string `json:"content"`
}

// LobbyRequest は GAME_LAUNCH / GAME_JOIN のペイロードです。
type LobbyRequest struct {
	Lobby string `json:"lobby"`
}

// GuessRequest keeps the guess raw so a non-number can be reported as 853 instead of PARSE_ERROR.
type GuessRequest struct {
	Lobby string          `json:"lobby,omitempty"`
	Guess json.RawMessage `json:"guess"`
}

type LobbyEvent struct {
	Lobby string `json:"lobby"`
}

type GuessedEvent struct {
	Lobby    string `json:"lobby"`
	Username string `json:"username"`
}

// Score はリーダーボードの1行。Time はミリ秒。
type Score struct {
	Username string `json:"username"`
	Time     int64  `json:"time"`
}

type GameEndEvent struct {
	Lobby       string  `json:"lobby"`
	Leaderboard []Score `json:"leaderboard"`
}

// FileTransferRequest は SEND_FILE と TRANSFER_REQUEST のペイロードです。
type FileTransferRequest struct {
	Filename  string `json:"filename"`
	Receiver  string `json:"receiver"`
	Sender    string `json:"sender,omitempty"`
	SessionID string `json:"sessionId"`
	Checksum  string `json:"checksum,omitempty"`
}

// FileTransferResponse は受信者の承諾/拒否です。送信者へ中継するときは Receiver を埋めます。
type FileTransferResponse struct {
	Status    bool   `json:"status"`
	Sender    string `json:"sender,omitempty"`
	Receiver  string `json:"receiver,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// KeyExchange covers PUBLIC_KEY_REQ, PUBLIC_KEY_RES, SESSION_KEY and SECURE_READY.
type KeyExchange struct {
	Username string `json:"username"`
	Key      string `json:"key,omitempty"`
}

type SecureMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}
