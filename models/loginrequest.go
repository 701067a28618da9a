package models

// LoginRequest はクライアントからのログインリクエストを表します。
type LoginRequest struct {
	Username string `json:"username"`
}
