package protocol

import "fmt"

// ステータスコード一覧
const (
	StatusOK = 800

	// 切断理由
	ReasonPongTimeout    = 700
	ReasonUnterminated   = 701
	ReasonServerShutdown = 702

	StatusNotLoggedIn = 710
	StatusNotFound    = 711

	StatusAlreadyLoggedIn = 810
	StatusInvalidUsername = 811
	StatusUsernameTaken   = 812

	StatusEmptyMessage      = 820
	StatusSecureToSelf      = 821
	StatusPrivateToSelf     = 822
	StatusPongWithoutPing   = 830
	StatusInvalidLobby      = 850
	StatusGameNotStarted    = 851
	StatusNotInGame         = 852
	StatusGuessNotNumber    = 853
	StatusGuessOutOfRange   = 854
	StatusInAnotherGame     = 855
	StatusAlreadyJoined     = 856
	StatusLobbyTaken        = 857
	StatusJoinClosed        = 858
	StatusAlreadyGuessed    = 859
	StatusNoTransferWaiting = 860
	StatusFileToSelf        = 861
)

var statusText = map[int]string{
	StatusOK:                "OK",
	ReasonPongTimeout:       "Pong timeout",
	ReasonUnterminated:      "Unterminated message",
	ReasonServerShutdown:    "Server shutting down",
	StatusNotLoggedIn:       "You are not logged in",
	StatusNotFound:          "%s %s was not found",
	StatusAlreadyLoggedIn:   "You cannot log in twice",
	StatusInvalidUsername:   "Username has an invalid format",
	StatusUsernameTaken:     "User with this name already exists",
	StatusEmptyMessage:      "Message cannot be empty",
	StatusSecureToSelf:      "You cannot send a secure message to yourself",
	StatusPrivateToSelf:     "You cannot send a private message to yourself",
	StatusPongWithoutPing:   "Pong without ping",
	StatusInvalidLobby:      "Lobby name has an invalid format",
	StatusGameNotStarted:    "The game has not started yet",
	StatusNotInGame:         "You are not in a game",
	StatusGuessNotNumber:    "Guess must be a number",
	StatusGuessOutOfRange:   "Guess is out of range",
	StatusInAnotherGame:     "You cannot join two games at once",
	StatusAlreadyJoined:     "You already joined this game",
	StatusLobbyTaken:        "A game with this lobby name already exists",
	StatusJoinClosed:        "The collection period is over",
	StatusAlreadyGuessed:    "You already guessed the number",
	StatusNoTransferWaiting: "There is no file transfer request to respond to",
	StatusFileToSelf:        "You cannot send a file to yourself",
}

// StatusText はステータスコードの説明文を返します。
func StatusText(code int) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	return fmt.Sprintf("status %d", code)
}

// NotFoundText fills the 711 template with a resource kind and identifier.
func NotFoundText(resource, id string) string {
	return fmt.Sprintf(statusText[StatusNotFound], resource, id)
}
