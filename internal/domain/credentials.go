package domain

import "strings"

// Credentials is the bearer token and user id issued at login or register.
// It is threaded explicitly into every authenticated transport call.
type Credentials struct {
	Token  string `json:"api_key"`
	UserID int64  `json:"usuario_id"`
}

func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Token) != ""
}

func (c Credentials) AuthorizationHeader() string {
	return "Bearer " + strings.TrimSpace(c.Token)
}
