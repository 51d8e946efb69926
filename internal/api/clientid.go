package api

import "github.com/google/uuid"

func newClientID() string {
	return uuid.NewString()
}
