// Package models tracks all api models for request and responses
package models

import (
	"github.com/aouyang1/pimmich/credentials"
	"github.com/aouyang1/pimmich/immich"
	"github.com/aouyang1/pimmich/store"
)

type StatusResponse struct {
	Run   *store.Run         `json:"run"`
	Steps []store.StepRecord `json:"steps"`
}

type RunListResponse struct {
	Runs  []store.Run `json:"runs"`
	Total int         `json:"total"`
	Limit int         `json:"limit"`
}

// CredentialsResponse is the credentials file with the token masked.
type CredentialsResponse struct {
	credentials.Config
	TokenSet bool `json:"token_set"`
}

func NewCredentialsResponse(c credentials.Config) CredentialsResponse {
	set := !c.HasPlaceholderToken()
	c.ImmichToken = c.MaskedToken()
	return CredentialsResponse{Config: c, TokenSet: set}
}

type AlbumListResponse struct {
	Albums   []immich.Album `json:"albums"`
	Selected []string       `json:"selected"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
