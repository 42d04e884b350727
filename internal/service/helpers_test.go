package service

import (
	"encoding/json"
	"testing"

	"github.com/rowcoach/rowcoach-go/internal/docstore"
	"github.com/rowcoach/rowcoach-go/internal/docstore/docstoretest"
	"github.com/rowcoach/rowcoach-go/internal/model"
	"github.com/rowcoach/rowcoach-go/internal/repository"
)

func newTestUserService(t *testing.T) (*UserService, *docstoretest.Server) {
	t.Helper()
	srv := docstoretest.New(t, "users-bin", "master-key")
	client, err := docstore.New(srv.BaseURL(), "users-bin", "master-key")
	if err != nil {
		t.Fatalf("docstore.New() unexpected error: %v", err)
	}
	return NewUserService(repository.NewDocumentUserRepository(client)), srv
}

func storedUsers(t *testing.T, srv *docstoretest.Server) []model.User {
	t.Helper()
	var doc model.UsersDocument
	if err := json.Unmarshal(srv.Record(), &doc); err != nil {
		t.Fatalf("decoding stored document: %v", err)
	}
	return doc.Users
}
