package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchParent401MeansNoProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	p, err := c.FetchParent(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil profile, got %+v", p)
	}
}

func TestFetchParentSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(Parent{Nickname: "Sam"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok-123")
	p, err := c.FetchParent(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if p.Nickname != "Sam" {
		t.Errorf("nickname = %q", p.Nickname)
	}
}

func TestFetchChildrenDecodesNumericAndStringIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 7, "name": "Mia"}, {"id": "abc", "name": "Leo"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	children, err := c.FetchChildren(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("want 2 children, got %d", len(children))
	}
	if children[0].ID != "7" {
		t.Errorf("numeric id = %q, want \"7\"", children[0].ID)
	}
	if children[1].ID != "abc" {
		t.Errorf("string id = %q, want \"abc\"", children[1].ID)
	}
}

func TestSaveParentSurfacesDetailVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"detail": "birth_year must be in the past"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.SaveParent(context.Background(), ParentPayload{Nickname: "Sam"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Detail != "birth_year must be in the past" {
		t.Errorf("detail = %q", apiErr.Detail)
	}
	if apiErr.Error() != "birth_year must be in the past" {
		t.Errorf("Error() = %q, want detail verbatim", apiErr.Error())
	}
}

func TestAPIErrorFallsBackToGenericStatus(t *testing.T) {
	e := &APIError{StatusCode: 502}
	if e.Error() != "server returned status 502" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestCreateChildStripsIDAndSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(IdempotencyKeyHeader)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 42, "name": "Mia"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	created, err := c.CreateChild(context.Background(), Child{ID: "temp_1717243200_1", Name: "Mia"}, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "key-1" {
		t.Errorf("idempotency key header = %q", gotKey)
	}
	if _, present := gotBody["id"]; present {
		t.Errorf("temporary id leaked into create payload: %v", gotBody)
	}
	if created.ID != "42" {
		t.Errorf("created id = %q, want \"42\"", created.ID)
	}
}

func TestUpdateChildUsesPut(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.Write([]byte(`{"id": "7", "name": "Mia"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	if _, err := c.UpdateChild(context.Background(), "7", Child{Name: "Mia"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/profile/children/7" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
}

func TestDeleteChildStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "child not found"})
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	err := c.DeleteChild(context.Background(), "7")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("err = %v, want 404 *APIError", err)
	}
}
