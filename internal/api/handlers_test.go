package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"buttonlink/internal/lifecycle"
	"buttonlink/internal/peripheral"
	"buttonlink/internal/store"
)

type stubOps struct{}

func (stubOps) RequestPermissionsAndAdapter() error { return nil }
func (stubOps) Scan(string, time.Duration) error    { return nil }
func (stubOps) StopScan() error                     { return nil }

func (stubOps) Connect(context.Context, string) error { return nil }

func (stubOps) DiscoverServices(string) ([]string, error) {
	return []string{peripheral.ServiceUUID}, nil
}

func (stubOps) StartNotify(string, string, string) error    { return nil }
func (stubOps) StopNotify(string, string, string) error     { return nil }
func (stubOps) Read(string, string, string) ([]byte, error) { return []byte{0x00}, nil }
func (stubOps) Write(string, string, string, []byte) error  { return nil }
func (stubOps) Disconnect(string) error                     { return nil }

type stubStore struct{}

func (stubStore) Get() (*store.Remembered, error) { return nil, nil }
func (stubStore) Set(store.Remembered) error      { return nil }
func (stubStore) Clear() error                    { return nil }

func newTestHandler(t *testing.T) (*Handler, *http.ServeMux) {
	t.Helper()
	m := lifecycle.New(stubOps{}, stubStore{}, time.Second)
	m.Start()
	t.Cleanup(m.Stop)

	h := NewHandler(m, NewHub())
	h.SetVersion("test")
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h, mux
}

func TestStatusEndpoint(t *testing.T) {
	_, mux := newTestHandler(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q", resp.Version)
	}
	if resp.State.Phase != "idle" {
		t.Errorf("phase = %q, want idle before start", resp.State.Phase)
	}
}

func TestStatusRejectsPost(t *testing.T) {
	_, mux := newTestHandler(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestIntentEndpointsRequirePost(t *testing.T) {
	_, mux := newTestHandler(t)

	for _, path := range []string{
		"/api/start",
		"/api/led/toggle",
		"/api/button/read",
		"/api/disconnect",
		"/api/forget",
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET %s = %d, want 405", path, rec.Code)
		}

		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("POST %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestDeviceConnectPathParsing(t *testing.T) {
	_, mux := newTestHandler(t)

	cases := []struct {
		path string
		want int
	}{
		{"/api/devices/AA:BB:CC:DD:EE:FF/connect", http.StatusOK},
		{"/api/devices//connect", http.StatusNotFound},
		{"/api/devices/AA:BB:CC:DD:EE:FF/rename", http.StatusNotFound},
		{"/api/devices/AA:BB:CC:DD:EE:FF", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("POST %s = %d, want %d", tc.path, rec.Code, tc.want)
		}
	}
}
