// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotter struct {
	ifaces   []InterfaceStatus
	groups   map[string][]GroupStatus
	upstream []UpstreamStatus
}

func (f *fakeSnapshotter) Interfaces() []InterfaceStatus { return f.ifaces }
func (f *fakeSnapshotter) Groups(iface string) []GroupStatus {
	return f.groups[iface]
}
func (f *fakeSnapshotter) Upstream() []UpstreamStatus { return f.upstream }

func newTestServer() (*Server, *fakeSnapshotter) {
	snap := &fakeSnapshotter{
		ifaces: []InterfaceStatus{{Name: "eth0", Role: "upstream", Querier: true}},
		groups: map[string][]GroupStatus{
			"eth1": {{Group: "239.1.1.1", FilterMode: "exclude", Sources: nil}},
		},
		upstream: []UpstreamStatus{{Group: "239.1.1.1", FilterMode: "include", Sources: []string{"10.0.0.5"}}},
	}
	return NewServer(snap), snap
}

func TestHandleInterfaces(t *testing.T) {
	s, _ := newTestServer()
	router := mux.NewRouter()
	s.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/status/interfaces", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []InterfaceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "eth0", got[0].Name)
}

func TestHandleGroupsFiltersByIface(t *testing.T) {
	s, _ := newTestServer()
	router := mux.NewRouter()
	s.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/status/groups?iface=eth1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []GroupStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "239.1.1.1", got[0].Group)
}

func TestHandleUpstream(t *testing.T) {
	s, _ := newTestServer()
	router := mux.NewRouter()
	s.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/status/upstream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []UpstreamStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "include", got[0].FilterMode)
}

func TestPublishDropsWhenNoSubscribers(t *testing.T) {
	s, _ := newTestServer()
	// Publish with zero subscribers must not block or panic.
	s.Publish(Event{Type: "group-added", Group: "239.1.1.1"})
}
