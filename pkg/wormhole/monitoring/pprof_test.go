package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/CVDpl/go-live-wormhole/pkg/wormhole"
)

func TestStatsEndpoints(t *testing.T) {
	idx, err := wormhole.New(nil)
	require.NoError(t, err)
	ref := idx.Ref()
	require.True(t, ref.Put([]byte("k"), []byte("v")))
	ref.Unref()
	defer idx.Close()

	mux := NewMux(idx, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/wormhole/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st wormhole.Stats
	require.NoError(t, sonnet.Unmarshal(rec.Body.Bytes(), &st))
	require.EqualValues(t, 1, st.Keys)
	require.EqualValues(t, 1, st.Sets)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/wormhole/leaves", nil))
	require.Contains(t, rec.Body.String(), "leaves=1 keys=1")
}

func TestStartStopServer(t *testing.T) {
	srv, err := StartPprofServer("127.0.0.1:0", nil, nil)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, StopPprofServer(context.Background(), srv))
	require.NoError(t, StopPprofServer(context.Background(), nil))
}
