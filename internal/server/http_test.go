package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/log"
)

// allowAllAuthorizer skips casbin/TLS entirely so these tests exercise
// the handlers and the query core wiring, not the casbin ACL policy of
// internal/auth.
type allowAllAuthorizer struct{}

func (allowAllAuthorizer) Authorize(subject, object, action string) error { return nil }

func TestHTTPServer(t *testing.T) {
	table := map[string]func(t *testing.T, ts *httptest.Server){
		"produce/consume a record succeeds": testHTTPProduceConsume,
		"consume past log boundary fails":   testHTTPConsumePastBoundary,
		"limit paginates the query core":    testHTTPLimit,
		"merge hydrates restricted ids":     testHTTPMerge,
	}

	for scenario, fn := range table {
		t.Run(scenario, func(t *testing.T) {
			ts, teardown := setupHTTPTest(t)
			defer teardown()
			fn(t, ts)
		})
	}
}

func setupHTTPTest(t *testing.T) (*httptest.Server, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "http-server-test")
	require.NoError(t, err)

	commitLog, err := log.NewLog(dir, log.Config{})
	require.NoError(t, err)

	cfg := &Config{CommitLog: commitLog, Authorizer: allowAllAuthorizer{}}
	httpSrv := NewHTTPServer("", cfg)
	ts := httptest.NewServer(httpSrv.Handler)

	teardown := func() {
		ts.Close()
		commitLog.Remove()
		os.RemoveAll(dir)
	}
	return ts, teardown
}

func postJSON(t *testing.T, url string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))

	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func testHTTPProduceConsume(t *testing.T, ts *httptest.Server) {
	var produceRes ProduceResponse
	resp := postJSON(t, ts.URL+"/v1/log", ProduceRequest{
		Record: apiv1.LogRecord{OffsetID: 1, Operation: apiv1.OperationAdd, UserID: "user-1"},
	}, &produceRes)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(fmt.Sprintf("%s/v1/log/%d", ts.URL, produceRes.Offset))
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var consumeRes ConsumeResponse
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&consumeRes))
	require.Equal(t, uint32(1), consumeRes.Record.OffsetID)
	require.Equal(t, "user-1", consumeRes.Record.UserID)
}

func testHTTPConsumePastBoundary(t *testing.T, ts *httptest.Server) {
	var produceRes ProduceResponse
	postJSON(t, ts.URL+"/v1/log", ProduceRequest{
		Record: apiv1.LogRecord{OffsetID: 1, Operation: apiv1.OperationAdd},
	}, &produceRes)

	resp, err := http.Get(fmt.Sprintf("%s/v1/log/%d", ts.URL, produceRes.Offset+1))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func testHTTPLimit(t *testing.T, ts *httptest.Server) {
	for _, id := range []uint32{1, 2, 3} {
		postJSON(t, ts.URL+"/v1/log", ProduceRequest{
			Record: apiv1.LogRecord{OffsetID: id, Operation: apiv1.OperationAdd},
		}, &ProduceResponse{})
	}

	var limitRes LimitResponse
	resp := postJSON(t, ts.URL+"/v1/query/limit", LimitRequest{
		Filter: FilterRequest{Exclude: true},
		Skip:   1,
		Fetch:  1,
	}, &limitRes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []uint32{2}, limitRes.OffsetIDs)
}

func testHTTPMerge(t *testing.T, ts *httptest.Server) {
	postJSON(t, ts.URL+"/v1/log", ProduceRequest{
		Record: apiv1.LogRecord{OffsetID: 1, Operation: apiv1.OperationAdd, UserID: "user-1"},
	}, &ProduceResponse{})
	postJSON(t, ts.URL+"/v1/log", ProduceRequest{
		Record: apiv1.LogRecord{OffsetID: 2, Operation: apiv1.OperationAdd, UserID: "user-2"},
	}, &ProduceResponse{})

	var mergeRes MergeResponse
	resp := postJSON(t, ts.URL+"/v1/query/merge", MergeRequest{
		FilteredOffsetIDs: []uint32{2},
	}, &mergeRes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, mergeRes.Records, 1)
	require.Equal(t, uint32(2), mergeRes.Records[0].OffsetID)
	require.Equal(t, "user-2", mergeRes.Records[0].UserID)
}
