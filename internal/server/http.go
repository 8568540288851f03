package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apiv1 "github.com/mrshabel/vectorq/api/v1"
	"github.com/mrshabel/vectorq/internal/bitmap"
	"github.com/mrshabel/vectorq/internal/query"
)

// NewHTTPServer wires the mutation log and query-core routes onto a
// gorilla/mux router. Transport moved here from grpc because the read
// path (Limit, MergeAndHydrate) has no generated service stubs of its
// own in this repo; plain JSON keeps the log and query routes on one
// consistent wire format. Every request runs through a zap-based
// logging middleware, the HTTP stand-in for the grpc transport's
// grpc_zap unary/stream interceptors.
func NewHTTPServer(addr string, config *Config) *http.Server {
	srv := &httpServer{Config: config}
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/v1/log", srv.handleProduce).Methods("POST")
	router.HandleFunc("/v1/log/{offset:[0-9]+}", srv.handleConsume).Methods("GET")
	router.HandleFunc("/v1/query/limit", srv.handleLimit).Methods("POST")
	router.HandleFunc("/v1/query/merge", srv.handleMerge).Methods("POST")

	return &http.Server{
		Addr:    addr,
		Handler: router,
	}
}

// statusRecorder captures the status code a handler wrote so the
// logging middleware can report it after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs every request's method, path, status, peer
// and duration, the way the grpc transport's grpc_zap interceptors
// logged every RPC.
func loggingMiddleware(next http.Handler) http.Handler {
	logger := zap.L().Named("server")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("peer", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type httpServer struct {
	*Config
}

// ProduceRequest/ProduceResponse carry one raw mutation into the log.
type ProduceRequest struct {
	Record apiv1.LogRecord `json:"record"`
}
type ProduceResponse struct {
	Offset uint64 `json:"offset"`
}
type ConsumeResponse struct {
	Record apiv1.LogRecord `json:"record"`
}

func (s *httpServer) handleProduce(w http.ResponseWriter, r *http.Request) {
	if err := s.Authorizer.Authorize(subject(r), objectWildCard, produceAction); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var body ProduceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	offset, err := s.CommitLog.Append(&body.Record)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ProduceResponse{Offset: offset})
}

func (s *httpServer) handleConsume(w http.ResponseWriter, r *http.Request) {
	if err := s.Authorizer.Authorize(subject(r), objectWildCard, consumeAction); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	offset, err := strconv.ParseUint(mux.Vars(r)["offset"], 10, 64)
	if err != nil {
		http.Error(w, "offset should be a positive integer", http.StatusUnprocessableEntity)
		return
	}

	record, err := s.CommitLog.Read(offset)
	var outOfRange apiv1.ErrOffsetOutOfRange
	if errors.As(err, &outOfRange) {
		http.Error(w, err.Error(), outOfRange.HTTPStatus())
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ConsumeResponse{Record: *record})
}

// FilterRequest is the wire shape of a bitmap.Signed value: Exclude
// false means Include(OffsetIDs), true means Exclude(OffsetIDs).
type FilterRequest struct {
	Exclude   bool     `json:"exclude"`
	OffsetIDs []uint32 `json:"offset_ids"`
}

func (f FilterRequest) toSigned() bitmap.Signed {
	rbm := roaring.BitmapOf(f.OffsetIDs...)
	if f.Exclude {
		return bitmap.Exclude(rbm)
	}
	return bitmap.Include(rbm)
}

type LimitRequest struct {
	Filter FilterRequest `json:"filter"`
	Skip   uint32        `json:"skip"`
	Fetch  uint32        `json:"fetch"`
}
type LimitResponse struct {
	OffsetIDs []uint32 `json:"offset_ids"`
}

func (s *httpServer) handleLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.Authorizer.Authorize(subject(r), objectWildCard, queryAction); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var body LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	log, err := s.materializeLog(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ids, err := query.Limit(ctx, query.LimitInput{
		Filter: body.Filter.toSigned(),
		Log:    log,
		Reader: s.Reader,
		Skip:   body.Skip,
		Fetch:  body.Fetch,
	})
	if err != nil {
		http.Error(w, err.Error(), opStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, LimitResponse{OffsetIDs: ids})
}

type MergeRequest struct {
	UserOffsetIDs     []uint32 `json:"user_offset_ids,omitempty"`
	FilteredOffsetIDs []uint32 `json:"filtered_offset_ids,omitempty"`
	Skip              uint32   `json:"skip"`
	Fetch             uint32   `json:"fetch"`
	// IncludeMetadata suppresses metadata/document hydration when false,
	// returning only offset id and user id per row.
	IncludeMetadata bool `json:"include_metadata"`
}
type MergeResponse struct {
	Records []apiv1.Record `json:"records"`
}

func (s *httpServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	if err := s.Authorizer.Authorize(subject(r), objectWildCard, queryAction); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	var body MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	log, err := s.materializeLog(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	rows, err := query.MergeAndHydrate(ctx, query.MergeInput{
		UserOffsetIDs:     body.UserOffsetIDs,
		FilteredOffsetIDs: body.FilteredOffsetIDs,
		Log:               log,
		Reader:            s.Reader,
		Skip:              body.Skip,
		Fetch:             body.Fetch,
		IncludeMetadata:   body.IncludeMetadata,
	})
	if err != nil {
		http.Error(w, err.Error(), opStatus(err))
		return
	}

	records := make([]apiv1.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, apiv1.Record{
			OffsetID: row.OffsetID,
			UserID:   row.UserID,
			Metadata: row.Metadata,
			Document: row.Document,
		})
	}
	writeJSON(w, http.StatusOK, MergeResponse{Records: records})
}

func opStatus(err error) int {
	var opErr *query.OpError
	if errors.As(err, &opErr) {
		return opErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
