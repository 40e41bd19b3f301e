package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/bucketview/internal/errors"
	"github.com/3leaps/bucketview/pkg/batch"
	"github.com/3leaps/bucketview/pkg/browser"
	"github.com/3leaps/bucketview/pkg/hierarchy"
	"github.com/3leaps/bucketview/pkg/keypath"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 4 << 20

// BucketAPI binds browser.Service to HTTP.
type BucketAPI struct {
	svc            *browser.Service
	maxUploadBytes int64
}

// NewBucketAPI creates the API. maxUploadBytes <= 0 leaves uploads uncapped.
func NewBucketAPI(svc *browser.Service, maxUploadBytes int64) *BucketAPI {
	return &BucketAPI{svc: svc, maxUploadBytes: maxUploadBytes}
}

// Routes mounts the bucket routes on r.
func (a *BucketAPI) Routes(r chi.Router) {
	r.Route("/v1/buckets/{bucket}", func(r chi.Router) {
		r.Get("/children", a.Children)
		r.Get("/find", a.Find)
		r.Get("/tree", a.Tree)
		r.Get("/stat", a.Stat)
		r.Get("/objects", a.Download)
		r.Post("/folders", a.CreateFolder)
		r.Post("/copy", a.Copy)
		r.Post("/move", a.Move)
		r.Post("/delete", a.Delete)
		r.Put("/objects", a.Upload)
	})
}

// ListingResponse is returned by the children and find routes.
type ListingResponse struct {
	Bucket  string           `json:"bucket"`
	Path    string           `json:"path"`
	Pattern string           `json:"pattern,omitempty"`
	Nodes   []hierarchy.Node `json:"nodes"`
}

// KeyResponse is returned by routes that create a single key.
type KeyResponse struct {
	Key string `json:"key"`
}

// TransferRequest is the body of the copy and move routes.
type TransferRequest struct {
	Keys        []string `json:"keys"`
	Destination string   `json:"destination"`
}

// DeleteRequest is the body of the delete route.
type DeleteRequest struct {
	Keys      []string `json:"keys"`
	Recursive bool     `json:"recursive"`
}

// FolderRequest is the body of the folders route.
type FolderRequest struct {
	Path string `json:"path"`
}

// BatchResponse reports every key of a batch. It is returned with 200 even
// when some keys failed.
type BatchResponse struct {
	Op         batch.Op                   `json:"op"`
	Total      int                        `json:"total"`
	Succeeded  int                        `json:"succeeded"`
	Failed     int                        `json:"failed"`
	Duplicates int                        `json:"duplicates"`
	DurationMs int64                      `json:"duration_ms"`
	Outcomes   map[string]OutcomeResponse `json:"outcomes"`
}

type OutcomeResponse struct {
	Status    batch.Status `json:"status"`
	ErrorCode string       `json:"error_code,omitempty"`
	Error     string       `json:"error,omitempty"`
	DestKey   string       `json:"dest_key,omitempty"`
	Deleted   int          `json:"deleted,omitempty"`
}

// NewBatchResponse converts a batch result.
func NewBatchResponse(res *batch.Result) BatchResponse {
	out := BatchResponse{
		Op:         res.Op,
		Total:      res.Total(),
		Succeeded:  res.Succeeded(),
		Failed:     res.Failed(),
		Duplicates: res.Duplicates(),
		DurationMs: res.Duration.Milliseconds(),
		Outcomes:   make(map[string]OutcomeResponse, len(res.Outcomes)),
	}
	for key, o := range res.Outcomes {
		or := OutcomeResponse{Status: o.Status, DestKey: o.DestKey, Deleted: o.Deleted}
		if o.Err != nil {
			or.ErrorCode = batch.ClassifyError(o.Err)
			or.Error = o.Err.Error()
		}
		out.Outcomes[key] = or
	}
	return out
}

func (a *BucketAPI) Children(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	path := r.URL.Query().Get("path")

	nodes, err := a.svc.GetChildren(r.Context(), bucket, path)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListingResponse{Bucket: bucket, Path: path, Nodes: nonNil(nodes)})
}

func (a *BucketAPI) Find(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	q := r.URL.Query()
	path, pattern := q.Get("path"), q.Get("pattern")

	nodes, err := a.svc.Find(r.Context(), bucket, path, pattern)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListingResponse{Bucket: bucket, Path: path, Pattern: pattern, Nodes: nonNil(nodes)})
}

func (a *BucketAPI) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req FolderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	folder, err := keypath.ParsePath(req.Path)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	key, err := keypath.FolderKey(folder)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if err := a.svc.CreateFolder(r.Context(), chi.URLParam(r, "bucket"), req.Path); err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, KeyResponse{Key: key})
}

func (a *BucketAPI) Copy(w http.ResponseWriter, r *http.Request) {
	a.transfer(w, r, a.svc.Copy)
}

func (a *BucketAPI) Move(w http.ResponseWriter, r *http.Request) {
	a.transfer(w, r, a.svc.Move)
}

type transferFunc func(ctx context.Context, bucket string, keys []string, dest string) *batch.Result

func (a *BucketAPI) transfer(w http.ResponseWriter, r *http.Request, fn transferFunc) {
	var req TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if len(req.Keys) == 0 {
		respondWithError(w, r, fmt.Errorf("%w: keys must not be empty", apperrors.ErrBadRequest))
		return
	}
	res := fn(r.Context(), chi.URLParam(r, "bucket"), req.Keys, req.Destination)
	writeJSON(w, http.StatusOK, NewBatchResponse(res))
}

func (a *BucketAPI) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}
	if len(req.Keys) == 0 {
		respondWithError(w, r, fmt.Errorf("%w: keys must not be empty", apperrors.ErrBadRequest))
		return
	}
	res := a.svc.Delete(r.Context(), chi.URLParam(r, "bucket"), req.Keys, req.Recursive)
	writeJSON(w, http.StatusOK, NewBatchResponse(res))
}

func (a *BucketAPI) Upload(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("name")
	if name == "" {
		respondWithError(w, r, fmt.Errorf("%w: name is required", apperrors.ErrBadRequest))
		return
	}

	var body io.Reader = r.Body
	size := r.ContentLength
	if a.maxUploadBytes > 0 {
		if size > a.maxUploadBytes {
			respondWithError(w, r, &http.MaxBytesError{Limit: a.maxUploadBytes})
			return
		}
		body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	}

	key, err := a.svc.Upload(r.Context(), chi.URLParam(r, "bucket"), q.Get("folder"), name, body, size)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, KeyResponse{Key: key})
}

// maxTreeDepth bounds the depth parameter of the tree route.
const maxTreeDepth = 32

func (a *BucketAPI) Tree(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	q := r.URL.Query()
	path := q.Get("path")

	depth := 0
	if raw := q.Get("depth"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d < 0 || d > maxTreeDepth {
			respondWithError(w, r, fmt.Errorf("%w: depth must be 0..%d", apperrors.ErrBadRequest, maxTreeDepth))
			return
		}
		depth = d
	}

	nodes := []hierarchy.Node{}
	err := a.svc.Walk(r.Context(), bucket, path, depth, func(n hierarchy.Node) error {
		nodes = append(nodes, n)
		return nil
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListingResponse{Bucket: bucket, Path: path, Nodes: nodes})
}

func (a *BucketAPI) Stat(w http.ResponseWriter, r *http.Request) {
	node, err := a.svc.Stat(r.Context(), chi.URLParam(r, "bucket"), r.URL.Query().Get("key"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *BucketAPI) Download(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	body, size, err := a.svc.Open(r.Context(), chi.URLParam(r, "bucket"), key)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", "application/octet-stream")
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %w", apperrors.ErrBadRequest, err)
	}
	return nil
}

func nonNil(nodes []hierarchy.Node) []hierarchy.Node {
	if nodes == nil {
		return []hierarchy.Node{}
	}
	return nodes
}
