// Package workspacetest runs an in-process control plane for tests. Every
// request is validated against the OpenAPI contract in openapi.yaml before it
// is served from in-memory state.
package workspacetest

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

//go:embed openapi.yaml
var contract []byte

const (
	SubscriptionID = "00000000-0000-0000-0000-000000000001"
	ResourceGroup  = "rg-ml"
	WorkspaceName  = "ws-demo"
	Compute        = "cpu-cluster"
	// CuratedEnvironment is registered in every new server as version 1.
	CuratedEnvironment = "curated-sklearn-1.5"
	DatastoreName      = "workspaceblobstore"
	StudioBase         = "https://studio.mlplatform.dev"
)

// Recorded is one request that passed contract validation.
type Recorded struct {
	OperationID string
	Method      string
	Path        string
	Query       string
	Body        map[string]any
	Header      http.Header
}

type failure struct {
	status  int
	code    string
	message string
}

type Server struct {
	*httptest.Server

	t      testing.TB
	router routers.Router

	mu           sync.Mutex
	pageSize     int
	nextLinkBase string
	computes     map[string]bool
	jobs         map[string]map[string]any
	environments map[string][]map[string]any
	requests     []Recorded
	failures     map[string]failure
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(contract)
	if err != nil {
		t.Fatalf("load contract: %v", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		t.Fatalf("validate contract: %v", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		t.Fatalf("contract router: %v", err)
	}

	s := &Server{
		t:            t,
		router:       router,
		pageSize:     50,
		computes:     map[string]bool{Compute: true},
		jobs:         map[string]map[string]any{},
		environments: map[string][]map[string]any{},
		failures:     map[string]failure{},
	}
	s.environments[CuratedEnvironment] = []map[string]any{{
		"name":          CuratedEnvironment,
		"version":       "1",
		"image":         "mlplatform.azurecr.io/curated/sklearn-1.5:1",
		"description":   "Curated scikit-learn 1.5 environment",
		"build_state":   "Succeeded",
		"creation_time": time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// ScopePath is the workspace resource path the server answers on.
func ScopePath() string {
	return "/subscriptions/" + SubscriptionID + "/resourceGroups/" + ResourceGroup + "/workspaces/" + WorkspaceName
}

func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageSize = n
}

// SetNextLinkBase makes list pages link to base instead of the server URL.
func (s *Server) SetNextLinkBase(base string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLinkBase = base
}

// FailNext makes the next call of operationID answer with an error body.
func (s *Server) FailNext(operationID string, status int, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[operationID] = failure{status: status, code: code, message: message}
}

func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.requests...)
}

// RequestsFor filters Requests by operation id.
func (s *Server) RequestsFor(operationID string) []Recorded {
	var out []Recorded
	for _, r := range s.Requests() {
		if r.OperationID == operationID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) Job(name string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	return job, ok
}

// AddEnvironment registers a version directly, bypassing the API.
func (s *Server) AddEnvironment(name, image string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createVersion(name, map[string]any{"image": image})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	route, params, err := s.router.FindRoute(r)
	if err != nil {
		writeError(w, http.StatusNotFound, "RouteNotFound", err.Error())
		return
	}
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") || len(r.Header.Get("Authorization")) <= len("Bearer ") {
		writeError(w, http.StatusUnauthorized, "AuthenticationFailed", "missing bearer token")
		return
	}
	var raw []byte
	if r.Body != nil {
		raw, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
	}
	if err := openapi3filter.ValidateRequest(r.Context(), &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: params,
		Route:      route,
	}); err != nil {
		s.t.Errorf("contract violation on %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusBadRequest, "ContractViolation", err.Error())
		return
	}

	var body map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			writeError(w, http.StatusBadRequest, "InvalidBody", err.Error())
			return
		}
	}

	op := route.Operation.OperationID
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, Recorded{
		OperationID: op,
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.RawQuery,
		Body:        body,
		Header:      r.Header.Clone(),
	})
	if f, ok := s.failures[op]; ok {
		delete(s.failures, op)
		writeError(w, f.status, f.code, f.message)
		return
	}

	switch op {
	case "Workspaces_Get":
		writeJSON(w, http.StatusOK, map[string]any{
			"name":       params["workspace"],
			"location":   "westeurope",
			"studio_url": StudioBase + "/workspaces/" + params["workspace"],
		})
	case "Jobs_CreateOrUpdate":
		s.createJob(w, params["jobName"], body)
	case "Jobs_Get":
		job, ok := s.jobs[params["jobName"]]
		if !ok {
			writeError(w, http.StatusNotFound, "JobNotFound", fmt.Sprintf("job %s not found", params["jobName"]))
			return
		}
		writeJSON(w, http.StatusOK, job)
	case "Environments_List":
		s.listEnvironments(w, r)
	case "EnvironmentVersions_Create":
		writeJSON(w, http.StatusCreated, s.createVersion(params["name"], body))
	case "EnvironmentVersions_Get":
		v, ok := s.findVersion(params["name"], params["version"])
		if !ok {
			writeError(w, http.StatusNotFound, "EnvironmentVersionNotFound",
				fmt.Sprintf("environment %s version %s not found", params["name"], params["version"]))
			return
		}
		writeJSON(w, http.StatusOK, v)
	case "Datastores_GetDefault":
		writeJSON(w, http.StatusOK, map[string]any{
			"name":     DatastoreName,
			"endpoint": "store.mlplatform.test:9000",
			"bucket":   "workspace-code",
			"region":   "westeurope",
			"use_ssl":  false,
		})
	case "Datastores_ListSecrets":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_key": "datastore-access",
			"secret_key": "datastore-secret",
		})
	default:
		writeError(w, http.StatusNotImplemented, "NotImplemented", op)
	}
}

func (s *Server) createJob(w http.ResponseWriter, name string, body map[string]any) {
	props, _ := body["properties"].(map[string]any)
	if compute, _ := props["compute_id"].(string); !s.computes[compute] {
		writeError(w, http.StatusBadRequest, "ComputeNotFound", fmt.Sprintf("compute %q not found", compute))
		return
	}
	if envRef, ok := props["environment_id"].(string); ok {
		if _, found := s.resolveEnvironment(envRef); !found {
			writeError(w, http.StatusBadRequest, "EnvironmentNotFound", fmt.Sprintf("environment %q not found", envRef))
			return
		}
	}

	stored := map[string]any{}
	for k, v := range props {
		stored[k] = v
	}
	stored["status"] = "NotStarted"
	stored["creation_time"] = time.Now().UTC().Format(time.RFC3339)
	stored["services"] = map[string]any{
		"Studio": map[string]any{
			"endpoint": StudioBase + "/runs/" + name + "?wsid=" + ScopePath(),
		},
	}
	job := map[string]any{"name": name, "properties": stored}
	s.jobs[name] = job
	writeJSON(w, http.StatusCreated, job)
}

// resolveEnvironment accepts "name@latest" and "name:version".
func (s *Server) resolveEnvironment(ref string) (map[string]any, bool) {
	if name, ok := strings.CutSuffix(ref, "@latest"); ok {
		versions := s.environments[name]
		if len(versions) == 0 {
			return nil, false
		}
		return versions[len(versions)-1], true
	}
	name, version, ok := strings.Cut(ref, ":")
	if !ok {
		return nil, false
	}
	return s.findVersion(name, version)
}

func (s *Server) findVersion(name, version string) (map[string]any, bool) {
	for _, v := range s.environments[name] {
		if v["version"] == version {
			return v, true
		}
	}
	return nil, false
}

func (s *Server) createVersion(name string, body map[string]any) map[string]any {
	versions := s.environments[name]
	v := map[string]any{
		"name":          name,
		"version":       strconv.Itoa(len(versions) + 1),
		"creation_time": time.Now().UTC().Format(time.RFC3339),
		"build_state":   "Succeeded",
	}
	for _, k := range []string{"image", "conda_file", "description", "tags"} {
		if val, ok := body[k]; ok {
			v[k] = val
		}
	}
	if _, ok := body["conda_file"]; ok {
		// image builds are deferred until a job first uses the environment
		v["build_state"] = "NotStarted"
	}
	s.environments[name] = append(versions, v)
	return v
}

func (s *Server) listEnvironments(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.environments))
	for name := range s.environments {
		names = append(names, name)
	}
	sort.Strings(names)

	start := 0
	if tok := r.URL.Query().Get("skip_token"); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 || n > len(names) {
			writeError(w, http.StatusBadRequest, "InvalidSkipToken", tok)
			return
		}
		start = n
	}
	end := start + s.pageSize
	if end > len(names) {
		end = len(names)
	}

	page := make([]map[string]any, 0, end-start)
	for _, name := range names[start:end] {
		versions := s.environments[name]
		latest := versions[len(versions)-1]
		summary := map[string]any{
			"name":               name,
			"latest_version":     latest["version"],
			"last_modified_time": latest["creation_time"],
		}
		if d, ok := latest["description"]; ok {
			summary["description"] = d
		}
		if tags, ok := latest["tags"]; ok {
			summary["tags"] = tags
		}
		page = append(page, summary)
	}
	out := map[string]any{"value": page}
	if end < len(names) {
		base := s.URL
		if s.nextLinkBase != "" {
			base = s.nextLinkBase
		}
		out["next_link"] = base + r.URL.Path + "?skip_token=" + strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": code, "message": message}})
}

// Contract exposes the parsed OpenAPI document.
func Contract(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(contract)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, err
	}
	return doc, nil
}
