package gateway

import (
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
)

// wireError is the structured error body returned to clients.
type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	var body wireError
	body.Error.Message = message
	body.Error.Type = errType
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeTypedError translates the backend/router error taxonomy (§7)
// onto the wire status codes documented there.
func writeTypedError(w http.ResponseWriter, err error) {
	var berr *backend.Error
	if errors.As(err, &berr) {
		switch berr.Type {
		case backend.ErrModelNotLoaded:
			writeError(w, http.StatusConflict, string(berr.Type), berr.Error())
		case backend.ErrUnsupportedOp:
			writeError(w, http.StatusConflict, string(berr.Type), berr.Error())
		case backend.ErrBackendStartTimeout, backend.ErrBackendFailed:
			writeError(w, http.StatusServiceUnavailable, string(berr.Type), berr.Error())
		case backend.ErrBackendCrashed:
			writeError(w, http.StatusBadGateway, string(berr.Type), berr.Error())
		case backend.ErrPortInUse:
			writeError(w, http.StatusServiceUnavailable, string(berr.Type), berr.Error())
		default:
			writeError(w, http.StatusInternalServerError, string(berr.Type), berr.Error())
		}
		return
	}
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if errors.Is(err, catalog.ErrAlreadyExists) {
		writeError(w, http.StatusConflict, "already_exists", err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

// handleHealth implements GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}{Status: "ok", Version: Version}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleListModels implements GET /models: the merged supported+downloaded view.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	supported := g.registry.ListSupported()
	downloaded := g.registry.ListDownloaded()

	type modelView struct {
		catalog.ModelEntry
		Downloaded bool `json:"downloaded"`
	}
	out := make([]modelView, 0, len(supported))
	for name, entry := range supported {
		_, isDownloaded := downloaded[name]
		out = append(out, modelView{ModelEntry: entry, Downloaded: isDownloaded})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Data []modelView `json:"data"`
	}{Data: out})
}

// inferenceRequest is the minimal shape required to validate and route an
// inference call; the remainder of the body is passed through verbatim.
type inferenceRequest struct {
	Model  string `json:"model" validate:"required"`
	Stream bool   `json:"stream"`
}

// handleInference builds the POST handler for one of the five OpenAI-shaped
// inference endpoints, dispatching through the Router and either returning
// the whole body (non-streaming) or proxying SSE chunk-by-chunk (streaming).
func (g *Gateway) handleInference(op backend.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maximumRequestBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "parse_error", "request too large or unreadable")
			return
		}

		var req inferenceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "parse_error", "invalid JSON body")
			return
		}
		if err := g.validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		infReq := backend.InferenceRequest{Body: body, Stream: req.Stream}

		if !req.Stream {
			result, err := g.router.Dispatch(r.Context(), op, infReq)
			if err != nil {
				writeTypedError(w, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(result.Body)
			return
		}

		chunks, err := g.router.DispatchStream(r.Context(), op, infReq)
		if err != nil {
			writeTypedError(w, err)
			return
		}
		proxySSE(w, r, chunks)
	}
}

// proxySSE streams chunks to the client as `data: <payload>\n\n` frames,
// terminated by `data: [DONE]\n\n`, per §4.6's SSE pass-through
// contract. A client disconnect (r.Context() cancellation) simply stops
// reading chunks; it never marks the backend crashed.
func proxySSE(w http.ResponseWriter, r *http.Request, chunks <-chan backend.Chunk) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if chunk.Done {
				io.WriteString(w, "data: [DONE]\n\n")
				if flusher != nil {
					flusher.Flush()
				}
				return
			}
			w.Write([]byte("data: "))
			w.Write(chunk.Data)
			io.WriteString(w, "\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// pullRequest is POST /pull's body.
type pullRequest struct {
	Name         string `json:"name" validate:"required"`
	DoNotUpgrade bool   `json:"do_not_upgrade"`
}

// handlePull implements POST /pull, emitting SSE progress|complete|error
// events as the download proceeds.
func (g *Gateway) handlePull(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maximumRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "request too large or unreadable")
		return
	}
	var req pullRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "invalid JSON body")
		return
	}
	if err := g.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	entry, err := g.registry.Resolve(req.Name)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	var files []catalog.FileSpec
	if g.resolve != nil {
		files, err = g.resolve(entry)
		if err != nil {
			writeTypedError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, _ := w.(http.Flusher)

	emit := func(eventName string, payload interface{}) {
		data, _ := json.Marshal(payload)
		io.WriteString(w, "event: "+eventName+"\ndata: ")
		w.Write(data)
		io.WriteString(w, "\n\n")
		if flusher != nil {
			flusher.Flush()
		}
	}

	err = g.registry.Download(r.Context(), req.Name, files, req.DoNotUpgrade, func(ev catalog.ProgressEvent) {
		emit("progress", ev)
	})
	if err != nil {
		emit("error", struct {
			Message string `json:"message"`
		}{Message: err.Error()})
		return
	}
	emit("complete", struct {
		Name string `json:"name"`
	}{Name: req.Name})
}

// handleDeleteModel implements DELETE /models/{name}.
func (g *Gateway) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := g.registry.Delete(name); err != nil {
		writeTypedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRegister implements POST /register.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maximumRequestBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "request too large or unreadable")
		return
	}
	var entry catalog.ModelEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		writeError(w, http.StatusBadRequest, "parse_error", "invalid JSON body")
		return
	}
	if err := g.registry.RegisterUser(entry); err != nil {
		writeTypedError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleStats implements GET /stats: the last-observed Telemetry snapshot
// plus the currently active model, if any.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	var snapshot interface{}
	if g.tracker != nil {
		snapshot = g.tracker.Snapshot()
	}
	active, loaded := g.router.Active()

	resp := struct {
		Telemetry interface{} `json:"telemetry,omitempty"`
		Loaded    bool        `json:"loaded"`
		Model     interface{} `json:"model,omitempty"`
	}{Telemetry: snapshot, Loaded: loaded}
	if loaded {
		resp.Model = active
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
