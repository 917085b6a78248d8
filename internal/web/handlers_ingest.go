package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/logging"
	"github.com/JonMunkholm/immunoload/internal/source"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of a multipart upload is buffered in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// ingestStarted is the response of an asynchronous ingestion request.
type ingestStarted struct {
	RunID       string `json:"run_id"`
	Source      string `json:"source"`
	ProgressURL string `json:"progress_url"`
	ResultURL   string `json:"result_url"`
}

// handleIngest loads a CSV or XLSX file into the store.
//
// The input is either a multipart upload in the "file" field or, when a
// server-side opener is configured, a JSON body {"location": "s3://..."}.
// Options come from query or form values: commit_frequency, batch_size,
// failure_policy, identity_mode, dry_run and async. Synchronous requests
// answer with the run result; async=true answers 202 with the run id.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	upload := mediaType == "multipart/form-data"
	if upload {
		// Parse under the size limit before FormValue parses it unbounded.
		if err := s.parseUpload(w, r); err != nil {
			respondError(w, r, err)
			return
		}
	}

	opts, async, err := s.parseIngestOptions(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var (
		src  core.RecordSource
		name string
	)
	if upload {
		src, name, err = s.uploadSource(r, async)
	} else {
		src, name, err = s.locationSource(w, r)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	logger := logging.WithFields(r.Context(), "source", name, "async", async, "dry_run", opts.DryRun)

	if async {
		runID, err := s.service.StartIngest(r.Context(), src, name, opts)
		if err != nil {
			respondError(w, r, err)
			return
		}
		logger.Info("ingestion run started", "run_id", runID)
		writeJSON(w, http.StatusAccepted, ingestStarted{
			RunID:       runID,
			Source:      name,
			ProgressURL: "/api/ingest/" + runID + "/progress",
			ResultURL:   "/api/ingest/" + runID + "/result",
		})
		return
	}

	defer src.Close()
	opts.Logger = logger
	result, err := s.service.Ingest(r.Context(), src, opts)
	if err != nil && (result == nil || core.IsKind(err, core.ErrValidation)) {
		respondError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, result)
}

func (s *Server) parseIngestOptions(r *http.Request) (core.IngestOptions, bool, error) {
	var opts core.IngestOptions
	var err error

	if raw := r.FormValue("commit_frequency"); raw != "" {
		if opts.CommitFrequency, err = strconv.Atoi(raw); err != nil || opts.CommitFrequency < 1 {
			return opts, false, core.NewValidationError("commit_frequency must be a positive integer")
		}
	}
	if raw := r.FormValue("batch_size"); raw != "" {
		if opts.BatchSize, err = strconv.Atoi(raw); err != nil || opts.BatchSize < 1 {
			return opts, false, core.NewValidationError("batch_size must be a positive integer")
		}
	}
	if raw := r.FormValue("failure_policy"); raw != "" {
		if opts.FailurePolicy, err = core.ParseFailurePolicy(raw); err != nil {
			return opts, false, core.NewValidationError(err.Error())
		}
	}
	if raw := r.FormValue("identity_mode"); raw != "" {
		if opts.IdentityMode, err = core.ParseIdentityMode(raw); err != nil {
			return opts, false, core.NewValidationError(err.Error())
		}
	}
	if opts.DryRun, err = boolParam(r, "dry_run"); err != nil {
		return opts, false, err
	}
	async, err := boolParam(r, "async")
	if err != nil {
		return opts, false, err
	}
	return opts, async, nil
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) error {
	maxSize := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.NewValidationError(fmt.Sprintf("file too large: max %d bytes", maxSize))
		}
		return core.NewValidationError("invalid multipart form")
	}
	return nil
}

// uploadSource opens the multipart "file" field. Asynchronous runs outlive
// the request, so their upload is first copied to a spool file.
func (s *Server) uploadSource(r *http.Request, async bool) (core.RecordSource, string, error) {
	maxSize := s.cfg.Ingest.MaxFileSize
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", core.NewValidationError("no file provided in field \"file\"")
	}
	if maxSize > 0 && header.Size > maxSize {
		file.Close()
		return nil, "", core.NewValidationError(fmt.Sprintf("file too large: max %d bytes", maxSize))
	}
	if _, err := source.FormatOf(header.Filename); err != nil {
		file.Close()
		return nil, "", err
	}

	if !async {
		src, err := source.FromReader(header.Filename, file)
		return src, header.Filename, err
	}

	spooled, err := source.Spool(file, maxSize)
	file.Close()
	if err != nil {
		return nil, "", err
	}
	src, err := source.FromReader(header.Filename, spooled)
	return src, header.Filename, err
}

// locationSource opens a server-side location named in a JSON body.
func (s *Server) locationSource(w http.ResponseWriter, r *http.Request) (core.RecordSource, string, error) {
	if s.opener == nil {
		return nil, "", core.NewValidationError("expected a multipart upload in field \"file\"")
	}
	var req struct {
		Location string `json:"location"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, "", err
	}
	if req.Location == "" {
		return nil, "", core.NewValidationError("location is required")
	}
	src, err := s.opener.Open(r.Context(), req.Location)
	return src, req.Location, err
}

// handleIngestRun returns the current progress of a run without blocking.
func (s *Server) handleIngestRun(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.GetRunProgress(chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handleIngestResult waits for a run to finish and returns its result.
// With wait=false an unfinished run answers 202 with its progress.
func (s *Server) handleIngestResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if r.URL.Query().Get("wait") == "false" {
		progress, err := s.service.GetRunProgress(runID)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if !progress.Phase.Finished() {
			writeJSON(w, http.StatusAccepted, progress)
			return
		}
	}

	result, err := s.service.GetRunResult(r.Context(), runID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleIngestCancel cancels a run. Windows already committed stay.
func (s *Server) handleIngestCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.CancelRun(runID); err != nil {
		respondError(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("ingestion run cancel requested", "run_id", runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

// handleIngestStatus reports run slot usage.
func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}

// handleIngestProgress streams run progress as Server-Sent Events.
//
// Each update is a "progress" event whose id is the number of rows
// processed; a reconnecting client sending Last-Event-ID skips updates it
// already saw. The stream ends with a "complete" event carrying the result.
func (s *Server) handleIngestProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastEventID := -1
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				result, err := s.service.GetRunResult(r.Context(), runID)
				if err != nil {
					return
				}
				data, _ := json.Marshal(result)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				rc.Flush()
				return
			}

			if progress.RowsProcessed <= lastEventID && !progress.Phase.Finished() {
				continue
			}
			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.RowsProcessed, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}
