package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/immunoload/internal/core"
)

// ============================================================================
// Projects
// ============================================================================

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	projects, err := s.service.ListProjects(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse("projects", projects, p))
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExternalID *string `json:"external_id"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	}
	project, err := s.service.CreateProject(r.Context(), req.ExternalID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	project, err := s.service.GetProject(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleProjectSamples(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := s.service.GetProject(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	s.listSamples(w, r, func(f *core.SampleFilter) { f.ProjectID = id })
}

// ============================================================================
// Subjects
// ============================================================================

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	p, err := parseListParams(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	subjects, err := s.service.ListSubjects(r.Context(), p)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse("subjects", subjects, p))
}

// handleCreateSubject creates one subject. A subject identical in
// (condition, age, sex) to an existing one is a 409 carrying the existing
// subject, unless allow_duplicates=true.
func (s *Server) handleCreateSubject(w http.ResponseWriter, r *http.Request) {
	allow, err := boolParam(r, "allow_duplicates")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var in core.SubjectInput
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &in); err != nil {
			respondError(w, r, err)
			return
		}
	}
	created, err := s.service.CreateSubject(r.Context(), in, allow)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateSubjectsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subjects        []core.SubjectInput `json:"subjects"`
		AllowDuplicates bool                `json:"allow_duplicates"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	subjects, err := s.service.CreateSubjectsBatch(r.Context(), req.Subjects, req.AllowDuplicates)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"subjects": subjects,
		"created":  len(subjects),
	})
}

func (s *Server) handleCheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var in core.SubjectInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	check, err := s.service.CheckDuplicate(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleGetSubject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	subject, err := s.service.GetSubject(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subject)
}

func (s *Server) handleSubjectSamples(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if _, err := s.service.GetSubject(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	s.listSamples(w, r, func(f *core.SampleFilter) { f.SubjectID = id })
}

// ============================================================================
// Samples
// ============================================================================

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	s.listSamples(w, r, nil)
}

// listSamples lists samples filtered by query parameters project_id,
// subject_id, treatment, sample_type and response. scope pins filters
// taken from the route.
func (s *Server) listSamples(w http.ResponseWriter, r *http.Request, scope func(*core.SampleFilter)) {
	f, err := parseSampleFilter(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if scope != nil {
		scope(&f)
	}
	samples, err := s.service.ListSamples(r.Context(), f)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse("samples", samples, f.ListParams))
}

func parseSampleFilter(r *http.Request) (core.SampleFilter, error) {
	var f core.SampleFilter
	var err error
	if f.ListParams, err = parseListParams(r); err != nil {
		return f, err
	}

	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"project_id", &f.ProjectID},
		{"subject_id", &f.SubjectID},
	} {
		if raw := q.Get(p.name); raw != "" {
			if *p.dst, err = strconv.ParseInt(raw, 10, 64); err != nil {
				return f, core.NewValidationError(fmt.Sprintf("invalid %s %q", p.name, raw))
			}
		}
	}
	if raw := q.Get("treatment"); raw != "" {
		if f.Treatment, err = core.MapTreatment(raw); err != nil || f.Treatment == nil {
			return f, core.NewValidationError(fmt.Sprintf("invalid treatment %q", raw))
		}
	}
	if raw := q.Get("sample_type"); raw != "" {
		if f.SampleType, err = core.MapSampleType(raw); err != nil || f.SampleType == nil {
			return f, core.NewValidationError(fmt.Sprintf("invalid sample_type %q", raw))
		}
	}
	if raw := q.Get("response"); raw != "" {
		if f.Response = core.ParseResponse(raw); f.Response == nil {
			return f, core.NewValidationError(fmt.Sprintf("invalid response %q", raw))
		}
	}
	return f, nil
}

func (s *Server) handleCreateSample(w http.ResponseWriter, r *http.Request) {
	var in core.SampleInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, r, err)
		return
	}
	sample, err := s.service.CreateSample(r.Context(), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

func (s *Server) handleCreateSamplesBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Samples []core.SampleInput `json:"samples"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	samples, err := s.service.CreateSamplesBatch(r.Context(), req.Samples)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"samples": samples,
		"created": len(samples),
	})
}

func (s *Server) handleGetSample(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	sample, err := s.service.GetSample(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}
