package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/logger"
	"github.com/spigell/fiscal-sentinel/internal/price"
	"github.com/spigell/fiscal-sentinel/internal/reports"
	"github.com/spigell/fiscal-sentinel/internal/tabular"
	"github.com/spigell/fiscal-sentinel/internal/tender"
)

const reportIDHeader = "X-Report-ID"

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

type moduleInfo struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

type indexResponse struct {
	Service string       `json:"service"`
	Version string       `json:"version"`
	Status  string       `json:"status"`
	Modules []moduleInfo `json:"modules"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Service: "fiscal-sentinel",
		Version: s.deps.Version,
		Status:  "ok",
		Modules: []moduleInfo{
			{Name: integrity.TenderWatch, Endpoint: "/api/tender", Description: "Bid-rigging detection by tender text similarity.", Enabled: s.deps.Tender != nil},
			{Name: integrity.PriceGuard, Endpoint: "/api/price", Description: "Invoice over-pricing against market reference prices.", Enabled: s.deps.Price != nil},
			{Name: integrity.GhostHunter, Endpoint: "/api/ghost", Description: "Ghost-employee clusters sharing contact or bank details.", Enabled: s.deps.Ghost != nil},
			{Name: integrity.WelfareShield, Endpoint: "/api/welfare", Description: "Pension payments to beneficiaries in the death registry.", Enabled: s.deps.Welfare != nil},
		},
	})
}

func (s *Server) handleTender(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tender == nil {
		s.unavailable(w, integrity.TenderWatch)
		return
	}
	if err := s.parseForm(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	docs := make([]tender.Document, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		docs = append(docs, tender.Document{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Data: data})
	}

	res, err := s.deps.Tender.Analyze(r.Context(), docs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, res.Analyzer, res.Status, res.IntegrityScore, len(res.FlaggedPairs), "upload", res)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Price == nil {
		s.unavailable(w, integrity.PriceGuard)
		return
	}
	if err := s.parseForm(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		res *price.Result
		err error
	)
	if fh := firstFile(r, "file"); fh != nil {
		data, rerr := readPart(fh)
		if rerr != nil {
			s.writeError(w, r, rerr)
			return
		}
		res, err = s.deps.Price.AnalyzeImage(r.Context(), data, fh.Header.Get("Content-Type"))
	} else {
		res, err = s.deps.Price.AnalyzeText(r.Context(), r.FormValue("text"))
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, res.Analyzer, res.Status, res.IntegrityScore, len(res.FlaggedItems), res.Source, res)
}

func (s *Server) handleGhost(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ghost == nil {
		s.unavailable(w, integrity.GhostHunter)
		return
	}
	if err := s.parseForm(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := openFile(r, "file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	res, err := s.deps.Ghost.AnalyzeCSV(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, res.Analyzer, res.Status, res.IntegrityScore, len(res.RiskyClusters), "upload", res)
}

func (s *Server) handleWelfare(w http.ResponseWriter, r *http.Request) {
	if s.deps.Welfare == nil {
		s.unavailable(w, integrity.WelfareShield)
		return
	}
	if err := s.parseForm(w, r); err != nil {
		s.writeError(w, r, err)
		return
	}

	pension, err := openFile(r, "pension_file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer pension.Close()

	deaths, err := openFile(r, "death_file")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer deaths.Close()

	res, err := s.deps.Welfare.AnalyzeCSV(r.Context(), pension, deaths)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.finish(w, r, res.Analyzer, res.Status, res.IntegrityScore, res.DeceasedMatches, "upload", res)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "report storage is disabled"})
		return
	}

	limit := defaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = min(n, maxReportLimit)
	}

	list, err := s.deps.Reports.List(r.Context(), strings.TrimSpace(r.URL.Query().Get("analyzer")), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "report storage is disabled"})
		return
	}

	report, err := s.deps.Reports.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	scores := make(map[string]float64)
	if s.deps.Reports != nil {
		latest, err := s.deps.Reports.Latest(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for name, report := range latest {
			scores[name] = report.IntegrityScore
		}
	} else {
		s.mu.RLock()
		for name, score := range s.latest {
			scores[name] = score
		}
		s.mu.RUnlock()
	}

	writeJSON(w, http.StatusOK, integrity.Combine(s.deps.Integrity, scores))
}

// finish records the scan and writes the analyzer result.
func (s *Server) finish(w http.ResponseWriter, r *http.Request, analyzer, status string, score float64, flagged int, source string, payload any) {
	s.metrics.observeScan(analyzer, status, score, flagged)

	s.mu.Lock()
	s.latest[analyzer] = score
	s.mu.Unlock()

	log := logger.ForAnalyzer(s.logger, analyzer, requestID(r.Context()))
	if s.deps.Reports != nil {
		report, err := s.deps.Reports.Save(r.Context(), analyzer, status, score, source, payload)
		if err != nil {
			log.Warn("report not saved", zap.Error(err))
		} else {
			w.Header().Set(reportIDHeader, report.ID)
		}
	}

	log.Info("scan completed", zap.String("status", status), zap.Float64("integrity_score", score), zap.Int("flagged", flagged))
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	if r.ContentLength > s.cfg.MaxUploadBytes {
		return &http.MaxBytesError{Limit: s.cfg.MaxUploadBytes}
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	err := r.ParseMultipartForm(s.cfg.MaxUploadBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		// plain forms can still carry invoice text
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) unavailable(w http.ResponseWriter, analyzer string) {
	writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: analyzer + " is disabled"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String(logger.FieldRequestID, requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, tender.ErrNotEnoughDocuments),
		errors.Is(err, tabular.ErrMissingColumns),
		errors.Is(err, tabular.ErrMalformed),
		errors.Is(err, price.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, tender.ErrReaderUnavailable),
		errors.Is(err, price.ErrOCRUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, reports.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func firstFile(r *http.Request, field string) *multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil
	}
	return files[0]
}

func openFile(r *http.Request, field string) (multipart.File, error) {
	fh := firstFile(r, field)
	if fh == nil {
		return nil, fmt.Errorf("%w: missing file field %q", errBadRequest, field)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", field, err)
	}
	return f, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", fh.Filename, err)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
