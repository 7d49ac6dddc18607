package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/thehowl/cford32"
	"github.com/thehowl/dupescan/pkg/db"
	"github.com/thehowl/dupescan/pkg/engine"
	"github.com/thehowl/dupescan/pkg/ingest"
	"github.com/thehowl/dupescan/pkg/report"
)

// Comparison job states, persisted in db.Comparison.State.
const (
	stateQueued    = "queued"
	stateRunning   = "running"
	stateDone      = "done"
	stateFailed    = "failed"
	stateCancelled = "cancelled"
)

// resultKey is the storage id holding a finished comparison's report summary.
func resultKey(id string) string { return "cmp/" + id }

// startCompare launches a comparison between two previously uploaded
// documents. The job id is derived from the document ids and the effective
// parameters, so re-submitting the same comparison reuses the finished job.
func (s *Server) startCompare(w http.ResponseWriter, r *http.Request) error {
	idA, idB := r.FormValue("a"), r.FormValue("b")
	if idA == "" || idB == "" {
		return errUsage
	}

	docA, err := s.DB.GetDocument(idA)
	if err != nil {
		return err
	}
	docB, err := s.DB.GetDocument(idB)
	if err != nil {
		return err
	}
	if docA.IsZero() || docB.IsZero() {
		w.WriteHeader(404)
		w.Write([]byte("unknown document id\n"))
		return nil
	}

	params := s.Params.WithDefaults()
	if v := r.FormValue("window_n"); v != "" {
		params.WindowN, err = strconv.Atoi(v)
		if err != nil {
			return errUsage
		}
	}
	if v := r.FormValue("threshold"); v != "" {
		params.SimilarityThreshold, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return errUsage
		}
	}
	if err := params.Validate(); err != nil {
		w.WriteHeader(400)
		w.Write([]byte("error: " + err.Error() + "\n"))
		return nil
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%g", idA, idB, params.WindowN, params.SimilarityThreshold)))
	id := cford32.EncodeToStringLower(sum[:5])
	link := s.PublicURL + "/compare/" + id
	output := func() {
		w.Header().Set(ctHeader, ctPlain)
		w.Header().Set("Location", link)
		w.WriteHeader(http.StatusFound)
		w.Write([]byte(link + "\n"))
	}

	// Already queued, running or finished?
	existing, err := s.DB.GetComparison(id)
	if err != nil {
		return err
	}
	if !existing.IsZero() && existing.State != stateFailed && existing.State != stateCancelled {
		output()
		return nil
	}

	err = s.DB.PutComparison(id, db.Comparison{
		DocA:      idA,
		DocB:      idB,
		State:     stateQueued,
		WindowN:   params.WindowN,
		Threshold: params.SimilarityThreshold,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return err
	}

	cancel := &engine.CancelToken{}
	s.cancels.Store(id, cancel)
	go s.runComparison(id, idA, idB, docA, docB, params, cancel)

	output()
	return nil
}

// runComparison is the job body, run on its own goroutine: extract both
// documents, drive the engine, persist the report summary, and keep the
// comparison record's state and progress current for pollers.
func (s *Server) runComparison(id, idA, idB string, docA, docB db.Document, params engine.Params, cancel *engine.CancelToken) {
	ctx := context.Background()
	defer s.cancels.Delete(id)

	update := func(mut func(*db.Comparison)) {
		c, err := s.DB.GetComparison(id)
		if err != nil {
			return
		}
		mut(&c)
		if err := s.DB.PutComparison(id, c); err != nil {
			fmt.Fprintf(s.Output, "comparison %s: updating record: %v\n", id, err)
		}
	}
	fail := func(err error) {
		update(func(c *db.Comparison) {
			c.State = stateFailed
			c.Error = err.Error()
		})
	}

	update(func(c *db.Comparison) { c.State = stateRunning })

	streamA, err := s.lineStream(ctx, idA, docA)
	if err != nil {
		fail(err)
		return
	}
	streamB, err := s.lineStream(ctx, idB, docB)
	if err != nil {
		fail(err)
		return
	}

	progress := func(f float64, done, total uint64) {
		update(func(c *db.Comparison) { c.Progress = f })
	}

	res, err := engine.Compare(ctx, streamA, streamB, params, progress, cancel)
	switch {
	case errors.Is(err, engine.ErrCancelled):
		update(func(c *db.Comparison) { c.State = stateCancelled })
		return
	case err != nil:
		fail(err)
		return
	}

	var buf bytes.Buffer
	if err := report.JSON(&buf, report.Build(&res)); err != nil {
		fail(err)
		return
	}
	if err := s.Storage.Put(ctx, resultKey(id), buf.Bytes()); err != nil {
		fail(err)
		return
	}
	update(func(c *db.Comparison) {
		c.State = stateDone
		c.Progress = 1
	})
}

// lineStream opens a stored document archive and wraps it in the extractor
// matching its format.
func (s *Server) lineStream(ctx context.Context, id string, doc db.Document) (engine.LineStream, error) {
	data, err := s.Storage.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	_, content, err := unarchive(data)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", id, err)
	}
	if doc.Format == "docx" {
		return ingest.DOCX(bytes.NewReader(content), int64(len(content)))
	}
	return ingest.Plain(bytes.NewReader(content))
}

// compareStatus serves job progress as JSON; once the job is done, browsers
// get the HTML report instead.
func (s *Server) compareStatus(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	c, err := s.DB.GetComparison(id)
	if err != nil {
		return err
	}
	if c.IsZero() {
		w.WriteHeader(404)
		w.Write([]byte("not found"))
		return nil
	}

	if c.State == stateDone && isBrowser(r) {
		summary, err := s.loadSummary(r.Context(), id)
		if err != nil {
			return err
		}
		return report.HTML(w, id, summary)
	}

	w.Header().Set(ctHeader, ctJSON)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		ID string `json:"id"`
		db.Comparison
	}{ID: id, Comparison: c})
}

// serveReport renders a finished comparison in the requested format.
func (s *Server) serveReport(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	c, err := s.DB.GetComparison(id)
	if err != nil {
		return err
	}
	if c.IsZero() {
		w.WriteHeader(404)
		w.Write([]byte("not found"))
		return nil
	}
	if c.State != stateDone {
		w.WriteHeader(409)
		w.Write([]byte("comparison is " + c.State + "\n"))
		return nil
	}

	summary, err := s.loadSummary(r.Context(), id)
	if err != nil {
		return err
	}

	switch r.URL.Query().Get("format") {
	case "json":
		w.Header().Set(ctHeader, ctJSON)
		return report.JSON(w, summary)
	case "csv":
		w.Header().Set(ctHeader, "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(id+".csv"))
		return report.CSV(w, summary)
	case "html":
		return report.HTML(w, id, summary)
	default:
		w.Header().Set(ctHeader, ctPlain)
		return report.Text(w, summary)
	}
}

func (s *Server) loadSummary(ctx context.Context, id string) (report.Summary, error) {
	data, err := s.Storage.Get(ctx, resultKey(id))
	if err != nil {
		return report.Summary{}, err
	}
	var summary report.Summary
	err = json.Unmarshal(data, &summary)
	return summary, err
}

// cancelCompare requests cancellation of a running job. The job flips to
// cancelled once its workers observe the token.
func (s *Server) cancelCompare(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	tok, ok := s.cancels.Load(id)
	if !ok {
		w.WriteHeader(404)
		w.Write([]byte("no running comparison\n"))
		return nil
	}
	tok.(*engine.CancelToken).Cancel()
	w.Header().Set(ctHeader, ctPlain)
	w.Write([]byte("cancelling\n"))
	return nil
}
