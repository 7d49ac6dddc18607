// Package http exposes the comparison service over HTTP: document upload,
// comparison-job dispatch, progress polling and report serving.
package http

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/thehowl/dupescan/pkg/db"
	"github.com/thehowl/dupescan/pkg/engine"
	"github.com/thehowl/dupescan/pkg/storage"
	"github.com/thehowl/dupescan/templates"
)

type Server struct {
	PublicURL string
	Storage   storage.Storage
	DB        *db.DB
	Output    io.Writer
	// Params holds the default engine parameters; per-request form values
	// may override window_n and threshold within their documented bounds.
	Params engine.Params

	// cancels tracks the cancel tokens of in-flight comparisons by job id.
	cancels sync.Map
}

func (s *Server) Router() chi.Router {
	if s.Output == nil {
		s.Output = os.Stdout
	}
	rt := chi.NewRouter()
	rt.Use(
		middleware.RealIP,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger: log.New(s.Output, "", log.LstdFlags),
		}),
		recoverer,
		middleware.Timeout(time.Second*60),
	)
	rt.Get("/", s.index)
	fs := http.FileServer(http.Dir("."))
	rt.Get("/static/*", fs.ServeHTTP)
	rt.Post("/documents", s.e(s.upload))
	rt.Get("/documents/{id}", s.e(s.serveDocument))
	rt.Post("/compare", s.e(s.startCompare))
	rt.Get("/compare/{id}", s.e(s.compareStatus))
	rt.Get("/compare/{id}/report", s.e(s.serveReport))
	rt.Post("/compare/{id}/cancel", s.e(s.cancelCompare))
	return rt
}

const (
	ctHeader = "Content-Type"
	ctPlain  = "text/plain; charset=utf-8"
	ctJSON   = "application/json; charset=utf-8"
)

var (
	reBrowser = regexp.MustCompile("(?i)(?:chrome|firefox|safari|gecko)/")
	errUsage  = errors.New("")
)

func (s *Server) usageString() []byte {
	return []byte("usage: curl -F doc=@thesis.docx " + s.PublicURL + "/documents\n" +
		"       curl -F a=<id> -F b=<id> " + s.PublicURL + "/compare\n")
}

func isBrowser(r *http.Request) bool {
	ua := r.UserAgent()
	return reBrowser.MatchString(ua)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if !isBrowser(r) {
		w.Header().Set(ctHeader, ctPlain)
		w.Write(s.usageString())
		return
	}
	templates.Templates.ExecuteTemplate(
		w,
		"index.tmpl",
		struct{ PublicURL string }{s.PublicURL},
	)
}

func (s *Server) e(fn func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err != nil {
			if errors.Is(err, errUsage) {
				w.WriteHeader(400)
				w.Write(s.usageString())
				return
			}
			log.Printf("request error: %v", err)
			// TODO: support error reporting (glitchtip)
			w.WriteHeader(500)
			w.Write([]byte("500 internal server error\n"))
		}
	}
}
