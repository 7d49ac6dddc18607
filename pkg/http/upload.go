package http

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/thehowl/cford32"
	"github.com/thehowl/dupescan/pkg/db"
	"go.uber.org/multierr"
)

const (
	maxBodySize        = 1 << 24 // 16M
	maxMultipartMemory = 1 << 20

	maxBytesWeek = (1 << 24) * 2 // 32M (compressed)
	maxCallsWeek = 100           // max upload calls per week.
)

// upload accepts a single document — multipart file field "doc", or value
// fields "doc"/"doc_name" for form posts — archives it as tar.gz, and stores
// it content-addressed by its hash.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) error {
	// Read multipart form.
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	err := r.ParseMultipartForm(maxMultipartMemory)
	if err != nil {
		w.WriteHeader(400)
		w.Write([]byte("error: " + err.Error() + "\n"))
		w.Write(s.usageString())
		return nil
	}
	defer r.MultipartForm.RemoveAll()

	var arc []byte
	var name string
	if len(r.MultipartForm.File) > 0 {
		arc, name, err = archiveFromFormFile(r.MultipartForm)
	} else {
		arc, name, err = archiveFromFormValue(r.MultipartForm)
	}
	if err != nil {
		return err
	}

	// Buffer created and filled; let's store it.
	// Determine name of object.
	shaHash := sha256.Sum256(arc)
	// Use first 5 bytes (40 bits) to generate human readable ID.
	id := cford32.EncodeToStringLower(shaHash[:5])
	link := s.PublicURL + "/documents/" + id
	output := func() {
		w.Header().Set(ctHeader, ctPlain)
		w.Header().Set("Location", link)
		w.WriteHeader(http.StatusFound)
		w.Write([]byte(link + "\n"))
	}

	// Is this a reupload?
	has, err := s.DB.HasDocument(id)
	if err != nil {
		return err
	}
	if has {
		output()
		return nil
	}

	now := time.Now().UTC()
	weekNum := (now.YearDay() - 1) / 7
	err = s.DB.AddAmountsAndCompare(
		r.RemoteAddr,
		db.UsageStat{
			Period:   fmt.Sprintf("%d/%d", now.Year(), weekNum),
			NumBytes: uint64(len(arc)),
			NumCalls: 1,
		},
		db.UploadLimits{
			MaxBytes: maxBytesWeek,
			MaxCalls: maxCallsWeek,
		},
	)
	if err != nil {
		if errors.Is(err, db.ErrLimitsExceeded) {
			w.Header().Set(ctHeader, ctPlain)
			w.WriteHeader(http.StatusTooManyRequests)
			resetTime := time.Date(now.Year(), time.January, ((weekNum+1)*7)+1, 0, 0, 0, 0, time.UTC)
			w.Write([]byte(fmt.Sprintf(
				"limit exceeded; will reset on %s (in %s)\n",
				resetTime.Format(time.RFC3339),
				resetTime.Sub(now),
			)))
			return nil
		}
	}

	// not a reupload, save to permanent storage & db.
	err = s.Storage.Put(r.Context(), id, arc)
	if err != nil {
		return err
	}

	// save document record in database as well.
	err = s.DB.PutDocument(id, db.Document{
		Name:      name,
		Format:    documentFormat(name),
		Size:      int64(len(arc)),
		CreatedAt: time.Now(),
		Sum:       hex.EncodeToString(shaHash[:]),
	})
	if err != nil {
		// background -> attempt to delete even if request is canceled
		return multierr.Combine(
			err,
			s.Storage.Del(context.Background(), id),
		)
	}

	output()
	return nil
}

// documentFormat derives the extraction format from the uploaded filename.
// Anything that isn't a Word document is treated as plain text.
func documentFormat(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".docx") {
		return "docx"
	}
	return "txt"
}

var gzipWriterPool = sync.Pool{
	New: func() any {
		return &gzip.Writer{}
	},
}

func archiveFromFormFile(mf *multipart.Form) ([]byte, string, error) {
	docS := mf.File["doc"]
	if len(docS) != 1 {
		return nil, "", errUsage
	}
	doc := docS[0]

	r, err := doc.Open()
	if err != nil {
		return nil, "", err
	}
	defer r.Close()

	arc, err := archive(doc.Filename, doc.Size, r)
	return arc, doc.Filename, err
}

func archiveFromFormValue(mf *multipart.Form) ([]byte, string, error) {
	withDefault := func(s []string, def string) string {
		if len(s) == 0 || s[0] == "" {
			return def
		}
		return s[0]
	}
	var (
		docVal  = mf.Value["doc"]
		docName = withDefault(mf.Value["doc_name"], "doc.txt")
	)
	if len(docVal) != 1 {
		return nil, "", errUsage
	}

	arc, err := archive(docName, int64(len(docVal[0])), strings.NewReader(docVal[0]))
	return arc, docName, err
}

// archive wraps a single file in a gzipped tar, the storage format for all
// uploaded documents.
func archive(name string, size int64, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzipWriterPool.Get().(*gzip.Writer)
	gz.Reset(&buf)
	defer func() {
		gzipWriterPool.Put(gz)
	}()
	tw := tar.NewWriter(gz)

	err := tw.WriteHeader(&tar.Header{
		Name: name,
		Size: size,
		Mode: 0o600,
	})
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(tw, r); err != nil {
		return nil, err
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unarchive reads back the single file stored by archive.
func unarchive(data []byte) (name string, content []byte, err error) {
	gzrd, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, err
	}

	rd := tar.NewReader(gzrd)
	hdr, err := rd.Next()
	if err != nil {
		return "", nil, err
	}
	content, err = io.ReadAll(rd)
	if err != nil {
		return "", nil, err
	}

	if err := gzrd.Close(); err != nil {
		return "", nil, err
	}
	return hdr.Name, content, nil
}

func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")

	doc, err := s.DB.GetDocument(id)
	if err != nil {
		return err
	}
	if doc.IsZero() {
		w.WriteHeader(404)
		w.Write([]byte("not found"))
		return nil
	}

	data, err := s.Storage.Get(r.Context(), id)
	if err != nil {
		return err
	}
	name, content, err := unarchive(data)
	if err != nil {
		return err
	}

	w.Header().Set(ctHeader, ctPlain)
	w.Header().Set("Content-Disposition", "inline; filename="+strconv.Quote(name))
	w.Write(content)
	return nil
}
