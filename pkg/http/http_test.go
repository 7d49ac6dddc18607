package http

import (
	"bytes"
	cr "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thehowl/dupescan/pkg/db"
	"github.com/thehowl/dupescan/pkg/storage"
	"go.etcd.io/bbolt"
)

const browserUA = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:136.0) Gecko/20100101 Firefox/136.0"

func newServer(t *testing.T) *Server {
	t.Helper()
	bdb, err := bbolt.Open(filepath.Join(t.TempDir(), "db.bolt"), 0o644, nil)
	t.Cleanup(func() {
		bdb.Close()
	})
	require.NoError(t, err)
	db := &db.DB{
		DB: bdb,
	}
	serv := &Server{
		DB:        db,
		PublicURL: "https://dupescan",
		Storage:   storage.NewDBStorage(bdb, []byte("storage")),
		Output:    io.Discard,
	}
	return serv
}

func newRand(t *testing.T) *rand.Rand {
	var buf [32]byte
	_, err := cr.Read(buf[:])
	if err != nil {
		panic(err)
	}
	t.Logf("seed: %x", buf)
	return rand.New(rand.NewChaCha8(buf))
}

func TestIndex(t *testing.T) {
	r := newServer(t).Router()

	{
		// default, without a browser header.
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil)
		r.ServeHTTP(wri, req)
		assert.Equal(t, 200, wri.Code)
		assert.Contains(t, wri.Body.String(), "usage: curl -F")
		assert.NotContains(t, wri.Body.String(), `rel="stylesheet"`)
	}
	{
		// with a browser header.
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil)
		req.Header.Set("User-Agent", browserUA)
		r.ServeHTTP(wri, req)
		assert.Equal(t, 200, wri.Code)
		assert.Contains(t, wri.Body.String(), "<b>dupescan</b> is a simple")
		assert.Contains(t, wri.Body.String(), `rel="stylesheet"`)
	}
}

// uploadDoc uploads content under the given filename and returns the
// document id.
func uploadDoc(t *testing.T, r chi.Router, filename, content string) string {
	t.Helper()
	rd, header := multipartFields("doc@"+filename, content)
	wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/documents", rd)
	req.Header.Set("Content-Type", header)
	r.ServeHTTP(wri, req)
	require.Equal(t, http.StatusFound, wri.Code, wri.Body.String())
	loc := wri.Header().Get("Location")
	require.NotEmpty(t, loc)
	return loc[strings.LastIndexByte(loc, '/')+1:]
}

func TestUpload(t *testing.T) {
	r := newServer(t).Router()

	t.Run("Ok", func(t *testing.T) {
		// Upload a document and check that the response redirects to it.
		t.Parallel()

		id := uploadDoc(t, r, "hello.txt", "今天天气很好\n")
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/documents/"+id, nil)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusOK, wri.Code, wri.Body.String())
		assert.Contains(t, wri.Body.String(), "今天天气很好")
		assert.Contains(t, wri.Header().Get("Content-Disposition"), "hello.txt")
	})
	t.Run("Deduplicate", func(t *testing.T) {
		// Uploading the same document twice yields the same id.
		t.Parallel()

		rnd := newRand(t)
		bf := make([]byte, 128)
		randBytes(rnd, bf)
		id1 := uploadDoc(t, r, "dup.txt", string(bf))
		id2 := uploadDoc(t, r, "dup.txt", string(bf))
		assert.Equal(t, id1, id2)
	})
	t.Run("FormFields", func(t *testing.T) {
		// Upload using multipart value fields rather than a file; this is
		// what the homepage form falls back to.
		t.Parallel()

		rd, header := multipartFields(
			"doc_name", "pasted.txt",
			"doc", "pasted content\n",
		)
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/documents", rd)
		req.Header.Set("Content-Type", header)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusFound, wri.Code, wri.Body.String())
	})
	t.Run("NoContentType", func(t *testing.T) {
		// Failure when the multipart form is malformed (missing header).
		t.Parallel()

		rd, _ := multipartFields("doc@hello.txt", "a\nb\n")
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/documents", rd)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusBadRequest, wri.Code)
		assert.Contains(t, wri.Body.String(), "multipart/form-data")
	})
	t.Run("BadFields", func(t *testing.T) {
		// Wrong field names are rejected with the usage string.
		t.Parallel()

		rd, header := multipartFields(
			"purple@hello.txt", "a\nb\n",
			"orange@hello.txt", "c\nd\n",
		)
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/documents", rd)
		req.Header.Set("Content-Type", header)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusBadRequest, wri.Code)
		assert.Contains(t, wri.Body.String(), "usage: curl -F")
	})
	t.Run("SpamFiles", func(t *testing.T) {
		// Test rate limiter, uploading >maxCallsWeek junk documents.
		t.Parallel()

		rnd := newRand(t)
		wg := sync.WaitGroup{}
		for i := 0; i < maxCallsWeek; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var buf [256]byte
				randBytes(rnd, buf[:])
				rd, header := multipartFields("doc@junk.txt", string(buf[:]))
				wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/documents", rd)
				req.RemoteAddr = "171.81.83.116"
				req.Header.Set("Content-Type", header)
				r.ServeHTTP(wri, req)
				loc := wri.Header().Get("Location")
				assert.Equal(t, http.StatusFound, wri.Code, wri.Body.String())
				require.NotEmpty(t, loc)
			}()
		}

		// after, try submitting a document which should fail.
		wg.Wait()
		var buf [256]byte
		randBytes(rnd, buf[:])
		rd, header := multipartFields("doc@junk.txt", string(buf[:]))
		wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/documents", rd)
		req.RemoteAddr = "171.81.83.116"
		req.Header.Set("Content-Type", header)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusTooManyRequests, wri.Code, wri.Body.String())
		loc := wri.Header().Get("Location")
		require.Empty(t, loc)
		mc := regexp.MustCompile(`on ([^ ]+)`).FindStringSubmatch(wri.Body.String())
		pt, err := time.Parse(time.RFC3339, mc[1])
		require.NoError(t, err)
		rem := (pt.YearDay() - 1) % 7
		assert.Equal(t, 0, rem, "yearday remainder should be 0")
	})
}

type statusResponse struct {
	ID       string  `json:"id"`
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error"`
}

// startJob posts a comparison between two document ids and returns the job
// id.
func startJob(t *testing.T, r chi.Router, idA, idB string, extra ...string) string {
	t.Helper()
	form := append([]string{"a", idA, "b", idB}, extra...)
	rd, header := multipartFields(form...)
	wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/compare", rd)
	req.Header.Set("Content-Type", header)
	r.ServeHTTP(wri, req)
	require.Equal(t, http.StatusFound, wri.Code, wri.Body.String())
	loc := wri.Header().Get("Location")
	require.NotEmpty(t, loc)
	return loc[strings.LastIndexByte(loc, '/')+1:]
}

// waitDone polls the job status until it leaves the queued/running states.
func waitDone(t *testing.T, r chi.Router, jobID string) statusResponse {
	t.Helper()
	var st statusResponse
	require.Eventually(t, func() bool {
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/compare/"+jobID, nil)
		r.ServeHTTP(wri, req)
		if wri.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(wri.Body.Bytes(), &st); err != nil {
			return false
		}
		return st.State != "queued" && st.State != "running"
	}, 10*time.Second, 10*time.Millisecond)
	return st
}

func TestCompare(t *testing.T) {
	r := newServer(t).Router()

	idA := uploadDoc(t, r, "a.txt", "我今天,吃了一个苹果。\n")
	idB := uploadDoc(t, r, "b.txt", "他昨天吃了一个西瓜\n")

	jobID := startJob(t, r, idA, idB, "window_n", "5", "threshold", "0.6")
	st := waitDone(t, r, jobID)
	require.Equal(t, "done", st.State, st.Error)
	assert.Equal(t, 1.0, st.Progress)

	t.Run("TextReport", func(t *testing.T) {
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/compare/"+jobID+"/report", nil)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusOK, wri.Code)
		assert.Contains(t, wri.Body.String(), "天吃了一个")
		assert.Contains(t, wri.Body.String(), "score 1.000")
	})
	t.Run("JSONReport", func(t *testing.T) {
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/compare/"+jobID+"/report?format=json", nil)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusOK, wri.Code)
		var summary struct {
			TotalFragmentsA int `json:"total_fragments_a"`
			Matches         []struct {
				TextA string  `json:"text_a"`
				Score float64 `json:"score"`
			} `json:"matches"`
		}
		require.NoError(t, json.Unmarshal(wri.Body.Bytes(), &summary))
		assert.Equal(t, 5, summary.TotalFragmentsA)
		require.NotEmpty(t, summary.Matches)
		assert.Equal(t, "天吃了一个", summary.Matches[0].TextA)
		assert.Equal(t, 1.0, summary.Matches[0].Score)
	})
	t.Run("CSVReport", func(t *testing.T) {
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/compare/"+jobID+"/report?format=csv", nil)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusOK, wri.Code)
		assert.Contains(t, wri.Body.String(), "rank,score")
	})
	t.Run("HTMLReportForBrowsers", func(t *testing.T) {
		wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/compare/"+jobID, nil)
		req.Header.Set("User-Agent", browserUA)
		r.ServeHTTP(wri, req)
		assert.Equal(t, http.StatusOK, wri.Code)
		assert.Contains(t, wri.Body.String(), "comparison "+jobID)
		assert.Contains(t, wri.Body.String(), "天吃了一个")
	})
	t.Run("Reuse", func(t *testing.T) {
		// Re-submitting the same comparison yields the same job id.
		assert.Equal(t, jobID, startJob(t, r, idA, idB, "window_n", "5", "threshold", "0.6"))
	})
}

func TestCompareUnknownDocument(t *testing.T) {
	r := newServer(t).Router()

	rd, header := multipartFields("a", "nonexist1", "b", "nonexist2")
	wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/compare", rd)
	req.Header.Set("Content-Type", header)
	r.ServeHTTP(wri, req)
	assert.Equal(t, http.StatusNotFound, wri.Code)
	assert.Contains(t, wri.Body.String(), "unknown document")
}

func TestCompareBadParams(t *testing.T) {
	r := newServer(t).Router()
	idA := uploadDoc(t, r, "a.txt", "hello world one two three\n")
	idB := uploadDoc(t, r, "b.txt", "hello world four five six\n")

	rd, header := multipartFields("a", idA, "b", idB, "window_n", "1")
	wri, req := httptest.NewRecorder(), httptest.NewRequest("POST", "/compare", rd)
	req.Header.Set("Content-Type", header)
	r.ServeHTTP(wri, req)
	assert.Equal(t, http.StatusBadRequest, wri.Code)
	assert.Contains(t, wri.Body.String(), "window_n")
}

func TestCompareStatusNotFound(t *testing.T) {
	r := newServer(t).Router()
	wri, req := httptest.NewRecorder(), httptest.NewRequest("GET", "/compare/missing1", nil)
	r.ServeHTTP(wri, req)
	assert.Equal(t, http.StatusNotFound, wri.Code)
}

func randBytes(r *rand.Rand, buf []byte) {
	for i := 0; i < len(buf); i += 8 {
		var dstLe [8]byte
		binary.BigEndian.PutUint64(dstLe[:], r.Uint64())
		var dst [16]byte
		hex.Encode(dst[:], dstLe[:])
		copy(buf[i:], dst[:])
	}
}

func multipartFields(fieldsContents ...string) (*bytes.Buffer, string) {
	if len(fieldsContents)%2 != 0 {
		panic("multipartFields expect even number of arguments")
	}
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	for i := 0; i < len(fieldsContents); i += 2 {
		fieldName, cont := fieldsContents[i], fieldsContents[i+1]
		pos := strings.IndexByte(fieldName, '@')
		if pos >= 0 {
			fieldName, fileName := fieldName[:pos], fieldName[pos+1:]
			w, err := w.CreateFormFile(fieldName, fileName)
			if err != nil {
				panic(err)
			}
			if _, err := w.Write([]byte(cont)); err != nil {
				panic(err)
			}
		} else {
			w.WriteField(fieldName, cont)
		}
	}
	w.Close()

	return buf, w.FormDataContentType()
}
