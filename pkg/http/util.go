package http

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strings"
)

// recoverer is a drop-in replacement for chi's middleware.Recoverer that logs
// a trimmed stacktrace instead of the full dump.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic handling %s %s: %v\n%s", r.Method, r.URL.Path, rec, smallStacktrace())
				w.WriteHeader(500)
				w.Write([]byte("500 internal server error\n"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func smallStacktrace() string {
	const unicodeEllipsis = "…"

	var buf bytes.Buffer
	pc := make([]uintptr, 100)
	pc = pc[:runtime.Callers(3, pc)]
	frames := runtime.CallersFrames(pc)
	for {
		f, more := frames.Next()

		if idx := strings.LastIndexByte(f.Function, '/'); idx >= 0 {
			f.Function = f.Function[idx+1:]
		}

		// trim full path to at most 30 characters
		fullPath := fmt.Sprintf("%s:%-4d", f.File, f.Line)
		if len(fullPath) > 30 {
			fullPath = unicodeEllipsis + fullPath[len(fullPath)-29:]
		}

		fmt.Fprintf(&buf, "%30s %s\n", fullPath, f.Function)

		if !more {
			return buf.String()
		}
	}
}
