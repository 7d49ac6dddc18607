// Command dupescan runs the document comparison service: upload two
// documents, get back the text fragments they share, with page/line
// provenance and exportable reports.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/thehowl/dupescan/pkg/db"
	"github.com/thehowl/dupescan/pkg/engine"
	dshttp "github.com/thehowl/dupescan/pkg/http"
	"github.com/thehowl/dupescan/pkg/storage"
	"go.etcd.io/bbolt"
)

type optsType struct {
	listenAddr     string
	publicURL      string
	dbFile         string
	s3Endpoint     string
	s3AccessKey    string
	s3AccessSecret string
	s3Bucket       string
	s3CacheSize    string

	windowN   string
	threshold string
	workers   string
}

func defaultEnv(s, def string) string {
	v, ok := os.LookupEnv(s)
	if ok {
		return v
	}
	return def
}

func stringVar(p *string, fg, defaultValue, usage string) {
	ev := strings.ReplaceAll(strings.ToUpper(fg), "-", "_")
	flag.StringVar(p, fg, defaultEnv(ev, defaultValue), usage+". env var: "+ev)
}

func main() {
	var opts optsType
	stringVar(&opts.listenAddr, "listen-addr", ":18845", "listen address for the web server")
	stringVar(&opts.publicURL, "public-url", "http://localhost:18845", "url for the server, used in links and the curl examples")
	stringVar(&opts.dbFile, "db-file", "data/db.bolt", "the file used for the database. "+
		"this will be a cache (if used together with s3) or the permanent database")
	stringVar(&opts.s3Endpoint, "s3-endpoint", "", "s3 endpoint")
	stringVar(&opts.s3AccessKey, "s3-access-key", "", "s3 access key")
	stringVar(&opts.s3AccessSecret, "s3-access-secret", "", "s3 access secret")
	stringVar(&opts.s3Bucket, "s3-bucket", "", "s3 bucket")
	stringVar(&opts.s3CacheSize, "s3-cache-size", "268435456", "local cache size in bytes when using s3")
	stringVar(&opts.windowN, "window-n", "", "default token window length for comparisons")
	stringVar(&opts.threshold, "threshold", "", "default similarity threshold for comparisons")
	stringVar(&opts.workers, "workers", "", "worker count for the match stage")
	flag.Parse()

	params, err := engineParams(opts)
	if err != nil {
		log.Fatal(err)
	}

	// Set up database.
	bdb, err := bbolt.Open(opts.dbFile, 0o600, nil)
	if err != nil {
		log.Fatal(fmt.Errorf("db open error: %w", err))
	}

	var store storage.Storage
	if opts.s3Endpoint == "" {
		store = storage.NewDBStorage(bdb, []byte("storage"))
	} else {
		minioClient, err := minio.New(opts.s3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(opts.s3AccessKey, opts.s3AccessSecret, ""),
			Secure: true,
		})
		if err != nil {
			log.Fatal(fmt.Errorf("minio init error: %w", err))
		}
		cacheSize, err := strconv.ParseUint(opts.s3CacheSize, 10, 64)
		if err != nil {
			log.Fatal(fmt.Errorf("invalid s3-cache-size: %w", err))
		}
		store, err = storage.NewCachedStorage(
			storage.NewDBStorage(bdb, []byte("storage")),
			storage.NewMinioStorage(minioClient, opts.s3Bucket),
			cacheSize,
		)
		if err != nil {
			log.Fatal(fmt.Errorf("storage init error: %w", err))
		}
	}

	srv := &dshttp.Server{
		PublicURL: opts.publicURL,
		Storage:   store,
		DB:        &db.DB{DB: bdb},
		Params:    params,
	}

	fmt.Println("listening on", opts.listenAddr)
	log.Fatal(http.ListenAndServe(opts.listenAddr, srv.Router()))
}

// engineParams turns the flag values into the server's default comparison
// parameters, leaving unset ones to the engine's own defaults.
func engineParams(opts optsType) (engine.Params, error) {
	params := engine.DefaultParams()
	var err error
	if opts.windowN != "" {
		params.WindowN, err = strconv.Atoi(opts.windowN)
		if err != nil {
			return params, fmt.Errorf("invalid window-n: %w", err)
		}
	}
	if opts.threshold != "" {
		params.SimilarityThreshold, err = strconv.ParseFloat(opts.threshold, 64)
		if err != nil {
			return params, fmt.Errorf("invalid threshold: %w", err)
		}
	}
	if opts.workers != "" {
		params.WorkerCount, err = strconv.Atoi(opts.workers)
		if err != nil {
			return params, fmt.Errorf("invalid workers: %w", err)
		}
	}
	if verr := params.Validate(); verr != nil {
		return params, verr
	}
	return params, nil
}
