// Package fileproxy implements the static-content HTTP proxy (§4.H):
// filesystem resolution with traversal guarding, content-type
// derivation, on-the-fly gzip compression and directory index
// generation.
package fileproxy

import (
	"compress/gzip"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/veloxgate/veloxgate/internal/logger"
	"github.com/veloxgate/veloxgate/pkg/format"
	"github.com/veloxgate/veloxgate/pkg/pool"
)

// DefaultCompressChunkBytes is the streaming gzip writer's flush
// granularity, matching §4.H's "chunked at default_compress_chunk_bytes".
const DefaultCompressChunkBytes = 32 * 1024

// contentTypes is the extension table from §6. Unknown extensions fall
// back to application/octet-stream.
var contentTypes = map[string]string{
	".json": "application/json",
	".xml":  "application/xml",
	".iso":  "application/octet-stream",
	".exe":  "application/octet-stream",
	".bin":  "application/octet-stream",
	".htm":  "text/html",
	".html": "text/html",
	".txt":  "text/plain",
	".log":  "text/plain",
	".ini":  "text/plain",
	".cfg":  "text/plain",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".css":  "text/css",
	".js":   "application/javascript",
}

// ContentType derives the Content-Type header value from a file
// extension, per §6's table.
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Config configures one file-proxy route.
type Config struct {
	Root             string
	IndexFiles       []string
	DirectoryListing bool
	CacheControl     string
}

// FileProxy serves one route's filesystem root. The zero value is not
// usable; construct with New.
type FileProxy struct {
	root             string
	indexFiles       []string
	directoryListing bool
	cacheControl     string
	log              *logger.StyledLogger

	gzipPool *pool.Pool[*gzip.Writer]
}

// New resolves cfg.Root to an absolute path once at construction so every
// request's traversal check compares against a stable prefix.
func New(cfg Config, log *logger.StyledLogger) (*FileProxy, error) {
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("fileproxy: resolving root %q: %w", cfg.Root, err)
	}

	indexFiles := cfg.IndexFiles
	if len(indexFiles) == 0 {
		indexFiles = []string{"index.html"}
	}

	return &FileProxy{
		root:             abs,
		indexFiles:       indexFiles,
		directoryListing: cfg.DirectoryListing,
		cacheControl:     cfg.CacheControl,
		log:              log,
		gzipPool: pool.NewLitePool(func() *gzip.Writer {
			return gzip.NewWriter(io.Discard)
		}),
	}, nil
}

// ServeHTTP implements the dispatcher's file-proxy branch: resolve,
// guard against traversal, serve a directory index or a compressed/raw
// file body.
func (f *FileProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestPath := r.URL.Path

	localPath, ok := f.resolve(requestPath)
	if !ok {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if info.IsDir() {
		f.serveDirectory(w, r, localPath, requestPath)
		return
	}

	f.serveFile(w, r, localPath, info)
}

// resolve joins the request path onto the configured root, resolves any
// symlinks in it and rejects anything that would escape the root either
// before or after that resolution — a symlink inside the root pointing
// outside it is exactly as much of an escape as a literal "..".
func (f *FileProxy) resolve(requestPath string) (string, bool) {
	cleaned := path.Clean("/" + requestPath)
	joined := filepath.Join(f.root, filepath.FromSlash(cleaned))

	if !withinRoot(f.root, joined) {
		return "", false
	}

	resolved, err := filepath.EvalSymlinks(joined)
	switch {
	case err == nil:
		joined = resolved
	case os.IsNotExist(err):
		// Nothing to resolve yet; os.Stat downstream will 404.
	default:
		return "", false
	}

	if !withinRoot(f.root, joined) {
		return "", false
	}
	return joined, true
}

// withinRoot reports whether candidate is root or a descendant of it.
func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (f *FileProxy) serveDirectory(w http.ResponseWriter, r *http.Request, localPath, requestPath string) {
	for _, name := range f.indexFiles {
		candidate := filepath.Join(localPath, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			f.serveFile(w, r, candidate, info)
			return
		}
	}

	if !f.directoryListing {
		http.NotFound(w, r)
		return
	}

	entries, err := os.ReadDir(localPath)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><title>Index of %s</title></head><body>\n", html.EscapeString(requestPath))
	fmt.Fprintf(w, "<h1>Index of %s</h1>\n<ul>\n", html.EscapeString(requestPath))

	if requestPath != "/" {
		fmt.Fprintf(w, "<li><a href=\"../\">..</a></li>\n")
	}

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		name := entry.Name()
		href := name
		size := "-"
		if entry.IsDir() {
			href += "/"
		} else {
			size = format.Bytes(uint64(info.Size()))
		}
		fmt.Fprintf(w, "<li><a href=\"%s\">%s</a> %s %s</li>\n",
			html.EscapeString(href),
			html.EscapeString(name),
			info.ModTime().Local().Format("2006-01-02 15:04:05"),
			size)
	}

	fmt.Fprint(w, "</ul></body></html>\n")
}

func (f *FileProxy) serveFile(w http.ResponseWriter, r *http.Request, localPath string, info os.FileInfo) {
	file, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	header := w.Header()
	header.Set("Content-Type", ContentType(localPath))
	header.Set("Connection", "close")
	if f.cacheControl != "" {
		header.Set("Cache-Control", f.cacheControl)
	}

	if acceptsGzip(r.Header.Get("Accept-Encoding")) {
		f.serveCompressed(w, file, info)
		return
	}

	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	// An I/O error here happens after headers are already on the wire;
	// §4.H says to terminate silently rather than try to report it.
	_, _ = io.Copy(w, file)
}

// serveCompressed streams the file through gzip in
// DefaultCompressChunkBytes chunks, flushing each one so the client sees
// a progressive transfer rather than one large buffered write.
func (f *FileProxy) serveCompressed(w http.ResponseWriter, file *os.File, info os.FileInfo) {
	header := w.Header()
	header.Set("Content-Encoding", "gzip")
	header.Del("Content-Length")
	w.WriteHeader(http.StatusOK)

	gz := f.gzipPool.Get()
	gz.Reset(w)
	defer f.gzipPool.Put(gz)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, DefaultCompressChunkBytes)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if _, werr := gz.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				_ = gz.Flush()
				flusher.Flush()
			}
		}
		if err == io.EOF {
			_ = gz.Close()
			return
		}
		if err != nil {
			return
		}
	}
}

func acceptsGzip(acceptEncoding string) bool {
	for _, enc := range strings.Split(acceptEncoding, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
		if idx := strings.Index(enc, ";"); idx >= 0 && strings.EqualFold(strings.TrimSpace(enc[:idx]), "gzip") {
			return true
		}
	}
	return false
}
