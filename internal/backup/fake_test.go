package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheGojiOG/sshbackup/internal/config"
	"github.com/kballard/go-shellquote"
	"github.com/ulikunitz/xz"
)

// event is one observable call against a fake host.
type event struct {
	Host   string
	Op     string // connect, archive, fetch, cleanup, exec, close
	Detail string
}

type eventLog struct {
	mu     sync.Mutex
	events []event
}

func (l *eventLog) add(e event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) forHost(host string) []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event
	for _, e := range l.events {
		if e.Host == host {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) ops(host string) []string {
	var ops []string
	for _, e := range l.forHost(host) {
		ops = append(ops, e.Op)
	}
	return ops
}

// fakeHost simulates a remote filesystem rooted at a local directory. The
// archive command is interpreted in-process so tests need no tar binary.
type fakeHost struct {
	name string
	root string
	log  *eventLog

	// Overrides, keyed by child name.
	archiveStatus map[string]int
	fetchErr      map[string]error
	blockArchive  map[string]bool
	blockFetch    map[string]bool
	cleanupStatus int

	tempChild map[string]string
	closed    int
	mu        sync.Mutex
}

func newFakeHost(t *testing.T, name string, log *eventLog) *fakeHost {
	t.Helper()
	return &fakeHost{
		name:          name,
		root:          t.TempDir(),
		log:           log,
		archiveStatus: map[string]int{},
		fetchErr:      map[string]error{},
		blockArchive:  map[string]bool{},
		blockFetch:    map[string]bool{},
		tempChild:     map[string]string{},
	}
}

func (h *fakeHost) local(remote string) string {
	return filepath.Join(h.root, filepath.FromSlash(remote))
}

// writeFile creates a file on the simulated remote filesystem.
func (h *fakeHost) writeFile(t *testing.T, remote, content string) {
	t.Helper()
	path := h.local(remote)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create remote dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write remote file: %v", err)
	}
}

// scratchFiles lists what is left in the remote scratch directory.
func (h *fakeHost) scratchFiles(t *testing.T, scratch string) []string {
	t.Helper()
	entries, err := os.ReadDir(h.local(scratch))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("failed to read scratch dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func (h *fakeHost) Exec(ctx context.Context, command string) (int, error) {
	words, err := shellquote.Split(command)
	if err != nil {
		return -1, err
	}
	for len(words) > 0 && strings.Contains(words[0], "=") {
		words = words[1:]
	}
	if len(words) == 0 {
		return 127, nil
	}

	switch words[0] {
	case "tar":
		return h.archive(ctx, words[1:])
	case "rm":
		target := words[len(words)-1]
		h.log.add(event{Host: h.name, Op: "cleanup", Detail: target})
		if h.cleanupStatus != 0 {
			return h.cleanupStatus, nil
		}
		if err := os.Remove(h.local(target)); err != nil && !os.IsNotExist(err) {
			return 1, nil
		}
		return 0, nil
	default:
		h.log.add(event{Host: h.name, Op: "exec", Detail: command})
		return 127, nil
	}
}

// archive interprets: tar -c[J|z]f <out> -C <parent> -- <child>
func (h *fakeHost) archive(ctx context.Context, args []string) (int, error) {
	if len(args) != 6 || args[2] != "-C" || args[4] != "--" {
		return 2, nil
	}
	flag, out, parent, child := args[0], args[1], args[3], args[5]
	h.log.add(event{Host: h.name, Op: "archive", Detail: parent + "/" + child + " -> " + out})
	h.tempChild[out] = child

	if h.blockArchive[child] {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	if status, ok := h.archiveStatus[child]; ok {
		return status, nil
	}

	src := h.local(parent)
	if _, err := os.Stat(filepath.Join(src, child)); err != nil {
		return 2, nil
	}
	if err := os.MkdirAll(filepath.Dir(h.local(out)), 0755); err != nil {
		return 1, nil
	}
	if err := writeTarball(h.local(out), src, child, flag); err != nil {
		return 1, nil
	}
	return 0, nil
}

func (h *fakeHost) Fetch(ctx context.Context, remotePath, localPath string) error {
	h.log.add(event{Host: h.name, Op: "fetch", Detail: remotePath + " -> " + localPath})
	child := h.tempChild[remotePath]
	if h.blockFetch[child] {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := h.fetchErr[child]; err != nil {
		return err
	}
	data, err := os.ReadFile(h.local(remotePath))
	if err != nil {
		return fmt.Errorf("remote file: %w", err)
	}
	return os.WriteFile(localPath, data, 0640)
}

func (h *fakeHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	h.log.add(event{Host: h.name, Op: "close"})
	return nil
}

func (h *fakeHost) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeDialer hands out fake hosts by target name.
type fakeDialer struct {
	log   *eventLog
	hosts map[string]*fakeHost
	fail  map[string]error
}

func (d *fakeDialer) Dial(_ context.Context, target config.Target) (Transport, error) {
	d.log.add(event{Host: target.Name, Op: "connect", Detail: target.Hostname})
	if err := d.fail[target.Name]; err != nil {
		return nil, err
	}
	host, ok := d.hosts[target.Name]
	if !ok {
		return nil, errors.New("no route to host")
	}
	return host, nil
}

// writeTarball archives parent/child into out the way tar -C parent child does.
func writeTarball(out, parent, child, flag string) error {
	file, err := os.Create(out)
	if err != nil {
		return err
	}
	defer file.Close()

	var w io.WriteCloser = nopWriteCloser{file}
	switch {
	case strings.Contains(flag, "J"):
		xw, err := xz.NewWriter(file)
		if err != nil {
			return err
		}
		w = xw
	case strings.Contains(flag, "z"):
		w = gzip.NewWriter(file)
	}

	tw := tar.NewWriter(w)
	err = filepath.WalkDir(filepath.Join(parent, child), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return w.Close()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// extractTree reads an artifact back into a map of relative path to content.
// Directories map to "<dir>".
func extractTree(t *testing.T, artifact string) map[string]string {
	t.Helper()
	file, err := os.Open(artifact)
	if err != nil {
		t.Fatalf("failed to open artifact: %v", err)
	}
	defer file.Close()

	stream, err := decompressor(file, detectCompressionFromFilename(artifact))
	if err != nil {
		t.Fatalf("failed to decompress artifact: %v", err)
	}

	tree := map[string]string{}
	reader := tar.NewReader(stream)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("failed to read artifact: %v", err)
		}
		name := strings.TrimSuffix(header.Name, "/")
		if header.Typeflag == tar.TypeDir {
			tree[name] = "<dir>"
			continue
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("failed to read entry %s: %v", header.Name, err)
		}
		tree[name] = string(data)
	}
	return tree
}

// readTree loads a local directory into the same shape as extractTree.
func readTree(t *testing.T, parent, child string) map[string]string {
	t.Helper()
	tree := map[string]string{}
	err := filepath.WalkDir(filepath.Join(parent, child), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(parent, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			tree[rel] = "<dir>"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[rel] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk %s: %v", parent, err)
	}
	return tree
}

func fixedClock(ts string) func() time.Time {
	at, err := time.ParseInLocation(TimestampLayout, ts, time.Local)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return at }
}

func sequentialTempPaths() TempPathFunc {
	var mu sync.Mutex
	n := 0
	return func(scratchDir, ext string) string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s/job-%d.%s", scratchDir, n, ext)
	}
}
