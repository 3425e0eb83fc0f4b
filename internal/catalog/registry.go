package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/sys/atomicwriter"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/lemonade-sdk/lemonade-server/internal/fetch"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
)

// userCatalogFile is the user catalog's persistence path, relative to the
// cache root.
const userCatalogFile = "user_models.json"

// ErrNotFound is returned when a referenced entry doesn't exist in the
// merged catalog.
var ErrNotFound = errors.New("model not found in catalog")

// ErrAlreadyExists is returned by register_user for a name collision.
var ErrAlreadyExists = errors.New("model name already registered")

// BackendSupported reports whether recipe has a usable backend
// implementation on this host. Injected so the registry doesn't need to
// import the platform-detection package directly.
type BackendSupported func(Recipe) bool

// DownloadPresence reports whether name's artifacts are already present on
// disk, given its resolved entry. Backend-specific (GGUF checks the hub
// cache; vendor/FastLM check a recipe cache directory), so it's injected
// rather than hard-coded here.
type DownloadPresence func(ModelEntry) bool

// ProgressEvent is emitted during Download, matching the SSE progress
// events the gateway proxies to /api/v1/pull clients.
type ProgressEvent struct {
	Name       string `json:"name"`
	File       string `json:"file"`
	Written    int64  `json:"written"`
	Total      int64  `json:"total"`
	Done       bool   `json:"done"`
}

// ChangeNotifier is invoked whenever the merged catalog changes, whether
// from register_user, delete, or the user file being edited externally.
type ChangeNotifier func()

// Registry is §4.3's ModelRegistry.
type Registry struct {
	log         logging.Logger
	cacheRoot   string
	fetcher     *fetch.Fetcher
	supported   BackendSupported
	present     DownloadPresence
	onChange    ChangeNotifier

	mu       sync.RWMutex
	user     []ModelEntry
	userMtime time.Time

	watcher *fsnotify.Watcher
	closeCh chan struct{}

	downloads singleflight.Group
}

// Options configures a Registry.
type Options struct {
	Logger           logging.Logger
	CacheRoot        string
	Fetcher          *fetch.Fetcher
	BackendSupported BackendSupported
	Present          DownloadPresence
	OnChange         ChangeNotifier
}

// New constructs a Registry, loading any existing user catalog and starting
// an fsnotify watch on it (falling back to polling if the watch can't be
// established, e.g. inside some sandboxes).
func New(opts Options) (*Registry, error) {
	if opts.CacheRoot == "" {
		return nil, errors.New("cache root is required")
	}
	if err := os.MkdirAll(opts.CacheRoot, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating cache root")
	}

	r := &Registry{
		log:       opts.Logger,
		cacheRoot: opts.CacheRoot,
		fetcher:   opts.Fetcher,
		supported: opts.BackendSupported,
		present:   opts.Present,
		onChange:  opts.OnChange,
		closeCh:   make(chan struct{}),
	}
	if r.supported == nil {
		r.supported = func(Recipe) bool { return true }
	}
	if r.present == nil {
		r.present = func(ModelEntry) bool { return false }
	}

	if err := r.reload(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "loading user catalog")
	}

	r.startWatch()

	return r, nil
}

// Close stops the background watch goroutine.
func (r *Registry) Close() {
	close(r.closeCh)
	if r.watcher != nil {
		r.watcher.Close()
	}
}

func (r *Registry) userCatalogPath() string {
	return filepath.Join(r.cacheRoot, userCatalogFile)
}

func (r *Registry) startWatch() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		if r.log != nil {
			r.log.Warnf("fsnotify unavailable, falling back to mtime polling: %v", err)
		}
		go r.pollLoop()
		return
	}
	if err := w.Add(r.cacheRoot); err != nil {
		w.Close()
		go r.pollLoop()
		return
	}
	r.watcher = w

	go func() {
		for {
			select {
			case <-r.closeCh:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != r.userCatalogPath() {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.reload(); err != nil && !os.IsNotExist(err) {
					if r.log != nil {
						r.log.Warnf("reloading user catalog after fs event: %v", err)
					}
					continue
				}
				if r.onChange != nil {
					r.onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if r.log != nil {
					r.log.Warnf("fsnotify watch error: %v", err)
				}
			}
		}
	}()
}

func (r *Registry) pollLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.closeCh:
			return
		case <-ticker.C:
			fi, err := os.Stat(r.userCatalogPath())
			if err != nil {
				continue
			}
			r.mu.RLock()
			changed := fi.ModTime().After(r.userMtime)
			r.mu.RUnlock()
			if !changed {
				continue
			}
			if err := r.reload(); err == nil && r.onChange != nil {
				r.onChange()
			}
		}
	}
}

// reload re-reads the user catalog file from disk if its mtime has moved.
func (r *Registry) reload() error {
	fi, err := os.Stat(r.userCatalogPath())
	if err != nil {
		return err
	}

	r.mu.RLock()
	unchanged := !fi.ModTime().After(r.userMtime)
	r.mu.RUnlock()
	if unchanged {
		return nil
	}

	data, err := os.ReadFile(r.userCatalogPath())
	if err != nil {
		return err
	}
	var entries []ModelEntry
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return errors.Wrap(err, "parsing user catalog")
		}
	}

	r.mu.Lock()
	r.user = entries
	r.userMtime = fi.ModTime()
	r.mu.Unlock()
	return nil
}

func (r *Registry) persistUser() error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.user, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "marshaling user catalog")
	}
	if err := atomicwriter.WriteFile(r.userCatalogPath(), data, 0o644); err != nil {
		return errors.Wrap(err, "writing user catalog")
	}
	if fi, err := os.Stat(r.userCatalogPath()); err == nil {
		r.mu.Lock()
		r.userMtime = fi.ModTime()
		r.mu.Unlock()
	}
	return nil
}

// ListSupported returns built-in ∪ user, prefixed and filtered to entries
// whose recipe has a supported backend on this host.
func (r *Registry) ListSupported() map[string]ModelEntry {
	out := make(map[string]ModelEntry)
	for _, e := range Builtin() {
		if r.supported(e.Recipe) {
			out[e.Name] = e
		}
	}

	r.mu.RLock()
	user := make([]ModelEntry, len(r.user))
	copy(user, r.user)
	r.mu.RUnlock()

	for _, e := range user {
		if !r.supported(e.Recipe) {
			continue
		}
		merged := e
		merged.Name = UserPrefix + e.Name
		out[merged.Name] = merged
	}
	return out
}

// ListDownloaded intersects ListSupported with on-disk presence.
func (r *Registry) ListDownloaded() map[string]ModelEntry {
	supported := r.ListSupported()
	out := make(map[string]ModelEntry, len(supported))
	for name, e := range supported {
		if r.present(e) {
			out[name] = e
		}
	}
	return out
}

// Resolve looks up name in the merged, supported view.
func (r *Registry) Resolve(name string) (ModelEntry, error) {
	supported := r.ListSupported()
	e, ok := supported[name]
	if !ok {
		return ModelEntry{}, ErrNotFound
	}
	return e, nil
}

// RegisterUser validates and persists a new user catalog entry.
func (r *Registry) RegisterUser(entry ModelEntry) error {
	if err := entry.ValidateUserInput(); err != nil {
		return err
	}

	r.mu.Lock()
	for _, e := range r.user {
		if e.Name == entry.Name {
			r.mu.Unlock()
			return ErrAlreadyExists
		}
	}
	r.user = append(r.user, entry)
	r.mu.Unlock()

	if err := r.persistUser(); err != nil {
		return err
	}
	if r.onChange != nil {
		r.onChange()
	}
	return nil
}

// Delete removes a user entry's catalog row (built-in entries have nothing
// to remove here; artifact deletion is the caller's job via the hub cache
// helpers, since only the registry knows the catalog, not the filesystem
// layout of every recipe).
func (r *Registry) Delete(name string) error {
	unprefixed, isUser := trimUserPrefix(name)
	if !isUser {
		return fmt.Errorf("cannot delete built-in entry %q", name)
	}

	r.mu.Lock()
	idx := -1
	for i, e := range r.user {
		if e.Name == unprefixed {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.user = append(r.user[:idx], r.user[idx+1:]...)
	r.mu.Unlock()

	if err := r.persistUser(); err != nil {
		return err
	}
	if r.onChange != nil {
		r.onChange()
	}
	return nil
}

func trimUserPrefix(name string) (string, bool) {
	if len(name) <= len(UserPrefix) || name[:len(UserPrefix)] != UserPrefix {
		return "", false
	}
	return name[len(UserPrefix):], true
}

// Download resolves name and fetches every file the entry requires,
// reporting progress through onProgress. do_not_upgrade, when true, skips
// the fetch entirely if present already reports the entry as downloaded.
// Two concurrent pulls of the same name (e.g. two /pull requests racing
// before either has finished) share a single underlying fetch via
// singleflight: only the caller that started it gets per-file progress
// events; a caller that joins it gets just the final Done and does not
// re-download.
func (r *Registry) Download(ctx context.Context, name string, files []FileSpec, doNotUpgrade bool, onProgress func(ProgressEvent)) error {
	entry, err := r.Resolve(name)
	if err != nil {
		return err
	}

	if doNotUpgrade && r.present(entry) {
		if onProgress != nil {
			onProgress(ProgressEvent{Name: name, Done: true})
		}
		return nil
	}

	_, err, _ = r.downloads.Do(name, func() (interface{}, error) {
		for _, f := range files {
			if err := os.MkdirAll(filepath.Dir(f.DestPath), 0o755); err != nil {
				return nil, errors.Wrap(err, "preparing destination directory")
			}
			err := r.fetcher.Download(ctx, f.URL, f.DestPath, func(written, total int64) {
				if onProgress != nil {
					onProgress(ProgressEvent{Name: name, File: f.DestPath, Written: written, Total: total})
				}
			})
			if err != nil {
				return nil, errors.Wrapf(err, "downloading %s", f.URL)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	if onProgress != nil {
		onProgress(ProgressEvent{Name: name, Done: true})
	}
	return nil
}

// FileSpec names one file a Download call must fetch.
type FileSpec struct {
	URL      string
	DestPath string
}
