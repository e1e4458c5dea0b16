// Package fetch implements spec §4.4: turning a ranked list of
// retrieval methods for a single implementation into a populated,
// admitted store entry, with cross-process and in-process
// deduplication of concurrent fetches of the same digest, external
// package manager handoff, and feed-mirror fallback.
//
// Grounded on the teacher's registry push/pull coordination (a single
// blob digest is only ever written once, with concurrent writers
// deduplicated) and on CowDogMoo-warpgate's use of
// golang.org/x/sync for bounding concurrent work.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/zeroinstall/implstore/config"
	"github.com/zeroinstall/implstore/internal/logctx"
	"github.com/zeroinstall/implstore/internal/storeerr"
	"github.com/zeroinstall/implstore/manifest"
	"github.com/zeroinstall/implstore/store"
)

// MethodSource resolves the candidate retrieval methods for a sibling
// implementation referenced by a copy-from recipe step, so the fetcher
// can recursively fetch it before the copy runs (spec §4.2 item 4,
// §6 item 6).
type MethodSource interface {
	MethodsFor(d manifest.Digest) ([]store.RetrievalMethod, bool)
}

// ConfirmExternal is consulted before an External retrieval method that
// has no Confirm of its own runs an external package manager installer,
// letting the caller surface a prompt before handing control to another
// program.
type ConfirmExternal func(ctx context.Context, d manifest.Digest) (bool, error)

// Fetcher drives admission of implementations into a Store from a feed's
// retrieval methods.
type Fetcher struct {
	Store   *store.Store
	Config  config.Config
	Methods MethodSource
	Confirm ConfirmExternal
	Client  *http.Client

	inflight singleflight.Group
}

// New returns a Fetcher over st using cfg's network policy.
func New(st *store.Store, cfg config.Config) *Fetcher {
	return &Fetcher{Store: st, Config: cfg, Client: http.DefaultClient}
}

// Fetch admits the implementation identified by d, trying methods in
// ranked order, and returns its final on-disk path. If d is already
// present, its path is returned immediately without touching the
// network. OnWaiting, if non-nil, is invoked once if another process
// already holds the per-digest fetch lock.
func (f *Fetcher) Fetch(ctx context.Context, d manifest.Digest, methods []store.RetrievalMethod, onWaiting func()) (string, error) {
	if path, ok := f.Store.GetPath(d); ok {
		return path, nil
	}

	key := d.Identifier()
	v, err, _ := f.inflight.Do(key, func() (interface{}, error) {
		return f.fetchLocked(ctx, d, methods, onWaiting)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (f *Fetcher) fetchLocked(ctx context.Context, d manifest.Digest, methods []store.RetrievalMethod, onWaiting func()) (string, error) {
	lock, err := f.Store.Lock(lockName(d))
	if err != nil {
		return "", err
	}
	if err := lock.Acquire(ctx, onWaiting); err != nil {
		return "", err
	}
	defer lock.Release()

	if path, ok := f.Store.GetPath(d); ok {
		return path, nil
	}

	log := logctx.GetLogger(ctx).WithField("digest", d.Identifier())

	var externalMethods, normalMethods []store.RetrievalMethod
	for _, m := range methods {
		if m.Kind == store.MethodExternal {
			externalMethods = append(externalMethods, m)
		} else {
			normalMethods = append(normalMethods, m)
		}
	}

	for _, m := range externalMethods {
		if m.Confirm != nil {
			ok, err := m.Confirm(ctx)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
		} else if f.Confirm != nil {
			ok, err := f.Confirm(ctx, d)
			if err != nil {
				return "", err
			}
			if !ok {
				continue
			}
		}
		if err := m.ExternalInstall(ctx); err != nil {
			log.WithField("error", err).Warn("external install failed")
			continue
		}
		if path, ok := f.Store.GetPath(d); ok {
			return path, nil
		}
	}

	if f.Config.NetworkUse == config.NetworkOffline {
		return "", &storeerr.OfflineError{Target: d.Identifier()}
	}

	var lastErr error
	for _, m := range rankMethods(normalMethods) {
		path, err := f.attempt(ctx, d, m, log)
		if err == nil {
			return path, nil
		}
		if _, ok := err.(*storeerr.AlreadyInStoreError); ok {
			if path, ok := f.Store.GetPath(d); ok {
				return path, nil
			}
		}

		// UnsupportedKind and InvalidPath are fatal per spec §4.4 step 4:
		// they indicate the method itself is malformed or unsatisfiable,
		// not a transient fetch failure, so retrying a different ranked
		// method would not help and must not mask the real error.
		var unsupported *storeerr.UnsupportedKindError
		var invalidPath *storeerr.InvalidPathError
		if errors.As(err, &unsupported) || errors.As(err, &invalidPath) {
			return "", err
		}

		log.WithField("error", err).Warn("retrieval method failed, trying next")
		lastErr = err
	}

	if lastErr == nil {
		lastErr = &storeerr.NotFoundError{Identifier: d.Identifier()}
	}
	return "", lastErr
}

func (f *Fetcher) attempt(ctx context.Context, d manifest.Digest, m store.RetrievalMethod, log *logrus.Entry) (string, error) {
	build := func(ctx context.Context, b *store.Builder) error {
		switch m.Kind {
		case store.MethodDownload:
			return f.applyDownload(ctx, b, m.Download)
		case store.MethodRecipe:
			return m.Recipe.Apply(ctx, b, f.lookup())
		default:
			return &storeerr.UnsupportedKindError{Kind: "retrieval method", Context: "fetch attempt"}
		}
	}
	return f.Store.Add(ctx, d, build)
}

// applyDownload runs a single bare Download retrieval method, falling
// back to the feed mirror (spec §6) if the original fetch fails and a
// mirror is configured, or skipping straight to the mirror under
// NetworkMinimal. UnsupportedKind and InvalidPath failures are returned
// without trying the mirror; with no mirror configured, the original
// error is returned.
func (f *Fetcher) applyDownload(ctx context.Context, b *store.Builder, step store.Step) error {
	var origErr error
	if f.Config.NetworkUse != config.NetworkMinimal {
		origErr = store.Recipe{Steps: []store.Step{step}}.Apply(ctx, b, f.lookup())
		if origErr == nil {
			return nil
		}
		var unsupported *storeerr.UnsupportedKindError
		var invalidPath *storeerr.InvalidPathError
		if errors.As(origErr, &unsupported) || errors.As(origErr, &invalidPath) {
			return origErr
		}
	}
	mirrored, ok := f.mirrorStep(step)
	if !ok {
		if f.Config.NetworkUse == config.NetworkMinimal {
			return &storeerr.OfflineError{Target: step.Href}
		}
		return origErr
	}
	return store.Recipe{Steps: []store.Step{mirrored}}.Apply(ctx, b, f.lookup())
}

func (f *Fetcher) mirrorStep(step store.Step) (store.Step, bool) {
	if f.Config.FeedMirror == nil || step.Href == "" {
		return store.Step{}, false
	}
	orig, err := url.Parse(step.Href)
	if err != nil {
		return store.Step{}, false
	}
	mirrored, err := mirrorURL(f.Config.FeedMirror, orig)
	if err != nil {
		return store.Step{}, false
	}
	out := step
	out.Href = mirrored.String()
	out.Open = f.httpOpen(mirrored.String())
	return out, true
}

func (f *Fetcher) httpOpen(href string) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
		if err != nil {
			return nil, &storeerr.IoError{Op: "build request for " + href, Err: err}
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return nil, &storeerr.IoError{Op: "GET " + href, Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, &storeerr.IoError{Op: "GET " + href, Err: fmt.Errorf("status %s", resp.Status)}
		}
		return resp.Body, nil
	}
}

// lookup returns the DigestLookup a Recipe's copy-from step consults,
// recursively fetching the sibling implementation via Methods when it
// is not already present in the store.
func (f *Fetcher) lookup() store.DigestLookup {
	return digestLookup{f}
}

type digestLookup struct{ f *Fetcher }

func (l digestLookup) GetPath(d manifest.Digest) (string, bool) {
	if path, ok := l.f.Store.GetPath(d); ok {
		return path, true
	}
	if l.f.Methods == nil {
		return "", false
	}
	methods, ok := l.f.Methods.MethodsFor(d)
	if !ok {
		return "", false
	}
	path, err := l.f.Fetch(context.Background(), d, methods, nil)
	if err != nil {
		return "", false
	}
	return path, true
}

func lockName(d manifest.Digest) string {
	return "fetcher-" + strings.NewReplacer("/", "-", "=", "", "_", "-").Replace(d.Identifier())
}
