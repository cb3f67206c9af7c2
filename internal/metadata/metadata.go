// Package metadata drives MetadataJob, the repository-synchronization
// pipeline described by spec.md §4.5: fetch every configured repository's
// Updates.xml, fold in any RepositoryUpdate add/remove/replace action,
// then fetch and extract every advertised package's meta.7z. Transport is
// pluggable between plain HTTP(S) (internal/download, reused verbatim from
// C4) and an "oci://"-scheme OCI registry (github.com/google/go-containerregistry,
// grounded on the teacher's internal/verify/oci.go API usage), letting a
// repository list mix ordinary web mirrors with container-registry-hosted
// ones.
package metadata

import (
	"context"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/installforge/core/internal/archivestore"
	"github.com/installforge/core/internal/checksum"
	"github.com/installforge/core/internal/download"
	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/filetask"
	"github.com/installforge/core/internal/gitsource"
	"github.com/installforge/core/internal/progress"
	"github.com/installforge/core/internal/signing"
	"github.com/installforge/core/internal/state"
)

// State is one step of MetadataJob's state machine, per spec.md §4.5:
// Idle -> FetchingXml -> ParsingXml -> FetchingArchives -> Extracting ->
// Done | Failed | RetryWithNewSources.
type State int

const (
	StateIdle State = iota
	StateFetchingXML
	StateParsingXML
	StateFetchingArchives
	StateExtracting
	StateDone
	StateFailed
	StateRetryWithNewSources
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateFetchingXML:
		return "FetchingXml"
	case StateParsingXML:
		return "ParsingXml"
	case StateFetchingArchives:
		return "FetchingArchives"
	case StateExtracting:
		return "Extracting"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateRetryWithNewSources:
		return "RetryWithNewSources"
	default:
		return "Unknown"
	}
}

// UpdatesDocument is the root of a repository's Updates.xml, per spec.md
// §6.2.
type UpdatesDocument struct {
	XMLName            xml.Name          `xml:"Updates"`
	ApplicationName    string            `xml:"ApplicationName,omitempty"`
	ApplicationVersion string            `xml:"ApplicationVersion,omitempty"`
	Checksum           bool              `xml:"Checksum,omitempty"`
	Packages           []PackageUpdate   `xml:"PackageUpdate"`
	RepositoryUpdate   *RepositoryUpdate `xml:"RepositoryUpdate"`
}

// PackageUpdate describes one package version a repository advertises.
type PackageUpdate struct {
	Name               string `xml:"Name"`
	Version            string `xml:"Version"`
	ReleaseDate        string `xml:"ReleaseDate,omitempty"`
	SHA1               string `xml:"SHA1,omitempty"`
	CompressedSize     int64  `xml:"CompressedSize,omitempty"`
	UncompressedSize   int64  `xml:"UncompressedSize,omitempty"`
	Default            bool   `xml:"Default,omitempty"`
	Virtual            bool   `xml:"Virtual,omitempty"`
	Essential          bool   `xml:"Essential,omitempty"`
	ForcedInstallation bool   `xml:"ForcedInstallation,omitempty"`
	AutoDependOn       string `xml:"AutoDependOn,omitempty"`
	Dependencies       string `xml:"Dependencies,omitempty"`
}

// RepositoryUpdate is the optional block letting a repository add, remove,
// or replace entries in the caller's repository list.
type RepositoryUpdate struct {
	Repository []RepositoryAction `xml:"Repository"`
}

// RepositoryAction is one add/remove/replace instruction.
type RepositoryAction struct {
	Action      string `xml:"action,attr"`
	URL         string `xml:"url,attr"`
	OldURL      string `xml:"oldUrl,attr,omitempty"`
	NewURL      string `xml:"newUrl,attr,omitempty"`
	Username    string `xml:"username,attr,omitempty"`
	Password    string `xml:"password,attr,omitempty"`
	DisplayName string `xml:"displayName,attr,omitempty"`
}

// Config parameterizes one MetadataJob run.
type Config struct {
	Repositories  []state.Repository
	TempDir       string
	SilentRetries int
	RetryBackoff  time.Duration
	Parallelism   int64

	// Signer additionally verifies a repository's package archives against
	// a detached Sigstore bundle sidecar ("<name>/<version>meta.7z.sigstore.json"),
	// a hardening layer on top of the mandatory SHA-1 checksum check. Nil
	// falls back to signing.Null (no verification), matching a repository
	// that does not publish bundles.
	Signer signing.Verifier
}

func (c Config) withDefaults() Config {
	if c.SilentRetries <= 0 {
		c.SilentRetries = 4
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 1500 * time.Millisecond
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 8
	}
	if c.Signer == nil {
		c.Signer = signing.Null{}
	}
	return c
}

// PendingPackage is a (repository, package, version) tuple queued for
// Phase 2 download.
type PendingPackage struct {
	Repository state.Repository
	Update     PackageUpdate
}

// ExtractedPackage is one Phase 2 result: a meta.7z unpacked under a
// per-repository temp directory.
type ExtractedPackage struct {
	Repository state.Repository
	Update     PackageUpdate
	ExtractDir string
}

// Job runs the two-phase metadata synchronization state machine.
type Job struct {
	cfg        Config
	downloader *download.Downloader
	codec      archivestore.Codec
	oci        OCIFetcher
	coord      *progress.Coordinator
	signer     signing.Verifier

	state     State
	seenRepos map[string]bool
	repos     []state.Repository

	xmlDocs      map[string][]byte
	pending      []PendingPackage
	archivePaths []string
	extracted    []ExtractedPackage

	mu       sync.Mutex
	repoDirs map[string]string

	err error
}

// New builds a Job over cfg, fetching archives with downloader and
// unpacking them with codec.
func New(cfg Config, downloader *download.Downloader, codec archivestore.Codec) *Job {
	cfg = cfg.withDefaults()
	seen := make(map[string]bool, len(cfg.Repositories))
	for _, r := range cfg.Repositories {
		seen[r.URL] = true
	}
	return &Job{
		cfg:        cfg,
		downloader: downloader,
		codec:      codec,
		signer:     cfg.Signer,
		state:      StateIdle,
		seenRepos:  seen,
		repos:      append([]state.Repository(nil), cfg.Repositories...),
		xmlDocs:    make(map[string][]byte),
		repoDirs:   make(map[string]string),
	}
}

// SetCoordinator attaches a progress.Coordinator that both phases' fetches
// report through.
func (j *Job) SetCoordinator(coord *progress.Coordinator) { j.coord = coord }

// State returns the job's current state.
func (j *Job) State() State { return j.state }

// Repositories returns the job's current repository list, reflecting any
// RepositoryUpdate actions folded in so far.
func (j *Job) Repositories() []state.Repository {
	return append([]state.Repository(nil), j.repos...)
}

// Run drives the state machine to completion, returning every extracted
// package on success.
func (j *Job) Run(ctx context.Context) ([]ExtractedPackage, error) {
	for {
		switch j.state {
		case StateIdle, StateRetryWithNewSources:
			j.state = StateFetchingXML

		case StateFetchingXML:
			docs, err := j.fetchXML(ctx)
			if err != nil {
				return j.fail(err)
			}
			for url, data := range docs {
				j.xmlDocs[url] = data
			}
			j.state = StateParsingXML

		case StateParsingXML:
			retry, err := j.parseXML()
			if err != nil {
				return j.fail(err)
			}
			if retry {
				j.state = StateRetryWithNewSources
				continue
			}
			j.state = StateFetchingArchives

		case StateFetchingArchives:
			if err := j.fetchArchives(ctx); err != nil {
				return j.fail(err)
			}
			j.state = StateExtracting

		case StateExtracting:
			if err := j.extract(ctx); err != nil {
				return j.fail(err)
			}
			j.state = StateDone
			return j.extracted, nil

		case StateDone:
			return j.extracted, nil

		case StateFailed:
			return nil, j.err
		}
	}
}

func (j *Job) fail(err error) ([]ExtractedPackage, error) {
	j.state = StateFailed
	j.err = err
	return nil, err
}

// fetchXML runs Phase 1's cache-busted Updates.xml fetch across every
// enabled repository, retrying the whole batch up to SilentRetries times
// with RetryBackoff on transient failure, per spec.md §4.5.
func (j *Job) fetchXML(ctx context.Context) (map[string][]byte, error) {
	var httpRepos []state.Repository
	var items []filetask.Item
	docsByRepo := make(map[string][]byte)

	for _, r := range j.repos {
		if !r.Enabled {
			continue
		}
		if IsOCIRepository(r.URL) {
			data, err := j.fetchOCIUpdatesXML(ctx, r)
			if err != nil {
				if tolerableOCI(err) {
					continue
				}
				return nil, err
			}
			docsByRepo[r.URL] = data
			continue
		}
		if gitsource.IsGitRepository(r.URL) {
			data, err := j.fetchGitUpdatesXML(ctx, r)
			if err != nil {
				continue // tolerated, same as a missing Updates.xml over HTTP
			}
			docsByRepo[r.URL] = data
			continue
		}
		httpRepos = append(httpRepos, r)
		items = append(items, filetask.Item{
			Source: bustCache(r.URL),
			Auth:   credentialFor(r),
			Extras: map[string]any{"repository": r.URL},
		})
	}

	if len(items) == 0 {
		return docsByRepo, nil
	}

	var outcomes []download.Outcome
	var err error
	for attempt := 0; ; attempt++ {
		outcomes, err = j.downloader.FetchAll(ctx, items, j.coord)
		if err == nil || attempt >= j.cfg.SilentRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(j.cfg.RetryBackoff):
		}
	}
	if err != nil {
		return nil, insterrors.Wrap(insterrors.CategoryNetwork, "", "fetch repository update manifests", err)
	}

	for i, o := range outcomes {
		if o.Err != nil {
			// A tolerated 404/network error on an Updates.xml URl means the
			// repository is mid-removal elsewhere; it simply contributes no
			// document this round.
			continue
		}
		data, rerr := os.ReadFile(o.Result.TargetPath)
		if rerr != nil {
			return nil, insterrors.Wrap(insterrors.CategoryIO, "", "read downloaded Updates.xml", rerr)
		}
		docsByRepo[httpRepos[i].URL] = data
	}
	return docsByRepo, nil
}

// parseXML parses every fetched Updates.xml, accumulates Phase 2's pending
// package list, and folds in any RepositoryUpdate actions. It reports
// whether the job must restart Phase 1 with a changed repository set.
func (j *Job) parseXML() (bool, error) {
	j.pending = j.pending[:0]
	reposByURL := make(map[string]state.Repository, len(j.repos))
	for _, r := range j.repos {
		reposByURL[r.URL] = r
	}

	retry := false
	for repoURL, data := range j.xmlDocs {
		var doc UpdatesDocument
		if err := xml.Unmarshal(data, &doc); err != nil {
			return false, insterrors.Wrap(insterrors.CategoryIO, "", "parse Updates.xml", err).WithDetail("repository", repoURL)
		}

		repo := reposByURL[repoURL]
		for _, pu := range doc.Packages {
			j.pending = append(j.pending, PendingPackage{Repository: repo, Update: pu})
		}

		if doc.RepositoryUpdate != nil && j.applyRepositoryUpdate(*doc.RepositoryUpdate) {
			retry = true
		}
	}
	return retry, nil
}

// applyRepositoryUpdate folds add/remove/replace actions into j.repos.
// "add" is a no-op when the URL has ever been seen before, which is what
// bounds the RetryWithNewSources loop: an action introducing a repository
// that another repository's own RepositoryUpdate already introduced cannot
// trigger a second restart, per spec.md §8's RepositoryUpdate retry
// scenario.
func (j *Job) applyRepositoryUpdate(ru RepositoryUpdate) bool {
	changed := false
	for _, action := range ru.Repository {
		switch action.Action {
		case "add":
			if j.addRepo(action.URL, action.Username, action.Password, action.DisplayName) {
				changed = true
			}
		case "remove":
			if j.removeRepo(action.URL) {
				changed = true
			}
		case "replace":
			removed := j.removeRepo(action.OldURL)
			added := j.addRepo(action.NewURL, action.Username, action.Password, action.DisplayName)
			if removed || added {
				changed = true
			}
		}
	}
	return changed
}

func (j *Job) addRepo(url, username, password, displayName string) bool {
	if url == "" || j.seenRepos[url] {
		return false
	}
	j.seenRepos[url] = true
	j.repos = append(j.repos, state.Repository{
		URL: url, Username: username, Password: password, DisplayName: displayName, Enabled: true,
	})
	return true
}

func (j *Job) removeRepo(url string) bool {
	if url == "" {
		return false
	}
	for i, r := range j.repos {
		if r.URL == url {
			j.repos = append(j.repos[:i], j.repos[i+1:]...)
			return true
		}
	}
	return false
}

// fetchArchives runs Phase 2: one aggregate download per (repo, package,
// version) tuple's meta.7z, verified against the advertised SHA1 when
// present.
func (j *Job) fetchArchives(ctx context.Context) error {
	if len(j.pending) == 0 {
		j.archivePaths = nil
		return nil
	}

	var httpIdx []int
	var items []filetask.Item
	j.archivePaths = make([]string, len(j.pending))

	for i, p := range j.pending {
		if IsOCIRepository(p.Repository.URL) {
			path, err := j.fetchOCIArchive(ctx, p)
			if err != nil {
				return err
			}
			j.archivePaths[i] = path
			continue
		}
		if gitsource.IsGitRepository(p.Repository.URL) {
			path, err := j.fetchGitArchive(ctx, p)
			if err != nil {
				return err
			}
			j.archivePaths[i] = path
			continue
		}
		sum, err := decodeSHA1(p.Update.SHA1)
		if err != nil {
			return insterrors.Wrap(insterrors.CategoryNetwork, insterrors.CodeChecksumMismatch, "invalid advertised SHA1", err).
				WithDetail("package", p.Update.Name).WithDetail("version", p.Update.Version)
		}
		httpIdx = append(httpIdx, i)
		items = append(items, filetask.Item{
			Source:   archiveURL(p),
			Checksum: sum,
			Auth:     credentialFor(p.Repository),
		})
	}

	if len(items) == 0 {
		return nil
	}

	outcomes, err := j.downloader.FetchAll(ctx, items, j.coord)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryNetwork, "", "fetch package archives", err)
	}
	for k, o := range outcomes {
		i := httpIdx[k]
		if o.Err != nil {
			return insterrors.Wrap(insterrors.CategoryNetwork, "", "fetch package archive", o.Err).
				WithDetail("package", j.pending[i].Update.Name).WithDetail("version", j.pending[i].Update.Version)
		}
		j.archivePaths[i] = o.Result.TargetPath
	}
	return nil
}

func archiveURL(p PendingPackage) string {
	base := strings.TrimSuffix(p.Repository.URL, "/")
	return fmt.Sprintf("%s/%s/%smeta.7z", base, p.Update.Name, p.Update.Version)
}

func decodeSHA1(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return checksum.ParseHex(s)
}

// extract unpacks every downloaded archive into a fresh directory under its
// repository's temp tree, bounded by cfg.Parallelism concurrent extractions.
func (j *Job) extract(ctx context.Context) error {
	if len(j.pending) == 0 {
		j.extracted = nil
		return nil
	}
	j.extracted = make([]ExtractedPackage, len(j.pending))

	sem := semaphore.NewWeighted(j.cfg.Parallelism)
	g, gctx := errgroup.WithContext(ctx)
	for i := range j.pending {
		i := i
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			return j.extractOne(gctx, i)
		})
	}
	return g.Wait()
}

func (j *Job) extractOne(ctx context.Context, i int) error {
	p := j.pending[i]
	repoDir, err := j.repoDir(p.Repository.URL)
	if err != nil {
		return err
	}

	dest := filepath.Join(repoDir, randomName())
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "create extraction directory", err)
	}

	if p.Repository.RequireSignature {
		if err := j.verifySignature(ctx, p, j.archivePaths[i]); err != nil {
			return err
		}
	}

	f, err := os.Open(j.archivePaths[i])
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "open downloaded archive", err)
	}
	defer f.Close()

	if _, err := j.codec.Extract(f, dest); err != nil {
		return err
	}

	j.extracted[i] = ExtractedPackage{Repository: p.Repository, Update: p.Update, ExtractDir: dest}
	return nil
}

// verifySignature fetches the detached Sigstore bundle sidecar for p
// (archiveURL(p) + ".sigstore.json") and checks it against the already-
// downloaded archive bytes at archivePath, on top of the SHA-1 check
// fetchArchives already performed.
func (j *Job) verifySignature(ctx context.Context, p PendingPackage, archivePath string) error {
	archive, err := os.ReadFile(archivePath)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "read archive for signature check", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL(p)+".sigstore.json", nil)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryNetwork, "", "build sigstore bundle request", err)
	}
	resp, err := j.downloader.Client().Do(req)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryNetwork, "", "fetch sigstore bundle", err).WithDetail("package", p.Update.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return insterrors.New(insterrors.CategoryNetwork, "", "sigstore bundle not found").WithDetail("package", p.Update.Name)
	}
	bundleJSON, err := io.ReadAll(resp.Body)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "read sigstore bundle body", err)
	}

	id := signing.Identity{Issuer: "https://token.actions.githubusercontent.com", SANRegexp: ".*"}
	if err := j.signer.VerifyArtifact(archive, bundleJSON, id); err != nil {
		return insterrors.Wrap(insterrors.CategoryNetwork, insterrors.CodeChecksumMismatch, "signature verification failed", err).
			WithDetail("package", p.Update.Name)
	}
	return nil
}

// repoDir returns (creating if needed) the per-repository temp directory
// extracted packages are pooled under, seeding it with a copy of the
// repository's Updates.xml the first time it's created.
func (j *Job) repoDir(repoURL string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if dir, ok := j.repoDirs[repoURL]; ok {
		return dir, nil
	}
	dir := filepath.Join(j.cfg.TempDir, pathKey(repoURL))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", insterrors.Wrap(insterrors.CategoryIO, "", "create repository extraction directory", err)
	}
	if data, ok := j.xmlDocs[repoURL]; ok {
		if err := os.WriteFile(filepath.Join(dir, "Updates.xml"), data, 0o644); err != nil {
			return "", insterrors.Wrap(insterrors.CategoryIO, "", "write Updates.xml copy", err)
		}
	}
	j.repoDirs[repoURL] = dir
	return dir, nil
}

func pathKey(s string) string {
	sum, err := checksum.FromReader(strings.NewReader(s))
	if err != nil {
		return "repo"
	}
	return hex.EncodeToString(sum)
}

func randomName() string {
	return fmt.Sprintf("%x", rand.Int63())
}

func bustCache(repoURL string) string {
	base := strings.TrimSuffix(repoURL, "/")
	sep := "?"
	if strings.Contains(repoURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s/Updates.xml%s%d", base, sep, rand.Int63())
}

func credentialFor(r state.Repository) *filetask.Credential {
	if r.Username == "" && r.Password == "" {
		return nil
	}
	return &filetask.Credential{Username: r.Username, Password: r.Password}
}

func tolerableOCI(err error) bool {
	var e *insterrors.Error
	for cur := err; cur != nil; {
		if ie, ok := cur.(*insterrors.Error); ok {
			e = ie
			break
		}
		u, ok := cur.(interface{ Unwrap() error })
		if !ok {
			break
		}
		cur = u.Unwrap()
	}
	return e != nil && e.Code == insterrors.CodeTolerableMissing
}
