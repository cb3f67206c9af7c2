package operation

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/installforge/core/internal/component"
	insterrors "github.com/installforge/core/internal/errors"
)

// Kind name constants, matching spec.md §4.7's contract table exactly so
// serialized names round-trip.
const (
	KindMkdir                    = "Mkdir"
	KindCopy                     = "Copy"
	KindMove                     = "Move"
	KindDelete                   = "Delete"
	KindCopyDirectory            = "CopyDirectory"
	KindReplace                  = "Replace"
	KindLineReplace              = "LineReplace"
	KindExtract                  = "Extract"
	KindGlobalConfig             = "GlobalConfig"
	KindSettings                 = "Settings"
	KindCreateLocalRepository    = "CreateLocalRepository"
	KindConsumeOutput            = "ConsumeOutput"
	KindRegisterFileType         = "RegisterFileType"
	KindFakeStopProcessForUpdate = "FakeStopProcessForUpdate"
	KindMinimumProgress          = "MinimumProgress"
)

// --- Mkdir ---------------------------------------------------------------

type mkdirOp struct{ base }

func newMkdir(op *component.Operation) Instance { return &mkdirOp{base{KindMkdir, op}} }

func (o *mkdirOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	return nil
}

func (o *mkdirOp) Backup(context.Context, *Context) error { return nil }

// Perform creates path and all missing parents, recording which ones it
// created (namedValue "created", "\x1f"-joined, leaf-last) so Undo removes
// only directories this op created, leaf-first.
func (o *mkdirOp) Perform(_ context.Context, _ *Context) error {
	path, err := o.arg(0)
	if err != nil {
		return err
	}

	var created []string
	dir := filepath.Clean(path)
	for {
		info, statErr := os.Stat(dir)
		if statErr == nil {
			if !info.IsDir() {
				return invalidArgsErr(o.kind, "path exists and is not a directory")
			}
			break
		}
		created = append(created, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	// created is currently root-most-missing-ancestor-last (we walked
	// upward); reverse so index 0 is the top-most ancestor to create first.
	for i, j := 0, len(created)-1; i < j; i, j = i+1, j-1 {
		created[i], created[j] = created[j], created[i]
	}
	for _, d := range created {
		if err := os.Mkdir(d, 0o755); err != nil && !os.IsExist(err) {
			return insterrors.Wrap(insterrors.CategoryIO, "", "mkdir", err).WithDetail("path", d)
		}
	}

	o.setNamedValue("created", strings.Join(created, "\x1f"))
	return nil
}

func (o *mkdirOp) Undo(context.Context, *Context) error {
	created := splitField(o.namedValue("created"))
	for i := len(created) - 1; i >= 0; i-- {
		if err := os.Remove(created[i]); err != nil && !os.IsNotExist(err) {
			return insterrors.Wrap(insterrors.CategoryIO, "", "remove directory created by Mkdir", err).WithDetail("path", created[i])
		}
	}
	return nil
}

func (o *mkdirOp) Clone() Instance { return &mkdirOp{base{o.kind, o.op.Clone()}} }

// --- Copy ------------------------------------------------------------------

type copyOp struct{ base }

func newCopy(op *component.Operation) Instance { return &copyOp{base{KindCopy, op}} }

func (o *copyOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

// Backup stashes the pre-existing destination's content, if any, so Undo
// can restore it. Idempotent: re-running does not overwrite an
// already-taken backup.
func (o *copyOp) Backup(context.Context, *Context) error {
	if o.namedValue("backedUp") == "true" {
		return nil
	}
	dst, err := o.arg(1)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err != nil {
		o.setNamedValue("backedUp", "true")
		return nil
	}
	backup := dst + ".installforge-backup"
	if err := copyFile(dst, backup); err != nil {
		return err
	}
	o.setNamedValue("backup_of_existing_destination", backup)
	o.setNamedValue("backedUp", "true")
	return nil
}

func (o *copyOp) Perform(_ context.Context, _ *Context) error {
	src, _ := o.arg(0)
	dst, _ := o.arg(1)
	return copyFile(src, dst)
}

func (o *copyOp) Undo(context.Context, *Context) error {
	dst, err := o.arg(1)
	if err != nil {
		return err
	}
	if backup := o.namedValue("backup_of_existing_destination"); backup != "" {
		if err := os.Rename(backup, dst); err != nil {
			return insterrors.Wrap(insterrors.CategoryIO, "", "restore backed up destination", err)
		}
		return nil
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return insterrors.Wrap(insterrors.CategoryIO, "", "remove copied file", err)
	}
	return nil
}

func (o *copyOp) Clone() Instance { return &copyOp{base{o.kind, o.op.Clone()}} }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "open copy source", err).WithDetail("path", src)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "mkdir copy destination parent", err)
	}
	info, err := in.Stat()
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "stat copy source", err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "create copy destination", err).WithDetail("path", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return insterrors.Wrap(insterrors.CategoryIO, "", "copy file contents", err)
	}
	return out.Close()
}

// --- Move ------------------------------------------------------------------

type moveOp struct{ base }

func newMove(op *component.Operation) Instance { return &moveOp{base{KindMove, op}} }

func (o *moveOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

func (o *moveOp) Backup(context.Context, *Context) error { return nil }

func (o *moveOp) Perform(context.Context, *Context) error {
	src, _ := o.arg(0)
	dst, _ := o.arg(1)
	if err := os.Rename(src, dst); err != nil {
		if err := copyFile(src, dst); err != nil {
			return err
		}
		return os.Remove(src)
	}
	return nil
}

func (o *moveOp) Undo(context.Context, *Context) error {
	src, _ := o.arg(0)
	dst, _ := o.arg(1)
	if err := os.Rename(dst, src); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "rename back during Move undo", err)
	}
	return nil
}

func (o *moveOp) Clone() Instance { return &moveOp{base{o.kind, o.op.Clone()}} }

// --- Delete ------------------------------------------------------------------

type deleteOp struct{ base }

func newDelete(op *component.Operation) Instance { return &deleteOp{base{KindDelete, op}} }

func (o *deleteOp) Test() error {
	_, err := o.arg(0)
	return err
}

func (o *deleteOp) Backup(context.Context, *Context) error { return nil }

func (o *deleteOp) Perform(context.Context, *Context) error {
	path, err := o.arg(0)
	if err != nil {
		return err
	}
	tmp := path + ".installforge-deleted"
	if err := os.Rename(path, tmp); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "move file aside for Delete", err).WithDetail("path", path)
	}
	o.setNamedValue("tempPath", tmp)
	return nil
}

func (o *deleteOp) Undo(context.Context, *Context) error {
	path, err := o.arg(0)
	if err != nil {
		return err
	}
	tmp := o.namedValue("tempPath")
	if tmp == "" {
		return nil
	}
	if err := os.Rename(tmp, path); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "rename back during Delete undo", err)
	}
	return nil
}

func (o *deleteOp) Clone() Instance { return &deleteOp{base{o.kind, o.op.Clone()}} }

// --- CopyDirectory ---------------------------------------------------------

type copyDirectoryOp struct{ base }

func newCopyDirectory(op *component.Operation) Instance { return &copyDirectoryOp{base{KindCopyDirectory, op}} }

func (o *copyDirectoryOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

func (o *copyDirectoryOp) Backup(context.Context, *Context) error { return nil }

func (o *copyDirectoryOp) Perform(_ context.Context, oc *Context) error {
	src, _ := o.arg(0)
	dst, _ := o.arg(1)

	var created []string
	err := filepath.Walk(src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if err := copyFile(path, target); err != nil {
			return err
		}
		created = append(created, target)
		if oc != nil && oc.Progress != nil {
			oc.Progress.ReportProgress(0, target)
		}
		return nil
	})
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "recursive directory copy", err)
	}

	o.setNamedValue("created", strings.Join(created, "\x1f"))
	return nil
}

func (o *copyDirectoryOp) Undo(context.Context, *Context) error {
	created := splitField(o.namedValue("created"))
	for i := len(created) - 1; i >= 0; i-- {
		if err := os.Remove(created[i]); err != nil && !os.IsNotExist(err) {
			return insterrors.Wrap(insterrors.CategoryIO, "", "remove file created by CopyDirectory", err).WithDetail("path", created[i])
		}
	}
	return nil
}

func (o *copyDirectoryOp) Clone() Instance { return &copyDirectoryOp{base{o.kind, o.op.Clone()}} }

// --- Replace / LineReplace --------------------------------------------------

// replaceOp implements both Replace and LineReplace: an in-place text
// edit. Per spec.md §9's documented open question, Undo is a deliberate
// no-op returning nil (observed source behavior, not carried forward as
// an oversight to fix): the file is not restored.
type replaceOp struct{ base }

func newReplace(op *component.Operation) Instance { return &replaceOp{base{op.Kind, op}} }

func (o *replaceOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	if _, err := o.arg(2); err != nil {
		return err
	}
	if _, err := regexp.Compile(mustArg(o, 1)); err != nil {
		return invalidArgsErr(o.kind, "pattern does not compile: "+err.Error())
	}
	return nil
}

func (o *replaceOp) Backup(context.Context, *Context) error { return nil }

func (o *replaceOp) Perform(context.Context, *Context) error {
	file, _ := o.arg(0)
	pattern, _ := o.arg(1)
	replacement, _ := o.arg(2)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return invalidArgsErr(o.kind, "pattern does not compile: "+err.Error())
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "read file for Replace", err).WithDetail("path", file)
	}
	out := re.ReplaceAll(data, []byte(replacement))
	if err := os.WriteFile(file, out, 0o644); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "write file for Replace", err)
	}
	return nil
}

// Undo is a documented no-op: see spec.md §9.
func (o *replaceOp) Undo(context.Context, *Context) error { return nil }

func (o *replaceOp) Clone() Instance { return &replaceOp{base{o.kind, o.op.Clone()}} }

func mustArg(o *replaceOp, i int) string {
	v, _ := o.arg(i)
	return v
}

// --- Extract -----------------------------------------------------------------

type extractOp struct{ base }

func newExtract(op *component.Operation) Instance { return &extractOp{base{KindExtract, op}} }

func (o *extractOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

func (o *extractOp) Backup(context.Context, *Context) error { return nil }

func (o *extractOp) Perform(_ context.Context, oc *Context) error {
	archiveName, _ := o.arg(0)
	dst, _ := o.arg(1)
	if oc == nil || oc.ArchiveStore == nil || oc.Codec == nil {
		return invalidArgsErr(o.kind, "no archive store/codec bound to this operation context")
	}
	a, ok := oc.ArchiveStore.Get(archiveName)
	if !ok {
		return insterrors.New(insterrors.CategoryArchive, insterrors.CodeArchiveUnsupported, "archive not found in component data segment").WithDetail("name", archiveName)
	}
	created, err := oc.Codec.Extract(a, dst)
	if err != nil {
		return err
	}
	o.setNamedValue("manifest", strings.Join(created, "\x1f"))
	return nil
}

func (o *extractOp) Undo(context.Context, *Context) error {
	for _, path := range splitField(o.namedValue("manifest")) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return insterrors.Wrap(insterrors.CategoryIO, "", "remove file extracted by Extract", err).WithDetail("path", path)
		}
	}
	return nil
}

func (o *extractOp) Clone() Instance { return &extractOp{base{o.kind, o.op.Clone()}} }

// --- GlobalConfig / Settings --------------------------------------------------

// settingsOp implements both GlobalConfig and Settings: a file-backed
// key=value store, persisting a snapshot of the prior value in
// NamedValues["oldvalue"] so Undo can restore it, or remove the key if it
// was absent (namedValue "oldvalue_present" tracks which).
type settingsOp struct{ base }

func newSettings(op *component.Operation) Instance { return &settingsOp{base{op.Kind, op}} }

func (o *settingsOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

func (o *settingsOp) Backup(context.Context, *Context) error {
	file, _ := o.arg(0)
	key, _ := o.arg(1)
	values, _ := readKeyValueFile(file)
	if v, ok := values[key]; ok {
		o.setNamedValue("oldvalue", v)
		o.setNamedValue("oldvalue_present", "true")
	} else {
		o.setNamedValue("oldvalue_present", "false")
	}
	return nil
}

func (o *settingsOp) Perform(context.Context, *Context) error {
	file, _ := o.arg(0)
	key, _ := o.arg(1)
	value, err := o.arg(2)
	if err != nil {
		return err
	}
	return writeKeyValueFile(file, key, &value)
}

func (o *settingsOp) Undo(context.Context, *Context) error {
	file, _ := o.arg(0)
	key, _ := o.arg(1)
	if o.namedValue("oldvalue_present") == "true" {
		old := o.namedValue("oldvalue")
		return writeKeyValueFile(file, key, &old)
	}
	return writeKeyValueFile(file, key, nil)
}

func (o *settingsOp) Clone() Instance { return &settingsOp{base{o.kind, o.op.Clone()}} }

func readKeyValueFile(path string) (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, insterrors.Wrap(insterrors.CategoryIO, "", "read settings file", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[k] = v
	}
	return values, nil
}

// writeKeyValueFile sets key to *value, or removes it if value is nil.
func writeKeyValueFile(path, key string, value *string) error {
	values, err := readKeyValueFile(path)
	if err != nil {
		return err
	}
	if value == nil {
		delete(values, key)
	} else {
		values[key] = *value
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(values[k])
		b.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "mkdir settings file parent", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return insterrors.Wrap(insterrors.CategoryIO, "", "write settings tempfile", err)
	}
	return os.Rename(tmp, path)
}

// --- CreateLocalRepository ----------------------------------------------------

// RepositoryBuilder is the narrow interface CreateLocalRepository uses to
// rebuild a repository tree from an installer's own payload, injected via
// Context so this package doesn't need a direct import cycle with
// internal/payload's Reader type for the common case of just testing
// operation bookkeeping.
type RepositoryBuilder interface {
	// Build writes installerPath's metadata resources and component
	// archives into targetDir, returning every path it created.
	Build(installerPath, targetDir string) ([]string, error)
}

type createLocalRepositoryOp struct{ base }

func newCreateLocalRepository(op *component.Operation) Instance {
	return &createLocalRepositoryOp{base{KindCreateLocalRepository, op}}
}

func (o *createLocalRepositoryOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

func (o *createLocalRepositoryOp) Backup(context.Context, *Context) error { return nil }

func (o *createLocalRepositoryOp) Perform(_ context.Context, oc *Context) error {
	installerPath, _ := o.arg(0)
	targetDir, _ := o.arg(1)
	if oc == nil || oc.RepositoryBuilder == nil {
		return invalidArgsErr(o.kind, "no repository builder bound to this operation context")
	}
	created, err := oc.RepositoryBuilder.Build(installerPath, targetDir)
	if err != nil {
		return err
	}
	o.setNamedValue("manifest", strings.Join(created, "\x1f"))
	o.setNamedValue("targetDir", targetDir)
	return nil
}

func (o *createLocalRepositoryOp) Undo(context.Context, *Context) error {
	for _, path := range splitField(o.namedValue("manifest")) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return insterrors.Wrap(insterrors.CategoryIO, "", "remove repository file", err).WithDetail("path", path)
		}
	}
	if dir := o.namedValue("targetDir"); dir != "" {
		_ = removeIfEmptyDir(dir)
	}
	return nil
}

func (o *createLocalRepositoryOp) Clone() Instance {
	return &createLocalRepositoryOp{base{o.kind, o.op.Clone()}}
}

func removeIfEmptyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	if len(entries) > 0 {
		return nil
	}
	return os.Remove(dir)
}

// --- ConsumeOutput -------------------------------------------------------------

type consumeOutputOp struct{ base }

func newConsumeOutput(op *component.Operation) Instance { return &consumeOutputOp{base{KindConsumeOutput, op}} }

func (o *consumeOutputOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

func (o *consumeOutputOp) Backup(context.Context, *Context) error { return nil }

// Perform runs exe with args, retrying up to 3 times with a 500ms wait if
// stdout comes back empty, and stores the captured output under key on
// the engine, per spec.md §4.7.
func (o *consumeOutputOp) Perform(ctx context.Context, oc *Context) error {
	key, _ := o.arg(0)
	exeName, err := o.arg(1)
	if err != nil {
		return err
	}
	args := o.op.Arguments[2:]

	const maxAttempts = 3
	var out []byte
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		cmd := exec.CommandContext(ctx, exeName, args...)
		var buf bytes.Buffer
		cmd.Stdout = &buf
		if err := cmd.Run(); err != nil {
			return insterrors.Wrap(insterrors.CategoryOperation, insterrors.CodeUserDefined, "ConsumeOutput command failed", err).WithDetail("exe", exeName)
		}
		out = buf.Bytes()
		if len(out) > 0 || attempt == maxAttempts {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if oc != nil {
		if oc.Engine == nil {
			oc.Engine = make(map[string]string)
		}
		oc.Engine[key] = strings.TrimRight(string(out), "\n")
	}
	return nil
}

func (o *consumeOutputOp) Undo(context.Context, *Context) error { return nil }

func (o *consumeOutputOp) Clone() Instance { return &consumeOutputOp{base{o.kind, o.op.Clone()}} }

// --- RegisterFileType ----------------------------------------------------------

// FileTypeRegistrar is the narrow OS-integration interface RegisterFileType
// is consumed through, per spec.md §1's "platform-specific shell-
// integration operations ... are external collaborators" — the actual
// registry/plist/mimeapps.list manipulation lives outside this repo.
type FileTypeRegistrar interface {
	Register(ext, command, description, contentType, icon string) (snapshot []byte, err error)
	Unregister(ext string, snapshot []byte) error
}

type registerFileTypeOp struct{ base }

func newRegisterFileType(op *component.Operation) Instance { return &registerFileTypeOp{base{KindRegisterFileType, op}} }

func (o *registerFileTypeOp) Test() error {
	if _, err := o.arg(0); err != nil {
		return err
	}
	if _, err := o.arg(1); err != nil {
		return err
	}
	return nil
}

func (o *registerFileTypeOp) Backup(context.Context, *Context) error { return nil }

func (o *registerFileTypeOp) Perform(_ context.Context, oc *Context) error {
	ext, _ := o.arg(0)
	command, _ := o.arg(1)
	if oc == nil || oc.FileTypeRegistrar == nil {
		return invalidArgsErr(o.kind, "no file-type registrar bound to this operation context")
	}
	snapshot, err := oc.FileTypeRegistrar.Register(ext, command, o.namedValue("desc"), o.namedValue("contentType"), o.namedValue("icon"))
	if err != nil {
		return err
	}
	o.setNamedValue("snapshot", string(snapshot))
	return nil
}

// Undo is a best-effort unregister; a missing registrar at undo time is
// tolerated since there is nothing to unregister against.
func (o *registerFileTypeOp) Undo(_ context.Context, oc *Context) error {
	if oc == nil || oc.FileTypeRegistrar == nil {
		return nil
	}
	ext, _ := o.arg(0)
	return oc.FileTypeRegistrar.Unregister(ext, []byte(o.namedValue("snapshot")))
}

func (o *registerFileTypeOp) Clone() Instance { return &registerFileTypeOp{base{o.kind, o.op.Clone()}} }

// --- FakeStopProcessForUpdate ----------------------------------------------------

// ProcessLister is the narrow OS-process-enumeration interface
// FakeStopProcessForUpdate's Undo is consumed through.
type ProcessLister interface {
	// Running returns the subset of names that are currently running.
	Running(names []string) ([]string, error)
}

type fakeStopProcessOp struct{ base }

func newFakeStopProcessForUpdate(op *component.Operation) Instance {
	return &fakeStopProcessOp{base{KindFakeStopProcessForUpdate, op}}
}

func (o *fakeStopProcessOp) Test() error {
	_, err := o.arg(0)
	return err
}

func (o *fakeStopProcessOp) Backup(context.Context, *Context) error { return nil }

// Perform is a no-op, per spec.md §4.7.
func (o *fakeStopProcessOp) Perform(context.Context, *Context) error { return nil }

// Undo computes which of the named processes are still running and fails
// with the list so the UI can ask the user, per spec.md §4.7.
func (o *fakeStopProcessOp) Undo(_ context.Context, oc *Context) error {
	csv, err := o.arg(0)
	if err != nil {
		return err
	}
	names := strings.Split(csv, ",")
	if oc == nil || oc.ProcessLister == nil {
		return nil
	}
	running, err := oc.ProcessLister.Running(names)
	if err != nil {
		return err
	}
	if len(running) > 0 {
		return insterrors.New(insterrors.CategoryOperation, insterrors.CodeUserDefined, "processes still running, blocking update rollback").
			WithDetail("processes", running)
	}
	return nil
}

func (o *fakeStopProcessOp) Clone() Instance { return &fakeStopProcessOp{base{o.kind, o.op.Clone()}} }

// --- MinimumProgress ----------------------------------------------------------

type minimumProgressOp struct{ base }

func newMinimumProgress(op *component.Operation) Instance { return &minimumProgressOp{base{KindMinimumProgress, op}} }

func (o *minimumProgressOp) Test() error                      { return nil }
func (o *minimumProgressOp) Backup(context.Context, *Context) error { return nil }

func (o *minimumProgressOp) Perform(_ context.Context, oc *Context) error {
	if oc != nil && oc.Progress != nil {
		oc.Progress.ReportProgress(1, "")
	}
	return nil
}

func (o *minimumProgressOp) Undo(context.Context, *Context) error { return nil }

func (o *minimumProgressOp) Clone() Instance { return &minimumProgressOp{base{o.kind, o.op.Clone()}} }

// splitField reverses the "\x1f"-joined manifest encoding used by several
// operation kinds to stash a list of paths in a single named value.
func splitField(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\x1f")
}
