// Package operation implements C7 (spec.md §4.7): a process-wide registry
// mapping operation kind name to factory, plus the Mkdir/Copy/Move/Delete/
// CopyDirectory/Replace/LineReplace/Extract/GlobalConfig/Settings/
// CreateLocalRepository/ConsumeOutput/RegisterFileType/
// FakeStopProcessForUpdate/MinimumProgress operation kinds from spec.md's
// §4.7 contract table. Every kind shares the backup/perform/undo/test/
// clone/xml-round-trip contract of §4.8; the registry is populated at
// engine startup before any undo log is read so serialized operation
// names round-trip, matching the teacher's factory-registry convention in
// internal/installer/builtin.
package operation

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/installforge/core/internal/archivestore"
	"github.com/installforge/core/internal/component"
	insterrors "github.com/installforge/core/internal/errors"
	"github.com/installforge/core/internal/progress"
)

// Context carries the collaborators an Operation needs to perform/undo
// against: the archive store for Extract, the engine key/value store for
// ConsumeOutput, and so on. It is the "context struct passed by reference,
// not an ambient singleton" the design notes in spec.md §9 call for in
// place of the source's global singletons.
type Context struct {
	// Engine is a free-form key/value store operations can read and
	// write (ConsumeOutput stores its captured output here; CLI
	// KEY=VALUE args seed it).
	Engine map[string]string

	// Progress receives ticks from operations that report it
	// (MinimumProgress, CopyDirectory). Nil is valid: ticks are simply
	// dropped.
	Progress *progress.TaskHandle

	// ArchiveStore and Codec back Extract; both nil unless the runtime
	// bound the owning component's data segment before running it.
	ArchiveStore *archivestore.Store
	Codec        archivestore.Codec

	// RepositoryBuilder backs CreateLocalRepository.
	RepositoryBuilder RepositoryBuilder

	// FileTypeRegistrar backs RegisterFileType; nil means the OS
	// integration is not available in this environment (e.g. CI), and
	// the operation fails loudly rather than pretending to succeed.
	FileTypeRegistrar FileTypeRegistrar

	// ProcessLister backs FakeStopProcessForUpdate's undo check; nil
	// means "nothing is ever reported running".
	ProcessLister ProcessLister
}

// NewContext returns an empty operation Context.
func NewContext() *Context {
	return &Context{Engine: make(map[string]string)}
}

// Instance is the behavior contract every operation kind implements,
// bound to a *component.Operation value (the serializable argument/value
// bag that round-trips through the undo log).
type Instance interface {
	// Name returns the registered kind name.
	Name() string
	// Backup stashes whatever state Undo will need. MUST be idempotent:
	// the runtime may call it more than once before Perform succeeds.
	Backup(ctx context.Context, oc *Context) error
	// Perform executes the operation's effect.
	Perform(ctx context.Context, oc *Context) error
	// Undo reverses Perform using the state Backup stashed.
	Undo(ctx context.Context, oc *Context) error
	// Test validates arguments/values without side effects, used before
	// scheduling the operation.
	Test() error
	// Clone returns a deep copy, including the underlying
	// *component.Operation value.
	Clone() Instance
	// Value returns the underlying serializable operation value.
	Value() *component.Operation
}

// Factory builds a fresh Instance wrapping op.
type Factory func(op *component.Operation) Instance

// Registry is the process-wide kind-name -> factory map, populated at
// startup before any undo log is parsed.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a Registry pre-populated with every core operation
// kind from spec.md's §4.7 contract table.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(KindMkdir, newMkdir)
	r.Register(KindCopy, newCopy)
	r.Register(KindMove, newMove)
	r.Register(KindDelete, newDelete)
	r.Register(KindCopyDirectory, newCopyDirectory)
	r.Register(KindReplace, newReplace)
	r.Register(KindLineReplace, newReplace)
	r.Register(KindExtract, newExtract)
	r.Register(KindGlobalConfig, newSettings)
	r.Register(KindSettings, newSettings)
	r.Register(KindCreateLocalRepository, newCreateLocalRepository)
	r.Register(KindConsumeOutput, newConsumeOutput)
	r.Register(KindRegisterFileType, newRegisterFileType)
	r.Register(KindFakeStopProcessForUpdate, newFakeStopProcessForUpdate)
	r.Register(KindMinimumProgress, newMinimumProgress)
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

// Names lists every registered kind name, sorted for deterministic
// --dump-binary-data / diagnostic output.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds an Instance for the given kind, wrapping a fresh
// *component.Operation.
func (r *Registry) Create(kind string) (Instance, error) {
	factory, ok := r.factories[kind]
	if !ok {
		return nil, insterrors.New(insterrors.CategoryOperation, insterrors.CodeInvalidArguments, "unknown operation kind").WithDetail("kind", kind)
	}
	return factory(&component.Operation{Kind: kind}), nil
}

// Load builds an Instance wrapping an already-populated operation value,
// used when replaying the undo log.
func (r *Registry) Load(op *component.Operation) (Instance, error) {
	factory, ok := r.factories[op.Kind]
	if !ok {
		return nil, insterrors.New(insterrors.CategoryOperation, insterrors.CodeInvalidArguments, "unknown operation kind in undo log").WithDetail("kind", op.Kind)
	}
	return factory(op), nil
}

// wireEntry is the XML shape of one undo-log entry's value payload, per
// spec.md §6.4: varbytes op_name | varbytes xml_serialized{arguments,
// named_values}.
type wireEntry struct {
	XMLName     xml.Name    `xml:"Operation"`
	Arguments   []string    `xml:"Arguments>Argument"`
	NamedValues []namedPair `xml:"NamedValues>Value"`
}

type namedPair struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// MarshalXML serializes an operation's arguments+named values, the value
// half of the undo log's "varbytes op_name | varbytes xml_serialized"
// wire entry (spec.md §6.4); the name half is written separately by the
// caller (internal/state) since it is not part of this struct.
func MarshalXML(op *component.Operation) ([]byte, error) {
	entry := wireEntry{Arguments: op.Arguments}
	for k, v := range op.NamedValues {
		entry.NamedValues = append(entry.NamedValues, namedPair{Key: k, Value: v})
	}
	return xml.Marshal(entry)
}

// UnmarshalXML parses the value half of an undo-log entry back into an
// operation's Arguments/NamedValues.
func UnmarshalXML(data []byte, op *component.Operation) error {
	var entry wireEntry
	if err := xml.Unmarshal(data, &entry); err != nil {
		return insterrors.Wrap(insterrors.CategoryOperation, insterrors.CodeInvalidArguments, "decode operation xml", err)
	}
	op.Arguments = entry.Arguments
	if len(entry.NamedValues) > 0 {
		op.NamedValues = make(map[string]string, len(entry.NamedValues))
		for _, p := range entry.NamedValues {
			op.NamedValues[p.Key] = p.Value
		}
	}
	return nil
}

// base implements the bookkeeping shared by every operation kind: holding
// the wrapped value, argument validation helpers, and Value()/Name().
// Concrete kinds embed base and only implement Backup/Perform/Undo/Test.
type base struct {
	kind string
	op   *component.Operation
}

func (b *base) Name() string                  { return b.kind }
func (b *base) Value() *component.Operation    { return b.op }
func (b *base) arg(i int) (string, error) {
	if i >= len(b.op.Arguments) {
		return "", insterrors.New(insterrors.CategoryOperation, insterrors.CodeInvalidArguments, "missing argument").
			WithDetail("kind", b.kind).WithDetail("index", i)
	}
	return b.op.Arguments[i], nil
}

func (b *base) namedValue(key string) string {
	if b.op.NamedValues == nil {
		return ""
	}
	return b.op.NamedValues[key]
}

func (b *base) setNamedValue(key, value string) {
	if b.op.NamedValues == nil {
		b.op.NamedValues = make(map[string]string)
	}
	b.op.NamedValues[key] = value
}

func invalidArgsErr(kind, message string) error {
	return insterrors.New(insterrors.CategoryOperation, insterrors.CodeInvalidArguments, fmt.Sprintf("%s: %s", kind, message))
}
