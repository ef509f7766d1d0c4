// Package feed loads batch feeds: ordered lists of batches as a producer
// would deliver them, written in YAML or CUE.
//
// A feed file looks like:
//
//	batches:
//	  - batch_id: b1
//	    group_id: mail
//	    events:
//	      - {instance_id: e1, list_id: inbox, op: create}
//
// Missing batch ids are assigned by a ir.BatchIDGenerator in feed order.
// Operation names are case-insensitive.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/roach88/eventq/internal/ir"
)

// Feed is an ordered list of batches.
type Feed struct {
	Batches []ir.Batch `json:"batches"`
}

type rawFeed struct {
	Batches []rawBatch `yaml:"batches" json:"batches"`
}

type rawBatch struct {
	BatchID string     `yaml:"batch_id" json:"batch_id"`
	GroupID string     `yaml:"group_id" json:"group_id"`
	Events  []rawEvent `yaml:"events" json:"events"`
}

type rawEvent struct {
	InstanceID string `yaml:"instance_id" json:"instance_id"`
	ListID     string `yaml:"list_id" json:"list_id"`
	Op         string `yaml:"op" json:"op"`
}

// schema constrains CUE feeds so shape errors carry source positions.
const schema = `
#Event: {
	instance_id: string & !=""
	list_id?:    string
	op:          =~"^(?i)(create|update|delete)$"
}
#Batch: {
	batch_id?: string
	group_id:  string & !=""
	events: [...#Event]
}
batches: [...#Batch]
`

// Load reads a feed from a .yaml/.yml file, a .cue file, or a directory
// holding one CUE package.
//
// gen fills in missing batch ids; nil uses ir.UUIDv7Generator. All
// validation problems are collected and returned together; the feed is
// returned only when there are none.
func Load(path string, gen ir.BatchIDGenerator) (*Feed, []error) {
	if gen == nil {
		gen = ir.UUIDv7Generator{}
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("feed not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing feed: %v", err)}}
	}

	var raw *rawFeed
	switch {
	case info.IsDir():
		raw, err = loadCUEDir(path)
	case filepath.Ext(path) == ".cue":
		raw, err = loadCUEFile(path)
	case filepath.Ext(path) == ".yaml", filepath.Ext(path) == ".yml":
		raw, err = loadYAML(path)
	default:
		err = &LoadError{Code: ErrCodeUnsupported, Message: fmt.Sprintf("unsupported feed format %q (want .yaml, .yml or .cue)", filepath.Ext(path))}
	}
	if err != nil {
		return nil, []error{err}
	}

	f, errs := convert(raw, gen)
	errs = append(errs, Validate(f)...)
	if len(errs) > 0 {
		return nil, errs
	}
	return f, nil
}

func loadYAML(path string) (*rawFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("failed to read feed: %v", err)}
	}

	var raw rawFeed
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("%s: failed to parse YAML: %v", path, err)}
	}
	return &raw, nil
}

func loadCUEFile(path string) (*rawFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("failed to read feed: %v", err)}
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	return decodeCUE(ctx, value)
}

func loadCUEDir(dir string) (*rawFeed, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, cueError(ErrCodeLoadFailed, "loading CUE files", inst.Err)
	}

	ctx := cuecontext.New()
	return decodeCUE(ctx, ctx.BuildInstance(inst))
}

// decodeCUE unifies value with the feed schema and decodes it.
func decodeCUE(ctx *cue.Context, value cue.Value) (*rawFeed, error) {
	if err := value.Err(); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "building CUE value", err)
	}

	unified := ctx.CompileString(schema).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "invalid feed", err)
	}

	var raw rawFeed
	if err := unified.Decode(&raw); err != nil {
		return nil, cueError(ErrCodeBuildFailed, "decoding feed", err)
	}
	return &raw, nil
}

// cueError keeps the first CUE position so the CLI can point at the source.
func cueError(code, context string, err error) *LoadError {
	le := &LoadError{Code: code, Message: fmt.Sprintf("%s: %s", context, cueerrors.Details(err, nil))}
	if errs := cueerrors.Errors(err); len(errs) > 0 {
		le.Pos = errs[0].Position()
	}
	return le
}

func convert(raw *rawFeed, gen ir.BatchIDGenerator) (*Feed, []error) {
	var errs []error
	f := &Feed{Batches: make([]ir.Batch, 0, len(raw.Batches))}

	for i, rb := range raw.Batches {
		b := ir.Batch{
			BatchID: rb.BatchID,
			GroupID: rb.GroupID,
			Events:  make([]ir.EntityUpdate, 0, len(rb.Events)),
		}
		if b.BatchID == "" {
			b.BatchID = gen.Generate()
		}
		for j, re := range rb.Events {
			op, err := ir.ParseOperation(re.Op)
			if err != nil {
				errs = append(errs, &LoadError{
					Code:    ErrCodeUnknownOp,
					Message: fmt.Sprintf("batches[%d].events[%d]: %v", i, j, err),
				})
				continue
			}
			b.Events = append(b.Events, ir.EntityUpdate{
				InstanceID:     re.InstanceID,
				InstanceListID: re.ListID,
				Operation:      op,
			})
		}
		f.Batches = append(f.Batches, b)
	}
	return f, errs
}

// Validate reports every shape problem in f.
func Validate(f *Feed) []error {
	var errs []error
	seen := make(map[string]int)

	for i, b := range f.Batches {
		if prev, dup := seen[b.BatchID]; dup {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateBatch,
				Message: fmt.Sprintf("batches[%d]: batch_id %q already used by batches[%d]", i, b.BatchID, prev),
			})
		} else {
			seen[b.BatchID] = i
		}
		if b.GroupID == "" {
			errs = append(errs, &LoadError{
				Code:    ErrCodeMissingGroup,
				Message: fmt.Sprintf("batches[%d] (%s): group_id is required", i, b.BatchID),
			})
		}
		if len(b.Events) == 0 {
			errs = append(errs, &LoadError{
				Code:    ErrCodeEmptyBatch,
				Message: fmt.Sprintf("batches[%d] (%s): events list is required and must be non-empty", i, b.BatchID),
			})
		}
		for j, ev := range b.Events {
			if ev.InstanceID == "" {
				errs = append(errs, &LoadError{
					Code:    ErrCodeMissingInstance,
					Message: fmt.Sprintf("batches[%d].events[%d]: instance_id is required", i, j),
				})
			}
			if !ev.Operation.Valid() {
				errs = append(errs, &LoadError{
					Code:    ErrCodeUnknownOp,
					Message: fmt.Sprintf("batches[%d].events[%d]: %s %q", i, j, ir.ErrUnknownOperation, ev.Operation),
				})
			}
		}
	}
	return errs
}

// CodeOf returns the code of the first LoadError in err's chain, or "".
func CodeOf(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}
