// Package scenario replays scripted loader lifecycles against an engine.
//
// A scenario file declares loaders with their classes and native resources,
// then an ordered list of events:
//
//	loaders:
//	  - name: A
//	    classes: [100]
//	    resources:
//	      - kind: generated-code
//	        module: add.wasm
//	      - kind: metadata-table
//	        size: 4096
//	events:
//	  - {op: mark, loader: A, pending: 2}
//	  - {op: finalize, object: 1, class: 100}
//	  - {op: finalize, object: 2, class: 100}
//	  - {op: run}
//	  - {op: expect, loader: A, state: swept}
package scenario

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/incinerator"
	"github.com/wippyai/incinerator/errors"
	"github.com/wippyai/incinerator/resource"
)

// Op is an event type.
type Op string

const (
	OpMark     Op = "mark"
	OpFinalize Op = "finalize"
	OpRun      Op = "run"
	OpUnload   Op = "unload"
	OpExpect   Op = "expect"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name    string       `yaml:"name"`
	Loaders []LoaderSpec `yaml:"loaders" validate:"dive"`
	Events  []Event      `yaml:"events" validate:"dive"`
}

// LoaderSpec declares a loader and what it owns before any event runs.
type LoaderSpec struct {
	Name      string         `yaml:"name" validate:"required"`
	Classes   []uint64       `yaml:"classes"`
	Resources []ResourceSpec `yaml:"resources" validate:"dive"`
}

// ResourceSpec declares one native resource of a loader.
type ResourceSpec struct {
	// Kind is a resource kind name such as "generated-code".
	Kind string `yaml:"kind" validate:"required,resource_kind"`

	// Module is a wasm file compiled as generated code, relative to the
	// scenario file.
	Module string `yaml:"module,omitempty"`

	// Data fills an interned-constants block.
	Data string `yaml:"data,omitempty"`

	// Size allocates a memory block of this many bytes.
	Size int `yaml:"size,omitempty" validate:"min=0"`

	// Fail makes the first Fail release attempts fail.
	Fail int `yaml:"fail,omitempty" validate:"min=0"`
}

// Event is one scripted step.
type Event struct {
	Op      Op     `yaml:"op" validate:"oneof=mark finalize run unload expect"`
	Loader  string `yaml:"loader,omitempty"`
	State   string `yaml:"state,omitempty" validate:"required_if=Op expect,omitempty,loader_state"`
	Pending int    `yaml:"pending,omitempty" validate:"min=0"`
	Object  uint64 `yaml:"object,omitempty"`
	Class   uint64 `yaml:"class,omitempty"`
}

func (e Event) String() string {
	switch e.Op {
	case OpMark:
		return fmt.Sprintf("mark %s pending=%d", e.Loader, e.Pending)
	case OpFinalize:
		return fmt.Sprintf("finalize object=%d class=%d", e.Object, e.Class)
	case OpUnload:
		return fmt.Sprintf("unload %s", e.Loader)
	case OpExpect:
		return fmt.Sprintf("expect %s %s", e.Loader, e.State)
	default:
		return string(e.Op)
	}
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read scenario")
	}
	return Parse(data)
}

// Parse decodes and validates a scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse scenario")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints, then that loader names and classes are
// unique and that events name declared loaders.
func (s *Scenario) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fieldErrors(err)
	}

	names := make(map[string]bool, len(s.Loaders))
	classes := make(map[uint64]string)
	for _, l := range s.Loaders {
		if names[l.Name] {
			return invalid("duplicate loader %q", l.Name)
		}
		names[l.Name] = true

		for _, c := range l.Classes {
			if owner, ok := classes[c]; ok {
				return invalid("class %d defined by both %q and %q", c, owner, l.Name)
			}
			classes[c] = l.Name
		}
	}

	for i, e := range s.Events {
		if e.Op == OpFinalize || e.Op == OpRun {
			continue
		}
		if !names[e.Loader] {
			return invalid("event %d (%s): unknown loader %q", i, e.Op, e.Loader)
		}
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("resource_kind", func(fl validator.FieldLevel) bool {
		_, ok := resource.LookupKind(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("loader_state", func(fl validator.FieldLevel) bool {
		_, ok := incinerator.ParseState(fl.Field().String())
		return ok
	})
	return v
}

func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "validate scenario")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, strings.Join(msgs, "; "))
}

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindInvalidInput).Detail(format, args...).Build()
}
