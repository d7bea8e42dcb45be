package gunn

import (
	"fmt"
	"sort"
	"sync"
)

// The operator registry is the thin interface between the kernels in
// this package and whatever graph executor hosts them: each operator
// hands the registry a descriptor (name, arity, shape inference, docs)
// and optionally a gradient definition describing which forward blobs
// its gradient operator consumes and which input gradients it produces.
// The executor's automatic-differentiation pass reads these mappings;
// nothing in this package walks a graph.

// BlobKind classifies a tensor reference inside a gradient definition.
type BlobKind int

const (
	// ForwardInputBlob refers to the i-th input of the forward operator.
	ForwardInputBlob BlobKind = iota
	// ForwardOutputBlob refers to the i-th output of the forward operator.
	ForwardOutputBlob
	// OutputGradBlob refers to the gradient of the i-th forward output.
	OutputGradBlob
	// InputGradBlob refers to the gradient of the i-th forward input.
	InputGradBlob
)

// BlobRef identifies one tensor role by kind and positional index.
type BlobRef struct {
	Kind  BlobKind
	Index int
}

// RefInput refers to forward input i.
func RefInput(i int) BlobRef { return BlobRef{ForwardInputBlob, i} }

// RefOutput refers to forward output i.
func RefOutput(i int) BlobRef { return BlobRef{ForwardOutputBlob, i} }

// RefOutputGrad refers to the gradient of forward output i.
func RefOutputGrad(i int) BlobRef { return BlobRef{OutputGradBlob, i} }

// RefInputGrad refers to the gradient of forward input i.
func RefInputGrad(i int) BlobRef { return BlobRef{InputGradBlob, i} }

// ArgDoc documents one operator argument, input or output.
type ArgDoc struct {
	Name string
	Doc  string
}

// OpDescriptor describes a registered operator to the executor.
type OpDescriptor struct {
	Name       string
	NumInputs  int
	NumOutputs int
	Doc        string
	Args       []ArgDoc
	Inputs     []ArgDoc
	Outputs    []ArgDoc

	// InferShape derives output shapes from input shapes and the
	// operator instance (passed as args), for the executor's static
	// shape-checking pass.
	InferShape func(args interface{}, inputs []Shape) ([]Shape, error)
}

// GradientDef declares the gradient operator for a forward operator and
// the blob mapping its invocation needs.
type GradientDef struct {
	GradOp  string
	Inputs  []BlobRef // blobs consumed by the gradient operator
	Outputs []BlobRef // input gradients it produces
}

// Registry maps operator names to descriptors and gradient definitions.
type Registry struct {
	mu    sync.RWMutex
	ops   map[string]OpDescriptor
	grads map[string]GradientDef
}

// NewRegistry creates an empty operator registry.
func NewRegistry() *Registry {
	return &Registry{
		ops:   make(map[string]OpDescriptor),
		grads: make(map[string]GradientDef),
	}
}

// Register adds an operator descriptor. Duplicate names are an error.
func (r *Registry) Register(d OpDescriptor) error {
	if d.Name == "" {
		return NewInvalidArgError("Register", "operator name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[d.Name]; ok {
		return NewInvalidArgError("Register", fmt.Sprintf("operator %q already registered", d.Name))
	}
	r.ops[d.Name] = d
	return nil
}

// RegisterGradient declares the gradient definition for a forward operator.
func (r *Registry) RegisterGradient(forwardOp string, g GradientDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[forwardOp]; !ok {
		return NewInvalidArgError("RegisterGradient", fmt.Sprintf("unknown operator %q", forwardOp))
	}
	if _, ok := r.grads[forwardOp]; ok {
		return NewInvalidArgError("RegisterGradient", fmt.Sprintf("gradient for %q already registered", forwardOp))
	}
	r.grads[forwardOp] = g
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (OpDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.ops[name]
	return d, ok
}

// Gradient returns the gradient definition for a forward operator.
// Operators without a gradient (one-hot encoding) report false.
func (r *Registry) Gradient(forwardOp string) (GradientDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grads[forwardOp]
	return g, ok
}

// Names returns all registered operator names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the process-wide registry the built-in operators
// register themselves into.
var DefaultRegistry = NewRegistry()

// mustRegister registers into the default registry at package init.
func mustRegister(d OpDescriptor) {
	if err := DefaultRegistry.Register(d); err != nil {
		panic(err)
	}
}

// mustRegisterGradient registers a gradient def at package init.
func mustRegisterGradient(forwardOp string, g GradientDef) {
	if err := DefaultRegistry.RegisterGradient(forwardOp, g); err != nil {
		panic(err)
	}
}
