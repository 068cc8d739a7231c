package middleware

// Ref names an ordering target: either another middleware (by its
// descriptor Name) or an operation (meaning every middleware whose
// Handles map claims that operation). Resolution happens per composition
// pass; a ref that resolves to nothing is vacuously satisfied.
type Ref string

// OpSpec documents one operation a middleware handles. It is purely
// descriptive metadata, surfaced verbatim by the describe facility; it
// carries no behavior.
type OpSpec struct {
	// Doc is a short human-readable description of the operation.
	Doc string `json:"doc"`
	// Requires maps required message slots to their descriptions.
	Requires map[string]string `json:"requires"`
	// Optional maps optional message slots to their descriptions.
	Optional map[string]string `json:"optional"`
	// Returns maps response slots to their descriptions.
	Returns map[string]string `json:"returns"`
}

// Descriptor carries a middleware's identity, its ordering constraints,
// and the operations it claims to handle. Descriptors are treated as
// immutable once registered for a composition pass.
type Descriptor struct {
	// Name is the middleware's stable identity. It is the node key in the
	// dependency graph and the target of direct refs.
	Name string

	// Requires lists units that must be ordered earlier (more outer) than
	// this middleware.
	Requires []Ref

	// Expects lists units that this middleware must be ordered earlier
	// (more outer) than.
	Expects []Ref

	// Handles maps operation names to their documentation.
	Handles map[string]OpSpec
}

// HandlesOp reports whether the descriptor claims the given operation.
func (d Descriptor) HandlesOp(op string) bool {
	_, ok := d.Handles[op]
	return ok
}

// Middleware is one composable unit of request handling. Identity comes
// from the descriptor's Name; Wrap layers the unit's behavior around the
// next-inner handler.
type Middleware interface {
	Descriptor() Descriptor
	Wrap(next Handler) Handler
}

// New builds a Middleware from a descriptor and a wrap function.
func New(desc Descriptor, wrap func(next Handler) Handler) Middleware {
	return &funcMiddleware{desc: desc, wrap: wrap}
}

type funcMiddleware struct {
	desc Descriptor
	wrap func(next Handler) Handler
}

func (m *funcMiddleware) Descriptor() Descriptor    { return m.desc }
func (m *funcMiddleware) Wrap(next Handler) Handler { return m.wrap(next) }
