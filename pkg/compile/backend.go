package compile

import (
	"fmt"
	"strconv"

	"github.com/flowplane/flowplane/pkg/dsl"
)

// Backend emits target-specific artifact text for validated rule
// documents. Implementations must be pure: same tree in, same text
// out, no I/O.
type Backend interface {
	// Name is the stable backend identifier used in cache keys and
	// artifact rows.
	Name() string

	// CompileExpr emits artifact text for an expression document.
	CompileExpr(doc *dsl.Document) (string, error)

	// CompileActions emits an ordered effect-descriptor artifact for
	// an actions document.
	CompileActions(doc *dsl.Document) (string, error)
}

// CompileError reports a construct the target backend cannot
// represent. It affects only the compilation request; runtime
// evaluation is unaffected.
type CompileError struct {
	// Backend is the target that rejected the construct.
	Backend string `json:"backend"`

	// Construct describes the unsupported construct.
	Construct string `json:"construct"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	return fmt.Sprintf("backend %s cannot compile %s: %s", e.Backend, e.Construct, e.Message)
}

// trimFloat renders a number in its minimal form, shared by emitters
// so numeric literals are identical across targets.
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
