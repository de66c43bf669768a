package types

const (
	// FieldElementLen is the canonical byte length of a serialized scalar
	// field element.
	FieldElementLen = 32
	// MinAuthorityLevel and MaxAuthorityLevel bound the identity
	// verification strength encoded in a membership leaf.
	MinAuthorityLevel = 1
	MaxAuthorityLevel = 5
	// DefaultTreeDepth is the depth used for district trees created lazily
	// on first registration, unless configured otherwise.
	DefaultTreeDepth = 20
)

// TreeDepths are the district tree depths supported by the proving circuit.
// A depth fixes the tree capacity at 2^depth leaves.
var TreeDepths = []int{18, 20, 22, 24}

// ValidTreeDepth reports whether the circuit supports the given tree depth.
func ValidTreeDepth(depth int) bool {
	for _, d := range TreeDepths {
		if d == depth {
			return true
		}
	}
	return false
}
