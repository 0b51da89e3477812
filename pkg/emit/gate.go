package emit

import (
	"sync/atomic"

	"github.com/saworbit/kernwatch/pkg/flags"
)

// Gate decides, per probe invocation, whether instrumentation is enabled for
// a (feature, operation) pair. The two dimensions are independent: features
// act as coarse kill switches, operations as fine-grained trace toggles.
//
// The backing masks are written once during the configuration phase and read
// concurrently by every producer afterwards; atomic loads replace the
// volatile reads the kernel-side original relies on.
type Gate struct {
	features atomic.Uint32
	ops      atomic.Uint64
}

// Configure stores both masks. It belongs to the single-writer startup
// phase and must complete before producers start calling Enabled.
func (g *Gate) Configure(f flags.FeatureFlags, o flags.OpFlags) {
	g.features.Store(uint32(f))
	g.ops.Store(uint64(o))
}

// Enabled reports whether the configured feature mask covers f and the
// configured operation mask covers o. Unrecognized bits simply never match.
func (g *Gate) Enabled(f flags.FeatureFlags, o flags.OpFlags) bool {
	enabledFeatures := flags.FeatureFlags(g.features.Load())
	enabledOps := flags.OpFlags(g.ops.Load())
	return enabledFeatures.Contains(f) && enabledOps.Contains(o)
}

// Features returns the configured feature mask.
func (g *Gate) Features() flags.FeatureFlags {
	return flags.FeatureFlags(g.features.Load())
}

// Ops returns the configured operation mask.
func (g *Gate) Ops() flags.OpFlags {
	return flags.OpFlags(g.ops.Load())
}
