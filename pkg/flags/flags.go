package flags

import (
	"fmt"
	"sort"
	"strings"
)

// FeatureFlags is a bitmask of coarse-grained agent capabilities. Each bit is
// an independent kill switch written once at startup.
type FeatureFlags uint8

const (
	// FeatureFileActivity enables filesystem-related instrumentation.
	FeatureFileActivity FeatureFlags = 1 << iota
	// FeatureNetActivity enables socket/network instrumentation.
	FeatureNetActivity
	// FeatureProcActivity enables process lifecycle instrumentation.
	FeatureProcActivity
	// FeatureAuxPayload enables variable-length auxiliary payload capture.
	FeatureAuxPayload
)

// AllFeatures has every defined feature bit set.
const AllFeatures = FeatureFileActivity | FeatureNetActivity | FeatureProcActivity | FeatureAuxPayload

// OpFlags is a bitmask of per-operation toggles. It is a dimension
// independent from FeatureFlags: a feature may be on while one of its
// operations is not.
type OpFlags uint64

const (
	OpOpen OpFlags = 1 << iota
	OpCreate
	OpWrite
	OpRename
	OpUnlink
	OpMkdir
	OpChmod
	OpLink
	OpSymlink
	OpConnect
	OpAccept
	OpBind
	OpSocket
)

// AllOps has every defined operation bit set.
const AllOps = OpOpen | OpCreate | OpWrite | OpRename | OpUnlink | OpMkdir |
	OpChmod | OpLink | OpSymlink | OpConnect | OpAccept | OpBind | OpSocket

var featureNames = map[string]FeatureFlags{
	"file_activity": FeatureFileActivity,
	"net_activity":  FeatureNetActivity,
	"proc_activity": FeatureProcActivity,
	"aux_payload":   FeatureAuxPayload,
}

var opNames = map[string]OpFlags{
	"open":    OpOpen,
	"create":  OpCreate,
	"write":   OpWrite,
	"rename":  OpRename,
	"unlink":  OpUnlink,
	"mkdir":   OpMkdir,
	"chmod":   OpChmod,
	"link":    OpLink,
	"symlink": OpSymlink,
	"connect": OpConnect,
	"accept":  OpAccept,
	"bind":    OpBind,
	"socket":  OpSocket,
}

// ParseFeatures converts configuration names into a feature mask.
// The special name "all" selects every feature.
func ParseFeatures(names []string) (FeatureFlags, error) {
	var mask FeatureFlags
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if key == "all" {
			return AllFeatures, nil
		}
		bit, ok := featureNames[key]
		if !ok {
			return 0, fmt.Errorf("unknown feature %q", name)
		}
		mask |= bit
	}
	return mask, nil
}

// ParseOps converts configuration names into an operation mask.
// The special name "all" selects every operation.
func ParseOps(names []string) (OpFlags, error) {
	var mask OpFlags
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if key == "all" {
			return AllOps, nil
		}
		bit, ok := opNames[key]
		if !ok {
			return 0, fmt.Errorf("unknown operation %q", name)
		}
		mask |= bit
	}
	return mask, nil
}

// Contains reports whether every bit of other is set in f.
func (f FeatureFlags) Contains(other FeatureFlags) bool {
	return f&other == other
}

// Contains reports whether every bit of other is set in o.
func (o OpFlags) Contains(other OpFlags) bool {
	return o&other == other
}

func (f FeatureFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for name, bit := range featureNames {
		if f&bit != 0 {
			parts = append(parts, name)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func (o OpFlags) String() string {
	if o == 0 {
		return "none"
	}
	var parts []string
	for name, bit := range opNames {
		if o&bit != 0 {
			parts = append(parts, name)
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// OpName returns the configuration name for a single operation bit, or a
// numeric fallback for bits this build does not know about.
func OpName(op OpFlags) string {
	for name, bit := range opNames {
		if bit == op {
			return name
		}
	}
	return fmt.Sprintf("op:%#x", uint64(op))
}
