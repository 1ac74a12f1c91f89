package model

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// NetUidKind tags the outcome of subnet classification.
type NetUidKind int

const (
	NetUidUnknown NetUidKind = iota
	NetUidScalar
	NetUidPair
	NetUidAmbiguous
)

// NetUid is the subnet classification of a stake movement. Scalar carries a
// single subnet id, Pair carries origin and destination for movement
// operations, Ambiguous carries the sorted candidate set from registration
// lookup, Unknown means classification failed.
type NetUid struct {
	Kind        NetUidKind
	Value       uint64
	Origin      uint64
	Destination uint64
	Candidates  []uint64
}

func UnknownNetUid() NetUid {
	return NetUid{Kind: NetUidUnknown}
}

func ScalarNetUid(value uint64) NetUid {
	return NetUid{Kind: NetUidScalar, Value: value}
}

func PairNetUid(origin, destination uint64) NetUid {
	return NetUid{Kind: NetUidPair, Origin: origin, Destination: destination}
}

// AmbiguousNetUid builds an ambiguous result from the candidate set. The
// candidates are copied, sorted, and deduplicated so equal sets render
// identically.
func AmbiguousNetUid(candidates []uint64) NetUid {
	sorted := make([]uint64, 0, len(candidates))
	seen := make(map[uint64]struct{}, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		sorted = append(sorted, c)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return NetUid{Kind: NetUidAmbiguous, Candidates: sorted}
}

// String renders the classification for display: the integer for a scalar,
// "origin→destination" for a pair, the sorted candidate list for an
// ambiguous result, and the literal "Unknown" otherwise.
func (n NetUid) String() string {
	switch n.Kind {
	case NetUidScalar:
		return strconv.FormatUint(n.Value, 10)
	case NetUidPair:
		return strconv.FormatUint(n.Origin, 10) + "→" + strconv.FormatUint(n.Destination, 10)
	case NetUidAmbiguous:
		parts := make([]string, len(n.Candidates))
		for i, c := range n.Candidates {
			parts[i] = strconv.FormatUint(c, 10)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "Unknown"
	}
}

// MarshalJSON encodes the rendered form, which is what export consumers
// display.
func (n NetUid) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}
