package likelihood

import (
	"fmt"
	"math"
	"strings"

	lerrors "github.com/copyleftdev/hmlike/internal/errors"
)

// TDITag names the channel convention of a data stream.
type TDITag string

const (
	// TagAET is the orthogonalised A, E, T combination.
	TagAET TDITag = "AET"
	// TagXYZ is the raw Michelson-like X, Y, Z combination.
	TagXYZ TDITag = "XYZ"
)

// Selector is the two-valued convention switch passed to the engine.
type Selector int

const (
	// SelectorXYZ asks the engine for X, Y, Z channels.
	SelectorXYZ Selector = 1
	// SelectorAET asks the engine for A, E, T channels.
	SelectorAET Selector = 2
)

// ParseTDITag validates a tag. Anything but AET or XYZ is a configuration error.
func ParseTDITag(s string) (TDITag, error) {
	switch TDITag(strings.ToUpper(strings.TrimSpace(s))) {
	case TagAET:
		return TagAET, nil
	case TagXYZ:
		return TagXYZ, nil
	}
	return "", lerrors.Configuration("TDI tag must be AET or XYZ, got %q", s).
		WithComponent("likelihood").WithOperation("ParseTDITag")
}

// Labels returns the three channel labels in order.
func (t TDITag) Labels() [3]string {
	return [3]string{string(t[0]), string(t[1]), string(t[2])}
}

// Selector returns the engine convention for the tag.
func (t TDITag) Selector() Selector {
	if t == TagXYZ {
		return SelectorXYZ
	}
	return SelectorAET
}

// Valid reports whether t is one of the two known tags.
func (t TDITag) Valid() bool {
	return t == TagAET || t == TagXYZ
}

// Channel is one labelled frequency-domain sequence.
type Channel struct {
	Label string
	Data  []complex128
}

// ChannelSet holds the three channels of a stream, indexed by position.
type ChannelSet [3]Channel

// ChannelSetFromMap builds a ChannelSet from a label-keyed map. All three labels of
// tag must be present and of equal length.
func ChannelSetFromMap(tag TDITag, stream map[string][]complex128) (ChannelSet, error) {
	var cs ChannelSet
	if !tag.Valid() {
		_, err := ParseTDITag(string(tag))
		return cs, err
	}
	for i, label := range tag.Labels() {
		data, ok := stream[label]
		if !ok {
			return cs, MissingChannel(label, tag)
		}
		cs[i] = Channel{Label: label, Data: data}
	}
	if err := cs.checkLengths(); err != nil {
		return ChannelSet{}, err
	}
	return cs, nil
}

// MissingChannel is the configuration error for an absent channel label.
func MissingChannel(label string, tag TDITag) error {
	return lerrors.Configuration("channel %s not in data stream for TDI tag %s", label, tag).
		WithComponent("likelihood").WithOperation("MissingChannel")
}

// Len returns the common channel length.
func (cs ChannelSet) Len() int {
	return len(cs[0].Data)
}

// Map returns the channels keyed by label. The slices are shared.
func (cs ChannelSet) Map() map[string][]complex128 {
	m := make(map[string][]complex128, len(cs))
	for _, ch := range cs {
		m[ch.Label] = ch.Data
	}
	return m
}

// Clone returns a deep copy.
func (cs ChannelSet) Clone() ChannelSet {
	var out ChannelSet
	for i, ch := range cs {
		out[i] = Channel{Label: ch.Label, Data: append([]complex128(nil), ch.Data...)}
	}
	return out
}

// SelfOverlap returns 4·Σ over channels and bins of |c|².
func (cs ChannelSet) SelfOverlap() float64 {
	var sum float64
	for _, ch := range cs {
		for _, v := range ch.Data {
			re, im := real(v), imag(v)
			sum += re*re + im*im
		}
	}
	return 4 * sum
}

func (cs ChannelSet) checkLengths() error {
	n := len(cs[0].Data)
	for _, ch := range cs[1:] {
		if len(ch.Data) != n {
			return lerrors.Configuration("channel %s has length %d, channel %s has length %d",
				cs[0].Label, n, ch.Label, len(ch.Data)).WithComponent("likelihood")
		}
	}
	return nil
}

// Whitening holds one real weight sequence per channel.
type Whitening [3][]float64

// Grid is an ordered sequence of frequencies in Hz.
type Grid []float64

// Validate checks that g has at least two points, is strictly positive, finite and
// strictly increasing.
func (g Grid) Validate() error {
	if len(g) < 2 {
		return lerrors.Domain("frequency grid needs at least 2 points, got %d", len(g)).
			WithComponent("likelihood").WithOperation("Grid.Validate")
	}
	for i, f := range g {
		if !(f > 0) || math.IsInf(f, 0) {
			return lerrors.Domain("frequency %d is %v, must be positive and finite", i, f).
				WithComponent("likelihood").WithOperation("Grid.Validate")
		}
		if i > 0 && f <= g[i-1] {
			return lerrors.Domain("frequency grid not strictly increasing at %d (%v <= %v)", i, f, g[i-1]).
				WithComponent("likelihood").WithOperation("Grid.Validate")
		}
	}
	return nil
}

// Bounds returns the first and last frequency.
func (g Grid) Bounds() (float64, float64) {
	if len(g) == 0 {
		return 0, 0
	}
	return g[0], g[len(g)-1]
}

// String implements fmt.Stringer with a short summary.
func (g Grid) String() string {
	lo, hi := g.Bounds()
	return fmt.Sprintf("Grid[%d](%g..%g Hz)", len(g), lo, hi)
}
