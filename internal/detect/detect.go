// Package detect identifies the bytecode version of a compiled script.
package detect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"gdsdecomp/internal/bcfmt"
	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
	"gdsdecomp/internal/script"
)

var (
	ErrUnknownVersion   = errors.New("unknown bytecode version")
	ErrAmbiguousVersion = errors.New("ambiguous bytecode version")
)

// Method records how a version was chosen.
type Method string

const (
	MethodExact  Method = "exact"
	MethodForced Method = "forced"
	MethodProbed Method = "probed"
)

// TieBreak selects what happens when several candidates probe equally well.
type TieBreak int

const (
	TieReport TieBreak = iota // fail with *AmbiguousError
	TieNewest                 // take the newest candidate
)

func (t TieBreak) String() string {
	if t == TieNewest {
		return "newest"
	}
	return "report"
}

// ParseTieBreak maps a config or flag value to a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "report":
		return TieReport, nil
	case "newest":
		return TieNewest, nil
	}
	return TieReport, fmt.Errorf("unknown tie break %q", s)
}

const (
	DefaultMinScore             = 1.0
	DefaultProbeMaxBytes        = 1 << 20
	DefaultProbeMaxInstructions = 4096
)

// Options controls detection.
type Options struct {
	Heuristic            bool    // probe candidates when the tag is unknown
	TieBreak             TieBreak
	MinScore             float64 // 0 = DefaultMinScore
	ProbeMaxBytes        int     // 0 = DefaultProbeMaxBytes
	ProbeMaxInstructions int     // 0 = DefaultProbeMaxInstructions
	Force                string  // version tag that bypasses detection
	Logger               zerolog.Logger
}

func (o Options) minScore() float64 {
	if o.MinScore > 0 {
		return o.MinScore
	}
	return DefaultMinScore
}

func (o Options) probeMaxBytes() int {
	if o.ProbeMaxBytes > 0 {
		return o.ProbeMaxBytes
	}
	return DefaultProbeMaxBytes
}

func (o Options) probeMaxInstructions() int {
	if o.ProbeMaxInstructions > 0 {
		return o.ProbeMaxInstructions
	}
	return DefaultProbeMaxInstructions
}

// Candidate is one probed version.
type Candidate struct {
	Version   *registry.Version
	Score     float64
	Valid     int
	Attempted int
}

// Detection is the chosen version and how it was chosen.
type Detection struct {
	Version    *registry.Version
	Method     Method
	Score      float64
	Candidates []Candidate // probed versions, best first; empty unless probed
}

// AmbiguousError lists the candidates that tied.
type AmbiguousError struct {
	Tag        string
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	tags := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		tags[i] = c.Version.Tag
	}
	return fmt.Sprintf("%v: tag %q matches %s", ErrAmbiguousVersion, e.Tag, strings.Join(tags, ", "))
}

func (e *AmbiguousError) Is(target error) bool { return target == ErrAmbiguousVersion }

// Detect chooses the version for raw. An exact tag match wins; otherwise,
// with opts.Heuristic, registered decoders are tried over a bounded prefix.
func Detect(raw *script.Raw, reg *registry.Registry, opts Options) (*Detection, error) {
	if opts.Force != "" {
		v, ok := reg.ByTag(opts.Force)
		if !ok {
			return nil, fmt.Errorf("%w: forced tag %q", ErrUnknownVersion, opts.Force)
		}
		return &Detection{Version: v, Method: MethodForced, Score: 1}, nil
	}

	if v, ok := reg.ByTag(raw.Tag); ok {
		if uint32(v.Format) != raw.Format {
			opts.Logger.Warn().Str("tag", raw.Tag).Int("header_format", int(raw.Format)).
				Int("registry_format", v.Format).Msg("format mismatch, trusting tag")
		}
		return &Detection{Version: v, Method: MethodExact, Score: 1}, nil
	}

	if !opts.Heuristic {
		return nil, fmt.Errorf("%w: tag %q", ErrUnknownVersion, raw.Tag)
	}
	return probe(raw, reg, opts)
}

func probe(raw *script.Raw, reg *registry.Registry, opts Options) (*Detection, error) {
	pool := reg.ByFormat(int(raw.Format))
	if len(pool) == 0 {
		pool = reg.Versions()
	}

	// Versions sharing a fingerprint decode identically; probe each group once.
	var order []uint64
	groups := make(map[uint64][]*registry.Version)
	for _, v := range pool {
		if _, seen := groups[v.Fingerprint]; !seen {
			order = append(order, v.Fingerprint)
		}
		groups[v.Fingerprint] = append(groups[v.Fingerprint], v)
	}

	var scored []Candidate
	for _, fp := range order {
		vs := groups[fp]
		t := trial(raw.Payload, vs[0], opts)
		for _, v := range vs {
			c := t.score(v)
			opts.Logger.Debug().Str("tag", raw.Tag).Str("candidate", v.Tag).
				Int("valid", c.Valid).Int("attempted", c.Attempted).Float64("score", c.Score).Msg("probe")
			scored = append(scored, c)
		}
	}
	return choose(raw.Tag, scored, opts)
}

func choose(tag string, scored []Candidate, opts Options) (*Detection, error) {
	best := -1.0
	for _, c := range scored {
		if c.Score >= opts.minScore() && c.Score > best {
			best = c.Score
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("%w: tag %q, no candidate reached score %.2f", ErrUnknownVersion, tag, opts.minScore())
	}

	var ties []Candidate
	for _, c := range scored {
		if c.Score == best {
			ties = append(ties, c)
		}
	}
	pick := ties[0]
	if len(ties) > 1 {
		if opts.TieBreak != TieNewest {
			return nil, &AmbiguousError{Tag: tag, Candidates: ties}
		}
		for _, c := range ties[1:] {
			if c.Version.Date > pick.Version.Date {
				pick = c
			}
		}
	}
	return &Detection{Version: pick.Version, Method: MethodProbed, Score: pick.Score, Candidates: ties}, nil
}

// trialResult is the outcome of decoding a payload prefix with one encoding group.
type trialResult struct {
	unit      *bytecode.Unit
	attempted int
	invalid   int
}

func trial(payload []byte, ver *registry.Version, opts Options) trialResult {
	cut := false
	if n := opts.probeMaxBytes(); len(payload) > n {
		payload = payload[:n]
		cut = true
	}
	u, err := bytecode.Decode(payload, ver, bcfmt.Options{
		Mode:     bcfmt.ModeBestEffort,
		MaxSteps: opts.probeMaxInstructions(),
	})

	var t trialResult
	t.unit = u
	for _, fn := range u.Functions {
		t.attempted += len(fn.Instructions)
		if fn.Err != nil {
			t.attempted++
			t.invalid++
		}
		for i := range fn.Instructions {
			if !arityOK(&fn.Instructions[i], ver) {
				t.invalid++
			}
		}
	}
	// Running out of probe budget or bytes is not evidence against the version.
	if err != nil && !errors.Is(err, bytecode.ErrBudget) && !(cut && errors.Is(err, bcfmt.ErrStreamEOF)) {
		t.attempted++
		t.invalid++
	}
	return t
}

// arityOK checks builtin calls against the builtin's argument range.
func arityOK(in *bytecode.Instruction, ver *registry.Version) bool {
	if in.Op != registry.OpCallBuiltin {
		return true
	}
	idx, _ := in.Arg(registry.OperandBuiltin, 0)
	b, ok := ver.Builtin(int(idx))
	return ok && b.Accepts(in.Count())
}

// score rates v on the trial's decode, counting feature-dependent
// constructs the version does not allow as invalid.
func (t trialResult) score(v *registry.Version) Candidate {
	uses := bytecode.FeatureUses(t.unit)
	decls := 0
	for _, fu := range uses {
		if fu.Func < 0 {
			decls++
		}
	}
	bad := len(bytecode.Unsupported(uses, v))

	attempted := t.attempted + decls
	valid := attempted - t.invalid - bad
	c := Candidate{Version: v, Valid: max(valid, 0), Attempted: attempted}
	switch {
	case attempted == 0:
		c.Score = 1
	default:
		c.Score = float64(c.Valid) / float64(attempted)
	}
	return c
}
