package registry

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
)

// Data file layout, decoded with BurntSushi/toml.
type fileData struct {
	Mnemonics   map[string]mnemonicData  `toml:"mnemonics"`
	Widths      map[string]widthData     `toml:"widths"`
	Constants   map[string]constantsData `toml:"constants"`
	Identifiers map[string]identData     `toml:"identifiers"`
	BuiltinArgs map[string][]int         `toml:"builtin_args"`
	Versions    []versionData            `toml:"version"`
}

type mnemonicData struct {
	Operands    []string `toml:"operands"`
	Pop         int      `toml:"pop"`
	PopPerCount int      `toml:"pop_per_count"`
	Push        int      `toml:"push"`
	Flow        string   `toml:"flow"`
	Requires    string   `toml:"requires"`
}

type widthData struct {
	Const   int `toml:"const"`
	Local   int `toml:"local"`
	Ident   int `toml:"ident"`
	Jump    int `toml:"jump"`
	Count   int `toml:"count"`
	Builtin int `toml:"builtin"`
	Type    int `toml:"type"`
}

type constantsData struct {
	Nil      int  `toml:"nil"`
	Bool     int  `toml:"bool"`
	Int      int  `toml:"int"`
	Float    int  `toml:"float"`
	String   int  `toml:"string"`
	NodePath int  `toml:"node_path"`
	Object   int  `toml:"object"`
	Flag64   bool `toml:"flag64"`
}

type identData struct {
	Encoding string `toml:"encoding"`
	XOR      int    `toml:"xor"`
}

type insertData struct {
	Name  string `toml:"name"`
	After string `toml:"after"`
}

type versionData struct {
	Commit      string `toml:"commit"`
	Base        string `toml:"base"`
	Name        string `toml:"name"`
	Date        string `toml:"date"`
	Description string `toml:"description"`
	Format      int    `toml:"format"`
	Engine      int    `toml:"engine"`
	Widths      string `toml:"widths"`
	Constants   string `toml:"constants"`
	Identifiers string `toml:"identifiers"`

	Ops            []string          `toml:"ops"`
	OpsAdd         []insertData      `toml:"ops_add"`
	OpsRemove      []string          `toml:"ops_remove"`
	Builtins       []string          `toml:"builtins"`
	BuiltinsAdd    []insertData      `toml:"builtins_add"`
	BuiltinsRemove []string          `toml:"builtins_remove"`
	BuiltinsRename map[string]string `toml:"builtins_rename"`
	BuiltinsArity  map[string][]int  `toml:"builtins_arity"`
	FeaturesAdd    []string          `toml:"features_add"`
	FeaturesRemove []string          `toml:"features_remove"`
}

// resolved is a version's fully inherited state before materialization.
type resolved struct {
	format, engine                 int
	widths, constants, identifiers string
	ops, builtins                  []string
	arity                          map[string][]int
	features                       map[string]bool
}

func (r *resolved) clone() *resolved {
	c := *r
	c.ops = slices.Clone(r.ops)
	c.builtins = slices.Clone(r.builtins)
	c.arity = make(map[string][]int, len(r.arity))
	for k, v := range r.arity {
		c.arity[k] = v
	}
	c.features = make(map[string]bool, len(r.features))
	for k, v := range r.features {
		c.features[k] = v
	}
	return &c
}

// Build parses registry data and resolves every version.
func Build(data []byte) (*Registry, error) {
	var fd fileData
	if _, err := toml.Decode(string(data), &fd); err != nil {
		return nil, fmt.Errorf("registry: parse: %w", err)
	}

	catalog, err := buildCatalog(fd.Mnemonics)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		byID:     make(map[uint32]*Version, len(fd.Versions)),
		byFormat: make(map[int][]*Version),
	}
	states := make(map[string]*resolved, len(fd.Versions))

	for i, vd := range fd.Versions {
		st, err := resolve(vd, states)
		if err != nil {
			return nil, fmt.Errorf("registry: version %s: %w", vd.Commit, err)
		}
		v, err := materialize(vd, st, &fd, catalog)
		if err != nil {
			return nil, fmt.Errorf("registry: version %s: %w", vd.Commit, err)
		}
		v.order = i
		if _, dup := reg.byID[v.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate commit %s", vd.Commit)
		}
		states[vd.Commit] = st
		reg.byID[v.ID] = v
		reg.versions = append(reg.versions, v)
	}

	// Newest first; entries sharing a date keep reverse file order.
	sort.SliceStable(reg.versions, func(i, j int) bool {
		a, b := reg.versions[i], reg.versions[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return a.order > b.order
	})
	for _, v := range reg.versions {
		reg.byFormat[v.Format] = append(reg.byFormat[v.Format], v)
	}
	return reg, nil
}

func buildCatalog(md map[string]mnemonicData) (map[string]OpcodeSpec, error) {
	out := make(map[string]OpcodeSpec, len(md))
	for name, m := range md {
		flow, ok := flowNames[m.Flow]
		if !ok {
			return nil, fmt.Errorf("registry: mnemonic %s: unknown flow %q", name, m.Flow)
		}
		spec := OpcodeSpec{
			Name:        Mnemonic(name),
			Pop:         m.Pop,
			PopPerCount: m.PopPerCount,
			Push:        m.Push,
			Flow:        flow,
			Requires:    Feature(m.Requires),
		}
		hasCount := false
		for _, o := range m.Operands {
			k, ok := parseOperandKind(o)
			if !ok {
				return nil, fmt.Errorf("registry: mnemonic %s: unknown operand kind %q", name, o)
			}
			if k == OperandCount {
				hasCount = true
			}
			spec.Operands = append(spec.Operands, k)
		}
		if m.PopPerCount > 0 && !hasCount {
			return nil, fmt.Errorf("registry: mnemonic %s: pop_per_count without a count operand", name)
		}
		if flow != FlowNone && flow != FlowReturn && !slices.Contains(spec.Operands, OperandJump) {
			return nil, fmt.Errorf("registry: mnemonic %s: flow %q needs a jump operand", name, m.Flow)
		}
		out[name] = spec
	}
	return out, nil
}

func resolve(vd versionData, states map[string]*resolved) (*resolved, error) {
	var st *resolved
	if vd.Base == "" {
		if len(vd.Ops) == 0 || len(vd.Builtins) == 0 {
			return nil, fmt.Errorf("root entry needs ops and builtins")
		}
		st = &resolved{
			ops:      slices.Clone(vd.Ops),
			builtins: slices.Clone(vd.Builtins),
			arity:    map[string][]int{},
			features: map[string]bool{},
		}
	} else {
		base, ok := states[vd.Base]
		if !ok {
			return nil, fmt.Errorf("unknown base %q (bases must precede their children)", vd.Base)
		}
		if len(vd.Ops) > 0 || len(vd.Builtins) > 0 {
			return nil, fmt.Errorf("derived entry must use deltas, not full lists")
		}
		st = base.clone()
	}

	if vd.Format != 0 {
		st.format = vd.Format
	}
	if vd.Engine != 0 {
		st.engine = vd.Engine
	}
	if vd.Widths != "" {
		st.widths = vd.Widths
	}
	if vd.Constants != "" {
		st.constants = vd.Constants
	}
	if vd.Identifiers != "" {
		st.identifiers = vd.Identifiers
	}

	var err error
	if st.ops, err = insertAll(st.ops, vd.OpsAdd); err != nil {
		return nil, fmt.Errorf("ops_add: %w", err)
	}
	if st.ops, err = removeAll(st.ops, vd.OpsRemove); err != nil {
		return nil, fmt.Errorf("ops_remove: %w", err)
	}
	if st.builtins, err = insertAll(st.builtins, vd.BuiltinsAdd); err != nil {
		return nil, fmt.Errorf("builtins_add: %w", err)
	}
	if st.builtins, err = removeAll(st.builtins, vd.BuiltinsRemove); err != nil {
		return nil, fmt.Errorf("builtins_remove: %w", err)
	}
	for from, to := range vd.BuiltinsRename {
		i := slices.Index(st.builtins, from)
		if i < 0 {
			return nil, fmt.Errorf("builtins_rename: %q not present", from)
		}
		st.builtins[i] = to
	}
	for name, a := range vd.BuiltinsArity {
		st.arity[name] = a
	}
	for _, f := range vd.FeaturesAdd {
		st.features[f] = true
	}
	for _, f := range vd.FeaturesRemove {
		delete(st.features, f)
	}
	return st, nil
}

func insertAll(list []string, adds []insertData) ([]string, error) {
	for _, a := range adds {
		if slices.Contains(list, a.Name) {
			return nil, fmt.Errorf("%q already present", a.Name)
		}
		i := slices.Index(list, a.After)
		if i < 0 {
			return nil, fmt.Errorf("anchor %q for %q not present", a.After, a.Name)
		}
		list = slices.Insert(list, i+1, a.Name)
	}
	return list, nil
}

func removeAll(list []string, names []string) ([]string, error) {
	for _, n := range names {
		i := slices.Index(list, n)
		if i < 0 {
			return nil, fmt.Errorf("%q not present", n)
		}
		list = slices.Delete(list, i, i+1)
	}
	return list, nil
}

func materialize(vd versionData, st *resolved, fd *fileData, catalog map[string]OpcodeSpec) (*Version, error) {
	id, err := parseCommit(vd.Commit)
	if err != nil {
		return nil, err
	}
	if st.format == 0 || st.engine == 0 {
		return nil, fmt.Errorf("format and engine must be set")
	}

	wd, ok := fd.Widths[st.widths]
	if !ok {
		return nil, fmt.Errorf("unknown widths %q", st.widths)
	}
	var w Widths
	w[OperandConst], w[OperandLocal], w[OperandIdent] = wd.Const, wd.Local, wd.Ident
	w[OperandJump], w[OperandCount], w[OperandBuiltin], w[OperandType] = wd.Jump, wd.Count, wd.Builtin, wd.Type
	for k := OperandConst; k < numOperandKinds; k++ {
		switch w[k] {
		case 1, 2, 4:
		default:
			return nil, fmt.Errorf("widths %s: %s width %d not in {1,2,4}", st.widths, k, w[k])
		}
	}

	cd, ok := fd.Constants[st.constants]
	if !ok {
		return nil, fmt.Errorf("unknown constants %q", st.constants)
	}
	cr := ConstantRules{
		Nil: uint16(cd.Nil), Bool: uint16(cd.Bool), Int: uint16(cd.Int), Float: uint16(cd.Float),
		String: uint16(cd.String), NodePath: uint16(cd.NodePath), Object: uint16(cd.Object),
		Flag64: cd.Flag64,
	}

	idd, ok := fd.Identifiers[st.identifiers]
	if !ok {
		return nil, fmt.Errorf("unknown identifiers %q", st.identifiers)
	}
	ir := IdentRules{XOR: byte(idd.XOR)}
	switch idd.Encoding {
	case "utf8":
		ir.Encoding = IdentUTF8
	case "utf32":
		ir.Encoding = IdentUTF32
	default:
		return nil, fmt.Errorf("identifiers %s: unknown encoding %q", st.identifiers, idd.Encoding)
	}

	if len(st.ops) > 256 {
		return nil, fmt.Errorf("%d opcodes exceed one byte", len(st.ops))
	}
	v := &Version{
		ID:            id,
		Commit:        vd.Commit,
		Tag:           FormatTag(id),
		Base:          vd.Base,
		Name:          vd.Name,
		Date:          vd.Date,
		Description:   vd.Description,
		Format:        st.format,
		Engine:        st.engine,
		Widths:        w,
		WidthsName:    st.widths,
		Constants:     cr,
		ConstantsName: st.constants,
		Identifiers:   ir,
		features:      make(map[Feature]bool, len(st.features)),
		byName:        make(map[Mnemonic]*OpcodeSpec, len(st.ops)),
		builtins:      make(map[string]int, len(st.builtins)),
	}
	for f := range st.features {
		v.features[Feature(f)] = true
	}

	v.Opcodes = make([]OpcodeSpec, len(st.ops))
	for i, name := range st.ops {
		spec, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("opcode %q not in mnemonic catalog", name)
		}
		spec.Code = byte(i)
		v.Opcodes[i] = spec
	}
	for i := range v.Opcodes {
		v.byName[v.Opcodes[i].Name] = &v.Opcodes[i]
	}

	if max := maxIndex(w.Of(OperandBuiltin)); len(st.builtins) > max {
		return nil, fmt.Errorf("%d builtins exceed builtin width %d", len(st.builtins), w.Of(OperandBuiltin))
	}
	v.Builtins = make([]Builtin, len(st.builtins))
	for i, name := range st.builtins {
		a, ok := st.arity[name]
		if !ok {
			a, ok = fd.BuiltinArgs[name]
		}
		if !ok || len(a) != 2 {
			return nil, fmt.Errorf("builtin %q has no [min, max] arity", name)
		}
		v.Builtins[i] = Builtin{Name: name, MinArgs: a[0], MaxArgs: a[1]}
		v.builtins[name] = i
	}

	v.Fingerprint = fingerprint(v)
	return v, nil
}

func maxIndex(width int) int {
	if width >= 4 {
		return 1 << 31
	}
	return 1 << (8 * width)
}

// fingerprint hashes everything that changes how bytes decode.
// Features are excluded: they affect reconstruction, not decoding.
func fingerprint(v *Version) uint64 {
	h := xxhash.New()
	var buf [8]byte
	putInt := func(n int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	for _, op := range v.Opcodes {
		h.WriteString(string(op.Name))
		for _, k := range op.Operands {
			putInt(int(k))
		}
		h.WriteString(";")
	}
	for _, n := range v.Widths {
		putInt(n)
	}
	c := v.Constants
	for _, id := range []uint16{c.Nil, c.Bool, c.Int, c.Float, c.String, c.NodePath, c.Object} {
		putInt(int(id))
	}
	if c.Flag64 {
		putInt(1)
	}
	putInt(int(v.Identifiers.Encoding))
	putInt(int(v.Identifiers.XOR))
	for _, b := range v.Builtins {
		h.WriteString(b.Name)
		putInt(b.MinArgs)
		putInt(b.MaxArgs)
	}
	return h.Sum64()
}
