// Package cfg builds control-flow graphs over decoded functions.
package cfg

import (
	"fmt"
	"sort"

	"gdsdecomp/internal/bytecode"
	"gdsdecomp/internal/registry"
)

// Exit is the virtual block reached by returns and by jumps to the end of code.
const Exit = -1

// None marks a missing dominator (unreachable block, or no path to Exit).
const None = -2

// EdgeKind classifies a successor edge.
type EdgeKind uint8

const (
	EdgeFallthrough EdgeKind = iota
	EdgeJump                 // unconditional jump
	EdgeBranch               // taken arm of a conditional
	EdgeBack                 // target dominates source
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeJump:
		return "jump"
	case EdgeBranch:
		return "branch"
	case EdgeBack:
		return "back"
	}
	return "fallthrough"
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int      // target block, or Exit
	Cond    string   // "" = unconditional, "T" = condition holds, "F" = condition fails
	Kind    EdgeKind
}

// Block is a maximal straight-line instruction run with a single entry.
type Block struct {
	ID        int
	Start     int // index into Graph.Insts (inclusive)
	End       int // index into Graph.Insts (exclusive)
	Succs     []Succ
	Preds     []int
	IsEntry   bool
	IsTerm    bool // ends with a return
	Reachable bool
}

// Last returns the block's final instruction.
func (b *Block) Last(g *Graph) *bytecode.Instruction { return &g.Insts[b.End-1] }

// Succ returns the successor with the given condition label.
func (b *Block) Succ(cond string) (Succ, bool) {
	for _, s := range b.Succs {
		if s.Cond == cond {
			return s, true
		}
	}
	return Succ{}, false
}

// Edge is a (from, to) block pair.
type Edge struct {
	From, To int
}

// Graph is a per-function control-flow graph with dominance information.
type Graph struct {
	Name   string
	Blocks []Block
	Insts  []bytecode.Instruction

	Idom        []int // immediate dominator; entry maps to itself, None if unreachable
	Ipdom       []int // immediate post-dominator; Exit or None when no path to Exit
	BackEdges   []Edge
	Unreachable []int

	blockOf []int
	rpo     []int
	order   []int // block -> position in rpo
}

// BlockError reports a malformed graph.
type BlockError struct {
	Block int
	Msg   string
}

func (e *BlockError) Error() string { return fmt.Sprintf("cfg: block %d: %s", e.Block, e.Msg) }

// Build constructs the control flow graph of fn.
// The algorithm:
//  1. Find block leaders: index 0, jump targets, instructions after branches.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction.
//  4. Compute dominators, post-dominators and back edges.
func Build(name string, fn *bytecode.Function) (*Graph, error) {
	g := &Graph{Name: name, Insts: fn.Instructions}
	insts := fn.Instructions
	if len(insts) == 0 {
		return g, nil
	}
	codeEnd := len(fn.Code)

	offToIdx := make(map[int]int, len(insts))
	for i := range insts {
		offToIdx[insts[i].Offset] = i
	}
	// resolve maps a jump target to an instruction index, or len(insts) for end of code.
	resolve := func(in *bytecode.Instruction) (int, error) {
		t, _ := in.Target()
		if t == codeEnd {
			return len(insts), nil
		}
		idx, ok := offToIdx[t]
		if !ok {
			return 0, fmt.Errorf("%s at 0x%x targets 0x%x, not an instruction", in.Op, in.Offset, t)
		}
		return idx, nil
	}

	// Pass 1: Identify block leaders.
	leaders := map[int]bool{0: true}
	for i := range insts {
		in := &insts[i]
		if !in.Spec.Flow.IsBranch() {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		if in.Spec.Flow == registry.FlowReturn {
			continue
		}
		idx, err := resolve(in)
		if err != nil {
			return nil, &BlockError{Block: len(leaders) - 1, Msg: err.Error()}
		}
		if idx < len(insts) {
			leaders[idx] = true
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	g.Blocks = make([]Block, len(sorted))
	g.blockOf = make([]int, len(insts))
	leaderToBlock := make(map[int]int, len(sorted)+1)
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		g.Blocks[i] = Block{ID: i, Start: start, End: end, IsEntry: start == 0}
		leaderToBlock[start] = i
		for j := start; j < end; j++ {
			g.blockOf[j] = i
		}
	}
	leaderToBlock[len(insts)] = Exit

	// Pass 3: Compute successors.
	for i := range g.Blocks {
		blk := &g.Blocks[i]
		last := &insts[blk.End-1]
		next := leaderToBlock[blk.End]

		switch flow := last.Spec.Flow; flow {
		case registry.FlowNone:
			blk.Succs = append(blk.Succs, Succ{BlockID: next, Kind: EdgeFallthrough})
		case registry.FlowReturn:
			blk.IsTerm = true
		default:
			idx, err := resolve(last)
			if err != nil {
				return nil, &BlockError{Block: i, Msg: err.Error()}
			}
			target := leaderToBlock[idx]
			switch flow {
			case registry.FlowJump:
				blk.Succs = append(blk.Succs, Succ{BlockID: target, Kind: EdgeJump})
			case registry.FlowBranchFalse, registry.FlowIterBegin:
				// Taken when the condition fails (or the container is empty).
				blk.Succs = append(blk.Succs,
					Succ{BlockID: next, Cond: "T", Kind: EdgeFallthrough},
					Succ{BlockID: target, Cond: "F", Kind: EdgeBranch})
			case registry.FlowBranchTrue, registry.FlowIterNext:
				blk.Succs = append(blk.Succs,
					Succ{BlockID: target, Cond: "T", Kind: EdgeBranch},
					Succ{BlockID: next, Cond: "F", Kind: EdgeFallthrough})
			}
		}
	}
	for i := range g.Blocks {
		for _, s := range g.Blocks[i].Succs {
			if s.BlockID >= 0 {
				g.Blocks[s.BlockID].Preds = append(g.Blocks[s.BlockID].Preds, i)
			}
		}
	}

	g.computeDominators()
	g.computePostDominators()
	g.markBackEdges()
	return g, nil
}

// BlockOf returns the block holding instruction index i.
func (g *Graph) BlockOf(i int) int { return g.blockOf[i] }

// RPO returns the reachable blocks in reverse post-order.
func (g *Graph) RPO() []int { return g.rpo }

// IsBackEdge reports whether from->to is a back edge.
func (g *Graph) IsBackEdge(from, to int) bool {
	for _, e := range g.BackEdges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

func (g *Graph) markBackEdges() {
	for i := range g.Blocks {
		if !g.Blocks[i].Reachable {
			continue
		}
		for j := range g.Blocks[i].Succs {
			s := &g.Blocks[i].Succs[j]
			if s.BlockID >= 0 && g.Dominates(s.BlockID, i) {
				s.Kind = EdgeBack
				g.BackEdges = append(g.BackEdges, Edge{From: i, To: s.BlockID})
			}
		}
	}
}
