package cfg

import "sort"

// computeDominators runs the iterative Cooper-Harvey-Kennedy algorithm
// from the entry block and records reachability.
func (g *Graph) computeDominators() {
	n := len(g.Blocks)
	g.rpo = reversePostorder(n, 0, func(b int) []int {
		var out []int
		for _, s := range g.Blocks[b].Succs {
			if s.BlockID >= 0 {
				out = append(out, s.BlockID)
			}
		}
		return out
	})
	g.order = make([]int, n)
	for i := range g.order {
		g.order[i] = -1
	}
	for i, b := range g.rpo {
		g.order[b] = i
		g.Blocks[b].Reachable = true
	}
	for i := range g.Blocks {
		if !g.Blocks[i].Reachable {
			g.Unreachable = append(g.Unreachable, i)
		}
	}

	g.Idom = iterateDominators(n, g.rpo, g.order, func(b int) []int { return g.Blocks[b].Preds })
}

// computePostDominators runs the same algorithm on the reversed graph.
// Node n stands for Exit; blocks with no path to Exit get None.
func (g *Graph) computePostDominators() {
	n := len(g.Blocks)
	exit := n

	// Reverse-graph successors are forward predecessors.
	var exitPreds []int
	for i := range g.Blocks {
		b := &g.Blocks[i]
		if b.IsTerm {
			exitPreds = append(exitPreds, i)
			continue
		}
		for _, s := range b.Succs {
			if s.BlockID == Exit {
				exitPreds = append(exitPreds, i)
				break
			}
		}
	}
	rsuccs := func(b int) []int {
		if b == exit {
			return exitPreds
		}
		return g.Blocks[b].Preds
	}
	rpreds := func(b int) []int {
		var out []int
		for _, s := range g.Blocks[b].Succs {
			if s.BlockID == Exit {
				out = append(out, exit)
			} else {
				out = append(out, s.BlockID)
			}
		}
		if g.Blocks[b].IsTerm {
			out = append(out, exit)
		}
		return out
	}

	rpo := reversePostorder(n+1, exit, rsuccs)
	order := make([]int, n+1)
	for i := range order {
		order[i] = -1
	}
	for i, b := range rpo {
		order[b] = i
	}
	ipdom := iterateDominators(n+1, rpo, order, func(b int) []int {
		if b == exit {
			return nil
		}
		return rpreds(b)
	})

	g.Ipdom = make([]int, n)
	for i := 0; i < n; i++ {
		switch d := ipdom[i]; {
		case d == None:
			g.Ipdom[i] = None
		case d == exit:
			g.Ipdom[i] = Exit
		default:
			g.Ipdom[i] = d
		}
	}
}

func reversePostorder(n, root int, succs func(int) []int) []int {
	visited := make([]bool, n)
	var post []int
	type frame struct {
		b    int
		next int
	}
	stack := []frame{{b: root}}
	visited[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		ss := succs(top.b)
		if top.next < len(ss) {
			s := ss[top.next]
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

func iterateDominators(n int, rpo, order []int, preds func(int) []int) []int {
	idom := make([]int, n)
	for i := range idom {
		idom[i] = None
	}
	if len(rpo) == 0 {
		return idom
	}
	root := rpo[0]
	idom[root] = root

	intersect := func(a, b int) int {
		for a != b {
			for order[a] > order[b] {
				a = idom[a]
			}
			for order[b] > order[a] {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for _, b := range rpo[1:] {
			nd := None
			for _, p := range preds(b) {
				if order[p] < 0 || idom[p] == None {
					continue
				}
				if nd == None {
					nd = p
				} else {
					nd = intersect(p, nd)
				}
			}
			if nd != idom[b] {
				idom[b] = nd
				changed = true
			}
		}
	}
	return idom
}

// Dominates reports whether block a dominates block b.
func (g *Graph) Dominates(a, b int) bool {
	if a < 0 || b < 0 || g.Idom[b] == None || g.Idom[a] == None {
		return false
	}
	for {
		if a == b {
			return true
		}
		d := g.Idom[b]
		if d == b {
			return false
		}
		b = d
	}
}

// PostDominates reports whether a (a block or Exit) post-dominates block b.
func (g *Graph) PostDominates(a, b int) bool {
	if b < 0 {
		return a == b
	}
	for b >= 0 {
		if a == b {
			return true
		}
		b = g.Ipdom[b]
	}
	return a == Exit && b == Exit
}

// Loop is a natural loop: all blocks that reach a latch without passing the header.
type Loop struct {
	Header  int
	Latches []int
	Body    []int // sorted, includes Header
	Exits   []int // distinct targets outside the body, possibly Exit
	in      map[int]bool
}

// Contains reports whether block b belongs to the loop body.
func (l *Loop) Contains(b int) bool { return l.in[b] }

// Loops returns the natural loops, one per header, in header order.
func (g *Graph) Loops() []*Loop {
	byHeader := make(map[int]*Loop)
	var headers []int
	for _, e := range g.BackEdges {
		l, ok := byHeader[e.To]
		if !ok {
			l = &Loop{Header: e.To, in: map[int]bool{e.To: true}}
			byHeader[e.To] = l
			headers = append(headers, e.To)
		}
		l.Latches = append(l.Latches, e.From)
		work := []int{e.From}
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			if l.in[b] || !g.Blocks[b].Reachable {
				continue
			}
			l.in[b] = true
			work = append(work, g.Blocks[b].Preds...)
		}
	}
	sort.Ints(headers)

	out := make([]*Loop, 0, len(headers))
	for _, h := range headers {
		l := byHeader[h]
		seen := map[int]bool{}
		for b := range l.in {
			l.Body = append(l.Body, b)
			for _, s := range g.Blocks[b].Succs {
				if !l.in[s.BlockID] && !seen[s.BlockID] {
					seen[s.BlockID] = true
					l.Exits = append(l.Exits, s.BlockID)
				}
			}
		}
		sort.Ints(l.Body)
		sort.Ints(l.Exits)
		out = append(out, l)
	}
	return out
}
