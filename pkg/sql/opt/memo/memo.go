// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package memo

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/cascades/pkg/sql/opt"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props"
	"github.com/cockroachdb/cascades/pkg/sql/opt/props/physical"
	"github.com/cockroachdb/errors"
)

// GroupID identifies a memo group. Groups are numbered from 1 in creation
// order; 0 is the invalid group.
type GroupID int32

func (g GroupID) String() string {
	return "G" + strconv.Itoa(int(g))
}

// GroupExprID identifies a member expression of the memo. Ids are assigned
// in insertion order, starting at 1.
type GroupExprID int32

// GroupExpr is a memoized expression: an operator, its private and the
// groups of its inputs. Every expression belongs to exactly one group, and
// no two live expressions share the same fingerprint.
type GroupExpr struct {
	id       GroupExprID
	group    GroupID
	op       opt.Operator
	private  Private
	children []GroupID
	key      string
	hash     uint64
	fired    []uint64

	// dead is set on expressions that became duplicates of other expressions
	// after a group merge. Dead expressions are no longer group members.
	dead bool
}

// ID returns the id of the expression.
func (e *GroupExpr) ID() GroupExprID { return e.id }

// Group returns the group that owns the expression.
func (e *GroupExpr) Group() GroupID { return e.group }

// Op returns the operator of the expression.
func (e *GroupExpr) Op() opt.Operator { return e.op }

// Private returns the operator attributes of the expression.
func (e *GroupExpr) Private() Private { return e.private }

// ChildCount returns the number of inputs of the expression.
func (e *GroupExpr) ChildCount() int { return len(e.children) }

// Child returns the group of the i-th input.
func (e *GroupExpr) Child(i int) GroupID { return e.children[i] }

// Children returns the groups of the inputs. The slice must not be modified.
func (e *GroupExpr) Children() []GroupID { return e.children }

// Dead returns true if the expression was removed as a duplicate.
func (e *GroupExpr) Dead() bool { return e.dead }

// Fingerprint returns the structural key of the expression.
func (e *GroupExpr) Fingerprint() string { return e.key }

// Group is an equivalence class of expressions that produce the same set of
// rows. Groups are never deleted; a group merged into another one forwards
// to the survivor.
type Group struct {
	id      GroupID
	forward GroupID
	exprs   []GroupExprID
	rel     props.Relational
	winners map[*physical.Required]*Winner

	// referencedBy lists the expressions that use this group as an input.
	referencedBy []GroupExprID
	deriving     bool
}

// ID returns the id of the group.
func (g *Group) ID() GroupID { return g.id }

// Exprs returns the member expressions in insertion order. The slice must
// not be modified.
func (g *Group) Exprs() []GroupExprID { return g.exprs }

// Relational returns the logical properties of the group.
func (g *Group) Relational() *props.Relational { return &g.rel }

// OutputCols returns the output columns of the group.
func (g *Group) OutputCols() opt.ColList { return g.rel.OutputCols }

// Winner is the lowest cost plan found for a group under one required
// physical property. The plan is either a member expression, with the
// properties required from each of its inputs, or an enforcer placed on top
// of the group's best plan for InputRequired.
type Winner struct {
	Expr          GroupExprID
	ChildRequired []*physical.Required

	Enforcer        opt.Operator
	EnforcerPrivate Private
	InputRequired   *physical.Required

	Provided *physical.Required
	Cost     Cost

	// seq orders winners by discovery; earlier winners win ties.
	seq int
}

// IsEnforcer returns true if the winner is an enforcer.
func (w *Winner) IsEnforcer() bool {
	return w.Expr == 0
}

type cteInfo struct {
	produce   GroupID
	consumers int
}

// Memo is a data structure for efficiently storing a forest of query plans.
// Conceptually, the memo is composed of a numbered set of equivalency
// classes called groups where each group contains a set of logically
// equivalent expressions.
//
// The memo is owned by a single optimization and is not safe for concurrent
// use. Expressions are deduplicated by fingerprint: the operator, its
// private and the ids of its input groups. When a rule proves that two
// groups are equivalent their members, winners and statistics are merged;
// parents of the merged group are re-fingerprinted, which can in turn reveal
// more equivalent groups.
type Memo struct {
	md      *opt.Metadata
	groups  []*Group
	exprs   []*GroupExpr
	index   map[uint64][]GroupExprID
	props   map[string]*physical.Required
	ctes    map[int]*cteInfo
	sb      statisticsBuilder
	root    GroupID
	rootReq *physical.Required

	winnerSeq int
	merges    int
}

// Init initializes a new empty memo instance, or resets existing state so it
// can be reused.
func (m *Memo) Init(md *opt.Metadata) {
	*m = Memo{
		md:    md,
		index: make(map[uint64][]GroupExprID),
		props: make(map[string]*physical.Required),
		ctes:  make(map[int]*cteInfo),
	}
	m.sb.init(m)
}

// Metadata returns the metadata of the query.
func (m *Memo) Metadata() *opt.Metadata {
	return m.md
}

// Root returns the root group of the memo.
func (m *Memo) Root() GroupID {
	if m.root == 0 {
		return 0
	}
	return m.Find(m.root)
}

// RootRequired returns the physical properties required of the root.
func (m *Memo) RootRequired() *physical.Required {
	return m.rootReq
}

// SetRoot stores the root group and the physical properties required of it.
func (m *Memo) SetRoot(root GroupID, required *physical.Required) {
	m.root = root
	m.rootReq = m.InternPhysicalProps(required)
}

// GroupCount returns the number of live groups.
func (m *Memo) GroupCount() int {
	return len(m.groups) - m.merges
}

// ExprCount returns the number of live expressions.
func (m *Memo) ExprCount() int {
	n := 0
	for _, e := range m.exprs {
		if !e.dead {
			n++
		}
	}
	return n
}

// MergeCount returns the number of group merges performed.
func (m *Memo) MergeCount() int {
	return m.merges
}

// Find returns the group that the given group was merged into, or the group
// itself.
func (m *Memo) Find(id GroupID) GroupID {
	root := id
	for m.groups[root-1].forward != 0 {
		root = m.groups[root-1].forward
	}
	for id != root {
		next := m.groups[id-1].forward
		m.groups[id-1].forward = root
		id = next
	}
	return root
}

// Group returns the group with the given id, following merges.
func (m *Memo) Group(id GroupID) *Group {
	return m.groups[m.Find(id)-1]
}

// Expr returns the expression with the given id.
func (m *Memo) Expr(id GroupExprID) *GroupExpr {
	return m.exprs[id-1]
}

// LastExprID returns the id of the most recently added expression, or 0 if
// the memo is empty. Expressions added after a call have greater ids.
func (m *Memo) LastExprID() GroupExprID {
	return GroupExprID(len(m.exprs))
}

// ExprGroup returns the current group of the expression.
func (m *Memo) ExprGroup(id GroupExprID) GroupID {
	return m.Find(m.exprs[id-1].group)
}

// Insert adds the logical tree to the memo and returns its group. This is
// the entry point for the analyzer's tree; CTE consumers are counted here.
func (m *Memo) Insert(e *Expr) GroupID {
	m.countCTEConsumers(e)
	g, _ := m.memoize(e, 0)
	return g
}

// InsertInto adds the rule output e to the target group. The root of e
// joins the target group; its inputs are memoized in their own groups. A
// bare group reference merges the referenced group into the target. It
// returns true if the memo gained an expression or merged groups.
func (m *Memo) InsertInto(e *Expr, target GroupID) bool {
	target = m.Find(target)
	if e.IsGroupRef() {
		g := m.Find(e.Group)
		if g == target {
			return false
		}
		m.merge(target, g)
		return true
	}
	_, added := m.memoize(e, target)
	return added
}

func (m *Memo) countCTEConsumers(e *Expr) {
	if e.IsGroupRef() {
		return
	}
	if e.Op == opt.CTEConsumeOp {
		m.cte(e.Private.(*CTEConsumePrivate).ID).consumers++
	}
	for _, c := range e.Children {
		m.countCTEConsumers(c)
	}
}

func (m *Memo) cte(id int) *cteInfo {
	info, ok := m.ctes[id]
	if !ok {
		info = &cteInfo{}
		m.ctes[id] = info
	}
	return info
}

// CTEProducer returns the group of the producer of the CTE, or 0.
func (m *Memo) CTEProducer(id int) GroupID {
	if info, ok := m.ctes[id]; ok && info.produce != 0 {
		return m.Find(info.produce)
	}
	return 0
}

// CTEConsumerCount returns the number of consumers of the CTE in the
// original tree.
func (m *Memo) CTEConsumerCount(id int) int {
	if info, ok := m.ctes[id]; ok {
		return info.consumers
	}
	return 0
}

func exprKey(op opt.Operator, private Private, children []GroupID) string {
	var buf strings.Builder
	buf.WriteString(op.String())
	buf.WriteByte('{')
	if private != nil {
		private.Format(&buf, nil)
	}
	buf.WriteByte('}')
	for _, c := range children {
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(int(c)))
	}
	return buf.String()
}

func (m *Memo) lookup(hash uint64, key string) GroupExprID {
	for _, id := range m.index[hash] {
		if m.exprs[id-1].key == key {
			return id
		}
	}
	return 0
}

func (m *Memo) addToIndex(e *GroupExpr) {
	m.index[e.hash] = append(m.index[e.hash], e.id)
}

func (m *Memo) removeFromIndex(e *GroupExpr) {
	bucket := m.index[e.hash]
	for i, id := range bucket {
		if id == e.id {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(m.index, e.hash)
	} else {
		m.index[e.hash] = bucket
	}
}

func (m *Memo) newGroup() GroupID {
	id := GroupID(len(m.groups) + 1)
	m.groups = append(m.groups, &Group{id: id, winners: make(map[*physical.Required]*Winner)})
	return id
}

// memoize adds e to the memo. When target is not zero, the root of e joins
// the target group, merging groups if e already lives elsewhere.
func (m *Memo) memoize(e *Expr, target GroupID) (GroupID, bool) {
	if e.IsGroupRef() {
		return m.Find(e.Group), false
	}
	if e.Op.Arity() >= 0 && len(e.Children) != e.Op.Arity() {
		panic(errors.AssertionFailedf("%s expects %d inputs, got %d", e.Op, e.Op.Arity(), len(e.Children)))
	}
	added := false
	children := make([]GroupID, len(e.Children))
	for i, c := range e.Children {
		var childAdded bool
		children[i], childAdded = m.memoize(c, 0)
		added = added || childAdded
	}
	key := exprKey(e.Op, e.Private, children)
	hash := xxhash.Sum64String(key)
	if existing := m.lookup(hash, key); existing != 0 {
		g := m.ExprGroup(existing)
		if target != 0 && g != m.Find(target) {
			m.merge(target, g)
			return m.Find(target), true
		}
		return g, added
	}

	childCols := make([]opt.ColList, len(children))
	for i, c := range children {
		childCols[i] = m.Group(c).rel.OutputCols
	}
	cols := OutputCols(e.Op, e.Private, childCols)

	grp := target
	if grp == 0 {
		grp = m.newGroup()
	} else {
		grp = m.Find(grp)
		if want := m.Group(grp).rel.OutputCols; !want.ToSet().Equals(cols.ToSet()) {
			panic(errors.AssertionFailedf(
				"%s produces columns %v, but %s produces %v", e.Op, cols, grp, want))
		}
	}
	ge := &GroupExpr{
		id:       GroupExprID(len(m.exprs) + 1),
		group:    grp,
		op:       e.Op,
		private:  e.Private,
		children: children,
		key:      key,
		hash:     hash,
	}
	m.exprs = append(m.exprs, ge)
	m.addToIndex(ge)
	for _, c := range children {
		cg := m.Group(c)
		cg.referencedBy = append(cg.referencedBy, ge.id)
	}
	g := m.Group(grp)
	g.exprs = append(g.exprs, ge.id)
	if len(g.exprs) == 1 {
		g.rel.OutputCols = cols
	} else if g.rel.Stats != nil && ge.op.IsLogical() {
		m.refineStats(g, ge)
	}
	if ge.op == opt.CTEProduceOp {
		m.cte(e.Private.(*CTEPrivate).ID).produce = grp
	}
	return grp, true
}

// merge merges the two groups, and any further groups found to be
// equivalent while re-fingerprinting their parents. The group with the lower
// id survives, so that membership does not depend on discovery order.
func (m *Memo) merge(a, b GroupID) {
	pending := [][2]GroupID{{a, b}}
	for len(pending) > 0 {
		pair := pending[0]
		pending = pending[1:]
		x, y := m.Find(pair[0]), m.Find(pair[1])
		if x == y {
			continue
		}
		survivor, loser := x, y
		if loser < survivor {
			survivor, loser = loser, survivor
		}
		sg, lg := m.groups[survivor-1], m.groups[loser-1]
		lg.forward = survivor
		m.merges++

		for _, id := range lg.exprs {
			e := m.exprs[id-1]
			if e.dead {
				continue
			}
			e.group = survivor
			sg.exprs = append(sg.exprs, id)
		}
		lg.exprs = nil

		winners := make([]struct {
			req *physical.Required
			w   *Winner
		}, 0, len(lg.winners))
		for req, w := range lg.winners {
			winners = append(winners, struct {
				req *physical.Required
				w   *Winner
			}{req, w})
		}
		sort.Slice(winners, func(i, j int) bool { return winners[i].w.seq < winners[j].w.seq })
		for _, entry := range winners {
			m.recordWinner(sg, entry.req, entry.w)
		}
		lg.winners = nil

		switch {
		case sg.rel.Stats == nil:
			sg.rel.Stats = lg.rel.Stats
		case lg.rel.Stats != nil && lg.rel.Stats.RowCount < sg.rel.Stats.RowCount:
			sg.rel.Stats = lg.rel.Stats
		}

		parents := lg.referencedBy
		lg.referencedBy = nil
		for _, pid := range parents {
			pe := m.exprs[pid-1]
			if pe.dead {
				continue
			}
			sg.referencedBy = append(sg.referencedBy, pid)
			m.removeFromIndex(pe)
			for i, c := range pe.children {
				pe.children[i] = m.Find(c)
			}
			pe.key = exprKey(pe.op, pe.private, pe.children)
			pe.hash = xxhash.Sum64String(pe.key)
			if other := m.lookup(pe.hash, pe.key); other != 0 && other != pid {
				m.kill(pe, m.exprs[other-1])
				if og, pg := m.ExprGroup(other), m.Find(pe.group); og != pg {
					pending = append(pending, [2]GroupID{og, pg})
				}
				continue
			}
			m.addToIndex(pe)
		}
	}
}

// kill removes an expression that became a duplicate of other. Winners and
// rule firings recorded for e carry over to other.
func (m *Memo) kill(e, other *GroupExpr) {
	e.dead = true
	for i, bits := range e.fired {
		for len(other.fired) <= i {
			other.fired = append(other.fired, 0)
		}
		other.fired[i] |= bits
	}
	g := m.Group(e.group)
	for _, w := range g.winners {
		if w.Expr == e.id {
			w.Expr = other.id
		}
	}
	for i, id := range g.exprs {
		if id == e.id {
			g.exprs = append(g.exprs[:i:i], g.exprs[i+1:]...)
			break
		}
	}
}

// InternPhysicalProps adds the given properties to the memo if they haven't
// yet been added. If the same properties were added previously, then return
// the previous properties. This allows interned properties to be compared by
// pointer.
func (m *Memo) InternPhysicalProps(p *physical.Required) *physical.Required {
	key := p.Fingerprint()
	if existing, ok := m.props[key]; ok {
		return existing
	}
	cp := &physical.Required{Distribution: p.Distribution, Ordering: p.Ordering.Copy()}
	m.props[key] = cp
	return cp
}

// HasFired returns true if the rule was applied to the expression.
func (m *Memo) HasFired(e GroupExprID, rule int) bool {
	fired := m.exprs[e-1].fired
	word := rule / 64
	return word < len(fired) && fired[word]&(1<<uint(rule%64)) != 0
}

// MarkFired records that the rule was applied to the expression.
func (m *Memo) MarkFired(e GroupExprID, rule int) {
	ge := m.exprs[e-1]
	word := rule / 64
	for len(ge.fired) <= word {
		ge.fired = append(ge.fired, 0)
	}
	ge.fired[word] |= 1 << uint(rule%64)
}

// RecordWinner offers a candidate plan for the group under the required
// properties. The candidate is accepted unless a winner already recorded for
// the same or a stronger requirement costs no more; on ties the first
// discovered plan wins. It returns true if the candidate was accepted.
func (m *Memo) RecordWinner(id GroupID, required *physical.Required, w *Winner) bool {
	m.winnerSeq++
	w.seq = m.winnerSeq
	return m.recordWinner(m.Group(id), required, w)
}

func (m *Memo) recordWinner(g *Group, required *physical.Required, w *Winner) bool {
	best := bestWinner(g, required)
	if best != nil && !w.Cost.Less(best.Cost) {
		g.winners[required] = best
		return false
	}
	g.winners[required] = w
	return true
}

func bestWinner(g *Group, required *physical.Required) *Winner {
	var best *Winner
	for p, w := range g.winners {
		if p != required && !p.Satisfies(required) {
			continue
		}
		if best == nil || w.Cost.Less(best.Cost) || (!best.Cost.Less(w.Cost) && w.seq < best.seq) {
			best = w
		}
	}
	return best
}

// BestWinner returns the lowest cost plan of the group that satisfies the
// required properties, or nil.
func (m *Memo) BestWinner(id GroupID, required *physical.Required) *Winner {
	return bestWinner(m.Group(id), required)
}

// Winners returns the required properties for which the group has a winner,
// in discovery order of their winners.
func (m *Memo) Winners(id GroupID) []*physical.Required {
	g := m.Group(id)
	res := make([]*physical.Required, 0, len(g.winners))
	for p := range g.winners {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool {
		wi, wj := g.winners[res[i]], g.winners[res[j]]
		if wi.seq != wj.seq {
			return wi.seq < wj.seq
		}
		return res[i].String() < res[j].String()
	})
	return res
}

// Stats returns the statistics of the group, deriving them from the group's
// first logical member if needed.
func (m *Memo) Stats(id GroupID) *props.Statistics {
	g := m.Group(id)
	if g.rel.Stats != nil {
		return g.rel.Stats
	}
	if g.deriving {
		panic(errors.AssertionFailedf("cycle while deriving statistics of %s", g.id))
	}
	rep := m.representative(g)
	if rep == nil {
		panic(errors.AssertionFailedf("%s has no logical expression to derive statistics from", g.id))
	}
	g.deriving = true
	stats := m.sb.build(rep)
	g = m.Group(id)
	g.deriving = false
	g.rel.Stats = stats
	return stats
}

// StatsDerived returns true if the statistics of the group are available
// without derivation.
func (m *Memo) StatsDerived(id GroupID) bool {
	return m.Group(id).rel.Stats != nil
}

// Representative returns the member whose logical semantics define the
// group's statistics: the first live logical member that does not use the
// group itself as an input.
func (m *Memo) Representative(id GroupID) *GroupExpr {
	return m.representative(m.Group(id))
}

func (m *Memo) representative(g *Group) *GroupExpr {
	for _, id := range g.exprs {
		e := m.exprs[id-1]
		if !e.op.IsLogical() {
			continue
		}
		selfRef := false
		for _, c := range e.children {
			if m.Find(c) == g.id {
				selfRef = true
				break
			}
		}
		if !selfRef {
			return e
		}
	}
	return nil
}

// refineStats replaces the statistics of the group when a new logical member
// yields a strictly lower row count. Only members whose inputs already have
// statistics are considered.
func (m *Memo) refineStats(g *Group, e *GroupExpr) {
	for _, c := range e.children {
		if m.Find(c) == g.id || !m.StatsDerived(c) {
			return
		}
	}
	cand := m.sb.build(e)
	if cand.RowCount < g.rel.Stats.RowCount {
		g.rel.Stats = cand
	}
}
