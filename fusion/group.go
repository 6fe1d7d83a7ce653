// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"strconv"
	"strings"

	"github.com/gomlx/graphfuse/graph"
	"github.com/gomlx/graphfuse/pattern"
)

// MinGroupSize is the number of members a group needs to be worth fusing.
const MinGroupSize = 2

// Role is one of the patterns a node must match to join a group. The node bound to Label is the
// matched node of the role, and its Param (by default its first operand) is the role parameter
// shared by all members of a group.
type Role struct {
	Name    string
	Matcher *pattern.Matcher
	Label   *pattern.Label

	// Param extracts the role parameter from the bound node. If nil, the bound node's first
	// operand is used.
	Param func(bound *graph.Node) *graph.Node
}

func (r Role) param(bound *graph.Node) *graph.Node {
	if r.Param != nil {
		return r.Param(bound)
	}
	if bound.NumInputs() == 0 {
		return nil
	}
	return bound.Input(0)
}

// RoleKey identifies a group by the ids of its role parameters, in role order, e.g. "0,3,7".
type RoleKey string

func makeRoleKey(params []*graph.Node) RoleKey {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strconv.Itoa(int(p.ID()))
	}
	return RoleKey(strings.Join(parts, ","))
}

// Member is a node that matched all roles.
type Member struct {
	Node *graph.Node

	// Matched holds the node bound by each role, in role order.
	Matched []*graph.Node
}

// Group collects the members sharing the same role parameters.
type Group struct {
	Key     RoleKey
	Params  []*graph.Node
	Members []Member
}

// AcceptFunc is an extra check on a node that matched every role, given the nodes bound by each
// role.
type AcceptFunc func(n *graph.Node, matched []*graph.Node) bool

// ScanGroups matches every ordered node of g against all roles, in role order, and groups the
// nodes matching all of them by role parameters.
//
// Groups with fewer than MinGroupSize members are dropped. The others are returned in the order
// their first member appears in g.OrderedNodes(), and members keep that order too. The graph is
// not modified.
func ScanGroups(g *graph.Graph, roles []Role, accept AcceptFunc) []*Group {
	byKey := make(map[RoleKey]*Group)
	var order []*Group
	for _, n := range g.OrderedNodes() {
		matched := make([]*graph.Node, 0, len(roles))
		params := make([]*graph.Node, 0, len(roles))
		for _, role := range roles {
			r := role.Matcher.TryMatch(n)
			if !r.Matched {
				break
			}
			bound := r.MustBound(role.Label)
			param := role.param(bound)
			if param == nil {
				break
			}
			matched = append(matched, bound)
			params = append(params, param)
		}
		if len(matched) != len(roles) {
			continue
		}
		if accept != nil && !accept(n, matched) {
			continue
		}
		key := makeRoleKey(params)
		group, found := byKey[key]
		if !found {
			group = &Group{Key: key, Params: params}
			byKey[key] = group
			order = append(order, group)
		}
		group.Members = append(group.Members, Member{Node: n, Matched: matched})
	}

	groups := order[:0]
	for _, group := range order {
		if len(group.Members) >= MinGroupSize {
			groups = append(groups, group)
		}
	}
	return groups
}
