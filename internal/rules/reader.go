package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ruleIDPattern matches the four-digit zero-padded rule sequence number.
var ruleIDPattern = regexp.MustCompile(`^[0-9]{4}$`)

// ReadRules builds the ordered RuleList for sa from its flat leaf map, as
// produced by stripping the "/qubes-firewall/<sa>/" prefix from every key
// under that path. It implements the config reader's read_rules operation
// (spec §4.1): every non-"policy" leaf must be a four-digit identifier,
// every rule value must split into k=v tokens, and every rule must carry
// an action. The returned list is ordered by identifier and ends with the
// synthetic policy rule.
func ReadRules(sa string, leaves map[string]string) (RuleList, error) {
	policyVal, hasPolicy := leaves["policy"]
	if !hasPolicy {
		return RuleList{}, newParseError(sa, "missing policy entry", nil)
	}
	policy, err := parseAction(policyVal)
	if err != nil {
		return RuleList{}, newParseError(sa, "invalid policy value", err)
	}

	ids := make([]string, 0, len(leaves))
	for leaf := range leaves {
		if leaf == "policy" {
			continue
		}
		if !ruleIDPattern.MatchString(leaf) {
			return RuleList{}, newParseError(sa, fmt.Sprintf("malformed rule identifier %q", leaf), nil)
		}
		ids = append(ids, leaf)
	}
	sort.Strings(ids)

	out := make([]Rule, 0, len(ids))
	for _, id := range ids {
		r, err := parseRule(leaves[id])
		if err != nil {
			return RuleList{}, newParseError(sa, fmt.Sprintf("rule %s", id), err)
		}
		out = append(out, r)
	}

	return RuleList{SourceAddr: sa, Rules: out, Policy: policy}, nil
}

// parseRule splits a rule value into k=v tokens and validates the result
// against the closed option set.
func parseRule(value string) (Rule, error) {
	var r Rule
	var sawAction bool

	for _, tok := range strings.Fields(value) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return Rule{}, fmt.Errorf("token %q is not k=v", tok)
		}
		switch k {
		case "action":
			a, err := parseAction(v)
			if err != nil {
				return Rule{}, err
			}
			r.Action = a
			sawAction = true
		case "proto":
			r.Proto = v
		case "dst4":
			r.Dst4 = v
		case "dst6":
			r.Dst6 = v
		case "dsthost":
			r.DstHost = v
		case "dstports":
			r.DstPorts = v
		case "specialtarget":
			r.SpecialTarget = v
		case "icmptype":
			r.ICMPType = v
		default:
			return Rule{}, fmt.Errorf("unrecognized option %q", k)
		}
	}

	if !sawAction {
		return Rule{}, fmt.Errorf("rule lacks action")
	}
	return r, nil
}

func parseAction(v string) (Action, error) {
	switch strings.ToLower(v) {
	case "accept":
		return Accept, nil
	case "drop":
		return Drop, nil
	default:
		return "", fmt.Errorf("unrecognized action %q", v)
	}
}

// ListTargets returns the unique set of second-path-component source
// addresses found among keys, as if enumerating direct children of
// "/qubes-firewall/". keys are full store paths (e.g.
// "/qubes-firewall/10.137.0.5/policy").
func ListTargets(keys []string) []string {
	seen := make(map[string]struct{})
	for _, k := range keys {
		parts := strings.Split(strings.TrimPrefix(k, "/"), "/")
		if len(parts) < 2 || parts[0] != "qubes-firewall" {
			continue
		}
		seen[parts[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sa := range seen {
		out = append(out, sa)
	}
	sort.Strings(out)
	return out
}
