package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/camphq/bunkreq/internal/model"
)

// Staff-resolution language in request notes. A matching note plus a
// parenthetical date makes an opposing-direction conflict
// auto-resolvable.
var resolutionLanguage = regexp.MustCompile(`(?i)\b(?:spoke\s+with\s+(?:the\s+)?famil(?:y|ies)|spoke\s+with\s+(?:mom|dad|parents?)|resolved|worked\s+out|talked\s+(?:to|with)|confirmed\s+with|per\s+(?:mom|dad|parents?|family))\b`)

var parentheticalDate = regexp.MustCompile(`\(\s*\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?\s*\)`)

// Confidence levels attached to opposing-direction conflicts.
const (
	autoResolveConfidence  = 0.9
	manualReviewConfidence = 0.6
)

// highPriorityThreshold marks a named request strong enough to clash
// with an explicit age preference.
const highPriorityThreshold = 2

// DetectConflicts runs the pure, synchronous post-pass over fully
// resolved requests and returns every detected contradiction. Input is
// never mutated.
func DetectConflicts(requests []model.ResolvedRequest) []model.Conflict {
	byRequester := groupByRequester(requests)

	var conflicts []model.Conflict
	conflicts = append(conflicts, opposingDirectionConflicts(byRequester)...)
	conflicts = append(conflicts, ageVsExplicitConflicts(byRequester)...)
	conflicts = append(conflicts, friendGroupConflicts(byRequester)...)
	return conflicts
}

func groupByRequester(requests []model.ResolvedRequest) map[string][]model.ResolvedRequest {
	grouped := make(map[string][]model.ResolvedRequest)
	for _, r := range requests {
		if r.Requester.ID == "" {
			continue
		}
		grouped[r.Requester.ID] = append(grouped[r.Requester.ID], r)
	}
	return grouped
}

// opposingDirectionConflicts flags pairs where A wants to bunk with B
// while B wants to be kept apart from A. Staff-resolution language with
// a parenthetical date in either note makes the conflict
// auto-resolvable.
func opposingDirectionConflicts(byRequester map[string][]model.ResolvedRequest) []model.Conflict {
	var conflicts []model.Conflict
	seen := make(map[string]bool)

	for requesterID, reqs := range byRequester {
		for _, pos := range reqs {
			if pos.Kind != model.KindBunkWith || pos.Target == nil {
				continue
			}
			targetID := pos.Target.ID
			for _, neg := range byRequester[targetID] {
				if neg.Kind != model.KindNotBunkWith || neg.Target == nil || neg.Target.ID != requesterID {
					continue
				}

				key := pairKey(requesterID, targetID)
				if seen[key] {
					continue
				}
				seen[key] = true

				notes := pos.Notes + " " + neg.Notes
				hasLanguage := resolutionLanguage.MatchString(notes)
				hasDate := parentheticalDate.MatchString(notes)

				conflict := model.Conflict{
					Type:      model.ConflictOpposingDirections,
					PersonIDs: []string{requesterID, targetID},
					Requests:  []model.ResolvedRequest{pos, neg},
					Description: fmt.Sprintf("%s requests %s, who requests to be kept apart from them",
						pos.Requester.Name, neg.Requester.Name),
					AutoResolvable: hasLanguage && hasDate,
					Confidence:     manualReviewConfidence,
				}
				if conflict.AutoResolvable {
					conflict.Confidence = autoResolveConfidence
					conflict.Resolution = "staff note indicates the families already resolved this"
				}
				conflicts = append(conflicts, conflict)
			}
		}
	}

	sortConflicts(conflicts)
	return conflicts
}

// ageVsExplicitConflicts flags requesters holding both an explicit
// age-direction preference and a high-priority named bunk-with request.
func ageVsExplicitConflicts(byRequester map[string][]model.ResolvedRequest) []model.Conflict {
	var conflicts []model.Conflict

	for requesterID, reqs := range byRequester {
		var agePref *model.ResolvedRequest
		var named *model.ResolvedRequest
		for i := range reqs {
			r := &reqs[i]
			switch {
			case r.Kind == model.KindAgePreference && r.AgePreference != "":
				agePref = r
			case r.Kind == model.KindBunkWith && r.Target != nil && r.Priority >= highPriorityThreshold:
				named = r
			}
		}
		if agePref == nil || named == nil {
			continue
		}

		conflicts = append(conflicts, model.Conflict{
			Type:      model.ConflictAgeVsExplicit,
			PersonIDs: []string{requesterID},
			Requests:  []model.ResolvedRequest{*agePref, *named},
			Description: fmt.Sprintf("%s prefers the %s group but also strongly requests %s",
				named.Requester.Name, agePref.AgePreference, named.Target.Name),
			AutoResolvable: false,
			Confidence:     manualReviewConfidence,
		})
	}

	sortConflicts(conflicts)
	return conflicts
}

// friendGroupConflicts finds mutual-request friend groups and flags any
// member who also holds a not-bunk-with request naming another member.
func friendGroupConflicts(byRequester map[string][]model.ResolvedRequest) []model.Conflict {
	mutual := mutualPairs(byRequester)
	groups := connectedComponents(mutual)

	var conflicts []model.Conflict
	for _, group := range groups {
		members := make(map[string]bool, len(group))
		for _, id := range group {
			members[id] = true
		}
		for _, id := range group {
			for _, r := range byRequester[id] {
				if r.Kind != model.KindNotBunkWith || r.Target == nil || !members[r.Target.ID] {
					continue
				}
				conflicts = append(conflicts, model.Conflict{
					Type:      model.ConflictFriendGroup,
					PersonIDs: append([]string(nil), group...),
					Requests:  []model.ResolvedRequest{r},
					Description: fmt.Sprintf("%s is in a mutual-request group with %s but asks to be kept apart",
						r.Requester.Name, r.Target.Name),
					AutoResolvable: false,
					Confidence:     manualReviewConfidence,
				})
			}
		}
	}

	sortConflicts(conflicts)
	return conflicts
}

// mutualPairs returns each A<->B pair where both hold a resolved
// bunk-with request naming the other.
func mutualPairs(byRequester map[string][]model.ResolvedRequest) map[string][]string {
	wants := make(map[string]map[string]bool)
	for id, reqs := range byRequester {
		for _, r := range reqs {
			if r.Kind == model.KindBunkWith && r.Target != nil {
				if wants[id] == nil {
					wants[id] = make(map[string]bool)
				}
				wants[id][r.Target.ID] = true
			}
		}
	}

	adj := make(map[string][]string)
	for a, targets := range wants {
		for b := range targets {
			if wants[b][a] && a < b {
				adj[a] = append(adj[a], b)
				adj[b] = append(adj[b], a)
			}
		}
	}
	return adj
}

// connectedComponents walks the mutual-request graph and returns each
// group of size >= 2, members sorted.
func connectedComponents(adj map[string][]string) [][]string {
	visited := make(map[string]bool)
	var groups [][]string

	ids := make([]string, 0, len(adj))
	for id := range adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, start := range ids {
		if visited[start] {
			continue
		}
		var group []string
		stack := []string{start}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[id] {
				continue
			}
			visited[id] = true
			group = append(group, id)
			stack = append(stack, adj[id]...)
		}
		if len(group) >= 2 {
			sort.Strings(group)
			groups = append(groups, group)
		}
	}
	return groups
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// sortConflicts orders conflicts deterministically so map iteration
// order never leaks into output.
func sortConflicts(conflicts []model.Conflict) {
	sort.Slice(conflicts, func(i, j int) bool {
		return strings.Join(conflicts[i].PersonIDs, ",") < strings.Join(conflicts[j].PersonIDs, ",")
	})
}
