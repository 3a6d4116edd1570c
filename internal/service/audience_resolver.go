package service

import (
	"sort"

	"github.com/noah-isme/campus-feed-engine/internal/models"
)

// MatchesTarget reports whether user belongs to the audience described by spec.
// Inactive accounts never match. Staff skip the year check.
func MatchesTarget(spec models.TargetSpec, user models.User) bool {
	if !user.Active {
		return false
	}
	if !spec.Audience.Includes(user.Role) {
		return false
	}
	if spec.Department != nil {
		if user.Department == nil || *user.Department != *spec.Department {
			return false
		}
	}
	if user.Role != models.RoleStudent || spec.AllYears() {
		return true
	}
	return user.Year != nil && spec.HasYear(*user.Year)
}

// ResolveAudience returns the sorted, de-duplicated ids of every user in
// directory matching spec. It has no side effects.
func ResolveAudience(spec models.TargetSpec, directory []models.User) []string {
	seen := make(map[string]struct{}, len(directory))
	ids := make([]string, 0, len(directory))
	for _, user := range directory {
		if !MatchesTarget(spec, user) {
			continue
		}
		if _, dup := seen[user.ID]; dup {
			continue
		}
		seen[user.ID] = struct{}{}
		ids = append(ids, user.ID)
	}
	sort.Strings(ids)
	return ids
}
