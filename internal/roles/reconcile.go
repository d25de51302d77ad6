package roles

import (
	"sort"

	"github.com/odyssey-erp/reconciler/internal/shared"
)

// Reconcile groups records by canonical key and elects one survivor per key:
// the earliest CreatedAt, ties broken by the smallest ID. Every other record in
// the group is a loser. Active and inactive records are grouped alike.
//
// A record without CreatedAt fails the whole call; no timestamp is assumed.
func Reconcile(records []Role) (Result, error) {
	byKey := make(map[string][]Role)
	for _, rec := range records {
		if rec.CreatedAt == nil || rec.CreatedAt.IsZero() {
			return Result{}, &shared.DataIntegrityError{Subject: "role", ID: rec.ID, Reason: "created_at missing"}
		}
		key := rec.Key()
		byKey[key] = append(byKey[key], rec)
	}

	res := Result{
		Survivors: make(map[string]struct{}, len(byKey)),
		Losers:    make(map[string]struct{}),
	}
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		group := byKey[key]
		sort.Slice(group, func(i, j int) bool {
			return electedBefore(group[i], group[j])
		})
		survivor := group[0]
		res.Survivors[survivor.ID] = struct{}{}
		if len(group) == 1 {
			continue
		}
		losers := make([]string, 0, len(group)-1)
		for _, rec := range group[1:] {
			res.Losers[rec.ID] = struct{}{}
			losers = append(losers, rec.ID)
		}
		res.Groups = append(res.Groups, Group{Key: key, SurvivorID: survivor.ID, LoserIDs: losers})
	}
	return res, nil
}

func electedBefore(a, b Role) bool {
	if !a.CreatedAt.Equal(*b.CreatedAt) {
		return a.CreatedAt.Before(*b.CreatedAt)
	}
	return a.ID < b.ID
}
