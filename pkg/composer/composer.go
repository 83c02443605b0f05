// Package composer merges configuration values. Every merge in tplcheck
// goes through Overlay so precedence rules live in one place.
//
// Overlays are shallow and right-biased. A null in the override never
// deletes or replaces a base value; keys cannot be removed by composition.
package composer

import (
	"maps"
	"sort"

	"github.com/openfroyo/tplcheck/pkg/types"
)

// Overlay returns base with the top-level keys of override applied. The
// result is a new map and neither input is modified. When either side is
// not an object, a non-null override replaces base and a null override
// keeps it.
func Overlay(base, override any) any {
	if override == nil {
		return types.CloneValue(base)
	}

	baseObj, baseOK := base.(map[string]any)
	overObj, overOK := override.(map[string]any)
	if !baseOK || !overOK {
		return types.CloneValue(override)
	}

	out := make(map[string]any, len(baseObj)+len(overObj))
	for k, v := range baseObj {
		out[k] = types.CloneValue(v)
	}
	for k, v := range overObj {
		if v == nil {
			continue
		}
		out[k] = types.CloneValue(v)
	}
	return out
}

// OverlayAll applies overrides to base from left to right.
func OverlayAll(base any, overrides ...any) any {
	result := types.CloneValue(base)
	for _, o := range overrides {
		result = Overlay(result, o)
	}
	return result
}

// MergeTags merges tag sets with later sets taking precedence. Empty
// values are kept; nil maps are skipped.
func MergeTags(tags ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, t := range tags {
		maps.Copy(out, t)
	}
	return out
}

// Changed lists the top-level keys whose value in Overlay(base, override)
// differs from base, sorted. It is used to report what an overlay did.
func Changed(base, override any) []string {
	baseObj, _ := base.(map[string]any)
	overObj, ok := override.(map[string]any)
	if !ok {
		return nil
	}

	var keys []string
	for k, v := range overObj {
		if v == nil {
			continue
		}
		if old, exists := baseObj[k]; !exists || !equal(old, v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, exists := bv[k]
			if !exists || !equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
