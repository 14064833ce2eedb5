// Package economy holds the pure card-economy rules: rarity and stat policy,
// card generation from provider signals, and pack validation.
package economy

import (
	"errors"
	"fmt"

	"packmarket/internal/domain"
)

var ErrInvalidPolicyKey = errors.New("invalid policy key")

// CreatorStatCeiling is the highest value any stat may take in a creator pack.
const CreatorStatCeiling = 92

const officialStatCeiling = 99

// rarityOrder lists rarities from lowest to highest.
var rarityOrder = []domain.Rarity{
	domain.RarityCommon,
	domain.RarityUncommon,
	domain.RarityRare,
	domain.RarityEpic,
	domain.RarityLegendary,
	domain.RarityMythic,
}

var tierCardCounts = map[domain.PackTier]int{
	domain.PackTierMicro: 5,
	domain.PackTierMini:  10,
	domain.PackTierEvent: 15,
}

// Policy bundles the rarity and stat limits for one pack kind.
type Policy struct {
	Kind        domain.PackKind
	StatCeiling int
	allowed     map[domain.Rarity]bool
}

// Allows reports whether r may appear in packs of this kind.
func (p Policy) Allows(r domain.Rarity) bool {
	return p.allowed[r]
}

// PolicyFor returns the policy for a pack kind.
func PolicyFor(kind domain.PackKind) (Policy, error) {
	rarities, err := AllowedRarities(kind)
	if err != nil {
		return Policy{}, err
	}
	ceiling, err := StatCeiling(kind)
	if err != nil {
		return Policy{}, err
	}
	allowed := make(map[domain.Rarity]bool, len(rarities))
	for _, r := range rarities {
		allowed[r] = true
	}
	return Policy{Kind: kind, StatCeiling: ceiling, allowed: allowed}, nil
}

// AllowedRarities returns the rarities permitted for a pack kind, lowest first.
// Creator packs never carry the top tier.
func AllowedRarities(kind domain.PackKind) ([]domain.Rarity, error) {
	switch kind {
	case domain.PackKindCreator:
		return append([]domain.Rarity(nil), rarityOrder[:len(rarityOrder)-1]...), nil
	case domain.PackKindOfficial:
		return append([]domain.Rarity(nil), rarityOrder...), nil
	}
	return nil, fmt.Errorf("%w: pack kind %q", ErrInvalidPolicyKey, kind)
}

// StatCeiling returns the maximum stat value for a pack kind.
func StatCeiling(kind domain.PackKind) (int, error) {
	switch kind {
	case domain.PackKindCreator:
		return CreatorStatCeiling, nil
	case domain.PackKindOfficial:
		return officialStatCeiling, nil
	}
	return 0, fmt.Errorf("%w: pack kind %q", ErrInvalidPolicyKey, kind)
}

// TierCardCount returns the fixed number of cards a tier must hold.
func TierCardCount(tier domain.PackTier) (int, error) {
	n, ok := tierCardCounts[tier]
	if !ok {
		return 0, fmt.Errorf("%w: tier %q", ErrInvalidPolicyKey, tier)
	}
	return n, nil
}

// RarityIndex returns the position of r in the rarity ladder (0 = common).
func RarityIndex(r domain.Rarity) (int, error) {
	for i, known := range rarityOrder {
		if known == r {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: rarity %q", ErrInvalidPolicyKey, r)
}
