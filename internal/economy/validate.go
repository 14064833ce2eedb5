package economy

import (
	"fmt"
	"regexp"
	"strings"

	"packmarket/internal/domain"
)

// ViolationCode - машинный код нарушения
type ViolationCode string

const (
	ViolationCardCount       ViolationCode = "card_count"
	ViolationUnknownTier     ViolationCode = "unknown_tier"
	ViolationRarity          ViolationCode = "rarity_not_permitted"
	ViolationStatCeiling     ViolationCode = "stat_over_ceiling"
	ViolationStatNotPositive ViolationCode = "stat_not_positive"
	ViolationSourceURL       ViolationCode = "source_url_invalid"
	ViolationArtistMissing   ViolationCode = "artist_missing"
	ViolationDuplicate       ViolationCode = "duplicate_artist"
	ViolationPrice           ViolationCode = "price_invalid"
	ViolationTitle           ViolationCode = "title_missing"
)

// Violation describes one problem. CardIndex is -1 for pack-level problems.
type Violation struct {
	Code      ViolationCode `json:"code"`
	CardIndex int           `json:"card_index"`
	Message   string        `json:"message"`
}

// ValidationResult is either OK with no violations, or a full list of them.
type ValidationResult struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

func resultOf(v []Violation) ValidationResult {
	return ValidationResult{OK: len(v) == 0, Violations: v}
}

// sourceURLPattern matches provider artist/track links, e.g.
// https://open.spotify.com/artist/0TnOYISbd1XYRBk9myaseg
var sourceURLPattern = regexp.MustCompile(`^https://open\.spotify\.com/(?:intl-[a-z]{2}/)?(artist|track)/([A-Za-z0-9]{22})(?:\?[^\s]*)?$`)

// ValidSourceURL reports whether u has the expected provider shape.
func ValidSourceURL(u string) bool {
	return sourceURLPattern.MatchString(strings.TrimSpace(u))
}

// SourceID extracts the provider kind and id from a source URL.
func SourceID(u string) (kind, id string, ok bool) {
	m := sourceURLPattern.FindStringSubmatch(strings.TrimSpace(u))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ValidatePack runs every pack rule and collects all violations.
func ValidatePack(pack *domain.CreatorPack) ValidationResult {
	var out []Violation

	if strings.TrimSpace(pack.Title) == "" {
		out = append(out, Violation{Code: ViolationTitle, CardIndex: -1, Message: "pack title is required"})
	}
	if pack.Price <= 0 {
		out = append(out, Violation{Code: ViolationPrice, CardIndex: -1, Message: fmt.Sprintf("price must be positive, got %d", pack.Price)})
	}

	want, err := TierCardCount(pack.Tier)
	if err != nil {
		out = append(out, Violation{Code: ViolationUnknownTier, CardIndex: -1, Message: err.Error()})
	} else if len(pack.Cards) != want {
		out = append(out, Violation{
			Code:      ViolationCardCount,
			CardIndex: -1,
			Message:   fmt.Sprintf("%s pack needs exactly %d cards, has %d", pack.Tier, want, len(pack.Cards)),
		})
	}

	policy, _ := PolicyFor(domain.PackKindCreator)
	seen := make(map[string]int, len(pack.Cards))
	for i, card := range pack.Cards {
		out = append(out, ValidateEntry(card, i, policy)...)

		key := domain.ArtistKey(card.ArtistName)
		if key == "" {
			continue
		}
		if first, dup := seen[key]; dup {
			out = append(out, Violation{
				Code:      ViolationDuplicate,
				CardIndex: i,
				Message:   fmt.Sprintf("artist %q already used by card %d", card.ArtistName, first+1),
			})
			continue
		}
		seen[key] = i
	}

	return resultOf(out)
}

// ValidateEntry checks a single card against the policy.
func ValidateEntry(card domain.CardEntry, index int, policy Policy) []Violation {
	var out []Violation

	if strings.TrimSpace(card.ArtistName) == "" {
		out = append(out, Violation{Code: ViolationArtistMissing, CardIndex: index, Message: "artist name is required"})
	}
	if !ValidSourceURL(card.SourceURL) {
		out = append(out, Violation{Code: ViolationSourceURL, CardIndex: index, Message: fmt.Sprintf("source url %q is not a provider artist/track link", card.SourceURL)})
	}
	if _, err := RarityIndex(card.Rarity); err != nil || !policy.Allows(card.Rarity) {
		out = append(out, Violation{Code: ViolationRarity, CardIndex: index, Message: fmt.Sprintf("rarity %q is not allowed in %s packs", card.Rarity, policy.Kind)})
	}
	for _, st := range card.Stats.Named() {
		if st.Value > policy.StatCeiling {
			out = append(out, Violation{Code: ViolationStatCeiling, CardIndex: index, Message: fmt.Sprintf("%s %d exceeds ceiling %d", st.Name, st.Value, policy.StatCeiling)})
		}
		if st.Value <= 0 {
			out = append(out, Violation{Code: ViolationStatNotPositive, CardIndex: index, Message: fmt.Sprintf("%s must be positive", st.Name)})
		}
	}
	return out
}

// ValidateAddition checks whether entry can join the draft without breaking
// per-card rules, tier capacity or artist uniqueness.
func ValidateAddition(pack *domain.CreatorPack, entry domain.CardEntry) ValidationResult {
	policy, _ := PolicyFor(domain.PackKindCreator)
	idx := len(pack.Cards)
	out := ValidateEntry(entry, idx, policy)

	if want, err := TierCardCount(pack.Tier); err == nil && len(pack.Cards) >= want {
		out = append(out, Violation{Code: ViolationCardCount, CardIndex: idx, Message: fmt.Sprintf("%s pack is full (%d cards)", pack.Tier, want)})
	}
	key := domain.ArtistKey(entry.ArtistName)
	for i, c := range pack.Cards {
		if key != "" && domain.ArtistKey(c.ArtistName) == key {
			out = append(out, Violation{Code: ViolationDuplicate, CardIndex: idx, Message: fmt.Sprintf("artist %q already used by card %d", entry.ArtistName, i+1)})
			break
		}
	}
	return resultOf(out)
}
