package analysis

import "github.com/raisserv2/clash-royale-battle-analysis/internal/model"

// DefaultArchetypes is the built-in archetype mapping. A card may belong to
// several archetypes (X-Bow is both Control and Siege).
func DefaultArchetypes() map[string][]string {
	return map[string][]string{
		"Beatdown":    {"Golem", "Lava Hound", "Giant", "Electro Giant", "Royal Giant"},
		"Control":     {"X-Bow", "Mortar", "Tesla", "Bomb Tower", "Inferno Tower"},
		"Cycle":       {"Hog Rider", "Miner", "Wall Breakers", "Skeletons", "Ice Spirit"},
		"Spell Bait":  {"Goblin Barrel", "Princess", "Dart Goblin", "Goblin Gang"},
		"Bridge Spam": {"Bandit", "Royal Ghost", "Battle Ram", "Dark Prince"},
		"Siege":       {"X-Bow", "Mortar", "Bomb Tower"},
		"Spawner":     {"Goblin Hut", "Furnace", "Barbarian Hut", "Tombstone"},
	}
}

// ArchetypesOf inverts mapping: card → every archetype listing it.
func ArchetypesOf(mapping map[string][]string) map[string][]string {
	out := make(map[string][]string)
	for arch, cards := range mapping {
		for _, c := range cards {
			out[c] = append(out[c], arch)
		}
	}
	return out
}

// ByArchetype rolls up seg by archetype. A card in several archetypes
// counts toward each; cards in none are left out. Archetypes with no cards
// in seg are omitted.
func ByArchetype(seg model.SegmentResult, mapping map[string][]string) []Rollup {
	set := make(rollupSet)
	for arch, cards := range mapping {
		for _, card := range dedupe(cards) {
			if c, ok := seg.Lookup(card); ok {
				set.add(arch, c)
			}
		}
	}
	return set.sorted()
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
