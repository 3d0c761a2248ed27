package mapper

import (
	"sort"

	"github.com/sells-group/crm-import/internal/model"
	"github.com/sells-group/crm-import/internal/normalize"
)

const (
	// candidateFloor discards header×field pairs too weak to consider.
	candidateFloor = 0.3
	// assignFloor is the minimum confidence for a pair to be assigned.
	assignFloor = 0.4
	// suggestThreshold marks mapped headers as low-confidence; those and
	// unmapped headers get ranked alternatives for manual override.
	suggestThreshold = 0.7
	// maxSuggestions bounds the alternatives list per header.
	maxSuggestions = 5

	// keywordScale damps the per-token keyword signal relative to pattern
	// and synonym matches.
	keywordScale = 0.5
	// contextBonusStep is added per corroborating related header;
	// contextBonusCap bounds the total bonus.
	contextBonusStep = 0.15
	contextBonusCap  = 0.3
)

// Suggestion is one ranked alternative field for a header.
type Suggestion struct {
	Field string  `json:"field"`
	Score float64 `json:"score"`
}

// Result is the outcome of automatic header mapping.
type Result struct {
	// Mapping maps raw header → canonical field. Injective: no field
	// appears for more than one header.
	Mapping map[string]string `json:"mapping"`
	// Confidence maps raw header → score in [0,1]. Headers with no
	// mapping carry confidence 0.
	Confidence map[string]float64 `json:"confidence"`
	// Suggestions lists up to five ranked alternatives for unmapped or
	// low-confidence headers.
	Suggestions map[string][]Suggestion `json:"suggestions,omitempty"`
}

// candidate is one scored header×field pair.
type candidate struct {
	header int // index into headers
	field  int // index into catalog fields
	score  float64
}

// AutoMap infers a canonical-field mapping for the given CSV headers.
// It never fails: headers matching nothing simply stay unmapped. The
// result is deterministic and independent of header order up to exact
// score ties, which fall back to encounter order.
func AutoMap(headers []string, kind model.EntityKind) Result {
	res := Result{
		Mapping:     make(map[string]string, len(headers)),
		Confidence:  make(map[string]float64, len(headers)),
		Suggestions: make(map[string][]Suggestion),
	}
	if len(headers) == 0 {
		return res
	}

	cat := ForKind(kind)
	if cat == nil {
		// No catalog for the kind; every header stays unmapped.
		return res
	}
	fields := cat.Fields()

	norm := make([]string, len(headers))
	for i, h := range headers {
		norm[i] = normalize.Header(h)
		res.Confidence[headers[i]] = 0
	}

	// Base scores, before context.
	base := make([][]float64, len(headers))
	for i := range headers {
		base[i] = make([]float64, len(fields))
		for j := range fields {
			base[i][j] = baseScore(norm[i], &fields[j])
		}
	}

	// Each header's strongest base match, used only to corroborate
	// neighbors: a header whose siblings hit related fields (first/last
	// name pairing, city/state/country clusters) earns a capped bonus.
	bestField := make([]int, len(headers))
	for i := range headers {
		bestField[i] = -1
		bestScore := 0.0
		for j := range fields {
			if base[i][j] > bestScore {
				bestScore = base[i][j]
				bestField[i] = j
			}
		}
		if bestScore < assignFloor {
			bestField[i] = -1
		}
	}

	var cands []candidate
	for i := range headers {
		for j := range fields {
			if base[i][j] <= 0 {
				continue
			}
			score := base[i][j] + contextBonus(cat, fields, bestField, i, j)
			if score > 1.0 {
				score = 1.0
			}
			if score > candidateFloor {
				cands = append(cands, candidate{header: i, field: j, score: score})
			}
		}
	}

	// Greedy bipartite assignment: highest score wins, one field per
	// header and one header per field. Exact ties keep encounter order.
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].score != cands[b].score {
			return cands[a].score > cands[b].score
		}
		if cands[a].header != cands[b].header {
			return cands[a].header < cands[b].header
		}
		return cands[a].field < cands[b].field
	})

	headerClaimed := make([]bool, len(headers))
	fieldClaimed := make([]bool, len(fields))
	for _, c := range cands {
		if c.score < assignFloor || headerClaimed[c.header] || fieldClaimed[c.field] {
			continue
		}
		headerClaimed[c.header] = true
		fieldClaimed[c.field] = true
		res.Mapping[headers[c.header]] = fields[c.field].Name
		res.Confidence[headers[c.header]] = c.score
	}

	// Alternatives for manual override.
	for i, h := range headers {
		chosen := res.Mapping[h]
		if chosen != "" && res.Confidence[h] >= suggestThreshold {
			continue
		}
		var alts []Suggestion
		for _, c := range cands {
			if c.header != i || fields[c.field].Name == chosen {
				continue
			}
			alts = append(alts, Suggestion{Field: fields[c.field].Name, Score: c.score})
			if len(alts) == maxSuggestions {
				break
			}
		}
		if len(alts) > 0 {
			res.Suggestions[h] = alts
		}
	}

	return res
}

// baseScore combines the three matching signals for one header×field pair:
// regex pattern (fixed 1.0), synonym similarity, and damped per-token
// keyword similarity. The strongest signal wins, scaled by field weight.
func baseScore(header string, f *Field) float64 {
	if header == "" {
		return 0
	}

	score := 0.0
	for _, re := range f.compiled {
		if re.MatchString(header) {
			score = 1.0
			break
		}
	}
	if score < 1.0 {
		if sim := bestSimilarity(header, f.Synonyms); sim > score {
			score = sim
		}
	}
	if score < 1.0 {
		if sim := tokenSimilarity(header, f.Keywords) * keywordScale; sim > score {
			score = sim
		}
	}
	return score * f.Weight
}

// contextBonus rewards a pairing when other headers independently match
// fields in the same semantic group.
func contextBonus(cat *Catalog, fields []Field, bestField []int, header, field int) float64 {
	bonus := 0.0
	for other, bf := range bestField {
		if other == header || bf < 0 {
			continue
		}
		if cat.related(fields[bf].Name, fields[field].Name) {
			bonus += contextBonusStep
			if bonus >= contextBonusCap {
				return contextBonusCap
			}
		}
	}
	return bonus
}
