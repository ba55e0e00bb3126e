package resolver

import (
	"context"
	"log"
	"regexp"
	"sort"
	"strings"

	"github.com/AmanAhmed2002/TTCFareSite/model"
	"github.com/AmanAhmed2002/TTCFareSite/schedule"
)

// Resolver maps a user-supplied stop reference (numeric code, opaque
// identifier, or free-text name) to canonical stop identifiers. The
// external store is the primary source; the schedule index serves as
// fallback when the store is unreachable or empty-handed.
type Resolver struct {
	Store  StopStore
	Index  *schedule.Service
	Logger *log.Logger
}

func New(store StopStore, index *schedule.Service, logger *log.Logger) *Resolver {
	return &Resolver{Store: store, Index: index, Logger: logger}
}

type Candidate struct {
	ID   string
	Name string

	locationType model.LocationType
}

var (
	numericRef = regexp.MustCompile(`^[0-9]{1,6}$`)
	literalRef = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	dashRunes  = strings.NewReplacer("-", " ", "‐", " ", "–", " ", "—", " ", "/", " ")
)

// normalizeQuery lowercases, folds dash variants to spaces, expands
// the "stn" abbreviation, and tokenizes on whitespace.
func normalizeQuery(q string) []string {
	q = dashRunes.Replace(strings.ToLower(q))
	tokens := strings.Fields(q)
	for i, tok := range tokens {
		if tok == "stn" {
			tokens[i] = "station"
		}
	}
	return tokens
}

// Resolve returns candidate stops for a reference, best first.
func (r *Resolver) Resolve(ctx context.Context, agency, stopRef string) ([]Candidate, error) {
	stopRef = strings.TrimSpace(stopRef)
	if stopRef == "" {
		return []Candidate{}, nil
	}

	// Short numeric references are stop codes first, literal stop
	// IDs second.
	if numericRef.MatchString(stopRef) {
		if r.Store != nil {
			stop, err := r.Store.StopByCode(ctx, agency, stopRef)
			if err != nil && r.Logger != nil {
				r.Logger.Printf("stop code lookup: %v", err)
			}
			if stop != nil {
				return []Candidate{{ID: stop.ID, Name: stop.Name, locationType: stop.LocationType}}, nil
			}
		}
		return []Candidate{{ID: stopRef}}, nil
	}

	// Identifier-safe references pass through untouched.
	if literalRef.MatchString(stopRef) {
		return []Candidate{{ID: stopRef}}, nil
	}

	tokens := normalizeQuery(stopRef)
	if len(tokens) == 0 {
		return []Candidate{}, nil
	}

	stops := r.searchStops(ctx, agency, tokens)

	candidates := []Candidate{}
	for _, s := range stops {
		if !matchesAllTokens(s.Name, tokens) {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:           s.ID,
			Name:         s.Name,
			locationType: s.LocationType,
		})
	}

	return rankCandidates(candidates, strings.Join(tokens, " ")), nil
}

// BestMatch returns the top candidate's identifier, or "" when the
// reference resolves to nothing.
func (r *Resolver) BestMatch(ctx context.Context, agency, stopRef string) (string, error) {
	candidates, err := r.Resolve(ctx, agency, stopRef)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}
	return candidates[0].ID, nil
}

func (r *Resolver) searchStops(ctx context.Context, agency string, tokens []string) []model.Stop {
	if r.Store != nil {
		stops, err := r.Store.StopsByName(ctx, agency, tokens)
		if err == nil && len(stops) > 0 {
			return stops
		}
		if err != nil && r.Logger != nil {
			r.Logger.Printf("stop store search failed, using index: %v", err)
		}
	}

	stops, err := r.Index.SearchStops(ctx, tokens)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Printf("index stop search: %v", err)
		}
		return nil
	}
	return stops
}

func matchesAllTokens(name string, tokens []string) bool {
	name = strings.ToLower(name)
	for _, tok := range tokens {
		if !strings.Contains(name, tok) {
			return false
		}
	}
	return true
}

var directionalWords = []string{"northbound", "southbound", "eastbound", "westbound"}

// rankCandidates orders candidates for a normalized free-text query.
// A query asking for a "station" almost always wants a boardable
// platform, not the station super-stop, so when any candidate is
// platform-named the pool is restricted to those.
func rankCandidates(candidates []Candidate, query string) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	wantsStation := strings.Contains(query, "station")
	if wantsStation {
		platforms := []Candidate{}
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c.Name), "platform") {
				platforms = append(platforms, c)
			}
		}
		if len(platforms) > 0 {
			candidates = platforms
		}
	}

	score := func(c Candidate) int {
		name := strings.ToLower(c.Name)
		s := 0
		if wantsStation {
			if strings.Contains(name, "platform") {
				s += 4
			}
			for _, d := range directionalWords {
				if strings.Contains(name, d) {
					s += 2
					break
				}
			}
			if c.locationType != model.LocationTypeStation {
				s++
			}
			return s
		}
		if strings.HasPrefix(name, query) {
			s += 4
		}
		// Closer lengths rank higher; the offset keeps scores
		// positive for reasonable names.
		diff := len(name) - len(query)
		if diff < 0 {
			diff = -diff
		}
		if diff < 64 {
			s += 64 - diff
		}
		return s
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].Name < candidates[j].Name
	})

	return candidates
}
