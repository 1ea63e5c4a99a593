// Package knowledge implements a read-only FAQ and clinic profile store
// with exact and semantic lookup, backed by a bleve full-text index and an
// in-memory LRU result cache keyed by lowercased query text.
package knowledge

import (
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

type FAQ struct {
	Question string
	Answer   string
}

type FAQResult struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Score    float64 `json:"score"`
}

// ClinicProfile holds the static facts ConversationAgent answers from
// directly (hours, address, contact) without going through the FAQ index.
type ClinicProfile struct {
	Name         string
	WeekdayHours string
	WeekendHours string
	Address      string
	Phone        string
	EmergencyNum string
}

type Store struct {
	mu      sync.RWMutex
	faqs    map[string]FAQ // exact lowercase-question -> FAQ
	index   bleve.Index
	cache   *lru.Cache[string, []FAQResult]
	profile ClinicProfile
}

func NewStore(faqs []FAQ, profile ClinicProfile, cacheSize int) (*Store, error) {
	mapping := bleve.NewIndexMapping()
	index, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}

	s := &Store{
		faqs:    map[string]FAQ{},
		index:   index,
		profile: profile,
	}

	cache, err := lru.New[string, []FAQResult](maxInt(cacheSize, 1))
	if err != nil {
		return nil, err
	}
	s.cache = cache

	for i, f := range faqs {
		s.faqs[strings.ToLower(strings.TrimSpace(f.Question))] = f
		if err := index.Index(docID(i), map[string]string{"question": f.Question, "answer": f.Answer}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Profile() ClinicProfile { return s.profile }

// Search tries an exact (case-insensitive) match first, then falls back
// to bleve full-text relevance, caching the combined result by lowercase
// query so repeated lookups return identical results within the cache
// window.
func (s *Store) Search(query string, limit int) ([]FAQResult, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if key == "" {
		return nil, nil
	}

	s.mu.RLock()
	if cached, ok := s.cache.Get(key); ok {
		s.mu.RUnlock()
		return capResults(cached, limit), nil
	}
	s.mu.RUnlock()

	var results []FAQResult
	if faq, ok := s.faqs[key]; ok {
		results = append(results, FAQResult{Question: faq.Question, Answer: faq.Answer, Score: 1.0})
	}

	searchReq := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	searchReq.Fields = []string{"question", "answer"}
	searchReq.Size = limit * 3
	res, err := s.index.Search(searchReq)
	if err == nil {
		for _, hit := range res.Hits {
			q, _ := hit.Fields["question"].(string)
			a, _ := hit.Fields["answer"].(string)
			if strings.EqualFold(q, query) {
				continue // already captured by the exact match above
			}
			results = append(results, FAQResult{Question: q, Answer: a, Score: hit.Score})
		}
	}

	s.mu.Lock()
	s.cache.Add(key, results)
	s.mu.Unlock()

	return capResults(results, limit), nil
}

// ConfidentMatch reports the top result if it clears threshold, used by
// the conversation agent to decide whether to answer directly or route
// elsewhere.
func (s *Store) ConfidentMatch(query string, threshold float64) (*FAQResult, error) {
	results, err := s.Search(query, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 || results[0].Score < threshold {
		return nil, nil
	}
	return &results[0], nil
}

func capResults(results []FAQResult, limit int) []FAQResult {
	if limit <= 0 || limit >= len(results) {
		return results
	}
	return results[:limit]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func docID(i int) string {
	return "faq-" + strconv.Itoa(i)
}
