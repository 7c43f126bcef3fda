package classify

import (
	"sort"
	"strings"

	"datasweep/internal/model"
)

const (
	domainMatchConfidence = 0.95
	keywordMatchCap       = 0.85
	keywordMatchBase      = 0.45
	keywordMatchStep      = 0.15
	keywordSpecificBonus  = 0.05
)

// BrokerMatch is the outcome of classifying a message against the index.
// A no-match is a first-class zero-confidence result, not an error.
type BrokerMatch struct {
	BrokerID   *string
	Confidence float64
	MatchedBy  model.MatchedBy
}

type brokerSignature struct {
	id       string
	name     string
	keywords []string
}

// SignatureIndex is a read-only lookup over the broker directory. It is
// built once per scan and shared across workers without locking.
type SignatureIndex struct {
	byDomain map[string]string
	// domains holds the registered domains longest-first so the subdomain
	// fallback always picks the most specific suffix, independent of map
	// iteration order.
	domains []string
	byEmail map[string]string
	brokers []brokerSignature
}

// NewSignatureIndex builds the index from the broker directory. Brokers are
// ordered by name so keyword tie-breaks are deterministic across scans.
func NewSignatureIndex(brokers []model.Broker) *SignatureIndex {
	idx := &SignatureIndex{
		byDomain: make(map[string]string),
		byEmail:  make(map[string]string),
	}

	sorted := make([]model.Broker, len(brokers))
	copy(sorted, brokers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, b := range sorted {
		for _, d := range b.DomainList() {
			if _, taken := idx.byDomain[d]; !taken {
				idx.byDomain[d] = b.ID
			}
		}
		if email := strings.ToLower(strings.TrimSpace(b.PrivacyEmail)); email != "" {
			idx.byEmail[email] = b.ID
		}
		if kws := b.KeywordList(); len(kws) > 0 {
			idx.brokers = append(idx.brokers, brokerSignature{id: b.ID, name: b.Name, keywords: kws})
		}
	}

	for d := range idx.byDomain {
		idx.domains = append(idx.domains, d)
	}
	sort.Slice(idx.domains, func(i, j int) bool {
		if len(idx.domains[i]) != len(idx.domains[j]) {
			return len(idx.domains[i]) > len(idx.domains[j])
		}
		return idx.domains[i] < idx.domains[j]
	})

	return idx
}

// BrokerIDForDomain resolves a sender domain to a broker id, matching
// registered subdomains as well.
func (idx *SignatureIndex) BrokerIDForDomain(domain string) (string, bool) {
	domain = strings.ToLower(domain)
	if id, ok := idx.byDomain[domain]; ok {
		return id, true
	}
	for _, registered := range idx.domains {
		if strings.HasSuffix(domain, "."+registered) {
			return idx.byDomain[registered], true
		}
	}
	return "", false
}

// BrokerIDForAddress resolves a privacy-contact address to a broker id.
func (idx *SignatureIndex) BrokerIDForAddress(email string) (string, bool) {
	id, ok := idx.byEmail[strings.ToLower(email)]
	return id, ok
}

// ClassifyBroker scores a message against the index. Strategies run in
// priority order and the first match wins; scores are never blended across
// strategies. The output is a pure function of the message and the index.
func ClassifyBroker(msg *model.EmailMessage, idx *SignatureIndex) BrokerMatch {
	if match, ok := matchByDomain(msg, idx); ok {
		return match
	}
	if match, ok := matchByKeywords(msg, idx); ok {
		return match
	}
	return BrokerMatch{Confidence: 0, MatchedBy: model.MatchedByNone}
}

func matchByDomain(msg *model.EmailMessage, idx *SignatureIndex) (BrokerMatch, bool) {
	if id, ok := idx.BrokerIDForAddress(msg.Sender); ok {
		return BrokerMatch{BrokerID: &id, Confidence: domainMatchConfidence, MatchedBy: model.MatchedByDomain}, true
	}
	if id, ok := idx.BrokerIDForDomain(msg.SenderDomain); ok {
		return BrokerMatch{BrokerID: &id, Confidence: domainMatchConfidence, MatchedBy: model.MatchedByDomain}, true
	}
	return BrokerMatch{}, false
}

func matchByKeywords(msg *model.EmailMessage, idx *SignatureIndex) (BrokerMatch, bool) {
	text := strings.ToLower(msg.Subject + " " + msg.BodyPreview)

	var best *brokerSignature
	bestScore := 0.0

	for i := range idx.brokers {
		sig := &idx.brokers[i]
		score := keywordScore(text, sig.keywords)
		// Strictly-greater keeps the name-ordered first broker on ties.
		if score > bestScore {
			bestScore = score
			best = sig
		}
	}

	if best == nil {
		return BrokerMatch{}, false
	}
	id := best.id
	return BrokerMatch{BrokerID: &id, Confidence: bestScore, MatchedBy: model.MatchedByKeyword}, true
}

// keywordScore grows with the number of matched patterns; multi-word
// patterns are more specific and count a little extra.
func keywordScore(text string, keywords []string) float64 {
	matches := 0
	specific := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matches++
			if strings.Count(kw, " ") >= 2 {
				specific++
			}
		}
	}
	if matches == 0 {
		return 0
	}

	score := keywordMatchBase + keywordMatchStep*float64(matches) + keywordSpecificBonus*float64(specific)
	if score > keywordMatchCap {
		score = keywordMatchCap
	}
	return score
}
