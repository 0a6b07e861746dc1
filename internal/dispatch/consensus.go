package dispatch

import (
	"strings"

	"github.com/GoPolymarket/trading-gateway/internal/topology"
)

// AgreementFunc reports whether two responses agree.
type AgreementFunc func(a, b Response) bool

// SameRecommendation treats recommendations as equal ignoring case.
func SameRecommendation(a, b Response) bool {
	return strings.EqualFold(strings.TrimSpace(a.Recommendation), strings.TrimSpace(b.Recommendation))
}

// Consensus groups responses into agreeing clusters and applies the
// agreement mode. expected is the number of required responders; missing
// responders count against consensus.
func Consensus(mode topology.Agreement, expected int, responses []Response, agree AgreementFunc) (string, bool) {
	if expected == 0 || len(responses) == 0 {
		return "", false
	}
	if agree == nil {
		agree = SameRecommendation
	}

	type cluster struct {
		lead  Response
		count int
	}
	var clusters []cluster
	for _, r := range responses {
		placed := false
		for i := range clusters {
			if agree(clusters[i].lead, r) {
				clusters[i].count++
				placed = true
				break
			}
		}
		if !placed {
			clusters = append(clusters, cluster{lead: r, count: 1})
		}
	}

	best := clusters[0]
	for _, c := range clusters[1:] {
		if c.count > best.count {
			best = c
		}
	}

	switch mode {
	case topology.AgreementUnanimous:
		if best.count == expected && len(responses) == expected {
			return best.lead.Recommendation, true
		}
	default:
		if best.count*2 > expected {
			return best.lead.Recommendation, true
		}
	}
	return "", false
}
