package memory

// CloneCandidates returns a deep copy of candidates so a stage can mutate
// scores without touching the caller's slice.
func CloneCandidates(candidates []Candidate) []Candidate {
	if candidates == nil {
		return nil
	}
	out := make([]Candidate, len(candidates))
	for i := range candidates {
		out[i] = cloneCandidate(candidates[i])
	}
	return out
}

func cloneCandidate(c Candidate) Candidate {
	clone := c
	if c.OriginalScore != nil {
		s := *c.OriginalScore
		clone.OriginalScore = &s
	}
	if c.Quality != nil {
		q := *c.Quality
		clone.Quality = &q
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for key, value := range c.Metadata {
			clone.Metadata[key] = value
		}
	}
	return clone
}
