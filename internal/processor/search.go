package processor

// StopPredicate decides, after an attempt, whether the search can end early.
// candidates are the validated candidates of that attempt alone.
type StopPredicate func(a Attempt, candidates []string) bool

// FirstAttemptUnanimous stops when the very first attempt yields exactly one
// validated candidate. No later attempt can trigger it.
func FirstAttemptUnanimous(a Attempt, candidates []string) bool {
	return a.Seq == 0 && len(candidates) == 1
}

// NeverStop runs the whole plan.
func NeverStop(Attempt, []string) bool {
	return false
}

// PlanAttempts expands the configuration into the ordered attempt list:
// regions outermost, then strategies, then modes.
func PlanAttempts(cfg ExtractorConfig) []Attempt {
	var plan []Attempt
	for ri := range cfg.Regions {
		modes := cfg.Modes
		if ri >= cfg.BroadRegionCount && len(cfg.NarrowModes) > 0 {
			modes = restrictModes(cfg.Modes, cfg.NarrowModes)
		}
		for _, s := range cfg.Strategies {
			for _, m := range modes {
				plan = append(plan, Attempt{
					Seq:         len(plan),
					RegionIndex: ri,
					Strategy:    s,
					Mode:        m,
				})
			}
		}
	}
	return plan
}

// restrictModes keeps the modes of all that also appear in allowed, in the order of all.
func restrictModes(all, allowed []PageSegMode) []PageSegMode {
	var out []PageSegMode
	for _, m := range all {
		for _, a := range allowed {
			if m == a {
				out = append(out, m)
				break
			}
		}
	}
	if len(out) == 0 {
		return allowed
	}
	return out
}
