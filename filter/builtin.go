package filter

// Content returns a fresh registry holding the built-in content stages.
// Each call builds a new registry so callers may register their own stages
// without affecting others.
func Content() *Registry {
	r := NewRegistry("content")
	for _, s := range []Stage{
		grepStage("grep", true),
		grepStage("grepi", false),
		reSubStage,
		stripStage,
		sortStage,
		reverseStage,
		uniqStage,
		sha256Stage,
		html2textStage,
		sanitizeStage,
		cssStage,
		elementByIDStage,
		elementByTagStage,
		pdf2textStage,
		shellpipeStage,
	} {
		r.MustRegister(s)
	}
	return r
}

// Diff returns a fresh registry holding the built-in diff stages.
func Diff() *Registry {
	r := NewRegistry("diff")
	for _, s := range []Stage{
		grepStage("grep", true),
		grepStage("grepi", false),
		reSubStage,
		stripStage,
		htmlDiffStage,
	} {
		r.MustRegister(s)
	}
	return r
}
