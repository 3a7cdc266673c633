package swarm

import (
	"fmt"
)

// Pipeline thresholds
const (
	validationComplexity = 8
	optionalComplexity   = 4
	synthesisFileCount   = 10
)

// Section types added by pipeline rules
const (
	SectionValidation      = "validation"
	SectionSourceSynthesis = "source_synthesis"
)

// Special requirements that append verification sections
const (
	FlagPlagiarismCheck = "plagiarism_check"
	FlagCitationCheck   = "citation_check"
	FlagFactCheck       = "fact_check"
)

// Agent roles sections are dispatched to
const (
	AgentResearch = "research"
	AgentWriter   = "writer"
	AgentAnalyst  = "analyst"
	AgentEditor   = "editor"
	AgentVerifier = "verifier"
	AgentLead     = "lead"
)

type section struct {
	name      string
	agentType string
	deps      []string
	optional  bool
	caps      []string
}

var templates = map[ContentType][]section{
	ContentEssay: {
		{name: "outline", agentType: AgentWriter},
		{name: "introduction", agentType: AgentWriter, deps: []string{"outline"}},
		{name: "body", agentType: AgentWriter, deps: []string{"outline"}},
		{name: "counterarguments", agentType: AgentAnalyst, deps: []string{"body"}, optional: true},
		{name: "conclusion", agentType: AgentWriter, deps: []string{"introduction", "counterarguments"}},
	},
	ContentResearchPaper: {
		{name: "literature_review", agentType: AgentResearch, caps: []string{"research"}},
		{name: "methodology", agentType: AgentWriter, deps: []string{"literature_review"}},
		{name: "results", agentType: AgentAnalyst, deps: []string{"methodology"}, caps: []string{"analysis"}},
		{name: "discussion", agentType: AgentWriter, deps: []string{"results", "literature_review"}},
		{name: "limitations", agentType: AgentAnalyst, deps: []string{"discussion"}, optional: true},
		{name: "conclusion", agentType: AgentWriter, deps: []string{"limitations"}},
		{name: "abstract", agentType: AgentWriter, deps: []string{"conclusion"}},
	},
	ContentDissertation: {
		{name: "literature_review", agentType: AgentResearch, caps: []string{"research"}},
		{name: "methodology", agentType: AgentWriter, deps: []string{"literature_review"}},
		{name: "analysis", agentType: AgentAnalyst, deps: []string{"methodology"}, caps: []string{"analysis"}},
		{name: "findings", agentType: AgentWriter, deps: []string{"analysis"}},
		{name: "discussion", agentType: AgentWriter, deps: []string{"findings", "literature_review"}},
		{name: "recommendations", agentType: AgentAnalyst, deps: []string{"discussion"}, optional: true},
		{name: "conclusion", agentType: AgentWriter, deps: []string{"recommendations"}},
		{name: "abstract", agentType: AgentWriter, deps: []string{"conclusion"}},
	},
	ContentReport: {
		{name: "background", agentType: AgentResearch},
		{name: "analysis", agentType: AgentAnalyst, deps: []string{"background"}, caps: []string{"analysis"}},
		{name: "findings", agentType: AgentWriter, deps: []string{"analysis"}},
		{name: "appendix", agentType: AgentWriter, deps: []string{"findings"}, optional: true},
		{name: "recommendations", agentType: AgentAnalyst, deps: []string{"findings"}},
		{name: "executive_summary", agentType: AgentWriter, deps: []string{"recommendations"}},
	},
	ContentCaseStudy: {
		{name: "background", agentType: AgentResearch},
		{name: "problem_statement", agentType: AgentWriter, deps: []string{"background"}},
		{name: "analysis", agentType: AgentAnalyst, deps: []string{"problem_statement"}, caps: []string{"analysis"}},
		{name: "alternatives", agentType: AgentAnalyst, deps: []string{"analysis"}, optional: true},
		{name: "solution", agentType: AgentWriter, deps: []string{"alternatives"}},
		{name: "lessons_learned", agentType: AgentWriter, deps: []string{"solution"}, optional: true},
	},
}

// PipelineOptions are the inputs of adaptive pipeline generation
type PipelineOptions struct {
	Complexity float64
	FileCount  int
	Special    []string
}

// GeneratePipeline builds the section graph for a content type:
//   - complexity above 8 appends a validation section after every sink
//   - complexity below 4 drops optional sections, re-linking their dependents
//   - more than 10 files inserts a source synthesis root
//   - each verification flag appends a check section after the content sinks
func GeneratePipeline(contentType ContentType, opts PipelineOptions) ([]*Task, error) {
	tmpl, ok := templates[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContentType, contentType)
	}

	sections := make([]section, len(tmpl))
	copy(sections, tmpl)

	if opts.Complexity < optionalComplexity {
		sections = dropOptional(sections)
	}

	if opts.FileCount > synthesisFileCount {
		for i := range sections {
			if len(sections[i].deps) == 0 {
				sections[i].deps = []string{SectionSourceSynthesis}
			}
		}
		sections = append([]section{{
			name:      SectionSourceSynthesis,
			agentType: AgentResearch,
			caps:      []string{"research"},
		}}, sections...)
	}

	if opts.Complexity > validationComplexity {
		deps, err := sectionSinks(sections)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section{
			name:      SectionValidation,
			agentType: AgentEditor,
			deps:      deps,
		})
	}

	contentSinks, err := sectionSinks(sections)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, flag := range opts.Special {
		switch flag {
		case FlagPlagiarismCheck, FlagCitationCheck, FlagFactCheck:
		default:
			continue
		}
		if seen[flag] {
			continue
		}
		seen[flag] = true
		sections = append(sections, section{
			name:      flag,
			agentType: AgentVerifier,
			deps:      contentSinks,
			caps:      []string{flag},
		})
	}

	tasks := make([]*Task, 0, len(sections))
	for _, s := range sections {
		tasks = append(tasks, &Task{
			ID:           s.name,
			SectionType:  s.name,
			AgentType:    s.agentType,
			Capabilities: append([]string(nil), s.caps...),
			Dependencies: append([]string(nil), s.deps...),
			Optional:     s.optional,
			Requirements: map[string]any{
				"content_type": string(contentType),
				"section":      s.name,
				"complexity":   opts.Complexity,
				"file_count":   opts.FileCount,
				"dependencies": append([]string(nil), s.deps...),
			},
		})
	}

	if _, err := NewGraph(tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// dropOptional removes optional sections; a dependent of a removed section
// inherits its dependencies
func dropOptional(sections []section) []section {
	removed := make(map[string][]string)
	for _, s := range sections {
		if s.optional {
			removed[s.name] = s.deps
		}
	}
	if len(removed) == 0 {
		return sections
	}

	var resolve func(dep string, seen map[string]bool) []string
	resolve = func(dep string, seen map[string]bool) []string {
		up, gone := removed[dep]
		if !gone {
			return []string{dep}
		}
		if seen[dep] {
			return nil
		}
		seen[dep] = true
		var out []string
		for _, d := range up {
			out = append(out, resolve(d, seen)...)
		}
		return out
	}

	out := make([]section, 0, len(sections))
	for _, s := range sections {
		if s.optional {
			continue
		}
		var deps []string
		dedup := make(map[string]bool)
		for _, d := range s.deps {
			for _, r := range resolve(d, make(map[string]bool)) {
				if !dedup[r] {
					dedup[r] = true
					deps = append(deps, r)
				}
			}
		}
		s.deps = deps
		out = append(out, s)
	}
	return out
}

// sectionSinks returns the sections no other section depends on
func sectionSinks(sections []section) ([]string, error) {
	tasks := make([]*Task, 0, len(sections))
	for _, s := range sections {
		tasks = append(tasks, &Task{ID: s.name, Dependencies: s.deps})
	}
	g, err := NewGraph(tasks)
	if err != nil {
		return nil, err
	}
	return g.Sinks(), nil
}
