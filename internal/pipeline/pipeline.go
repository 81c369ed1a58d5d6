package pipeline

import (
	"context"
	"strings"
	"sync"

	"leadscout/internal/schedule"
	"leadscout/internal/search"
	logx "leadscout/pkg/logx"
)

// Searcher fetches one provider result page.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// Inspector performs the per-page checks of the expensive stages.
type Inspector interface {
	CountImages(ctx context.Context, url string) (int, error)
	FindEmail(ctx context.Context, url string) (string, error)
	CountWords(ctx context.Context, url string) (int, error)
}

// Outcome is the result of running the pipeline for one keyword.
type Outcome struct {
	// Found counts raw provider results before URL dedup.
	Found int
	// Candidates holds every deduped result with its accumulated reasons.
	Candidates []Candidate
	// Accepted holds the candidates that cleared every stage, in order.
	Accepted    []Candidate
	PagesFailed int
}

// Pipeline runs the candidate stages. Safe for concurrent use across runs.
type Pipeline struct {
	searcher Searcher
	pages    Inspector
	log      logx.Logger

	mu           sync.RWMutex
	fetchWorkers int
}

func New(searcher Searcher, pages Inspector, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{searcher: searcher, pages: pages, log: log}
	p.Apply(0)
	return p
}

// Apply swaps the page-inspection fan-out width at runtime.
func (p *Pipeline) Apply(fetchWorkers int) {
	if fetchWorkers <= 0 {
		fetchWorkers = 4
	}
	p.mu.Lock()
	p.fetchWorkers = fetchWorkers
	p.mu.Unlock()
}

func (p *Pipeline) workers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fetchWorkers
}

// Run filters one keyword. The seen set is caller-owned and shared across
// keywords of a run: domains of accepted candidates are added immediately,
// so later candidates observe them.
func (p *Pipeline) Run(ctx context.Context, keyword string, cfg schedule.SearchConfig, seen map[string]struct{}) Outcome {
	cfg = cfg.WithDefaults()
	if seen == nil {
		seen = make(map[string]struct{})
	}
	var out Outcome

	// Gather pages, dropping exact URL repeats across pages silently.
	cands := p.collect(ctx, keyword, cfg, &out)

	// Cheap filters first.
	for i := range cands {
		applyCheapStages(&cands[i], cfg)
	}
	// Snapshot which candidates carry a cheap rejection; those skip the
	// expensive page checks entirely.
	cheap := make([]bool, len(cands))
	for i := range cands {
		cheap[i] = len(cands[i].Reasons) > 0
	}

	p.inspectPages(ctx, cands, cheap, cfg)
	p.maybeWaiveImages(keyword, cands, cheap, cfg)

	// Final sequential pass: domain dedup for everyone (diagnostics
	// included), then the lazy word-count check for survivors only.
	for i := range cands {
		c := &cands[i]
		if cfg.AvoidDuplicates {
			if _, dup := seen[c.Domain]; dup {
				c.reject(ReasonDuplicateDomain)
			}
		}
		if !c.Accepted() {
			continue
		}
		if cfg.MinWordCount > 0 {
			words, err := p.pages.CountWords(ctx, c.URL)
			if err != nil || words < cfg.MinWordCount {
				if err != nil {
					p.log.Debug("word count probe failed", logx.String("url", c.URL), logx.Err(err))
				}
				c.reject(ReasonBelowMinWords)
				continue
			}
		}
		if cfg.AvoidDuplicates {
			seen[c.Domain] = struct{}{}
		}
		out.Accepted = append(out.Accepted, *c)
	}

	out.Candidates = cands
	return out
}

// collect issues one provider request per page offset and builds the
// deduped candidate list. A failed page loses only that page.
func (p *Pipeline) collect(ctx context.Context, keyword string, cfg schedule.SearchConfig, out *Outcome) []Candidate {
	seenURLs := make(map[string]struct{})
	var cands []Candidate
	for page := 0; page < cfg.Pages; page++ {
		results, err := p.searcher.Search(ctx, search.Query{
			Keyword:  keyword,
			Language: cfg.Language,
			Region:   cfg.Region,
			Num:      cfg.ResultsPerPage,
			Offset:   cfg.ResultsPerPage * page,
		})
		if err != nil {
			out.PagesFailed++
			p.log.Warn("search page failed",
				logx.String("keyword", keyword), logx.Int("page", page), logx.Err(err))
			continue
		}
		out.Found += len(results)
		for _, r := range results {
			link := strings.TrimSpace(r.Link)
			if link == "" {
				continue
			}
			if _, dup := seenURLs[link]; dup {
				continue
			}
			seenURLs[link] = struct{}{}
			cands = append(cands, newCandidate(r, len(cands)))
		}
	}
	return cands
}

func applyCheapStages(c *Candidate, cfg schedule.SearchConfig) {
	if cfg.ExcludeGovEdu && isGovEdu(c.host) {
		c.reject(ReasonGovEdu)
	}
	if matchesNegative(c, cfg.NegativeKeywords) {
		c.reject(ReasonNegativeKeyword)
	}
}

func isGovEdu(host string) bool {
	return strings.Contains(host, ".gov") || strings.Contains(host, ".edu")
}

func matchesNegative(c *Candidate, negatives []string) bool {
	if len(negatives) == 0 {
		return false
	}
	title := strings.ToLower(c.Title)
	snippet := strings.ToLower(c.Snippet)
	for _, n := range negatives {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if strings.Contains(title, n) || strings.Contains(snippet, n) {
			return true
		}
	}
	return false
}

// inspectPages runs the image and e-mail checks with bounded fan-out.
// Candidates with a cheap rejection are skipped; both checks run for the
// rest so the waiver's "solely for images" test stays accurate.
func (p *Pipeline) inspectPages(ctx context.Context, cands []Candidate, cheap []bool, cfg schedule.SearchConfig) {
	if !cfg.RequireImages && !cfg.RequireEmail {
		return
	}
	idx := make([]int, 0, len(cands))
	for i := range cands {
		if !cheap[i] {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}

	workers := p.workers()
	if workers > len(idx) {
		workers = len(idx)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each worker writes only to its own candidate index.
			for i := range jobs {
				p.inspectOne(ctx, &cands[i], cfg)
			}
		}()
	}
	for _, i := range idx {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func (p *Pipeline) inspectOne(ctx context.Context, c *Candidate, cfg schedule.SearchConfig) {
	if cfg.RequireImages {
		n, err := p.pages.CountImages(ctx, c.URL)
		if err != nil {
			p.log.Debug("image probe failed", logx.String("url", c.URL), logx.Err(err))
			c.reject(ReasonFewImages)
		} else if n < minImages {
			c.reject(ReasonFewImages)
		}
	}
	if cfg.RequireEmail {
		email, err := p.pages.FindEmail(ctx, c.URL)
		if err != nil {
			p.log.Debug("email probe failed", logx.String("url", c.URL), logx.Err(err))
			c.reject(ReasonNoEmail)
		} else if email == "" {
			c.reject(ReasonNoEmail)
		} else {
			c.Email = email
		}
	}
}

// maybeWaiveImages fails open on total wipeout: when every candidate that
// reached inspection would be rejected solely for insufficient images, the
// image reason is stripped from all of them. One clean survivor, or one
// survivor rejected for anything else, disables the waiver.
func (p *Pipeline) maybeWaiveImages(keyword string, cands []Candidate, cheap []bool, cfg schedule.SearchConfig) {
	if !cfg.RequireImages {
		return
	}
	waivable := 0
	for i := range cands {
		if cheap[i] {
			continue
		}
		rs := cands[i].Reasons
		if len(rs) != 1 || rs[0] != ReasonFewImages {
			return
		}
		waivable++
	}
	if waivable == 0 {
		return
	}
	for i := range cands {
		if cheap[i] {
			continue
		}
		cands[i].Reasons = nil
	}
	p.log.Debug("image requirement waived for keyword",
		logx.String("keyword", keyword), logx.Int("candidates", waivable))
}
