package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/use-agent/leadscout/extractor"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/navigator"
	"github.com/use-agent/leadscout/simhash"
)

// pageRun is the per-job pipeline state carried between pages.
type pageRun struct {
	m   *Manager
	job models.ScrapeJob

	total       int
	saved       int
	prevFP      uint64
	lastPage    int
	visited     int
	structural  int
	consecutive int
}

// execute walks every listing page of the job, extracting and persisting
// leads page by page. The browser page is closed by the walk before
// execute returns.
func (m *Manager) execute(ctx context.Context, job models.ScrapeJob) error {
	credential, err := m.creds.Credential(ctx, job.UserID)
	if err != nil {
		return err
	}

	r := &pageRun{m: m, job: job, saved: job.ScrapedCount}
	err = m.nav.Walk(ctx, navigator.WalkRequest{
		UserID:     job.UserID,
		Query:      job.Query,
		Credential: credential,
	}, navigator.Visitor{
		OnTotal: r.onTotal,
		OnPage:  r.onPage,
	})
	if err != nil {
		return err
	}
	if r.visited > 0 && r.structural == r.visited {
		return models.NewScrapeError(models.ErrCodeStructure,
			fmt.Sprintf("no usable result cards found on any of %d pages", r.visited), nil)
	}
	return nil
}

func (r *pageRun) onTotal(ctx context.Context, total int) error {
	r.total = total
	slog.Info("job total known", "job_id", r.job.ID, "total_results", total)
	return r.m.store.SetTotal(context.WithoutCancel(ctx), r.job.ID, total)
}

// onPage runs extract, stall check, cap and persist for one page.
func (r *pageRun) onPage(ctx context.Context, num int, html string) error {
	if num != r.lastPage {
		r.lastPage = num
		r.visited++
	}

	page, err := extractor.ExtractPage(html, r.m.target.BaseURL)
	if err == nil && len(page.Leads) == 0 {
		// Cards whose fields all moved are as broken as no cards.
		err = models.NewScrapeError(models.ErrCodeStructure,
			fmt.Sprintf("none of %d result cards has a name and profile link", page.Cards), nil)
	}
	if err != nil {
		if models.CodeOf(err) != models.ErrCodeStructure {
			return err
		}
		r.structural++
		r.consecutive++
		slog.Warn("page has no result cards, skipping",
			"job_id", r.job.ID,
			"page", num,
			"consecutive", r.consecutive,
			"layout", fmt.Sprintf("%016x", simhash.FingerprintDOM(html)),
		)
		if r.m.maxConsecutive > 0 && r.consecutive > r.m.maxConsecutive {
			return models.NewScrapeError(models.ErrCodeStructure,
				fmt.Sprintf("%d consecutive pages without result cards", r.consecutive), err)
		}
		return nil
	}
	r.consecutive = 0

	fp := extractor.Fingerprint(page.Leads)
	if num > 1 && simhash.Similar(fp, r.prevFP, 0) {
		return models.NewScrapeError(models.ErrCodePaginationStalled,
			fmt.Sprintf("page %d repeats the previous listing", num), nil)
	}
	r.prevFP = fp

	leads := page.Leads
	remaining := r.total - r.saved
	if remaining <= 0 {
		slog.Info("result budget reached, stopping", "job_id", r.job.ID, "page", num)
		return navigator.ErrStop
	}
	if len(leads) > remaining {
		leads = leads[:remaining]
	}

	// The page in hand is persisted even if the job was canceled meanwhile.
	inserted, err := r.m.store.SavePage(context.WithoutCancel(ctx), r.job.ID, r.job.UserID, leads)
	if err != nil {
		return fmt.Errorf("jobs: save page %d: %w", num, err)
	}
	r.saved += inserted
	slog.Info("page saved",
		"job_id", r.job.ID,
		"page", num,
		"cards", page.Cards,
		"skipped", page.Skipped,
		"inserted", inserted,
		"scraped_count", r.saved,
	)
	return nil
}
