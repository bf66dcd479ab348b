package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/leadscout/models"
)

// client talks to the leadscout HTTP API.
type client struct {
	http   *http.Client
	apiURL string
	apiKey string
}

func main() {
	apiURL := os.Getenv("LEADSCOUT_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("LEADSCOUT_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "LEADSCOUT_API_KEY is required")
		os.Exit(1)
	}
	c := &client{
		http:   &http.Client{Timeout: 60 * time.Second},
		apiURL: strings.TrimRight(apiURL, "/"),
		apiKey: apiKey,
	}

	s := server.NewMCPServer(
		"leadscout",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	startScrapeTool := mcp.NewTool("start_scrape",
		mcp.WithDescription("Start a lead scrape over a Sales Navigator search URL. The job runs in the background; use job_status to follow it. Requires a session cookie stored via PUT /api/v1/session."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The Sales Navigator search-results URL to scrape"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Block until the job finishes (default: false)"),
		),
	)
	s.AddTool(startScrapeTool, handleStartScrape(c))

	jobStatusTool := mcp.NewTool("job_status",
		mcp.WithDescription("Report the status, progress and error of a scrape job."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The job id returned by start_scrape"),
		),
	)
	s.AddTool(jobStatusTool, handleJobStatus(c))

	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a pending or running scrape job. Leads captured so far are kept."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The job id to cancel"),
		),
	)
	s.AddTool(cancelJobTool, handleCancelJob(c))

	listLeadsTool := mcp.NewTool("list_leads",
		mcp.WithDescription("List captured leads, optionally filtered by job, company or location."),
		mcp.WithString("job_id",
			mcp.Description("Only leads first captured by this job"),
		),
		mcp.WithString("company",
			mcp.Description("Substring match on the company name"),
		),
		mcp.WithString("location",
			mcp.Description("Substring match on the location"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Page size (default: 50, max: 500)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of leads to skip"),
		),
	)
	s.AddTool(listLeadsTool, handleListLeads(c))

	exportLeadsTool := mcp.NewTool("export_leads",
		mcp.WithDescription("Export captured leads to a file. Counts against the monthly export quota."),
		mcp.WithString("format",
			mcp.Required(),
			mcp.Description("File format"),
			mcp.Enum("csv", "json", "xlsx"),
		),
		mcp.WithString("job_id",
			mcp.Description("Only export leads first captured by this job"),
		),
	)
	s.AddTool(exportLeadsTool, handleExportLeads(c))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// do sends a request to the API and decodes a successful JSON response
// into out. Error envelopes are returned as "[CODE] message" errors.
func (c *client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var e models.ErrorResponse
		if json.Unmarshal(respBody, &e) == nil && e.Error != nil {
			return fmt.Errorf("[%s] %s", e.Error.Code, e.Error.Message)
		}
		return fmt.Errorf("API returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// pollJob polls a job until it reaches a terminal state or ctx is cancelled.
func (c *client) pollJob(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var job models.JobStatusResponse
			if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
				return nil, err
			}
			if job.Status.Terminal() {
				return &job, nil
			}
		}
	}
}

func formatJob(job *models.JobStatusResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Job %s: %s\n", job.ID, job.Status)
	if job.TotalResults != nil {
		fmt.Fprintf(&sb, "Leads: %d of %d results\n", job.ScrapedCount, *job.TotalResults)
	} else {
		fmt.Fprintf(&sb, "Leads: %d\n", job.ScrapedCount)
	}
	if job.ErrorCode != nil {
		msg := ""
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		fmt.Fprintf(&sb, "Error: [%s] %s\n", *job.ErrorCode, msg)
	}
	return sb.String()
}

func handleStartScrape(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		var created models.JobCreatedResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", models.JobRequest{Query: query}, &created); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("start scrape failed: %v", err)), nil
		}

		if !request.GetBool("wait", false) {
			return mcp.NewToolResultText(fmt.Sprintf("Job %s: %s", created.ID, created.Status)), nil
		}

		job, err := c.pollJob(ctx, created.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling job %s failed: %v", created.ID, err)), nil
		}
		return mcp.NewToolResultText(formatJob(job)), nil
	}
}

func handleJobStatus(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		var job models.JobStatusResponse
		if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(formatJob(&job)), nil
	}
}

func handleCancelJob(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		if err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, nil); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Cancellation requested for job %s", id)), nil
	}
}

func handleListLeads(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := url.Values{}
		for _, key := range []string{"job_id", "company", "location"} {
			if v := request.GetString(key, ""); v != "" {
				q.Set(key, v)
			}
		}
		if limit := request.GetInt("limit", 0); limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		if offset := request.GetInt("offset", 0); offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}

		path := "/api/v1/leads"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		var resp models.LeadListResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list leads failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Leads %d-%d of %d\n\n", resp.Offset+1, resp.Offset+len(resp.Leads), resp.Total)
		for _, l := range resp.Leads {
			fmt.Fprintf(&sb, "- %s", l.Name)
			if l.Title != "" {
				fmt.Fprintf(&sb, ", %s", l.Title)
			}
			if l.Company != "" {
				fmt.Fprintf(&sb, " at %s", l.Company)
			}
			if l.Location != "" {
				fmt.Fprintf(&sb, " (%s)", l.Location)
			}
			fmt.Fprintf(&sb, "\n  %s\n", l.ProfileURL)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleExportLeads(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		format, err := request.RequireString("format")
		if err != nil {
			return mcp.NewToolResultError("format is required"), nil
		}

		var e models.Export
		req := models.ExportRequest{Format: format, JobID: request.GetString("job_id", "")}
		if err := c.do(ctx, http.MethodPost, "/api/v1/exports", req, &e); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"Export %s: %d leads as %s\nDownload: %s/api/v1/exports/%s/download",
			e.ID, e.RecordCount, e.Format, c.apiURL, e.ID,
		)), nil
	}
}
