package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	ingestion "github.com/jinford/hansard-rag/internal/module/ingestion/application"
	ingestdomain "github.com/jinford/hansard-rag/internal/module/ingestion/domain"
	searchdomain "github.com/jinford/hansard-rag/internal/module/search/domain"
	"github.com/jinford/hansard-rag/internal/platform/identity"
)

// SearchInput は search ツールの入力
type SearchInput struct {
	Query    string `json:"query" jsonschema:"natural language query"`
	K        int    `json:"k,omitempty" jsonschema:"maximum number of results (default 5, max 50)"`
	Category string `json:"category,omitempty" jsonschema:"party code such as ALP, LP, GRN"`
	Chamber  string `json:"chamber,omitempty" jsonschema:"house or senate"`
	Speaker  string `json:"speaker,omitempty" jsonschema:"exact speaker name"`
	State    string `json:"state,omitempty" jsonschema:"state or territory code such as NSW"`
	DateFrom string `json:"date_from,omitempty" jsonschema:"inclusive lower bound, YYYY-MM-DD"`
	DateTo   string `json:"date_to,omitempty" jsonschema:"inclusive upper bound, YYYY-MM-DD"`
}

// FetchInput は fetch ツールの入力
type FetchInput struct {
	ID string `json:"id" jsonschema:"document id"`
}

// FetchOutput は fetch ツールの出力。存在しない場合は found=false
type FetchOutput struct {
	Found    bool                          `json:"found"`
	Document *searchdomain.FetchedDocument `json:"document,omitempty"`
}

// IngestOneInput は ingest_one ツールの入力
type IngestOneInput struct {
	Ref    string `json:"ref" jsonschema:"path of the speech file"`
	Policy string `json:"policy,omitempty" jsonschema:"duplicate policy: skip, overwrite or reject"`
}

// IngestBulkInput は ingest_bulk ツールの入力
type IngestBulkInput struct {
	Dir     string `json:"dir" jsonschema:"directory to scan"`
	Pattern string `json:"pattern,omitempty" jsonschema:"glob pattern, ** crosses directories (default *.md)"`
	Policy  string `json:"policy,omitempty" jsonschema:"duplicate policy: skip, overwrite or reject"`
}

// IngestBulkOutput は ingest_bulk ツールの出力
type IngestBulkOutput struct {
	JobID string `json:"job_id"`
}

// JobInput はジョブIDを受け取るツールの入力
type JobInput struct {
	JobID string `json:"job_id" jsonschema:"job id returned by ingest_bulk"`
}

// IdentityInput は identity ツールの入力（引数なし）
type IdentityInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over parliamentary speeches with optional party, chamber and date filters",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "fetch",
		Description: "Fetch the full text and metadata of a speech by id",
	}, s.handleFetch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_one",
		Description: "Ingest a single speech file",
	}, s.handleIngestOne)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_bulk",
		Description: "Start a background job ingesting every matching file under a directory",
	}, s.handleIngestBulk)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_status",
		Description: "Report counters and status of a bulk ingestion job",
	}, s.handleIngestStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_cancel",
		Description: "Cancel a bulk ingestion job between documents",
	}, s.handleIngestCancel)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "identity",
		Description: "Show the cloud identity used for database authentication",
	}, s.handleIdentity)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, searchdomain.SearchResponse, error) {
	resp, err := s.ports.Search.Search(ctx, searchdomain.SearchParams{
		Query: in.Query,
		K:     in.K,
		Filter: searchdomain.FilterInput{
			Party:    in.Category,
			Chamber:  in.Chamber,
			Speaker:  in.Speaker,
			State:    in.State,
			DateFrom: in.DateFrom,
			DateTo:   in.DateTo,
		},
	})
	if err != nil {
		return nil, searchdomain.SearchResponse{}, err
	}
	return nil, *resp, nil
}

func (s *Server) handleFetch(ctx context.Context, _ *mcp.CallToolRequest, in FetchInput) (*mcp.CallToolResult, FetchOutput, error) {
	doc, err := s.ports.Search.Fetch(ctx, in.ID)
	if err != nil {
		if errors.Is(err, searchdomain.ErrDocumentNotFound) {
			return nil, FetchOutput{Found: false}, nil
		}
		return nil, FetchOutput{}, err
	}
	return nil, FetchOutput{Found: true, Document: doc}, nil
}

func (s *Server) handleIngestOne(ctx context.Context, _ *mcp.CallToolRequest, in IngestOneInput) (*mcp.CallToolResult, ingestion.IngestResult, error) {
	policy, err := s.policy(in.Policy)
	if err != nil {
		return nil, ingestion.IngestResult{}, err
	}
	result, err := s.ports.Ingest.IngestOne(ctx, in.Ref, policy)
	if err != nil {
		s.logger.Warn("ingest_one failed", "ref", in.Ref, "error", err)
		return nil, ingestion.IngestResult{}, err
	}
	return nil, *result, nil
}

func (s *Server) handleIngestBulk(ctx context.Context, _ *mcp.CallToolRequest, in IngestBulkInput) (*mcp.CallToolResult, IngestBulkOutput, error) {
	policy, err := s.policy(in.Policy)
	if err != nil {
		return nil, IngestBulkOutput{}, err
	}
	jobID, err := s.ports.Ingest.StartBulk(ctx, ingestion.BulkRequest{Dir: in.Dir, Pattern: in.Pattern, Policy: policy})
	if err != nil {
		return nil, IngestBulkOutput{}, err
	}
	return nil, IngestBulkOutput{JobID: jobID}, nil
}

func (s *Server) handleIngestStatus(ctx context.Context, _ *mcp.CallToolRequest, in JobInput) (*mcp.CallToolResult, ingestdomain.JobSnapshot, error) {
	snap, err := s.ports.Ingest.JobStatus(in.JobID)
	if err != nil {
		return nil, ingestdomain.JobSnapshot{}, err
	}
	return nil, snap, nil
}

func (s *Server) handleIngestCancel(ctx context.Context, _ *mcp.CallToolRequest, in JobInput) (*mcp.CallToolResult, ingestdomain.JobSnapshot, error) {
	if err := s.ports.Ingest.CancelJob(in.JobID); err != nil {
		return nil, ingestdomain.JobSnapshot{}, err
	}
	snap, err := s.ports.Ingest.JobStatus(in.JobID)
	if err != nil {
		return nil, ingestdomain.JobSnapshot{}, err
	}
	return nil, snap, nil
}

func (s *Server) handleIdentity(ctx context.Context, _ *mcp.CallToolRequest, _ IdentityInput) (*mcp.CallToolResult, identity.ConnectionIdentity, error) {
	return nil, s.ports.Identity(ctx), nil
}

func (s *Server) policy(value string) (ingestdomain.DuplicatePolicy, error) {
	if value == "" {
		return s.ports.DefaultPolicy, nil
	}
	return ingestdomain.ParseDuplicatePolicy(value)
}
