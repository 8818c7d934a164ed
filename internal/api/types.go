package api

import (
	"time"

	"github.com/triage-io/triage/internal/ingest"
	"github.com/triage-io/triage/internal/product"
	"github.com/triage-io/triage/internal/query"
	"github.com/triage-io/triage/internal/report"
	"github.com/triage-io/triage/internal/task"
	"github.com/triage-io/triage/internal/triage"
)

// Request bodies.
type (
	// ProductRequest creates or updates a product.
	ProductRequest struct {
		Endpoint                   string `json:"endpoint"`
		DisplayedName              string `json:"displayed_name"`
		Description                string `json:"description"`
		DatabaseURL                string `json:"database_url"`
		RunLimit                   int    `json:"run_limit"`
		PoolSize                   int    `json:"pool_size"`
		ReviewStatusChangeDisabled bool   `json:"review_status_change_disabled"`
	}

	// StoreRequest uploads one run. Data is the base64-encoded zip bundle.
	StoreRequest struct {
		RunName            string   `json:"run_name"`
		Tag                string   `json:"tag,omitempty"`
		Description        string   `json:"description,omitempty"`
		ClientVersion      string   `json:"client_version,omitempty"`
		AnalysisDurationMS int64    `json:"analysis_duration_ms,omitempty"`
		Force              bool     `json:"force,omitempty"`
		TrimPrefixes       []string `json:"trim_path_prefixes,omitempty"`
		Data               []byte   `json:"data"`
	}

	// HashListRequest carries content hashes for a missing-content probe.
	HashListRequest struct {
		Hashes []string `json:"hashes"`
	}

	// ContentUploadRequest ships one file blob keyed by its hash.
	ContentUploadRequest struct {
		Hash     string `json:"hash"`
		Content  []byte `json:"content"`
		Encoding string `json:"encoding,omitempty"`
	}

	// BlameUploadRequest ships blame metadata for a stored file.
	BlameUploadRequest struct {
		Hash  string         `json:"hash"`
		Blame map[string]any `json:"blame"`
	}

	// AnnotationDTO is one annotation predicate or value.
	AnnotationDTO struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	// ReportFilterDTO is the wire form of a report filter.
	ReportFilterDTO struct {
		FilePaths         []string        `json:"file_paths,omitempty"`
		CheckerMessages   []string        `json:"checker_messages,omitempty"`
		CheckerNames      []string        `json:"checker_names,omitempty"`
		ReportHashes      []string        `json:"report_hashes,omitempty"`
		Severities        []string        `json:"severities,omitempty"`
		ReviewStatuses    []string        `json:"review_statuses,omitempty"`
		DetectionStatuses []string        `json:"detection_statuses,omitempty"`
		RunNames          []string        `json:"run_names,omitempty"`
		RunTags           []string        `json:"run_tags,omitempty"`
		ComponentNames    []string        `json:"component_names,omitempty"`
		AnalyzerNames     []string        `json:"analyzer_names,omitempty"`
		CleanupPlanNames  []string        `json:"cleanup_plan_names,omitempty"`
		Annotations       []AnnotationDTO `json:"annotations,omitempty"`
		BugPathLengthMin  *int            `json:"bug_path_length_min,omitempty"`
		BugPathLengthMax  *int            `json:"bug_path_length_max,omitempty"`
		DetectedAfter     *time.Time      `json:"detected_after,omitempty"`
		DetectedBefore    *time.Time      `json:"detected_before,omitempty"`
		FixedAfter        *time.Time      `json:"fixed_after,omitempty"`
		FixedBefore       *time.Time      `json:"fixed_before,omitempty"`
		OpenReportsDate   *time.Time      `json:"open_reports_date,omitempty"`
		Unique            bool            `json:"unique,omitempty"`
	}

	// SortModeDTO is one sort key.
	SortModeDTO struct {
		Field string `json:"field"`
		Desc  bool   `json:"desc,omitempty"`
	}

	// CompareDataDTO adds a diff against a second run set.
	CompareDataDTO struct {
		RunIDs          []int64    `json:"run_ids"`
		DiffType        string     `json:"diff_type"`
		OpenReportsDate *time.Time `json:"open_reports_date,omitempty"`
	}

	// ResultsRequest queries report listings and counts.
	ResultsRequest struct {
		RunIDs  []int64          `json:"run_ids,omitempty"`
		Limit   int              `json:"limit,omitempty"`
		Offset  int              `json:"offset,omitempty"`
		Sort    []SortModeDTO    `json:"sort,omitempty"`
		Filter  *ReportFilterDTO `json:"filter,omitempty"`
		Compare *CompareDataDTO  `json:"compare,omitempty"`
	}

	// HashDiffRequest diffs a client-side hash list against stored runs.
	HashDiffRequest struct {
		RunIDs          []int64    `json:"run_ids,omitempty"`
		ReportHashes    []string   `json:"report_hashes"`
		DiffType        string     `json:"diff_type"`
		SkipStatuses    []string   `json:"skip_detection_statuses,omitempty"`
		OpenReportsDate *time.Time `json:"open_reports_date,omitempty"`
	}

	// ReviewStatusRequest changes the review status of one report.
	ReviewStatusRequest struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}

	// RuleQueryRequest lists or removes review-status rules.
	RuleQueryRequest struct {
		ReportHashes        []string      `json:"report_hashes,omitempty"`
		ReviewStatuses      []string      `json:"review_statuses,omitempty"`
		Authors             []string      `json:"authors,omitempty"`
		NoAssociatedReports bool          `json:"no_associated_reports,omitempty"`
		Sort                []SortModeDTO `json:"sort,omitempty"`
		Limit               int           `json:"limit,omitempty"`
		Offset              int           `json:"offset,omitempty"`
	}

	// CommentRequest creates or updates a comment.
	CommentRequest struct {
		Message string `json:"message"`
	}

	// CleanupPlanRequest creates or updates a cleanup plan.
	CleanupPlanRequest struct {
		Name        string     `json:"name"`
		Description string     `json:"description,omitempty"`
		DueDate     *time.Time `json:"due_date,omitempty"`
	}

	// ComponentRequest creates or replaces a source component.
	ComponentRequest struct {
		Name        string `json:"name"`
		Value       string `json:"value"`
		Description string `json:"description,omitempty"`
	}

	// APIKeyRequest mints a new API key.
	APIKeyRequest struct {
		ID          string     `json:"id"`
		Principal   string     `json:"principal"`
		Name        string     `json:"name,omitempty"`
		Permissions []string   `json:"permissions,omitempty"`
		ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	}
)

// Response bodies.
type (
	// ProductResponse is one catalogue entry. The database URL never leaves
	// the server.
	ProductResponse struct {
		ID                         int64      `json:"id"`
		Endpoint                   string     `json:"endpoint"`
		DisplayedName              string     `json:"displayed_name"`
		Description                string     `json:"description"`
		RunLimit                   int        `json:"run_limit"`
		ReviewStatusChangeDisabled bool       `json:"review_status_change_disabled"`
		CreatedAt                  time.Time  `json:"created_at"`
		RetiredAt                  *time.Time `json:"retired_at,omitempty"`
	}

	// StoreResponse acknowledges an accepted upload.
	StoreResponse struct {
		TaskToken string `json:"task_token"`
	}

	// RunResponse is one run with its latest storage metadata.
	RunResponse struct {
		ID              int64      `json:"id"`
		Name            string     `json:"name"`
		Description     string     `json:"description,omitempty"`
		CreatedAt       time.Time  `json:"created_at"`
		ResultCount     int64      `json:"result_count"`
		UnresolvedCount int64      `json:"unresolved_count"`
		HistoryCount    int64      `json:"history_count"`
		DurationMS      int64      `json:"duration_ms"`
		LatestStoredAt  *time.Time `json:"latest_stored_at,omitempty"`
		LatestUser      string     `json:"latest_user,omitempty"`
		LatestTag       string     `json:"latest_tag,omitempty"`
		LatestClient    string     `json:"latest_client,omitempty"`
	}

	// ReportResponse is one report row.
	ReportResponse struct {
		ID              int64      `json:"id"`
		RunID           int64      `json:"run_id"`
		FileID          int64      `json:"file_id"`
		FilePath        string     `json:"file_path"`
		ReportHash      string     `json:"report_hash"`
		CheckerID       string     `json:"checker_id"`
		AnalyzerName    string     `json:"analyzer_name"`
		Message         string     `json:"message"`
		Severity        string     `json:"severity"`
		Line            int        `json:"line"`
		Column          int        `json:"column"`
		BugPathLength   int        `json:"bug_path_length"`
		DetectionStatus string     `json:"detection_status"`
		ReviewStatus    string     `json:"review_status"`
		ReviewComment   string     `json:"review_comment,omitempty"`
		ReviewAuthor    string     `json:"review_author,omitempty"`
		ReviewInSource  bool       `json:"review_in_source"`
		DetectedAt      time.Time  `json:"detected_at"`
		FixedAt         *time.Time `json:"fixed_at,omitempty"`
	}

	// SpanDTO is one source range.
	SpanDTO struct {
		FileID    int64  `json:"file_id"`
		StartLine int    `json:"start_line"`
		StartCol  int    `json:"start_col"`
		EndLine   int    `json:"end_line"`
		EndCol    int    `json:"end_col"`
		Message   string `json:"message,omitempty"`
		Kind      string `json:"kind,omitempty"`
	}

	// CommentResponse is one report comment.
	CommentResponse struct {
		ID        int64     `json:"id"`
		ReportID  int64     `json:"report_id"`
		Author    string    `json:"author"`
		Message   string    `json:"message"`
		Kind      string    `json:"kind"`
		CreatedAt time.Time `json:"created_at"`
	}

	// ReportDetailsResponse is the full state of one report.
	ReportDetailsResponse struct {
		Report    ReportResponse    `json:"report"`
		Events    []SpanDTO         `json:"bug_path_events"`
		Positions []SpanDTO         `json:"bug_path_positions,omitempty"`
		Extended  []SpanDTO         `json:"extended_data,omitempty"`
		Comments  []CommentResponse `json:"comments,omitempty"`
	}

	// CountResponse is a single total.
	CountResponse struct {
		Count int64 `json:"count"`
	}

	// CountByResponse is an aggregation along one dimension.
	CountByResponse struct {
		Counts map[string]int64 `json:"counts"`
	}

	// HashListResponse answers a missing-content probe.
	HashListResponse struct {
		Hashes []string `json:"hashes"`
	}

	// HashDiffResponse is the surviving hash set of a client diff.
	HashDiffResponse struct {
		ReportHashes []string `json:"report_hashes"`
	}

	// SourceFileResponse is one file, optionally with content.
	SourceFileResponse struct {
		FileID      int64  `json:"file_id"`
		FilePath    string `json:"file_path"`
		ContentHash string `json:"content_hash"`
		Content     []byte `json:"content,omitempty"`
		Encoding    string `json:"encoding,omitempty"`
	}

	// RuleResponse is one review-status rule.
	RuleResponse struct {
		ReportHash  string    `json:"report_hash"`
		Status      string    `json:"status"`
		Message     string    `json:"message,omitempty"`
		Author      string    `json:"author"`
		Date        time.Time `json:"date"`
		ReportCount int64     `json:"report_count"`
	}

	// CleanupPlanResponse is one cleanup plan with its membership.
	CleanupPlanResponse struct {
		ID           int64      `json:"id"`
		Name         string     `json:"name"`
		Description  string     `json:"description,omitempty"`
		DueDate      *time.Time `json:"due_date,omitempty"`
		ClosedAt     *time.Time `json:"closed_at,omitempty"`
		ReportHashes []string   `json:"report_hashes,omitempty"`
	}

	// ComponentResponse is one source component.
	ComponentResponse struct {
		Name        string `json:"name"`
		Value       string `json:"value"`
		Description string `json:"description,omitempty"`
	}

	// TaskResponse is one background task record.
	TaskResponse struct {
		Token         string     `json:"token"`
		Kind          string     `json:"kind"`
		Status        string     `json:"status"`
		ProductID     *int64     `json:"product_id,omitempty"`
		Actor         string     `json:"actor,omitempty"`
		Summary       string     `json:"summary,omitempty"`
		EnqueuedAt    *time.Time `json:"enqueued_at,omitempty"`
		StartedAt     *time.Time `json:"started_at,omitempty"`
		CompletedAt   *time.Time `json:"completed_at,omitempty"`
		CancelFlag    bool       `json:"cancel_requested"`
		ConsumedFlag  bool       `json:"consumed"`
		LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	}

	// APIKeyResponse is one key's metadata.
	APIKeyResponse struct {
		ID          string     `json:"id"`
		Principal   string     `json:"principal"`
		Name        string     `json:"name,omitempty"`
		Permissions []string   `json:"permissions"`
		CreatedAt   time.Time  `json:"created_at"`
		ExpiresAt   *time.Time `json:"expires_at,omitempty"`
		Active      bool       `json:"active"`
	}

	// APIKeyCreatedResponse carries the raw key material exactly once.
	APIKeyCreatedResponse struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}

	// VersionResponse is the API handshake answer.
	VersionResponse struct {
		Version    string `json:"version"`
		APIVersion string `json:"api_version"`
	}

	// HealthResponse reports service liveness.
	HealthResponse struct {
		Status        string `json:"status"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	}
)

// ToFilter converts the wire filter into the query form.
func (f *ReportFilterDTO) ToFilter() *query.ReportFilter {
	if f == nil {
		return nil
	}

	filter := &query.ReportFilter{
		FilePaths:        f.FilePaths,
		CheckerMessages:  f.CheckerMessages,
		CheckerNames:     f.CheckerNames,
		ReportHashes:     f.ReportHashes,
		RunNames:         f.RunNames,
		RunTags:          f.RunTags,
		ComponentNames:   f.ComponentNames,
		AnalyzerNames:    f.AnalyzerNames,
		CleanupPlanNames: f.CleanupPlanNames,
		BugPathLengthMin: f.BugPathLengthMin,
		BugPathLengthMax: f.BugPathLengthMax,
		DetectedAfter:    f.DetectedAfter,
		DetectedBefore:   f.DetectedBefore,
		FixedAfter:       f.FixedAfter,
		FixedBefore:      f.FixedBefore,
		OpenReportsDate:  f.OpenReportsDate,
		Unique:           f.Unique,
	}

	for _, s := range f.Severities {
		filter.Severities = append(filter.Severities, report.Severity(s))
	}

	for _, s := range f.ReviewStatuses {
		filter.ReviewStatuses = append(filter.ReviewStatuses, report.ReviewStatus(s))
	}

	for _, s := range f.DetectionStatuses {
		filter.DetectionStatuses = append(filter.DetectionStatuses, report.DetectionStatus(s))
	}

	for _, a := range f.Annotations {
		filter.Annotations = append(filter.Annotations,
			query.AnnotationFilter{Key: a.Key, Value: a.Value})
	}

	return filter
}

// ToSorts converts wire sort modes into the query form. Unknown fields
// are dropped silently, matching the query engine's behaviour.
func toSorts(sorts []SortModeDTO) []query.SortMode {
	result := make([]query.SortMode, 0, len(sorts))
	for _, s := range sorts {
		result = append(result, query.SortMode{Field: query.SortField(s.Field), Desc: s.Desc})
	}

	return result
}

// ToCompare converts the wire compare block into the query form.
func (c *CompareDataDTO) ToCompare() *query.CompareData {
	if c == nil {
		return nil
	}

	return &query.CompareData{
		RunIDs:          c.RunIDs,
		DiffType:        query.DiffType(c.DiffType),
		OpenReportsDate: c.OpenReportsDate,
	}
}

// ToRuleFilter converts the wire rule query into the triage form.
func (r *RuleQueryRequest) ToRuleFilter() *triage.RuleFilter {
	filter := &triage.RuleFilter{
		ReportHashes:        r.ReportHashes,
		Authors:             r.Authors,
		NoAssociatedReports: r.NoAssociatedReports,
	}

	for _, s := range r.ReviewStatuses {
		filter.ReviewStatuses = append(filter.ReviewStatuses, report.ReviewStatus(s))
	}

	return filter
}

func (r *RuleQueryRequest) toRuleSorts() []triage.RuleSortMode {
	sorts := make([]triage.RuleSortMode, 0, len(r.Sort))
	for _, s := range r.Sort {
		sorts = append(sorts, triage.RuleSortMode{Field: triage.RuleSortField(s.Field), Desc: s.Desc})
	}

	return sorts
}

func productResponse(p *product.Product) ProductResponse {
	return ProductResponse{
		ID:                         p.ID,
		Endpoint:                   p.Endpoint,
		DisplayedName:              p.DisplayedName,
		Description:                p.Description,
		RunLimit:                   p.RunLimit,
		ReviewStatusChangeDisabled: p.ReviewStatusChangeDisabled,
		CreatedAt:                  p.CreatedAt,
		RetiredAt:                  p.RetiredAt,
	}
}

func runResponse(r query.RunData) RunResponse {
	return RunResponse{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		CreatedAt:       r.CreatedAt,
		ResultCount:     r.ResultCount,
		UnresolvedCount: r.UnresolvedCount,
		HistoryCount:    r.HistoryCount,
		DurationMS:      r.LatestDuration.Milliseconds(),
		LatestStoredAt:  r.LatestStoredAt,
		LatestUser:      r.LatestUser,
		LatestTag:       r.LatestTag,
		LatestClient:    r.LatestClient,
	}
}

func reportResponse(r report.Report, filePath string) ReportResponse {
	return ReportResponse{
		ID:              r.ID,
		RunID:           r.RunID,
		FileID:          r.FileID,
		FilePath:        filePath,
		ReportHash:      r.ReportHash,
		CheckerID:       r.CheckerID,
		AnalyzerName:    r.AnalyzerName,
		Message:         r.Message,
		Severity:        string(r.Severity),
		Line:            r.Line,
		Column:          r.Column,
		BugPathLength:   r.BugPathLength,
		DetectionStatus: string(r.DetectionStatus),
		ReviewStatus:    string(r.ReviewStatus),
		ReviewComment:   r.ReviewComment,
		ReviewAuthor:    r.ReviewAuthor,
		ReviewInSource:  r.ReviewInSource,
		DetectedAt:      r.DetectedAt,
		FixedAt:         r.FixedAt,
	}
}

func detailsResponse(d *query.ReportDetails) ReportDetailsResponse {
	resp := ReportDetailsResponse{
		Report: reportResponse(d.Report, d.FilePath),
	}

	for _, ev := range d.Details.Events {
		resp.Events = append(resp.Events, SpanDTO{
			FileID: ev.FileID, StartLine: ev.StartLine, StartCol: ev.StartCol,
			EndLine: ev.EndLine, EndCol: ev.EndCol, Message: ev.Message,
		})
	}

	for _, pos := range d.Details.Positions {
		resp.Positions = append(resp.Positions, SpanDTO{
			FileID: pos.FileID, StartLine: pos.StartLine, StartCol: pos.StartCol,
			EndLine: pos.EndLine, EndCol: pos.EndCol,
		})
	}

	for _, ext := range d.Details.Extended {
		resp.Extended = append(resp.Extended, SpanDTO{
			FileID: ext.FileID, StartLine: ext.StartLine, StartCol: ext.StartCol,
			EndLine: ext.EndLine, EndCol: ext.EndCol,
			Message: ext.Message, Kind: string(ext.Kind),
		})
	}

	for _, c := range d.Comments {
		resp.Comments = append(resp.Comments, CommentResponse{
			ID: c.ID, ReportID: c.ReportID, Author: c.Author,
			Message: c.Message, Kind: c.Kind, CreatedAt: c.CreatedAt,
		})
	}

	return resp
}

func commentResponse(c triage.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		ReportID:  c.ReportID,
		Author:    c.Author,
		Message:   c.Message,
		Kind:      c.Kind,
		CreatedAt: c.CreatedAt,
	}
}

func ruleResponse(r triage.Rule) RuleResponse {
	return RuleResponse{
		ReportHash:  r.ReportHash,
		Status:      string(r.Status),
		Message:     r.Message,
		Author:      r.Author,
		Date:        r.Date,
		ReportCount: r.ReportCount,
	}
}

func planResponse(p triage.CleanupPlan) CleanupPlanResponse {
	return CleanupPlanResponse{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		DueDate:      p.DueDate,
		ClosedAt:     p.ClosedAt,
		ReportHashes: p.Hashes,
	}
}

func taskResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		Token:         t.Token,
		Kind:          t.Kind,
		Status:        t.Status.API(),
		ProductID:     t.ProductID,
		Actor:         t.Actor,
		Summary:       t.Summary,
		EnqueuedAt:    t.EnqueuedAt,
		StartedAt:     t.StartedAt,
		CompletedAt:   t.CompletedAt,
		CancelFlag:    t.CancelFlag,
		ConsumedFlag:  t.ConsumedFlag,
		LastHeartbeat: t.LastHeartbeat,
	}
}

// ToParams converts the upload request into engine parameters.
func (r *StoreRequest) ToParams(actor string) ingest.Params {
	return ingest.Params{
		RunName:            r.RunName,
		Tag:                r.Tag,
		Description:        r.Description,
		ClientVersion:      r.ClientVersion,
		AnalysisDurationMS: r.AnalysisDurationMS,
		Data:               r.Data,
		Force:              r.Force,
		TrimPrefixes:       r.TrimPrefixes,
		Actor:              actor,
	}
}
