// Package elastic implements the search-engine query runner for
// Elasticsearch simple term queries.
//
// The query text is a JSON envelope rather than a DSL body:
//
//	{"index": "events", "query": "status:error", "size": 500, "limit": 2000,
//	 "fields": ["status", "host"], "sort": "timestamp:desc"}
//
// Only simple string queries are supported; a structured query value is an
// unsupported shape. Results are fetched page by page with from/size and
// aggregated up to the caller's row ceiling, never unboundedly.
package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redbeam/redbeam/errors"
	"github.com/redbeam/redbeam/internal/httpclient"
	"github.com/redbeam/redbeam/runner"
	"github.com/redbeam/redbeam/types"
)

// TypeName is the backend type identifier this runner registers under.
const TypeName = "elasticsearch"

// defaultPageSize is the per-page hit count when the query names none.
const defaultPageSize = 500

// typesMapping translates Elasticsearch property types to the canonical
// types. Unmapped property types degrade to string.
var typesMapping = map[string]types.ColumnType{
	"integer": types.TypeInteger,
	"long":    types.TypeInteger,
	"float":   types.TypeFloat,
	"double":  types.TypeFloat,
	"boolean": types.TypeBoolean,
	"string":  types.TypeString,
	"keyword": types.TypeString,
	"text":    types.TypeString,
	"date":    types.TypeDate,
	"object":  types.TypeString,
}

// builtinFieldsMapping renames hit metadata fields to friendly columns.
var builtinFieldsMapping = map[string]string{
	"_id":    "Id",
	"_score": "Score",
}

func schema() runner.Schema {
	return runner.Schema{
		"server":              {Type: runner.FieldString, Title: "Base URL", Required: true},
		"basic_auth_user":     {Type: runner.FieldString, Title: "Basic Auth User"},
		"basic_auth_password": {Type: runner.FieldString, Title: "Basic Auth Password", Secret: true},
		"block_private_addresses": {
			Type:    runner.FieldBoolean,
			Title:   "Refuse private and link-local server addresses",
			Default: false,
		},
	}
}

// httpDoer is the slice of http.Client the runner needs.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Runner executes simple search queries against one Elasticsearch server.
type Runner struct {
	serverURL string
	authUser  string
	authPass  string
	client    httpDoer
}

// New validates cfg and builds a runner.
func New(cfg runner.Configuration) (runner.QueryRunner, error) {
	s := schema()
	if err := s.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "elasticsearch runner")
	}

	var client httpDoer = &http.Client{Timeout: 30 * time.Second}
	if s.GetBool(cfg, "block_private_addresses", false) {
		client = httpclient.New(30*time.Second, httpclient.Options{BlockPrivateAddresses: true})
	}

	return &Runner{
		serverURL: strings.TrimRight(s.GetString(cfg, "server", ""), "/"),
		authUser:  s.GetString(cfg, "basic_auth_user", ""),
		authPass:  s.GetString(cfg, "basic_auth_password", ""),
		client:    client,
	}, nil
}

func (r *Runner) Type() string        { return TypeName }
func (r *Runner) Enabled() bool       { return true }
func (r *Runner) AnnotateQuery() bool { return false }

// queryEnvelope is the parsed JSON query text.
type queryEnvelope struct {
	Index  string          `json:"index"`
	Query  json.RawMessage `json:"query"`
	Size   int             `json:"size"`
	Limit  int             `json:"limit"`
	Fields []string        `json:"fields"`
	Sort   string          `json:"sort"`
}

// searchResponse is the subset of the _search reply we consume.
type searchResponse struct {
	Hits struct {
		Hits []hit `json:"hits"`
	} `json:"hits"`
}

type hit struct {
	ID     string                     `json:"_id"`
	Score  *float64                   `json:"_score"`
	Source map[string]json.RawMessage `json:"_source"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Run fetches index mappings for the type table, then pages through
// search results aggregating hits until the query limit or the caller's
// row ceiling is reached. Cancellation is checked between pages.
func (r *Runner) Run(ctx context.Context, query string, opts runner.RunOptions) (*runner.ResultData, error) {
	var env queryEnvelope
	if err := json.Unmarshal([]byte(query), &env); err != nil {
		return nil, errors.Wrapf(errors.ErrUnsupportedQuery, "query text is not a JSON search envelope: %v", err)
	}

	var simpleQuery string
	if err := json.Unmarshal(env.Query, &simpleQuery); err != nil {
		return nil, errors.Wrap(errors.ErrUnsupportedQuery, "advanced queries are not supported")
	}

	if env.Size <= 0 {
		env.Size = defaultPageSize
	}
	limit := env.Limit
	if limit <= 0 || limit > opts.RowLimit() {
		limit = opts.RowLimit()
	}

	mappings, err := r.fetchMappings(ctx, env.Index)
	if err != nil {
		return nil, err
	}

	resultFields := make(map[string]struct{}, len(env.Fields))
	for _, f := range env.Fields {
		resultFields[f] = struct{}{}
	}

	p := newResultParser(mappings, resultFields)

	from := 0
	for from < limit {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.ErrCancelled, ctx.Err().Error())
		default:
		}

		pageSize := env.Size
		if from+pageSize > limit {
			pageSize = limit - from
		}

		page, err := r.searchPage(ctx, env.Index, simpleQuery, env.Sort, from, pageSize)
		if err != nil {
			return nil, err
		}

		p.addHits(page.Hits.Hits)
		if len(page.Hits.Hits) < pageSize {
			break // index exhausted
		}
		from += pageSize
	}

	return p.result(), nil
}

func (r *Runner) searchPage(ctx context.Context, index, query, sort string, from, size int) (*searchResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("from", fmt.Sprintf("%d", from))
	params.Set("size", fmt.Sprintf("%d", size))
	if sort != "" {
		params.Set("sort", sort)
	}
	searchURL := fmt.Sprintf("%s/%s/_search?%s", r.serverURL, url.PathEscape(index), params.Encode())

	body, err := r.get(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrapf(errors.ErrExecution, "malformed search response: %v", err)
	}
	return &resp, nil
}

// fetchMappings reads the index property mappings and builds the column
// type table. Properties with types outside the mapping degrade to string.
func (r *Runner) fetchMappings(ctx context.Context, index string) (map[string]types.ColumnType, error) {
	body, err := r.get(ctx, fmt.Sprintf("%s/%s/_mapping", r.serverURL, url.PathEscape(index)))
	if err != nil {
		return nil, err
	}

	var raw map[string]struct {
		Mappings map[string]struct {
			Properties map[string]struct {
				Type string `json:"type"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrapf(errors.ErrExecution, "malformed mapping response: %v", err)
	}

	mappings := make(map[string]types.ColumnType)
	for _, idx := range raw {
		for _, m := range idx.Mappings {
			for name, prop := range m.Properties {
				if _, seen := mappings[name]; seen {
					continue
				}
				if t, ok := typesMapping[prop.Type]; ok {
					mappings[name] = t
				} else {
					mappings[name] = types.TypeString
				}
			}
		}
	}
	return mappings, nil
}

func (r *Runner) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnection, err.Error())
	}
	if r.authUser != "" && r.authPass != "" {
		req.SetBasicAuth(r.authUser, r.authPass)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.ErrCancelled, err.Error())
		}
		return nil, errors.Wrap(errors.ErrConnection, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnection, err.Error())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.ErrExecution,
			"failed to execute query, return code %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// resultParser accumulates normalized columns and rows across pages.
// Columns appear in first-seen order; built-in hit fields come first
// within each row's discovery order.
type resultParser struct {
	mappings     map[string]types.ColumnType
	resultFields map[string]struct{}
	columns      []types.Column
	columnIndex  map[string]struct{}
	rows         []types.Row
}

func newResultParser(mappings map[string]types.ColumnType, resultFields map[string]struct{}) *resultParser {
	return &resultParser{
		mappings:     mappings,
		resultFields: resultFields,
		columnIndex:  map[string]struct{}{},
		rows:         []types.Row{},
	}
}

func (p *resultParser) addColumn(sourceField, name string) {
	if _, ok := p.columnIndex[name]; ok {
		return
	}
	t, ok := p.mappings[sourceField]
	if !ok {
		t = types.TypeString
	}
	p.columns = append(p.columns, types.NewColumn(name, t))
	p.columnIndex[name] = struct{}{}
}

func (p *resultParser) addHits(hits []hit) {
	for _, h := range hits {
		row := types.Row{}

		if h.ID != "" {
			p.addColumn("_id", builtinFieldsMapping["_id"])
			row[builtinFieldsMapping["_id"]] = h.ID
		}
		if h.Score != nil {
			p.addColumn("_score", builtinFieldsMapping["_score"])
			row[builtinFieldsMapping["_score"]] = *h.Score
		}

		source := h.Source
		if source == nil {
			source = h.Fields
		}
		for field, raw := range source {
			if len(p.resultFields) > 0 {
				if _, wanted := p.resultFields[field]; !wanted {
					continue
				}
			}
			p.addColumn(field, field)
			row[field] = decodeValue(raw)
		}

		if len(row) > 0 {
			p.rows = append(p.rows, row)
		}
	}
}

func (p *resultParser) result() *runner.ResultData {
	cols := p.columns
	if cols == nil {
		cols = []types.Column{}
	}
	return &runner.ResultData{Columns: cols, Rows: p.rows}
}

// decodeValue unwraps a JSON value; a single-element array collapses to
// its element (the stored-fields response shape).
func decodeValue(raw json.RawMessage) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if list, ok := v.([]interface{}); ok && len(list) == 1 {
		return list[0]
	}
	return v
}

func init() {
	runner.Register(runner.Registration{
		Name:   TypeName,
		New:    New,
		Schema: schema,
	})
}
