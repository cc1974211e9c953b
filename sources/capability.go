package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"reportpilot/cache"
	"reportpilot/config"
	"reportpilot/faults"
	"reportpilot/models"
)

// JSON-RPC 2.0 envelope as spoken by MCP-style tool servers.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	methodListTools = "tools/list"
	methodCallTool  = "tools/call"
)

type callToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type callToolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type listToolsResult struct {
	Tools []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"tools"`
}

// CapabilitySource invokes named tools on a remote server over HTTP and
// turns their JSON output into rows.
type CapabilitySource struct {
	id           string
	description  string
	baseURL      string
	httpClient   *http.Client
	reqID        int64
	capabilities []models.CapabilitySchema
	schemaCache  *cache.Cache
}

func NewCapabilitySource(cfg config.SourceConfig) *CapabilitySource {
	caps := make([]models.CapabilitySchema, len(cfg.Capabilities))
	for i, c := range cfg.Capabilities {
		caps[i] = models.CapabilitySchema{Name: c.Name, Description: c.Description}
	}
	return &CapabilitySource{
		id:           cfg.ID,
		description:  cfg.Description,
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		capabilities: caps,
		schemaCache:  cache.New(10 * time.Minute),
	}
}

func (c *CapabilitySource) ID() string   { return c.id }
func (c *CapabilitySource) Kind() string { return config.KindCapability }
func (c *CapabilitySource) Close() error { return nil }

func (c *CapabilitySource) RunQuery(ctx context.Context, query string) (*models.TabularResult, error) {
	return nil, unsupported(c.id, "query")
}

// Schema reports configured capabilities, or asks the server when none are
// configured.
func (c *CapabilitySource) Schema(ctx context.Context) (*models.SourceSchema, error) {
	schema := &models.SourceSchema{SourceID: c.id, Kind: config.KindCapability, Description: c.description}
	if len(c.capabilities) > 0 {
		schema.Capabilities = c.capabilities
		return schema, nil
	}
	if v, ok := c.schemaCache.Get("tools"); ok {
		schema.Capabilities = v.([]models.CapabilitySchema)
		return schema, nil
	}
	var result listToolsResult
	if err := c.call(ctx, methodListTools, nil, &result); err != nil {
		return nil, err
	}
	caps := make([]models.CapabilitySchema, len(result.Tools))
	for i, t := range result.Tools {
		caps[i] = models.CapabilitySchema{Name: t.Name, Description: t.Description}
	}
	c.schemaCache.SetDefault("tools", caps)
	schema.Capabilities = caps
	return schema, nil
}

func (c *CapabilitySource) Invoke(ctx context.Context, capability string, args map[string]interface{}) (*models.TabularResult, error) {
	var result callToolResult
	if err := c.call(ctx, methodCallTool, callToolParams{Name: capability, Arguments: args}, &result); err != nil {
		return nil, err
	}
	op := "invoke:" + c.id
	var text strings.Builder
	for _, content := range result.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}
	if result.IsError {
		return nil, faults.New(faults.Source, op, "tool %s failed: %s", capability, text.String())
	}
	rows, err := ParseRecords([]byte(text.String()))
	if err != nil {
		return nil, faults.Wrap(faults.Source, op, fmt.Errorf("tool %s returned unusable output: %w", capability, err))
	}
	return rows, nil
}

func (c *CapabilitySource) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	op := method + ":" + c.id
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddInt64(&c.reqID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return faults.Wrap(faults.Source, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc", bytes.NewBuffer(body))
	if err != nil {
		return faults.Wrap(faults.Source, op, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(op, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return faults.Transient(op, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode >= 500 {
		return faults.Transient(op, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(data)))
	}
	if resp.StatusCode != http.StatusOK {
		return faults.New(faults.Source, op, "HTTP error %d: %s", resp.StatusCode, string(data))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return faults.Wrap(faults.Source, op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if rpcResp.Error != nil {
		return faults.New(faults.Source, op, "RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return faults.Wrap(faults.Source, op, fmt.Errorf("failed to unmarshal result: %w", err))
		}
	}
	return nil
}

// ParseRecords accepts either {"columns": [...], "rows": [[...]]} or an array
// of flat objects. Object key order of the first record sets column order;
// keys first seen later are appended in sorted order.
func ParseRecords(data []byte) (*models.TabularResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &models.TabularResult{Rows: [][]interface{}{}}, nil
	}

	if data[0] == '{' {
		var table struct {
			Columns []string          `json:"columns"`
			Raw     []json.RawMessage `json:"rows"`
		}
		if err := json.Unmarshal(data, &table); err != nil {
			return nil, err
		}
		if table.Columns == nil {
			// a single record
			return ParseRecords(append(append([]byte{'['}, data...), ']'))
		}
		rows := make([][]interface{}, 0, len(table.Raw))
		for _, raw := range table.Raw {
			var values []interface{}
			if err := decodeNumbers(raw, &values); err != nil {
				return nil, err
			}
			if len(values) != len(table.Columns) {
				return nil, fmt.Errorf("row has %d values, want %d", len(values), len(table.Columns))
			}
			rows = append(rows, values)
		}
		return typed(table.Columns, rows), nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	var columns []string
	index := map[string]int{}
	var maps []map[string]interface{}
	for i, raw := range records {
		keys, err := objectKeys(raw)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		var fresh []string
		for _, k := range keys {
			if _, ok := index[k]; !ok {
				fresh = append(fresh, k)
			}
		}
		if i > 0 {
			sort.Strings(fresh)
		}
		for _, k := range fresh {
			index[k] = len(columns)
			columns = append(columns, k)
		}
		var m map[string]interface{}
		if err := decodeNumbers(raw, &m); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		maps = append(maps, m)
	}
	rows := make([][]interface{}, len(maps))
	for i, m := range maps {
		row := make([]interface{}, len(columns))
		for k, v := range m {
			row[index[k]] = v
		}
		rows[i] = row
	}
	return typed(columns, rows), nil
}

func decodeNumbers(raw []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// objectKeys returns the top-level keys of a JSON object in document order.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected an object")
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// typed normalizes JSON values and infers a kind per column. Nested values
// are kept as their JSON text.
func typed(columns []string, rows [][]interface{}) *models.TabularResult {
	result := &models.TabularResult{Columns: make([]models.Column, len(columns)), Rows: rows}
	for r, row := range rows {
		for c, v := range row {
			switch x := v.(type) {
			case map[string]interface{}, []interface{}:
				b, _ := json.Marshal(x)
				row[c] = string(b)
			default:
				row[c] = models.NormalizeValue(v)
			}
		}
		rows[r] = row
	}
	for c, name := range columns {
		values := make([]interface{}, len(rows))
		for r := range rows {
			values[r] = rows[r][c]
		}
		ct := models.InferKind(values)
		// integers and floats mixed in one JSON column widen to float
		if ct.Kind == models.Integer {
			for _, v := range values {
				if _, ok := v.(float64); ok {
					ct.Kind = models.Float
					break
				}
			}
		}
		ct.Kind = coerceColumn(rows, c, ct.Kind)
		result.Columns[c] = models.Column{Name: name, Type: ct}
	}
	return result
}
