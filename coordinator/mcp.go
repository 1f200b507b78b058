package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the form-completion tools on an MCP server, so an
// agent can drive the same pipeline the focus observer does.
func (c *Coordinator) RegisterMCP(srv *mcp.Server) {
	c.registerFillFormTool(srv)
	c.registerListFormsTool(srv)
	c.registerGetFormTool(srv)
	c.registerAbortTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool wires decode → endpoint → JSON text content, reporting failures
// through the tool result rather than the protocol error channel.
func addTool(srv *mcp.Server, tool *mcp.Tool, decode func(*mcp.CallToolRequest) (any, error), endpoint func(context.Context, any) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decoded, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := endpoint(ctx, decoded)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// --- fill_form ---

type fillFormRequest struct {
	FormID string `json:"form_id,omitempty"`
	URL    string `json:"url,omitempty"`
}

func (c *Coordinator) registerFillFormTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "formbutler_fill_form",
		Description: "Run form completion. Without arguments targets the currently focused form; with form_id and url targets a known form. Cached plans are reused when enabled.",
		InputSchema: inputSchema(map[string]any{
			"form_id": map[string]any{"type": "string", "description": "Form id as reported by the focus observer"},
			"url":     map[string]any{"type": "string", "description": "Normalized page URL the form was seen on"},
		}, nil),
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var rr fillFormRequest
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
				return nil, err
			}
		}
		return &rr, nil
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*fillFormRequest)
		if rr.FormID == "" {
			if err := c.OnTrigger(ctx); err != nil {
				return nil, err
			}
			return map[string]string{"status": "triggered", "target": "focused"}, nil
		}
		rec, err := c.reg.Get(ctx, rr.FormID, rr.URL)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("no known form %q at %q", rr.FormID, rr.URL)
		}
		if err := c.trigger(ctx, rec); err != nil {
			return nil, err
		}
		return map[string]string{"status": "triggered", "form_id": rec.ID}, nil
	}

	addTool(srv, tool, decode, endpoint)
}

// --- list_forms ---

func (c *Coordinator) registerListFormsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "formbutler_list_forms",
		Description: "List the forms seen in this browsing session: id, url, focus state, and whether a fill plan is cached.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	decode := func(_ *mcp.CallToolRequest) (any, error) { return nil, nil }

	endpoint := func(ctx context.Context, _ any) (any, error) {
		records, err := c.reg.List(ctx)
		if err != nil {
			return nil, err
		}
		type summary struct {
			FormID       string `json:"form_id"`
			URL          string `json:"url"`
			Focused      bool   `json:"focused"`
			Fulfilled    bool   `json:"fulfilled"`
			Instructions int    `json:"instructions"`
		}
		out := make([]summary, 0, len(records))
		for _, rec := range records {
			out = append(out, summary{
				FormID:       rec.ID,
				URL:          rec.URL,
				Focused:      rec.Focused,
				Fulfilled:    rec.Fulfilled,
				Instructions: len(rec.FillInstructions),
			})
		}
		return out, nil
	}

	addTool(srv, tool, decode, endpoint)
}

// --- get_form ---

type getFormRequest struct {
	FormID string `json:"form_id"`
	URL    string `json:"url"`
}

func (c *Coordinator) registerGetFormTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "formbutler_get_form",
		Description: "Get a form record by id and url, including its sanitized body and any cached fill instructions. Card placeholders stay unresolved.",
		InputSchema: inputSchema(map[string]any{
			"form_id": map[string]any{"type": "string", "description": "Form id"},
			"url":     map[string]any{"type": "string", "description": "Normalized page URL"},
		}, []string{"form_id", "url"}),
	}

	decode := func(req *mcp.CallToolRequest) (any, error) {
		var rr getFormRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		if rr.FormID == "" {
			return nil, errors.New("form_id is required")
		}
		return &rr, nil
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*getFormRequest)
		rec, err := c.reg.Get(ctx, rr.FormID, rr.URL)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("no known form %q at %q", rr.FormID, rr.URL)
		}
		return rec, nil
	}

	addTool(srv, tool, decode, endpoint)
}

// --- abort ---

func (c *Coordinator) registerAbortTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "formbutler_abort",
		Description: "Cancel the in-flight model request, if any.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	decode := func(_ *mcp.CallToolRequest) (any, error) { return nil, nil }

	endpoint := func(_ context.Context, _ any) (any, error) {
		c.Abort()
		return map[string]string{"status": "aborted"}, nil
	}

	addTool(srv, tool, decode, endpoint)
}
