// Package mcp exposes the family profile to MCP-capable assistants: read
// tools over the backend profile data plus local markdown rendering for
// guidance content.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/draft"
	"github.com/nestapp/nest/internal/markdown"
)

// ProfileFetcher abstracts the backend reads the MCP layer needs.
type ProfileFetcher interface {
	FetchParent(ctx context.Context) (*api.Parent, error)
	FetchChildren(ctx context.Context) ([]api.Child, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	Backend ProfileFetcher
}

// NewServer creates an MCP server with all nest tools and resources
// registered.
func NewServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"nest",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("nest — family profile data and parenting guidance rendering."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_parent_profile",
			mcp.WithDescription("Return the parent profile (nickname, role, address) as JSON. Empty result means setup has not been completed."),
		),
		toolGetParentProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("list_children",
			mcp.WithDescription("Return the registered children with their ages, interests, characteristics, and current challenges."),
		),
		toolListChildren(deps),
	)

	s.AddTool(
		mcp.NewTool("render_content",
			mcp.WithDescription("Render markdown guidance content (headings, lists, bold/italic) to sanitized HTML."),
			mcp.WithString("markdown", mcp.Description("The markdown source to render"), mcp.Required()),
		),
		toolRenderContent(),
	)

	s.AddResource(
		mcp.NewResource(
			"nest://family",
			"Family Profile",
			mcp.WithResourceDescription("Parent profile and children as a single JSON document"),
			mcp.WithMIMEType("application/json"),
		),
		resourceFamily(deps),
	)

	return s
}

func toolGetParentProfile(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		parent, err := deps.Backend.FetchParent(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("fetching parent profile failed: %v", err)), nil
		}
		if parent == nil {
			return mcpText("{}"), nil
		}
		b, err := json.Marshal(parent)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func toolListChildren(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		children, err := deps.Backend.FetchChildren(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("fetching children failed: %v", err)), nil
		}
		if len(children) == 0 {
			return mcpText("[]"), nil
		}

		type childResult struct {
			ID             string   `json:"id"`
			Name           string   `json:"name"`
			Birthdate      string   `json:"birthdate,omitempty"`
			Age            *int     `json:"age,omitempty"`
			Gender         string   `json:"gender,omitempty"`
			Stage          string   `json:"developmental_stage,omitempty"`
			Education      string   `json:"education_level,omitempty"`
			Interests      []string `json:"interests,omitempty"`
			Traits         []string `json:"characteristics,omitempty"`
			Considerations []string `json:"special_considerations,omitempty"`
			Challenges     []string `json:"current_challenges,omitempty"`
		}

		now := time.Now()
		results := make([]childResult, len(children))
		for i, c := range children {
			results[i] = childResult{
				ID:             string(c.ID),
				Name:           c.Name,
				Birthdate:      c.Birthdate,
				Gender:         c.Gender,
				Stage:          c.Stage,
				Education:      c.Education,
				Interests:      c.Interests,
				Traits:         c.Traits,
				Considerations: c.Considerations,
				Challenges:     c.Challenges,
			}
			d := draft.Child{Birthdate: c.Birthdate}
			if age, ok := d.Age(now); ok {
				results[i].Age = &age
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal children: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func toolRenderContent() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		src, err := req.RequireString("markdown")
		if err != nil {
			return mcpError("markdown is required"), nil
		}
		return mcpText(markdown.Render(src)), nil
	}
}

func resourceFamily(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		parent, err := deps.Backend.FetchParent(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching parent profile: %w", err)
		}
		children, err := deps.Backend.FetchChildren(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching children: %w", err)
		}
		if children == nil {
			children = []api.Child{}
		}

		b, err := json.Marshal(map[string]any{
			"parent":   parent,
			"children": children,
		})
		if err != nil {
			return nil, fmt.Errorf("marshalling family profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
