package tool

import (
	"context"
	"errors"
	"net/http"

	"github.com/hupe1980/agentcrew/code"
)

// Built-in tool names.
const (
	NameWebSearch   = "web_search"
	NameFetchURL    = "fetch_url"
	NameExecuteCode = "execute_code"
)

type webSearchArgs struct {
	Query      string `json:"query" description:"Search terms"`
	MaxResults int    `json:"max_results,omitempty" description:"Maximum number of hits"`
}

type fetchURLArgs struct {
	URL string `json:"url" description:"Absolute http(s) URL"`
}

type executeCodeArgs struct {
	Code string `json:"code" description:"Python source to run"`
}

// NewWebSearchTool exposes s as the web_search tool.
func NewWebSearchTool(s Searcher) *FunctionTool {
	return NewFunctionToolFromStruct(NameWebSearch, "Search the web and return the top hits", webSearchArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			return s.Search(ctx, query, intArg(args, "max_results"))
		})
}

// NewFetchURLTool exposes f as the fetch_url tool.
func NewFetchURLTool(f Fetcher) *FunctionTool {
	return NewFunctionToolFromStruct(NameFetchURL, "Fetch the content behind a URL", fetchURLArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			u, _ := args["url"].(string)
			return f.Fetch(ctx, u)
		})
}

// NewExecuteCodeTool exposes ex as the execute_code tool.
func NewExecuteCodeTool(ex code.Executor) *FunctionTool {
	return NewFunctionToolFromStruct(NameExecuteCode, "Run a Python snippet and return its output", executeCodeArgs{},
		func(ctx context.Context, args map[string]any) (any, error) {
			src, _ := args["code"].(string)
			res, err := ex.Execute(ctx, src)
			if err != nil {
				var execErr *code.ExecutionError
				if errors.As(err, &execErr) {
					return nil, &ToolError{Tool: NameExecuteCode, Message: execErr.Error(), Code: CodeExecution, Details: res}
				}
				return nil, err
			}
			return map[string]any{
				"output":      res.Output,
				"exit_code":   res.ExitCode,
				"duration_ms": res.Duration.Milliseconds(),
			}, nil
		})
}

// LiveOptions configure the live tool set.
type LiveOptions struct {
	SearchEndpoint string
	HTTPClient     *http.Client
	MaxFetchBytes  int64
	Executor       code.Executor
}

// NewLiveTools builds the live tool set. web_search is only registered when
// a search endpoint is configured.
func NewLiveTools(optFns ...func(o *LiveOptions)) []Tool {
	opts := LiveOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Executor == nil {
		opts.Executor = code.NewProcessExecutor()
	}
	tools := []Tool{
		NewFetchURLTool(&HTTPFetcher{Client: opts.HTTPClient, MaxBytes: opts.MaxFetchBytes}),
		NewExecuteCodeTool(opts.Executor),
	}
	if opts.SearchEndpoint != "" {
		tools = append(tools, NewWebSearchTool(&HTTPSearcher{Endpoint: opts.SearchEndpoint, Client: opts.HTTPClient}))
	}
	return tools
}

// NewSimulatedTools builds the deterministic tool set.
func NewSimulatedTools() []Tool {
	return []Tool{
		NewWebSearchTool(SimulatedSearcher{}),
		NewFetchURLTool(SimulatedFetcher{}),
		NewExecuteCodeTool(code.NewSimulated()),
	}
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
