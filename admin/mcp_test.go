package admin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/blockreasons/store"
)

var testImpl = &mcp.Implementation{Name: "blockreasons-test", Version: "0.1.0"}

// mcpSession registers the admin tools and returns a connected client
// session that can call them end-to-end.
func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	svc, _ := testService(t)

	srv := mcp.NewServer(testImpl, nil)
	svc.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() {
		_ = srv.Run(ctx, serverT)
	}()

	session, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool invokes a tool and returns the JSON text from the first TextContent.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if len(result.Content) == 0 {
		t.Fatalf("CallTool(%s): empty content", name)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent, got %T", name, result.Content[0])
	}
	return tc.Text, result.IsError
}

func TestMCP_ListTools(t *testing.T) {
	session := mcpSession(t)
	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"blockreasons_lookup":     false,
		"blockreasons_search":     false,
		"blockreasons_stats":      false,
		"blockreasons_categories": false,
	}
	for _, tool := range res.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestMCP_Lookup(t *testing.T) {
	session := mcpSession(t)

	text, isErr := callTool(t, session, "blockreasons_lookup", map[string]any{"username": "@ALICE"})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var rec store.BlockRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Username != "Alice" || rec.Reason != "rage bait" {
		t.Fatalf("record = %+v", rec)
	}

	if _, isErr := callTool(t, session, "blockreasons_lookup", map[string]any{"username": "nobody"}); !isErr {
		t.Error("expected tool error for unknown user")
	}
	if _, isErr := callTool(t, session, "blockreasons_lookup", map[string]any{}); !isErr {
		t.Error("expected tool error for missing username")
	}
}

func TestMCP_SearchStatsCategories(t *testing.T) {
	session := mcpSession(t)

	text, _ := callTool(t, session, "blockreasons_search", map[string]any{"query": "spam"})
	var recs []store.BlockRecord
	if err := json.Unmarshal([]byte(text), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Username != "bob" {
		t.Fatalf("search = %+v", recs)
	}

	text, _ = callTool(t, session, "blockreasons_stats", map[string]any{})
	var st store.Stats
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 {
		t.Fatalf("stats = %+v", st)
	}

	text, _ = callTool(t, session, "blockreasons_categories", map[string]any{})
	var cats []store.Category
	if err := json.Unmarshal([]byte(text), &cats); err != nil {
		t.Fatal(err)
	}
	if len(cats) != len(store.DefaultCategories) {
		t.Fatalf("categories = %+v", cats)
	}
}
