package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"reportpilot/models"
)

// BuildIntentPrompt asks the model to pick one strategy for the turn.
func BuildIntentPrompt(req IntentRequest) (string, string) {
	var sys strings.Builder
	sys.WriteString("You route requests in a conversational reporting assistant. Pick exactly one strategy for the latest user message.\n\n")
	sys.WriteString("Strategies:\n")
	sys.WriteString("- conversation: greetings, questions about the assistant, or requests too vague to act on. Answer in \"reply\".\n")
	sys.WriteString("- reuse_rechart: show the previous result differently (another chart type, title, axes) without changing the rows.\n")
	sys.WriteString("- filter_existing: narrow, sort, limit or aggregate the previous result (\"only region X\", \"top 5\").\n")
	sys.WriteString("- full_query: needs data that has not been retrieved yet.\n")
	sys.WriteString("- data_only: the user wants the raw rows or a table, no chart.\n\n")
	sys.WriteString("Rules:\n")
	sys.WriteString("1. reuse_rechart and filter_existing are only possible when a previous result exists.\n")
	sys.WriteString("2. If the message is ambiguous or needs guidance, set \"ambiguous\": true, write a clarifying \"reply\" and up to 3 \"suggestions\".\n")
	sys.WriteString("3. \"refined_query\" restates the request as a standalone sentence using the conversation context.\n")
	sys.WriteString("4. If the user names a chart type, put it in \"chart_kind\" (table, text, bar, line, area, pie, scatter, radar, parallel, heatmap).\n\n")
	sys.WriteString("Return ONLY a JSON object:\n")
	sys.WriteString(`{"strategy": "full_query", "ambiguous": false, "reply": "", "suggestions": [], "refined_query": "", "chart_kind": ""}`)

	var user strings.Builder
	user.WriteString("--- Session ---\n")
	user.WriteString(fmt.Sprintf("Previous result available: %t\n", req.HasTable))
	if req.LastChartKind != "" {
		user.WriteString(fmt.Sprintf("Last chart kind: %s\n", req.LastChartKind))
	}
	user.WriteString(fmt.Sprintf("Turns so far: %d\n", req.TurnCount))
	writeHistory(&user, req.Summary, req.RecentTurns)
	user.WriteString("\n--- User Message ---\n")
	user.WriteString(req.Query)
	return sys.String(), user.String()
}

// BuildPlanPrompt describes every reachable table and capability and asks
// for a QueryPlan.
func BuildPlanPrompt(req PlanRequest) (string, string) {
	var sys strings.Builder
	sys.WriteString("You are a data query planner. Produce an execution plan for the user's request.\n\n")

	if len(req.WorkingSet) > 0 {
		sys.WriteString("## Earlier results in this conversation\n")
		sys.WriteString(fmt.Sprintf("Address these with source_id %q.\n\n", models.WorkingSetSourceID))
		for _, t := range req.WorkingSet {
			writeTable(&sys, t)
		}
	}
	if !req.WorkingSetOnly {
		for _, s := range req.Sources {
			sys.WriteString(fmt.Sprintf("## Source %s (%s)\n", s.SourceID, s.Kind))
			if s.Description != "" {
				sys.WriteString(s.Description + "\n")
			}
			for _, t := range s.Tables {
				writeTable(&sys, t)
			}
			for _, c := range s.Capabilities {
				sys.WriteString(fmt.Sprintf("- capability %s: %s\n", c.Name, c.Description))
			}
			sys.WriteString("\n")
		}
	}

	sys.WriteString("Return ONLY a JSON object:\n")
	sys.WriteString(`{
  "no_match": false,
  "user_message": "",
  "steps": [
    {"name": "step_alias", "kind": "query", "source_id": "source id", "sql": "SELECT ...", "tables": ["table"], "optional": false},
    {"name": "other_alias", "kind": "invoke", "source_id": "source id", "capability": "name", "args": {}}
  ],
  "combination_query": ""
}`)
	sys.WriteString("\n\nRules:\n")
	sys.WriteString("1. If nothing available can answer the request, set no_match=true, explain in user_message and leave steps empty.\n")
	sys.WriteString("2. Only SELECT statements. Name computed columns with AS, using lowercase letters and underscores.\n")
	sys.WriteString("3. Step names are unique identifiers. Later steps cannot read earlier steps; use subqueries or CTEs inside one statement instead.\n")
	sys.WriteString("4. When more than one step returns rows, combination_query is a SQLite SELECT over the step names as tables.\n")
	sys.WriteString("5. Mark a step optional only if the answer is still useful without it.\n")
	if req.WorkingSetOnly {
		sys.WriteString(fmt.Sprintf("6. Use exactly one step, kind query, source_id %q, reading exactly one of the earlier result tables. No combination_query.\n", models.WorkingSetSourceID))
	}

	var user strings.Builder
	writeHistory(&user, req.Summary, req.RecentTurns)
	user.WriteString("\n--- User Request ---\n")
	user.WriteString(req.Query)
	return sys.String(), user.String()
}

func BuildCombinationPrompt(query string, tables []models.TableSchema) (string, string) {
	var sys strings.Builder
	sys.WriteString("You are a SQL expert. Write one SQLite SELECT that combines the tables below to answer the request.\n\n")
	for _, t := range tables {
		writeTable(&sys, t)
	}
	sys.WriteString("\nRules:\n")
	sys.WriteString("1. SQLite syntax only, a single SELECT (CTEs allowed).\n")
	sys.WriteString("2. Alias conflicting column names.\n")
	sys.WriteString("3. Name computed columns with AS.\n\n")
	sys.WriteString("Return ONLY a JSON object: {\"sql\": \"SELECT ...\", \"explanation\": \"...\"}")
	return sys.String(), "--- User Request ---\n" + query
}

// BuildChartPrompt lists column shape only; no values ever reach the model.
func BuildChartPrompt(req ChartRequest) (string, string) {
	var sys strings.Builder
	sys.WriteString("You are a data visualization expert. Choose how to present a query result.\n\n")
	sys.WriteString("Kinds: table, text, bar, line, area, pie, scatter, radar, parallel, heatmap.\n")
	sys.WriteString("- text: a single value or a short answer. Summary may use {{DATA_PLACEHOLDER}} for the first value.\n")
	sys.WriteString("- bar/line/area/pie: one category column and one or more value columns.\n")
	sys.WriteString("- scatter: x and y numeric columns, optional size and label.\n")
	sys.WriteString("- radar/parallel: one label column and several numeric value columns compared across items.\n")
	sys.WriteString("- heatmap: x, y and one value column.\n\n")
	sys.WriteString("Roles: category, value, series, x, y, label, size. Bind only columns that exist.\n")
	sys.WriteString("The summary may reference the first row with {{DATA_PLACEHOLDER_1}}, {{DATA_PLACEHOLDER_2}}, ...\n\n")
	sys.WriteString("Return ONLY a JSON object:\n")
	sys.WriteString(`{"kind": "bar", "title": "...", "bindings": [{"column": "region", "role": "category"}, {"column": "sales", "role": "value"}], "summary": "..."}`)

	var user strings.Builder
	user.WriteString(fmt.Sprintf("Rows: %d\nColumns:\n", req.RowCount))
	for _, c := range req.Columns {
		user.WriteString(fmt.Sprintf("  - %s (%s)\n", c.Name, c.Type))
	}
	if req.PreferKind != "" {
		user.WriteString(fmt.Sprintf("The user asked for a %s chart.\n", req.PreferKind))
	}
	user.WriteString("\n--- User Request ---\n")
	user.WriteString(req.Query)
	return sys.String(), user.String()
}

func BuildSummaryPrompt(previous string, turns []models.Turn) (string, string) {
	sys := "You compress conversation history into a short summary.\n\n" +
		"Keep: what the user asked for, which data and report types were produced, data sources, time ranges and filters.\n" +
		"Drop: pleasantries and repetition.\n\n" +
		"Return ONLY a JSON object: {\"summary\": \"...\", \"key_points\": [\"...\"]}"
	var user strings.Builder
	if previous != "" {
		user.WriteString("Earlier summary:\n")
		user.WriteString(previous)
		user.WriteString("\n\n")
	}
	user.WriteString("Turns to fold in:\n")
	for _, t := range turns {
		user.WriteString(fmt.Sprintf("User: %s\nAssistant (%s): %s\n\n", t.Query, t.Strategy, t.Summary))
	}
	return sys, user.String()
}

func writeTable(b *strings.Builder, t models.TableSchema) {
	b.WriteString(fmt.Sprintf("### %s", t.Name))
	if t.RowCount > 0 {
		b.WriteString(fmt.Sprintf(" (%d rows)", t.RowCount))
	}
	b.WriteString("\n")
	for _, c := range t.Columns {
		b.WriteString(fmt.Sprintf("  - %s (%s)\n", c.Name, c.Type))
	}
}

func writeHistory(b *strings.Builder, summary string, turns []models.Turn) {
	if summary != "" {
		b.WriteString("Earlier conversation (summarized): ")
		b.WriteString(summary)
		b.WriteString("\n")
	}
	if len(turns) == 0 {
		return
	}
	b.WriteString("Recent turns:\n")
	for _, t := range turns {
		line, _ := json.Marshal(t)
		b.Write(line)
		b.WriteString("\n")
	}
}
